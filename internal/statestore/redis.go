package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ubuntu/decorate"
)

const redisKeyPrefix = "oauth-flows:attempt:"

// Redis stores attempts in a Redis server, shared by all daemon instances.
type Redis struct {
	client *redis.Client
}

// NewRedis returns a store over client. Close closes the client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// DialRedis connects to the Redis server at addr and checks it is reachable.
func DialRedis(ctx context.Context, addr string) (r *Redis, err error) {
	defer decorate.OnError(&err, "can't connect to redis at %s", addr)

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return NewRedis(client), nil
}

// Save records the attempt with ttl as the key expiry.
func (r *Redis) Save(ctx context.Context, a Attempt, ttl time.Duration) (err error) {
	defer decorate.OnError(&err, "can't save attempt")

	if a.State == "" {
		return errors.New("attempt has no state")
	}
	if ttl <= 0 {
		return errors.New("attempt ttl must be positive")
	}

	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, redisKeyPrefix+a.State, data, ttl).Err()
}

// Consume returns and removes the attempt for state with a single GETDEL.
func (r *Redis) Consume(ctx context.Context, state string) (a *Attempt, err error) {
	defer decorate.OnError(&err, "can't consume attempt")

	data, err := r.client.GetDel(ctx, redisKeyPrefix+state).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	a = &Attempt{}
	if err := json.Unmarshal(data, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}
