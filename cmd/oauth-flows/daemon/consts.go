package daemon

import "time"

// Backends selectable in the configuration.
const (
	// stateBackendMemory keeps pending attempts in process memory.
	stateBackendMemory = "memory"
	// stateBackendRedis shares pending attempts between instances through redis.
	stateBackendRedis = "redis"

	// storageBackendFiles stores one credential file per workspace and provider.
	storageBackendFiles = "files"
	// storageBackendSQLite stores credentials in a database inside the data directory.
	storageBackendSQLite = "sqlite"
)

const (
	// sqliteFileName is the name of the credential database in the data directory.
	sqliteFileName = "credentials.db"
	// attemptPurgeInterval is how often expired attempts are dropped from memory.
	attemptPurgeInterval = time.Minute
)
