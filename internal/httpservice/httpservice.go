// Package httpservice is the HTTP service delegating its functional calls to the flow engine.
package httpservice

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/ubuntu/decorate"
	"github.com/ubuntu/oauth-flows/internal/credentials"
	"github.com/ubuntu/oauth-flows/internal/flow"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// Engine runs the authorization flows.
type Engine interface {
	Providers() []flow.ProviderInfo
	BeginAuthorization(ctx context.Context, req flow.AuthorizationRequest) (string, error)
	CompleteAuthorization(ctx context.Context, req flow.CallbackRequest) (credentials.Credential, map[string]string, error)
}

// Service is the handler exposing the engine over HTTP.
type Service struct {
	engine Engine

	server   *http.Server
	listener net.Listener
}

// New returns a new HTTP service listening on addr.
func New(_ context.Context, addr string, engine Engine) (s *Service, err error) {
	defer decorate.OnError(&err, "can't create http service")

	if engine == nil {
		return nil, errors.New("no flow engine provided")
	}

	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	s = &Service{
		engine:   engine,
		listener: l,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/providers", s.handleProviders)
	mux.HandleFunc("POST /v1/oauth/consent_url", s.handleConsentURL)
	mux.HandleFunc("POST /v1/oauth/complete", s.handleComplete)

	s.server = &http.Server{
		Handler:           logRequests(mux),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	return s, nil
}

// Addr returns the address of the service.
func (s *Service) Addr() string {
	return s.listener.Addr().String()
}

// Serve serves requests until the service is stopped.
func (s *Service) Serve() error {
	if err := s.server.Serve(s.listener); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the service, waiting a bounded time for in-flight requests.
func (s *Service) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.server.Shutdown(ctx)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.Debug("Handled request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", time.Since(start))
	})
}
