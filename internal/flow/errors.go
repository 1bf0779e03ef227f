package flow

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"

	"golang.org/x/oauth2"
)

var (
	// ErrUnknownProvider is returned when no flow is registered under the requested provider name.
	ErrUnknownProvider = errors.New("unknown provider")
	// ErrConfigurationMissing is returned when the workspace has no client for the provider.
	ErrConfigurationMissing = errors.New("client configuration is missing")
	// ErrInvalidState is returned when the callback state is unknown, already used, expired or
	// issued for another workspace or provider.
	ErrInvalidState = errors.New("invalid authorization state")
	// ErrExchangeFailed is returned when the token endpoint rejected the code or answered with an
	// unusable response.
	ErrExchangeFailed = errors.New("token exchange failed")
	// ErrTransport is returned when the provider could not be reached in time.
	ErrTransport = errors.New("could not reach provider")
	// ErrInvalidRequest is returned for missing or malformed caller input.
	ErrInvalidRequest = errors.New("invalid request")
)

// ExchangeError details a failed token exchange. It matches ErrExchangeFailed.
type ExchangeError struct {
	// Code and Description are the error and error_description returned by the provider, if any.
	Code        string
	Description string
	Err         error
}

func (e *ExchangeError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("%v: %v", ErrExchangeFailed, e.Err)
	}
	msg := fmt.Sprintf("%v: provider answered %q", ErrExchangeFailed, e.Code)
	if e.Description != "" {
		msg += fmt.Sprintf(" (%s)", e.Description)
	}
	return msg
}

// Unwrap exposes both the sentinel and the underlying error.
func (e *ExchangeError) Unwrap() []error {
	return []error{ErrExchangeFailed, e.Err}
}

func classifyExchangeError(err error) error {
	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) {
		return &ExchangeError{Code: rErr.ErrorCode, Description: rErr.ErrorDescription, Err: err}
	}
	if isTransportError(err) {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	return &ExchangeError{Err: err}
}

func isTransportError(err error) bool {
	var urlErr *url.Error
	var netErr net.Error
	return errors.As(err, &urlErr) || errors.As(err, &netErr) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}
