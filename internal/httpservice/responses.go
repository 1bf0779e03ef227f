package httpservice

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ubuntu/oauth-flows/internal/flow"
)

// Error codes returned in the "error" field of failed responses.
const (
	codeInvalidRequest       = "invalid_request"
	codeUnknownProvider      = "unknown_provider"
	codeConfigurationMissing = "configuration_missing"
	codeInvalidState         = "invalid_state"
	codeExchangeFailed       = "exchange_failed"
	codeTransportError       = "transport_error"
	codeInternal             = "internal_error"
)

type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, errorResponse{Error: code, ErrorDescription: description})
}

// writeFlowError maps an engine error to its status and code.
// Unexpected errors are logged and not detailed to the caller.
func writeFlowError(w http.ResponseWriter, err error) {
	var exchangeErr *flow.ExchangeError

	switch {
	case errors.Is(err, flow.ErrUnknownProvider):
		writeJSONError(w, http.StatusNotFound, codeUnknownProvider, err.Error())
	case errors.Is(err, flow.ErrInvalidRequest):
		writeJSONError(w, http.StatusBadRequest, codeInvalidRequest, err.Error())
	case errors.Is(err, flow.ErrConfigurationMissing):
		writeJSONError(w, http.StatusBadRequest, codeConfigurationMissing, err.Error())
	case errors.Is(err, flow.ErrInvalidState):
		writeJSONError(w, http.StatusBadRequest, codeInvalidState, "authorization state is invalid or expired, start a new authorization")
	case errors.As(err, &exchangeErr):
		writeJSONError(w, http.StatusBadGateway, codeExchangeFailed, exchangeDetail(exchangeErr))
	case errors.Is(err, flow.ErrExchangeFailed):
		writeJSONError(w, http.StatusBadGateway, codeExchangeFailed, "")
	case errors.Is(err, flow.ErrTransport):
		writeJSONError(w, http.StatusGatewayTimeout, codeTransportError, "provider could not be reached")
	default:
		slog.Error("Unexpected error while handling request", "error", err)
		writeJSONError(w, http.StatusInternalServerError, codeInternal, "")
	}
}

func exchangeDetail(err *flow.ExchangeError) string {
	if err.Code == "" {
		return "provider returned an unusable token response"
	}
	if err.Description == "" {
		return err.Code
	}
	return fmt.Sprintf("%s: %s", err.Code, err.Description)
}
