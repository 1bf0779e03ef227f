package httpservice

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ubuntu/oauth-flows/internal/flow"
)

const maxBodyBytes = 1 << 20

type providerResponse struct {
	Name  string `json:"name"`
	Scope string `json:"scope"`
}

type consentURLRequest struct {
	Provider    string            `json:"provider"`
	WorkspaceID string            `json:"workspaceId"`
	RedirectURI string            `json:"redirectUri"`
	Payload     map[string]string `json:"payload,omitempty"`
}

type consentURLResponse struct {
	ConsentURL string `json:"consentUrl"`
}

type completeRequest struct {
	Provider    string `json:"provider"`
	WorkspaceID string `json:"workspaceId"`
	Code        string `json:"code"`
	State       string `json:"state"`
}

// completeResponse describes the stored credential. Token material never leaves the store.
type completeResponse struct {
	Provider    string            `json:"provider"`
	WorkspaceID string            `json:"workspaceId"`
	Scope       string            `json:"scope"`
	TokenType   string            `json:"tokenType,omitempty"`
	Expiry      *time.Time        `json:"expiry,omitempty"`
	Subject     string            `json:"subject,omitempty"`
	Email       string            `json:"email,omitempty"`
	Refreshable bool              `json:"refreshable"`
	Payload     map[string]string `json:"payload,omitempty"`
}

func (s *Service) handleProviders(w http.ResponseWriter, _ *http.Request) {
	resp := []providerResponse{}
	for _, p := range s.engine.Providers() {
		resp = append(resp, providerResponse{Name: p.Name, Scope: p.Scope})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Service) handleConsentURL(w http.ResponseWriter, r *http.Request) {
	var req consentURLRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return
	}

	authURL, err := s.engine.BeginAuthorization(r.Context(), flow.AuthorizationRequest{
		Provider:    req.Provider,
		WorkspaceID: req.WorkspaceID,
		RedirectURI: req.RedirectURI,
		Payload:     req.Payload,
	})
	if err != nil {
		writeFlowError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, consentURLResponse{ConsentURL: authURL})
}

func (s *Service) handleComplete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return
	}

	cred, payload, err := s.engine.CompleteAuthorization(r.Context(), flow.CallbackRequest{
		Provider:    req.Provider,
		WorkspaceID: req.WorkspaceID,
		Code:        req.Code,
		State:       req.State,
	})
	if err != nil {
		writeFlowError(w, err)
		return
	}

	resp := completeResponse{
		Provider:    cred.Provider,
		WorkspaceID: cred.WorkspaceID,
		Scope:       cred.Scope,
		TokenType:   cred.TokenType,
		Subject:     cred.Subject,
		Email:       cred.Email,
		Refreshable: cred.RefreshToken != "",
		Payload:     payload,
	}
	if !cred.Expiry.IsZero() {
		resp.Expiry = &cred.Expiry
	}
	writeJSON(w, http.StatusOK, resp)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("malformed request body: %v", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("malformed request body: unexpected data after the JSON object")
	}
	return nil
}
