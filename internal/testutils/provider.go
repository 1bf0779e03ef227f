package testutils

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// MockKey is the RSA key used to sign the JWTs for the mock provider.
var MockKey *rsa.PrivateKey

var mockCertificate *x509.Certificate

const mockKeyID = "fa834459-66c6-475a-852f-444262a07c13_sig_rs256"

func init() {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic(fmt.Sprintf("Setup: Could not generate RSA key for the Mock: %v", err))
	}
	MockKey = key

	certTemplate := &x509.Certificate{
		SerialNumber: big.NewInt(2024),
		Subject: pkix.Name{
			Organization: []string{"Mocks ltd."},
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().AddDate(0, 0, 1),
		SubjectKeyId:          []byte{1, 2, 3, 4, 5},
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
		KeyUsage:              x509.KeyUsageDigitalSignature,
		IsCA:                  true,
		BasicConstraintsValid: true,
	}

	c, err := x509.CreateCertificate(rand.Reader, certTemplate, certTemplate, &MockKey.PublicKey, MockKey)
	if err != nil {
		panic("Setup: Could not create certificate for the Mock")
	}

	cert, err := x509.ParseCertificate(c)
	if err != nil {
		panic("Setup: Could not parse certificate for the Mock")
	}
	mockCertificate = cert
}

// ProviderHandler is a function that handles a request to the mock provider.
type ProviderHandler func(http.ResponseWriter, *http.Request)

type optionProvider struct {
	handlers map[string]ProviderHandler
	scope    string
	recorder *FormRecorder
}

// OptionProvider is a function that allows to override default options of the mock provider.
type OptionProvider func(*optionProvider)

// WithHandler specifies a handler to the requested path in the mock provider.
func WithHandler(path string, handler func(http.ResponseWriter, *http.Request)) OptionProvider {
	return func(o *optionProvider) {
		o.handlers[path] = handler
	}
}

// WithGrantedScope sets the scope returned by the default token handler.
func WithGrantedScope(scope string) OptionProvider {
	return func(o *optionProvider) {
		o.scope = scope
	}
}

// WithTokenRecorder records the forms posted to the token endpoint.
func WithTokenRecorder(rec *FormRecorder) OptionProvider {
	return func(o *optionProvider) {
		o.recorder = rec
	}
}

// StartMockProvider starts a new HTTPS server to be used as an OAuth and OpenID Connect provider for tests.
// Use the Client() of the returned server to trust its certificate.
func StartMockProvider(args ...OptionProvider) (*httptest.Server, func()) {
	servMux := http.NewServeMux()
	server := httptest.NewUnstartedServer(servMux)
	server.StartTLS()

	opts := optionProvider{
		handlers: map[string]ProviderHandler{},
	}
	for _, arg := range args {
		arg(&opts)
	}

	defaults := map[string]ProviderHandler{
		"/.well-known/openid-configuration": DefaultOpenIDHandler(server.URL),
		"/token":                            DefaultTokenHandler(server.URL, opts.scope),
		"/keys":                             DefaultJWKHandler(),
	}
	for path, handler := range defaults {
		if _, overridden := opts.handlers[path]; !overridden {
			opts.handlers[path] = handler
		}
	}

	if opts.recorder != nil && opts.handlers["/token"] != nil {
		opts.handlers["/token"] = opts.recorder.Handler(opts.handlers["/token"])
	}

	for path, handler := range opts.handlers {
		if handler == nil {
			continue
		}
		servMux.HandleFunc(path, handler)
	}

	return server, func() {
		server.Close()
	}
}

// MockEndpoint returns the static endpoint of the mock provider at serverURL.
func MockEndpoint(serverURL string) oauth2.Endpoint {
	return oauth2.Endpoint{
		AuthURL:  serverURL + "/auth",
		TokenURL: serverURL + "/token",
	}
}

// DefaultOpenIDHandler returns a handler that returns a default OpenID Connect configuration.
func DefaultOpenIDHandler(serverURL string) ProviderHandler {
	return func(w http.ResponseWriter, _ *http.Request) {
		wellKnown := fmt.Sprintf(`{
			"issuer": "%[1]s",
			"authorization_endpoint": "%[1]s/auth",
			"token_endpoint": "%[1]s/token",
			"jwks_uri": "%[1]s/keys",
			"id_token_signing_alg_values_supported": ["RS256"]
		}`, serverURL)

		w.Header().Add("Content-Type", "application/json")
		_, err := w.Write([]byte(wellKnown))
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
		}
	}
}

// SignIDToken returns an RS256 ID token for the mock provider at serverURL, signed with key.
func SignIDToken(key *rsa.PrivateKey, serverURL, audience string) (string, error) {
	idToken := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss":            serverURL,
		"sub":            "test-user-id",
		"aud":            audience,
		"exp":            9999999999,
		"iat":            time.Now().Unix(),
		"name":           "test-user",
		"email":          "test-user@anotheremail.com",
		"email_verified": true,
	})
	idToken.Header["kid"] = mockKeyID

	return idToken.SignedString(key)
}

// DefaultTokenHandler returns a handler that exchanges any authorization code for a default token response.
// The ID token audience is the client_id of the request. When scope is empty, no scope is returned.
func DefaultTokenHandler(serverURL, scope string) ProviderHandler {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil || r.PostForm.Get("grant_type") != "authorization_code" || r.PostForm.Get("code") == "" {
			writeTokenError(w, http.StatusBadRequest, "invalid_request", "authorization code grant expected")
			return
		}

		rawToken, err := SignIDToken(MockKey, serverURL, r.PostForm.Get("client_id"))
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		response := fmt.Sprintf(`{
			"access_token": "accesstoken",
			"refresh_token": "refreshtoken",
			"token_type": "Bearer",
			"scope": %q,
			"expires_in": 3600,
			"id_token": %q
		}`, scope, rawToken)

		w.Header().Add("Content-Type", "application/json")
		if _, err := w.Write([]byte(response)); err != nil {
			w.WriteHeader(http.StatusInternalServerError)
		}
	}
}

// DefaultJWKHandler returns a handler that provides the signing keys of the mock provider.
//
// Meant to be used an the endpoint for /keys.
func DefaultJWKHandler() ProviderHandler {
	return func(w http.ResponseWriter, r *http.Request) {
		jwk := jose.JSONWebKey{
			Key:          &MockKey.PublicKey,
			KeyID:        mockKeyID,
			Algorithm:    "RS256",
			Use:          "sig",
			Certificates: []*x509.Certificate{mockCertificate},
		}

		encodedJWK, err := jwk.MarshalJSON()
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
		}

		response := fmt.Sprintf(`{"keys": [%s]}`, encodedJWK)
		w.Header().Add("Content-Type", "application/json")
		if _, err := w.Write([]byte(response)); err != nil {
			w.WriteHeader(http.StatusInternalServerError)
		}
	}
}

func writeTokenError(w http.ResponseWriter, status int, code, description string) {
	w.Header().Add("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, `{"error": %q, "error_description": %q}`, code, description)
}

// UnavailableHandler returns a handler that returns a 503 Service Unavailable response.
func UnavailableHandler() ProviderHandler {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
}

// BadRequestHandler returns a handler that rejects the grant like a provider would for a reused or forged code.
func BadRequestHandler() ProviderHandler {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeTokenError(w, http.StatusBadRequest, "invalid_grant", "Bad Request")
	}
}

// CustomResponseHandler returns a handler that returns a custom token response.
func CustomResponseHandler(response string) ProviderHandler {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Add("Content-Type", "application/json")
		_, err := w.Write([]byte(response))
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
		}
	}
}

// HangingHandler returns a handler that hangs the request until the duration has elapsed
// or the client gave up.
func HangingHandler(d time.Duration) ProviderHandler {
	return func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(d):
		case <-r.Context().Done():
		}

		w.Header().Add("Content-Type", "application/json")
		w.WriteHeader(http.StatusRequestTimeout)
	}
}

// FormRecorder records the form of the requests it handles before passing them to its handler.
type FormRecorder struct {
	mu    sync.Mutex
	forms []url.Values
}

// Handler wraps next, recording the form of each request.
func (rec *FormRecorder) Handler(next ProviderHandler) ProviderHandler {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err == nil {
			rec.mu.Lock()
			rec.forms = append(rec.forms, r.PostForm)
			rec.mu.Unlock()
		}
		next(w, r)
	}
}

// Forms returns the recorded forms.
func (rec *FormRecorder) Forms() []url.Values {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return append([]url.Values(nil), rec.forms...)
}

// FixedStateSupplier returns a state supplier handing out states in order.
// The last state is repeated once all were used.
func FixedStateSupplier(states ...string) func() string {
	if len(states) == 0 {
		panic("Setup: FixedStateSupplier needs at least one state")
	}

	var mu sync.Mutex
	var i int
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		s := states[i]
		if i < len(states)-1 {
			i++
		}
		return s
	}
}
