package vapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
)

// ErrNotAuthenticated is returned when credentials are missing or rejected.
var ErrNotAuthenticated = errors.New("vapi: not authenticated")

// sessionPath is the endpoint that exchanges basic-auth credentials for a
// session token.
const sessionPath = "/session"

// Credentials holds the basic-auth pair used to create a session token.
type Credentials struct {
	Username string
	Password string
}

// SessionTokenSource lazily creates a management session token on first use
// and caches it for subsequent requests. Thread-safe; concurrent callers
// share one login round trip.
type SessionTokenSource struct {
	baseURL    string
	httpClient *http.Client
	creds      Credentials
	logger     *slog.Logger

	mu    sync.Mutex
	token string
}

// NewSessionTokenSource creates a token source for the given API base URL.
func NewSessionTokenSource(baseURL string, httpClient *http.Client, creds Credentials, logger *slog.Logger) *SessionTokenSource {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &SessionTokenSource{
		baseURL:    baseURL,
		httpClient: httpClient,
		creds:      creds,
		logger:     logger,
	}
}

// Token returns the cached session token, logging in on first call.
func (s *SessionTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" {
		return s.token, nil
	}

	tok, err := s.login(ctx)
	if err != nil {
		return "", err
	}

	s.token = tok

	return tok, nil
}

// Invalidate discards the cached token so the next Token call logs in again.
// Called when a request comes back 401 after the token was issued, which the
// service uses to signal idle-session expiry.
func (s *SessionTokenSource) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.token = ""
}

// login exchanges basic-auth credentials for a session token.
func (s *SessionTokenSource) login(ctx context.Context) (string, error) {
	if s.creds.Username == "" {
		return "", fmt.Errorf("%w: no username configured", ErrNotAuthenticated)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+sessionPath, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("vapi: creating login request: %w", err)
	}

	req.SetBasicAuth(s.creds.Username, s.creds.Password)
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("vapi: login request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return "", fmt.Errorf("%w: credentials rejected for %s", ErrNotAuthenticated, s.creds.Username)
	}

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body) //nolint:errcheck // best-effort read for error message

		return "", &APIError{
			StatusCode: resp.StatusCode,
			RequestID:  resp.Header.Get("x-request-id"),
			Message:    string(body),
			Err:        classifyStatus(resp.StatusCode),
		}
	}

	// The token is returned as a bare JSON string.
	var tok string
	if decErr := json.NewDecoder(resp.Body).Decode(&tok); decErr != nil {
		return "", fmt.Errorf("vapi: decoding session token: %w", decErr)
	}

	if tok == "" {
		return "", fmt.Errorf("%w: empty session token returned", ErrNotAuthenticated)
	}

	s.logger.Debug("management session established",
		slog.String("user", s.creds.Username),
	)

	return tok, nil
}

// StaticToken is a TokenSource returning a fixed token. Used by tests.
type StaticToken string

// Token implements TokenSource.
func (t StaticToken) Token(context.Context) (string, error) {
	return string(t), nil
}
