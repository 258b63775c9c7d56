package vapi

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestClient wires a Client to the given handler with a static token and
// a no-op sleep so retry tests run instantly. It returns the client and a
// pointer to the recorded sleep durations.
func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *[]time.Duration) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, srv.Client(), StaticToken("test-token"), testLogger())

	sleeps := &[]time.Duration{}
	c.sleepFunc = func(_ context.Context, d time.Duration) error {
		*sleeps = append(*sleeps, d)

		return nil
	}

	return c, sleeps
}

func TestClient_Do_SetsHeaders(t *testing.T) {
	var got *http.Request

	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(context.Background())
		w.WriteHeader(http.StatusOK)
	})

	resp, err := c.Do(context.Background(), http.MethodGet, "/thing", nil)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "test-token", got.Header.Get("vmware-api-session-id"))
	assert.Equal(t, userAgent, got.Header.Get("User-Agent"))
	assert.Empty(t, got.Header.Get("Content-Type"), "no content type without a body")
}

func TestClient_Do_RetriesIdempotentRequests(t *testing.T) {
	var attempts int

	c, sleeps := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)

			return
		}
		w.WriteHeader(http.StatusOK)
	})

	resp, err := c.Do(context.Background(), http.MethodGet, "/thing", nil)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, 3, attempts)
	assert.Len(t, *sleeps, 2)
}

func TestClient_Do_NeverRetriesRequestsWithBody(t *testing.T) {
	var attempts int

	c, sleeps := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		attempts++
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := c.Do(context.Background(), http.MethodPost, "/thing", []byte(`{}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrServerError)

	assert.Equal(t, 1, attempts, "a request body must not be replayed")
	assert.Empty(t, *sleeps)
}

func TestClient_Do_HonorsRetryAfter(t *testing.T) {
	var attempts int

	c, sleeps := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		attempts++
		if attempts == 1 {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)

			return
		}
		w.WriteHeader(http.StatusOK)
	})

	resp, err := c.Do(context.Background(), http.MethodGet, "/thing", nil)
	require.NoError(t, err)
	resp.Body.Close()

	require.Len(t, *sleeps, 1)
	assert.Equal(t, 7*time.Second, (*sleeps)[0])
}

func TestClient_Do_ExhaustsRetries(t *testing.T) {
	var attempts int

	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.Do(context.Background(), http.MethodGet, "/thing", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrServerError)
	assert.Equal(t, maxRetries+1, attempts)
}

func TestClient_Do_NonRetryableStatusFailsImmediately(t *testing.T) {
	var attempts int

	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		attempts++
		w.Header().Set("x-request-id", "req-42")
		http.Error(w, "no such session", http.StatusNotFound)
	})

	_, err := c.Do(context.Background(), http.MethodGet, "/thing", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, attempts)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "req-42", apiErr.RequestID)
	assert.Contains(t, apiErr.Message, "no such session")
}

func TestClient_Do_ContextCancellation(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Do(ctx, http.MethodGet, "/thing", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

// renewableToken is a TokenSource whose cached token can be invalidated,
// after which it serves the next token in line.
type renewableToken struct {
	tokens      []string
	idx         int
	invalidated int
}

func (r *renewableToken) Token(context.Context) (string, error) {
	return r.tokens[r.idx], nil
}

func (r *renewableToken) Invalidate() {
	r.invalidated++
	r.idx++
}

func TestClient_Do_ReloginOnExpiredToken(t *testing.T) {
	var attempts int

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if r.Header.Get(sessionIDHeader) == "stale" {
			w.WriteHeader(http.StatusUnauthorized)

			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	tokens := &renewableToken{tokens: []string{"stale", "fresh"}}
	c := NewClient(srv.URL, srv.Client(), tokens, testLogger())

	resp, err := c.Do(context.Background(), http.MethodGet, "/thing", nil)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, 2, attempts)
	assert.Equal(t, 1, tokens.invalidated)
}

func TestClient_Do_ReloginReplaysRequestBody(t *testing.T) {
	var bodies [][]byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		bodies = append(bodies, body)

		if r.Header.Get(sessionIDHeader) == "stale" {
			w.WriteHeader(http.StatusUnauthorized)

			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	tokens := &renewableToken{tokens: []string{"stale", "fresh"}}
	c := NewClient(srv.URL, srv.Client(), tokens, testLogger())

	resp, err := c.Do(context.Background(), http.MethodPost, "/thing", []byte(`{"client_progress": 40}`))
	require.NoError(t, err)
	resp.Body.Close()

	require.Len(t, bodies, 2)
	assert.Equal(t, []byte(`{"client_progress": 40}`), bodies[0])
	assert.Equal(t, bodies[0], bodies[1], "replayed request must carry the full body")
}

func TestClient_Do_ReloginOnlyOnce(t *testing.T) {
	var attempts int

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts++
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	tokens := &renewableToken{tokens: []string{"stale", "also-rejected"}}
	c := NewClient(srv.URL, srv.Client(), tokens, testLogger())

	_, err := c.Do(context.Background(), http.MethodGet, "/thing", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, 1, tokens.invalidated)
}

func TestClient_Do_UnauthorizedWithFixedToken(t *testing.T) {
	var attempts int

	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		attempts++
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := c.Do(context.Background(), http.MethodGet, "/thing", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, 1, attempts, "a fixed token cannot be renewed")
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		code int
		want error
	}{
		{http.StatusBadRequest, ErrBadRequest},
		{http.StatusUnauthorized, ErrUnauthorized},
		{http.StatusForbidden, ErrForbidden},
		{http.StatusNotFound, ErrNotFound},
		{http.StatusConflict, ErrConflict},
		{http.StatusTooManyRequests, ErrThrottled},
		{http.StatusInternalServerError, ErrServerError},
		{http.StatusBadGateway, ErrServerError},
		{http.StatusOK, nil},
		{http.StatusNoContent, nil},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, classifyStatus(tt.code), "status %d", tt.code)
	}
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, isRetryable(http.StatusTooManyRequests))
	assert.True(t, isRetryable(http.StatusServiceUnavailable))
	assert.True(t, isRetryable(http.StatusGatewayTimeout))
	assert.False(t, isRetryable(http.StatusNotFound))
	assert.False(t, isRetryable(http.StatusConflict))
}

func TestAPIError_Format(t *testing.T) {
	withID := &APIError{StatusCode: 404, RequestID: "r-1", Message: "gone", Err: ErrNotFound}
	assert.Equal(t, "vapi: HTTP 404 (request-id: r-1): gone", withID.Error())
	assert.True(t, errors.Is(withID, ErrNotFound))

	withoutID := &APIError{StatusCode: 500, Message: "boom", Err: ErrServerError}
	assert.Equal(t, "vapi: HTTP 500: boom", withoutID.Error())
}

func TestCalcBackoff_Bounds(t *testing.T) {
	c := &Client{}

	// Attempt 0 is ~1s with ±25% jitter.
	b := c.calcBackoff(0)
	assert.GreaterOrEqual(t, b, 750*time.Millisecond)
	assert.LessOrEqual(t, b, 1250*time.Millisecond)

	// Deep attempts cap at maxBackoff plus jitter headroom.
	b = c.calcBackoff(20)
	assert.LessOrEqual(t, b, 75*time.Second)
	assert.GreaterOrEqual(t, b, 45*time.Second)
}
