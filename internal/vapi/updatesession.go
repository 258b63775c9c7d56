package vapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// updateSessionBase is the collection endpoint for item update sessions.
const updateSessionBase = "/content/library/item/update-session"

// Update session request/response types for JSON serialization.
type createSessionRequest struct {
	ItemID         string `json:"library_item_id"`
	ContentVersion string `json:"library_item_content_version,omitempty"`
}

type createSessionResponse struct {
	ID string `json:"id"`
}

// sessionResponse mirrors the service's update session JSON exactly.
type sessionResponse struct {
	ID             string `json:"id"`
	ItemID         string `json:"library_item_id"`
	ContentVersion string `json:"library_item_content_version"`
	State          string `json:"state"`
	Progress       *int   `json:"client_progress"`
	ExpirationTime string `json:"expiration_time"`
	ErrorMessage   string `json:"error_message"`
}

type keepAliveRequest struct {
	Progress *int `json:"client_progress,omitempty"`
}

type failSessionRequest struct {
	Message string `json:"client_error_message"`
}

// toSessionInfo normalizes a session response into our SessionInfo type.
func (s *sessionResponse) toSessionInfo(logger *slog.Logger) SessionInfo {
	info := SessionInfo{
		ID:             s.ID,
		ItemID:         s.ItemID,
		ContentVersion: s.ContentVersion,
		State:          SessionState(s.State),
		Progress:       s.Progress,
		ErrorMessage:   s.ErrorMessage,
	}

	if s.ExpirationTime != "" {
		t, err := time.Parse(time.RFC3339, s.ExpirationTime)
		if err != nil {
			logger.Warn("invalid session expiration time, using zero time",
				slog.String("session_id", s.ID),
				slog.String("raw", s.ExpirationTime),
			)
		} else {
			info.ExpiresAt = t
		}
	}

	return info
}

// CreateSession opens an update session against a library item at the given
// content version. The service rejects the call with ErrConflict when the
// item already has an ACTIVE session.
func (c *Client) CreateSession(ctx context.Context, itemID, contentVersion string) (*SessionInfo, error) {
	c.logger.Info("creating update session",
		slog.String("item_id", itemID),
		slog.String("content_version", contentVersion),
	)

	body, err := json.Marshal(createSessionRequest{
		ItemID:         itemID,
		ContentVersion: contentVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("vapi: marshaling create session request: %w", err)
	}

	resp, err := c.Do(ctx, http.MethodPost, updateSessionBase, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var created createSessionResponse
	if decErr := json.NewDecoder(resp.Body).Decode(&created); decErr != nil {
		return nil, fmt.Errorf("vapi: decoding create session response: %w", decErr)
	}

	return c.GetSession(ctx, created.ID)
}

// GetSession fetches the current state of an update session. This is the
// refresh primitive; ErrNotFound means the session no longer exists.
func (c *Client) GetSession(ctx context.Context, sessionID string) (*SessionInfo, error) {
	resp, err := c.Do(ctx, http.MethodGet, updateSessionBase+"/"+url.PathEscape(sessionID), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var sr sessionResponse
	if decErr := json.NewDecoder(resp.Body).Decode(&sr); decErr != nil {
		return nil, fmt.Errorf("vapi: decoding session response: %w", decErr)
	}

	info := sr.toSessionInfo(c.logger)

	return &info, nil
}

// KeepAliveSession extends the session's expiration and reports client-side
// progress. progress may be nil when no transfer is running.
func (c *Client) KeepAliveSession(ctx context.Context, sessionID string, progress *int) error {
	body, err := json.Marshal(keepAliveRequest{Progress: progress})
	if err != nil {
		return fmt.Errorf("vapi: marshaling keep-alive request: %w", err)
	}

	return c.sessionAction(ctx, sessionID, "keep-alive", body)
}

// CompleteSession signals that all files have been fully specified. The
// service may run validation before honoring the transition.
func (c *Client) CompleteSession(ctx context.Context, sessionID string) error {
	c.logger.Info("completing update session", slog.String("session_id", sessionID))

	return c.sessionAction(ctx, sessionID, "complete", nil)
}

// CancelSession discards in-progress transfers. Partially received content
// is scheduled for removal server-side.
func (c *Client) CancelSession(ctx context.Context, sessionID string) error {
	c.logger.Info("canceling update session", slog.String("session_id", sessionID))

	return c.sessionAction(ctx, sessionID, "cancel", nil)
}

// FailSession reports a client-detected failure so the service can release
// resources.
func (c *Client) FailSession(ctx context.Context, sessionID, message string) error {
	c.logger.Info("failing update session",
		slog.String("session_id", sessionID),
		slog.String("message", message),
	)

	body, err := json.Marshal(failSessionRequest{Message: message})
	if err != nil {
		return fmt.Errorf("vapi: marshaling fail request: %w", err)
	}

	return c.sessionAction(ctx, sessionID, "fail", body)
}

// DeleteSession removes the session and its bookkeeping.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	c.logger.Info("deleting update session", slog.String("session_id", sessionID))

	resp, err := c.Do(ctx, http.MethodDelete, updateSessionBase+"/"+url.PathEscape(sessionID), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return drainBody(resp.Body)
}

// sessionAction posts an ?action= request against a session.
func (c *Client) sessionAction(ctx context.Context, sessionID, action string, body []byte) error {
	path := updateSessionBase + "/" + url.PathEscape(sessionID) + "?action=" + action

	resp, err := c.Do(ctx, http.MethodPost, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return drainBody(resp.Body)
}

// drainBody discards a response body so the connection can be reused.
func drainBody(r io.Reader) error {
	if _, err := io.Copy(io.Discard, r); err != nil {
		return fmt.Errorf("vapi: draining response body: %w", err)
	}

	return nil
}
