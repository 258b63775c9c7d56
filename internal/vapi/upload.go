package vapi

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// UploadChunk uploads one chunk of a PUSH transfer to a server-issued upload
// endpoint. offset is the byte offset, length the chunk size, total the full
// file size. The endpoint is pre-authenticated, so no session header is sent.
// Chunk requests are never retried — a partially consumed reader cannot be
// replayed safely.
func (c *Client) UploadChunk(
	ctx context.Context, endpoint string, chunk io.Reader,
	offset, length, total int64,
) error {
	c.logger.Debug("uploading chunk",
		slog.Int64("offset", offset),
		slog.Int64("length", length),
		slog.Int64("total", total),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, chunk)
	if err != nil {
		return fmt.Errorf("vapi: creating chunk upload request: %w", err)
	}

	req.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, offset+length-1, total))
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("User-Agent", userAgent)
	req.ContentLength = length

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("chunk upload request failed",
			slog.String("error", err.Error()),
		)

		return fmt.Errorf("vapi: chunk upload request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted, http.StatusNoContent:
		// Drain body to reuse the connection.
		return drainBody(resp.Body)

	default:
		body, _ := io.ReadAll(resp.Body) //nolint:errcheck // best-effort read for error message
		c.logger.Error("chunk upload failed",
			slog.Int("status", resp.StatusCode),
			slog.Int64("offset", offset),
		)

		return &APIError{
			StatusCode: resp.StatusCode,
			RequestID:  resp.Header.Get("x-request-id"),
			Message:    string(body),
			Err:        classifyStatus(resp.StatusCode),
		}
	}
}
