package vapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// libraryResponse mirrors the service's library JSON exactly.
// Unexported — callers use Library via toLibrary() normalization.
type libraryResponse struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	CreationTime string `json:"creation_time"`
}

// toLibrary normalizes a library response into our Library type.
func (l *libraryResponse) toLibrary(logger *slog.Logger) Library {
	lib := Library{
		ID:          l.ID,
		Name:        l.Name,
		Description: l.Description,
	}

	if l.CreationTime != "" {
		t, err := time.Parse(time.RFC3339, l.CreationTime)
		if err != nil {
			logger.Warn("invalid library creation time",
				slog.String("library_id", l.ID),
				slog.String("raw", l.CreationTime),
			)
		} else {
			lib.CreatedAt = t
		}
	}

	return lib
}

// GetLibrary fetches a library by ID.
func (c *Client) GetLibrary(ctx context.Context, libraryID string) (*Library, error) {
	resp, err := c.Do(ctx, http.MethodGet, "/content/library/"+url.PathEscape(libraryID), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var lr libraryResponse
	if decErr := json.NewDecoder(resp.Body).Decode(&lr); decErr != nil {
		return nil, fmt.Errorf("vapi: decoding library response: %w", decErr)
	}

	lib := lr.toLibrary(c.logger)

	return &lib, nil
}

// FindLibrary looks up a library by exact name. Returns ErrNotFound when no
// library has that name.
func (c *Client) FindLibrary(ctx context.Context, name string) (*Library, error) {
	c.logger.Debug("finding library", slog.String("name", name))

	path := "/content/library?name=" + url.QueryEscape(name)

	resp, err := c.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var matches []libraryResponse
	if decErr := json.NewDecoder(resp.Body).Decode(&matches); decErr != nil {
		return nil, fmt.Errorf("vapi: decoding library find response: %w", decErr)
	}

	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: library %q", ErrNotFound, name)
	}

	lib := matches[0].toLibrary(c.logger)

	return &lib, nil
}
