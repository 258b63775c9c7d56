package vapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
)

// itemResponse mirrors the service's library item JSON exactly.
// Unexported — callers use Item via toItem() normalization.
type itemResponse struct {
	ID             string `json:"id"`
	LibraryID      string `json:"library_id"`
	Name           string `json:"name"`
	ContentVersion string `json:"content_version"`
	Size           int64  `json:"size"`
	Cached         bool   `json:"cached"`
}

func (i *itemResponse) toItem() Item {
	return Item{
		ID:             i.ID,
		LibraryID:      i.LibraryID,
		Name:           i.Name,
		ContentVersion: i.ContentVersion,
		Size:           i.Size,
		Cached:         i.Cached,
	}
}

// GetItem fetches a library item by ID.
func (c *Client) GetItem(ctx context.Context, itemID string) (*Item, error) {
	resp, err := c.Do(ctx, http.MethodGet, "/content/library/item/"+url.PathEscape(itemID), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var ir itemResponse
	if decErr := json.NewDecoder(resp.Body).Decode(&ir); decErr != nil {
		return nil, fmt.Errorf("vapi: decoding item response: %w", decErr)
	}

	item := ir.toItem()

	return &item, nil
}

// ListItems lists the items of a library.
func (c *Client) ListItems(ctx context.Context, libraryID string) ([]Item, error) {
	c.logger.Debug("listing items", slog.String("library_id", libraryID))

	path := "/content/library/item?library_id=" + url.QueryEscape(libraryID)

	resp, err := c.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var irs []itemResponse
	if decErr := json.NewDecoder(resp.Body).Decode(&irs); decErr != nil {
		return nil, fmt.Errorf("vapi: decoding item list response: %w", decErr)
	}

	items := make([]Item, 0, len(irs))
	for _, ir := range irs {
		items = append(items, ir.toItem())
	}

	return items, nil
}

// FindItem looks up an item by exact name within a library. Returns
// ErrNotFound when no item in the library has that name.
func (c *Client) FindItem(ctx context.Context, libraryID, name string) (*Item, error) {
	c.logger.Debug("finding item",
		slog.String("library_id", libraryID),
		slog.String("name", name),
	)

	path := "/content/library/item?library_id=" + url.QueryEscape(libraryID) +
		"&name=" + url.QueryEscape(name)

	resp, err := c.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var irs []itemResponse
	if decErr := json.NewDecoder(resp.Body).Decode(&irs); decErr != nil {
		return nil, fmt.Errorf("vapi: decoding item find response: %w", decErr)
	}

	if len(irs) == 0 {
		return nil, fmt.Errorf("%w: item %q in library %s", ErrNotFound, name, libraryID)
	}

	item := irs[0].toItem()

	return &item, nil
}
