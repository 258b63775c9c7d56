// Package itemref provides typed references to library items and a single
// resolution point that turns whatever the operator typed — a "library/item"
// name pair or a raw item ID — into a Handle used everywhere downstream.
// No operation branches on reference shape after resolution.
package itemref

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/mnieminen/libctl/internal/vapi"
)

// ErrBadRef is returned for a reference string that cannot be parsed.
var ErrBadRef = errors.New("itemref: malformed item reference")

// Ref is a parsed but unresolved item reference.
type Ref struct {
	// Library and Item are set for name references ("library/item").
	Library string
	Item    string

	// ID is set for direct item-ID references.
	ID string
}

// Parse interprets a reference string. "library/item" resolves by name;
// a bare UUID is taken as an item ID. Names are NFC-normalized at this
// boundary so lookups match regardless of how the terminal composed them.
func Parse(s string) (Ref, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Ref{}, fmt.Errorf("%w: empty reference", ErrBadRef)
	}

	if lib, item, ok := strings.Cut(s, "/"); ok {
		lib = norm.NFC.String(strings.TrimSpace(lib))
		item = norm.NFC.String(strings.TrimSpace(item))

		if lib == "" || item == "" || strings.Contains(item, "/") {
			return Ref{}, fmt.Errorf("%w: %q (want \"library/item\")", ErrBadRef, s)
		}

		return Ref{Library: lib, Item: item}, nil
	}

	if _, err := uuid.Parse(s); err == nil {
		return Ref{ID: s}, nil
	}

	return Ref{}, fmt.Errorf("%w: %q is neither \"library/item\" nor an item ID", ErrBadRef, s)
}

// Handle is a fully resolved library item, carrying everything downstream
// operations need without further lookups.
type Handle struct {
	LibraryID      string
	ItemID         string
	Name           string
	ContentVersion string
}

// API is the slice of the management API resolution depends on.
// Satisfied by *vapi.Client.
type API interface {
	FindLibrary(ctx context.Context, name string) (*vapi.Library, error)
	FindItem(ctx context.Context, libraryID, name string) (*vapi.Item, error)
	GetItem(ctx context.Context, itemID string) (*vapi.Item, error)
}

// Resolver performs reference resolution against the management API.
type Resolver struct {
	api    API
	logger *slog.Logger
}

// NewResolver creates a Resolver.
func NewResolver(api API, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}

	return &Resolver{api: api, logger: logger}
}

// Resolve performs the lookup once at the boundary and returns a typed
// Handle.
func (r *Resolver) Resolve(ctx context.Context, ref Ref) (Handle, error) {
	if ref.ID != "" {
		item, err := r.api.GetItem(ctx, ref.ID)
		if err != nil {
			return Handle{}, fmt.Errorf("resolving item %s: %w", ref.ID, err)
		}

		return toHandle(item), nil
	}

	lib, err := r.api.FindLibrary(ctx, ref.Library)
	if err != nil {
		return Handle{}, fmt.Errorf("resolving library %q: %w", ref.Library, err)
	}

	item, err := r.api.FindItem(ctx, lib.ID, ref.Item)
	if err != nil {
		return Handle{}, fmt.Errorf("resolving item %q in library %q: %w", ref.Item, ref.Library, err)
	}

	r.logger.Debug("item reference resolved",
		slog.String("library_id", lib.ID),
		slog.String("item_id", item.ID),
		slog.String("content_version", item.ContentVersion),
	)

	return toHandle(item), nil
}

func toHandle(item *vapi.Item) Handle {
	return Handle{
		LibraryID:      item.LibraryID,
		ItemID:         item.ID,
		Name:           item.Name,
		ContentVersion: item.ContentVersion,
	}
}
