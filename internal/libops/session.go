package libops

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/multierr"
	"golang.org/x/text/unicode/norm"

	"github.com/mnieminen/libctl/internal/vapi"
)

// State is the client-observed state of an update session. It mirrors the
// remote state, plus the client-only DEFUNCT.
type State string

// Session states.
const (
	StateActive   State = "ACTIVE"
	StateDone     State = "DONE"
	StateError    State = "ERROR"
	StateCanceled State = "CANCELED"

	// StateDefunct means the session no longer exists server-side: deleted,
	// expired, or never reachable again. Client-only, terminal.
	StateDefunct State = "DEFUNCT"
)

// keepAliveRetryDelay is the pause before the single keepalive retry.
const keepAliveRetryDelay = 500 * time.Millisecond

// Session is the local mirror of a remote update session. The remote service
// owns the authoritative state; every mutating call here refreshes the local
// copy so the two views never silently diverge.
//
// A Session is exclusively owned by the flow that opened it and must not be
// shared between goroutines.
type Session struct {
	api    SessionAPI
	logger *slog.Logger

	id             string
	itemID         string
	contentVersion string
	state          State
	progress       *int
	expiresAt      time.Time
	files          []vapi.FileInfo
	lastError      string
}

// Open creates an update session against a library item at a known content
// version. The service rejects the call with vapi.ErrConflict when the item
// already has an ACTIVE session; that error is surfaced, not retried.
func Open(ctx context.Context, api SessionAPI, itemID, contentVersion string, logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}

	info, err := api.CreateSession(ctx, itemID, contentVersion)
	if err != nil {
		return nil, fmt.Errorf("opening session on item %s: %w", itemID, err)
	}

	s := &Session{
		api:    api,
		logger: logger,
		id:     info.ID,
		itemID: itemID,
	}
	s.apply(info)

	logger.Debug("update session opened",
		slog.String("session_id", s.id),
		slog.String("item_id", itemID),
		slog.Time("expires_at", s.expiresAt),
	)

	return s, nil
}

// Accessors. The session is mutated only via its own transitions and
// Refresh, so plain reads are safe for the owning flow.

// ID returns the service-assigned session identifier.
func (s *Session) ID() string { return s.id }

// ItemID returns the identifier of the item being modified.
func (s *Session) ItemID() string { return s.itemID }

// ContentVersion returns the item's content version at session-open time.
func (s *Session) ContentVersion() string { return s.contentVersion }

// State returns the last observed session state.
func (s *Session) State() State { return s.state }

// Progress returns the last observed percent-complete, or nil.
func (s *Session) Progress() *int { return s.progress }

// ExpiresAt returns the advisory-minimum expiry: the session will not be
// reclaimed before this instant, but may survive longer.
func (s *Session) ExpiresAt() time.Time { return s.expiresAt }

// Files returns the last refreshed snapshot of the session's files.
func (s *Session) Files() []vapi.FileInfo { return s.files }

// LastError returns the error message last reported by the service.
func (s *Session) LastError() string { return s.lastError }

// apply copies a refresh result into the local mirror.
func (s *Session) apply(info *vapi.SessionInfo) {
	s.state = State(info.State)
	s.progress = info.Progress
	s.expiresAt = info.ExpiresAt
	s.lastError = info.ErrorMessage

	if info.ContentVersion != "" {
		s.contentVersion = info.ContentVersion
	}
}

// guard rejects a mutating operation unless the session is ACTIVE.
// Rejection happens locally; no remote call is made.
func (s *Session) guard(op string) error {
	if s.state != StateActive {
		return fmt.Errorf("%w: cannot %s session %s in state %s", ErrInvalidState, op, s.id, s.state)
	}

	return nil
}

// markDefunct transitions the local mirror to DEFUNCT. Idempotent.
func (s *Session) markDefunct(reason string) {
	if s.state == StateDefunct {
		return
	}

	s.logger.Warn("session is defunct",
		slog.String("session_id", s.id),
		slog.String("reason", reason),
	)

	s.state = StateDefunct
}

// Refresh reconciles the local mirror with the service: state, progress,
// expiry, error fields, and the file snapshot. It is the single point of
// truth-reconciliation — state is never inferred from local transition
// logic alone. A missing session marks the mirror DEFUNCT.
func (s *Session) Refresh(ctx context.Context) error {
	if s.state == StateDefunct {
		return fmt.Errorf("%w: session %s", ErrDefunct, s.id)
	}

	info, err := s.api.GetSession(ctx, s.id)
	if err != nil {
		if errors.Is(err, vapi.ErrNotFound) {
			s.markDefunct("refresh found session missing")

			return fmt.Errorf("%w: session %s", ErrDefunct, s.id)
		}

		return fmt.Errorf("refreshing session %s: %w", s.id, err)
	}

	files, err := s.api.ListSessionFiles(ctx, s.id)
	if err != nil {
		if errors.Is(err, vapi.ErrNotFound) {
			s.markDefunct("file refresh found session missing")

			return fmt.Errorf("%w: session %s", ErrDefunct, s.id)
		}

		return fmt.Errorf("refreshing files of session %s: %w", s.id, err)
	}

	s.apply(info)
	s.files = files

	return nil
}

// mutate runs a mutating remote call with the invariants every transition
// shares: terminal-state guard before any remote call, NotFound observed as
// DEFUNCT, and a post-call refresh on success and failure alike. A refresh
// that cannot reach the server forces DEFUNCT rather than leaving the
// mirror stale; its error is attached to the operation's own error instead
// of being swallowed.
func (s *Session) mutate(ctx context.Context, op string, call func(context.Context) error) error {
	if err := s.guard(op); err != nil {
		return err
	}

	opErr := call(ctx)
	if opErr != nil && errors.Is(opErr, vapi.ErrNotFound) {
		s.markDefunct(op + " found session missing")

		return fmt.Errorf("%w: %s session %s", ErrDefunct, op, s.id)
	}

	if opErr != nil {
		opErr = fmt.Errorf("%s session %s: %w", op, s.id, opErr)
	}

	refErr := s.Refresh(ctx)
	if refErr != nil && !errors.Is(refErr, ErrDefunct) {
		s.markDefunct("post-" + op + " refresh unreachable")
		refErr = fmt.Errorf("%w: %s", ErrDefunct, refErr.Error())
	}

	return multierr.Append(opErr, refErr)
}

// KeepAlive extends the session's expiry, reporting the given progress
// percentage. It must be invoked at an interval shorter than the service's
// idle timeout whenever a long transfer is running. Keepalive is the one
// operation granted a single retry before the session is declared lost.
func (s *Session) KeepAlive(ctx context.Context, progress *int) error {
	return s.mutate(ctx, "keep-alive", func(ctx context.Context) error {
		backoff := retry.WithMaxRetries(1, retry.NewConstant(keepAliveRetryDelay))

		return retry.Do(ctx, backoff, func(ctx context.Context) error {
			err := s.api.KeepAliveSession(ctx, s.id, progress)
			if err == nil || errors.Is(err, vapi.ErrNotFound) {
				return err
			}

			s.logger.Warn("keepalive failed, will retry once",
				slog.String("session_id", s.id),
				slog.String("error", err.Error()),
			)

			return retry.RetryableError(err)
		})
	})
}

// Complete signals that all files have been fully specified. The service
// may run validation before honoring the transition; for PULL transfers it
// may still be fetching content after Complete returns.
func (s *Session) Complete(ctx context.Context) error {
	return s.mutate(ctx, "complete", func(ctx context.Context) error {
		return s.api.CompleteSession(ctx, s.id)
	})
}

// Cancel discards in-progress transfers. Irreversible; partially received
// content is scheduled for removal server-side.
func (s *Session) Cancel(ctx context.Context) error {
	return s.mutate(ctx, "cancel", func(ctx context.Context) error {
		return s.api.CancelSession(ctx, s.id)
	})
}

// Fail reports a client-detected failure so the service releases resources
// instead of holding an orphaned ACTIVE session. Irreversible.
func (s *Session) Fail(ctx context.Context, message string) error {
	return s.mutate(ctx, "fail", func(ctx context.Context) error {
		return s.api.FailSession(ctx, s.id, message)
	})
}

// Delete removes the session and its bookkeeping. Permitted in any state
// except DEFUNCT; afterwards the session is DEFUNCT locally and every
// subsequent operation fails without a remote call.
func (s *Session) Delete(ctx context.Context) error {
	if s.state == StateDefunct {
		return fmt.Errorf("%w: cannot delete session %s in state %s", ErrInvalidState, s.id, s.state)
	}

	err := s.api.DeleteSession(ctx, s.id)

	// Already gone counts as deleted.
	if err != nil && !errors.Is(err, vapi.ErrNotFound) {
		return fmt.Errorf("deleting session %s: %w", s.id, err)
	}

	s.markDefunct("session deleted")

	return nil
}

// AddFile registers a file transfer spec against the session. For PUSH the
// returned info carries the server-issued upload endpoint. The file name is
// NFC-normalized so it matches however the locator was typed.
func (s *Session) AddFile(ctx context.Context, spec vapi.FileSpec) (*vapi.FileInfo, error) {
	var info *vapi.FileInfo

	spec.Name = norm.NFC.String(spec.Name)

	err := s.mutate(ctx, "add file to", func(ctx context.Context) error {
		var callErr error
		info, callErr = s.api.AddSessionFile(ctx, s.id, spec)

		return callErr
	})
	if err != nil {
		return nil, err
	}

	return info, nil
}

// RemoveFile requests removal of a named file, exact match after NFC
// normalization.
func (s *Session) RemoveFile(ctx context.Context, name string) error {
	name = norm.NFC.String(name)

	return s.mutate(ctx, "remove file from", func(ctx context.Context) error {
		return s.api.RemoveSessionFile(ctx, s.id, name)
	})
}
