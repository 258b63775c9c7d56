package libops

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"go.uber.org/multierr"

	"github.com/mnieminen/libctl/internal/itemref"
	"github.com/mnieminen/libctl/internal/vapi"
)

// Poll and cleanup defaults.
const (
	// DefaultPollInterval bounds the sleep between observations of a
	// running transfer. Short enough that keepalives are never starved,
	// long enough not to busy-wait.
	DefaultPollInterval = 1 * time.Second

	// cleanupTimeout caps the best-effort Fail call made while unwinding
	// from an error, which runs on a context detached from the (possibly
	// already canceled) operation context.
	cleanupTimeout = 30 * time.Second
)

// ProgressFunc receives transfer progress updates from the keepalive loop.
type ProgressFunc func(bytesSent int64, percent int)

// Orchestrator sequences the update-session protocol: open session, register
// file specs, drive push transfers under a keepalive lease, and settle the
// session with Complete, Fail, or Cancel. Each operation owns its session
// exclusively; keepalives and terminal transitions are issued from the same
// goroutine, so no keepalive can land after a terminal transition.
type Orchestrator struct {
	api     SessionAPI
	driver  *Driver
	journal Journal // nil = no local session journal
	lease   *LeaseClock
	logger  *slog.Logger

	// PollInterval is the sleep between transfer observations. Exported for
	// test injection; defaults to DefaultPollInterval.
	PollInterval time.Duration

	// OnProgress, when set, is called from the poll loop with the latest
	// transfer position.
	OnProgress ProgressFunc
}

// NewOrchestrator creates an Orchestrator. journal may be nil.
func NewOrchestrator(api SessionAPI, driver *Driver, journal Journal, lease *LeaseClock, logger *slog.Logger) *Orchestrator {
	if lease == nil {
		lease = NewLeaseClock(DefaultKeepAliveInterval)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		api:          api,
		driver:       driver,
		journal:      journal,
		lease:        lease,
		logger:       logger,
		PollInterval: DefaultPollInterval,
	}
}

// UploadFile adds one file to a library item. The locator is classified
// first — a bad locator costs no remote call. PUSH sources are streamed to
// the server-issued endpoint by the transfer driver while this goroutine
// polls progress and renews the lease; PULL sources only need the spec
// registered, after which the server fetches on its own.
func (o *Orchestrator) UploadFile(
	ctx context.Context, item itemref.Handle, name, locator string, override vapi.SourceType,
) (err error) {
	spec, err := BuildTransferSpec(locator, override)
	if err != nil {
		return err
	}

	if name == "" {
		name = baseName(spec.Endpoint)
	}

	o.logger.Info("uploading file",
		slog.String("item_id", item.ItemID),
		slog.String("name", name),
		slog.String("source_type", string(spec.SourceType)),
	)

	sess, err := o.open(ctx, item)
	if err != nil {
		return err
	}
	defer o.retire(sess)

	if spec.SourceType == vapi.SourcePull {
		return o.registerPull(ctx, sess, name, spec)
	}

	return o.push(ctx, sess, name, spec)
}

// ImportFile registers a PULL transfer from a web URI and waits until the
// server-driven fetch reaches a terminal status. The lease does not need
// renewing while waiting — pull progress is server-driven — but the wait is
// still bounded-sleep and cancellable.
func (o *Orchestrator) ImportFile(ctx context.Context, item itemref.Handle, name, sourceURI string) error {
	spec, err := BuildTransferSpec(sourceURI, "")
	if err != nil {
		return err
	}

	if spec.SourceType != vapi.SourcePull {
		return fmt.Errorf("%w: import requires a pull source, got %q", ErrUnsupportedProtocol, sourceURI)
	}

	if name == "" {
		name = baseName(sourceURI)
	}

	sess, err := o.open(ctx, item)
	if err != nil {
		return err
	}
	defer o.retire(sess)

	if err := o.registerPull(ctx, sess, name, spec); err != nil {
		return err
	}

	return o.waitForFiles(ctx, sess)
}

// RemoveFile removes a named file from a library item: open a session,
// request removal by exact match, complete. One session per removal.
func (o *Orchestrator) RemoveFile(ctx context.Context, item itemref.Handle, name string) error {
	o.logger.Info("removing file",
		slog.String("item_id", item.ItemID),
		slog.String("name", name),
	)

	sess, err := o.open(ctx, item)
	if err != nil {
		return err
	}
	defer o.retire(sess)

	if err := sess.RemoveFile(ctx, name); err != nil {
		return o.abandon(ctx, sess, err)
	}

	if err := sess.Complete(ctx); err != nil {
		return o.abandon(ctx, sess, err)
	}

	return nil
}

// open creates the session and journals it. A Conflict from the service
// (another ACTIVE session on the item) is surfaced as-is — the client does
// not try to coordinate sessions locally.
func (o *Orchestrator) open(ctx context.Context, item itemref.Handle) (*Session, error) {
	sess, err := Open(ctx, o.api, item.ItemID, item.ContentVersion, o.logger)
	if err != nil {
		return nil, err
	}

	if o.journal != nil {
		if jErr := o.journal.Record(ctx, sess.ID(), item.ItemID, item.Name); jErr != nil {
			o.logger.Warn("failed to journal session",
				slog.String("session_id", sess.ID()),
				slog.String("error", jErr.Error()),
			)
		}
	}

	return sess, nil
}

// retire drops the journal entry once the session left ACTIVE through a
// normal transition. A still-ACTIVE session (crash-in-progress semantics)
// keeps its entry so `session ls` can find it later.
func (o *Orchestrator) retire(sess *Session) {
	if o.journal == nil || sess.State() == StateActive {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	if err := o.journal.Remove(ctx, sess.ID()); err != nil {
		o.logger.Warn("failed to remove journaled session",
			slog.String("session_id", sess.ID()),
			slog.String("error", err.Error()),
		)
	}
}

// registerPull adds a PULL spec and completes the session. The server may
// still be fetching when Complete returns.
func (o *Orchestrator) registerPull(ctx context.Context, sess *Session, name string, spec TransferSpec) error {
	fileSpec := vapi.FileSpec{
		Name:           name,
		SourceType:     vapi.SourcePull,
		SourceEndpoint: spec.Endpoint,
	}

	if _, err := sess.AddFile(ctx, fileSpec); err != nil {
		return o.abandon(ctx, sess, err)
	}

	if err := sess.Complete(ctx); err != nil {
		return o.abandon(ctx, sess, err)
	}

	return nil
}

// push uploads a local file through the transfer driver while renewing the
// session lease, then completes the session. Driver failure fails the
// session before the error is surfaced.
func (o *Orchestrator) push(ctx context.Context, sess *Session, name string, spec TransferSpec) error {
	if spec.Protocol == ProtocolDatastore {
		// Datastore paths classify as PUSH but are not resolvable to local
		// bytes by this client.
		return o.abandon(ctx, sess,
			fmt.Errorf("%w: datastore source %q cannot be read locally", ErrUnsupportedProtocol, spec.Endpoint))
	}

	f, err := os.Open(spec.Endpoint)
	if err != nil {
		return o.abandon(ctx, sess, fmt.Errorf("opening source file: %w", err))
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return o.abandon(ctx, sess, fmt.Errorf("stat source file: %w", err))
	}

	file, err := sess.AddFile(ctx, vapi.FileSpec{
		Name:       name,
		SourceType: vapi.SourcePush,
		Size:       info.Size(),
	})
	if err != nil {
		return o.abandon(ctx, sess, err)
	}

	if file.UploadEndpoint == "" {
		return o.abandon(ctx, sess,
			fmt.Errorf("service returned no upload endpoint for push file %q", name))
	}

	transfer := o.driver.Start(ctx, file.UploadEndpoint, f, info.Size())

	if err := o.superviseTransfer(ctx, sess, transfer); err != nil {
		return err
	}

	if err := sess.Complete(ctx); err != nil {
		return o.abandon(ctx, sess, err)
	}

	return nil
}

// superviseTransfer is the keepalive/poll loop: observe the running transfer
// with a bounded sleep, renew the lease when the clock says it is due, and
// settle the session when the transfer resolves. Keepalives and terminal
// transitions share this goroutine, so they are strictly serialized.
func (o *Orchestrator) superviseTransfer(ctx context.Context, sess *Session, transfer *Transfer) error {
	deadline := o.lease.NextDeadline(sess.ExpiresAt())

	ticker := time.NewTicker(o.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-transfer.Done():
			if terr := transfer.Err(); terr != nil {
				return o.abandon(ctx, sess, terr)
			}

			o.report(transfer)

			return nil

		case <-ctx.Done():
			transfer.Abort()

			return o.abandon(ctx, sess, fmt.Errorf("transfer aborted: %w", ctx.Err()))

		case <-ticker.C:
			o.report(transfer)

			if !o.lease.Due(deadline) {
				continue
			}

			// Latest percent, sent even when unchanged — the lease needs
			// the signal regardless of progress.
			pct := transfer.Progress()
			if err := sess.KeepAlive(ctx, &pct); err != nil {
				transfer.Abort()

				return o.abandon(ctx, sess, fmt.Errorf("renewing session lease: %w", err))
			}

			deadline = o.lease.NextDeadline(sess.ExpiresAt())
		}
	}
}

// waitForFiles polls refresh until every session file reports a terminal
// status. Used after Complete on pull transfers, where the server may still
// be fetching.
func (o *Orchestrator) waitForFiles(ctx context.Context, sess *Session) error {
	ticker := time.NewTicker(o.PollInterval)
	defer ticker.Stop()

	for {
		if err := sess.Refresh(ctx); err != nil {
			return err
		}

		settled := true

		for _, f := range sess.Files() {
			if f.Status == vapi.FileError {
				return fmt.Errorf("%w: file %q: %s", ErrTransferFailed, f.Name, f.ErrorMessage)
			}

			if !f.Status.Terminal() {
				settled = false
			}
		}

		if settled {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for server-side fetch: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// report forwards the transfer position to the progress callback.
func (o *Orchestrator) report(transfer *Transfer) {
	if o.OnProgress != nil {
		o.OnProgress(transfer.BytesSent(), transfer.Progress())
	}
}

// abandon is the error unwinding path: if the session is still ACTIVE, a
// best-effort Fail releases the server-side resources. A failure of that
// cleanup call is not swallowed — it is attached to the original error.
func (o *Orchestrator) abandon(ctx context.Context, sess *Session, cause error) error {
	if sess.State() != StateActive {
		return cause
	}

	// Detach from the operation context: cleanup must still run when the
	// cause of death was that very context being canceled.
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	if ferr := sess.Fail(cleanupCtx, cause.Error()); ferr != nil && !errors.Is(ferr, ErrInvalidState) {
		return multierr.Append(cause, fmt.Errorf("failing session during cleanup: %w", ferr))
	}

	return cause
}

// baseName returns the last path segment of a locator, for use as the
// default remote file name.
func baseName(locator string) string {
	for i := len(locator) - 1; i >= 0; i-- {
		if locator[i] == '/' || locator[i] == '\\' {
			return locator[i+1:]
		}
	}

	return locator
}
