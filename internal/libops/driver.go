package libops

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// DefaultChunkSize is the chunk size for push uploads when none is
// configured.
const DefaultChunkSize = 4 * 1024 * 1024

// Driver performs asynchronous PUSH uploads to server-issued endpoints.
// One Driver is shared across transfers; each Start call returns an
// independent Transfer.
type Driver struct {
	uploader  ChunkUploader
	chunkSize int64
	logger    *slog.Logger
}

// NewDriver creates a Driver. Non-positive chunk sizes fall back to
// DefaultChunkSize.
func NewDriver(uploader ChunkUploader, chunkSize int64, logger *slog.Logger) *Driver {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Driver{uploader: uploader, chunkSize: chunkSize, logger: logger}
}

// Transfer is one in-flight push upload. It resolves exactly once: Done()
// is closed after the last chunk lands or the upload fails or is aborted,
// and Err() reports the outcome. Progress is monotonically non-decreasing
// for the lifetime of the transfer.
//
// All transfer resources (request bodies, the worker goroutine, the derived
// context) are released on every exit path, including when the caller
// abandons the wait — the completion goroutine below runs regardless.
type Transfer struct {
	id    string
	total int64

	sent   atomic.Int64
	done   chan struct{}
	err    error // written once, before done is closed
	cancel context.CancelFunc
}

// Start begins uploading content to the given endpoint in the background
// and returns immediately. The caller observes the transfer via Progress,
// Done, and Err, and may stop it early with Abort.
func (d *Driver) Start(ctx context.Context, endpoint string, content io.ReaderAt, total int64) *Transfer {
	ctx, cancel := context.WithCancel(ctx)

	t := &Transfer{
		id:     uuid.NewString(),
		total:  total,
		done:   make(chan struct{}),
		cancel: cancel,
	}

	d.logger.Debug("transfer started",
		slog.String("transfer_id", t.id),
		slog.Int64("total", total),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return d.run(gctx, endpoint, content, t)
	})

	go func() {
		// Guaranteed teardown: the derived context is always canceled,
		// whether the upload completed, failed, or was aborted.
		defer cancel()

		t.err = g.Wait()
		close(t.done)

		d.logger.Debug("transfer resolved",
			slog.String("transfer_id", t.id),
			slog.Int64("bytes_sent", t.sent.Load()),
			slog.Bool("failed", t.err != nil),
		)
	}()

	return t
}

// run uploads the content chunk by chunk. The sent counter only ever moves
// forward, which keeps observed progress monotone within one attempt.
func (d *Driver) run(ctx context.Context, endpoint string, content io.ReaderAt, t *Transfer) error {
	for offset := int64(0); offset < t.total; {
		length := min(d.chunkSize, t.total-offset)
		chunk := io.NewSectionReader(content, offset, length)

		if err := d.uploader.UploadChunk(ctx, endpoint, chunk, offset, length, t.total); err != nil {
			return fmt.Errorf("%w: chunk at offset %d: %w", ErrTransferFailed, offset, err)
		}

		offset += length
		t.sent.Store(offset)
	}

	// Zero-byte files need no chunk; registering the spec was enough.
	return nil
}

// ID returns the client-generated transfer identifier, used in logs.
func (t *Transfer) ID() string { return t.id }

// Progress returns the percent of bytes sent, 0-100. An empty file is
// complete the moment it starts.
func (t *Transfer) Progress() int {
	if t.total <= 0 {
		return 100
	}

	return int(t.sent.Load() * 100 / t.total)
}

// BytesSent returns the running byte counter.
func (t *Transfer) BytesSent() int64 {
	return t.sent.Load()
}

// Done is closed when the transfer has resolved, successfully or not.
func (t *Transfer) Done() <-chan struct{} {
	return t.done
}

// Err returns the transfer outcome. Valid only after Done is closed; nil
// means every byte was accepted by the endpoint.
func (t *Transfer) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Abort cancels the transfer and waits for its resources to be released.
// Safe to call after completion; it is then a no-op.
func (t *Transfer) Abort() {
	t.cancel()
	<-t.done
}
