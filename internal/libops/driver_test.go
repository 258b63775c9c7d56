package libops

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chunkCall records one UploadChunk invocation.
type chunkCall struct {
	offset, length, total int64
	body                  []byte
}

// fakeUploader is an in-memory ChunkUploader with optional failure
// injection and a gate for pacing chunks from the test.
type fakeUploader struct {
	mu     sync.Mutex
	chunks []chunkCall

	// failAtOffset rejects the chunk starting at this offset. -1 = never.
	failAtOffset int64

	// gate, when non-nil, must release once per chunk before it is
	// accepted. Lets tests observe progress mid-transfer.
	gate chan struct{}
}

func newFakeUploader() *fakeUploader {
	return &fakeUploader{failAtOffset: -1}
}

func (u *fakeUploader) UploadChunk(
	ctx context.Context, _ string, chunk io.Reader, offset, length, total int64,
) error {
	if u.gate != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-u.gate:
		}
	}

	body, err := io.ReadAll(chunk)
	if err != nil {
		return err
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	if offset == u.failAtOffset {
		return fmt.Errorf("endpoint rejected chunk at %d", offset)
	}

	u.chunks = append(u.chunks, chunkCall{offset: offset, length: length, total: total, body: body})

	return nil
}

func (u *fakeUploader) received() []chunkCall {
	u.mu.Lock()
	defer u.mu.Unlock()

	out := make([]chunkCall, len(u.chunks))
	copy(out, u.chunks)

	return out
}

func waitDone(t *testing.T, transfer *Transfer) {
	t.Helper()

	select {
	case <-transfer.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("transfer did not resolve")
	}
}

func TestDriver_UploadsAllChunksInOrder(t *testing.T) {
	uploader := newFakeUploader()
	driver := NewDriver(uploader, 4, testLogger())

	content := []byte("0123456789") // 10 bytes, chunk size 4 => 4+4+2

	transfer := driver.Start(context.Background(), "mem://up", bytes.NewReader(content), 10)
	waitDone(t, transfer)

	require.NoError(t, transfer.Err())
	assert.Equal(t, 100, transfer.Progress())
	assert.Equal(t, int64(10), transfer.BytesSent())

	chunks := uploader.received()
	require.Len(t, chunks, 3)
	assert.Equal(t, int64(0), chunks[0].offset)
	assert.Equal(t, int64(4), chunks[1].offset)
	assert.Equal(t, int64(8), chunks[2].offset)
	assert.Equal(t, int64(2), chunks[2].length)
	assert.Equal(t, []byte("89"), chunks[2].body)

	for _, c := range chunks {
		assert.Equal(t, int64(10), c.total)
	}
}

func TestDriver_ProgressIsMonotone(t *testing.T) {
	uploader := newFakeUploader()
	uploader.gate = make(chan struct{})

	driver := NewDriver(uploader, 4, testLogger())
	content := bytes.Repeat([]byte("x"), 12)

	transfer := driver.Start(context.Background(), "mem://up", bytes.NewReader(content), 12)

	var observed []int

	for i := range 3 {
		uploader.gate <- struct{}{}

		// Progress may lag the chunk landing; poll until this chunk is
		// reflected, recording every sample for the monotonicity check.
		want := (i + 1) * 4 * 100 / 12
		require.Eventually(t, func() bool {
			p := transfer.Progress()
			observed = append(observed, p)

			return p >= want
		}, 2*time.Second, time.Millisecond)
	}

	waitDone(t, transfer)
	require.NoError(t, transfer.Err())

	for i := 1; i < len(observed); i++ {
		assert.GreaterOrEqual(t, observed[i], observed[i-1], "progress went backwards")
	}

	assert.Equal(t, 100, transfer.Progress())
}

func TestDriver_FailureResolvesWithTransferFailed(t *testing.T) {
	uploader := newFakeUploader()
	uploader.failAtOffset = 8

	driver := NewDriver(uploader, 4, testLogger())
	content := bytes.Repeat([]byte("x"), 10)

	transfer := driver.Start(context.Background(), "mem://up", bytes.NewReader(content), 10)
	waitDone(t, transfer)

	err := transfer.Err()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransferFailed)
	assert.Contains(t, err.Error(), "offset 8")

	// Bytes sent stops at the last accepted chunk; progress never reaches 100.
	assert.Equal(t, int64(8), transfer.BytesSent())
	assert.Equal(t, 80, transfer.Progress())
}

func TestDriver_AbortCancelsAndReleases(t *testing.T) {
	uploader := newFakeUploader()
	uploader.gate = make(chan struct{}) // never released: transfer hangs

	driver := NewDriver(uploader, 4, testLogger())
	content := bytes.Repeat([]byte("x"), 10)

	transfer := driver.Start(context.Background(), "mem://up", bytes.NewReader(content), 10)

	done := make(chan struct{})
	go func() {
		transfer.Abort()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Abort did not return")
	}

	err := transfer.Err()
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	// Abort after resolution is a no-op.
	transfer.Abort()
}

func TestDriver_ZeroByteFile(t *testing.T) {
	uploader := newFakeUploader()
	driver := NewDriver(uploader, 4, testLogger())

	transfer := driver.Start(context.Background(), "mem://up", bytes.NewReader(nil), 0)
	waitDone(t, transfer)

	require.NoError(t, transfer.Err())
	assert.Equal(t, 100, transfer.Progress())
	assert.Empty(t, uploader.received())
}

func TestDriver_ParentContextCancellation(t *testing.T) {
	uploader := newFakeUploader()
	uploader.gate = make(chan struct{})

	driver := NewDriver(uploader, 4, testLogger())
	ctx, cancel := context.WithCancel(context.Background())

	transfer := driver.Start(ctx, "mem://up", bytes.NewReader(bytes.Repeat([]byte("x"), 10)), 10)

	cancel()
	waitDone(t, transfer)

	require.Error(t, transfer.Err())
	assert.True(t, errors.Is(transfer.Err(), context.Canceled))
}

func TestDriver_ErrBeforeDoneIsNil(t *testing.T) {
	uploader := newFakeUploader()
	uploader.gate = make(chan struct{})

	driver := NewDriver(uploader, 4, testLogger())
	transfer := driver.Start(context.Background(), "mem://up", bytes.NewReader(bytes.Repeat([]byte("x"), 8)), 8)

	assert.NoError(t, transfer.Err(), "Err must be nil while unresolved")

	transfer.Abort()
}
