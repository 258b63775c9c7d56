package libops

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnieminen/libctl/internal/itemref"
	"github.com/mnieminen/libctl/internal/vapi"
)

// memJournal is an in-memory Journal for orchestrator tests.
type memJournal struct {
	mu      sync.Mutex
	open    map[string]string // sessionID -> itemID
	removed []string
}

func newMemJournal() *memJournal {
	return &memJournal{open: make(map[string]string)}
}

func (j *memJournal) Record(_ context.Context, sessionID, itemID, _ string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.open[sessionID] = itemID

	return nil
}

func (j *memJournal) Remove(_ context.Context, sessionID string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.open, sessionID)
	j.removed = append(j.removed, sessionID)

	return nil
}

func (j *memJournal) openCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()

	return len(j.open)
}

// testHandle is the resolved item every orchestrator test targets.
var testHandle = itemref.Handle{
	LibraryID:      "lib-1",
	ItemID:         "item-1",
	Name:           "test-item",
	ContentVersion: "3",
}

// newTestOrchestrator wires an Orchestrator over the fakes with fast polling.
func newTestOrchestrator(api *fakeAPI, uploader *fakeUploader, journal Journal) *Orchestrator {
	driver := NewDriver(uploader, 4, testLogger())
	lease := NewLeaseClock(30 * time.Second)

	o := NewOrchestrator(api, driver, journal, lease, testLogger())
	o.PollInterval = 2 * time.Millisecond

	return o
}

// writeSourceFile drops test content into a temp file and returns its path.
func writeSourceFile(t *testing.T, content []byte) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "a.iso")
	require.NoError(t, os.WriteFile(path, content, 0o600))

	return path
}

// Scenario: push a local file end to end — session opens, file registers,
// driver uploads, session completes, journal entry retires.
func TestOrchestrator_UploadFile_PushEndToEnd(t *testing.T) {
	api := newFakeAPI()
	uploader := newFakeUploader()
	journal := newMemJournal()
	orch := newTestOrchestrator(api, uploader, journal)

	var progressValues []int
	orch.OnProgress = func(_ int64, pct int) {
		progressValues = append(progressValues, pct)
	}

	source := writeSourceFile(t, []byte("0123456789"))

	err := orch.UploadFile(context.Background(), testHandle, "a.iso", source, "")
	require.NoError(t, err)

	assert.Equal(t, 1, api.callCount("create"))
	assert.Equal(t, 1, api.callCount("addfile"))
	assert.Equal(t, 1, api.callCount("complete"))
	assert.Equal(t, 0, api.callCount("fail"))

	api.mu.Lock()
	assert.Equal(t, vapi.SessionDone, api.sess.State)
	require.Len(t, api.files, 1)
	assert.Equal(t, "a.iso", api.files[0].Name)
	assert.Equal(t, vapi.FileReady, api.files[0].Status)
	api.mu.Unlock()

	// All bytes reached the endpoint.
	var sent int64
	for _, c := range uploader.received() {
		sent += c.length
	}
	assert.Equal(t, int64(10), sent)

	// Progress reports never regress.
	for i := 1; i < len(progressValues); i++ {
		assert.GreaterOrEqual(t, progressValues[i], progressValues[i-1])
	}

	// The journaled session retired with the terminal transition.
	assert.Equal(t, 0, journal.openCount())
}

// Scenario: pull import — register the source URI, complete immediately,
// poll refresh until the server-side fetch reports ready.
func TestOrchestrator_ImportFile_PullEndToEnd(t *testing.T) {
	api := newFakeAPI()
	api.pullReadyAfterLists = 5

	orch := newTestOrchestrator(api, newFakeUploader(), newMemJournal())

	err := orch.ImportFile(context.Background(), testHandle, "b.iso", "https://example/b.iso")
	require.NoError(t, err)

	assert.Equal(t, 1, api.callCount("complete"))
	assert.Equal(t, 0, api.callCount("fail"))
	assert.Greater(t, api.callCount("listfiles"), 1, "refresh was polled")

	api.mu.Lock()
	assert.Equal(t, vapi.SessionDone, api.sess.State)
	require.Len(t, api.files, 1)
	assert.Equal(t, vapi.SourcePull, api.files[0].SourceType)
	assert.Equal(t, "https://example/b.iso", api.files[0].SourceEndpoint)
	assert.Equal(t, vapi.FileReady, api.files[0].Status)
	api.mu.Unlock()
}

// Scenario: the driver fails mid-transfer — the session is failed, not
// completed, and the transfer error surfaces.
func TestOrchestrator_UploadFile_DriverFailureFailsSession(t *testing.T) {
	api := newFakeAPI()
	uploader := newFakeUploader()
	uploader.failAtOffset = 8 // fails after 8 of 10 bytes

	orch := newTestOrchestrator(api, uploader, newMemJournal())
	source := writeSourceFile(t, []byte("0123456789"))

	err := orch.UploadFile(context.Background(), testHandle, "a.iso", source, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransferFailed)

	assert.Equal(t, 0, api.callCount("complete"))
	assert.Equal(t, 1, api.callCount("fail"))

	api.mu.Lock()
	assert.Equal(t, vapi.SessionError, api.sess.State)
	assert.NotEmpty(t, api.sess.ErrorMessage)
	api.mu.Unlock()
}

// A cleanup failure is attached to the original error, not swallowed.
func TestOrchestrator_CleanupFailureAttachedToCause(t *testing.T) {
	api := newFakeAPI()
	api.failCallErr = assert.AnError

	uploader := newFakeUploader()
	uploader.failAtOffset = 0

	orch := newTestOrchestrator(api, uploader, newMemJournal())
	source := writeSourceFile(t, []byte("0123456789"))

	err := orch.UploadFile(context.Background(), testHandle, "a.iso", source, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransferFailed)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), "cleanup")
}

// Conflict on open is surfaced untouched; nothing is cleaned up because
// nothing was created.
func TestOrchestrator_UploadFile_OpenConflictSurfaced(t *testing.T) {
	api := newFakeAPI()
	api.createErr = vapi.ErrConflict

	orch := newTestOrchestrator(api, newFakeUploader(), newMemJournal())
	source := writeSourceFile(t, []byte("abc"))

	err := orch.UploadFile(context.Background(), testHandle, "a.iso", source, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, vapi.ErrConflict)
	assert.Equal(t, 0, api.callCount("fail"))
	assert.Equal(t, 0, api.callCount("delete"))
}

// A bad locator is rejected before any remote call.
func TestOrchestrator_UploadFile_BadLocatorNoRemoteCall(t *testing.T) {
	api := newFakeAPI()
	orch := newTestOrchestrator(api, newFakeUploader(), newMemJournal())

	err := orch.UploadFile(context.Background(), testHandle, "", "ftp://host/f.iso", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedProtocol)
	assert.Equal(t, 0, api.totalCalls())
}

// An unreadable local file fails the already-open session before the error
// propagates.
func TestOrchestrator_UploadFile_MissingSourceFailsSession(t *testing.T) {
	api := newFakeAPI()
	orch := newTestOrchestrator(api, newFakeUploader(), newMemJournal())

	err := orch.UploadFile(context.Background(), testHandle, "a.iso", "/does/not/exist.iso", "")
	require.Error(t, err)

	assert.Equal(t, 1, api.callCount("create"))
	assert.Equal(t, 1, api.callCount("fail"))
	assert.Equal(t, 0, api.callCount("complete"))
}

// The keepalive loop renews the lease while a slow transfer runs, passing
// monotone progress values, and stops once the transfer resolves.
func TestOrchestrator_KeepAliveLoopDuringSlowTransfer(t *testing.T) {
	api := newFakeAPI()
	uploader := newFakeUploader()
	uploader.gate = make(chan struct{})

	driver := NewDriver(uploader, 4, testLogger())

	lease := NewLeaseClock(10 * time.Millisecond)
	lease.floor = time.Millisecond

	orch := NewOrchestrator(api, driver, nil, lease, testLogger())
	orch.PollInterval = 2 * time.Millisecond

	// Short server lease keeps the renewal cadence tight.
	api.mu.Lock()
	api.sess.ExpiresAt = time.Now().Add(20 * time.Millisecond)
	api.mu.Unlock()

	// Pace the chunks so the transfer outlives several keepalive deadlines.
	go func() {
		for range 3 {
			time.Sleep(15 * time.Millisecond)
			uploader.gate <- struct{}{}
		}
	}()

	source := writeSourceFile(t, bytes.Repeat([]byte("x"), 12))

	err := orch.UploadFile(context.Background(), testHandle, "big.iso", source, "")
	require.NoError(t, err)

	assert.GreaterOrEqual(t, api.callCount("keepalive"), 1, "lease was renewed mid-transfer")

	api.mu.Lock()
	progressLog := append([]int(nil), api.progressLog...)
	api.mu.Unlock()

	for i := 1; i < len(progressLog); i++ {
		assert.GreaterOrEqual(t, progressLog[i], progressLog[i-1], "keepalive progress regressed")
	}
}

// Canceling the operation context aborts the transfer and fails the session.
func TestOrchestrator_ContextCancelAbortsAndFails(t *testing.T) {
	api := newFakeAPI()
	uploader := newFakeUploader()
	uploader.gate = make(chan struct{}) // never released

	orch := newTestOrchestrator(api, uploader, newMemJournal())
	source := writeSourceFile(t, []byte("0123456789"))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := orch.UploadFile(ctx, testHandle, "a.iso", source, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, 1, api.callCount("fail"))
	assert.Equal(t, 0, api.callCount("complete"))
}

// Remove-file sequencing: one session per removal, completed afterwards.
func TestOrchestrator_RemoveFile(t *testing.T) {
	api := newFakeAPI()
	api.files = []vapi.FileInfo{{Name: "old.iso", SourceType: vapi.SourcePush, Status: vapi.FileReady}}

	journal := newMemJournal()
	orch := newTestOrchestrator(api, newFakeUploader(), journal)

	err := orch.RemoveFile(context.Background(), testHandle, "old.iso")
	require.NoError(t, err)

	assert.Equal(t, 1, api.callCount("create"))
	assert.Equal(t, 1, api.callCount("removefile"))
	assert.Equal(t, 1, api.callCount("complete"))

	api.mu.Lock()
	assert.Empty(t, api.files)
	assert.Equal(t, vapi.SessionDone, api.sess.State)
	api.mu.Unlock()

	assert.Equal(t, 0, journal.openCount())
}

// Import rejects non-pull sources before touching the server.
func TestOrchestrator_ImportFile_RequiresPullSource(t *testing.T) {
	api := newFakeAPI()
	orch := newTestOrchestrator(api, newFakeUploader(), newMemJournal())

	err := orch.ImportFile(context.Background(), testHandle, "", "/local/path.iso")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedProtocol)
	assert.Equal(t, 0, api.totalCalls())
}
