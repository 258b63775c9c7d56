package libops

import (
	"context"
	"io"

	"github.com/mnieminen/libctl/internal/vapi"
)

// SessionAPI is the slice of the management API the session state machine
// and orchestrator depend on. Satisfied by *vapi.Client; tests substitute a
// fake with call counting.
type SessionAPI interface {
	CreateSession(ctx context.Context, itemID, contentVersion string) (*vapi.SessionInfo, error)
	GetSession(ctx context.Context, sessionID string) (*vapi.SessionInfo, error)
	KeepAliveSession(ctx context.Context, sessionID string, progress *int) error
	CompleteSession(ctx context.Context, sessionID string) error
	CancelSession(ctx context.Context, sessionID string) error
	FailSession(ctx context.Context, sessionID, message string) error
	DeleteSession(ctx context.Context, sessionID string) error
	AddSessionFile(ctx context.Context, sessionID string, spec vapi.FileSpec) (*vapi.FileInfo, error)
	ListSessionFiles(ctx context.Context, sessionID string) ([]vapi.FileInfo, error)
	RemoveSessionFile(ctx context.Context, sessionID, name string) error
}

// ChunkUploader performs one chunk PUT against a server-issued upload
// endpoint. Satisfied by *vapi.Client.
type ChunkUploader interface {
	UploadChunk(ctx context.Context, endpoint string, chunk io.Reader, offset, length, total int64) error
}

// Journal records locally which sessions this client has opened, so that a
// crash leaving an ACTIVE session server-side can be found and reclaimed
// later. Satisfied by *sessionjournal.Journal; nil disables journaling.
type Journal interface {
	Record(ctx context.Context, sessionID, itemID, itemName string) error
	Remove(ctx context.Context, sessionID string) error
}
