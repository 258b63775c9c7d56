package vapi

import "time"

// SessionState is the server-side state of an item update session.
// The client-only DEFUNCT state lives in the libops package; the service
// never reports it.
type SessionState string

// Session states as reported by the service.
const (
	SessionActive   SessionState = "ACTIVE"
	SessionDone     SessionState = "DONE"
	SessionError    SessionState = "ERROR"
	SessionCanceled SessionState = "CANCELED"
)

// SourceType describes who moves the bytes for a session file.
type SourceType string

// Source types. PUSH means the client uploads to a server-issued endpoint;
// PULL means the server fetches from a client-supplied URI.
const (
	SourcePush SourceType = "PUSH"
	SourcePull SourceType = "PULL"
)

// FileStatus is the per-file transfer status, independent of session state.
type FileStatus string

// File statuses as reported by the service.
const (
	FilePending      FileStatus = "PENDING"
	FileTransferring FileStatus = "TRANSFERRING"
	FileValidating   FileStatus = "VALIDATING"
	FileReady        FileStatus = "READY"
	FileError        FileStatus = "ERROR"
)

// Terminal reports whether a file status is final for this session.
func (s FileStatus) Terminal() bool {
	return s == FileReady || s == FileError
}

// Library is a named container of distributable items.
type Library struct {
	ID          string
	Name        string
	Description string
	CreatedAt   time.Time
}

// Item is a named unit of content inside a library.
type Item struct {
	ID             string
	LibraryID      string
	Name           string
	ContentVersion string
	Size           int64
	Cached         bool
}

// SessionInfo is the service's view of an update session, returned by the
// refresh primitive.
type SessionInfo struct {
	ID             string
	ItemID         string
	ContentVersion string
	State          SessionState
	Progress       *int // percent, nil when the service has not reported one
	ExpiresAt      time.Time
	ErrorMessage   string
}

// FileSpec describes a file to register against an update session.
// SourceEndpoint is required for PULL and ignored for PUSH.
type FileSpec struct {
	Name           string
	SourceType     SourceType
	SourceEndpoint string
	Size           int64 // declared size; 0 = unknown
}

// FileInfo is the service's view of a session file. UploadEndpoint is
// present only for PUSH files; Checksum only once transfer completes.
type FileInfo struct {
	Name             string
	SourceType       SourceType
	Status           FileStatus
	Size             int64
	BytesTransferred int64
	UploadEndpoint   string
	SourceEndpoint   string
	Checksum         string
	ErrorMessage     string
}
