package vapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
)

// sessionFileBase is the collection endpoint for update session files.
const sessionFileBase = "/content/library/item/update-session-file"

// Session file request/response types for JSON serialization.
type addFileRequest struct {
	Name           string          `json:"name"`
	SourceType     string          `json:"source_type"`
	SourceEndpoint *endpointRecord `json:"source_endpoint,omitempty"`
	Size           int64           `json:"size,omitempty"`
}

type endpointRecord struct {
	URI string `json:"uri"`
}

// fileResponse mirrors the service's session file JSON exactly.
type fileResponse struct {
	Name             string          `json:"name"`
	SourceType       string          `json:"source_type"`
	Status           string          `json:"status"`
	Size             int64           `json:"size"`
	BytesTransferred int64           `json:"bytes_transferred"`
	UploadEndpoint   *endpointRecord `json:"upload_endpoint"`
	SourceEndpoint   *endpointRecord `json:"source_endpoint"`
	Checksum         string          `json:"checksum"`
	ErrorMessage     string          `json:"error_message"`
}

type removeFileRequest struct {
	Name string `json:"file_name"`
}

// toFileInfo normalizes a file response into our FileInfo type.
func (f *fileResponse) toFileInfo() FileInfo {
	info := FileInfo{
		Name:             f.Name,
		SourceType:       SourceType(f.SourceType),
		Status:           FileStatus(f.Status),
		Size:             f.Size,
		BytesTransferred: f.BytesTransferred,
		Checksum:         f.Checksum,
		ErrorMessage:     f.ErrorMessage,
	}

	if f.UploadEndpoint != nil {
		info.UploadEndpoint = f.UploadEndpoint.URI
	}

	if f.SourceEndpoint != nil {
		info.SourceEndpoint = f.SourceEndpoint.URI
	}

	return info
}

// AddSessionFile registers a file transfer spec against an ACTIVE session.
// For PUSH files the returned FileInfo carries the server-issued upload
// endpoint; for PULL files the service starts its own fetch from the given
// source endpoint.
func (c *Client) AddSessionFile(ctx context.Context, sessionID string, spec FileSpec) (*FileInfo, error) {
	c.logger.Info("adding session file",
		slog.String("session_id", sessionID),
		slog.String("name", spec.Name),
		slog.String("source_type", string(spec.SourceType)),
	)

	req := addFileRequest{
		Name:       spec.Name,
		SourceType: string(spec.SourceType),
		Size:       spec.Size,
	}

	if spec.SourceEndpoint != "" {
		req.SourceEndpoint = &endpointRecord{URI: spec.SourceEndpoint}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("vapi: marshaling add file request: %w", err)
	}

	path := sessionFileBase + "/" + url.PathEscape(sessionID)

	resp, err := c.Do(ctx, http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var fr fileResponse
	if decErr := json.NewDecoder(resp.Body).Decode(&fr); decErr != nil {
		return nil, fmt.Errorf("vapi: decoding add file response: %w", decErr)
	}

	info := fr.toFileInfo()

	return &info, nil
}

// ListSessionFiles lists the files registered against a session.
func (c *Client) ListSessionFiles(ctx context.Context, sessionID string) ([]FileInfo, error) {
	path := sessionFileBase + "?update_session_id=" + url.QueryEscape(sessionID)

	resp, err := c.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var frs []fileResponse
	if decErr := json.NewDecoder(resp.Body).Decode(&frs); decErr != nil {
		return nil, fmt.Errorf("vapi: decoding file list response: %w", decErr)
	}

	files := make([]FileInfo, 0, len(frs))
	for _, fr := range frs {
		files = append(files, fr.toFileInfo())
	}

	return files, nil
}

// RemoveSessionFile requests removal of a named file from the session's
// item. The name must match exactly.
func (c *Client) RemoveSessionFile(ctx context.Context, sessionID, name string) error {
	c.logger.Info("removing session file",
		slog.String("session_id", sessionID),
		slog.String("name", name),
	)

	body, err := json.Marshal(removeFileRequest{Name: name})
	if err != nil {
		return fmt.Errorf("vapi: marshaling remove file request: %w", err)
	}

	path := sessionFileBase + "/" + url.PathEscape(sessionID) + "?action=remove"

	resp, err := c.Do(ctx, http.MethodPost, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return drainBody(resp.Body)
}
