package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// FileStatus is the lifecycle state of an uploaded file.
type FileStatus string

const (
	FileStatusPending    FileStatus = "pending"
	FileStatusUploaded   FileStatus = "uploaded"
	FileStatusProcessing FileStatus = "processing"
	FileStatusCompleted  FileStatus = "completed"
	FileStatusFailed     FileStatus = "failed"
)

// fileStatusTransitions lists, for every status, the statuses it may move to.
// completed/failed -> uploaded is a reprocess; failed -> processing is a queue retry.
var fileStatusTransitions = map[FileStatus][]FileStatus{
	FileStatusPending:    {FileStatusUploaded, FileStatusFailed},
	FileStatusUploaded:   {FileStatusProcessing, FileStatusFailed},
	FileStatusProcessing: {FileStatusCompleted, FileStatusFailed},
	FileStatusCompleted:  {FileStatusUploaded},
	FileStatusFailed:     {FileStatusUploaded, FileStatusProcessing},
}

// IsValid returns true if the status is one of the known lifecycle states.
func (s FileStatus) IsValid() bool {
	_, ok := fileStatusTransitions[s]

	return ok
}

// IsTerminal reports whether the status ends a processing run.
func (s FileStatus) IsTerminal() bool {
	return s == FileStatusCompleted || s == FileStatusFailed
}

// CanTransitionTo reports whether moving from s to next is a legal transition.
func (s FileStatus) CanTransitionTo(next FileStatus) bool {
	for _, allowed := range fileStatusTransitions[s] {
		if allowed == next {
			return true
		}
	}

	return false
}

// SourcesFor returns the statuses from which next can be reached, in a stable order.
func SourcesFor(next FileStatus) []FileStatus {
	var sources []FileStatus

	for _, from := range []FileStatus{
		FileStatusPending, FileStatusUploaded, FileStatusProcessing, FileStatusCompleted, FileStatusFailed,
	} {
		if from.CanTransitionTo(next) {
			sources = append(sources, from)
		}
	}

	return sources
}

// ParseFileStatus converts a string to FileStatus.
func ParseFileStatus(s string) (FileStatus, error) {
	status := FileStatus(s)
	if !status.IsValid() {
		return "", fmt.Errorf("invalid file status: %s", s)
	}

	return status, nil
}

// UploadedFile is a user's uploaded sales file and its processing state.
type UploadedFile struct {
	ID                  uuid.UUID       `json:"id"`
	UserID              string          `json:"user_id"`
	FilePath            string          `json:"file_path"`
	FileName            string          `json:"file_name"`
	SizeBytes           int64           `json:"size_bytes"`
	ContentType         string          `json:"content_type,omitempty"`
	Status              FileStatus      `json:"status"`
	SchemaHash          *string         `json:"schema_hash,omitempty"`
	Columns             json.RawMessage `json:"columns,omitempty"`
	RowCount            *int            `json:"row_count,omitempty"`
	Error               *string         `json:"error,omitempty"`
	ProcessingStartedAt *time.Time      `json:"processing_started_at,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// CreateUploadedFileRequest holds the metadata for a newly stored upload.
type CreateUploadedFileRequest struct {
	ID          uuid.UUID
	UserID      string
	FilePath    string
	FileName    string
	SizeBytes   int64
	ContentType string
}

// CompleteFileRequest holds the derived values written when analysis completes.
type CompleteFileRequest struct {
	RowCount *int
	Columns  json.RawMessage
}

// ListFilesFilters are the query parameters for listing a user's files.
type ListFilesFilters struct {
	Limit  int `form:"limit" validate:"omitempty,min=1,max=1000"`
	Offset int `form:"offset" validate:"omitempty,min=0,max=2147483647"`
}

// ListFilesResponse is the response for GET /api/files.
type ListFilesResponse struct {
	Success bool           `json:"success"`
	Files   []UploadedFile `json:"files"`
	Limit   int            `json:"limit"`
	Offset  int            `json:"offset"`
}

// FileArtifactCounts counts the rows derived from one file.
type FileArtifactCounts struct {
	AnalysisResults int `json:"analysis_results"`
	Chunks          int `json:"chunks"`
	Embeddings      int `json:"embeddings"`
}

// FileStatusResponse is the response for GET /api/files/{id}/status.
type FileStatusResponse struct {
	Success  bool               `json:"success"`
	FileID   uuid.UUID          `json:"file_id"`
	FileName string             `json:"file_name"`
	Status   FileStatus         `json:"status"`
	Error    *string            `json:"error,omitempty"`
	RowCount *int               `json:"row_count,omitempty"`
	Counts   FileArtifactCounts `json:"counts"`
}

// UploadResponse is the response for POST /api/upload.
type UploadResponse struct {
	Success      bool         `json:"success"`
	Message      string       `json:"message"`
	Queued       bool         `json:"queued"`
	UploadedFile UploadedFile `json:"uploaded_file"`
}
