// Package jobs defines River job payloads and the enqueue side of the file pipeline.
package jobs

import (
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
)

// Queue names.
const (
	QueueAnalysis   = "analysis"
	QueueEmbeddings = "embeddings"
	QueueWebhooks   = "webhooks"
)

const (
	analyzeFileKind       = "analyze_file"
	embedChunksKind       = "embed_chunks"
	fileStatusWebhookKind = "file_status_webhook"
)

// AnalyzeFileArgs is the job payload for analyzing one uploaded file.
// Uniqueness is by file id so a double click on reprocess does not queue the file twice.
type AnalyzeFileArgs struct {
	FileID     uuid.UUID `json:"file_id"     river:"unique"`
	StorageKey string    `json:"storage_key"`
}

// Kind returns the River job kind.
func (AnalyzeFileArgs) Kind() string { return analyzeFileKind }

// EmbedChunksArgs is the job payload for embedding the chunks of a file that have no embedding yet.
type EmbedChunksArgs struct {
	FileID uuid.UUID `json:"file_id" river:"unique"`
}

// Kind returns the River job kind.
func (EmbedChunksArgs) Kind() string { return embedChunksKind }

// FileStatusWebhookArgs is the job payload for one file status notification.
type FileStatusWebhookArgs struct {
	EventID   uuid.UUID `json:"event_id"   river:"unique"`
	FileID    uuid.UUID `json:"file_id"`
	UserID    string    `json:"user_id"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Kind returns the River job kind.
func (FileStatusWebhookArgs) Kind() string { return fileStatusWebhookKind }

var (
	_ river.JobArgs = AnalyzeFileArgs{}
	_ river.JobArgs = EmbedChunksArgs{}
	_ river.JobArgs = FileStatusWebhookArgs{}
)
