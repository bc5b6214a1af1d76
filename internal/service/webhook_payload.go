package service

import (
	"time"

	"github.com/google/uuid"

	"github.com/retailiq/hub/internal/models"
)

// Webhook event types for file status notifications.
const (
	EventTypeFileCompleted = "file.completed"
	EventTypeFileFailed    = "file.failed"
)

// WebhookPayload is the body POSTed to the webhook endpoint.
type WebhookPayload struct {
	ID        uuid.UUID       `json:"id"`        // Unique event id (UUID v7), also the webhook-id header
	Type      string          `json:"type"`      // file.completed or file.failed
	Timestamp time.Time       `json:"timestamp"` // When the file reached the status
	Data      FileStatusEvent `json:"data"`
}

// FileStatusEvent describes a file that reached a terminal status.
type FileStatusEvent struct {
	FileID uuid.UUID         `json:"file_id"`
	UserID string            `json:"user_id"`
	Status models.FileStatus `json:"status"`
	Error  string            `json:"error,omitempty"`
}

// EventTypeForStatus maps a terminal status to its event type.
func EventTypeForStatus(status models.FileStatus) string {
	if status == models.FileStatusFailed {
		return EventTypeFileFailed
	}

	return EventTypeFileCompleted
}
