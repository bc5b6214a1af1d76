package models

import "time"

// Workspace groups a user's files uploaded in the same calendar month (id YYYY-MM).
type Workspace struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	FileCount int            `json:"file_count"`
	TotalRows int64          `json:"total_rows"`
	TotalSize int64          `json:"total_size"`
	CreatedAt time.Time      `json:"created_at"`
	Files     []UploadedFile `json:"files"`
}

// ListWorkspacesResponse is the response for GET /api/workspaces.
type ListWorkspacesResponse struct {
	Success    bool        `json:"success"`
	Workspaces []Workspace `json:"workspaces"`
}

// DeleteWorkspaceRequest holds the query parameters for DELETE /api/workspaces.
type DeleteWorkspaceRequest struct {
	ID string `form:"id" validate:"required,month_key"`
}

// DeleteWorkspaceResponse is the response for DELETE /api/workspaces.
type DeleteWorkspaceResponse struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	DeletedCount int64  `json:"deleted_count"`
}
