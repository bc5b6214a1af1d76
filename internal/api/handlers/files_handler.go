package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/retailiq/hub/internal/api/middleware"
	"github.com/retailiq/hub/internal/api/response"
	"github.com/retailiq/hub/internal/api/validation"
	"github.com/retailiq/hub/internal/models"
	"github.com/retailiq/hub/internal/service"
)

// multipartMemory is how much of a multipart upload is kept in memory before spilling to disk.
const multipartMemory = 32 << 20

// FilesService defines the file operations used by the handlers.
type FilesService interface {
	Upload(ctx context.Context, in *service.UploadInput) (*models.UploadResponse, error)
	MaxBytes() int64
	List(ctx context.Context, userID string, filters *models.ListFilesFilters) (*models.ListFilesResponse, error)
	Status(ctx context.Context, userID string, id uuid.UUID) (*models.FileStatusResponse, error)
	Reprocess(ctx context.Context, userID string, id uuid.UUID) (*models.UploadResponse, error)
	LatestAnalysis(ctx context.Context, userID string) (*models.LatestAnalysisResponse, error)
	Workspaces(ctx context.Context, userID string) (*models.ListWorkspacesResponse, error)
	DeleteWorkspace(ctx context.Context, userID, monthKey string) (*models.DeleteWorkspaceResponse, error)
}

// FilesHandler handles upload, file and workspace requests.
type FilesHandler struct {
	service FilesService
}

// NewFilesHandler creates a new files handler.
func NewFilesHandler(service FilesService) *FilesHandler {
	return &FilesHandler{service: service}
}

// requireUser returns the session user or writes 401.
func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		response.RespondUnauthorized(w, "Authentication required")
		return "", false
	}

	return userID, true
}

// pathFileID parses the {id} path value.
func pathFileID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		response.RespondBadRequest(w, "Invalid UUID format")
		return uuid.Nil, false
	}

	return id, true
}

// Upload handles POST /api/upload (multipart field "file").
func (h *FilesHandler) Upload(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			response.RespondRequestEntityTooLarge(w, "request body exceeds maximum allowed size")
			return
		}

		response.RespondBadRequest(w, "Expected a multipart form with a file field")

		return
	}

	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		response.RespondBadRequest(w, "file is required")
		return
	}
	defer file.Close()

	maxBytes := h.service.MaxBytes()
	if header.Size > maxBytes {
		response.RespondRequestEntityTooLarge(w, fmt.Sprintf("file exceeds the %d byte upload limit", maxBytes))
		return
	}

	data, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		response.RespondBadRequest(w, "Could not read uploaded file")
		return
	}

	result, err := h.service.Upload(r.Context(), &service.UploadInput{
		UserID:      userID,
		FileName:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	response.RespondJSON(w, http.StatusCreated, result)
}

// List handles GET /api/files?limit&offset.
func (h *FilesHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	filters := &models.ListFilesFilters{}
	if err := validation.ValidateAndDecodeQueryParams(r, filters); err != nil {
		validation.RespondValidationError(w, err)
		return
	}

	result, err := h.service.List(r.Context(), userID, filters)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	response.RespondJSON(w, http.StatusOK, result)
}

// Status handles GET /api/files/{id}/status.
func (h *FilesHandler) Status(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	id, ok := pathFileID(w, r)
	if !ok {
		return
	}

	result, err := h.service.Status(r.Context(), userID, id)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	response.RespondJSON(w, http.StatusOK, result)
}

// Reprocess handles POST /api/files/{id}/reprocess.
func (h *FilesHandler) Reprocess(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	id, ok := pathFileID(w, r)
	if !ok {
		return
	}

	result, err := h.service.Reprocess(r.Context(), userID, id)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	response.RespondJSON(w, http.StatusAccepted, result)
}

// LatestAnalysis handles GET /api/analyze/workspace/latest.
func (h *FilesHandler) LatestAnalysis(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	result, err := h.service.LatestAnalysis(r.Context(), userID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	response.RespondJSON(w, http.StatusOK, result)
}

// Workspaces handles GET /api/workspaces.
func (h *FilesHandler) Workspaces(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	result, err := h.service.Workspaces(r.Context(), userID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	response.RespondJSON(w, http.StatusOK, result)
}

// DeleteWorkspace handles DELETE /api/workspaces?id=YYYY-MM.
func (h *FilesHandler) DeleteWorkspace(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	req := &models.DeleteWorkspaceRequest{}
	if err := validation.ValidateAndDecodeQueryParams(r, req); err != nil {
		validation.RespondValidationError(w, err)
		return
	}

	result, err := h.service.DeleteWorkspace(r.Context(), userID, req.ID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	response.RespondJSON(w, http.StatusOK, result)
}
