package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/retailiq/hub/internal/api/response"
	"github.com/retailiq/hub/internal/api/validation"
	"github.com/retailiq/hub/internal/huberrors"
	"github.com/retailiq/hub/internal/models"
)

// RAGService answers questions over one file's chunks.
type RAGService interface {
	Query(ctx context.Context, userID string, req *models.RAGQueryRequest) (*models.RAGQueryResponse, error)
}

// RAGHandler handles question answering requests.
type RAGHandler struct {
	service RAGService
}

// NewRAGHandler creates a new RAG handler.
func NewRAGHandler(service RAGService) *RAGHandler {
	return &RAGHandler{service: service}
}

// Query handles POST /api/rag-query.
// Client errors are problem responses; answers that could not be produced are 200 with success=false;
// unexpected failures are 500 in the same response shape so the dashboard can render them.
func (h *RAGHandler) Query(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req models.RAGQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.RespondBadRequest(w, "Invalid request body")
		return
	}

	if err := validation.ValidateStruct(&req); err != nil {
		validation.RespondValidationError(w, err)
		return
	}

	result, err := h.service.Query(r.Context(), userID, &req)
	if err != nil {
		if errors.Is(err, huberrors.ErrValidation) ||
			errors.Is(err, huberrors.ErrNotFound) ||
			errors.Is(err, huberrors.ErrForbidden) {
			respondServiceError(w, r, err)
			return
		}

		slog.ErrorContext(r.Context(), "rag query failed", "error", err)
		response.RespondJSON(w, http.StatusInternalServerError, &models.RAGQueryResponse{
			Success:         false,
			Answer:          "",
			RetrievedChunks: []models.RetrievedChunk{},
			Message:         unexpectedErrorDetail,
		})

		return
	}

	response.RespondJSON(w, http.StatusOK, result)
}
