package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/retailiq/hub/internal/embeddings"
	"github.com/retailiq/hub/internal/huberrors"
	"github.com/retailiq/hub/internal/models"
	"github.com/retailiq/hub/internal/observability"
	"github.com/retailiq/hub/pkg/cache"
	pkgembeddings "github.com/retailiq/hub/pkg/embeddings"
)

// top_k bounds for RAG queries.
const (
	DefaultTopK = 5
	MaxTopK     = 20
)

// Messages returned in RAG responses. Clients surface them verbatim.
const (
	ragMessageOK              = "OK"
	ragMessageSimpleMode      = "simple mode"
	ragMessageEmbeddingFailed = "embedding could not be created"
	ragMessageNoRelevantChunk = "no relevant chunk found"
	ragMessageChatFailed      = "AI answer could not be created"
)

const queryEmbeddingCacheName = "rag_query_embedding"

// ErrEmptyQuery is returned when the query is blank after trimming.
var ErrEmptyQuery = errors.New("query is required")

// RAGFileStore loads the file a query targets.
type RAGFileStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.UploadedFile, error)
}

// RAGDerivedStore loads the chunks and embeddings of a file.
type RAGDerivedStore interface {
	ListEmbeddings(ctx context.Context, fileID uuid.UUID) ([]models.Embedding, error)
	ListChunks(ctx context.Context, fileID uuid.UUID) ([]models.Chunk, error)
	Counts(ctx context.Context, fileID uuid.UUID) (*models.FileArtifactCounts, error)
}

// Completer produces a chat answer for a prompt.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// RAGServiceParams holds dependencies for NewRAGService.
type RAGServiceParams struct {
	Files   RAGFileStore
	Derived RAGDerivedStore
	// Embedder embeds queries; nil uses the deterministic placeholder vector.
	Embedder embeddings.Client
	// Chat answers the prompt; nil answers in simple mode.
	Chat Completer
	// CacheSize bounds the query embedding cache; <= 0 disables it.
	CacheSize    int
	CacheMetrics observability.CacheMetrics
	Metrics      observability.RAGMetrics
}

// RAGService answers questions over the chunks of one uploaded file.
type RAGService struct {
	files        RAGFileStore
	derived      RAGDerivedStore
	embedder     embeddings.Client
	chat         Completer
	cache        *cache.Cache[[]float32]
	cacheMetrics observability.CacheMetrics
	metrics      observability.RAGMetrics
}

// NewRAGService creates a RAG service.
func NewRAGService(p RAGServiceParams) (*RAGService, error) {
	embedder := p.Embedder
	if embedder == nil {
		embedder = embeddings.NewPlaceholder()
	}

	s := &RAGService{
		files:        p.Files,
		derived:      p.Derived,
		embedder:     embedder,
		chat:         p.Chat,
		cacheMetrics: p.CacheMetrics,
		metrics:      p.Metrics,
	}

	if p.CacheSize > 0 {
		c, err := cache.New[[]float32](p.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("create query embedding cache: %w", err)
		}
		s.cache = c
	}

	return s, nil
}

// ClampTopK maps an optional top_k to [1, MaxTopK]; unset or < 1 becomes DefaultTopK.
func ClampTopK(topK *int) int {
	if topK == nil || *topK < 1 {
		return DefaultTopK
	}

	return min(*topK, MaxTopK)
}

// Query answers req for userID. Expected failures (no embeddings, provider errors, nothing
// relevant) come back as a response with Success=false. Errors are reserved for invalid input
// (ValidationError), a missing file (NotFoundError), another user's file (ForbiddenError) and
// unexpected failures.
func (s *RAGService) Query(ctx context.Context, userID string, req *models.RAGQueryRequest) (*models.RAGQueryResponse, error) {
	start := time.Now()

	ctx, span := observability.StartSpan(ctx, "rag.query", observability.FileIDAttr(req.FileID))
	resp, err := s.query(ctx, userID, req)
	observability.EndSpan(span, err)

	outcome := ragOutcome(resp, err)
	if s.metrics != nil {
		s.metrics.RecordQuery(ctx, outcome)
		s.metrics.RecordQueryDuration(ctx, time.Since(start), outcome)
	}

	return resp, err
}

func (s *RAGService) query(ctx context.Context, userID string, req *models.RAGQueryRequest) (*models.RAGQueryResponse, error) {
	fileID, err := uuid.Parse(req.FileID)
	if err != nil {
		return nil, huberrors.NewValidationError("file_id", "file_id must be a valid UUID")
	}

	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, huberrors.NewValidationError("query", ErrEmptyQuery.Error())
	}

	file, err := s.files.GetByID(ctx, fileID)
	if err != nil {
		return nil, err
	}

	if file.UserID != userID {
		return nil, huberrors.NewForbiddenError("file")
	}

	topK := ClampTopK(req.TopK)

	stored, err := s.derived.ListEmbeddings(ctx, fileID)
	if err != nil {
		return nil, err
	}

	if len(stored) == 0 {
		counts, err := s.derived.Counts(ctx, fileID)
		if err != nil {
			return nil, err
		}

		slog.Info("rag: no embeddings for file",
			"file_id", fileID,
			"chunks", counts.Chunks,
		)

		return failedRAGResponse(fmt.Sprintf(
			"no embeddings found for this file (chunks: %d, embeddings: 0); make sure analysis has completed",
			counts.Chunks,
		)), nil
	}

	queryVector, err := s.embedQuery(ctx, query)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}

		slog.Warn("rag: query embedding failed",
			"file_id", fileID,
			"model", s.embedder.Model(),
			"error", err,
		)

		return failedRAGResponse(ragMessageEmbeddingFailed), nil
	}

	vectors := make([][]float32, len(stored))
	for i := range stored {
		vectors[i] = stored[i].Vector
	}

	top := pkgembeddings.TopK(queryVector, vectors, topK)

	chunks, err := s.derived.ListChunks(ctx, fileID)
	if err != nil {
		return nil, err
	}

	byID := make(map[uuid.UUID]*models.Chunk, len(chunks))
	for i := range chunks {
		byID[chunks[i].ID] = &chunks[i]
	}

	retrieved := make([]models.RetrievedChunk, 0, len(top))
	for _, scored := range top {
		chunk, ok := byID[stored[scored.Index].ChunkID]
		if !ok {
			continue
		}

		retrieved = append(retrieved, models.RetrievedChunk{
			ID:     chunk.ID,
			Text:   chunk.Text,
			Type:   chunk.Type,
			Source: chunk.Source,
			Score:  scored.Score,
		})
	}

	if len(retrieved) == 0 {
		return failedRAGResponse(ragMessageNoRelevantChunk), nil
	}

	if s.chat == nil {
		return &models.RAGQueryResponse{
			Success: true,
			Answer: fmt.Sprintf(
				"Data found: %d chunks. Question: %q. An OpenAI API key is required for detailed analysis.",
				len(retrieved), query,
			),
			RetrievedChunks: retrieved,
			Message:         ragMessageSimpleMode,
		}, nil
	}

	answer, err := s.chat.Complete(ctx, BuildRAGPrompt(query, retrieved))
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}

		slog.Warn("rag: chat completion failed",
			"file_id", fileID,
			"error", err,
		)

		return failedRAGResponse(ragMessageChatFailed), nil
	}

	return &models.RAGQueryResponse{
		Success:         true,
		Answer:          answer,
		RetrievedChunks: retrieved,
		Message:         ragMessageOK,
	}, nil
}

// BuildRAGPrompt renders the user prompt from retrieved chunks, in retrieval order.
func BuildRAGPrompt(query string, retrieved []models.RetrievedChunk) string {
	texts := make([]string, len(retrieved))
	for i := range retrieved {
		texts[i] = retrieved[i].Text
	}

	return "Data summary and examples:\n" + strings.Join(texts, "\n") +
		"\n\nQuestion: " + query +
		"\nAnswer briefly, accurately and data-focused. If unsure, say 'data insufficient'."
}

func (s *RAGService) embedQuery(ctx context.Context, query string) ([]float32, error) {
	if s.cache == nil {
		return embeddings.EmbedOne(ctx, s.embedder, query)
	}

	// Vectors from different models are not comparable.
	key := s.embedder.Model() + "\x00" + query

	vec, hit, err := s.cache.Fetch(ctx, key, func(ctx context.Context, _ string) ([]float32, error) {
		return embeddings.EmbedOne(ctx, s.embedder, query)
	})
	if err != nil {
		return nil, err
	}

	if s.cacheMetrics != nil {
		s.cacheMetrics.RecordLookup(ctx, queryEmbeddingCacheName, hit)
	}

	return vec, nil
}

func failedRAGResponse(message string) *models.RAGQueryResponse {
	return &models.RAGQueryResponse{
		Success:         false,
		Answer:          "",
		RetrievedChunks: []models.RetrievedChunk{},
		Message:         message,
	}
}

func ragOutcome(resp *models.RAGQueryResponse, err error) string {
	switch {
	case err != nil && (errors.Is(err, huberrors.ErrValidation) ||
		errors.Is(err, huberrors.ErrNotFound) || errors.Is(err, huberrors.ErrForbidden)):
		return "rejected"
	case err != nil:
		return "error"
	case resp.Success:
		return "answered"
	default:
		return "unanswered"
	}
}
