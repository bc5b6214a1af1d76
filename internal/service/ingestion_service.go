package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/retailiq/hub/internal/chunking"
	"github.com/retailiq/hub/internal/embeddings"
	"github.com/retailiq/hub/internal/huberrors"
	"github.com/retailiq/hub/internal/models"
	"github.com/retailiq/hub/internal/observability"
)

// FileStore is the uploaded_files access needed by the pipeline.
type FileStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.UploadedFile, error)
	Transition(ctx context.Context, id uuid.UUID, next models.FileStatus, errMsg string) (*models.UploadedFile, error)
	Complete(ctx context.Context, id uuid.UUID, req *models.CompleteFileRequest) (*models.UploadedFile, error)
}

// DerivedStore is the analysis_results / chunks / embeddings access needed by the pipeline.
type DerivedStore interface {
	ReplaceDerived(ctx context.Context, fileID uuid.UUID, results []models.AnalysisResult, chunks []models.Chunk) error
	InsertEmbeddings(ctx context.Context, embeddings []models.Embedding) error
	ListChunksWithoutEmbedding(ctx context.Context, fileID uuid.UUID) ([]models.Chunk, error)
}

// ObjectReader reads uploaded file bytes from object storage.
type ObjectReader interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// Analyzer calls the external analysis service.
type Analyzer interface {
	Analyze(ctx context.Context, fileID string, data []byte) (map[string]json.RawMessage, error)
}

// StatusNotifier is told about terminal file transitions (e.g. to enqueue a webhook).
type StatusNotifier interface {
	NotifyFileStatus(ctx context.Context, file *models.UploadedFile)
}

// IngestionConfig holds optional collaborators and tuning for IngestionService.
type IngestionConfig struct {
	// Embedder embeds chunks; nil skips the embedding step.
	Embedder *embeddings.Batcher
	// Notifier may be nil.
	Notifier StatusNotifier
	// Metrics may be nil when metrics are disabled.
	Metrics  observability.IngestionMetrics
	Chunking chunking.Options
}

// IngestionService turns one uploaded file into analysis results, chunks and embeddings.
type IngestionService struct {
	files    FileStore
	derived  DerivedStore
	objects  ObjectReader
	analyzer Analyzer
	embedder *embeddings.Batcher
	notifier StatusNotifier
	metrics  observability.IngestionMetrics
	chunking chunking.Options
	now      func() time.Time
}

// NewIngestionService creates a new ingestion service.
func NewIngestionService(
	files FileStore, derived DerivedStore, objects ObjectReader, analyzer Analyzer, cfg IngestionConfig,
) *IngestionService {
	return &IngestionService{
		files:    files,
		derived:  derived,
		objects:  objects,
		analyzer: analyzer,
		embedder: cfg.Embedder,
		notifier: cfg.Notifier,
		metrics:  cfg.Metrics,
		chunking: cfg.Chunking,
		now:      time.Now,
	}
}

// ErrSkipped is returned by Process when the file cannot be processed and retrying will not help
// (missing file or a status that does not allow processing). Callers should not retry.
var ErrSkipped = errors.New("ingestion: file skipped")

// ProcessResult summarizes a successful run.
type ProcessResult struct {
	Results       int
	Chunks        int
	Embedded      int
	FailedBatches int
}

// Process runs the pipeline for one file: processing → fetch → analyze → chunk → persist →
// embed → completed. Any failure before completion moves the file to failed with the error
// message and returns the error.
func (s *IngestionService) Process(ctx context.Context, fileID uuid.UUID, storageKey string) (*ProcessResult, error) {
	ctx, span := observability.StartSpan(ctx, "ingestion.process", observability.FileIDAttr(fileID.String()))
	res, err := s.process(ctx, fileID, storageKey)
	observability.EndSpan(span, err)

	return res, err
}

func (s *IngestionService) process(ctx context.Context, fileID uuid.UUID, storageKey string) (*ProcessResult, error) {
	start := s.now()

	file, err := s.files.Transition(ctx, fileID, models.FileStatusProcessing, "")
	if err != nil {
		if errors.Is(err, huberrors.ErrNotFound) || errors.Is(err, huberrors.ErrConflict) {
			s.recordOutcome(ctx, "skipped", start)
			slog.Warn("ingestion: file skipped",
				"file_id", fileID,
				"error", err,
			)

			return nil, fmt.Errorf("%w: %w", ErrSkipped, err)
		}

		return nil, s.fail(ctx, fileID, "transition", fmt.Errorf("set processing: %w", err), start)
	}

	if storageKey == "" {
		storageKey = file.FilePath
	}

	data, err := s.objects.Get(ctx, storageKey)
	if err != nil {
		return nil, s.fail(ctx, fileID, "fetch", fmt.Errorf("fetch file: %w", err), start)
	}

	actx, aspan := observability.StartSpan(ctx, "ingestion.analyze")
	analysis, err := s.analyzer.Analyze(actx, fileID.String(), data)
	observability.EndSpan(aspan, err)

	if err != nil {
		return nil, s.fail(ctx, fileID, "analyze", err, start)
	}

	out, err := chunking.Build(analysis, s.chunking)
	if err != nil {
		return nil, s.fail(ctx, fileID, "build", fmt.Errorf("build chunks: %w", err), start)
	}

	results, chunks := s.rows(fileID, out)

	if err := s.derived.ReplaceDerived(ctx, fileID, results, chunks); err != nil {
		return nil, s.fail(ctx, fileID, "persist", err, start)
	}

	slog.Info("ingestion: results persisted",
		"file_id", fileID,
		"results", len(results),
		"chunks", len(chunks),
	)

	if s.metrics != nil {
		s.metrics.RecordChunks(ctx, int64(len(chunks)))
	}

	res := &ProcessResult{Results: len(results), Chunks: len(chunks)}

	if len(chunks) > 0 {
		ectx, espan := observability.StartSpan(ctx, "ingestion.embed")
		embedded, failedBatches, err := s.embed(ectx, fileID, chunks)
		observability.EndSpan(espan, err)

		if err != nil {
			return nil, s.fail(ctx, fileID, "embed", err, start)
		}
		res.Embedded, res.FailedBatches = embedded, failedBatches
	}

	completed, err := s.files.Complete(ctx, fileID, &models.CompleteFileRequest{
		RowCount: out.RowCount,
		Columns:  out.Columns,
	})
	if err != nil {
		return nil, s.fail(ctx, fileID, "complete", fmt.Errorf("complete file: %w", err), start)
	}

	s.recordOutcome(ctx, string(models.FileStatusCompleted), start)
	s.notify(ctx, completed)

	slog.Info("ingestion: file completed",
		"file_id", fileID,
		"embedded", res.Embedded,
		"failed_batches", res.FailedBatches,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return res, nil
}

// EmbedMissing embeds every chunk of the file that has no embedding yet and returns how many
// were stored. It does not change the file status.
func (s *IngestionService) EmbedMissing(ctx context.Context, fileID uuid.UUID) (int, error) {
	if s.embedder == nil {
		return 0, nil
	}

	chunks, err := s.derived.ListChunksWithoutEmbedding(ctx, fileID)
	if err != nil {
		return 0, err
	}

	if len(chunks) == 0 {
		return 0, nil
	}

	embedded, _, err := s.embed(ctx, fileID, chunks)

	return embedded, err
}

// rows assigns ids and timestamps to the pure chunking output.
func (s *IngestionService) rows(fileID uuid.UUID, out *chunking.Output) ([]models.AnalysisResult, []models.Chunk) {
	now := s.now().UTC()

	results := make([]models.AnalysisResult, len(out.Results))
	for i, r := range out.Results {
		results[i] = models.AnalysisResult{
			ID:           uuid.Must(uuid.NewV7()),
			FileID:       fileID,
			AnalysisType: r.AnalysisType,
			ResultJSON:   r.Value,
			CreatedAt:    now,
		}
	}

	chunks := make([]models.Chunk, len(out.Chunks))
	for i, p := range out.Chunks {
		chunks[i] = models.Chunk{
			ID:        uuid.Must(uuid.NewV7()),
			FileID:    fileID,
			Text:      p.Text,
			Type:      p.Type,
			Source:    p.Source,
			Position:  p.Position,
			CreatedAt: now,
		}
	}

	return results, chunks
}

// embed runs the tagged batch embedder and stores what came back. Batch failures and storage
// failures are logged and leave chunks for the backfill; only a done context is returned.
func (s *IngestionService) embed(ctx context.Context, fileID uuid.UUID, chunks []models.Chunk) (int, int, error) {
	if s.embedder == nil {
		return 0, 0, nil
	}

	items := make([]embeddings.Item, len(chunks))
	for i := range chunks {
		items[i] = embeddings.Item{ID: chunks[i].ID, Text: chunks[i].Text}
	}

	report, err := s.embedder.Embed(ctx, items)
	if err != nil {
		return 0, 0, fmt.Errorf("embed chunks: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RecordEmbeddingBatches(ctx, int64(report.Batches-report.FailedBatches), int64(report.FailedBatches))
	}

	if len(report.Embedded) == 0 {
		return 0, report.FailedBatches, nil
	}

	model := s.embedder.Model()
	store := models.VectorStoreJSON
	if model == embeddings.PlaceholderModel {
		store = models.VectorStoreSimple
	}

	now := s.now().UTC()
	rows := make([]models.Embedding, len(report.Embedded))
	for i, tagged := range report.Embedded {
		rows[i] = models.Embedding{
			ID:          uuid.Must(uuid.NewV7()),
			FileID:      fileID,
			ChunkID:     tagged.ID,
			Vector:      tagged.Vector,
			VectorStore: store,
			Model:       model,
			CreatedAt:   now,
		}
	}

	if err := s.derived.InsertEmbeddings(ctx, rows); err != nil {
		if ctx.Err() != nil {
			return 0, report.FailedBatches, fmt.Errorf("store embeddings: %w", err)
		}

		slog.Error("ingestion: storing embeddings failed",
			"file_id", fileID,
			"count", len(rows),
			"error", err,
		)

		return 0, report.FailedBatches, nil
	}

	slog.Info("ingestion: embeddings stored",
		"file_id", fileID,
		"count", len(rows),
		"failed_batches", report.FailedBatches,
		"model", model,
	)

	return len(rows), report.FailedBatches, nil
}

// fail records cause on the file (status failed) and returns cause. The status write uses a
// context detached from cancellation so a timed-out job still leaves a terminal status.
func (s *IngestionService) fail(ctx context.Context, fileID uuid.UUID, stage string, cause error, start time.Time) error {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	file, err := s.files.Transition(writeCtx, fileID, models.FileStatusFailed, cause.Error())
	if err != nil {
		slog.Error("ingestion: marking file failed did not succeed",
			"file_id", fileID,
			"cause", cause,
			"error", err,
		)
	}

	if s.metrics != nil {
		s.metrics.RecordStageError(ctx, stage)
	}
	s.recordOutcome(ctx, string(models.FileStatusFailed), start)

	slog.Error("ingestion: file failed",
		"file_id", fileID,
		"stage", stage,
		"error", cause,
	)

	if file != nil {
		s.notify(writeCtx, file)
	}

	return cause
}

func (s *IngestionService) notify(ctx context.Context, file *models.UploadedFile) {
	if s.notifier != nil {
		s.notifier.NotifyFileStatus(ctx, file)
	}
}

func (s *IngestionService) recordOutcome(ctx context.Context, status string, start time.Time) {
	if s.metrics == nil {
		return
	}

	s.metrics.RecordFileOutcome(ctx, status)
	s.metrics.RecordFileDuration(ctx, s.now().Sub(start), status)
}
