package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/retailiq/hub/internal/models"
)

// AnalysisRepository handles data access for analysis_results, chunks and embeddings.
type AnalysisRepository struct {
	db *pgxpool.Pool
}

// NewAnalysisRepository creates a new analysis repository.
func NewAnalysisRepository(db *pgxpool.Pool) *AnalysisRepository {
	return &AnalysisRepository{db: db}
}

// ReplaceDerived deletes every analysis result, chunk and embedding of the file and inserts
// results and chunks, all in one transaction. Running it twice with the same input leaves the
// same rows.
func (r *AnalysisRepository) ReplaceDerived(
	ctx context.Context, fileID uuid.UUID, results []models.AnalysisResult, chunks []models.Chunk,
) error {
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		// embeddings follow their chunks via ON DELETE CASCADE
		if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE file_id = $1`, fileID); err != nil {
			return fmt.Errorf("delete chunks: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM analysis_results WHERE file_id = $1`, fileID); err != nil {
			return fmt.Errorf("delete analysis results: %w", err)
		}

		batch := &pgx.Batch{}
		for i := range results {
			res := &results[i]
			batch.Queue(`
				INSERT INTO analysis_results (id, file_id, analysis_type, result_json, created_at)
				VALUES ($1, $2, $3, $4, $5)`,
				res.ID, fileID, res.AnalysisType, []byte(res.ResultJSON), res.CreatedAt,
			)
		}
		for i := range chunks {
			c := &chunks[i]
			batch.Queue(`
				INSERT INTO chunks (id, file_id, chunk_text, chunk_type, source, position, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				c.ID, fileID, c.Text, string(c.Type), c.Source, c.Position, c.CreatedAt,
			)
		}

		if batch.Len() == 0 {
			return nil
		}

		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert derived rows: %w", err)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("replace derived rows: %w", err)
	}

	return nil
}

// InsertEmbeddings stores vectors for their chunks. An existing embedding for the same chunk is
// overwritten; a vector whose chunk no longer exists (replaced by a newer run) is dropped.
func (r *AnalysisRepository) InsertEmbeddings(ctx context.Context, embeddings []models.Embedding) error {
	if len(embeddings) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for i := range embeddings {
		e := &embeddings[i]

		vector, err := json.Marshal(e.Vector)
		if err != nil {
			return fmt.Errorf("marshal embedding vector: %w", err)
		}

		batch.Queue(`
			INSERT INTO embeddings (id, file_id, chunk_id, vector, vector_store, model, created_at)
			SELECT $1::uuid, c.file_id, c.id, $4::jsonb, $5::text, $6::text, $7::timestamptz
			FROM chunks c WHERE c.id = $3 AND c.file_id = $2
			ON CONFLICT (chunk_id) DO UPDATE SET
				vector = EXCLUDED.vector, vector_store = EXCLUDED.vector_store,
				model = EXCLUDED.model, created_at = EXCLUDED.created_at`,
			e.ID, e.FileID, e.ChunkID, vector, e.VectorStore, e.Model, e.CreatedAt,
		)
	}

	if err := r.db.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("embeddings insert: %w", err)
	}

	return nil
}

// ListChunks returns the file's chunks in position order.
func (r *AnalysisRepository) ListChunks(ctx context.Context, fileID uuid.UUID) ([]models.Chunk, error) {
	return r.queryChunks(ctx, `
		SELECT id, file_id, chunk_text, chunk_type, source, position, created_at
		FROM chunks WHERE file_id = $1 ORDER BY position, id`, fileID)
}

// ListChunksWithoutEmbedding returns the file's chunks that have no embedding yet.
func (r *AnalysisRepository) ListChunksWithoutEmbedding(ctx context.Context, fileID uuid.UUID) ([]models.Chunk, error) {
	return r.queryChunks(ctx, `
		SELECT c.id, c.file_id, c.chunk_text, c.chunk_type, c.source, c.position, c.created_at
		FROM chunks c
		LEFT JOIN embeddings e ON e.chunk_id = c.id
		WHERE c.file_id = $1 AND e.id IS NULL
		ORDER BY c.position, c.id`, fileID)
}

func (r *AnalysisRepository) queryChunks(ctx context.Context, query string, fileID uuid.UUID) ([]models.Chunk, error) {
	rows, err := r.db.Query(ctx, query, fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	defer rows.Close()

	chunks := []models.Chunk{}
	for rows.Next() {
		var (
			c         models.Chunk
			chunkType string
		)
		if err := rows.Scan(&c.ID, &c.FileID, &c.Text, &chunkType, &c.Source, &c.Position, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		c.Type = models.ChunkType(chunkType)
		chunks = append(chunks, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating chunks: %w", err)
	}

	return chunks, nil
}

// ListEmbeddings returns every embedding of the file in chunk position order.
func (r *AnalysisRepository) ListEmbeddings(ctx context.Context, fileID uuid.UUID) ([]models.Embedding, error) {
	rows, err := r.db.Query(ctx, `
		SELECT e.id, e.file_id, e.chunk_id, e.vector, e.vector_store, e.model, e.created_at
		FROM embeddings e
		JOIN chunks c ON c.id = e.chunk_id
		WHERE e.file_id = $1
		ORDER BY c.position, c.id`, fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to list embeddings: %w", err)
	}
	defer rows.Close()

	embeddings := []models.Embedding{}
	for rows.Next() {
		var (
			e      models.Embedding
			vector []byte
		)
		if err := rows.Scan(&e.ID, &e.FileID, &e.ChunkID, &vector, &e.VectorStore, &e.Model, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan embedding: %w", err)
		}
		if err := json.Unmarshal(vector, &e.Vector); err != nil {
			return nil, fmt.Errorf("failed to decode embedding %s: %w", e.ID, err)
		}
		embeddings = append(embeddings, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating embeddings: %w", err)
	}

	return embeddings, nil
}

// LatestResults returns analysis_type → result_json for the file. When a type appears more
// than once the newest row wins.
func (r *AnalysisRepository) LatestResults(ctx context.Context, fileID uuid.UUID) (map[string]json.RawMessage, error) {
	rows, err := r.db.Query(ctx, `
		SELECT DISTINCT ON (analysis_type) analysis_type, result_json
		FROM analysis_results
		WHERE file_id = $1
		ORDER BY analysis_type, created_at DESC`, fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to list analysis results: %w", err)
	}
	defer rows.Close()

	results := map[string]json.RawMessage{}
	for rows.Next() {
		var (
			analysisType string
			value        []byte
		)
		if err := rows.Scan(&analysisType, &value); err != nil {
			return nil, fmt.Errorf("failed to scan analysis result: %w", err)
		}
		results[analysisType] = value
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating analysis results: %w", err)
	}

	return results, nil
}

// Counts returns how many results, chunks and embeddings exist for the file.
func (r *AnalysisRepository) Counts(ctx context.Context, fileID uuid.UUID) (*models.FileArtifactCounts, error) {
	var counts models.FileArtifactCounts

	err := r.db.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM analysis_results WHERE file_id = $1),
			(SELECT COUNT(*) FROM chunks WHERE file_id = $1),
			(SELECT COUNT(*) FROM embeddings WHERE file_id = $1)`, fileID,
	).Scan(&counts.AnalysisResults, &counts.Chunks, &counts.Embeddings)
	if err != nil {
		return nil, fmt.Errorf("failed to count file artifacts: %w", err)
	}

	return &counts, nil
}
