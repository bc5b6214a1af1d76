//go:build integration

package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/retailiq/hub/internal/huberrors"
	"github.com/retailiq/hub/internal/models"
	"github.com/retailiq/hub/migrations"
	"github.com/retailiq/hub/pkg/database"
)

func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("hub"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := database.NewPostgresPool(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(db.Close)

	require.NoError(t, migrations.Apply(ctx, db))
	// second run is a no-op
	require.NoError(t, migrations.Apply(ctx, db))

	return db
}

func createFile(t *testing.T, repo *UploadedFilesRepository, userID string) *models.UploadedFile {
	t.Helper()

	id := uuid.Must(uuid.NewV7())
	f, err := repo.Create(context.Background(), &models.CreateUploadedFileRequest{
		ID:          id,
		UserID:      userID,
		FilePath:    "uploads/" + userID + "/" + id.String() + "-sales.csv",
		FileName:    "sales.csv",
		SizeBytes:   42,
		ContentType: "text/csv",
	})
	require.NoError(t, err)

	return f
}

func TestRepositories(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	files := NewUploadedFilesRepository(db)
	analysis := NewAnalysisRepository(db)

	t.Run("status transitions follow the table", func(t *testing.T) {
		f := createFile(t, files, "user-1")
		assert.Equal(t, models.FileStatusPending, f.Status)

		_, err := files.Transition(ctx, f.ID, models.FileStatusProcessing, "")
		assert.ErrorIs(t, err, huberrors.ErrConflict)

		f, err = files.Transition(ctx, f.ID, models.FileStatusUploaded, "")
		require.NoError(t, err)
		f, err = files.Transition(ctx, f.ID, models.FileStatusProcessing, "")
		require.NoError(t, err)
		require.NotNil(t, f.ProcessingStartedAt)

		rows := 500
		f, err = files.Complete(ctx, f.ID, &models.CompleteFileRequest{RowCount: &rows, Columns: json.RawMessage(`["sku"]`)})
		require.NoError(t, err)
		assert.Equal(t, models.FileStatusCompleted, f.Status)
		require.NotNil(t, f.RowCount)
		assert.Equal(t, 500, *f.RowCount)
		assert.JSONEq(t, `["sku"]`, string(f.Columns))

		_, err = files.Transition(ctx, uuid.Must(uuid.NewV7()), models.FileStatusUploaded, "")
		assert.ErrorIs(t, err, huberrors.ErrNotFound)
	})

	t.Run("failed records the error", func(t *testing.T) {
		f := createFile(t, files, "user-1")
		f, err := files.Transition(ctx, f.ID, models.FileStatusFailed, "analysis service returned 500: boom")
		require.NoError(t, err)
		require.NotNil(t, f.Error)
		assert.Equal(t, "analysis service returned 500: boom", *f.Error)

		f, err = files.Transition(ctx, f.ID, models.FileStatusUploaded, "")
		require.NoError(t, err)
		assert.Nil(t, f.Error)
	})

	t.Run("replace derived rows is idempotent", func(t *testing.T) {
		f := createFile(t, files, "user-2")
		now := time.Now().UTC()
		results := []models.AnalysisResult{{
			ID: uuid.Must(uuid.NewV7()), FileID: f.ID, AnalysisType: "basic_stats",
			ResultJSON: json.RawMessage(`{"total_rows":500}`), CreatedAt: now,
		}}
		chunk := models.Chunk{
			ID: uuid.Must(uuid.NewV7()), FileID: f.ID, Text: `{"basic_stats":{"total_rows":500}}`,
			Type: models.ChunkTypeAnalysis, Source: "basic_stats", CreatedAt: now,
		}

		require.NoError(t, analysis.ReplaceDerived(ctx, f.ID, results, []models.Chunk{chunk}))
		require.NoError(t, analysis.InsertEmbeddings(ctx, []models.Embedding{{
			ID: uuid.Must(uuid.NewV7()), FileID: f.ID, ChunkID: chunk.ID, Vector: []float32{0.5, 0.25},
			VectorStore: models.VectorStoreJSON, Model: "test", CreatedAt: now,
		}}))

		counts, err := analysis.Counts(ctx, f.ID)
		require.NoError(t, err)
		assert.Equal(t, models.FileArtifactCounts{AnalysisResults: 1, Chunks: 1, Embeddings: 1}, *counts)

		embeddings, err := analysis.ListEmbeddings(ctx, f.ID)
		require.NoError(t, err)
		require.Len(t, embeddings, 1)
		assert.Equal(t, []float32{0.5, 0.25}, embeddings[0].Vector)

		// second run with fresh ids replaces everything
		results[0].ID = uuid.Must(uuid.NewV7())
		chunk.ID = uuid.Must(uuid.NewV7())
		require.NoError(t, analysis.ReplaceDerived(ctx, f.ID, results, []models.Chunk{chunk}))

		counts, err = analysis.Counts(ctx, f.ID)
		require.NoError(t, err)
		assert.Equal(t, models.FileArtifactCounts{AnalysisResults: 1, Chunks: 1, Embeddings: 0}, *counts)

		missing, err := analysis.ListChunksWithoutEmbedding(ctx, f.ID)
		require.NoError(t, err)
		require.Len(t, missing, 1)
		assert.Equal(t, chunk.ID, missing[0].ID)

		latest, err := analysis.LatestResults(ctx, f.ID)
		require.NoError(t, err)
		assert.JSONEq(t, `{"total_rows":500}`, string(latest["basic_stats"]))
	})

	t.Run("lease expiry fails stuck files", func(t *testing.T) {
		f := createFile(t, files, "user-3")
		_, err := files.Transition(ctx, f.ID, models.FileStatusUploaded, "")
		require.NoError(t, err)
		_, err = files.Transition(ctx, f.ID, models.FileStatusProcessing, "")
		require.NoError(t, err)

		expired, err := files.FailExpiredProcessing(ctx, time.Now().Add(time.Minute), "processing lease expired")
		require.NoError(t, err)
		require.Len(t, expired, 1)
		assert.Equal(t, models.FileStatusFailed, expired[0].Status)
		assert.Equal(t, "processing lease expired", *expired[0].Error)
	})

	t.Run("delete by month", func(t *testing.T) {
		f := createFile(t, files, "user-4")
		from := time.Date(f.CreatedAt.Year(), f.CreatedAt.Month(), 1, 0, 0, 0, 0, time.UTC)

		deleted, err := files.DeleteByUserCreatedBetween(ctx, "user-4", from, from.AddDate(0, 1, 0))
		require.NoError(t, err)
		require.Len(t, deleted, 1)

		_, err = files.GetByID(ctx, f.ID)
		assert.ErrorIs(t, err, huberrors.ErrNotFound)
	})
}

func TestSessionsRepository(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	_, err := db.Exec(ctx, `INSERT INTO "user" (id, email) VALUES ('u1', 'u1@example.com')`)
	require.NoError(t, err)
	_, err = db.Exec(ctx, `INSERT INTO session (id, token, user_id, expires_at) VALUES ('s1', 'tok', 'u1', now() + interval '1 day')`)
	require.NoError(t, err)

	repo := NewSessionsRepository(db)

	s, err := repo.GetByToken(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, "u1", s.UserID)
	assert.False(t, s.Expired(time.Now()))

	_, err = repo.GetByToken(ctx, "nope")
	assert.ErrorIs(t, err, huberrors.ErrNotFound)
}
