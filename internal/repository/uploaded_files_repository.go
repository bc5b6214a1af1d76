package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/retailiq/hub/internal/huberrors"
	"github.com/retailiq/hub/internal/models"
)

const uploadedFileColumns = `id, user_id, file_path, file_name, size_bytes, content_type, status, schema_hash,
	columns, row_count, error, processing_started_at, created_at, updated_at`

// UploadedFilesRepository handles data access for uploaded_files.
type UploadedFilesRepository struct {
	db *pgxpool.Pool
}

// NewUploadedFilesRepository creates a new uploaded files repository.
func NewUploadedFilesRepository(db *pgxpool.Pool) *UploadedFilesRepository {
	return &UploadedFilesRepository{db: db}
}

func scanUploadedFile(row pgx.Row) (*models.UploadedFile, error) {
	var (
		f       models.UploadedFile
		status  string
		columns []byte
	)

	err := row.Scan(
		&f.ID, &f.UserID, &f.FilePath, &f.FileName, &f.SizeBytes, &f.ContentType, &status, &f.SchemaHash,
		&columns, &f.RowCount, &f.Error, &f.ProcessingStartedAt, &f.CreatedAt, &f.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	f.Status = models.FileStatus(status)
	if len(columns) > 0 {
		f.Columns = columns
	}

	return &f, nil
}

func collectUploadedFiles(rows pgx.Rows) ([]models.UploadedFile, error) {
	defer rows.Close()

	files := []models.UploadedFile{}
	for rows.Next() {
		f, err := scanUploadedFile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan uploaded file: %w", err)
		}
		files = append(files, *f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating uploaded files: %w", err)
	}

	return files, nil
}

// Create inserts a new file row in status pending.
func (r *UploadedFilesRepository) Create(
	ctx context.Context, req *models.CreateUploadedFileRequest,
) (*models.UploadedFile, error) {
	query := `
		INSERT INTO uploaded_files (id, user_id, file_path, file_name, size_bytes, content_type, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + uploadedFileColumns

	f, err := scanUploadedFile(r.db.QueryRow(ctx, query,
		req.ID, req.UserID, req.FilePath, req.FileName, req.SizeBytes, req.ContentType, models.FileStatusPending,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create uploaded file: %w", err)
	}

	return f, nil
}

// GetByID retrieves a single file by ID.
func (r *UploadedFilesRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.UploadedFile, error) {
	query := `SELECT ` + uploadedFileColumns + ` FROM uploaded_files WHERE id = $1`

	f, err := scanUploadedFile(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, huberrors.NewNotFoundError("file", "file not found")
		}
		return nil, fmt.Errorf("failed to get uploaded file: %w", err)
	}

	return f, nil
}

// ListByUser returns the user's files, newest first. limit <= 0 returns all files.
func (r *UploadedFilesRepository) ListByUser(
	ctx context.Context, userID string, limit, offset int,
) ([]models.UploadedFile, error) {
	query := `SELECT ` + uploadedFileColumns + ` FROM uploaded_files WHERE user_id = $1 ORDER BY created_at DESC, id DESC`
	args := []any{userID}

	if limit > 0 {
		query += " LIMIT $2 OFFSET $3"
		args = append(args, limit, offset)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list uploaded files: %w", err)
	}

	return collectUploadedFiles(rows)
}

// LatestByUser returns the user's most recent file.
func (r *UploadedFilesRepository) LatestByUser(ctx context.Context, userID string) (*models.UploadedFile, error) {
	files, err := r.ListByUser(ctx, userID, 1, 0)
	if err != nil {
		return nil, err
	}

	if len(files) == 0 {
		return nil, huberrors.NewNotFoundError("file", "no uploaded files found")
	}

	return &files[0], nil
}

// Transition moves a file to next when its current status is a legal source for next.
// Moving to processing stamps processing_started_at; moving to failed records errMsg;
// moving to uploaded or processing clears a previous error.
func (r *UploadedFilesRepository) Transition(
	ctx context.Context, id uuid.UUID, next models.FileStatus, errMsg string,
) (*models.UploadedFile, error) {
	return r.transition(ctx, id, next, errMsg, nil)
}

// Complete moves a processing file to completed and records row_count and columns.
func (r *UploadedFilesRepository) Complete(
	ctx context.Context, id uuid.UUID, req *models.CompleteFileRequest,
) (*models.UploadedFile, error) {
	return r.transition(ctx, id, models.FileStatusCompleted, "", req)
}

func (r *UploadedFilesRepository) transition(
	ctx context.Context, id uuid.UUID, next models.FileStatus, errMsg string, complete *models.CompleteFileRequest,
) (*models.UploadedFile, error) {
	sources := models.SourcesFor(next)
	if len(sources) == 0 {
		return nil, huberrors.NewConflictError(fmt.Sprintf("no transition leads to %s", next))
	}

	sourceNames := make([]string, len(sources))
	for i, s := range sources {
		sourceNames[i] = string(s)
	}

	var (
		errValue  *string
		rowCount  *int
		columns   []byte
		setExtras bool
	)

	switch next {
	case models.FileStatusFailed:
		errValue = &errMsg
	case models.FileStatusCompleted:
		if complete != nil {
			rowCount = complete.RowCount
			if len(complete.Columns) > 0 {
				columns = complete.Columns
			}
			setExtras = true
		}
	}

	query := `
		UPDATE uploaded_files SET
			status = $2,
			error = $3,
			processing_started_at = CASE WHEN $2 = 'processing' THEN now() ELSE processing_started_at END,
			row_count = CASE WHEN $5 THEN COALESCE($6, row_count) ELSE row_count END,
			columns = CASE WHEN $5 THEN COALESCE($7::jsonb, columns) ELSE columns END,
			updated_at = now()
		WHERE id = $1 AND status = ANY($4)
		RETURNING ` + uploadedFileColumns

	f, err := scanUploadedFile(r.db.QueryRow(ctx, query,
		id, string(next), errValue, sourceNames, setExtras, rowCount, columns,
	))
	if err == nil {
		return f, nil
	}

	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to update file status: %w", err)
	}

	current, getErr := r.GetByID(ctx, id)
	if getErr != nil {
		return nil, getErr
	}

	return nil, huberrors.NewConflictError(
		fmt.Sprintf("cannot move file from %s to %s", current.Status, next),
	)
}

// FailExpiredProcessing moves files that entered processing before cutoff to failed with msg
// and returns them.
func (r *UploadedFilesRepository) FailExpiredProcessing(
	ctx context.Context, cutoff time.Time, msg string,
) ([]models.UploadedFile, error) {
	query := `
		UPDATE uploaded_files SET status = $1, error = $2, updated_at = now()
		WHERE status = $3 AND processing_started_at < $4
		RETURNING ` + uploadedFileColumns

	rows, err := r.db.Query(ctx, query, models.FileStatusFailed, msg, models.FileStatusProcessing, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to expire processing files: %w", err)
	}

	return collectUploadedFiles(rows)
}

// DeleteByUserCreatedBetween deletes the user's files created in [from, to) and returns them.
// Derived rows go with them via ON DELETE CASCADE.
func (r *UploadedFilesRepository) DeleteByUserCreatedBetween(
	ctx context.Context, userID string, from, to time.Time,
) ([]models.UploadedFile, error) {
	query := `
		DELETE FROM uploaded_files
		WHERE user_id = $1 AND created_at >= $2 AND created_at < $3
		RETURNING ` + uploadedFileColumns

	rows, err := r.db.Query(ctx, query, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to delete uploaded files: %w", err)
	}

	return collectUploadedFiles(rows)
}

// ListIDsMissingEmbeddings returns ids of completed files that have at least one chunk without
// an embedding.
func (r *UploadedFilesRepository) ListIDsMissingEmbeddings(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, `
		SELECT f.id FROM uploaded_files f
		WHERE f.status = $1
		  AND EXISTS (
		    SELECT 1 FROM chunks c
		    LEFT JOIN embeddings e ON e.chunk_id = c.id
		    WHERE c.file_id = f.id AND e.id IS NULL
		  )
		ORDER BY f.created_at
	`, models.FileStatusCompleted)
	if err != nil {
		return nil, fmt.Errorf("list file ids missing embeddings: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan file id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate file ids: %w", err)
	}

	return ids, nil
}
