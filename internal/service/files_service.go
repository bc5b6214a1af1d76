package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Clever/csvlint"
	"github.com/google/uuid"

	"github.com/retailiq/hub/internal/huberrors"
	"github.com/retailiq/hub/internal/models"
	"github.com/retailiq/hub/internal/storage"
)

// DefaultUploadMaxBytes is the upload size limit when none is configured (50 MiB).
const DefaultUploadMaxBytes int64 = 50 << 20

// maxReportedCSVErrors caps how many csvlint findings are echoed back to the client.
const maxReportedCSVErrors = 5

// Content types accepted for upload.
const (
	ContentTypeCSV  = "text/csv"
	ContentTypeXLS  = "application/vnd.ms-excel"
	ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var allowedExtensions = map[string]string{
	".csv":  ContentTypeCSV,
	".xls":  ContentTypeXLS,
	".xlsx": ContentTypeXLSX,
}

// FilesRepository is the uploaded_files access used by FilesService.
type FilesRepository interface {
	Create(ctx context.Context, req *models.CreateUploadedFileRequest) (*models.UploadedFile, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.UploadedFile, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.UploadedFile, error)
	LatestByUser(ctx context.Context, userID string) (*models.UploadedFile, error)
	Transition(ctx context.Context, id uuid.UUID, next models.FileStatus, errMsg string) (*models.UploadedFile, error)
	DeleteByUserCreatedBetween(ctx context.Context, userID string, from, to time.Time) ([]models.UploadedFile, error)
}

// ResultsReader reads what analysis derived for a file.
type ResultsReader interface {
	LatestResults(ctx context.Context, fileID uuid.UUID) (map[string]json.RawMessage, error)
	Counts(ctx context.Context, fileID uuid.UUID) (*models.FileArtifactCounts, error)
}

// ObjectStore writes and removes uploaded objects.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Delete(ctx context.Context, key string) error
}

// AnalysisEnqueuer schedules analysis of a file.
type AnalysisEnqueuer interface {
	EnqueueAnalysis(ctx context.Context, fileID uuid.UUID, storageKey string) error
}

// UploadInput is one file received from a client.
type UploadInput struct {
	UserID      string
	FileName    string
	ContentType string
	Data        []byte
}

// FilesServiceParams holds dependencies for NewFilesService.
type FilesServiceParams struct {
	Files    FilesRepository
	Results  ResultsReader
	Objects  ObjectStore
	Enqueuer AnalysisEnqueuer
	MaxBytes int64
}

// FilesService handles uploads and the read APIs over a user's files.
type FilesService struct {
	files    FilesRepository
	results  ResultsReader
	objects  ObjectStore
	enqueuer AnalysisEnqueuer
	maxBytes int64
}

// NewFilesService creates a files service.
func NewFilesService(p FilesServiceParams) *FilesService {
	maxBytes := p.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultUploadMaxBytes
	}

	return &FilesService{
		files:    p.Files,
		results:  p.Results,
		objects:  p.Objects,
		enqueuer: p.Enqueuer,
		maxBytes: maxBytes,
	}
}

// MaxBytes returns the upload size limit.
func (s *FilesService) MaxBytes() int64 { return s.maxBytes }

// Upload validates and stores a file, records it, and enqueues analysis. Enqueue failure does
// not fail the upload; the response reports queued=false instead.
func (s *FilesService) Upload(ctx context.Context, in *UploadInput) (*models.UploadResponse, error) {
	name := strings.TrimSpace(in.FileName)
	if name == "" {
		return nil, huberrors.NewValidationError("file", "file name is required")
	}

	if len(in.Data) == 0 {
		return nil, huberrors.NewValidationError("file", "file is empty")
	}

	if int64(len(in.Data)) > s.maxBytes {
		return nil, huberrors.NewLimitExceededError(fmt.Sprintf("file exceeds the %d byte upload limit", s.maxBytes))
	}

	contentType, err := ResolveContentType(name, in.ContentType)
	if err != nil {
		return nil, err
	}

	if contentType == ContentTypeCSV {
		if err := validateCSV(in.Data); err != nil {
			return nil, err
		}
	}

	id := uuid.Must(uuid.NewV7())
	key := storage.UploadKey(in.UserID, id, name)

	if _, err := s.files.Create(ctx, &models.CreateUploadedFileRequest{
		ID:          id,
		UserID:      in.UserID,
		FilePath:    key,
		FileName:    name,
		SizeBytes:   int64(len(in.Data)),
		ContentType: contentType,
	}); err != nil {
		return nil, err
	}

	if err := s.objects.Put(ctx, key, bytes.NewReader(in.Data), int64(len(in.Data)), contentType); err != nil {
		if _, tErr := s.files.Transition(context.WithoutCancel(ctx), id, models.FileStatusFailed, "object upload failed"); tErr != nil {
			slog.Error("files: marking upload failed did not succeed", "file_id", id, "error", tErr)
		}

		return nil, fmt.Errorf("store upload: %w", err)
	}

	file, err := s.files.Transition(ctx, id, models.FileStatusUploaded, "")
	if err != nil {
		return nil, err
	}

	queued := true
	if err := s.enqueuer.EnqueueAnalysis(ctx, id, key); err != nil {
		queued = false

		slog.Error("files: enqueue analysis failed, continuing without queue",
			"file_id", id,
			"error", err,
		)
	}

	slog.Info("files: upload stored",
		"file_id", id,
		"user_id", in.UserID,
		"size_bytes", len(in.Data),
		"queued", queued,
	)

	return &models.UploadResponse{
		Success:      true,
		Message:      "file uploaded and saved",
		Queued:       queued,
		UploadedFile: *file,
	}, nil
}

// ResolveContentType returns the canonical content type for an upload. A declared type that is
// one of the allowed types wins; otherwise the file extension decides.
func ResolveContentType(fileName, declared string) (string, error) {
	mediaType := strings.ToLower(strings.TrimSpace(strings.Split(declared, ";")[0]))
	switch mediaType {
	case ContentTypeCSV, ContentTypeXLS, ContentTypeXLSX:
		return mediaType, nil
	}

	if ct, ok := allowedExtensions[strings.ToLower(filepath.Ext(fileName))]; ok {
		return ct, nil
	}

	return "", huberrors.NewValidationError("file", "only CSV, XLS and XLSX files are accepted")
}

func validateCSV(data []byte) error {
	invalids, _, err := csvlint.Validate(bytes.NewReader(data), ',', true)
	if err != nil {
		return huberrors.NewValidationError("file", fmt.Sprintf("csv could not be parsed: %v", err))
	}

	if len(invalids) == 0 {
		return nil
	}

	msgs := make([]string, 0, maxReportedCSVErrors)
	for i, invalid := range invalids {
		if i == maxReportedCSVErrors {
			break
		}
		msgs = append(msgs, invalid.Error())
	}

	return huberrors.NewValidationError("file", fmt.Sprintf("invalid csv (%d problems): %s",
		len(invalids), strings.Join(msgs, "; ")))
}

// List returns the user's files, newest first.
func (s *FilesService) List(ctx context.Context, userID string, filters *models.ListFilesFilters) (*models.ListFilesResponse, error) {
	files, err := s.files.ListByUser(ctx, userID, filters.Limit, filters.Offset)
	if err != nil {
		return nil, err
	}

	if files == nil {
		files = []models.UploadedFile{}
	}

	return &models.ListFilesResponse{
		Success: true,
		Files:   files,
		Limit:   filters.Limit,
		Offset:  filters.Offset,
	}, nil
}

// owned loads a file and checks it belongs to userID.
func (s *FilesService) owned(ctx context.Context, userID string, id uuid.UUID) (*models.UploadedFile, error) {
	file, err := s.files.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if file.UserID != userID {
		return nil, huberrors.NewForbiddenError("file")
	}

	return file, nil
}

// Status returns the processing status of one of the user's files with artifact counts.
func (s *FilesService) Status(ctx context.Context, userID string, id uuid.UUID) (*models.FileStatusResponse, error) {
	file, err := s.owned(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	counts, err := s.results.Counts(ctx, id)
	if err != nil {
		return nil, err
	}

	return &models.FileStatusResponse{
		Success:  true,
		FileID:   file.ID,
		FileName: file.FileName,
		Status:   file.Status,
		Error:    file.Error,
		RowCount: file.RowCount,
		Counts:   *counts,
	}, nil
}

// Reprocess moves a completed or failed file back to uploaded and enqueues analysis again.
func (s *FilesService) Reprocess(ctx context.Context, userID string, id uuid.UUID) (*models.UploadResponse, error) {
	if _, err := s.owned(ctx, userID, id); err != nil {
		return nil, err
	}

	file, err := s.files.Transition(ctx, id, models.FileStatusUploaded, "")
	if err != nil {
		return nil, err
	}

	queued := true
	if err := s.enqueuer.EnqueueAnalysis(ctx, id, file.FilePath); err != nil {
		queued = false

		slog.Error("files: enqueue reprocess failed", "file_id", id, "error", err)
	}

	return &models.UploadResponse{
		Success:      true,
		Message:      "file queued for reprocessing",
		Queued:       queued,
		UploadedFile: *file,
	}, nil
}

// LatestAnalysis returns the user's most recent file and its analysis results keyed by type.
// The raw file echo some analysis versions include is left out.
func (s *FilesService) LatestAnalysis(ctx context.Context, userID string) (*models.LatestAnalysisResponse, error) {
	file, err := s.files.LatestByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	results, err := s.results.LatestResults(ctx, file.ID)
	if err != nil {
		return nil, err
	}

	delete(results, models.AnalysisTypeRawFileBase64)

	return &models.LatestAnalysisResponse{
		Success:  true,
		File:     *file,
		Analysis: results,
		Message:  "latest analysis loaded",
	}, nil
}

// Workspaces groups the user's files by the calendar month (UTC) they were uploaded in.
// Workspaces are ordered by month, files inside by upload time.
func (s *FilesService) Workspaces(ctx context.Context, userID string) (*models.ListWorkspacesResponse, error) {
	files, err := s.files.ListByUser(ctx, userID, 0, 0)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(files, func(i, j int) bool {
		return files[i].CreatedAt.Before(files[j].CreatedAt)
	})

	byMonth := map[string]*models.Workspace{}
	var order []string

	for _, f := range files {
		created := f.CreatedAt.UTC()
		key := created.Format(monthKeyLayout)

		ws, ok := byMonth[key]
		if !ok {
			ws = &models.Workspace{
				ID:        key,
				Name:      created.Format("January 2006") + " Analyses",
				CreatedAt: created,
				Files:     []models.UploadedFile{},
			}
			byMonth[key] = ws
			order = append(order, key)
		}

		ws.FileCount++
		ws.TotalSize += f.SizeBytes
		if f.RowCount != nil {
			ws.TotalRows += int64(*f.RowCount)
		}
		ws.Files = append(ws.Files, f)
	}

	sort.Strings(order)

	workspaces := make([]models.Workspace, 0, len(order))
	for _, key := range order {
		workspaces = append(workspaces, *byMonth[key])
	}

	return &models.ListWorkspacesResponse{Success: true, Workspaces: workspaces}, nil
}

const monthKeyLayout = "2006-01"

// ParseMonthKey returns the [start, end) UTC range of a YYYY-MM key.
func ParseMonthKey(key string) (time.Time, time.Time, error) {
	start, err := time.Parse(monthKeyLayout, key)
	if err != nil {
		return time.Time{}, time.Time{}, huberrors.NewValidationError("id", "workspace id must be YYYY-MM")
	}

	return start, start.AddDate(0, 1, 0), nil
}

// DeleteWorkspace deletes the user's files uploaded in the given month. Stored objects are
// removed best-effort after the rows are gone.
func (s *FilesService) DeleteWorkspace(ctx context.Context, userID, monthKey string) (*models.DeleteWorkspaceResponse, error) {
	from, to, err := ParseMonthKey(monthKey)
	if err != nil {
		return nil, err
	}

	deleted, err := s.files.DeleteByUserCreatedBetween(ctx, userID, from, to)
	if err != nil {
		return nil, err
	}

	var objectErrs []error
	for _, f := range deleted {
		if err := s.objects.Delete(ctx, f.FilePath); err != nil {
			objectErrs = append(objectErrs, err)
		}
	}

	if err := errors.Join(objectErrs...); err != nil {
		slog.Warn("files: removing workspace objects failed",
			"user_id", userID,
			"workspace", monthKey,
			"failed", len(objectErrs),
			"error", err,
		)
	}

	slog.Info("files: workspace deleted",
		"user_id", userID,
		"workspace", monthKey,
		"deleted", len(deleted),
	)

	return &models.DeleteWorkspaceResponse{
		Success:      true,
		Message:      "workspace deleted",
		DeletedCount: int64(len(deleted)),
	}, nil
}
