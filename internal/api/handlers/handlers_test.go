package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retailiq/hub/internal/api/middleware"
	"github.com/retailiq/hub/internal/huberrors"
	"github.com/retailiq/hub/internal/models"
	"github.com/retailiq/hub/internal/service"
)

const testUserID = "user-1"

func withUser(r *http.Request) *http.Request {
	session := &models.Session{ID: "s1", UserID: testUserID, ExpiresAt: time.Now().Add(time.Hour)}

	return r.WithContext(middleware.WithSession(r.Context(), session))
}

type mockRAGService struct {
	resp   *models.RAGQueryResponse
	err    error
	gotReq *models.RAGQueryRequest
	gotUID string
}

func (m *mockRAGService) Query(_ context.Context, userID string, req *models.RAGQueryRequest) (*models.RAGQueryResponse, error) {
	m.gotUID = userID
	m.gotReq = req

	return m.resp, m.err
}

func TestRAGHandler_Query(t *testing.T) {
	fileID := uuid.Must(uuid.NewV7()).String()
	validBody := `{"file_id":"` + fileID + `","query":"Which product sells best?","top_k":3}`

	tests := []struct {
		name       string
		body       string
		auth       bool
		svc        *mockRAGService
		wantStatus int
		wantBody   string
	}{
		{
			name:       "unauthenticated",
			body:       validBody,
			svc:        &mockRAGService{},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "invalid json",
			body:       `{`,
			auth:       true,
			svc:        &mockRAGService{},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing query",
			body:       `{"file_id":"` + fileID + `"}`,
			auth:       true,
			svc:        &mockRAGService{},
			wantStatus: http.StatusBadRequest,
			wantBody:   "query is required",
		},
		{
			name:       "file not found",
			body:       validBody,
			auth:       true,
			svc:        &mockRAGService{err: huberrors.NewNotFoundError("file", "file not found")},
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "other user's file",
			body:       validBody,
			auth:       true,
			svc:        &mockRAGService{err: huberrors.NewForbiddenError("file")},
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "unexpected error keeps the answer shape",
			body:       validBody,
			auth:       true,
			svc:        &mockRAGService{err: errors.New("connection reset")},
			wantStatus: http.StatusInternalServerError,
			wantBody:   `"retrieved_chunks":[]`,
		},
		{
			name: "no embeddings is 200 with success false",
			body: validBody,
			auth: true,
			svc: &mockRAGService{resp: &models.RAGQueryResponse{
				Success:         false,
				RetrievedChunks: []models.RetrievedChunk{},
				Message:         "no embeddings found for this file (chunks: 2, embeddings: 0); make sure analysis has completed",
			}},
			wantStatus: http.StatusOK,
			wantBody:   "chunks: 2, embeddings: 0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewRAGHandler(tt.svc)
			req := httptest.NewRequest(http.MethodPost, "/api/rag-query", strings.NewReader(tt.body))
			if tt.auth {
				req = withUser(req)
			}
			rec := httptest.NewRecorder()

			h.Query(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantBody != "" {
				assert.Contains(t, rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestRAGHandler_Query_PassesRequest(t *testing.T) {
	svc := &mockRAGService{resp: &models.RAGQueryResponse{Success: true, Answer: "A", Message: "OK"}}
	fileID := uuid.Must(uuid.NewV7()).String()
	body := `{"file_id":"` + fileID + `","query":"q","top_k":3}`

	rec := httptest.NewRecorder()
	NewRAGHandler(svc).Query(rec, withUser(httptest.NewRequest(http.MethodPost, "/api/rag-query", strings.NewReader(body))))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, testUserID, svc.gotUID)
	assert.Equal(t, fileID, svc.gotReq.FileID)
	require.NotNil(t, svc.gotReq.TopK)
	assert.Equal(t, 3, *svc.gotReq.TopK)

	var resp models.RAGQueryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
}

type mockFilesService struct {
	maxBytes    int64
	uploadIn    *service.UploadInput
	uploadErr   error
	reprocess   error
	deleteKey   string
	statusCalls int
}

func (m *mockFilesService) Upload(_ context.Context, in *service.UploadInput) (*models.UploadResponse, error) {
	m.uploadIn = in
	if m.uploadErr != nil {
		return nil, m.uploadErr
	}

	return &models.UploadResponse{Success: true, Message: "file uploaded and saved", Queued: true}, nil
}

func (m *mockFilesService) MaxBytes() int64 { return m.maxBytes }

func (m *mockFilesService) List(context.Context, string, *models.ListFilesFilters) (*models.ListFilesResponse, error) {
	return &models.ListFilesResponse{Success: true, Files: []models.UploadedFile{}}, nil
}

func (m *mockFilesService) Status(_ context.Context, _ string, id uuid.UUID) (*models.FileStatusResponse, error) {
	m.statusCalls++

	return &models.FileStatusResponse{Success: true, FileID: id, Status: models.FileStatusCompleted}, nil
}

func (m *mockFilesService) Reprocess(context.Context, string, uuid.UUID) (*models.UploadResponse, error) {
	if m.reprocess != nil {
		return nil, m.reprocess
	}

	return &models.UploadResponse{Success: true, Queued: true}, nil
}

func (m *mockFilesService) LatestAnalysis(context.Context, string) (*models.LatestAnalysisResponse, error) {
	return nil, huberrors.NewNotFoundError("file", "no uploaded files")
}

func (m *mockFilesService) Workspaces(context.Context, string) (*models.ListWorkspacesResponse, error) {
	return &models.ListWorkspacesResponse{Success: true, Workspaces: []models.Workspace{}}, nil
}

func (m *mockFilesService) DeleteWorkspace(_ context.Context, _, monthKey string) (*models.DeleteWorkspaceResponse, error) {
	m.deleteKey = monthKey

	return &models.DeleteWorkspaceResponse{Success: true, DeletedCount: 2}, nil
}

func multipartUpload(t *testing.T, field, name, contentType string, data []byte) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	header := make(map[string][]string)
	header["Content-Disposition"] = []string{`form-data; name="` + field + `"; filename="` + name + `"`}
	header["Content-Type"] = []string{contentType}

	part, err := mw.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	return withUser(req)
}

func TestFilesHandler_Upload(t *testing.T) {
	csv := []byte("date,product,amount\n2026-01-02,Coffee,3.5\n")

	t.Run("created", func(t *testing.T) {
		svc := &mockFilesService{maxBytes: 1 << 20}
		rec := httptest.NewRecorder()

		NewFilesHandler(svc).Upload(rec, multipartUpload(t, "file", "sales.csv", "text/csv", csv))

		require.Equal(t, http.StatusCreated, rec.Code)
		require.NotNil(t, svc.uploadIn)
		assert.Equal(t, testUserID, svc.uploadIn.UserID)
		assert.Equal(t, "sales.csv", svc.uploadIn.FileName)
		assert.Equal(t, "text/csv", svc.uploadIn.ContentType)
		assert.Equal(t, csv, svc.uploadIn.Data)
	})

	t.Run("missing file field", func(t *testing.T) {
		svc := &mockFilesService{maxBytes: 1 << 20}
		rec := httptest.NewRecorder()

		NewFilesHandler(svc).Upload(rec, multipartUpload(t, "attachment", "sales.csv", "text/csv", csv))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Nil(t, svc.uploadIn)
	})

	t.Run("too large", func(t *testing.T) {
		svc := &mockFilesService{maxBytes: 8}
		rec := httptest.NewRecorder()

		NewFilesHandler(svc).Upload(rec, multipartUpload(t, "file", "sales.csv", "text/csv", csv))

		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
		assert.Nil(t, svc.uploadIn)
	})

	t.Run("service validation error", func(t *testing.T) {
		svc := &mockFilesService{maxBytes: 1 << 20, uploadErr: huberrors.NewValidationError("file", "unsupported file type")}
		rec := httptest.NewRecorder()

		NewFilesHandler(svc).Upload(rec, multipartUpload(t, "file", "notes.txt", "text/plain", []byte("x")))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "unsupported file type")
	})

	t.Run("not multipart", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := withUser(httptest.NewRequest(http.MethodPost, "/api/upload", strings.NewReader("{}")))

		NewFilesHandler(&mockFilesService{maxBytes: 1 << 20}).Upload(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestFilesHandler_Routes(t *testing.T) {
	svc := &mockFilesService{maxBytes: 1 << 20}
	h := NewFilesHandler(svc)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/files", h.List)
	mux.HandleFunc("GET /api/files/{id}/status", h.Status)
	mux.HandleFunc("POST /api/files/{id}/reprocess", h.Reprocess)
	mux.HandleFunc("GET /api/analyze/workspace/latest", h.LatestAnalysis)
	mux.HandleFunc("GET /api/workspaces", h.Workspaces)
	mux.HandleFunc("DELETE /api/workspaces", h.DeleteWorkspace)

	serve := func(method, target string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, withUser(httptest.NewRequest(method, target, nil)))

		return rec
	}

	id := uuid.Must(uuid.NewV7()).String()

	assert.Equal(t, http.StatusOK, serve(http.MethodGet, "/api/files?limit=10").Code)
	assert.Equal(t, http.StatusBadRequest, serve(http.MethodGet, "/api/files?limit=0&offset=-1").Code)
	assert.Equal(t, http.StatusOK, serve(http.MethodGet, "/api/files/"+id+"/status").Code)
	assert.Equal(t, http.StatusBadRequest, serve(http.MethodGet, "/api/files/not-a-uuid/status").Code)
	assert.Equal(t, 1, svc.statusCalls)
	assert.Equal(t, http.StatusAccepted, serve(http.MethodPost, "/api/files/"+id+"/reprocess").Code)
	assert.Equal(t, http.StatusNotFound, serve(http.MethodGet, "/api/analyze/workspace/latest").Code)
	assert.Equal(t, http.StatusOK, serve(http.MethodGet, "/api/workspaces").Code)
	assert.Equal(t, http.StatusBadRequest, serve(http.MethodDelete, "/api/workspaces?id=2026-3").Code)
	assert.Equal(t, http.StatusOK, serve(http.MethodDelete, "/api/workspaces?id=2026-03").Code)
	assert.Equal(t, "2026-03", svc.deleteKey)

	svc.reprocess = huberrors.NewConflictError("file is processing")
	assert.Equal(t, http.StatusConflict, serve(http.MethodPost, "/api/files/"+id+"/reprocess").Code)
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func TestHealthHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHealthHandler(nil).Check(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	rec = httptest.NewRecorder()
	NewHealthHandler(map[string]Pinger{"database": fakePinger{}}).Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	NewHealthHandler(map[string]Pinger{
		"database": fakePinger{},
		"storage":  fakePinger{err: errors.New("dial tcp: refused")},
	}).Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"storage":"unavailable"`)
}
