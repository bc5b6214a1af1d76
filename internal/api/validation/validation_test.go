package validation

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retailiq/hub/internal/models"
)

func TestValidateStruct_RAGQuery(t *testing.T) {
	tests := []struct {
		name    string
		req     models.RAGQueryRequest
		wantErr string
	}{
		{"valid", models.RAGQueryRequest{FileID: "0195f0c4-7f3e-7a4b-9c1d-2e3f4a5b6c7d", Query: "top products?"}, ""},
		{"missing file id", models.RAGQueryRequest{Query: "q"}, "file_id is required"},
		{"bad uuid", models.RAGQueryRequest{FileID: "nope", Query: "q"}, "file_id must be a valid UUID"},
		{"missing query", models.RAGQueryRequest{FileID: "0195f0c4-7f3e-7a4b-9c1d-2e3f4a5b6c7d"}, "query is required"},
		{"null byte", models.RAGQueryRequest{FileID: "0195f0c4-7f3e-7a4b-9c1d-2e3f4a5b6c7d", Query: "a\x00b"}, "query must not contain NULL bytes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStruct(&tt.req)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateAndDecodeQueryParams_Workspace(t *testing.T) {
	tests := []struct {
		query   string
		wantErr bool
	}{
		{"id=2026-03", false},
		{"id=2026-13", true},
		{"id=March", true},
		{"", true},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodDelete, "/api/workspaces?"+tt.query, nil)

			var req models.DeleteWorkspaceRequest
			err := ValidateAndDecodeQueryParams(r, &req)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, "2026-03", req.ID)
			}
		})
	}
}

func TestValidateAndDecodeQueryParams_ListFiles(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/files?limit=20&offset=40", nil)

	var filters models.ListFilesFilters
	require.NoError(t, ValidateAndDecodeQueryParams(r, &filters))
	assert.Equal(t, 20, filters.Limit)
	assert.Equal(t, 40, filters.Offset)

	r = httptest.NewRequest(http.MethodGet, "/api/files?limit=5000", nil)
	err := ValidateAndDecodeQueryParams(r, &models.ListFilesFilters{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "limit must be at most 1000")

	r = httptest.NewRequest(http.MethodGet, "/api/files?limit=abc", nil)
	assert.Error(t, ValidateAndDecodeQueryParams(r, &models.ListFilesFilters{}))
}

func TestRespondValidationError(t *testing.T) {
	err := ValidateStruct(&models.RAGQueryRequest{})
	require.Error(t, err)

	rec := httptest.NewRecorder()
	RespondValidationError(rec, err)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "Validation Error")
	assert.Contains(t, rec.Body.String(), `"location":"file_id"`)
	assert.Contains(t, rec.Body.String(), `"location":"query"`)
}
