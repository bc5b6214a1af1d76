package analysis

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retailiq/hub/internal/models"
)

func TestClient_Analyze(t *testing.T) {
	var got Request

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/analyze", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"analysis":{"basic_stats":{"total_rows":500},"sales_analysis":{"total":1000}}}`))
	}))
	defer srv.Close()

	c := NewClient(ClientOptions{BaseURL: srv.URL + "/"})

	analysis, err := c.Analyze(context.Background(), "f1", []byte("sku,qty\na,1\n"))
	require.NoError(t, err)

	assert.Len(t, analysis, 2)
	assert.JSONEq(t, `{"total_rows":500}`, string(analysis["basic_stats"]))
	assert.Equal(t, "f1", got.FileID)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("sku,qty\na,1\n")), got.FileData)
	assert.Equal(t, models.RequestedAnalysisTypes, got.AnalysisTypes)
}

func TestClient_Analyze_BodyWithoutAnalysisKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"basic_stats":{"total_rows":3},"data_preview":[{"a":1}]}`))
	}))
	defer srv.Close()

	analysis, err := NewClient(ClientOptions{BaseURL: srv.URL}).Analyze(context.Background(), "f1", []byte("x"))
	require.NoError(t, err)

	assert.Contains(t, analysis, "basic_stats")
	assert.Contains(t, analysis, "data_preview")
}

func TestClient_Analyze_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte("unsupported file"))
	}))
	defer srv.Close()

	_, err := NewClient(ClientOptions{BaseURL: srv.URL}).Analyze(context.Background(), "f1", []byte("x"))
	require.Error(t, err)
	assert.Equal(t, "analysis service returned 422: unsupported file", err.Error())
}

func TestClient_Analyze_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"analysis":{"basic_stats":{}}}`))
	}))
	defer srv.Close()

	c := NewClient(ClientOptions{
		BaseURL:      srv.URL,
		RetryMax:     2,
		RetryWaitMin: time.Millisecond,
		RetryWaitMax: 2 * time.Millisecond,
	})

	analysis, err := c.Analyze(context.Background(), "f1", []byte("x"))
	require.NoError(t, err)
	assert.Contains(t, analysis, "basic_stats")
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_Analyze_ExhaustedRetriesKeepStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("busy"))
	}))
	defer srv.Close()

	c := NewClient(ClientOptions{BaseURL: srv.URL, RetryMax: 1, RetryWaitMin: time.Millisecond, RetryWaitMax: time.Millisecond})

	_, err := c.Analyze(context.Background(), "f1", []byte("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "analysis service returned 503")
}

func TestClient_Analyze_InvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[1,2]`))
	}))
	defer srv.Close()

	_, err := NewClient(ClientOptions{BaseURL: srv.URL}).Analyze(context.Background(), "f1", []byte("x"))
	assert.ErrorIs(t, err, ErrInvalidResponse)
}
