package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retailiq/hub/internal/chunking"
	"github.com/retailiq/hub/internal/embeddings"
	"github.com/retailiq/hub/internal/huberrors"
	"github.com/retailiq/hub/internal/models"
)

// memFiles is an in-memory FileStore that enforces the status transition table.
type memFiles struct {
	mu    sync.Mutex
	files map[uuid.UUID]*models.UploadedFile
}

func newMemFiles(files ...models.UploadedFile) *memFiles {
	m := &memFiles{files: map[uuid.UUID]*models.UploadedFile{}}
	for i := range files {
		f := files[i]
		m.files[f.ID] = &f
	}

	return m
}

func (m *memFiles) GetByID(_ context.Context, id uuid.UUID) (*models.UploadedFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.files[id]
	if !ok {
		return nil, huberrors.NewNotFoundError("file", "file not found")
	}
	out := *f

	return &out, nil
}

func (m *memFiles) Transition(_ context.Context, id uuid.UUID, next models.FileStatus, errMsg string) (*models.UploadedFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.files[id]
	if !ok {
		return nil, huberrors.NewNotFoundError("file", "file not found")
	}
	if !f.Status.CanTransitionTo(next) {
		return nil, huberrors.NewConflictError("cannot move file from " + string(f.Status) + " to " + string(next))
	}

	f.Status = next
	f.Error = nil
	if next == models.FileStatusFailed {
		f.Error = &errMsg
	}
	out := *f

	return &out, nil
}

func (m *memFiles) Complete(ctx context.Context, id uuid.UUID, req *models.CompleteFileRequest) (*models.UploadedFile, error) {
	f, err := m.Transition(ctx, id, models.FileStatusCompleted, "")
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stored := m.files[id]
	stored.RowCount = req.RowCount
	stored.Columns = req.Columns
	f.RowCount = req.RowCount
	f.Columns = req.Columns

	return f, nil
}

type memDerived struct {
	results    []models.AnalysisResult
	chunks     []models.Chunk
	embeddings []models.Embedding
	replaceErr error
	insertErr  error
}

func (m *memDerived) ReplaceDerived(_ context.Context, _ uuid.UUID, results []models.AnalysisResult, chunks []models.Chunk) error {
	if m.replaceErr != nil {
		return m.replaceErr
	}
	m.results = results
	m.chunks = chunks
	m.embeddings = nil

	return nil
}

func (m *memDerived) InsertEmbeddings(_ context.Context, rows []models.Embedding) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	m.embeddings = append(m.embeddings, rows...)

	return nil
}

func (m *memDerived) ListChunksWithoutEmbedding(_ context.Context, _ uuid.UUID) ([]models.Chunk, error) {
	embedded := map[uuid.UUID]bool{}
	for _, e := range m.embeddings {
		embedded[e.ChunkID] = true
	}

	var out []models.Chunk
	for _, c := range m.chunks {
		if !embedded[c.ID] {
			out = append(out, c)
		}
	}

	return out, nil
}

type mockObjects struct {
	data map[string][]byte
}

func (m *mockObjects) Get(_ context.Context, key string) ([]byte, error) {
	data, ok := m.data[key]
	if !ok {
		return nil, errors.New("object not found")
	}

	return data, nil
}

type mockAnalyzer struct {
	analyzeFunc func(ctx context.Context, fileID string, data []byte) (map[string]json.RawMessage, error)
}

func (m *mockAnalyzer) Analyze(ctx context.Context, fileID string, data []byte) (map[string]json.RawMessage, error) {
	return m.analyzeFunc(ctx, fileID, data)
}

type recordingNotifier struct {
	statuses []models.FileStatus
}

func (r *recordingNotifier) NotifyFileStatus(_ context.Context, file *models.UploadedFile) {
	r.statuses = append(r.statuses, file.Status)
}

type failingEmbedClient struct {
	calls int
}

func (f *failingEmbedClient) EmbedBatch(context.Context, []string) ([]embeddings.IndexedVector, error) {
	f.calls++

	return nil, errors.New("provider down")
}

func (f *failingEmbedClient) Model() string { return "failing" }

func uploadedFile(id uuid.UUID) models.UploadedFile {
	return models.UploadedFile{
		ID:       id,
		UserID:   "user-1",
		FilePath: "uploads/user-1/" + id.String() + "-sales.csv",
		FileName: "sales.csv",
		Status:   models.FileStatusUploaded,
	}
}

func staticAnalysis(body string) *mockAnalyzer {
	return &mockAnalyzer{analyzeFunc: func(context.Context, string, []byte) (map[string]json.RawMessage, error) {
		var m map[string]json.RawMessage
		if err := json.Unmarshal([]byte(body), &m); err != nil {
			return nil, err
		}

		return m, nil
	}}
}

func TestIngestionService_Process_EndToEnd(t *testing.T) {
	id := uuid.Must(uuid.NewV7())
	file := uploadedFile(id)
	files := newMemFiles(file)
	derived := &memDerived{}
	notifier := &recordingNotifier{}

	var gotData []byte
	analyzer := &mockAnalyzer{analyzeFunc: func(_ context.Context, fileID string, data []byte) (map[string]json.RawMessage, error) {
		assert.Equal(t, id.String(), fileID)
		gotData = data

		return map[string]json.RawMessage{
			"basic_stats":    json.RawMessage(`{"total_rows":500}`),
			"sales_analysis": json.RawMessage(`{"total":1000}`),
		}, nil
	}}

	svc := NewIngestionService(files, derived,
		&mockObjects{data: map[string][]byte{file.FilePath: []byte("sku,qty\na,1\n")}},
		analyzer,
		IngestionConfig{
			Embedder: embeddings.NewBatcher(embeddings.NewHashClient(8), embeddings.BatchOptions{Dimensions: 8}),
			Notifier: notifier,
		},
	)

	res, err := svc.Process(context.Background(), id, file.FilePath)
	require.NoError(t, err)

	assert.Equal(t, []byte("sku,qty\na,1\n"), gotData)
	assert.Equal(t, 2, res.Results)
	assert.Equal(t, 2, res.Chunks)
	assert.Equal(t, 2, res.Embedded)

	stored, err := files.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.FileStatusCompleted, stored.Status)
	require.NotNil(t, stored.RowCount)
	assert.Equal(t, 500, *stored.RowCount)
	assert.Nil(t, stored.Error)

	require.Len(t, derived.results, 2)
	require.Len(t, derived.chunks, 2)
	require.Len(t, derived.embeddings, 2)
	for i, e := range derived.embeddings {
		assert.Equal(t, derived.chunks[i].ID, e.ChunkID)
		assert.Equal(t, id, e.FileID)
		assert.Equal(t, models.VectorStoreJSON, e.VectorStore)
		assert.Equal(t, embeddings.HashModel, e.Model)
	}

	assert.Equal(t, []models.FileStatus{models.FileStatusCompleted}, notifier.statuses)
}

func TestIngestionService_Process_PreviewRowsAndColumns(t *testing.T) {
	id := uuid.Must(uuid.NewV7())
	file := uploadedFile(id)
	files := newMemFiles(file)
	derived := &memDerived{}

	rows := make([]string, 150)
	for i := range rows {
		rows[i] = fmt.Sprintf(`{"sku":"s%d","qty":%d}`, i, i)
	}
	body := `{"basic_stats":{"total_rows":150},"columns":["sku","qty"],"data_preview":[` + strings.Join(rows, ",") + `]}`

	svc := NewIngestionService(files, derived,
		&mockObjects{data: map[string][]byte{file.FilePath: []byte("x")}},
		staticAnalysis(body),
		IngestionConfig{Chunking: chunking.Options{}},
	)

	res, err := svc.Process(context.Background(), id, file.FilePath)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Results)
	assert.Equal(t, 2+chunking.DefaultMaxRowChunks, res.Chunks)

	var rowChunks []models.Chunk
	for _, c := range derived.chunks {
		if c.Type == models.ChunkTypeRow {
			rowChunks = append(rowChunks, c)
		}
	}
	require.Len(t, rowChunks, chunking.DefaultMaxRowChunks)
	for i, c := range rowChunks {
		assert.Equal(t, fmt.Sprintf("row_%d", i), c.Source)
		assert.Equal(t, id, c.FileID)
	}
	assert.JSONEq(t, `{"sku":"s0","qty":0}`, rowChunks[0].Text)

	stored, err := files.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.FileStatusCompleted, stored.Status)
	assert.JSONEq(t, `["sku","qty"]`, string(stored.Columns))
	require.NotNil(t, stored.RowCount)
	assert.Equal(t, 150, *stored.RowCount)
}

func TestIngestionService_Process_AnalysisErrorMarksFailed(t *testing.T) {
	id := uuid.Must(uuid.NewV7())
	file := uploadedFile(id)
	files := newMemFiles(file)
	derived := &memDerived{}
	notifier := &recordingNotifier{}

	analyzer := &mockAnalyzer{analyzeFunc: func(context.Context, string, []byte) (map[string]json.RawMessage, error) {
		return nil, errors.New("analysis service returned 422: bad file")
	}}

	svc := NewIngestionService(files, derived,
		&mockObjects{data: map[string][]byte{file.FilePath: []byte("x")}},
		analyzer, IngestionConfig{Notifier: notifier})

	_, err := svc.Process(context.Background(), id, file.FilePath)
	require.Error(t, err)

	stored, getErr := files.GetByID(context.Background(), id)
	require.NoError(t, getErr)
	assert.Equal(t, models.FileStatusFailed, stored.Status)
	require.NotNil(t, stored.Error)
	assert.Equal(t, "analysis service returned 422: bad file", *stored.Error)

	assert.Empty(t, derived.results)
	assert.Empty(t, derived.chunks)
	assert.Empty(t, derived.embeddings)
	assert.Equal(t, []models.FileStatus{models.FileStatusFailed}, notifier.statuses)
}

func TestIngestionService_Process_PersistErrorMarksFailed(t *testing.T) {
	id := uuid.Must(uuid.NewV7())
	file := uploadedFile(id)
	files := newMemFiles(file)
	derived := &memDerived{replaceErr: errors.New("db down")}

	svc := NewIngestionService(files, derived,
		&mockObjects{data: map[string][]byte{file.FilePath: []byte("x")}},
		staticAnalysis(`{"basic_stats":{"total_rows":1}}`), IngestionConfig{})

	_, err := svc.Process(context.Background(), id, file.FilePath)
	require.Error(t, err)

	stored, _ := files.GetByID(context.Background(), id)
	assert.Equal(t, models.FileStatusFailed, stored.Status)
}

func TestIngestionService_Process_FallsBackToFilePath(t *testing.T) {
	id := uuid.Must(uuid.NewV7())
	file := uploadedFile(id)

	svc := NewIngestionService(newMemFiles(file), &memDerived{},
		&mockObjects{data: map[string][]byte{file.FilePath: []byte("x")}},
		staticAnalysis(`{"basic_stats":{"total_rows":1}}`), IngestionConfig{})

	_, err := svc.Process(context.Background(), id, "")
	require.NoError(t, err)
}

func TestIngestionService_Process_FailedBatchStillCompletes(t *testing.T) {
	id := uuid.Must(uuid.NewV7())
	file := uploadedFile(id)
	files := newMemFiles(file)
	derived := &memDerived{}
	client := &failingEmbedClient{}

	svc := NewIngestionService(files, derived,
		&mockObjects{data: map[string][]byte{file.FilePath: []byte("x")}},
		staticAnalysis(`{"basic_stats":{"total_rows":3}}`),
		IngestionConfig{Embedder: embeddings.NewBatcher(client, embeddings.BatchOptions{})},
	)

	res, err := svc.Process(context.Background(), id, file.FilePath)
	require.NoError(t, err)

	assert.Equal(t, 1, client.calls)
	assert.Equal(t, 1, res.FailedBatches)
	assert.Equal(t, 0, res.Embedded)

	stored, _ := files.GetByID(context.Background(), id)
	assert.Equal(t, models.FileStatusCompleted, stored.Status)

	missing, err := derived.ListChunksWithoutEmbedding(context.Background(), id)
	require.NoError(t, err)
	assert.Len(t, missing, 1)
}

func TestIngestionService_Process_PlaceholderVectorStore(t *testing.T) {
	id := uuid.Must(uuid.NewV7())
	file := uploadedFile(id)
	derived := &memDerived{}

	svc := NewIngestionService(newMemFiles(file), derived,
		&mockObjects{data: map[string][]byte{file.FilePath: []byte("x")}},
		staticAnalysis(`{"sales_analysis":{"total":10}}`),
		IngestionConfig{Embedder: embeddings.NewBatcher(embeddings.NewPlaceholder(), embeddings.BatchOptions{})},
	)

	_, err := svc.Process(context.Background(), id, file.FilePath)
	require.NoError(t, err)

	require.Len(t, derived.embeddings, 1)
	assert.Equal(t, models.VectorStoreSimple, derived.embeddings[0].VectorStore)
	assert.Equal(t, embeddings.PlaceholderModel, derived.embeddings[0].Model)
	assert.Len(t, derived.embeddings[0].Vector, embeddings.DefaultDimensions)
}

func TestIngestionService_Process_Skips(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		svc := NewIngestionService(newMemFiles(), &memDerived{}, &mockObjects{}, staticAnalysis(`{}`), IngestionConfig{})

		_, err := svc.Process(context.Background(), uuid.Must(uuid.NewV7()), "k")
		assert.ErrorIs(t, err, ErrSkipped)
		assert.ErrorIs(t, err, huberrors.ErrNotFound)
	})

	t.Run("already completed", func(t *testing.T) {
		id := uuid.Must(uuid.NewV7())
		file := uploadedFile(id)
		file.Status = models.FileStatusCompleted
		files := newMemFiles(file)

		svc := NewIngestionService(files, &memDerived{}, &mockObjects{}, staticAnalysis(`{}`), IngestionConfig{})

		_, err := svc.Process(context.Background(), id, "k")
		assert.ErrorIs(t, err, ErrSkipped)
		assert.ErrorIs(t, err, huberrors.ErrConflict)

		stored, _ := files.GetByID(context.Background(), id)
		assert.Equal(t, models.FileStatusCompleted, stored.Status, "skipped file keeps its status")
	})
}

func TestIngestionService_Process_RetryAfterFailure(t *testing.T) {
	id := uuid.Must(uuid.NewV7())
	file := uploadedFile(id)
	files := newMemFiles(file)
	derived := &memDerived{}

	attempts := 0
	analyzer := &mockAnalyzer{analyzeFunc: func(context.Context, string, []byte) (map[string]json.RawMessage, error) {
		attempts++
		if attempts == 1 {
			return nil, errors.New("analysis service returned 503: busy")
		}

		return map[string]json.RawMessage{"basic_stats": json.RawMessage(`{"total_rows":2}`)}, nil
	}}

	svc := NewIngestionService(files, derived,
		&mockObjects{data: map[string][]byte{file.FilePath: []byte("x")}}, analyzer, IngestionConfig{})

	_, err := svc.Process(context.Background(), id, file.FilePath)
	require.Error(t, err)

	_, err = svc.Process(context.Background(), id, file.FilePath)
	require.NoError(t, err)

	stored, _ := files.GetByID(context.Background(), id)
	assert.Equal(t, models.FileStatusCompleted, stored.Status)
	assert.Nil(t, stored.Error)
	assert.Len(t, derived.results, 1)
}

func TestIngestionService_EmbedMissing(t *testing.T) {
	id := uuid.Must(uuid.NewV7())
	derived := &memDerived{chunks: []models.Chunk{
		{ID: uuid.Must(uuid.NewV7()), FileID: id, Text: "a"},
		{ID: uuid.Must(uuid.NewV7()), FileID: id, Text: "b"},
	}}
	derived.embeddings = []models.Embedding{{ChunkID: derived.chunks[0].ID, FileID: id}}

	svc := NewIngestionService(newMemFiles(), derived, &mockObjects{}, staticAnalysis(`{}`), IngestionConfig{
		Embedder: embeddings.NewBatcher(embeddings.NewHashClient(4), embeddings.BatchOptions{}),
	})

	n, err := svc.EmbedMissing(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, derived.embeddings, 2)
	assert.Equal(t, derived.chunks[1].ID, derived.embeddings[1].ChunkID)
}
