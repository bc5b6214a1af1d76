package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retailiq/hub/internal/models"
)

type insertCall struct {
	args river.JobArgs
	opts *river.InsertOpts
}

type mockInserter struct {
	calls []insertCall
	err   error
}

func (m *mockInserter) Insert(_ context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error) {
	m.calls = append(m.calls, insertCall{args: args, opts: opts})
	if m.err != nil {
		return nil, m.err
	}

	return &rivertype.JobInsertResult{Job: &rivertype.JobRow{ID: int64(len(m.calls))}}, nil
}

type mockLister struct {
	ids []uuid.UUID
	err error
}

func (m *mockLister) ListIDsMissingEmbeddings(context.Context) ([]uuid.UUID, error) {
	return m.ids, m.err
}

type enqueueRecord struct {
	eventType string
	err       error
}

type recordingWebhookMetrics struct {
	enqueues []enqueueRecord
}

func (m *recordingWebhookMetrics) RecordEnqueue(_ context.Context, eventType string, err error) {
	m.enqueues = append(m.enqueues, enqueueRecord{eventType: eventType, err: err})
}

func (m *recordingWebhookMetrics) RecordDelivery(context.Context, string, string, time.Duration) {}

func TestEnqueuer_EnqueueAnalysis(t *testing.T) {
	inserter := &mockInserter{}
	e := NewEnqueuer(inserter, EnqueuerConfig{AnalysisMaxAttempts: 3})
	fileID := uuid.Must(uuid.NewV7())

	require.NoError(t, e.EnqueueAnalysis(context.Background(), fileID, "uploads/u1/x.csv"))

	require.Len(t, inserter.calls, 1)
	call := inserter.calls[0]
	assert.Equal(t, AnalyzeFileArgs{FileID: fileID, StorageKey: "uploads/u1/x.csv"}, call.args)
	assert.Equal(t, "analyze_file", call.args.Kind())
	assert.Equal(t, QueueAnalysis, call.opts.Queue)
	assert.Equal(t, 3, call.opts.MaxAttempts)
	assert.True(t, call.opts.UniqueOpts.ByArgs)
	assert.Contains(t, call.opts.UniqueOpts.ByState, rivertype.JobStatePending)
}

func TestEnqueuer_EnqueueAnalysis_Error(t *testing.T) {
	e := NewEnqueuer(&mockInserter{err: errors.New("db down")}, EnqueuerConfig{})

	err := e.EnqueueAnalysis(context.Background(), uuid.Must(uuid.NewV7()), "k")
	assert.ErrorContains(t, err, "db down")
}

func TestEnqueuer_NotifyFileStatus(t *testing.T) {
	failed := "analysis service returned 500: boom"
	file := &models.UploadedFile{ID: uuid.Must(uuid.NewV7()), UserID: "u1", Status: models.FileStatusFailed, Error: &failed}

	t.Run("disabled does nothing", func(t *testing.T) {
		inserter := &mockInserter{}
		NewEnqueuer(inserter, EnqueuerConfig{}).NotifyFileStatus(context.Background(), file)
		assert.Empty(t, inserter.calls)
	})

	t.Run("non-terminal does nothing", func(t *testing.T) {
		inserter := &mockInserter{}
		processing := *file
		processing.Status = models.FileStatusProcessing
		NewEnqueuer(inserter, EnqueuerConfig{WebhooksEnabled: true}).NotifyFileStatus(context.Background(), &processing)
		assert.Empty(t, inserter.calls)
	})

	t.Run("terminal enqueues on webhooks queue", func(t *testing.T) {
		inserter := &mockInserter{}
		NewEnqueuer(inserter, EnqueuerConfig{WebhooksEnabled: true, WebhookMaxAttempts: 5}).
			NotifyFileStatus(context.Background(), file)

		require.Len(t, inserter.calls, 1)
		args, ok := inserter.calls[0].args.(FileStatusWebhookArgs)
		require.True(t, ok)
		assert.Equal(t, file.ID, args.FileID)
		assert.Equal(t, "failed", args.Status)
		assert.Equal(t, failed, args.Error)
		assert.Equal(t, QueueWebhooks, inserter.calls[0].opts.Queue)
		assert.Equal(t, 5, inserter.calls[0].opts.MaxAttempts)
	})

	t.Run("enqueue outcome is counted", func(t *testing.T) {
		metrics := &recordingWebhookMetrics{}
		cfg := EnqueuerConfig{WebhooksEnabled: true, WebhookMetrics: metrics}

		NewEnqueuer(&mockInserter{}, cfg).NotifyFileStatus(context.Background(), file)
		NewEnqueuer(&mockInserter{err: errors.New("db down")}, cfg).NotifyFileStatus(context.Background(), file)

		require.Len(t, metrics.enqueues, 2)
		assert.Equal(t, "file.failed", metrics.enqueues[0].eventType)
		require.NoError(t, metrics.enqueues[0].err)
		assert.ErrorContains(t, metrics.enqueues[1].err, "db down")
	})
}

func TestBackfill(t *testing.T) {
	ids := []uuid.UUID{uuid.Must(uuid.NewV7()), uuid.Must(uuid.NewV7())}

	t.Run("enqueues each file", func(t *testing.T) {
		inserter := &mockInserter{}

		stats, err := Backfill(context.Background(), &mockLister{ids: ids}, NewEnqueuer(inserter, EnqueuerConfig{}), BackfillOptions{})
		require.NoError(t, err)

		assert.Equal(t, BackfillStats{FilesFound: 2, FilesEnqueued: 2}, stats)
		require.Len(t, inserter.calls, 2)
		assert.Equal(t, EmbedChunksArgs{FileID: ids[1]}, inserter.calls[1].args)
		assert.Equal(t, QueueEmbeddings, inserter.calls[1].opts.Queue)
	})

	t.Run("dry run inserts nothing", func(t *testing.T) {
		inserter := &mockInserter{}

		stats, err := Backfill(context.Background(), &mockLister{ids: ids}, NewEnqueuer(inserter, EnqueuerConfig{}), BackfillOptions{DryRun: true})
		require.NoError(t, err)

		assert.Equal(t, BackfillStats{FilesFound: 2}, stats)
		assert.Empty(t, inserter.calls)
	})

	t.Run("enqueue errors are counted", func(t *testing.T) {
		enqueuer := NewEnqueuer(&mockInserter{err: errors.New("db down")}, EnqueuerConfig{})

		stats, err := Backfill(context.Background(), &mockLister{ids: ids}, enqueuer, BackfillOptions{})
		require.NoError(t, err)
		assert.Equal(t, BackfillStats{FilesFound: 2, Errors: 2}, stats)
	})

	t.Run("listing error", func(t *testing.T) {
		_, err := Backfill(context.Background(), &mockLister{err: errors.New("boom")}, NewEnqueuer(&mockInserter{}, EnqueuerConfig{}), BackfillOptions{})
		assert.ErrorContains(t, err, "boom")
	})

	t.Run("cancelled context stops the run", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		inserter := &mockInserter{}
		stats, err := Backfill(ctx, &mockLister{ids: ids}, NewEnqueuer(inserter, EnqueuerConfig{}), BackfillOptions{})
		require.ErrorIs(t, err, context.Canceled)
		assert.Zero(t, stats.FilesEnqueued)
		assert.Empty(t, inserter.calls)
	})
}
