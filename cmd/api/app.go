package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivertype"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/retailiq/hub/internal/analysis"
	"github.com/retailiq/hub/internal/api/handlers"
	"github.com/retailiq/hub/internal/api/middleware"
	"github.com/retailiq/hub/internal/chat"
	"github.com/retailiq/hub/internal/chunking"
	"github.com/retailiq/hub/internal/config"
	"github.com/retailiq/hub/internal/embeddings"
	"github.com/retailiq/hub/internal/googleai"
	"github.com/retailiq/hub/internal/jobs"
	"github.com/retailiq/hub/internal/observability"
	"github.com/retailiq/hub/internal/openai"
	"github.com/retailiq/hub/internal/repository"
	"github.com/retailiq/hub/internal/service"
	"github.com/retailiq/hub/internal/storage"
	"github.com/retailiq/hub/internal/worker"
	"github.com/retailiq/hub/internal/workers"
)

// App holds all server dependencies and coordinates startup and shutdown.
type App struct {
	cfg            *config.Config
	db             *pgxpool.Pool
	server         *http.Server
	river          *river.Client[pgx.Tx]
	sweeper        *worker.LeaseSweeper
	meterProvider  *sdkmetric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	metrics        *observability.Metrics
}

var (
	errUnsupportedEmbeddingProvider = errors.New("unsupported embedding provider")
	errRiverNotReady                = errors.New("river client not initialized")
)

const (
	riverQueueDepthInterval = 15 * time.Second

	// multipartOverhead is the room left for multipart boundaries and headers above the upload limit.
	multipartOverhead = 1 << 20
)

// queues are polled for the depth gauge.
var queues = []string{jobs.QueueAnalysis, jobs.QueueEmbeddings, jobs.QueueWebhooks}

// setupMetrics creates meter provider and hub metrics when metrics are enabled.
// When NewMeterProvider returns nil (unsupported or disabled exporter), returns nils (metrics disabled).
func setupMetrics(ctx context.Context, cfg *config.Config) (*sdkmetric.MeterProvider, http.Handler, *observability.Metrics, error) {
	mp, handler, err := observability.NewMeterProvider(ctx, cfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create meter provider: %w", err)
	}

	if mp == nil {
		return nil, nil, nil, nil
	}

	metrics, err := observability.NewMetrics(mp.Meter("hub"))
	if err != nil {
		err2 := mp.Shutdown(context.Background())
		if err2 != nil {
			slog.Error("shutdown meter provider after metrics error", "error", err2)
		}

		return nil, nil, nil, fmt.Errorf("create metrics: %w", err)
	}

	return mp, handler, metrics, nil
}

// newEmbeddingClient returns the configured provider client, the placeholder when
// PLACEHOLDER_EMBEDDINGS is set, or nil when embeddings are off.
func newEmbeddingClient(ctx context.Context, cfg *config.Config) (embeddings.Client, error) {
	switch cfg.EmbeddingProvider {
	case "":
		if cfg.PlaceholderEmbeddings {
			slog.Warn("embeddings: using placeholder vectors (PLACEHOLDER_EMBEDDINGS=true)")

			return embeddings.NewPlaceholder(), nil
		}

		slog.Info("embeddings disabled (EMBEDDING_PROVIDER unset)")

		//nolint:nilnil // embeddings disabled, caller checks for nil
		return nil, nil
	case config.EmbeddingProviderOpenAI:
		return openai.NewClient(cfg.EmbeddingProviderAPIKey,
			openai.WithModel(cfg.EmbeddingModel),
			openai.WithDimensions(cfg.EmbeddingDimensions),
		), nil
	case config.EmbeddingProviderGoogle:
		opts := []googleai.ClientOption{googleai.WithDimensions(cfg.EmbeddingDimensions)}
		if cfg.EmbeddingModel != "" {
			opts = append(opts, googleai.WithModel(cfg.EmbeddingModel))
		}

		client, err := googleai.NewClient(ctx, cfg.EmbeddingProviderAPIKey, opts...)
		if err != nil {
			return nil, fmt.Errorf("create google embedding client: %w", err)
		}

		return client, nil
	default:
		return nil, fmt.Errorf("%w: %s", errUnsupportedEmbeddingProvider, cfg.EmbeddingProvider)
	}
}

// newEmbeddingBatcher wraps client for the ingestion worker, or returns nil when embeddings
// are off. Provider vectors must have EMBEDDING_DIMENSIONS values; placeholder vectors have
// their fixed length.
func newEmbeddingBatcher(client embeddings.Client, cfg *config.Config) *embeddings.Batcher {
	if client == nil {
		return nil
	}

	dims := cfg.EmbeddingDimensions
	if cfg.EmbeddingProvider == "" {
		dims = embeddings.DefaultDimensions
	}

	slog.Info("embeddings enabled", "model", client.Model(), "dimensions", dims, "batch_size", cfg.EmbeddingBatchSize)

	return embeddings.NewBatcher(client, embeddings.BatchOptions{
		Size:          cfg.EmbeddingBatchSize,
		RatePerSecond: cfg.EmbeddingRateLimit,
		Dimensions:    dims,
	})
}

// lateInserter forwards to the River client, which can only be built after the workers
// that enqueue through it.
type lateInserter struct {
	client *river.Client[pgx.Tx]
}

func (l *lateInserter) Insert(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error) {
	if l.client == nil {
		return nil, errRiverNotReady
	}

	res, err := l.client.Insert(ctx, args, opts)
	if err != nil {
		return nil, fmt.Errorf("river insert: %w", err)
	}

	return res, nil
}

// NewApp builds and wires all components. It does not start the HTTP server, River or the
// lease sweeper; call Run to start and block until shutdown or failure.
func NewApp(ctx context.Context, cfg *config.Config, db *pgxpool.Pool) (app *App, err error) {
	var (
		meterProvider  *sdkmetric.MeterProvider
		metricsHandler http.Handler
		metrics        *observability.Metrics
		tracerProvider *sdktrace.TracerProvider
	)

	// Release providers created before a later step fails.
	defer func() {
		if err != nil {
			if err2 := observability.ShutdownProviders(context.Background(), tracerProvider, meterProvider); err2 != nil {
				slog.Error("shutdown observability after startup error", "error", err2)
			}
		}
	}()

	if cfg.OtelMetricsExporter == "" {
		slog.Warn("metrics not enabled (OTEL_METRICS_EXPORTER empty or unset)")
	} else {
		meterProvider, metricsHandler, metrics, err = setupMetrics(ctx, cfg)
		if err != nil {
			return nil, err
		}
	}

	var (
		ingestionMetrics observability.IngestionMetrics
		ragMetrics       observability.RAGMetrics
		jobMetrics       observability.JobMetrics
		webhookMetrics   observability.WebhookMetrics
		cacheMetrics     observability.CacheMetrics
		apiMetrics       observability.APIMetrics
	)
	if metrics != nil {
		ingestionMetrics = metrics.Ingestion
		ragMetrics = metrics.RAG
		jobMetrics = metrics.Jobs
		webhookMetrics = metrics.Webhooks
		cacheMetrics = metrics.Cache
		apiMetrics = metrics.API
	}

	if cfg.OtelTracesExporter == "" {
		slog.Warn("tracing not enabled (OTEL_TRACES_EXPORTER empty or unset)")
	} else {
		tracerProvider, err = observability.NewTracerProvider(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("create tracer provider: %w", err)
		}
	}

	if tracerProvider != nil {
		otel.SetTracerProvider(tracerProvider)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	if meterProvider != nil {
		otel.SetMeterProvider(meterProvider)
	}

	store, err := storage.New(ctx, storage.Options{
		Endpoint:        cfg.S3Endpoint,
		Region:          cfg.S3Region,
		Bucket:          cfg.S3Bucket,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
		UseSSL:          cfg.S3UseSSL,
		CreateBucket:    cfg.S3CreateBucket,
	})
	if err != nil {
		return nil, fmt.Errorf("create object store: %w", err)
	}

	embeddingClient, err := newEmbeddingClient(ctx, cfg)
	if err != nil {
		return nil, err
	}

	batcher := newEmbeddingBatcher(embeddingClient, cfg)

	var completer service.Completer
	if cfg.OpenAIAPIKey != "" {
		completer = chat.NewClient(cfg.OpenAIAPIKey, chat.WithModel(cfg.ChatModel))
	} else {
		slog.Warn("chat disabled (OPENAI_API_KEY not set); RAG answers run in simple mode")
	}

	filesRepo := repository.NewUploadedFilesRepository(db)
	analysisRepo := repository.NewAnalysisRepository(db)
	sessionsRepo := repository.NewSessionsRepository(db)

	inserter := &lateInserter{}
	enqueuer := jobs.NewEnqueuer(inserter, jobs.EnqueuerConfig{
		AnalysisMaxAttempts:  cfg.AnalysisMaxAttempts,
		EmbeddingMaxAttempts: cfg.EmbeddingMaxAttempts,
		WebhookMaxAttempts:   cfg.WebhookMaxAttempts,
		WebhooksEnabled:      cfg.WebhooksEnabled(),
		WebhookMetrics:       webhookMetrics,
	})

	analysisClient := analysis.NewClient(analysis.ClientOptions{
		BaseURL:  cfg.AnalysisServiceURL,
		Timeout:  cfg.AnalysisServiceTimeout,
		RetryMax: cfg.AnalysisServiceRetries,
	})

	ingestionService := service.NewIngestionService(filesRepo, analysisRepo, store, analysisClient, service.IngestionConfig{
		Embedder: batcher,
		Notifier: enqueuer,
		Metrics:  ingestionMetrics,
		Chunking: chunking.Options{},
	})

	riverWorkers := river.NewWorkers()
	river.AddWorker(riverWorkers, workers.NewAnalyzeFileWorker(ingestionService, cfg.AnalysisJobTimeout))
	river.AddWorker(riverWorkers, workers.NewEmbedChunksWorker(ingestionService))

	riverQueues := map[string]river.QueueConfig{
		jobs.QueueAnalysis:   {MaxWorkers: cfg.AnalysisMaxConcurrent},
		jobs.QueueEmbeddings: {MaxWorkers: cfg.EmbeddingMaxConcurrent},
	}

	if cfg.WebhooksEnabled() {
		sender, err := service.NewHTTPWebhookSender(cfg.WebhookURL, cfg.WebhookSigningKey, webhookMetrics)
		if err != nil {
			return nil, fmt.Errorf("create webhook sender: %w", err)
		}

		river.AddWorker(riverWorkers, workers.NewFileStatusWebhookWorker(sender))
		riverQueues[jobs.QueueWebhooks] = river.QueueConfig{MaxWorkers: cfg.WebhookMaxConcurrent}
	}

	riverClient, err := river.NewClient(riverpgxv5.New(db), &river.Config{
		Queues:       riverQueues,
		Workers:      riverWorkers,
		ErrorHandler: &jobs.ErrorHandler{Metrics: jobMetrics},
	})
	if err != nil {
		return nil, fmt.Errorf("create River client: %w", err)
	}

	inserter.client = riverClient

	ragService, err := service.NewRAGService(service.RAGServiceParams{
		Files:        filesRepo,
		Derived:      analysisRepo,
		Embedder:     embeddingClient,
		Chat:         completer,
		CacheSize:    cfg.RAGQueryCacheSize,
		CacheMetrics: cacheMetrics,
		Metrics:      ragMetrics,
	})
	if err != nil {
		return nil, fmt.Errorf("create rag service: %w", err)
	}

	filesService := service.NewFilesService(service.FilesServiceParams{
		Files:    filesRepo,
		Results:  analysisRepo,
		Objects:  store,
		Enqueuer: enqueuer,
		MaxBytes: cfg.UploadMaxBytes,
	})

	sessionService := service.NewSessionService(sessionsRepo, service.SessionCacheConfig{
		Size:    cfg.SessionCacheSize,
		TTL:     cfg.SessionCacheTTL,
		Metrics: cacheMetrics,
	})

	sweeper := worker.NewLeaseSweeper(filesRepo, worker.LeaseSweeperConfig{
		Interval: cfg.LeaseSweepInterval,
		Lease:    cfg.ProcessingLease,
		Notifier: enqueuer,
		Metrics:  ingestionMetrics,
	})

	healthHandler := handlers.NewHealthHandler(map[string]handlers.Pinger{
		"database": db,
		"storage":  store,
	})

	server := newHTTPServer(cfg, routes{
		health:        healthHandler,
		files:         handlers.NewFilesHandler(filesService),
		rag:           handlers.NewRAGHandler(ragService),
		sessions:      sessionService,
		metrics:       metricsHandler,
		apiMetrics:    apiMetrics,
		meterProvider: meterProvider,
		tracer:        tracerProvider,
	})

	return &App{
		cfg:            cfg,
		db:             db,
		server:         server,
		river:          riverClient,
		sweeper:        sweeper,
		meterProvider:  meterProvider,
		tracerProvider: tracerProvider,
		metrics:        metrics,
	}, nil
}

// routes groups what newHTTPServer mounts.
type routes struct {
	health   *handlers.HealthHandler
	files    *handlers.FilesHandler
	rag      *handlers.RAGHandler
	sessions middleware.Authenticator
	// metrics serves /metrics for the Prometheus exporter; nil otherwise.
	metrics       http.Handler
	apiMetrics    observability.APIMetrics
	meterProvider *sdkmetric.MeterProvider
	tracer        *sdktrace.TracerProvider
}

// newHTTPServer builds the HTTP server and mux (no auth on /health, /ready and /metrics;
// session on every /api route).
// Handler chain: RequestID -> otelhttp(Logging(CORS(Metrics(mux)))). Metrics wraps the mux directly
// so the matched pattern is visible after ServeHTTP returns.
func newHTTPServer(cfg *config.Config, rt routes) *http.Server {
	session := middleware.Session(rt.sessions, cfg.SessionCookieName)
	jsonBody := middleware.MaxBody(cfg.MaxRequestBodyBytes, rt.apiMetrics)
	uploadBody := middleware.MaxBody(cfg.UploadMaxBytes+multipartOverhead, rt.apiMetrics)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", rt.health.Check)
	mux.HandleFunc("GET /ready", rt.health.Ready)

	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics)
	}

	mux.Handle("POST /api/upload", session(uploadBody(http.HandlerFunc(rt.files.Upload))))
	mux.Handle("GET /api/files", session(http.HandlerFunc(rt.files.List)))
	mux.Handle("GET /api/files/{id}/status", session(http.HandlerFunc(rt.files.Status)))
	mux.Handle("POST /api/files/{id}/reprocess", session(http.HandlerFunc(rt.files.Reprocess)))
	mux.Handle("GET /api/analyze/workspace/latest", session(http.HandlerFunc(rt.files.LatestAnalysis)))
	mux.Handle("GET /api/workspaces", session(http.HandlerFunc(rt.files.Workspaces)))
	mux.Handle("DELETE /api/workspaces", session(http.HandlerFunc(rt.files.DeleteWorkspace)))
	mux.Handle("POST /api/rag-query", session(jsonBody(http.HandlerFunc(rt.rag.Query))))

	otelOpts := []otelhttp.Option{
		// Skip tracing and HTTP metrics for probes and scrapes.
		otelhttp.WithFilter(func(r *http.Request) bool {
			switch r.URL.Path {
			case "/health", "/ready", "/metrics":
				return false
			default:
				return true
			}
		}),
	}
	if rt.meterProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithMeterProvider(rt.meterProvider))
	}

	if rt.tracer != nil {
		otelOpts = append(otelOpts, otelhttp.WithTracerProvider(rt.tracer))
	}

	// CORS answers preflight requests before the per-route session check.
	inner := middleware.Metrics(rt.apiMetrics)(mux)
	inner = middleware.CORS(cfg.CORSAllowedOrigins)(inner)
	inner = middleware.Logging(inner)
	handler := otelhttp.NewHandler(inner, "hub-api", otelOpts...)
	handler = middleware.RequestID(handler)

	const (
		readTimeout = 60 * time.Second
		// RAG answers wait on the chat completion.
		writeTimeout = 120 * time.Second
		idleTimeout  = 60 * time.Second
	)

	return &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}
}

// Run starts the HTTP server, River and the lease sweeper, then blocks until ctx is cancelled
// (e.g. signal) or a component fails. When ctx is cancelled or a component fails, it cancels the
// internal worker context so River, the sweeper and the queue depth poller stop before Run returns.
// Caller should then call Shutdown.
func (a *App) Run(ctx context.Context) error {
	runErr := make(chan error, 1)

	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	if a.metrics != nil && a.metrics.Jobs != nil {
		go runRiverQueueDepthPoller(workerCtx, a.db, a.metrics.Jobs)
	}

	go a.sweeper.Start(workerCtx)

	go func() {
		if err := a.river.Start(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			select {
			case runErr <- fmt.Errorf("river: %w", err):
			default:
			}
		}
	}()

	go func() {
		slog.Info("Starting server", "port", a.cfg.Port)

		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case runErr <- fmt.Errorf("server: %w", err):
			default:
			}
		}
	}()

	select {
	case err := <-runErr:
		cancelWorkers()

		return err
	case <-ctx.Done():
		cancelWorkers()

		return nil
	}
}

// runRiverQueueDepthPoller periodically updates the per-queue depth gauge.
func runRiverQueueDepthPoller(ctx context.Context, db *pgxpool.Pool, jobMetrics observability.JobMetrics) {
	ticker := time.NewTicker(riverQueueDepthInterval)
	defer ticker.Stop()

	update := func() {
		rows, err := db.Query(ctx,
			`SELECT queue, COUNT(*) FROM river_job WHERE state IN ($1, $2, $3) GROUP BY queue`,
			rivertype.JobStateAvailable, rivertype.JobStateRetryable, rivertype.JobStateScheduled,
		)
		if err != nil {
			slog.WarnContext(ctx, "river queue depth poll failed", "error", err)

			return
		}

		depths := make(map[string]int, len(queues))
		for rows.Next() {
			var (
				queue string
				count int
			)
			if err := rows.Scan(&queue, &count); err != nil {
				rows.Close()
				slog.WarnContext(ctx, "river queue depth scan failed", "error", err)

				return
			}
			depths[queue] = count
		}
		rows.Close()

		if err := rows.Err(); err != nil {
			slog.WarnContext(ctx, "river queue depth poll failed", "error", err)

			return
		}

		for _, queue := range queues {
			jobMetrics.SetRiverQueueDepth(queue, depths[queue])
		}
	}

	update()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			update()
		}
	}
}

// Shutdown stops the server and River in order. Call after Run returns.
// Observability is shut down once via defer; its error is returned only when server and River shut down successfully.
func (a *App) Shutdown(ctx context.Context) (err error) {
	defer func() {
		obsErr := observability.ShutdownProviders(ctx, a.tracerProvider, a.meterProvider)
		if err == nil {
			err = obsErr
		} else if obsErr != nil {
			slog.Error("shutdown observability", "error", obsErr)
		}
	}()

	if err = a.server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		if stopErr := a.river.Stop(ctx); stopErr != nil {
			slog.Error("river stop during server shutdown", "error", stopErr)
		}

		return fmt.Errorf("server shutdown: %w", err)
	}

	// Stop waits for in-flight jobs; an analysis cut short here is recovered by the lease sweeper.
	if err = a.river.Stop(ctx); err != nil {
		return fmt.Errorf("river stop: %w", err)
	}

	return nil
}
