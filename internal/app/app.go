package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"pulpit/features/lock"
	"pulpit/features/maintenance"
	"pulpit/features/pipeline"
	"pulpit/internal/adapter/boundary"
	"pulpit/internal/adapter/extraction"
	"pulpit/internal/adapter/gemini"
	"pulpit/internal/config"
	"pulpit/internal/middleware"
	"pulpit/internal/settings"
	"pulpit/internal/text"
	"pulpit/internal/worker"
)

type App struct {
	Handler             http.Handler
	PipelineService     *pipeline.Service
	MaintenanceConsumer *worker.MaintenanceConsumer

	addr string
}

func New(
	cfg *config.Config,
	db Database,
	vecStore VectorStore,
	taskPub TaskPublisher,
	logger *slog.Logger,
) (*App, error) {

	// Cast db to *sql.DB for repositories that require it.
	// This allows us to use interfaces in the signature (for mocking
	// with sqlmock) while maintaining compatibility with repositories.
	sqlDB := db.(*sql.DB)

	// Feature: Settings
	settingsRepo := settings.NewPostgresRepo(sqlDB)
	settingsService := settings.NewService(settingsRepo)

	// Seed Gemini API Key from Config
	if cfg.GeminiAPIKey != "" {
		ctx := context.Background()
		set, err := settingsService.Get(ctx)
		if err == nil {
			// Update if empty
			if set.GeminiAPIKey == "" {
				set.GeminiAPIKey = cfg.GeminiAPIKey
				if err := settingsService.Update(ctx, set); err != nil {
					slog.Warn("failed to seed gemini api key", "error", err)
				} else {
					slog.Info("seeded gemini api key from environment")
				}
			}
		} else {
			slog.Warn("failed to fetch settings for seeding", "error", err)
		}
	}

	settingsHandler := settings.NewHandler(settingsService)

	// Feature: Lock
	lockTimeout := time.Duration(cfg.LockTimeoutMinutes) * time.Minute
	lockStore := lock.NewFallbackStore(
		lock.NewPostgresStore(sqlDB, lockTimeout),
		lock.NewMemoryStore(lockTimeout),
		cfg.LockStrict,
	)
	lockHandler := lock.NewHandler(lockStore)

	// Adapters: Dynamic
	geminiEmbedder := gemini.NewDynamicEmbedder(settingsService)
	extractionClient := extraction.NewClient(cfg.ExtractionURL)

	// Boundary confidence floor comes from settings when readable.
	minConfidence := 0.5
	if set, err := settingsService.Get(context.Background()); err == nil && set.BoundaryMinConfidence > 0 {
		minConfidence = float64(set.BoundaryMinConfidence)
	}

	// Feature: Pipeline
	pipelineRepo := pipeline.NewPostgresRepo(sqlDB)
	scanner := pipeline.NewScanner(pipelineRepo, cfg.ScanMaxPages)
	processor := pipeline.NewProcessor(pipelineRepo, lockStore, geminiEmbedder, vecStore, taskPub, pipeline.ProcessorConfig{
		MaxAttempts:      cfg.MaxAttempts,
		MinBoundarySpan:  float64(cfg.MinBoundaryMinutes),
		MinConfidence:    minConfidence,
		ChunkWindow:      cfg.ChunkWindow,
		ChunkOverlap:     cfg.ChunkOverlap,
		ItemDelay:        time.Duration(cfg.ItemDelaySeconds) * time.Second,
		RateLimitBackoff: time.Duration(cfg.RateLimitBackoffSeconds) * time.Second,
		RetryBackoff:     time.Duration(cfg.RetryBackoffSeconds) * time.Second,
	})

	pipelines := map[string]pipeline.Pipeline{}
	defs, err := config.LoadPipelines(cfg.PipelinesPath)
	if err != nil {
		// A server without listing definitions still serves locks,
		// settings and maintenance; pipeline actions report
		// UNKNOWN_PIPELINE until the file is provided.
		slog.Warn("no pipeline definitions loaded", "path", cfg.PipelinesPath, "error", err)
	}
	for taskType, def := range defs {
		kind := def.ExtractionKind
		if kind == "" {
			kind = extraction.KindTranscript
		}
		var clf boundary.Classifier
		if def.BoundaryDetection {
			clf = &settingsClassifier{
				settings: settingsService,
				marker:   boundary.NewMarkerClassifier(),
				gemini:   boundary.NewGeminiClassifier(settingsService),
			}
		}
		pipelines[taskType] = pipeline.Pipeline{
			Def:        def,
			Extractor:  pipeline.NewMediaExtractor(extractionClient, kind),
			Classifier: clf,
		}
	}

	pageTimeout := time.Duration(cfg.PageTimeoutSeconds) * time.Second
	pipelineService := pipeline.NewService(pipelineRepo, lockStore, scanner, processor, vecStore, pipelines, pageTimeout)
	pipelineHandler := pipeline.NewHandler(pipelineService)

	// Feature: Maintenance
	maintenanceRepo := maintenance.NewPostgresRepo(sqlDB)
	maintenanceService := maintenance.NewService(maintenanceRepo, vecStore, time.Duration(cfg.OrphanAgeMinutes)*time.Minute)
	maintenanceHandler := maintenance.NewHandler(maintenanceService)

	// Middleware: CORS
	enableCORS := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, PATCH, DELETE")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next(w, r)
		}
	}

	// Routes
	mux := http.NewServeMux()

	mux.Handle("POST /lock", middleware.CorrelationID(enableCORS(lockHandler.Acquire)))
	mux.Handle("GET /lock", middleware.CorrelationID(enableCORS(lockHandler.Status)))
	mux.Handle("PATCH /lock", middleware.CorrelationID(enableCORS(lockHandler.Update)))
	mux.Handle("DELETE /lock", middleware.CorrelationID(enableCORS(lockHandler.Release)))

	mux.Handle("POST /pipeline", middleware.CorrelationID(enableCORS(pipelineHandler.Action)))
	mux.Handle("GET /pipeline", middleware.CorrelationID(enableCORS(pipelineHandler.Stats)))

	mux.Handle("GET /maintenance", middleware.CorrelationID(enableCORS(maintenanceHandler.Analyze)))
	mux.Handle("DELETE /maintenance", middleware.CorrelationID(enableCORS(maintenanceHandler.Cleanup)))

	mux.Handle("GET /settings", middleware.CorrelationID(enableCORS(settingsHandler.GetSettings)))
	mux.Handle("PUT /settings", middleware.CorrelationID(enableCORS(settingsHandler.UpdateSettings)))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	// Worker (Maintenance Consumer) Setup
	maintenanceConsumer := worker.NewMaintenanceConsumer(&maintenanceRunner{svc: maintenanceService})

	return &App{
		Handler:             mux,
		PipelineService:     pipelineService,
		MaintenanceConsumer: maintenanceConsumer,
		addr:                fmt.Sprintf(":%d", cfg.ServerPort),
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    a.addr,
		Handler: a.Handler,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		if err := srv.Shutdown(context.Background()); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("server starting", "addr", a.addr)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Adapter for MaintenanceRunner in Worker
type maintenanceRunner struct {
	svc *maintenance.Service
}

func (r *maintenanceRunner) RunMaintenance(ctx context.Context, execute bool) error {
	_, _, err := r.svc.Run(ctx, execute)
	return err
}

// settingsClassifier picks the boundary provider configured in settings
// at detection time, so operators can switch providers without a
// restart.
type settingsClassifier struct {
	settings *settings.Service
	marker   boundary.Classifier
	gemini   boundary.Classifier
}

func (c *settingsClassifier) Detect(ctx context.Context, title string, segs []text.Segment) (*boundary.Range, error) {
	provider := ""
	if set, err := c.settings.Get(ctx); err == nil {
		provider = set.BoundaryProvider
	}
	if provider == "gemini" {
		return c.gemini.Detect(ctx, title, segs)
	}
	return c.marker.Detect(ctx, title, segs)
}
