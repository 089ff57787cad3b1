package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ayush/deep-research-agent/internal/config"
	"github.com/ayush/deep-research-agent/internal/export"
	"github.com/ayush/deep-research-agent/internal/llm"
	"github.com/ayush/deep-research-agent/internal/middleware"
	"github.com/ayush/deep-research-agent/internal/report"
	"github.com/ayush/deep-research-agent/internal/search"
	"github.com/ayush/deep-research-agent/internal/store"
)

const (
	defaultUserID   = "default_user"
	defaultTenantID = "default_tenant"

	// Grace period before a streamed step is reconciled to completed.
	reconcileGrace = 3 * time.Second
)

// lockFactory mints Redis-backed distributed locks for the aggregator.
type lockFactory struct {
	rdb *redis.Client
}

func (f lockFactory) NewLock(name string, holdTimeout, retryInterval time.Duration) report.Locker {
	return store.NewDistributedLock(f.rdb, name, holdTimeout, retryInterval)
}

func main() {
	cfg := config.Load()
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	// ── MongoDB ──────────────────────────────────────────────
	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("mongo connect: %v", err)
	}
	defer mongoClient.Disconnect(ctx)
	mongoStore := store.NewMongoStore(mongoClient.Database(cfg.MongoDB))

	// ── Redis ────────────────────────────────────────────────
	rdb, err := store.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.Fatalf("redis connect: %v", err)
	}
	defer rdb.Close()

	// ── MinIO ────────────────────────────────────────────────
	minioStore, err := store.NewMinioStore(
		ctx, cfg.MinioEndpoint, cfg.MinioAccessKey,
		cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL,
	)
	if err != nil {
		log.Fatalf("minio connect: %v", err)
	}

	// ── External clients ─────────────────────────────────────
	llmClient := llm.NewClient(cfg.Models, logger)
	tavily := search.NewTavilyClient(cfg.TavilyBaseURL, cfg.TavilyAPIKey)
	converter := export.NewConverterClient(cfg.ConverterURL)

	// ── Core components ──────────────────────────────────────
	lifecycle := report.NewReportLifecycle(mongoStore, logger)
	splitter := report.NewPlanSplitter(mongoStore, logger)
	fanout := report.NewSerpTaskFanout(mongoStore, llmClient, logger)
	tracker := report.NewSearchExecutionTracker(mongoStore, tavily, minioStore, llmClient, logger)
	aggregator := report.NewChapterCompletionAggregator(mongoStore, lockFactory{rdb: rdb}, llmClient, logger)
	cascade := report.NewCascadeDeleter(mongoStore, logger)
	reconciler := report.NewCompletionReconciler(lifecycle, reconcileGrace, logger)

	handler := report.NewHandler(
		lifecycle, splitter, fanout, tracker, aggregator,
		cascade, reconciler, llmClient, mongoStore, minioStore, converter,
	)

	// ── Router ───────────────────────────────────────────────
	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:3000"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.DefaultUser(defaultUserID, defaultTenantID))

		r.Route("/reports", func(r chi.Router) {
			r.Post("/", handler.Create)
			r.Get("/", handler.List)
			r.Get("/{id}", handler.Get)
			r.Delete("/{id}", handler.Delete)
			r.Put("/{id}/title", handler.UpdateTitle)
			r.Post("/{id}/lock", handler.Lock)
			r.Post("/{id}/template", handler.SetTemplate)
			r.Post("/{id}/plan", handler.WritePlan)
			r.Post("/{id}/chapters/{splitID}/final", handler.WriteChapter)
			r.Get("/{id}/introduction", handler.Introduction)
			r.Post("/{id}/summary", handler.GenerateSummary)
			r.Get("/{id}/export", handler.Export)
		})

		r.Route("/splits/{splitID}", func(r chi.Router) {
			r.Post("/serp", handler.GenerateSerp)
			r.Delete("/", handler.DeleteSplit)
		})

		r.Route("/tasks/{taskID}", func(r chi.Router) {
			r.Post("/search", handler.ExecuteSearch)
			r.Post("/summary", handler.Summarize)
			r.Delete("/", handler.DeleteTask)
		})
	})

	// ── Server ───────────────────────────────────────────────
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: 5 * time.Minute,
	}

	go func() {
		log.Printf("Backend listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")
	shutCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	srv.Shutdown(shutCtx)
}
