package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/policylens/policylens/internal/application"
	"github.com/policylens/policylens/internal/application/batch"
	"github.com/policylens/policylens/internal/application/chunker"
	"github.com/policylens/policylens/internal/application/evaluation"
	ingestsvc "github.com/policylens/policylens/internal/application/ingest"
	"github.com/policylens/policylens/internal/application/riskscore"
	"github.com/policylens/policylens/internal/application/sentinel"
	"github.com/policylens/policylens/internal/config"
	aigw "github.com/policylens/policylens/internal/infra/ai/openai"
	mysqlp "github.com/policylens/policylens/internal/infra/db/mysql"
	"github.com/policylens/policylens/internal/infra/extract"
	"github.com/policylens/policylens/internal/infra/httpserver"
	promrec "github.com/policylens/policylens/internal/infra/metrics"
	"github.com/policylens/policylens/internal/infra/queue"
	minioStore "github.com/policylens/policylens/internal/infra/storage"
	pgvec "github.com/policylens/policylens/internal/infra/vector/pgvector"
	"github.com/policylens/policylens/internal/middleware"
)

func main() {
	// path config.yaml
	path := "config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		path = v
	}

	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx := context.Background()

	// connect MySQL (decisions, feedback, change log, snapshots)
	db, err := mysqlp.Connect(ctx, cfg.MySQLDSN())
	if err != nil {
		log.Fatalf("mysql connect error: %v", err)
	}
	defer db.Close()
	if err := mysqlp.EnsureSchema(ctx, db); err != nil {
		log.Fatalf("mysql schema error: %v", err)
	}

	// connect Postgres (vector retrieval)
	pool, err := pgvec.Connect(ctx, cfg.PostgresDSN())
	if err != nil {
		log.Fatalf("postgres connect error: %v", err)
	}
	defer pool.Close()
	if err := pgvec.EnsureSchema(ctx, pool, cfg.Vector.Dimension); err != nil {
		log.Fatalf("vector schema error: %v", err)
	}

	// connect Redis (re-evaluation queue)
	reevalQueue, err := queue.NewRedisQueue(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("redis connect error: %v", err)
	}

	// init minio (audit artifacts)
	store, err := minioStore.New(ctx,
		cfg.Minio.Endpoint,
		cfg.Minio.Region,
		cfg.Minio.BucketName,
		cfg.Minio.AccessKey,
		cfg.Minio.SecretKey,
		cfg.Minio.UseSSL,
	)
	if err != nil {
		log.Fatalf("minio init error: %v", err)
	}

	// repos
	decisions := mysqlp.NewDecisionRepository(db)
	feedback := mysqlp.NewFeedbackRepository(db)
	changeLog := mysqlp.NewChangeRepository(db)
	snapshots := mysqlp.NewSnapshotRepository(db)
	chunkIndex := pgvec.NewChunkIndex(pool)
	caseIndex := pgvec.NewCaseIndex(pool)

	// AI gateway; without an API key the engine runs fallback-only
	embedder := aigw.NewEmbedder(cfg.AI.APIKey, cfg.AI.BaseURL, cfg.AI.EmbeddingModel)
	var reasoner *aigw.Client
	if cfg.AI.APIKey == "" {
		log.Println("no AI API key configured, embedding calls will fail and evaluation requests will be rejected until one is set")
	} else {
		reasoner = aigw.NewClient(cfg.AI.APIKey, cfg.AI.BaseURL, cfg.AI.Model)
	}

	recorder := promrec.NewRecorder()
	clock := application.SystemClock{}

	evalCfg := evaluation.DefaultConfig()
	if cfg.Evaluation.TopKPolicies > 0 {
		evalCfg.TopKPolicies = cfg.Evaluation.TopKPolicies
	}
	if cfg.Evaluation.TopKCases > 0 {
		evalCfg.TopKCases = cfg.Evaluation.TopKCases
	}
	if cfg.Evaluation.HighRiskThreshold > 0 {
		evalCfg.HighRiskThreshold = cfg.Evaluation.HighRiskThreshold
	}
	if cfg.Evaluation.MediumRiskThreshold > 0 {
		evalCfg.MediumRiskThreshold = cfg.Evaluation.MediumRiskThreshold
	}
	if len(cfg.Evaluation.HighRiskCountries) > 0 {
		evalCfg.HighRiskCountries = cfg.Evaluation.HighRiskCountries
	}

	evalSvc := &evaluation.Service{
		Embedder:  embedder,
		Chunks:    chunkIndex,
		Cases:     caseIndex,
		Decisions: decisions,
		Clock:     clock,
		Metrics:   recorder,
		Config:    evalCfg,
	}
	if reasoner != nil {
		evalSvc.Reasoner = reasoner
	}

	scorerThresholds := riskscore.DefaultThresholds()
	if cfg.RiskScorer.FlagThreshold > 0 {
		scorerThresholds.Flag = cfg.RiskScorer.FlagThreshold
	}
	if cfg.RiskScorer.ReviewThreshold > 0 {
		scorerThresholds.Review = cfg.RiskScorer.ReviewThreshold
	}
	scorer := &riskscore.Scorer{
		Embedder:          embedder,
		Cases:             caseIndex,
		Decisions:         decisions,
		Clock:             clock,
		Thresholds:        scorerThresholds,
		HighRiskCountries: evalCfg.HighRiskCountries,
		TopK:              cfg.RiskScorer.TopK,
	}

	sentinelSvc := &sentinel.Service{
		Decisions: decisions,
		Changes:   changeLog,
		Queue:     reevalQueue,
		Artifacts: store,
		Clock:     clock,
		Metrics:   recorder,
	}

	batchSvc := &batch.Service{
		Decisions: decisions,
		Engine:    evalSvc,
		Impact:    sentinelSvc,
		Artifacts: store,
		Clock:     clock,
		Metrics:   recorder,
		Workers:   cfg.Batch.Workers,
	}

	ingestSvc := &ingestsvc.Service{
		Chunker:   chunker.New(cfg.Chunker.Size, cfg.Chunker.Overlap),
		Embedder:  embedder,
		Chunks:    chunkIndex,
		Snapshots: snapshots,
		Extract:   extract.New(),
		Detector:  sentinelSvc,
		Clock:     clock,
	}

	health := middleware.HealthHandler(map[string]middleware.HealthChecker{
		"mysql":    &middleware.DatabaseHealthChecker{DB: db},
		"postgres": &middleware.PoolHealthChecker{Pool: pool},
		"redis":    middleware.PingHealthChecker(reevalQueue.Ping),
	})

	handler := httpserver.NewRouter(httpserver.Deps{
		Evaluation: evalSvc,
		Scorer:     scorer,
		Sentinel:   sentinelSvc,
		Batch:      batchSvc,
		Ingest:     ingestSvc,
		Decisions:  decisions,
		Feedback:   feedback,
		CaseWeight: cfg.Evaluation.CaseWeight,
		Health:     health,
		Metrics:    recorder.Handler(),
	})

	// Auth wraps outermost so the rate limiter keys on the authenticated client
	if cfg.RateLimit.Capacity > 0 && cfg.RateLimit.RefillRate > 0 {
		handler = middleware.RateLimitMiddleware(cfg.RateLimit.Capacity, cfg.RateLimit.RefillRate)(handler)
	}
	if len(cfg.Auth.APIKeys) > 0 {
		handler = middleware.APIKeyAuth(cfg.Auth.APIKeys)(handler)
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Println("shutting down server...")

	ctx2, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx2); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
