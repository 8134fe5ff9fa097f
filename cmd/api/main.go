package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/medihim/ippo-platform/internal/api/router"
	appconfig "github.com/medihim/ippo-platform/internal/config"
	"github.com/medihim/ippo-platform/internal/consultation"
	"github.com/medihim/ippo-platform/internal/dashboard"
	"github.com/medihim/ippo-platform/internal/knowledge"
	"github.com/medihim/ippo-platform/internal/llm"
	"github.com/medihim/ippo-platform/internal/notify"
	"github.com/medihim/ippo-platform/internal/observability/metrics"
	"github.com/medihim/ippo-platform/internal/pipeline"
	"github.com/medihim/ippo-platform/internal/report"
	"github.com/medihim/ippo-platform/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting ippo-platform API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to create db pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	// Separate database/sql handle for the dashboard aggregate queries.
	sqlDB, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open db handle", "error", err)
		os.Exit(1)
	}
	defer func() { _ = sqlDB.Close() }()

	consultations := consultation.NewPostgresRepository(pool)
	reports := report.NewPostgresRepository(pool)
	faqStore := knowledge.NewFAQStore(pool)

	var keywordSource knowledge.KeywordSource = knowledge.NewPostgresKeywordStore(pool)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		defer func() { _ = rdb.Close() }()
		keywordSource = knowledge.NewCachedKeywordSource(keywordSource, rdb, cfg.KeywordCacheTTL, logger)
	}

	registry := prometheus.NewRegistry()
	pipelineMetrics := metrics.NewPipelineMetrics(registry)
	metricsHandler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	// AWS SDK clients are only needed for the Bedrock fallback, the SQS
	// queue, and SES delivery.
	var awsCfg aws.Config
	awsNeeded := cfg.BedrockModelID != "" || !cfg.UseMemoryQueue || cfg.EmailProvider == "ses"
	if awsNeeded {
		awsCfg, err = appconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			logger.Error("failed to load AWS config", "error", err)
			os.Exit(1)
		}
	}

	gemini, err := llm.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModelID)
	if err != nil {
		logger.Error("failed to create gemini client", "error", err)
		os.Exit(1)
	}
	defer func() { _ = gemini.Close() }()

	var fallback llm.Client
	if cfg.BedrockModelID != "" {
		fallback = llm.NewBedrockClient(bedrockruntime.NewFromConfig(awsCfg), cfg.BedrockModelID)
	}
	completions := llm.NewFallbackClient(gemini, fallback, logger)
	structured := llm.NewStructuredClient(completions, logger, pipelineMetrics, cfg.GenerateMaxAttempts)
	embedder := llm.NewGeminiEmbedder(gemini, cfg.GeminiEmbeddingModelID, cfg.EmbeddingDimensions, logger)

	agents := pipeline.Agents{
		Translate: pipeline.NewTranslator(structured),
		CTA:       pipeline.NewCTAAnalyzer(structured),
		Intent:    pipeline.NewIntentExtractor(structured),
		Classify:  pipeline.NewClassifier(structured, keywordSource, cfg.HighConfidenceThreshold, logger),
		Retrieve:  pipeline.NewRetriever(embedder, faqStore, cfg.RetrievalMatchThreshold, cfg.RetrievalMatchCount, logger),
		Write:     pipeline.NewReportWriter(structured),
		Review:    pipeline.NewReportReviewer(structured, cfg.ReviewFailOpen, logger),
	}

	runner := pipeline.NewRunner(
		consultations,
		reports,
		agents,
		pipeline.NewPostgresAuditLog(pool),
		pipelineMetrics,
		logger,
		pipeline.RunnerConfig{
			MaxWriteAttempts: cfg.ReviewMaxAttempts,
			StageTimeout:     cfg.PipelineStageTimeout,
		},
	)

	var queue pipeline.Queue
	if cfg.UseMemoryQueue {
		queue = pipeline.NewMemoryQueue(0)
	} else {
		if cfg.PipelineQueueURL == "" {
			logger.Error("PIPELINE_QUEUE_URL is required when USE_MEMORY_QUEUE=false")
			os.Exit(1)
		}
		queue = pipeline.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.PipelineQueueURL, logger)
	}
	dispatcher := pipeline.NewDispatcher(queue, runner, cfg.PipelineWorkers, cfg.PipelineMaxRuns, pipelineMetrics, logger)
	dispatcher.Start(ctx)

	var sender notify.EmailSender
	switch cfg.EmailProvider {
	case "sendgrid":
		if sg := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger); sg != nil {
			sender = sg
		}
	case "ses":
		if cfg.SESFromEmail != "" {
			sender = notify.NewSESSender(sesv2.NewFromConfig(awsCfg), cfg.SESFromEmail, cfg.SESFromName, logger)
		}
	}
	if sender == nil {
		logger.Warn("email delivery disabled, using stub sender", "provider", cfg.EmailProvider)
		sender = notify.NewStubEmailSender(logger)
	}
	mailer := notify.NewReportMailer(sender, cfg.PublicBaseURL, cfg.ReplyToEmail, logger)

	routerCfg := &router.Config{
		Logger:              logger,
		ConsultationHandler: consultation.NewHandler(consultations, dispatcher, logger),
		ReportHandler:       report.NewHandler(reports, consultations, mailer, pipeline.NewReportTranslator(structured), dispatcher, logger),
		PublicReportHandler: report.NewPublicHandler(reports, logger),
		DashboardHandler:    dashboard.NewHandler(sqlDB, logger),
		MetricsHandler:      metricsHandler,
		AdminAuthSecret:     cfg.AdminJWTSecret,
		CORSAllowedOrigins:  cfg.CORSAllowedOrigins,
	}
	r := router.New(routerCfg)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	// Stop the pipeline workers and let in-flight runs finish.
	cancel()
	dispatcher.Wait()

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}
