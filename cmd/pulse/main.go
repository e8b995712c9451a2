package main

import (
	"context"

	"github.com/MrUversky/ReAIboot-Telegram-Analytics-sub000/internal/baseline"
	appconfig "github.com/MrUversky/ReAIboot-Telegram-Analytics-sub000/internal/config"
	"github.com/MrUversky/ReAIboot-Telegram-Analytics-sub000/internal/handlers"
	"github.com/MrUversky/ReAIboot-Telegram-Analytics-sub000/internal/metering"
	"github.com/MrUversky/ReAIboot-Telegram-Analytics-sub000/internal/metrics"
	"github.com/MrUversky/ReAIboot-Telegram-Analytics-sub000/internal/pipeline"
	"github.com/MrUversky/ReAIboot-Telegram-Analytics-sub000/internal/posts"
	"github.com/MrUversky/ReAIboot-Telegram-Analytics-sub000/internal/sandbox"
	"github.com/MrUversky/ReAIboot-Telegram-Analytics-sub000/internal/scoring"
	"github.com/MrUversky/ReAIboot-Telegram-Analytics-sub000/internal/settings"
	"github.com/MrUversky/ReAIboot-Telegram-Analytics-sub000/pkg/config"
	"github.com/MrUversky/ReAIboot-Telegram-Analytics-sub000/pkg/database"
	"github.com/MrUversky/ReAIboot-Telegram-Analytics-sub000/pkg/kafka"
	"github.com/MrUversky/ReAIboot-Telegram-Analytics-sub000/pkg/llm"
	"github.com/MrUversky/ReAIboot-Telegram-Analytics-sub000/pkg/logging"
	"github.com/MrUversky/ReAIboot-Telegram-Analytics-sub000/pkg/monitoring"
	"github.com/MrUversky/ReAIboot-Telegram-Analytics-sub000/pkg/redis"
	"github.com/MrUversky/ReAIboot-Telegram-Analytics-sub000/pkg/server"
	"github.com/MrUversky/ReAIboot-Telegram-Analytics-sub000/pkg/version"
)

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService("pulse")

	// Load environment variables
	config.LoadEnv(logger)
	cfg := appconfig.Load()

	logger.Info("Starting Pulse (Virality Detection & Content Pipeline)")

	// Connect to database
	dbConfig := database.DefaultConfig()
	dbConfig.URL = cfg.DatabaseURL
	db := database.MustConnect(dbConfig, logger)
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("pulse", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("pulse", version.Version, version.GitCommit)
	domainMetrics := metrics.New(metricsCollector)

	healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"DATABASE_URL": cfg.DatabaseURL,
		"LLM_API_KEY":  config.GetEnv("LLM_API_KEY", ""),
	}))

	// Baseline lease, Redis-backed when configured
	var locker baseline.Locker = baseline.NewMemoryLocker()
	if cfg.RedisURL != "" {
		redisClient, err := redis.NewClientFromURL(ctx, cfg.RedisURL)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to Redis")
		}
		defer redisClient.Close()
		locker = baseline.NewRedisLocker(redisClient, cfg.BaselineLeaseTTL, logger)
		healthChecker.AddCheck("redis", monitoring.RedisHealthCheck(redisClient))
	} else {
		logger.Warn("REDIS_URL not set, baseline leases are process-local")
	}

	// Usage metering, with Kafka summaries when brokers are configured
	var sink metering.SummarySink
	if len(cfg.KafkaBrokers) > 0 {
		producer, err := kafka.NewProducer(cfg.KafkaBrokers, "pulse", logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create Kafka producer")
		}
		defer producer.Close()
		sink = metering.NewKafkaPublisher(producer, cfg.KafkaUsageTopic, "pulse", logger)
		healthChecker.AddCheck("kafka", func() monitoring.CheckResult {
			if err := producer.HealthCheck(); err != nil {
				return monitoring.CheckResult{Status: "degraded", Message: err.Error()}
			}
			return monitoring.CheckResult{Status: "healthy"}
		})
	} else {
		logger.Warn("KAFKA_BROKERS not set, usage summaries stay local")
	}
	tracker := metering.NewTracker(db, sink, logger)
	go tracker.Run(ctx, cfg.MeteringFlushInterval)

	// Text-generation client
	provider, err := llm.NewProvider(llm.LoadConfig())
	if err != nil {
		logger.WithError(err).Fatal("Failed to configure LLM provider")
	}
	llmClient := llm.NewClient(provider, llm.DefaultPricing())

	// Stores and services
	postStore := posts.NewSQLStore(db)
	baselineStore := baseline.NewSQLStore(db)
	runStore := pipeline.NewSQLStore(db)
	settingsService := settings.NewService(settings.NewSQLStore(db), logger)

	engine := baseline.NewEngine(postStore, baselineStore, locker, settingsService, logger)
	go engine.RunSweeper(ctx, cfg.BaselineSweepInterval, cfg.BaselineSweepBatch)

	scorer := scoring.NewService(postStore, baselineStore, settingsService, cfg.ScoringBatchWorkers, logger)

	executor := pipeline.NewExecutor(llmClient, pipeline.RetryConfig{MaxRetries: cfg.PipelineMaxRetries}, logger)
	meter := domainMetrics.WrapMeter(tracker)
	orchestrator := pipeline.NewOrchestrator(postStore, settingsService, executor, runStore, meter, cfg.PipelineMaxConcurrent, logger)

	sandboxMgr := sandbox.NewManager(executor, postStore, settingsService, sandbox.NewSQLLogStore(db), cfg.SandboxSessionTTL, logger)
	go sandboxMgr.RunSweeper(ctx, cfg.SandboxSweepInterval)

	// Initialize handlers
	handlers.Init(handlers.Services{
		Baselines: engine,
		Scorer:    scorer,
		Pipeline:  orchestrator,
		Runs:      runStore,
		Sandbox:   sandboxMgr,
		Settings:  settingsService,
	}, logger)
	handlers.InitMetrics(domainMetrics)

	// Setup router with unified monitoring
	router := server.SetupServiceRouter(logger, "pulse", healthChecker, metricsCollector)
	handlers.RegisterRoutes(router)

	// Start server with graceful shutdown
	serverConfig := server.DefaultConfig("pulse", cfg.Port)
	if err := server.Start(serverConfig, router, logger); err != nil {
		logger.WithError(err).Fatal("Server startup failed")
	}
}
