package config

import (
	"time"

	"github.com/MrUversky/ReAIboot-Telegram-Analytics-sub000/pkg/config"
)

// Config is the service's environment configuration.
type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string

	KafkaBrokers    []string
	KafkaUsageTopic string

	PipelineMaxConcurrent int64
	PipelineMaxRetries    int
	ScoringBatchWorkers   int

	BaselineLeaseTTL      time.Duration
	BaselineSweepInterval time.Duration
	BaselineSweepBatch    int

	SandboxSessionTTL    time.Duration
	SandboxSweepInterval time.Duration

	MeteringFlushInterval time.Duration
}

// Load reads the service configuration from the environment.
func Load() Config {
	return Config{
		Port:        config.GetEnv("PORT", "18090"),
		DatabaseURL: config.GetEnv("DATABASE_URL", ""),
		RedisURL:    config.GetEnv("REDIS_URL", ""),

		KafkaBrokers:    config.GetEnvSlice("KAFKA_BROKERS"),
		KafkaUsageTopic: config.GetEnv("KAFKA_USAGE_TOPIC", "llm-usage"),

		PipelineMaxConcurrent: int64(config.GetEnvInt("PIPELINE_MAX_CONCURRENT", 4)),
		PipelineMaxRetries:    config.GetEnvInt("PIPELINE_MAX_RETRIES", 0),
		ScoringBatchWorkers:   config.GetEnvInt("SCORING_BATCH_WORKERS", 8),

		BaselineLeaseTTL:      config.GetEnvDuration("BASELINE_LEASE_TTL", 2*time.Minute),
		BaselineSweepInterval: config.GetEnvDuration("BASELINE_SWEEP_INTERVAL", 15*time.Minute),
		BaselineSweepBatch:    config.GetEnvInt("BASELINE_SWEEP_BATCH", 100),

		SandboxSessionTTL:    config.GetEnvDuration("SANDBOX_SESSION_TTL", time.Hour),
		SandboxSweepInterval: config.GetEnvDuration("SANDBOX_SWEEP_INTERVAL", 5*time.Minute),

		MeteringFlushInterval: config.GetEnvDuration("METERING_FLUSH_INTERVAL", time.Minute),
	}
}
