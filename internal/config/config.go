// Package config loads and validates extractor configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/artikelwerk/hybrid-extractor/internal/extraction"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server       ServerConfig                           `mapstructure:"server"`
	Pipeline     PipelineConfig                         `mapstructure:"pipeline"`
	Recognition  RecognitionConfig                      `mapstructure:"recognition"`
	Validation   ValidationConfig                       `mapstructure:"validation"`
	Orchestrator OrchestratorConfig                     `mapstructure:"orchestrator"`
	Storage      StorageConfig                          `mapstructure:"storage"`
	Artifacts    ArtifactsConfig                        `mapstructure:"artifacts"`
	Queue        QueueConfig                            `mapstructure:"queue"`
	PubSub       PubSubConfig                           `mapstructure:"pubsub"`
	Capture      CaptureConfig                          `mapstructure:"capture"`
	Schedule     ScheduleConfig                         `mapstructure:"schedule"`
	Logging      LoggingConfig                          `mapstructure:"logging"`
	StandardRuns map[string]extraction.BatchParameters `mapstructure:"standard_runs"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int        `mapstructure:"port"`
	Auth AuthConfig `mapstructure:"auth"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// PipelineConfig governs batch orchestration and retry behavior.
type PipelineConfig struct {
	MaxRetries      int           `mapstructure:"max_retries"`
	BatchSize       int           `mapstructure:"batch_size"`
	RetryBackoff    time.Duration `mapstructure:"retry_backoff"`
	CleanupInterval int           `mapstructure:"cleanup_interval"`
	ReconcileMode   string        `mapstructure:"reconcile_mode"`
}

// RecognitionConfig configures the image recognition engine pool.
type RecognitionConfig struct {
	PoolSize      int           `mapstructure:"pool_size"`
	Timeout       time.Duration `mapstructure:"timeout"`
	ServiceURL    string        `mapstructure:"service_url"`
	Languages     []string      `mapstructure:"languages"`
	MaxImageBytes int64         `mapstructure:"max_image_bytes"`
	CacheTTL      time.Duration `mapstructure:"cache_ttl"`
}

// ValidationConfig selects the scoring profile and its limits.
type ValidationConfig struct {
	Profile         string  `mapstructure:"profile"`
	ReviewThreshold float64 `mapstructure:"review_threshold"`
	PriceCeiling    float64 `mapstructure:"price_ceiling"`
}

// OrchestratorConfig sizes the dispatcher worker fleet in serve mode.
type OrchestratorConfig struct {
	WorkerCount int `mapstructure:"worker_count"`
}

// StorageConfig selects the batch/record store backend.
type StorageConfig struct {
	Backend    string `mapstructure:"backend"`
	DSN        string `mapstructure:"dsn"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

// ArtifactsConfig selects where result artifacts are written.
type ArtifactsConfig struct {
	Backend     string `mapstructure:"backend"`
	BaseDir     string `mapstructure:"base_dir"`
	Bucket      string `mapstructure:"bucket"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// QueueConfig selects the batch queue backend.
type QueueConfig struct {
	Backend string `mapstructure:"backend"`
	Depth   int    `mapstructure:"depth"`
}

// PubSubConfig holds Google Pub/Sub resource names. SummaryTopicID is
// optional; when empty no run summaries are published.
type PubSubConfig struct {
	ProjectID      string `mapstructure:"project_id"`
	TopicID        string `mapstructure:"topic_id"`
	SubscriptionID string `mapstructure:"subscription_id"`
	SummaryTopicID string `mapstructure:"summary_topic_id"`
}

// CaptureConfig configures the optional page capture service.
type CaptureConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	UserAgent   string        `mapstructure:"user_agent"`
	NavTimeout  time.Duration `mapstructure:"nav_timeout"`
	MaxParallel int           `mapstructure:"max_parallel"`
	DomainQPS   float64       `mapstructure:"domain_qps"`
	OutputDir   string        `mapstructure:"output_dir"`
}

// ScheduleConfig triggers a named standard run on a cron schedule. Both
// fields must be set for the scheduler to start.
type ScheduleConfig struct {
	Spec string `mapstructure:"spec"`
	Run  string `mapstructure:"run"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("EXTRACTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.auth.enabled", false)
	v.SetDefault("pipeline.max_retries", 3)
	v.SetDefault("pipeline.batch_size", 5)
	v.SetDefault("pipeline.retry_backoff", 500*time.Millisecond)
	v.SetDefault("pipeline.cleanup_interval", 5)
	v.SetDefault("pipeline.reconcile_mode", "gap-fill")
	v.SetDefault("recognition.pool_size", 2)
	v.SetDefault("recognition.timeout", 30*time.Second)
	v.SetDefault("recognition.service_url", "http://localhost:8089")
	v.SetDefault("recognition.languages", []string{"deu", "eng"})
	v.SetDefault("recognition.max_image_bytes", 10*1024*1024)
	v.SetDefault("recognition.cache_ttl", 15*time.Minute)
	v.SetDefault("validation.profile", "default")
	v.SetDefault("validation.review_threshold", 0.70)
	v.SetDefault("validation.price_ceiling", 100000)
	v.SetDefault("orchestrator.worker_count", 2)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.sqlite_path", "extractor.db")
	v.SetDefault("artifacts.backend", "memory")
	v.SetDefault("artifacts.base_dir", "data/artifacts")
	v.SetDefault("artifacts.prefix", "results")
	v.SetDefault("artifacts.content_type", "application/json; charset=utf-8")
	v.SetDefault("queue.backend", "memory")
	v.SetDefault("queue.depth", 64)
	v.SetDefault("capture.enabled", false)
	v.SetDefault("capture.user_agent", "hybrid-extractor/0.1")
	v.SetDefault("capture.nav_timeout", 20*time.Second)
	v.SetDefault("capture.max_parallel", 2)
	v.SetDefault("capture.domain_qps", 0.5)
	v.SetDefault("capture.output_dir", "data/articles")
	v.SetDefault("logging.development", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.Auth.Enabled && c.Server.Auth.APIKey == "" {
		return fmt.Errorf("server.auth.api_key must be set when auth is enabled")
	}
	if c.Pipeline.BatchSize <= 0 {
		return fmt.Errorf("pipeline.batch_size must be > 0")
	}
	if c.Pipeline.MaxRetries < 0 {
		return fmt.Errorf("pipeline.max_retries must be >= 0")
	}
	switch c.Pipeline.ReconcileMode {
	case "", "gap-fill", "sidecar-only":
	default:
		return fmt.Errorf("pipeline.reconcile_mode must be gap-fill or sidecar-only")
	}
	if c.Recognition.PoolSize <= 0 {
		return fmt.Errorf("recognition.pool_size must be > 0")
	}
	if c.Recognition.Timeout <= 0 {
		return fmt.Errorf("recognition.timeout must be > 0")
	}
	switch c.Validation.Profile {
	case "", "default", "strict":
	default:
		return fmt.Errorf("validation.profile must be default or strict")
	}
	if c.Validation.ReviewThreshold < 0 || c.Validation.ReviewThreshold > 1 {
		return fmt.Errorf("validation.review_threshold must be within [0,1]")
	}
	if c.Orchestrator.WorkerCount <= 0 {
		return fmt.Errorf("orchestrator.worker_count must be > 0")
	}
	switch c.Storage.Backend {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("storage.backend must be one of memory, sqlite, postgres")
	}
	if c.Storage.Backend == "postgres" && c.Storage.DSN == "" {
		return fmt.Errorf("storage.dsn must be set when storage.backend is postgres")
	}
	if c.Storage.Backend == "sqlite" && c.Storage.SQLitePath == "" {
		return fmt.Errorf("storage.sqlite_path must be set when storage.backend is sqlite")
	}
	switch c.Artifacts.Backend {
	case "memory", "local", "gcs":
	default:
		return fmt.Errorf("artifacts.backend must be one of memory, local, gcs")
	}
	if c.Artifacts.Backend == "gcs" && c.Artifacts.Bucket == "" {
		return fmt.Errorf("artifacts.bucket must be set when artifacts.backend is gcs")
	}
	switch c.Queue.Backend {
	case "memory", "pubsub":
	default:
		return fmt.Errorf("queue.backend must be one of memory, pubsub")
	}
	if c.Queue.Backend == "memory" && c.Queue.Depth <= 0 {
		return fmt.Errorf("queue.depth must be > 0")
	}
	if c.Queue.Backend == "pubsub" && (c.PubSub.ProjectID == "" || c.PubSub.TopicID == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_id must be set when queue.backend is pubsub")
	}
	if c.Capture.Enabled && c.Capture.MaxParallel <= 0 {
		return fmt.Errorf("capture.max_parallel must be > 0 when capture is enabled")
	}
	if c.Schedule.Spec != "" && c.Schedule.Run == "" {
		return fmt.Errorf("schedule.run must name a standard run when schedule.spec is set")
	}
	return nil
}

// Addr returns the listen address for the HTTP server.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}
