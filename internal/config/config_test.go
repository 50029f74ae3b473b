package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "extractor.yaml")
	configYAML := `
server:
  port: 9090
  auth:
    enabled: true
    api_key: secret
pipeline:
  max_retries: 4
  batch_size: 10
  retry_backoff: 250ms
  cleanup_interval: 2
  reconcile_mode: sidecar-only
recognition:
  pool_size: 4
  timeout: 45s
  service_url: http://recognizer:8089
  languages: [deu]
  max_image_bytes: 5242880
  cache_ttl: 5m
validation:
  profile: strict
  review_threshold: 0.8
  price_ceiling: 50000
orchestrator:
  worker_count: 3
storage:
  backend: sqlite
  sqlite_path: /tmp/extractor-test.db
artifacts:
  backend: local
  base_dir: /tmp/artifacts
  prefix: results
queue:
  backend: memory
  depth: 128
capture:
  enabled: true
  user_agent: test-agent
  nav_timeout: 30s
  max_parallel: 3
  domain_qps: 1.0
  output_dir: /tmp/articles
schedule:
  spec: "0 3 * * *"
  run: nightly-refresh
logging:
  development: false
standard_runs:
  nightly-refresh:
    root: /data/articles
    articles: ["4711"]
    batch_size: 3
    reconcile_mode: sidecar-only
    profile: strict
    tags:
      origin: cron
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Server.Auth.Enabled || cfg.Server.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.Pipeline.BatchSize != 10 || cfg.Pipeline.ReconcileMode != "sidecar-only" {
		t.Fatalf("expected pipeline overrides to apply: %+v", cfg.Pipeline)
	}
	if cfg.Pipeline.RetryBackoff != 250*time.Millisecond {
		t.Fatalf("expected retry backoff 250ms, got %v", cfg.Pipeline.RetryBackoff)
	}
	if cfg.Recognition.PoolSize != 4 || cfg.Recognition.Timeout != 45*time.Second {
		t.Fatalf("expected recognition overrides to apply: %+v", cfg.Recognition)
	}
	if len(cfg.Recognition.Languages) != 1 || cfg.Recognition.Languages[0] != "deu" {
		t.Fatalf("expected languages [deu], got %v", cfg.Recognition.Languages)
	}
	if cfg.Validation.Profile != "strict" || cfg.Validation.ReviewThreshold != 0.8 {
		t.Fatalf("expected validation overrides to apply: %+v", cfg.Validation)
	}
	if cfg.Storage.Backend != "sqlite" || cfg.Storage.SQLitePath != "/tmp/extractor-test.db" {
		t.Fatalf("expected sqlite storage config: %+v", cfg.Storage)
	}
	if cfg.Queue.Depth != 128 {
		t.Fatalf("expected queue depth 128, got %d", cfg.Queue.Depth)
	}
	if !cfg.Capture.Enabled || cfg.Capture.NavTimeout != 30*time.Second {
		t.Fatalf("expected capture overrides to apply: %+v", cfg.Capture)
	}
	run, ok := cfg.StandardRuns["nightly-refresh"]
	if !ok || run.Root != "/data/articles" || run.BatchSize != 3 {
		t.Fatalf("expected standard run to be loaded: %+v", cfg.StandardRuns)
	}
	if run.ReconcileMode != "sidecar-only" || run.Profile != "strict" {
		t.Fatalf("expected run mode/profile to be preserved: %+v", run)
	}
	if run.Tags["origin"] != "cron" {
		t.Fatalf("expected run tags to be preserved: %+v", run.Tags)
	}
	if cfg.Schedule.Spec != "0 3 * * *" || cfg.Schedule.Run != "nightly-refresh" {
		t.Fatalf("expected schedule to be loaded: %+v", cfg.Schedule)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Pipeline.BatchSize != 5 || cfg.Pipeline.MaxRetries != 3 {
		t.Fatalf("expected pipeline defaults: %+v", cfg.Pipeline)
	}
	if cfg.Pipeline.ReconcileMode != "gap-fill" {
		t.Fatalf("expected gap-fill default, got %q", cfg.Pipeline.ReconcileMode)
	}
	if cfg.Recognition.PoolSize != 2 || cfg.Recognition.Timeout != 30*time.Second {
		t.Fatalf("expected recognition defaults: %+v", cfg.Recognition)
	}
	if cfg.Validation.ReviewThreshold != 0.70 {
		t.Fatalf("expected review threshold 0.70, got %v", cfg.Validation.ReviewThreshold)
	}
	if cfg.Storage.Backend != "memory" || cfg.Artifacts.Backend != "memory" {
		t.Fatalf("expected memory backends by default: %+v %+v", cfg.Storage, cfg.Artifacts)
	}
	if cfg.Queue.Backend != "memory" || cfg.Queue.Depth != 64 {
		t.Fatalf("expected memory queue defaults: %+v", cfg.Queue)
	}
	if cfg.Addr() != ":8080" {
		t.Fatalf("expected addr :8080, got %q", cfg.Addr())
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:       ServerConfig{Port: 8080},
		Pipeline:     PipelineConfig{BatchSize: 5, ReconcileMode: "gap-fill"},
		Recognition:  RecognitionConfig{PoolSize: 2, Timeout: 30 * time.Second},
		Validation:   ValidationConfig{Profile: "default", ReviewThreshold: 0.7},
		Orchestrator: OrchestratorConfig{WorkerCount: 2},
		Storage:      StorageConfig{Backend: "memory"},
		Artifacts:    ArtifactsConfig{Backend: "memory"},
		Queue:        QueueConfig{Backend: "memory", Depth: 64},
	}

	tests := []struct {
		name string
		cfg  func(Config) Config
		want string
	}{
		{
			name: "invalid port",
			cfg: func(c Config) Config {
				c.Server.Port = 0
				return c
			},
			want: "server.port",
		},
		{
			name: "auth missing api key",
			cfg: func(c Config) Config {
				c.Server.Auth.Enabled = true
				return c
			},
			want: "server.auth.api_key",
		},
		{
			name: "invalid batch size",
			cfg: func(c Config) Config {
				c.Pipeline.BatchSize = 0
				return c
			},
			want: "pipeline.batch_size",
		},
		{
			name: "unknown reconcile mode",
			cfg: func(c Config) Config {
				c.Pipeline.ReconcileMode = "bogus"
				return c
			},
			want: "pipeline.reconcile_mode",
		},
		{
			name: "invalid pool size",
			cfg: func(c Config) Config {
				c.Recognition.PoolSize = 0
				return c
			},
			want: "recognition.pool_size",
		},
		{
			name: "unknown profile",
			cfg: func(c Config) Config {
				c.Validation.Profile = "lenient"
				return c
			},
			want: "validation.profile",
		},
		{
			name: "review threshold out of range",
			cfg: func(c Config) Config {
				c.Validation.ReviewThreshold = 1.5
				return c
			},
			want: "validation.review_threshold",
		},
		{
			name: "invalid worker count",
			cfg: func(c Config) Config {
				c.Orchestrator.WorkerCount = 0
				return c
			},
			want: "orchestrator.worker_count",
		},
		{
			name: "unknown storage backend",
			cfg: func(c Config) Config {
				c.Storage.Backend = "mysql"
				return c
			},
			want: "storage.backend",
		},
		{
			name: "postgres missing dsn",
			cfg: func(c Config) Config {
				c.Storage.Backend = "postgres"
				return c
			},
			want: "storage.dsn",
		},
		{
			name: "unknown artifacts backend",
			cfg: func(c Config) Config {
				c.Artifacts.Backend = "s3"
				return c
			},
			want: "artifacts.backend",
		},
		{
			name: "gcs missing bucket",
			cfg: func(c Config) Config {
				c.Artifacts.Backend = "gcs"
				return c
			},
			want: "artifacts.bucket",
		},
		{
			name: "unknown queue backend",
			cfg: func(c Config) Config {
				c.Queue.Backend = "kafka"
				return c
			},
			want: "queue.backend",
		},
		{
			name: "pubsub missing project",
			cfg: func(c Config) Config {
				c.Queue.Backend = "pubsub"
				return c
			},
			want: "pubsub.project_id",
		},
		{
			name: "capture missing max parallel",
			cfg: func(c Config) Config {
				c.Capture.Enabled = true
				c.Capture.MaxParallel = 0
				return c
			},
			want: "capture.max_parallel",
		},
		{
			name: "schedule missing run",
			cfg: func(c Config) Config {
				c.Schedule.Spec = "@hourly"
				return c
			},
			want: "schedule.run",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg(base).Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
