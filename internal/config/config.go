// Package config defines shrinkrank configuration and its loading layers.
//
// Conventions:
//   - New() returns a Config holding every default.
//   - Load layers a YAML file and SHRINKRANK_* env variables on top.
//   - External errors are wrapped with this package's sentinels.
package config

import (
	"time"

	"github.com/okian/shrinkrank/internal/domain/model"
	"github.com/okian/shrinkrank/internal/domain/scoring"
)

// Runtime kinds.
const (
	RuntimeExec   = "exec"
	RuntimeDocker = "docker"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat selects the log handler: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address of serve mode, e.g. ":9080".
	Addr string `koanf:"addr"`

	// LeaderboardPath is the Markdown leaderboard document.
	LeaderboardPath string `koanf:"leaderboard_path"`
	// LockRetryIntervalMS is how often a busy document lock is polled.
	LockRetryIntervalMS int `koanf:"lock_retry_interval_ms"`

	// Baseline reference model.
	BaselineName        string  `koanf:"baseline_name"`
	BaselineSizeMB      float64 `koanf:"baseline_size_mb"`
	BaselineLatencyMS   float64 `koanf:"baseline_latency_ms"`
	BaselineAccuracyPct float64 `koanf:"baseline_accuracy_pct"`

	// Score weights; they must sum to 1.
	WeightSize     float64 `koanf:"weight_size"`
	WeightLatency  float64 `koanf:"weight_latency"`
	WeightAccuracy float64 `koanf:"weight_accuracy"`

	// Precision is the number of decimals scores and metrics are rounded to.
	Precision int `koanf:"precision"`

	// LatencySamples is how many samples are timed; 0 times all of them.
	LatencySamples int `koanf:"latency_samples"`
	// WarmupRuns untimed predictions run before timing starts.
	WarmupRuns int `koanf:"warmup_runs"`

	ModelExtensions []string `koanf:"model_extensions"`
	ImageExtensions []string `koanf:"image_extensions"`

	// Runtime is exec or docker.
	Runtime string `koanf:"runtime"`
	// RuntimeCommand is the argv template; {model} and {data} are substituted.
	RuntimeCommand []string `koanf:"runtime_command"`
	// RuntimeReadyTimeoutMS bounds artifact loading.
	RuntimeReadyTimeoutMS int `koanf:"runtime_ready_timeout_ms"`

	DockerImage    string  `koanf:"docker_image"`
	DockerMemoryMB int64   `koanf:"docker_memory_mb"`
	DockerCPUs     float64 `koanf:"docker_cpus"`
	DockerPull     bool    `koanf:"docker_pull"`

	DatasetS3Endpoint  string `koanf:"dataset_s3_endpoint"`
	DatasetS3Region    string `koanf:"dataset_s3_region"`
	DatasetS3AccessKey string `koanf:"dataset_s3_access_key"`
	DatasetS3SecretKey string `koanf:"dataset_s3_secret_key"`
	DatasetCacheDir    string `koanf:"dataset_cache_dir"`

	// QueueSize bounds the serve-mode result queue.
	QueueSize int `koanf:"queue_size"`
	// DedupeSize sets the size of the duplicate-result cache.
	DedupeSize int `koanf:"dedupe_size"`
	// MaxLeaderboardLimit caps GET /leaderboard?limit.
	MaxLeaderboardLimit int `koanf:"max_leaderboard_limit"`

	// PushgatewayURL receives metrics of one-shot commands when set.
	PushgatewayURL string `koanf:"pushgateway_url"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:              "info",
		LogFormat:             "text",
		Addr:                  ":9080",
		LeaderboardPath:       "LEADERBOARD.md",
		LockRetryIntervalMS:   100,
		BaselineName:          "Baseline",
		BaselineSizeMB:        44.70,
		BaselineLatencyMS:     30.00,
		BaselineAccuracyPct:   40.76,
		WeightSize:            0.3,
		WeightLatency:         0.3,
		WeightAccuracy:        0.4,
		Precision:             2,
		LatencySamples:        100,
		WarmupRuns:            3,
		ModelExtensions:       []string{".pt", ".pth", ".onnx", ".tflite", ".pb", ".h5", ".keras", ".safetensors", ".bin"},
		ImageExtensions:       []string{".jpg", ".jpeg", ".png", ".bmp", ".webp"},
		Runtime:               RuntimeExec,
		RuntimeCommand:        []string{"shrinkrank-runtime", "{model}"},
		RuntimeReadyTimeoutMS: 120_000,
		DockerImage:           "shrinkrank/runtime:latest",
		DockerMemoryMB:        2048,
		DockerCPUs:            2,
		DatasetS3Region:       "us-east-1",
		DatasetCacheDir:       ".shrinkrank-cache",
		QueueSize:             1024,
		DedupeSize:            10_000,
		MaxLeaderboardLimit:   100,
	}
}

// Baseline returns the configured reference model.
func (c *Config) Baseline() model.Baseline {
	return model.Baseline{
		Name:        c.BaselineName,
		SizeMB:      c.BaselineSizeMB,
		LatencyMS:   c.BaselineLatencyMS,
		AccuracyPct: c.BaselineAccuracyPct,
	}
}

// Weights returns the configured score weights.
func (c *Config) Weights() scoring.Weights {
	return scoring.Weights{Size: c.WeightSize, Latency: c.WeightLatency, Accuracy: c.WeightAccuracy}
}

// LockRetryInterval returns LockRetryIntervalMS as a duration.
func (c *Config) LockRetryInterval() time.Duration {
	return time.Duration(c.LockRetryIntervalMS) * time.Millisecond
}

// RuntimeReadyTimeout returns RuntimeReadyTimeoutMS as a duration.
func (c *Config) RuntimeReadyTimeout() time.Duration {
	return time.Duration(c.RuntimeReadyTimeoutMS) * time.Millisecond
}
