package config

import (
	"errors"
	"fmt"
	"strings"
)

const maxPrecision = 6

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		add("log_format must be text or json, got %q", c.LogFormat)
	}
	if c.Addr == "" {
		add("addr must not be empty")
	}
	if c.LeaderboardPath == "" {
		add("leaderboard_path must not be empty")
	}
	if c.LockRetryIntervalMS <= 0 {
		add("lock_retry_interval_ms must be positive")
	}
	if strings.TrimSpace(c.BaselineName) == "" {
		add("baseline_name must not be empty")
	}
	if c.BaselineSizeMB <= 0 || c.BaselineLatencyMS <= 0 || c.BaselineAccuracyPct <= 0 {
		add("baseline size, latency and accuracy must be positive")
	}
	if c.BaselineAccuracyPct > 100 {
		add("baseline_accuracy_pct must not exceed 100")
	}
	if err := c.Weights().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Precision < 0 || c.Precision > maxPrecision {
		add("precision must be between 0 and %d", maxPrecision)
	}
	if c.LatencySamples < 0 {
		add("latency_samples must not be negative")
	}
	if c.WarmupRuns < 0 {
		add("warmup_runs must not be negative")
	}
	if len(c.ModelExtensions) == 0 {
		add("model_extensions must not be empty")
	}
	if len(c.ImageExtensions) == 0 {
		add("image_extensions must not be empty")
	}
	switch c.Runtime {
	case RuntimeExec:
		if len(c.RuntimeCommand) == 0 {
			add("runtime_command is required for the exec runtime")
		}
	case RuntimeDocker:
		if c.DockerImage == "" {
			add("docker_image is required for the docker runtime")
		}
		if c.DockerMemoryMB < 0 || c.DockerCPUs < 0 {
			add("docker limits must not be negative")
		}
	default:
		add("runtime must be %s or %s, got %q", RuntimeExec, RuntimeDocker, c.Runtime)
	}
	if c.RuntimeReadyTimeoutMS <= 0 {
		add("runtime_ready_timeout_ms must be positive")
	}
	if c.QueueSize <= 0 {
		add("queue_size must be positive")
	}
	if c.DedupeSize <= 0 {
		add("dedupe_size must be positive")
	}
	if c.MaxLeaderboardLimit <= 0 {
		add("max_leaderboard_limit must be positive")
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}
