package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/okian/shrinkrank/internal/adapters/dataset"
	"github.com/okian/shrinkrank/internal/adapters/inference"
	"github.com/okian/shrinkrank/internal/app/evaluator"
	"github.com/okian/shrinkrank/internal/config"
	"github.com/okian/shrinkrank/internal/domain/scoring"
	"github.com/okian/shrinkrank/pkg/logger"
)

type evaluateCmd struct {
	submission   string
	dataDir      string
	dataS3       string
	output       string
	githubOutput string

	baselineSize     float64
	baselineLatency  float64
	baselineAccuracy float64
	runtime          string
	latencySamples   int
	warmupRuns       int
}

func (c *evaluateCmd) bind(fs *pflag.FlagSet) {
	fs.StringVar(&c.submission, "submission", "", "submission directory holding one model artifact")
	fs.StringVar(&c.dataDir, "data", "", "local dataset root laid out as <label>/<file>")
	fs.StringVar(&c.dataS3, "data-s3", "", "dataset location as s3://bucket/prefix")
	fs.StringVar(&c.output, "output", "result.json", "result file to write")
	fs.StringVar(&c.githubOutput, "github-output", os.Getenv("GITHUB_OUTPUT"), "GitHub Actions output file to append to")
	fs.Float64Var(&c.baselineSize, "baseline-size", 0, "baseline model size in MB")
	fs.Float64Var(&c.baselineLatency, "baseline-latency", 0, "baseline latency in ms")
	fs.Float64Var(&c.baselineAccuracy, "baseline-accuracy", 0, "baseline accuracy in percent")
	fs.StringVar(&c.runtime, "runtime", "", "inference runtime: exec or docker")
	fs.IntVar(&c.latencySamples, "latency-samples", 0, "samples to time, 0 for all")
	fs.IntVar(&c.warmupRuns, "warmup-runs", 0, "untimed predictions before timing")
}

func (c *evaluateCmd) apply(fs *pflag.FlagSet, cfg *config.Config) {
	if fs.Changed("baseline-size") {
		cfg.BaselineSizeMB = c.baselineSize
	}
	if fs.Changed("baseline-latency") {
		cfg.BaselineLatencyMS = c.baselineLatency
	}
	if fs.Changed("baseline-accuracy") {
		cfg.BaselineAccuracyPct = c.baselineAccuracy
	}
	if fs.Changed("runtime") {
		cfg.Runtime = c.runtime
	}
	if fs.Changed("latency-samples") {
		cfg.LatencySamples = c.latencySamples
	}
	if fs.Changed("warmup-runs") {
		cfg.WarmupRuns = c.warmupRuns
	}
}

func (c *evaluateCmd) exec(ctx context.Context, cfg *config.Config, stdout io.Writer) error {
	defer pushMetrics(ctx, cfg, "shrinkrank_evaluate")

	if c.submission == "" {
		return fmt.Errorf("%w: --submission is required", errUsage)
	}
	if (c.dataDir == "") == (c.dataS3 == "") {
		return fmt.Errorf("%w: exactly one of --data and --data-s3 is required", errUsage)
	}

	normalizer, err := newNormalizer(cfg)
	if err != nil {
		return err
	}
	provider, err := c.dataset(ctx, cfg)
	if err != nil {
		return err
	}
	rt, err := newRuntime(ctx, cfg)
	if err != nil {
		return err
	}

	ev := evaluator.New(rt, normalizer,
		evaluator.WithLatencySamples(cfg.LatencySamples),
		evaluator.WithWarmupRuns(cfg.WarmupRuns),
		evaluator.WithModelExtensions(cfg.ModelExtensions),
	)
	report, err := ev.Evaluate(ctx, evaluator.Request{SubmissionDir: c.submission, Dataset: provider})
	if err != nil {
		return err
	}

	res := report.Result(cfg.Precision)
	if err := evaluator.WriteResult(c.output, res); err != nil {
		return err
	}
	extra := map[string]string{"username": report.Username, "notes": report.Notes}
	if err := evaluator.AppendGitHubOutput(c.githubOutput, res, extra); err != nil {
		return err
	}
	logger.Get().Info(ctx, "result written", logger.String("path", c.output))

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func (c *evaluateCmd) dataset(ctx context.Context, cfg *config.Config) (dataset.Provider, error) {
	if c.dataDir != "" {
		return dataset.NewLocalProvider(c.dataDir, cfg.ImageExtensions), nil
	}
	client, err := dataset.NewS3Client(ctx, dataset.S3Config{
		Endpoint:  cfg.DatasetS3Endpoint,
		Region:    cfg.DatasetS3Region,
		AccessKey: cfg.DatasetS3AccessKey,
		SecretKey: cfg.DatasetS3SecretKey,
	})
	if err != nil {
		return nil, err
	}
	return dataset.NewS3Provider(client, c.dataS3, cfg.DatasetCacheDir, cfg.ImageExtensions)
}

func newNormalizer(cfg *config.Config) (*scoring.Normalizer, error) {
	n, err := scoring.NewNormalizer(cfg.Baseline(),
		scoring.WithWeights(cfg.Weights()),
		scoring.WithPrecision(cfg.Precision),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
	}
	return n, nil
}

func newRuntime(ctx context.Context, cfg *config.Config) (inference.Runtime, error) {
	opts := []inference.Option{inference.WithReadyTimeout(cfg.RuntimeReadyTimeout())}
	switch cfg.Runtime {
	case config.RuntimeDocker:
		api, err := inference.NewDockerClient(ctx)
		if err != nil {
			return nil, err
		}
		return inference.NewDockerRuntime(api, cfg.DockerImage, cfg.RuntimeCommand,
			inference.WithMemoryMB(cfg.DockerMemoryMB),
			inference.WithCPUs(cfg.DockerCPUs),
			inference.WithPull(cfg.DockerPull),
			inference.WithRuntimeOptions(opts...),
		), nil
	default:
		rt, err := inference.NewExecRuntime(cfg.RuntimeCommand, opts...)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
		}
		return rt, nil
	}
}
