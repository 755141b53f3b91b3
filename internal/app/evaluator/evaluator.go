// Package evaluator measures a submitted model against a labelled dataset
// and scores it relative to the baseline.
package evaluator

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/shrinkrank/internal/adapters/dataset"
	"github.com/okian/shrinkrank/internal/adapters/inference"
	"github.com/okian/shrinkrank/internal/adapters/submission"
	"github.com/okian/shrinkrank/internal/domain/model"
	"github.com/okian/shrinkrank/internal/domain/scoring"
	"github.com/okian/shrinkrank/pkg/logger"
	"github.com/okian/shrinkrank/pkg/metrics"
)

const (
	defaultLatencySamples = 100
	defaultWarmupRuns     = 3
)

// Request names the submission and the dataset to evaluate it on.
type Request struct {
	SubmissionDir string
	Dataset       dataset.Provider
}

// Report is the outcome of one evaluation.
type Report struct {
	Username       string       `json:"username,omitempty"`
	ModelName      string       `json:"model_name,omitempty"`
	Notes          string       `json:"notes,omitempty"`
	ArtifactPath   string       `json:"artifact"`
	ModelSizeMB    float64      `json:"model_size"`
	LatencyMS      float64      `json:"latency"`
	AccuracyPct    float64      `json:"accuracy"`
	Scores         model.Scores `json:"scores"`
	Samples        int          `json:"samples"`
	Correct        int          `json:"correct"`
	LatencySamples int          `json:"latency_samples"`
}

// Evaluator runs the measurement pipeline. It is not safe for concurrent
// Evaluate calls sharing one runtime.
type Evaluator struct {
	runtime         inference.Runtime
	normalizer      *scoring.Normalizer
	latencySamples  int
	warmupRuns      int
	modelExtensions []string
	now             func() time.Time
	logger          logger.Logger
}

// New creates an Evaluator that loads artifacts with rt and scores them
// with normalizer.
func New(rt inference.Runtime, normalizer *scoring.Normalizer, opts ...Option) *Evaluator {
	e := &Evaluator{
		runtime:         rt,
		normalizer:      normalizer,
		latencySamples:  defaultLatencySamples,
		warmupRuns:      defaultWarmupRuns,
		modelExtensions: submission.DefaultExtensions,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logger.Get().Named("evaluator")
	}
	return e
}

// Evaluate locates the artifact, measures size, latency and accuracy, and
// scores the result. Failures wrap model.ErrArtifact, model.ErrDataset or
// model.ErrMetric.
func (e *Evaluator) Evaluate(ctx context.Context, req Request) (report Report, err error) {
	start := e.now()
	defer func() {
		metrics.RecordEvaluation(model.Kind(err), e.now().Sub(start).Seconds())
	}()

	sub, err := submission.Locate(req.SubmissionDir, e.modelExtensions)
	if err != nil {
		return Report{}, err
	}
	e.logger.Info(ctx, "artifact located",
		logger.String("artifact", sub.ArtifactPath),
		logger.Float64("size_mb", sub.SizeMB()),
	)

	if req.Dataset == nil {
		return Report{}, fmt.Errorf("%w: no dataset configured", model.ErrDataset)
	}
	samples, err := req.Dataset.Samples(ctx)
	if err != nil {
		return Report{}, err
	}
	if len(samples) == 0 {
		return Report{}, fmt.Errorf("%w: no samples under %s", model.ErrDataset, req.Dataset.Root())
	}
	e.logger.Info(ctx, "dataset loaded",
		logger.String("root", req.Dataset.Root()),
		logger.Int("samples", len(samples)),
		logger.Int("labels", len(dataset.Labels(samples))),
	)

	session, err := e.runtime.Load(ctx, inference.LoadSpec{
		ArtifactPath: sub.ArtifactPath,
		DataDir:      req.Dataset.Root(),
	})
	if err != nil {
		return Report{}, fmt.Errorf("%w: load model: %w", model.ErrMetric, err)
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			e.logger.Warn(ctx, "failed to close inference session", logger.Error(cerr))
		}
	}()

	m, err := e.measure(ctx, session, samples)
	if err != nil {
		return Report{}, err
	}

	scores, err := e.normalizer.Score(scoring.Input{
		ModelSizeMB: sub.SizeMB(),
		LatencyMS:   m.latencyMS,
		AccuracyPct: m.accuracyPct,
	})
	if err != nil {
		return Report{}, fmt.Errorf("%w: %w", model.ErrMetric, err)
	}

	report = Report{
		Username:       sub.Metadata.Username,
		ModelName:      sub.Metadata.ModelName,
		Notes:          sub.Metadata.Notes,
		ArtifactPath:   sub.ArtifactPath,
		ModelSizeMB:    sub.SizeMB(),
		LatencyMS:      m.latencyMS,
		AccuracyPct:    m.accuracyPct,
		Scores:         scores,
		Samples:        len(samples),
		Correct:        m.correct,
		LatencySamples: m.timed,
	}
	metrics.UpdateLastEvaluation(report.ModelSizeMB, report.LatencyMS, report.AccuracyPct,
		scores.Size, scores.Latency, scores.Accuracy, scores.Total)
	e.logger.Info(ctx, "evaluation complete",
		logger.Float64("model_size", report.ModelSizeMB),
		logger.Float64("latency", report.LatencyMS),
		logger.Float64("accuracy", report.AccuracyPct),
		logger.Float64("total_score", scores.Total),
	)
	return report, nil
}

type measurement struct {
	latencyMS   float64
	accuracyPct float64
	correct     int
	timed       int
}

// measure makes one prediction per sample in order. The first latencySamples
// predictions are timed; every prediction counts towards accuracy.
func (e *Evaluator) measure(ctx context.Context, session inference.Session, samples []dataset.Sample) (measurement, error) {
	for i := 0; i < e.warmupRuns; i++ {
		s := samples[i%len(samples)]
		if _, err := session.Predict(ctx, s.Path); err != nil {
			return measurement{}, fmt.Errorf("%w: warmup on %s: %w", model.ErrMetric, s.Path, err)
		}
	}

	timed := e.latencySamples
	if timed == 0 || timed > len(samples) {
		timed = len(samples)
	}

	var (
		m       measurement
		elapsed time.Duration
	)
	for i, s := range samples {
		if err := ctx.Err(); err != nil {
			return measurement{}, fmt.Errorf("%w: %w", model.ErrMetric, err)
		}
		begin := e.now()
		label, err := session.Predict(ctx, s.Path)
		took := e.now().Sub(begin)
		if err != nil {
			return measurement{}, fmt.Errorf("%w: predict %s: %w", model.ErrMetric, s.Path, err)
		}
		if i < timed {
			elapsed += took
			metrics.RecordInferenceLatency(msOf(took))
		}
		if label == s.Label {
			m.correct++
		}
	}

	m.timed = timed
	m.latencyMS = msOf(elapsed) / float64(timed)
	m.accuracyPct = 100 * float64(m.correct) / float64(len(samples))
	if m.latencyMS <= 0 {
		return measurement{}, fmt.Errorf("%w: measured latency is not positive", model.ErrMetric)
	}
	return m, nil
}

func msOf(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
