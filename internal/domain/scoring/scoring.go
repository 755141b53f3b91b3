// Package scoring normalizes raw model metrics against a baseline and
// combines them into the composite leaderboard score.
package scoring

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/okian/shrinkrank/internal/domain/model"
)

// Default scoring configuration constants.
const (
	defaultSizeWeight     = 0.3
	defaultLatencyWeight  = 0.3
	defaultAccuracyWeight = 0.4
	defaultPrecision      = 2
	maxPrecision          = 6
	weightSumTolerance    = 1e-9
	maxAccuracyPct        = 100
)

// Weights are the contribution of each sub-score to the total.
type Weights struct {
	Size     float64
	Latency  float64
	Accuracy float64
}

// DefaultWeights returns the 0.3/0.3/0.4 split used by the public leaderboard.
func DefaultWeights() Weights {
	return Weights{Size: defaultSizeWeight, Latency: defaultLatencyWeight, Accuracy: defaultAccuracyWeight}
}

// Validate checks that weights are non-negative and sum to one.
func (w Weights) Validate() error {
	if w.Size < 0 || w.Latency < 0 || w.Accuracy < 0 {
		return fmt.Errorf("%w: negative weight %+v", ErrInvalidWeights, w)
	}
	if math.Abs(w.Size+w.Latency+w.Accuracy-1) > weightSumTolerance {
		return fmt.Errorf("%w: weights must sum to 1, got %.4f", ErrInvalidWeights, w.Size+w.Latency+w.Accuracy)
	}
	return nil
}

// Option applies a configuration option to the Normalizer.
type Option func(*Normalizer)

// WithWeights overrides the sub-score weights. Invalid weights are ignored.
func WithWeights(w Weights) Option {
	return func(n *Normalizer) {
		if w.Validate() == nil {
			n.weights = w
		}
	}
}

// WithPrecision sets the number of decimal places scores are rounded to.
func WithPrecision(places int) Option {
	return func(n *Normalizer) {
		if places >= 0 && places <= maxPrecision {
			n.precision = places
		}
	}
}

// Input carries the three measured metrics of a model.
type Input struct {
	ModelSizeMB float64
	LatencyMS   float64
	AccuracyPct float64
}

// Scorer computes normalized scores from raw metrics.
type Scorer interface {
	Score(in Input) (model.Scores, error)
}

// Normalizer implements Scorer against a fixed baseline.
type Normalizer struct {
	baseline  model.Baseline
	weights   Weights
	precision int
}

// NewNormalizer creates a Normalizer for the given baseline.
func NewNormalizer(baseline model.Baseline, opts ...Option) (*Normalizer, error) {
	if !positive(baseline.SizeMB) || !positive(baseline.LatencyMS) || !positive(baseline.AccuracyPct) {
		return nil, fmt.Errorf("%w: %+v", ErrInvalidBaseline, baseline)
	}
	n := &Normalizer{
		baseline:  baseline,
		weights:   DefaultWeights(),
		precision: defaultPrecision,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Baseline returns the baseline this normalizer scores against.
func (n *Normalizer) Baseline() model.Baseline { return n.baseline }

// Weights returns the active weights.
func (n *Normalizer) Weights() Weights { return n.weights }

// Precision returns the number of decimal places scores are rounded to.
func (n *Normalizer) Precision() int { return n.precision }

// ScoreRaw computes unrounded sub-scores and total.
//
//	size     = baseline_size / size
//	latency  = baseline_latency / latency
//	accuracy = accuracy / baseline_accuracy
func (n *Normalizer) ScoreRaw(in Input) (model.Scores, error) {
	if err := validateInput(in); err != nil {
		return model.Scores{}, err
	}
	s := model.Scores{
		Size:     n.baseline.SizeMB / in.ModelSizeMB,
		Latency:  n.baseline.LatencyMS / in.LatencyMS,
		Accuracy: in.AccuracyPct / n.baseline.AccuracyPct,
	}
	s.Total = n.Total(s)
	return s, nil
}

// Score computes sub-scores and total rounded to the configured precision.
// The total is derived from the unrounded sub-scores.
func (n *Normalizer) Score(in Input) (model.Scores, error) {
	raw, err := n.ScoreRaw(in)
	if err != nil {
		return model.Scores{}, err
	}
	return model.Scores{
		Size:     Round(raw.Size, n.precision),
		Latency:  Round(raw.Latency, n.precision),
		Accuracy: Round(raw.Accuracy, n.precision),
		Total:    Round(raw.Total, n.precision),
	}, nil
}

// BaselineScores returns the scores of the baseline itself, 1.00 across the board.
func (n *Normalizer) BaselineScores() model.Scores {
	s, _ := n.Score(Input{
		ModelSizeMB: n.baseline.SizeMB,
		LatencyMS:   n.baseline.LatencyMS,
		AccuracyPct: n.baseline.AccuracyPct,
	})
	return s
}

// Total returns the weighted sum of the sub-scores in s.
func (n *Normalizer) Total(s model.Scores) float64 {
	return n.weights.Size*s.Size + n.weights.Latency*s.Latency + n.weights.Accuracy*s.Accuracy
}

// Round rounds x half away from zero to the given number of decimal places.
// It works on the shortest decimal form of x, so 1.005 rounds to 1.01 and
// the result prints with strconv 'f' formatting exactly as computed.
func Round(x float64, places int) float64 {
	if places < 0 || math.IsNaN(x) || math.IsInf(x, 0) {
		return x
	}
	intPart, frac, _ := strings.Cut(strconv.FormatFloat(math.Abs(x), 'f', -1, 64), ".")
	if len(frac) <= places {
		return x
	}
	n, err := strconv.ParseUint(intPart+frac[:places], 10, 64)
	if err != nil {
		p := math.Pow10(places)
		return math.Round(x*p) / p
	}
	if frac[places] >= '5' {
		n++
	}
	digits := strconv.FormatUint(n, 10)
	if places > 0 {
		if len(digits) <= places {
			digits = strings.Repeat("0", places-len(digits)+1) + digits
		}
		digits = digits[:len(digits)-places] + "." + digits[len(digits)-places:]
	}
	r, err := strconv.ParseFloat(digits, 64)
	if err != nil {
		return x
	}
	return math.Copysign(r, x)
}

func validateInput(in Input) error {
	switch {
	case !positive(in.ModelSizeMB):
		return fmt.Errorf("%w: model size must be positive, got %v", ErrInvalidInput, in.ModelSizeMB)
	case !positive(in.LatencyMS):
		return fmt.Errorf("%w: latency must be positive, got %v", ErrInvalidInput, in.LatencyMS)
	case math.IsNaN(in.AccuracyPct) || in.AccuracyPct < 0 || in.AccuracyPct > maxAccuracyPct:
		return fmt.Errorf("%w: accuracy must be within [0,100], got %v", ErrInvalidInput, in.AccuracyPct)
	}
	return nil
}

func positive(x float64) bool {
	return x > 0 && !math.IsInf(x, 1)
}
