// Package updater merges evaluated results into the leaderboard.
package updater

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/okian/shrinkrank/internal/adapters/repository"
	"github.com/okian/shrinkrank/internal/domain/leaderboard"
	"github.com/okian/shrinkrank/internal/domain/model"
	"github.com/okian/shrinkrank/internal/domain/scoring"
	"github.com/okian/shrinkrank/pkg/logger"
	"github.com/okian/shrinkrank/pkg/metrics"
)

// totalTolerance is how far a supplied total may drift from the recomputed
// one, which covers rounding the metrics before recomputing. floatSlack
// absorbs binary representation error in the comparison.
const (
	totalTolerance = 0.01
	floatSlack     = 1e-9
)

// Updater validates results, recomputes their scores against the configured
// baseline and merges them under the store's lock.
type Updater struct {
	store      repository.Store
	normalizer *scoring.Normalizer
	baseline   model.Row
	validate   *validator.Validate
	clock      func() time.Time
	logger     logger.Logger
}

// Option applies a configuration option to the Updater.
type Option func(*Updater)

// WithClock overrides the time source for stamps and default dates.
func WithClock(clock func() time.Time) Option {
	return func(u *Updater) {
		if clock != nil {
			u.clock = clock
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(u *Updater) {
		if l != nil {
			u.logger = l
		}
	}
}

// New creates an Updater writing to store.
func New(store repository.Store, normalizer *scoring.Normalizer, opts ...Option) *Updater {
	u := &Updater{
		store:      store,
		normalizer: normalizer,
		validate:   NewValidator(),
		clock:      time.Now,
	}
	for _, opt := range opts {
		opt(u)
	}
	if u.logger == nil {
		u.logger = logger.Get().Named("updater")
	}
	u.baseline = leaderboard.BaselineRow(normalizer.Baseline(), normalizer.BaselineScores())
	return u
}

// BaselineRow returns the reference row written into every board.
func (u *Updater) BaselineRow() model.Row { return u.baseline }

// Prepare normalizes and validates r and recomputes its scores. A missing
// submission date defaults to now.
func (u *Updater) Prepare(ctx context.Context, r model.SubmissionResult) (model.SubmissionResult, error) {
	r.Username = strings.TrimSpace(r.Username)
	r.SubmissionDate = strings.TrimSpace(r.SubmissionDate)
	r.Notes = strings.TrimSpace(r.Notes)
	if r.SubmissionDate == "" {
		r.SubmissionDate = model.FormatDate(u.clock())
	}

	if err := u.validate.Struct(r); err != nil {
		metrics.RecordResultRejected()
		return model.SubmissionResult{}, validationError(err)
	}
	if strings.EqualFold(r.Username, u.baseline.Username) {
		metrics.RecordResultRejected()
		return model.SubmissionResult{}, fmt.Errorf("%w: username %q is reserved for the baseline",
			model.ErrInvalidResult, r.Username)
	}

	scores, err := u.normalizer.Score(scoring.Input{
		ModelSizeMB: r.ModelSizeMB,
		LatencyMS:   r.LatencyMS,
		AccuracyPct: r.AccuracyPct,
	})
	if err != nil {
		metrics.RecordResultRejected()
		return model.SubmissionResult{}, fmt.Errorf("%w: %w", model.ErrInvalidResult, err)
	}
	// The ranking row always carries the recomputed total. The archive keeps
	// the supplied total unless it is out of tolerance.
	r.Scores = scores
	if math.Abs(scores.Total-r.TotalScore) > totalTolerance+floatSlack {
		u.logger.Warn(ctx, "supplied total score disagrees with recomputed score, using recomputed",
			logger.String("username", r.Username),
			logger.Float64("supplied", r.TotalScore),
			logger.Float64("recomputed", scores.Total),
		)
		r.TotalScore = scores.Total
	}
	return r, nil
}

// Update merges r into the stored leaderboard and returns the new board.
func (u *Updater) Update(ctx context.Context, r model.SubmissionResult) (leaderboard.Board, error) {
	prepared, err := u.Prepare(ctx, r)
	if err != nil {
		return leaderboard.Board{}, err
	}
	return u.Merge(ctx, prepared)
}

// Merge writes an already prepared result.
func (u *Updater) Merge(ctx context.Context, r model.SubmissionResult) (leaderboard.Board, error) {
	board, err := u.store.Update(ctx, func(current leaderboard.Board) (leaderboard.Board, error) {
		return leaderboard.Merge(current, r, u.baseline, u.clock())
	})
	if err != nil {
		metrics.RecordLeaderboardError()
		return leaderboard.Board{}, err
	}

	metrics.RecordLeaderboardUpdate()
	row, _ := leaderboard.Find(board.Rows, r.Username)
	u.logger.Info(ctx, "leaderboard updated",
		logger.String("username", r.Username),
		logger.Float64("total_score", r.Scores.Total),
		logger.Int("rank", row.Rank),
		logger.Int("rows", len(board.Rows)),
		logger.Int("archive", len(board.Archive)),
	)
	return board, nil
}
