package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/pflag"

	"github.com/okian/shrinkrank/internal/adapters/markdown"
	"github.com/okian/shrinkrank/internal/adapters/repository"
	"github.com/okian/shrinkrank/internal/app/evaluator"
	"github.com/okian/shrinkrank/internal/app/updater"
	"github.com/okian/shrinkrank/internal/config"
	"github.com/okian/shrinkrank/internal/domain/leaderboard"
	"github.com/okian/shrinkrank/internal/domain/model"
)

// changedSet reports which flags were set on the command line.
type changedSet interface {
	Changed(name string) bool
}

type updateCmd struct {
	flags       changedSet
	leaderboard string
	resultPath  string
	lockTimeout time.Duration

	username   string
	modelSize  float64
	latency    float64
	accuracy   float64
	totalScore float64
	date       string
	notes      string
}

func (c *updateCmd) bind(fs *pflag.FlagSet) {
	fs.StringVar(&c.leaderboard, "leaderboard", "", "leaderboard document (default from config)")
	fs.StringVar(&c.resultPath, "result", "", "result.json written by evaluate; flags override its values")
	fs.DurationVar(&c.lockTimeout, "lock-timeout", 0, "give up waiting for the document lock after this long, 0 waits forever")
	fs.StringVar(&c.username, "username", "", "contributor username")
	fs.Float64Var(&c.modelSize, "model-size", 0, "model size in MB")
	fs.Float64Var(&c.latency, "latency", 0, "latency in ms")
	fs.Float64Var(&c.accuracy, "accuracy", 0, "accuracy in percent")
	fs.Float64Var(&c.totalScore, "total-score", 0, "total score reported by the evaluator")
	fs.StringVar(&c.date, "date", "", "submission date, default now (UTC)")
	fs.StringVar(&c.notes, "notes", "", "free-form notes kept in the archive")
}

func (c *updateCmd) apply(fs *pflag.FlagSet, cfg *config.Config) {
	c.flags = fs
	if fs.Changed("leaderboard") {
		cfg.LeaderboardPath = c.leaderboard
	}
}

// result assembles the submission from the result file and the flags.
func (c *updateCmd) result(fs changedSet) (model.SubmissionResult, error) {
	r := model.SubmissionResult{
		Username:       c.username,
		SubmissionDate: c.date,
		Notes:          c.notes,
	}
	if c.resultPath != "" {
		res, err := evaluator.ReadResult(c.resultPath)
		if err != nil {
			return model.SubmissionResult{}, err
		}
		r.ModelSizeMB, r.LatencyMS, r.AccuracyPct, r.TotalScore = res.ModelSize, res.Latency, res.Accuracy, res.TotalScore
	}
	if fs.Changed("model-size") {
		r.ModelSizeMB = c.modelSize
	}
	if fs.Changed("latency") {
		r.LatencyMS = c.latency
	}
	if fs.Changed("accuracy") {
		r.AccuracyPct = c.accuracy
	}
	if fs.Changed("total-score") {
		r.TotalScore = c.totalScore
	}
	if c.resultPath == "" {
		for _, name := range []string{"model-size", "latency", "accuracy", "total-score"} {
			if !fs.Changed(name) {
				return model.SubmissionResult{}, fmt.Errorf("%w: --%s is required without --result", errUsage, name)
			}
		}
	}
	return r, nil
}

func (c *updateCmd) exec(ctx context.Context, cfg *config.Config, stdout io.Writer) error {
	defer pushMetrics(ctx, cfg, "shrinkrank_update")

	if c.username == "" {
		return fmt.Errorf("%w: --username is required", errUsage)
	}
	r, err := c.result(c.flags)
	if err != nil {
		return err
	}

	normalizer, err := newNormalizer(cfg)
	if err != nil {
		return err
	}
	store := newStore(cfg)
	up := updater.New(store, normalizer)

	if c.lockTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.lockTimeout)
		defer cancel()
	}
	board, err := up.Update(ctx, r)
	if err != nil {
		return err
	}

	row, _ := leaderboard.Find(board.Rows, r.Username)
	_, err = fmt.Fprintf(stdout, "%s ranked %d of %d with total score %.*f\n",
		row.Username, row.Rank, len(board.Rows), cfg.Precision, row.Scores.Total)
	return err
}

type initCmd struct {
	leaderboard string
}

func (c *initCmd) bind(fs *pflag.FlagSet) {
	fs.StringVar(&c.leaderboard, "leaderboard", "", "leaderboard document (default from config)")
}

func (c *initCmd) apply(fs *pflag.FlagSet, cfg *config.Config) {
	if fs.Changed("leaderboard") {
		cfg.LeaderboardPath = c.leaderboard
	}
}

func (c *initCmd) exec(ctx context.Context, cfg *config.Config, stdout io.Writer) error {
	normalizer, err := newNormalizer(cfg)
	if err != nil {
		return err
	}
	store := newStore(cfg)
	baseline := leaderboard.BaselineRow(normalizer.Baseline(), normalizer.BaselineScores())
	if err := store.Create(ctx, baseline, time.Now()); err != nil {
		return err
	}
	_, err = fmt.Fprintln(stdout, "created", store.Path())
	return err
}

func newStore(cfg *config.Config) *repository.FileStore {
	codec := markdown.NewCodec(markdown.WithPrecision(cfg.Precision))
	return repository.NewFileStore(cfg.LeaderboardPath, codec,
		repository.WithLockRetryInterval(cfg.LockRetryInterval()))
}
