package repository_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/flock"

	"github.com/okian/shrinkrank/internal/adapters/markdown"
	"github.com/okian/shrinkrank/internal/adapters/repository"
	"github.com/okian/shrinkrank/internal/domain/leaderboard"
	"github.com/okian/shrinkrank/internal/domain/model"
	"github.com/okian/shrinkrank/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func baseline() model.Row {
	return leaderboard.BaselineRow(
		model.Baseline{Name: "Baseline", SizeMB: 44.70, LatencyMS: 30.00, AccuracyPct: 40.76},
		model.Scores{Size: 1, Latency: 1, Accuracy: 1, Total: 1},
	)
}

func result(user string, total float64) model.SubmissionResult {
	return model.SubmissionResult{
		Username:       user,
		ModelSizeMB:    40,
		LatencyMS:      25,
		AccuracyPct:    39,
		TotalScore:     total,
		SubmissionDate: "2025-05-01 10:00:00",
		Scores:         model.Scores{Size: 1.1, Latency: 1.2, Accuracy: 0.96, Total: total},
	}
}

func merge(r model.SubmissionResult) repository.Mutation {
	return func(b leaderboard.Board) (leaderboard.Board, error) {
		return leaderboard.Merge(b, r, baseline(), now)
	}
}

func newStore(t *testing.T) *repository.FileStore {
	t.Helper()
	if err := logger.Init(); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "LEADERBOARD.md")
	s := repository.NewFileStore(path, markdown.NewCodec(),
		repository.WithLockRetryInterval(5*time.Millisecond))
	if err := s.Create(context.Background(), baseline(), now); err != nil {
		t.Fatalf("create: %v", err)
	}
	return s
}

func TestFileStore_Create(t *testing.T) {
	Convey("Given a freshly created document", t, func() {
		s := newStore(t)
		ctx := context.Background()

		Convey("Then it should load with only the baseline", func() {
			b, err := s.Load(ctx)
			So(err, ShouldBeNil)
			So(b.Rows, ShouldHaveLength, 1)
			So(b.Rows[0].IsBaseline(), ShouldBeTrue)
			So(b.Archive, ShouldBeEmpty)
		})

		Convey("Then creating it again should refuse to overwrite", func() {
			err := s.Create(ctx, baseline(), now)
			So(errors.Is(err, repository.ErrExists), ShouldBeTrue)
		})
	})
}

func TestFileStore_ResubmissionKeepsUsername(t *testing.T) {
	Convey("Given a user whose name ends in an underscore", t, func() {
		s := newStore(t)
		ctx := context.Background()

		first := result("bob_", 1.05)
		second := result("bob_", 1.20)
		second.SubmissionDate = "2025-05-02 10:00:00"

		Convey("When the user submits twice", func() {
			_, err := s.Update(ctx, merge(first))
			So(err, ShouldBeNil)
			_, err = s.Update(ctx, merge(second))
			So(err, ShouldBeNil)

			Convey("Then the row should be replaced rather than duplicated", func() {
				b, err := s.Load(ctx)
				So(err, ShouldBeNil)
				So(b.Rows, ShouldHaveLength, 2)
				So(b.Rows[0].Username, ShouldEqual, "bob_")
				So(b.Rows[0].Scores.Total, ShouldEqual, 1.20)
				So(b.Archive, ShouldHaveLength, 2)
				So(b.Archive[0].Username, ShouldEqual, "bob_")
				So(b.Archive[1].Username, ShouldEqual, "bob_")
			})
		})
	})
}

func TestFileStore_Update(t *testing.T) {
	Convey("Given a store", t, func() {
		s := newStore(t)
		ctx := context.Background()

		Convey("When a result is merged", func() {
			b, err := s.Update(ctx, merge(result("alice", 1.05)))
			So(err, ShouldBeNil)

			Convey("Then the returned and stored boards should agree", func() {
				loaded, err := s.Load(ctx)
				So(err, ShouldBeNil)
				So(loaded.Rows, ShouldResemble, b.Rows)
				So(loaded.Rows[0].Username, ShouldEqual, "alice")
				So(loaded.Archive, ShouldHaveLength, 1)
				So(loaded.LastUpdated.Equal(now), ShouldBeTrue)
			})
		})

		Convey("When the mutation fails", func() {
			before, err := os.ReadFile(s.Path())
			So(err, ShouldBeNil)

			boom := errors.New("boom")
			_, err = s.Update(ctx, func(leaderboard.Board) (leaderboard.Board, error) {
				return leaderboard.Board{}, boom
			})

			Convey("Then the error should surface and the document be untouched", func() {
				So(errors.Is(err, boom), ShouldBeTrue)
				after, err := os.ReadFile(s.Path())
				So(err, ShouldBeNil)
				So(string(after), ShouldEqual, string(before))
			})
		})

		Convey("When the document is corrupt", func() {
			corrupt := []byte("# no tables here\n")
			So(os.WriteFile(s.Path(), corrupt, 0o644), ShouldBeNil)

			_, err := s.Update(ctx, merge(result("alice", 1.05)))

			Convey("Then the update should fail with a parse error and leave the file alone", func() {
				So(errors.Is(err, model.ErrParse), ShouldBeTrue)
				after, _ := os.ReadFile(s.Path())
				So(string(after), ShouldEqual, string(corrupt))
			})
		})

		Convey("When the document does not exist", func() {
			missing := repository.NewFileStore(filepath.Join(t.TempDir(), "nope.md"), markdown.NewCodec())
			_, err := missing.Load(ctx)
			So(errors.Is(err, model.ErrIO), ShouldBeTrue)
			So(errors.Is(err, os.ErrNotExist), ShouldBeTrue)
		})
	})
}

func TestFileStore_ConcurrentWriters(t *testing.T) {
	Convey("Given many writers racing on one document", t, func() {
		s := newStore(t)
		ctx := context.Background()
		const writers = 16

		var wg sync.WaitGroup
		errs := make(chan error, writers)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				// Each writer uses its own store value, as separate processes would.
				w := repository.NewFileStore(s.Path(), markdown.NewCodec(),
					repository.WithLockRetryInterval(time.Millisecond))
				_, err := w.Update(ctx, merge(result(fmt.Sprintf("user%02d", i), 0.5+float64(i)/100)))
				errs <- err
			}(i)
		}
		wg.Wait()
		close(errs)

		Convey("Then every update should land", func() {
			for err := range errs {
				So(err, ShouldBeNil)
			}
			b, err := s.Load(ctx)
			So(err, ShouldBeNil)
			So(b.Rows, ShouldHaveLength, writers+1)
			So(b.Archive, ShouldHaveLength, writers)
			So(leaderboard.Sorted(b.Rows), ShouldBeTrue)
		})
	})
}

func TestFileStore_LockTimeout(t *testing.T) {
	Convey("Given a lock held by someone else", t, func() {
		s := newStore(t)
		held := flock.New(s.Path() + ".lock")
		ok, err := held.TryLock()
		So(err, ShouldBeNil)
		So(ok, ShouldBeTrue)
		defer func() { _ = held.Unlock() }()

		Convey("When an update runs out of time", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
			defer cancel()
			_, err := s.Update(ctx, merge(result("alice", 1.05)))

			Convey("Then it should report the lock as busy", func() {
				So(errors.Is(err, repository.ErrLocked), ShouldBeTrue)
				So(errors.Is(err, context.DeadlineExceeded), ShouldBeTrue)
			})
		})
	})
}
