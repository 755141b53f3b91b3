package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with a fresh registry", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(WithPrometheusRegistry(registry))

			Convey("Then every collector should be registered", func() {
				So(manager, ShouldNotBeNil)
				manager.resultsSubmitted.Inc()
				n, err := testutil.GatherAndCount(registry, "shrinkrank_results_submitted_total")
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 1)
			})
		})

		Convey("When creating with custom options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("test"),
				WithSubsystem("board"),
				WithHistogramBuckets([]float64{1, 5, 10}),
				WithCustomLabels(map[string]string{"env": "test"}),
				WithPrometheusRegistry(registry),
			)
			manager.leaderboardUpdates.Inc()

			Convey("Then names and labels should follow the options", func() {
				expected := `
# HELP test_board_leaderboard_updates_total Successful leaderboard merges
# TYPE test_board_leaderboard_updates_total counter
test_board_leaderboard_updates_total{env="test"} 1
`
				err := testutil.GatherAndCompare(registry, strings.NewReader(expected),
					"test_board_leaderboard_updates_total")
				So(err, ShouldBeNil)
			})
		})

		Convey("When empty options are given", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(WithNamespace(""), WithSubsystem(""), WithHistogramBuckets(nil),
				WithPrometheusRegistry(registry))

			Convey("Then defaults should be kept", func() {
				So(manager.namespace, ShouldEqual, "shrinkrank")
				So(manager.histogramBuckets, ShouldResemble, prometheus.DefBuckets)
			})
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given the global metrics", t, func() {
		Convey("When recording leaderboard activity", func() {
			before := testutil.ToFloat64(globalManager.leaderboardUpdates)
			RecordLeaderboardUpdate()
			UpdateLeaderboardSize(3, 7)

			Convey("Then counters and gauges should move", func() {
				So(testutil.ToFloat64(globalManager.leaderboardUpdates), ShouldEqual, before+1)
				So(testutil.ToFloat64(globalManager.leaderboardRows), ShouldEqual, 3)
				So(testutil.ToFloat64(globalManager.archiveEntries), ShouldEqual, 7)
			})
		})

		Convey("When publishing an evaluation", func() {
			UpdateLastEvaluation(42.9, 30.58, 28.66, 1.04, 0.98, 0.70, 0.89)
			RecordEvaluation("ok", 12.5)

			Convey("Then the per-component gauges should hold the values", func() {
				So(testutil.ToFloat64(globalManager.lastScores.WithLabelValues("total")), ShouldEqual, 0.89)
				So(testutil.ToFloat64(globalManager.lastMeasurements.WithLabelValues("size_mb")), ShouldEqual, 42.9)
				So(testutil.ToFloat64(globalManager.evaluations.WithLabelValues("ok")), ShouldBeGreaterThanOrEqualTo, 1)
			})
		})

		Convey("When recording from many goroutines", func() {
			before := testutil.ToFloat64(globalManager.queueEnqueue)
			var wg sync.WaitGroup
			for i := 0; i < 50; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					RecordQueueEnqueue()
					RecordHTTPRequest("/leaderboard", "GET", "200")
					RecordHTTPRequestDuration("/leaderboard", "GET", "200", 1.5)
					RecordLockWait(0.2)
					RecordError("worker", "io")
				}()
			}
			wg.Wait()

			Convey("Then no increments should be lost", func() {
				So(testutil.ToFloat64(globalManager.queueEnqueue), ShouldEqual, before+50)
			})
		})
	})
}

func TestPush(t *testing.T) {
	Convey("Given a pushgateway", t, func() {
		var (
			mu     sync.Mutex
			method string
			path   string
		)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			method, path = r.Method, r.URL.Path
			mu.Unlock()
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		Convey("When pushing the registry", func() {
			err := Push(context.Background(), srv.URL, "shrinkrank_evaluate")

			Convey("Then the job group should be replaced", func() {
				So(err, ShouldBeNil)
				mu.Lock()
				defer mu.Unlock()
				So(method, ShouldEqual, http.MethodPut)
				So(path, ShouldEqual, "/metrics/job/shrinkrank_evaluate")
			})
		})

		Convey("When no gateway is configured", func() {
			So(Push(context.Background(), "", "job"), ShouldBeNil)
		})

		Convey("When the gateway rejects the push", func() {
			bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			}))
			defer bad.Close()

			err := Push(context.Background(), bad.URL, "job")
			So(errors.Is(err, ErrPushFailed), ShouldBeTrue)
		})
	})
}
