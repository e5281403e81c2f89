package httpapi

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/pixmind/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type stubExpirer struct {
	maxAge  time.Duration
	expired int
	err     error
}

func (expirer *stubExpirer) ExpireStale(_ context.Context, maxAge time.Duration) (int, error) {
	expirer.maxAge = maxAge
	return expirer.expired, expirer.err
}

type stubCleaner struct {
	calls int
}

func (cleaner *stubCleaner) Cleanup() int {
	cleaner.calls++
	return 2
}

func TestDefaultJobs(test *testing.T) {
	test.Parallel()
	expirer := &stubExpirer{expired: 3}
	cleaner := &stubCleaner{}

	jobs := DefaultJobs(expirer, 0, cleaner, nil)
	if len(jobs) != 2 {
		test.Fatalf("expected two jobs, got %d", len(jobs))
	}
	for _, job := range jobs {
		if err := job.Run(context.Background()); err != nil {
			test.Fatalf("%s: %v", job.Name, err)
		}
	}
	if expirer.maxAge != defaultOrderMaxAge || cleaner.calls != 1 {
		test.Fatalf("unexpected job effects: max age %s, cleanups %d", expirer.maxAge, cleaner.calls)
	}
	if len(DefaultJobs(nil, time.Hour, nil, nil)) != 0 {
		test.Fatalf("expected no jobs without collaborators")
	}
}

func TestSchedulerRecordsRuns(test *testing.T) {
	test.Parallel()
	recorder := metrics.New()
	failing := Job{Name: "order-expiry", Spec: orderExpirySpec, Run: func(context.Context) error { return errors.New("database locked") }}
	scheduler, err := NewScheduler([]Job{failing}, nil, recorder)
	if err != nil {
		test.Fatalf("scheduler: %v", err)
	}
	scheduler.runJob(context.Background(), failing)

	expected := strings.NewReader(`
# HELP pixmind_scheduler_runs_total Scheduled job runs by outcome.
# TYPE pixmind_scheduler_runs_total counter
pixmind_scheduler_runs_total{job="order-expiry",status="error"} 1
`)
	if err := testutil.GatherAndCompare(recorder.Registry(), expected, "pixmind_scheduler_runs_total"); err != nil {
		test.Fatalf("unexpected scheduler metrics: %v", err)
	}
}

func TestNewSchedulerRejectsBadSchedule(test *testing.T) {
	test.Parallel()
	if _, err := NewScheduler([]Job{{Name: "broken", Spec: "every tuesday", Run: func(context.Context) error { return nil }}}, nil, nil); err == nil {
		test.Fatalf("expected schedule parse error")
	}
	if _, err := NewScheduler([]Job{{Name: "empty", Spec: "@every 1m"}}, nil, nil); err == nil {
		test.Fatalf("expected error for job without run function")
	}
}
