// Package suite runs many scenarios at once, each with its own session.
// Launches against the same target host are paced by a token bucket.
package suite

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kuitang/uirunner/internal/errs"
	"github.com/kuitang/uirunner/internal/obs"
	"github.com/kuitang/uirunner/internal/ratelimit"
	"github.com/kuitang/uirunner/internal/runner"
	"github.com/kuitang/uirunner/internal/scenario"
)

// DefaultConcurrency bounds the sessions open at once.
const DefaultConcurrency = 4

// Observer receives every finished result, in completion order.
type Observer interface {
	Observe(ctx context.Context, sc scenario.Scenario, res runner.Result) error
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, sc scenario.Scenario, res runner.Result) error

func (f ObserverFunc) Observe(ctx context.Context, sc scenario.Scenario, res runner.Result) error {
	return f(ctx, sc, res)
}

// Suite runs scenarios concurrently.
type Suite struct {
	Runner *runner.Runner
	// Limiter paces launches per target host; nil launches without pacing.
	Limiter *ratelimit.Limiter
	// BaseURL is the target of scenarios that do not navigate to an absolute URL.
	BaseURL     string
	Concurrency int
	Observers   []Observer
}

// Summary is the outcome of a suite run. Results keep the input order.
type Summary struct {
	SuiteID    string          `json:"suite_id"`
	Results    []runner.Result `json:"results"`
	Passed     int             `json:"passed"`
	Failed     int             `json:"failed"`
	Errored    int             `json:"errored"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
}

// ExitCode is 0 when every scenario passed, 1 when any failed, 2 when any errored.
func (s Summary) ExitCode() int {
	statuses := make([]runner.Status, len(s.Results))
	for i, res := range s.Results {
		statuses[i] = res.Status
	}
	return runner.ExitCode(statuses...)
}

// Run executes every scenario and waits for all of them. One scenario's
// failure never stops the others; canceling ctx aborts those still running
// or waiting for a launch slot.
func (s *Suite) Run(ctx context.Context, scenarios []scenario.Scenario) Summary {
	sum := Summary{
		SuiteID:   uuid.NewString(),
		Results:   make([]runner.Result, len(scenarios)),
		StartedAt: time.Now().UTC(),
	}
	ctx = obs.WithCorrelation(ctx, obs.Correlation{Suite: sum.SuiteID, Target: ratelimit.HostKey(s.BaseURL)})
	log := obs.From(ctx).With("pkg", "suite")

	limit := s.Concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	log.Info("suite_started", "scenarios", len(scenarios), "concurrency", limit)

	var g errgroup.Group
	g.SetLimit(limit)
	for i, sc := range scenarios {
		g.Go(func() error {
			res := s.runOne(ctx, sc)
			sum.Results[i] = res
			for _, o := range s.Observers {
				if err := o.Observe(context.WithoutCancel(ctx), sc, res); err != nil {
					log.Warn("observer_failed", "scenario", sc.Name, "run_id", res.RunID, "error", err)
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, res := range sum.Results {
		switch res.Status {
		case runner.StatusPassed:
			sum.Passed++
		case runner.StatusFailed:
			sum.Failed++
		default:
			sum.Errored++
		}
	}
	sum.FinishedAt = time.Now().UTC()
	log.Info("suite_finished",
		"passed", sum.Passed,
		"failed", sum.Failed,
		"errored", sum.Errored,
		"dur_ms", sum.FinishedAt.Sub(sum.StartedAt).Milliseconds(),
	)
	return sum
}

func (s *Suite) runOne(ctx context.Context, sc scenario.Scenario) runner.Result {
	if s.Limiter != nil {
		if err := s.Limiter.Wait(ctx, ratelimit.HostKey(sc.Target(s.BaseURL))); err != nil {
			return runner.Aborted(sc, uuid.NewString(), errs.Wrap(errs.Canceled, "launch slot canceled", err))
		}
	}
	return s.Runner.Run(ctx, sc)
}

