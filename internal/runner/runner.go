// Package runner executes one scenario against one freshly started browser
// session and reports the outcome as a Result.
//
// A run moves through created, started, navigating, executing and asserting,
// ends passed, failed or errored, and is always closed: the session is torn
// down exactly once on every path, including panics inside a step and
// cancellation of the run context.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kuitang/uirunner/internal/errs"
	"github.com/kuitang/uirunner/internal/logutil"
	"github.com/kuitang/uirunner/internal/obs"
	"github.com/kuitang/uirunner/internal/scenario"
)

// Options bound the waits the runner owns. Zero values take the defaults.
type Options struct {
	ReadyTimeout    time.Duration
	AssertTimeout   time.Duration
	ScenarioTimeout time.Duration
}

const (
	DefaultReadyTimeout    = 3 * time.Second
	DefaultScenarioTimeout = 2 * time.Minute
)

func (o Options) withDefaults() Options {
	if o.ReadyTimeout <= 0 {
		o.ReadyTimeout = DefaultReadyTimeout
	}
	if o.AssertTimeout <= 0 {
		o.AssertTimeout = scenario.DefaultAssertTimeout
	}
	if o.ScenarioTimeout <= 0 {
		o.ScenarioTimeout = DefaultScenarioTimeout
	}
	return o
}

// Runner runs scenarios, one session per run.
type Runner struct {
	engine  Engine
	sink    ArtifactSink
	opts    Options
	newID   func() string
	release sync.WaitGroup
}

// New creates a runner over engine.
func New(engine Engine, opts Options) *Runner {
	return &Runner{
		engine: engine,
		opts:   opts.withDefaults(),
		newID:  uuid.NewString,
	}
}

// WithSink sets the destination of failure diagnostics.
func (r *Runner) WithSink(sink ArtifactSink) *Runner {
	r.sink = sink
	return r
}

// Options returns the effective options.
func (r *Runner) Options() Options { return r.opts }

// Wait blocks until every session released by a cancellation watcher has
// finished closing.
func (r *Runner) Wait() { r.release.Wait() }

// Run executes sc and returns its Result. It never panics and never returns
// before the session is released.
func (r *Runner) Run(ctx context.Context, sc scenario.Scenario) (res Result) {
	res = Result{
		RunID:      r.newID(),
		Scenario:   sc.Name,
		FailedStep: -1,
		StartedAt:  time.Now().UTC(),
	}
	res.enter(StateCreated)
	ctx = obs.WithCorrelation(ctx, obs.Correlation{RunID: res.RunID, Scenario: sc.Name})
	log := logFrom(ctx)

	defer func() {
		res.FinishedAt = time.Now().UTC()
		obs.RecordRun(string(res.Status), res.Duration())
		log.Info("run_finished",
			"status", res.Status,
			"phase", res.Phase,
			"failed_step", res.FailedStep,
			"code", res.Code,
			"steps_executed", res.StepsExecuted,
			"dur_ms", res.Duration().Milliseconds(),
		)
	}()

	if err := sc.Validate(); err != nil {
		r.finish(&res, errs.Wrap(errs.InvalidArgument, "invalid scenario: "+err.Error(), err))
		res.enter(StateClosed)
		return res
	}

	timeout := r.opts.ScenarioTimeout
	if sc.Timeout > 0 {
		timeout = sc.Timeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log.Info("run_started", "steps", len(sc.Steps), "timeout_ms", timeout.Milliseconds())
	sess, err := r.engine.Start(runCtx)
	if err != nil {
		if runCtx.Err() != nil {
			err = errs.Wrap(errs.Canceled, "run canceled before session start", errors.Join(runCtx.Err(), err))
		} else if errs.CodeOf(err) == errs.Internal {
			err = errs.Wrap(errs.Environment, "start browser session: "+err.Error(), err)
		}
		r.finish(&res, err)
		res.enter(StateClosed)
		return res
	}
	obs.SessionOpened()
	res.enter(StateStarted)

	var once sync.Once
	teardown := func(reason string) {
		once.Do(func() {
			if err := sess.Close(); err != nil {
				log.Warn("session_close_failed", "reason", reason, "error", err)
			}
			obs.SessionClosed()
			log.Debug("session_closed", "reason", reason)
		})
	}
	done := make(chan struct{})
	r.release.Add(1)
	go func() {
		defer r.release.Done()
		select {
		case <-runCtx.Done():
			teardown("canceled")
		case <-done:
		}
	}()
	defer func() {
		close(done)
		teardown("finished")
		res.enter(StateClosed)
	}()

	err = r.drive(runCtx, sess, sc, &res)
	if err != nil && runCtx.Err() != nil && errs.CodeOf(err) != errs.Canceled {
		// A browser call aborted by the watcher surfaces as a timeout or a
		// closed target; the cancellation is the real cause.
		err = r.canceled(runCtx, err)
	}
	r.finish(&res, err)
	if res.Status == StatusFailed {
		r.collect(runCtx, sess, &res)
	}
	return res
}

func logFrom(ctx context.Context) *slog.Logger {
	return obs.From(ctx).With("pkg", "runner")
}

func (r *Runner) canceled(ctx context.Context, cause error) error {
	msg := "run canceled"
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		msg = "scenario timeout exceeded"
	}
	return errs.Wrap(errs.Canceled, msg, cause)
}

// protect turns a panic inside a session call into an internal error.
func protect(phase State, fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errs.New(errs.Internal, fmt.Sprintf("panic during %s: %v", phase, p))
		}
	}()
	return fn()
}

// drive runs the scenario body.
func (r *Runner) drive(ctx context.Context, sess Session, sc scenario.Scenario, res *Result) error {
	if entry := sc.EntryURL(); entry != "" {
		res.enter(StateNavigating)
		err := protect(res.Phase, func() error {
			if err := sess.Navigate(ctx, entry, scenario.NavigateCommit); err != nil {
				return err
			}
			r.awaitReady(ctx, sess, res)
			return nil
		})
		if err != nil {
			return err
		}
	}

	res.enter(StateExecuting)
	for i, step := range sc.Steps {
		if err := ctx.Err(); err != nil {
			return r.canceled(ctx, err)
		}
		if err := r.step(ctx, sess, i, step, res); err != nil {
			res.FailedStep = i
			return err
		}
	}

	res.enter(StateAsserting)
	return protect(res.Phase, func() error {
		return sess.AssertFinal(ctx, sc.Expect, r.opts.AssertTimeout)
	})
}

func (r *Runner) step(ctx context.Context, sess Session, i int, step scenario.Step, res *Result) error {
	log := logFrom(ctx)
	start := time.Now()
	rec := StepRecord{Index: i, Action: string(step.Action), Label: step.Label()}
	res.StepsExecuted++

	err := protect(res.Phase, func() error {
		if step.Action == scenario.ActionNavigate {
			if err := sess.Navigate(ctx, step.Value, step.Mode); err != nil {
				return err
			}
			r.awaitReady(ctx, sess, res)
			return nil
		}
		return sess.Execute(ctx, step)
	})

	rec.Duration = time.Since(start)
	obs.RecordStep(string(step.Action), err == nil)
	attrs := []any{"index", i, "action", step.Action, "label", rec.Label, "dur_ms", rec.Duration.Milliseconds()}
	if step.Action == scenario.ActionFill {
		attrs = append(attrs, "value", logutil.RedactFillValue(step.Target.Describe()+" "+step.Description, step.Value))
	}
	if err != nil {
		rec.Code = errs.CodeOf(err)
		rec.Error = errs.MessageOf(err)
		res.Steps = append(res.Steps, rec)
		log.Info("step_failed", append(attrs, "code", rec.Code, "error", rec.Error)...)
		return err
	}
	res.Steps = append(res.Steps, rec)
	log.Debug("step_done", attrs...)
	return nil
}

func (r *Runner) awaitReady(ctx context.Context, sess Session, res *Result) {
	ready := sess.AwaitReady(ctx, r.opts.ReadyTimeout)
	if !ready.Degraded {
		return
	}
	obs.RecordReadyDegraded()
	res.Degraded = append(res.Degraded, ready.Describe())
	logFrom(ctx).Warn("ready_degraded", "pending", ready.Pending, "elapsed_ms", ready.Elapsed.Milliseconds())
}

// finish sets the terminal status from err.
func (r *Runner) finish(res *Result, err error) {
	if err == nil {
		res.Status = StatusPassed
		res.enter(StatePassed)
		return
	}
	res.Code = errs.CodeOf(err)
	res.Message = errs.MessageOf(err)
	var mismatch *Mismatch
	if errors.As(err, &mismatch) {
		res.Expected = mismatch.Expected
		res.Observed = mismatch.Observed
	}
	if res.Expected == "" && res.FailedStep >= 0 && res.FailedStep < len(res.Steps) {
		res.Expected = res.Steps[res.FailedStep].Label
	}
	if errs.IsFailure(res.Code) {
		res.Status = StatusFailed
		res.enter(StateFailed)
		return
	}
	res.Status = StatusErrored
	res.enter(StateErrored)
}

// collect captures diagnostics before teardown and hands them to the sink.
func (r *Runner) collect(ctx context.Context, sess Session, res *Result) {
	log := logFrom(ctx)
	diag, err := capture(ctx, sess)
	if err != nil {
		log.Warn("capture_failed", "error", err)
		return
	}
	if res.Observed == "" {
		res.Observed = diag.Observed()
	}
	if r.sink == nil {
		return
	}
	keys, err := r.sink.Store(context.WithoutCancel(ctx), res.RunID, diag)
	if err != nil {
		log.Warn("artifact_store_failed", "error", err)
	}
	res.Artifacts = append(res.Artifacts, keys...)
}

func capture(ctx context.Context, sess Session) (Diagnostics, error) {
	var diag Diagnostics
	err := protect(StateFailed, func() error {
		var err error
		diag, err = sess.Capture(ctx)
		return err
	})
	return diag, err
}
