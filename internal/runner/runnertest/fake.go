// Package runnertest provides a scripted in-memory Engine for tests of code
// that drives scenarios without a browser.
package runnertest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kuitang/uirunner/internal/errs"
	"github.com/kuitang/uirunner/internal/runner"
	"github.com/kuitang/uirunner/internal/scenario"
)

// Engine is a runner.Engine whose sessions follow the configured script.
// Configure the exported fields before the first Start.
type Engine struct {
	// StartErr fails every Start.
	StartErr error
	// OnNavigate decides navigation outcomes; nil succeeds.
	OnNavigate func(ctx context.Context, s *Session, url string) error
	// OnStep decides step outcomes; nil succeeds.
	OnStep func(ctx context.Context, s *Session, step scenario.Step) error
	// OnAssert decides the final assertion; nil succeeds.
	OnAssert    func(ctx context.Context, s *Session, conditions []scenario.Condition) error
	Ready       runner.Readiness
	Diagnostics runner.Diagnostics
	CloseErr    error

	mu       sync.Mutex
	sessions []*Session
	active   atomic.Int32
	peak     atomic.Int32
}

// Start opens a new scripted session.
func (e *Engine) Start(ctx context.Context) (runner.Session, error) {
	if e.StartErr != nil {
		return nil, e.StartErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := &Session{engine: e, closed: make(chan struct{})}
	e.mu.Lock()
	s.ID = len(e.sessions)
	e.sessions = append(e.sessions, s)
	e.mu.Unlock()
	n := e.active.Add(1)
	for {
		peak := e.peak.Load()
		if n <= peak || e.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	return s, nil
}

// Sessions returns every session started so far.
func (e *Engine) Sessions() []*Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Session(nil), e.sessions...)
}

// Active is the number of sessions started and not yet closed.
func (e *Engine) Active() int { return int(e.active.Load()) }

// Peak is the highest number of sessions open at once.
func (e *Engine) Peak() int { return int(e.peak.Load()) }

// Session records every call made to it.
type Session struct {
	ID     int
	engine *Engine

	mu     sync.Mutex
	calls  []string
	steps  []scenario.Step
	closes atomic.Int32
	once   sync.Once
	closed chan struct{}
}

func (s *Session) record(call string) {
	s.mu.Lock()
	s.calls = append(s.calls, call)
	s.mu.Unlock()
}

// Calls lists the session calls in order.
func (s *Session) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// Steps lists the executed steps in order, navigate steps included.
func (s *Session) Steps() []scenario.Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]scenario.Step(nil), s.steps...)
}

// CloseCount is the number of Close calls.
func (s *Session) CloseCount() int { return int(s.closes.Load()) }

// Closed is closed by the first Close call.
func (s *Session) Closed() <-chan struct{} { return s.closed }

func (s *Session) targetClosed() error {
	select {
	case <-s.closed:
		return errs.New(errs.StepTimeout, "target page, context or browser has been closed")
	default:
		return nil
	}
}

func (s *Session) Navigate(ctx context.Context, url string, mode scenario.NavigateMode) error {
	s.record("navigate " + url)
	if err := s.targetClosed(); err != nil {
		return err
	}
	if s.engine.OnNavigate != nil {
		return s.engine.OnNavigate(ctx, s, url)
	}
	return nil
}

func (s *Session) AwaitReady(ctx context.Context, timeout time.Duration) runner.Readiness {
	s.record("await_ready")
	return s.engine.Ready
}

func (s *Session) Execute(ctx context.Context, step scenario.Step) error {
	s.mu.Lock()
	s.calls = append(s.calls, "execute "+step.Label())
	s.steps = append(s.steps, step)
	s.mu.Unlock()
	if err := s.targetClosed(); err != nil {
		return err
	}
	if s.engine.OnStep != nil {
		return s.engine.OnStep(ctx, s, step)
	}
	return nil
}

func (s *Session) AssertFinal(ctx context.Context, conditions []scenario.Condition, fallback time.Duration) error {
	s.record(fmt.Sprintf("assert %d", len(conditions)))
	if err := s.targetClosed(); err != nil {
		return err
	}
	if s.engine.OnAssert != nil {
		return s.engine.OnAssert(ctx, s, conditions)
	}
	return nil
}

func (s *Session) Capture(ctx context.Context) (runner.Diagnostics, error) {
	s.record("capture")
	if err := s.targetClosed(); err != nil {
		return runner.Diagnostics{}, err
	}
	return s.engine.Diagnostics, nil
}

func (s *Session) Close() error {
	s.closes.Add(1)
	s.once.Do(func() {
		close(s.closed)
		s.engine.active.Add(-1)
	})
	s.record("close")
	return s.engine.CloseErr
}

// BlockUntilClosed is an OnStep that hangs until the session is torn down.
func BlockUntilClosed(ctx context.Context, s *Session, step scenario.Step) error {
	<-s.Closed()
	return errs.New(errs.StepTimeout, "target page, context or browser has been closed")
}
