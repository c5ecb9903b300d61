package runner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kuitang/uirunner/internal/scenario"
)

// Engine starts browser sessions. Implementations must be safe for concurrent Start calls.
type Engine interface {
	Start(ctx context.Context) (Session, error)
}

// Session is one engine instance, one isolated context and one page, serving a
// single scenario execution. Close tears down the context and then the engine;
// it may be called from another goroutine to abort an in-flight call.
type Session interface {
	// Navigate opens url (relative to the base URL when not absolute).
	Navigate(ctx context.Context, url string, mode scenario.NavigateMode) error
	// AwaitReady waits best-effort for the page and its frames to signal
	// loaded. It never returns an error.
	AwaitReady(ctx context.Context, timeout time.Duration) Readiness
	// Execute performs one non-navigate step.
	Execute(ctx context.Context, step scenario.Step) error
	// AssertFinal checks every condition, using fallback for conditions without a timeout.
	AssertFinal(ctx context.Context, conditions []scenario.Condition, fallback time.Duration) error
	// Capture collects diagnostics of the current page.
	Capture(ctx context.Context) (Diagnostics, error)
	Close() error
}

// Readiness is the outcome of a best-effort load wait.
type Readiness struct {
	Degraded bool
	// Pending lists the page or frame URLs that did not signal loaded in time.
	Pending []string
	Elapsed time.Duration
}

// Describe renders the degraded frames for the result.
func (r Readiness) Describe() string {
	if !r.Degraded {
		return "ready"
	}
	if len(r.Pending) == 0 {
		return fmt.Sprintf("load wait timed out after %s", r.Elapsed.Round(time.Millisecond))
	}
	return fmt.Sprintf("load wait timed out after %s: %s", r.Elapsed.Round(time.Millisecond), strings.Join(r.Pending, ", "))
}

// Diagnostics is the page state captured on failure.
type Diagnostics struct {
	URL        string
	Title      string
	HTML       string
	Screenshot []byte
}

// Observed summarizes where the page was.
func (d Diagnostics) Observed() string {
	switch {
	case d.URL == "" && d.Title == "":
		return "page state unavailable"
	case d.Title == "":
		return fmt.Sprintf("page %s", d.URL)
	default:
		return fmt.Sprintf("page %s titled %q", d.URL, d.Title)
	}
}

// Mismatch is the cause carried by assertion and step failures: the expected UI
// state and what the page showed instead.
type Mismatch struct {
	Expected string
	Observed string
}

func (m *Mismatch) Error() string {
	return fmt.Sprintf("expected %s; observed %s", m.Expected, m.Observed)
}

// ArtifactSink stores failure diagnostics and returns the keys it wrote.
type ArtifactSink interface {
	Store(ctx context.Context, runID string, d Diagnostics) ([]string, error)
}
