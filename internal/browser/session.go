package browser

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/kuitang/uirunner/internal/errs"
	"github.com/kuitang/uirunner/internal/runner"
	"github.com/kuitang/uirunner/internal/scenario"
)

// Session is one Chromium instance, one isolated context and one page.
type Session struct {
	cfg  Config
	base *url.URL

	browser playwright.Browser
	bctx    playwright.BrowserContext
	page    playwright.Page

	closeOnce sync.Once
	closeErr  error
}

var _ runner.Session = (*Session)(nil)

// Page exposes the underlying page for tests.
func (s *Session) Page() playwright.Page { return s.page }

// Close closes the context (and with it the page), then the browser. It is
// safe to call more than once and from another goroutine.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		var errList []error
		if err := s.bctx.Close(); err != nil && !errors.Is(err, playwright.ErrTargetClosed) {
			errList = append(errList, fmt.Errorf("close context: %w", err))
		}
		if err := s.browser.Close(); err != nil && !errors.Is(err, playwright.ErrTargetClosed) {
			errList = append(errList, fmt.Errorf("close browser: %w", err))
		}
		s.closeErr = errors.Join(errList...)
	})
	return s.closeErr
}

// Resolve turns a scenario URL into an absolute one against the base URL.
func (s *Session) Resolve(raw string) (string, error) {
	ref, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", errs.Wrap(errs.InvalidArgument, fmt.Sprintf("invalid url %q", raw), err)
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	if s.base == nil {
		return "", errs.New(errs.InvalidArgument, fmt.Sprintf("relative url %q needs a base URL", raw))
	}
	return s.base.ResolveReference(ref).String(), nil
}

func waitUntil(mode scenario.NavigateMode) *playwright.WaitUntilState {
	switch mode {
	case scenario.NavigateLoad:
		return playwright.WaitUntilStateLoad
	case scenario.NavigateDOMContentLoaded:
		return playwright.WaitUntilStateDomcontentloaded
	default:
		return playwright.WaitUntilStateCommit
	}
}

// Navigate opens url and returns once the requested navigation stage is reached.
func (s *Session) Navigate(ctx context.Context, raw string, mode scenario.NavigateMode) error {
	target, err := s.Resolve(raw)
	if err != nil {
		return err
	}
	if mode == "" {
		mode = scenario.NavigateCommit
	}
	_, err = s.page.Goto(target, playwright.PageGotoOptions{
		WaitUntil: waitUntil(mode),
		Timeout:   playwright.Float(ms(s.cfg.NavigationTimeout)),
	})
	if err == nil {
		return nil
	}
	switch {
	case ctx.Err() != nil, errors.Is(err, playwright.ErrTargetClosed):
		return errs.Wrap(errs.Canceled, "navigation aborted: session closed", err)
	case errors.Is(err, playwright.ErrTimeout):
		return errs.Wrap(errs.NavigationTimeout,
			fmt.Sprintf("navigate %s (%s) did not complete within %s", target, mode, s.cfg.NavigationTimeout), err)
	default:
		return errs.Wrap(errs.Environment, fmt.Sprintf("navigate %s: %v", target, firstLine(err)), err)
	}
}

// AwaitReady waits for domcontentloaded on the page and then every frame,
// sharing one timeout. Frames that do not signal in time are reported, not failed.
func (s *Session) AwaitReady(ctx context.Context, timeout time.Duration) runner.Readiness {
	start := time.Now()
	deadline := start.Add(timeout)
	var pending []string

	if err := s.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateDomcontentloaded,
		Timeout: playwright.Float(remaining(deadline)),
	}); err != nil {
		pending = append(pending, s.page.URL())
	}
	main := s.page.MainFrame()
	for _, frame := range s.page.Frames() {
		if ctx.Err() != nil {
			break
		}
		if frame == main {
			continue
		}
		if err := frame.WaitForLoadState(playwright.FrameWaitForLoadStateOptions{
			State:   playwright.LoadStateDomcontentloaded,
			Timeout: playwright.Float(remaining(deadline)),
		}); err != nil {
			pending = append(pending, frame.URL())
		}
	}
	return runner.Readiness{
		Degraded: len(pending) > 0,
		Pending:  pending,
		Elapsed:  time.Since(start),
	}
}

// Execute performs a click, fill, scroll, wait or mid-scenario visibility check.
func (s *Session) Execute(ctx context.Context, step scenario.Step) error {
	timeout := s.cfg.ActionTimeout
	if step.Timeout > 0 {
		timeout = step.Timeout
	}
	// Locating, settling and acting share one deadline.
	deadline := time.Now().Add(timeout)

	switch step.Action {
	case scenario.ActionClick:
		el, err := s.actionable(ctx, step.Target, timeout, deadline, true)
		if err != nil {
			return err
		}
		if err := el.Click(playwright.LocatorClickOptions{Timeout: playwright.Float(remaining(deadline))}); err != nil {
			return s.actionError(ctx, "click", step.Target, timeout, err)
		}
		return nil

	case scenario.ActionFill:
		el, err := s.actionable(ctx, step.Target, timeout, deadline, true)
		if err != nil {
			return err
		}
		if err := el.Fill(step.Value, playwright.LocatorFillOptions{Timeout: playwright.Float(remaining(deadline))}); err != nil {
			return s.actionError(ctx, "fill", step.Target, timeout, err)
		}
		return nil

	case scenario.ActionScroll:
		if step.Target.IsZero() {
			if err := s.page.Mouse().Wheel(0, float64(step.ScrollPixels())); err != nil {
				return s.actionError(ctx, "scroll", step.Target, timeout, err)
			}
			return nil
		}
		el, err := s.actionable(ctx, step.Target, timeout, deadline, false)
		if err != nil {
			return err
		}
		if err := el.ScrollIntoViewIfNeeded(playwright.LocatorScrollIntoViewIfNeededOptions{Timeout: playwright.Float(remaining(deadline))}); err != nil {
			return s.actionError(ctx, "scroll", step.Target, timeout, err)
		}
		return nil

	case scenario.ActionWait:
		if step.Target.IsZero() {
			return sleep(ctx, step.Pause)
		}
		_, err := s.visible(ctx, step.Target, timeout)
		return err

	case scenario.ActionAssertVisible:
		if _, err := s.visible(ctx, step.Target, timeout); err != nil {
			if errs.CodeOf(err) == errs.Canceled {
				return err
			}
			expected := fmt.Sprintf("element %s visible", step.Target.Describe())
			return errs.Wrap(errs.AssertionFailed, expected+" within "+timeout.String(),
				&runner.Mismatch{Expected: expected, Observed: s.observe()})
		}
		return nil

	case scenario.ActionNavigate:
		return s.Navigate(ctx, step.Value, step.Mode)

	default:
		return errs.New(errs.InvalidArgument, fmt.Sprintf("unsupported step action %q", step.Action))
	}
}

// AssertFinal requires every condition to become visible within its timeout.
func (s *Session) AssertFinal(ctx context.Context, conditions []scenario.Condition, fallback time.Duration) error {
	for i, cond := range conditions {
		timeout := fallback
		if cond.Timeout > 0 {
			timeout = cond.Timeout
		}
		if _, err := s.visible(ctx, cond.Locator(), timeout); err != nil {
			if errs.CodeOf(err) == errs.Canceled {
				return err
			}
			expected := cond.Describe()
			return errs.Wrap(errs.AssertionFailed,
				fmt.Sprintf("final condition %d not met within %s: %s", i, timeout, expected),
				&runner.Mismatch{Expected: expected, Observed: s.observe()})
		}
	}
	return nil
}

// Capture takes a full-page screenshot and the page HTML.
func (s *Session) Capture(ctx context.Context) (runner.Diagnostics, error) {
	html, err := s.page.Content()
	if err != nil {
		return runner.Diagnostics{}, fmt.Errorf("read page content: %w", err)
	}
	title, _ := s.page.Title()
	diag := runner.Diagnostics{URL: s.page.URL(), Title: title, HTML: html}
	shot, err := s.page.Screenshot(playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(true),
		Timeout:  playwright.Float(ms(s.cfg.ActionTimeout)),
	})
	if err == nil {
		diag.Screenshot = shot
	}
	return diag, nil
}

func (s *Session) observe() string {
	title, _ := s.page.Title()
	return runner.Diagnostics{URL: s.page.URL(), Title: title}.Observed()
}

func (s *Session) actionError(ctx context.Context, action string, target scenario.Locator, timeout time.Duration, err error) error {
	switch {
	case ctx.Err() != nil, errors.Is(err, playwright.ErrTargetClosed):
		return errs.Wrap(errs.Canceled, action+" aborted: session closed", err)
	case errors.Is(err, playwright.ErrTimeout):
		return errs.Wrap(errs.StepTimeout,
			fmt.Sprintf("%s %s did not complete within %s", action, target.Describe(), timeout), err)
	default:
		return errs.Wrap(errs.StepTimeout, fmt.Sprintf("%s %s: %s", action, target.Describe(), firstLine(err)), err)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return errs.Wrap(errs.Canceled, "wait aborted", ctx.Err())
	}
}

func firstLine(err error) string {
	msg := err.Error()
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = msg[:i]
	}
	return msg
}
