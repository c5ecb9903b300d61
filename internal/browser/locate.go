package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/kuitang/uirunner/internal/errs"
	"github.com/kuitang/uirunner/internal/scenario"
)

// locate maps a scenario locator onto the page. The returned locator may match
// several elements; callers pick loc.Nth.
func (s *Session) locate(loc scenario.Locator) playwright.Locator {
	switch {
	case loc.Role != "":
		opts := playwright.PageGetByRoleOptions{}
		if loc.Name != "" {
			opts.Name = loc.Name
			opts.Exact = playwright.Bool(true)
		}
		return s.page.GetByRole(playwright.AriaRole(loc.Role), opts)
	case loc.TestID != "":
		return s.page.GetByTestId(loc.TestID)
	case loc.Text != "":
		return s.page.GetByText(loc.Text)
	case loc.CSS != "":
		return s.page.Locator("css=" + loc.CSS)
	default:
		return s.page.Locator("xpath=" + loc.XPath)
	}
}

// pollState is the state of a locator at one poll.
type pollState struct {
	matched bool
	reason  string
	box     *playwright.Rect
}

func (s *Session) inspect(all playwright.Locator, nth int, needEnabled bool) (pollState, error) {
	count, err := all.Count()
	if err != nil {
		return pollState{}, err
	}
	if count <= nth {
		return pollState{reason: fmt.Sprintf("%d matching elements", count)}, nil
	}
	el := all.Nth(nth)
	quick := playwright.Float(ms(s.cfg.PollInterval))
	visible, err := el.IsVisible()
	if err != nil {
		return pollState{matched: true, reason: firstLine(err)}, nil
	}
	if !visible {
		return pollState{matched: true, reason: "not visible"}, nil
	}
	if needEnabled {
		enabled, err := el.IsEnabled(playwright.LocatorIsEnabledOptions{Timeout: quick})
		if err != nil {
			return pollState{matched: true, reason: firstLine(err)}, nil
		}
		if !enabled {
			return pollState{matched: true, reason: "disabled"}, nil
		}
	}
	box, err := el.BoundingBox(playwright.LocatorBoundingBoxOptions{Timeout: quick})
	if err != nil || box == nil {
		return pollState{matched: true, reason: "no bounding box"}, nil
	}
	return pollState{matched: true, box: box}, nil
}

// actionable polls until deadline for the target to be visible, optionally
// enabled, and with a bounding box unchanged between two polls. The configured
// settle delay is applied afterwards. timeout only labels errors.
func (s *Session) actionable(ctx context.Context, target scenario.Locator, timeout time.Duration, deadline time.Time, needEnabled bool) (playwright.Locator, error) {
	all := s.locate(target)
	everMatched := false
	var last *playwright.Rect
	reason := "not polled"

	for {
		p, err := s.inspect(all, target.Nth, needEnabled)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, playwright.ErrTargetClosed) {
				return nil, errs.Wrap(errs.Canceled, "locate aborted: session closed", err)
			}
			return nil, errs.Wrap(errs.LocatorNotFound, fmt.Sprintf("locator %s is not valid: %s", target.Describe(), firstLine(err)), err)
		}
		everMatched = everMatched || p.matched
		reason = p.reason
		if p.box != nil {
			if last != nil && *last == *p.box {
				if err := sleep(ctx, min(s.cfg.SettleDelay, time.Until(deadline))); err != nil {
					return nil, err
				}
				return all.Nth(target.Nth), nil
			}
			reason = "still moving"
		}
		last = p.box

		if !time.Now().Before(deadline) {
			break
		}
		if err := sleep(ctx, s.cfg.PollInterval); err != nil {
			return nil, err
		}
	}

	if !everMatched {
		return nil, errs.New(errs.LocatorNotFound,
			fmt.Sprintf("no element matches %s within %s", target.Describe(), timeout))
	}
	return nil, errs.New(errs.StepTimeout,
		fmt.Sprintf("element %s matched but was not actionable within %s (%s)", target.Describe(), timeout, reason))
}

// visible waits until the target is visible.
func (s *Session) visible(ctx context.Context, target scenario.Locator, timeout time.Duration) (playwright.Locator, error) {
	all := s.locate(target)
	el := all.Nth(target.Nth)
	err := el.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(ms(timeout)),
	})
	if err == nil {
		return el, nil
	}
	if ctx.Err() != nil || errors.Is(err, playwright.ErrTargetClosed) {
		return nil, errs.Wrap(errs.Canceled, "wait aborted: session closed", err)
	}
	count, cerr := all.Count()
	if cerr == nil && count <= target.Nth {
		return nil, errs.Wrap(errs.LocatorNotFound,
			fmt.Sprintf("no element matches %s within %s", target.Describe(), timeout), err)
	}
	return nil, errs.Wrap(errs.StepTimeout,
		fmt.Sprintf("element %s matched but was not visible within %s", target.Describe(), timeout), err)
}

// remaining is the time left until deadline, at least one millisecond.
func remaining(deadline time.Time) float64 {
	left := time.Until(deadline)
	if left < time.Millisecond {
		left = time.Millisecond
	}
	return ms(left)
}
