// Package scenario defines the declarative input of the runner: ordered UI steps,
// capability-based locators, final visibility conditions, and the named scenarios
// and setup fixtures shipped with the binary.
//
// Scenarios are plain values. The runner never mutates them and consumes their
// steps strictly in declared order.
package scenario

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Action is the kind of a step.
type Action string

const (
	ActionNavigate      Action = "navigate"
	ActionClick         Action = "click"
	ActionFill          Action = "fill"
	ActionScroll        Action = "scroll"
	ActionWait          Action = "wait"
	ActionAssertVisible Action = "assert_visible"
)

// NavigateMode selects how long a navigate step waits before returning.
type NavigateMode string

const (
	// NavigateCommit returns as soon as the navigation request is committed.
	NavigateCommit           NavigateMode = "commit"
	NavigateDOMContentLoaded NavigateMode = "domcontentloaded"
	NavigateLoad             NavigateMode = "load"
)

// DefaultAssertTimeout bounds final conditions that do not set their own timeout.
const DefaultAssertTimeout = 30 * time.Second

// Locator identifies one UI element. Exactly one strategy field is set.
// Role/name and test ids survive markup changes; CSS and XPath are kept for
// scripts that only know the structural path.
type Locator struct {
	Role   string `yaml:"role,omitempty" json:"role,omitempty"`
	Name   string `yaml:"name,omitempty" json:"name,omitempty"`
	TestID string `yaml:"test_id,omitempty" json:"test_id,omitempty"`
	Text   string `yaml:"text,omitempty" json:"text,omitempty"`
	CSS    string `yaml:"css,omitempty" json:"css,omitempty"`
	XPath  string `yaml:"xpath,omitempty" json:"xpath,omitempty"`
	// Nth picks among multiple matches (0-based).
	Nth int `yaml:"nth,omitempty" json:"nth,omitempty"`
}

// ByRole locates by ARIA role and accessible name.
func ByRole(role, name string) Locator { return Locator{Role: role, Name: name} }

// ByTestID locates by the data-testid attribute.
func ByTestID(id string) Locator { return Locator{TestID: id} }

// ByText locates by visible text.
func ByText(text string) Locator { return Locator{Text: text} }

// ByCSS locates by CSS selector.
func ByCSS(selector string) Locator { return Locator{CSS: selector} }

// ByXPath locates by structural path.
func ByXPath(path string) Locator { return Locator{XPath: path} }

// IsZero reports whether no strategy is set.
func (l Locator) IsZero() bool {
	return l.strategies() == 0 && l.Name == "" && l.Nth == 0
}

func (l Locator) strategies() int {
	n := 0
	for _, v := range []string{l.Role, l.TestID, l.Text, l.CSS, l.XPath} {
		if v != "" {
			n++
		}
	}
	return n
}

// Validate checks that exactly one strategy is set.
func (l Locator) Validate() error {
	switch l.strategies() {
	case 0:
		return fmt.Errorf("locator has no strategy (set one of role, test_id, text, css, xpath)")
	case 1:
	default:
		return fmt.Errorf("locator %s sets more than one strategy", l.Describe())
	}
	if l.Name != "" && l.Role == "" {
		return fmt.Errorf("locator name %q requires a role", l.Name)
	}
	if l.Nth < 0 {
		return fmt.Errorf("locator %s has negative nth", l.Describe())
	}
	return nil
}

// Describe renders a short human label, used in logs and diagnostics.
func (l Locator) Describe() string {
	var b strings.Builder
	switch {
	case l.Role != "":
		b.WriteString("role=" + l.Role)
		if l.Name != "" {
			fmt.Fprintf(&b, " name=%q", l.Name)
		}
	case l.TestID != "":
		b.WriteString("test_id=" + l.TestID)
	case l.Text != "":
		fmt.Fprintf(&b, "text=%q", l.Text)
	case l.CSS != "":
		b.WriteString("css=" + l.CSS)
	case l.XPath != "":
		b.WriteString("xpath=" + l.XPath)
	default:
		b.WriteString("<empty locator>")
	}
	if l.Nth > 0 {
		fmt.Fprintf(&b, " nth=%d", l.Nth)
	}
	return b.String()
}

// Step is one ordered action of a scenario.
type Step struct {
	Action  Action        `yaml:"action" json:"action"`
	Target  Locator       `yaml:"target,omitempty" json:"target,omitempty"`
	Value   string        `yaml:"value,omitempty" json:"value,omitempty"`
	Mode    NavigateMode  `yaml:"mode,omitempty" json:"mode,omitempty"`
	Pause   time.Duration `yaml:"pause,omitempty" json:"pause,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	// Description is free text carried into logs and reports.
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// Navigate builds a navigate step.
func Navigate(url string, mode NavigateMode) Step {
	return Step{Action: ActionNavigate, Value: url, Mode: mode}
}

// Click builds a click step.
func Click(target Locator) Step { return Step{Action: ActionClick, Target: target} }

// Fill builds a fill step.
func Fill(target Locator, value string) Step {
	return Step{Action: ActionFill, Target: target, Value: value}
}

// Scroll builds a scroll step that brings target into view.
func Scroll(target Locator) Step { return Step{Action: ActionScroll, Target: target} }

// ScrollBy builds a scroll step that wheels the page by pixels.
func ScrollBy(pixels int) Step {
	return Step{Action: ActionScroll, Value: strconv.Itoa(pixels)}
}

// WaitFor builds a wait step for target to become visible.
func WaitFor(target Locator) Step { return Step{Action: ActionWait, Target: target} }

// Pause builds a bare wait step.
func Pause(d time.Duration) Step { return Step{Action: ActionWait, Pause: d} }

// AssertVisible builds a mid-scenario visibility assertion.
func AssertVisible(target Locator) Step {
	return Step{Action: ActionAssertVisible, Target: target}
}

// Label renders the step for logs: action plus target or value.
func (s Step) Label() string {
	switch s.Action {
	case ActionNavigate:
		mode := s.Mode
		if mode == "" {
			mode = NavigateCommit
		}
		return fmt.Sprintf("navigate %s (%s)", s.Value, mode)
	case ActionWait:
		if s.Target.IsZero() {
			return fmt.Sprintf("wait %s", s.Pause)
		}
	case ActionScroll:
		if s.Target.IsZero() {
			return fmt.Sprintf("scroll by %spx", s.Value)
		}
	}
	return fmt.Sprintf("%s %s", s.Action, s.Target.Describe())
}

// Validate checks the step shape for its action.
func (s Step) Validate() error {
	if s.Timeout < 0 {
		return fmt.Errorf("%s: negative timeout", s.Action)
	}
	if s.Mode != "" && s.Action != ActionNavigate {
		return fmt.Errorf("%s: mode %q only applies to navigate", s.Action, s.Mode)
	}
	if s.Pause != 0 && s.Action != ActionWait {
		return fmt.Errorf("%s: pause only applies to wait", s.Action)
	}
	switch s.Action {
	case ActionNavigate:
		if strings.TrimSpace(s.Value) == "" {
			return fmt.Errorf("navigate: value (url) is required")
		}
		switch s.Mode {
		case "", NavigateCommit, NavigateDOMContentLoaded, NavigateLoad:
		default:
			return fmt.Errorf("navigate: unknown mode %q", s.Mode)
		}
		return nil
	case ActionClick, ActionFill, ActionAssertVisible:
		if err := s.Target.Validate(); err != nil {
			return fmt.Errorf("%s: %w", s.Action, err)
		}
		return nil
	case ActionScroll:
		if s.Target.IsZero() {
			if _, err := parsePixels(s.Value); err != nil {
				return fmt.Errorf("scroll: %w", err)
			}
			return nil
		}
		if err := s.Target.Validate(); err != nil {
			return fmt.Errorf("scroll: %w", err)
		}
		return nil
	case ActionWait:
		if s.Target.IsZero() {
			if s.Pause <= 0 {
				return fmt.Errorf("wait: set a target or a positive pause")
			}
			return nil
		}
		if s.Pause != 0 {
			return fmt.Errorf("wait: set a target or a pause, not both")
		}
		if err := s.Target.Validate(); err != nil {
			return fmt.Errorf("wait: %w", err)
		}
		return nil
	case "":
		return fmt.Errorf("step action is required")
	default:
		return fmt.Errorf("unknown step action %q", s.Action)
	}
}

// ScrollPixels returns the wheel delta of a target-less scroll step.
func (s Step) ScrollPixels() int {
	n, err := parsePixels(s.Value)
	if err != nil {
		return 0
	}
	return n
}

func parsePixels(v string) (int, error) {
	v = strings.TrimSuffix(strings.TrimSpace(v), "px")
	if v == "" {
		return 600, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid pixel amount %q", v)
	}
	return n, nil
}

// Condition is a final visibility expectation: a visible text or a located element.
type Condition struct {
	Text    string        `yaml:"text,omitempty" json:"text,omitempty"`
	Target  Locator       `yaml:"target,omitempty" json:"target,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// ExpectText builds a visible-text condition.
func ExpectText(text string, timeout time.Duration) Condition {
	return Condition{Text: text, Timeout: timeout}
}

// ExpectElement builds a visible-element condition.
func ExpectElement(target Locator, timeout time.Duration) Condition {
	return Condition{Target: target, Timeout: timeout}
}

// Locator returns the locator that satisfies the condition.
func (c Condition) Locator() Locator {
	if c.Text != "" {
		return ByText(c.Text)
	}
	return c.Target
}

// Describe renders the expected UI state in words.
func (c Condition) Describe() string {
	if c.Text != "" {
		return fmt.Sprintf("text %q visible", c.Text)
	}
	return fmt.Sprintf("element %s visible", c.Target.Describe())
}

// Validate checks that exactly one of text or target is set.
func (c Condition) Validate() error {
	if c.Timeout < 0 {
		return fmt.Errorf("condition: negative timeout")
	}
	hasText := strings.TrimSpace(c.Text) != ""
	hasTarget := !c.Target.IsZero()
	switch {
	case hasText && hasTarget:
		return fmt.Errorf("condition sets both text and target")
	case hasText:
		return nil
	case hasTarget:
		return c.Target.Validate()
	default:
		return fmt.Errorf("condition needs text or target")
	}
}

// Scenario is a named ordered sequence of steps plus final conditions.
type Scenario struct {
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Tags        []string `yaml:"tags,omitempty" json:"tags,omitempty"`
	// URL is the entry page, visited before the first step unless that step navigates.
	URL string `yaml:"url,omitempty" json:"url,omitempty"`
	// Uses names a setup fixture whose steps run before Steps.
	Uses    string        `yaml:"uses,omitempty" json:"uses,omitempty"`
	Steps   []Step        `yaml:"steps" json:"steps"`
	Expect  []Condition   `yaml:"expect" json:"expect"`
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// EntryURL returns the page opened before the first step, or "" when the
// first step is itself a navigation.
func (s Scenario) EntryURL() string {
	if len(s.Steps) > 0 && s.Steps[0].Action == ActionNavigate {
		return ""
	}
	if s.URL == "" {
		return "/"
	}
	return s.URL
}

// Target is the absolute URL the scenario's session opens first: an absolute
// first navigation, else an absolute URL, else base.
func (s Scenario) Target(base string) string {
	if len(s.Steps) > 0 && s.Steps[0].Action == ActionNavigate && isAbsoluteURL(s.Steps[0].Value) {
		return s.Steps[0].Value
	}
	if isAbsoluteURL(s.URL) {
		return s.URL
	}
	return base
}

func isAbsoluteURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	return err == nil && u.Scheme != "" && u.Host != ""
}

// Validate checks the scenario and every step and condition. Errors name the step index.
func (s Scenario) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("scenario name is required")
	}
	if s.Timeout < 0 {
		return fmt.Errorf("scenario %q: negative timeout", s.Name)
	}
	if s.Uses != "" {
		return fmt.Errorf("scenario %q: setup fixture %q is not resolved", s.Name, s.Uses)
	}
	if len(s.Steps) == 0 && len(s.Expect) == 0 {
		return fmt.Errorf("scenario %q has no steps and no expectations", s.Name)
	}
	if len(s.Expect) == 0 {
		return fmt.Errorf("scenario %q has no final expectation", s.Name)
	}
	for i, step := range s.Steps {
		if err := step.Validate(); err != nil {
			return fmt.Errorf("scenario %q step %d: %w", s.Name, i, err)
		}
	}
	for i, cond := range s.Expect {
		if err := cond.Validate(); err != nil {
			return fmt.Errorf("scenario %q expect %d: %w", s.Name, i, err)
		}
	}
	return nil
}

// Resolve prepends the named setup fixture's steps and clears Uses.
// The receiver is not modified.
func (s Scenario) Resolve(fixtures map[string][]Step) (Scenario, error) {
	if s.Uses == "" {
		return s.clone(), nil
	}
	prefix, ok := fixtures[s.Uses]
	if !ok {
		return Scenario{}, fmt.Errorf("scenario %q uses unknown setup fixture %q", s.Name, s.Uses)
	}
	out := s.clone()
	out.Uses = ""
	out.Steps = make([]Step, 0, len(prefix)+len(s.Steps))
	out.Steps = append(out.Steps, prefix...)
	out.Steps = append(out.Steps, s.Steps...)
	return out, nil
}

func (s Scenario) clone() Scenario {
	out := s
	out.Tags = append([]string(nil), s.Tags...)
	out.Steps = append([]Step(nil), s.Steps...)
	out.Expect = append([]Condition(nil), s.Expect...)
	return out
}

// HasTag reports whether the scenario carries tag.
func (s Scenario) HasTag(tag string) bool {
	for _, t := range s.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}
