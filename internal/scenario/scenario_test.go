package scenario

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestBuiltins_AreValidAndResolved(t *testing.T) {
	t.Parallel()
	all := Builtins()
	require.NotEmpty(t, all)
	seen := map[string]bool{}
	for _, sc := range all {
		assert.Empty(t, sc.Uses, "builtin %s must be resolved", sc.Name)
		assert.NoError(t, sc.Validate(), "builtin %s", sc.Name)
		assert.False(t, seen[sc.Name], "duplicate builtin %s", sc.Name)
		seen[sc.Name] = true
	}
}

func TestBuiltin_SignInLandingMatchesOnboardingFlow(t *testing.T) {
	t.Parallel()
	sc, ok := Builtin("sign-in-landing")
	require.True(t, ok)
	require.Len(t, sc.Steps, 4)
	assert.Equal(t, ActionNavigate, sc.Steps[0].Action)
	assert.Equal(t, NavigateCommit, sc.Steps[0].Mode)
	assert.Equal(t, "", sc.EntryURL(), "first step navigates, so no entry navigation")
	require.Len(t, sc.Expect, 1)
	assert.Equal(t, TextSignInHeading, sc.Expect[0].Text)
	assert.Equal(t, 30*time.Second, sc.Expect[0].Timeout)
}

func TestResolve_DoesNotAliasFixtureOrReceiver(t *testing.T) {
	t.Parallel()
	fixtures := Fixtures()
	sc := Scenario{Name: "x", Uses: FixtureOnboarding, Steps: []Step{Click(ByTestID("a"))}, Expect: []Condition{ExpectText("ok", 0)}}
	resolved, err := sc.Resolve(fixtures)
	require.NoError(t, err)
	require.Len(t, resolved.Steps, 5)

	resolved.Steps[0].Value = "/mutated"
	assert.Equal(t, "/", fixtures[FixtureOnboarding][0].Value)
	assert.Equal(t, FixtureOnboarding, sc.Uses)
	assert.Len(t, sc.Steps, 1)
}

func TestResolve_UnknownFixture(t *testing.T) {
	t.Parallel()
	_, err := Scenario{Name: "x", Uses: "nope"}.Resolve(Fixtures())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown setup fixture "nope"`)
}

func TestLocatorValidate(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		loc     Locator
		wantErr string
	}{
		{"role", ByRole("button", "Next"), ""},
		{"testid", ByTestID("onboarding-next"), ""},
		{"xpath", ByXPath("html/body/div"), ""},
		{"empty", Locator{}, "no strategy"},
		{"two", Locator{CSS: "button", XPath: "//button"}, "more than one"},
		{"name without role", Locator{Name: "Next", CSS: "button"}, "requires a role"},
		{"negative nth", Locator{CSS: "button", Nth: -1}, "negative nth"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.loc.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestStepValidate(t *testing.T) {
	t.Parallel()
	valid := []Step{
		Navigate("/", NavigateCommit),
		Navigate("http://example.test/x", ""),
		Click(ByTestID("a")),
		Fill(ByCSS("input"), ""),
		Scroll(ByRole("navigation", "Main")),
		ScrollBy(-300),
		WaitFor(ByText("Loaded")),
		Pause(time.Second),
		AssertVisible(ByText("Hello")),
	}
	for _, s := range valid {
		assert.NoError(t, s.Validate(), s.Label())
	}

	invalid := []Step{
		{Action: ActionNavigate},
		{Action: ActionNavigate, Value: "/", Mode: "networkidle"},
		{Action: ActionClick},
		{Action: ActionWait},
		{Action: ActionScroll, Value: "far"},
		{Action: "hover", Target: ByCSS("a")},
		{},
		{Action: ActionClick, Target: ByCSS("a"), Timeout: -time.Second},
	}
	for _, s := range invalid {
		assert.Error(t, s.Validate(), "%+v", s)
	}
}

func TestStepValidate_RejectsFieldsOfOtherActions(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		step    Step
		wantErr string
	}{
		{"mode on click", Step{Action: ActionClick, Target: ByCSS("a"), Mode: NavigateLoad}, `click: mode "load" only applies to navigate`},
		{"mode on wait", Step{Action: ActionWait, Pause: time.Second, Mode: NavigateCommit}, "only applies to navigate"},
		{"pause on click", Step{Action: ActionClick, Target: ByCSS("a"), Pause: time.Second}, "click: pause only applies to wait"},
		{"pause on navigate", Step{Action: ActionNavigate, Value: "/", Pause: time.Second}, "navigate: pause only applies to wait"},
		{"pause and target on wait", Step{Action: ActionWait, Target: ByText("Loaded"), Pause: time.Second}, "not both"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.step.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestParse_RejectsModeOnClick(t *testing.T) {
	t.Parallel()
	_, err := Parse([]byte(`
name: stray-mode
steps:
  - action: click
    target: {test_id: next}
    mode: commit
expect:
  - text: Done
`), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "only applies to navigate")
}

func TestStepLabel(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "navigate / (commit)", Navigate("/", "").Label())
	assert.Equal(t, `click role=button name="Next"`, Click(ByRole("button", "Next")).Label())
	assert.Equal(t, "scroll by 800px", ScrollBy(800).Label())
	assert.Equal(t, "wait 1s", Pause(time.Second).Label())
	assert.Equal(t, "fill test_id=email nth=2", Fill(Locator{TestID: "email", Nth: 2}, "x").Label())
	assert.Equal(t, 800, ScrollBy(800).ScrollPixels())
	assert.Equal(t, 600, Step{Action: ActionScroll}.ScrollPixels())
}

func TestScenarioValidate_NamesFailingStep(t *testing.T) {
	t.Parallel()
	sc := Scenario{
		Name:   "broken",
		Steps:  []Step{Navigate("/", NavigateCommit), {Action: ActionClick}},
		Expect: []Condition{ExpectText("x", 0)},
	}
	err := sc.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step 1")

	noExpect := Scenario{Name: "n", Steps: []Step{Navigate("/", "")}}
	assert.Error(t, noExpect.Validate())

	badCond := Scenario{Name: "c", Expect: []Condition{{Text: "a", Target: ByCSS("b")}}}
	assert.Error(t, badCond.Validate())
}

func TestEntryURL(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "/", Scenario{Steps: []Step{Click(ByCSS("a"))}}.EntryURL())
	assert.Equal(t, "/login", Scenario{URL: "/login"}.EntryURL())
	assert.Equal(t, "", Scenario{URL: "/login", Steps: []Step{Navigate("/x", "")}}.EntryURL())
}

func TestTarget(t *testing.T) {
	t.Parallel()
	const base = "http://fixture.test"
	tests := []struct {
		name string
		sc   Scenario
		want string
	}{
		{"absolute first navigation wins", Scenario{URL: "https://staging.example.test/app", Steps: []Step{Navigate("https://other.test/x", "")}}, "https://other.test/x"},
		{"absolute url", Scenario{URL: "https://staging.example.test/app", Steps: []Step{Click(ByCSS("a"))}}, "https://staging.example.test/app"},
		{"relative navigation falls through to url", Scenario{URL: "https://staging.example.test/app", Steps: []Step{Navigate("/x", "")}}, "https://staging.example.test/app"},
		{"relative url", Scenario{URL: "/login"}, base},
		{"no steps", Scenario{}, base},
		{"host without scheme", Scenario{URL: "staging.example.test/app"}, base},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.sc.Target(base))
		})
	}
}

const fileYAML = `
fixtures:
  to-login:
    - action: navigate
      value: /
      mode: commit
    - action: click
      target: {test_id: onboarding-skip}
scenarios:
  - name: login-visible
    uses: to-login
    timeout: 1m
    steps:
      - action: click
        target: {role: button, name: Sign in to Start}
        timeout: 5s
    expect:
      - text: Sign in to Start Practicing
        timeout: 30s
  - name: guest
    uses: onboarding
    steps:
      - action: click
        target: {xpath: "html/body/div/div/div/div/div/div[3]/button"}
    expect:
      - target: {role: heading, name: Home}
`

func TestParse_FileWithFixtures(t *testing.T) {
	t.Parallel()
	scenarios, err := Parse([]byte(fileYAML), Fixtures())
	require.NoError(t, err)
	require.Len(t, scenarios, 2)

	login := scenarios[0]
	assert.Equal(t, "login-visible", login.Name)
	assert.Equal(t, time.Minute, login.Timeout)
	require.Len(t, login.Steps, 3)
	assert.Equal(t, 5*time.Second, login.Steps[2].Timeout)
	assert.Equal(t, "Sign in to Start", login.Steps[2].Target.Name)
	assert.Equal(t, 30*time.Second, login.Expect[0].Timeout)

	guest := scenarios[1]
	assert.Len(t, guest.Steps, 5, "builtin onboarding fixture is prepended")
	assert.Equal(t, "Home", guest.Expect[0].Target.Name)
}

func TestParse_BareScenario(t *testing.T) {
	t.Parallel()
	doc := `
name: bare
url: /login
steps:
  - action: fill
    target: {css: "input[type=email]"}
    value: someone@example.com
expect:
  - text: Welcome
`
	scenarios, err := Parse([]byte(doc), nil)
	require.NoError(t, err)
	require.Len(t, scenarios, 1)
	assert.Equal(t, "/login", scenarios[0].EntryURL())
}

func TestParse_Rejects(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"unknown field":  "name: a\nstepz: []\nexpect: [{text: x}]\n",
		"empty":          "",
		"no scenarios":   "fixtures:\n  a:\n    - {action: navigate, value: /}\n",
		"duplicate":      "scenarios:\n  - {name: a, expect: [{text: x}]}\n  - {name: a, expect: [{text: y}]}\n",
		"bad fixture":    "fixtures:\n  a:\n    - {action: click}\nscenarios:\n  - {name: a, uses: a, expect: [{text: x}]}\n",
		"unresolved use": "name: a\nuses: missing\nexpect: [{text: x}]\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc), Fixtures())
			assert.Error(t, err)
		})
	}
}

func TestLoadDir_SortedAndUnique(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	write := func(name, body string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	write("b.yaml", "name: second\nexpect: [{text: b}]\n")
	write("a.yml", "name: first\nexpect: [{text: a}]\n")
	write("notes.txt", "ignored")

	scenarios, err := LoadDir(dir, nil)
	require.NoError(t, err)
	require.Len(t, scenarios, 2)
	assert.Equal(t, "first", scenarios[0].Name)
	assert.Equal(t, "second", scenarios[1].Name)

	write("c.yaml", "name: first\nexpect: [{text: dup}]\n")
	_, err = LoadDir(dir, nil)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "defined in both"))
}

func genLocator() *rapid.Generator[Locator] {
	word := rapid.StringMatching(`[a-z][a-z0-9-]{0,12}`)
	return rapid.Custom(func(t *rapid.T) Locator {
		switch rapid.IntRange(0, 4).Draw(t, "kind") {
		case 0:
			return ByRole(rapid.SampledFrom([]string{"button", "link", "heading", "textbox"}).Draw(t, "role"), word.Draw(t, "name"))
		case 1:
			return ByTestID(word.Draw(t, "testid"))
		case 2:
			return ByText(word.Draw(t, "text"))
		case 3:
			return ByCSS("#" + word.Draw(t, "css"))
		default:
			return ByXPath("html/body/div/" + word.Draw(t, "xpath"))
		}
	})
}

func genStep() *rapid.Generator[Step] {
	return rapid.Custom(func(t *rapid.T) Step {
		loc := genLocator().Draw(t, "target")
		timeout := time.Duration(rapid.IntRange(0, 60).Draw(t, "timeout")) * time.Second
		var s Step
		switch rapid.IntRange(0, 5).Draw(t, "action") {
		case 0:
			s = Navigate("/"+rapid.StringMatching(`[a-z]{0,8}`).Draw(t, "path"), rapid.SampledFrom([]NavigateMode{NavigateCommit, NavigateLoad}).Draw(t, "mode"))
		case 1:
			s = Click(loc)
		case 2:
			s = Fill(loc, rapid.StringMatching(`[A-Za-z0-9 @.]{0,20}`).Draw(t, "value"))
		case 3:
			s = Scroll(loc)
		case 4:
			s = WaitFor(loc)
		default:
			s = AssertVisible(loc)
		}
		s.Timeout = timeout
		return s
	})
}

func testMarshalParse_PreservesStepOrder(t *rapid.T) {
	steps := rapid.SliceOfN(genStep(), 1, 12).Draw(t, "steps")
	sc := Scenario{
		Name:    "generated",
		Steps:   steps,
		Expect:  []Condition{ExpectText("done", 30*time.Second)},
		Timeout: 2 * time.Minute,
	}
	data, err := Marshal([]Scenario{sc})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	parsed, err := Parse(data, nil)
	if err != nil {
		t.Fatalf("Parse: %v\n%s", err, data)
	}
	if len(parsed) != 1 || len(parsed[0].Steps) != len(steps) {
		t.Fatalf("step count changed: got %d want %d", len(parsed[0].Steps), len(steps))
	}
	for i := range steps {
		if parsed[0].Steps[i].Label() != steps[i].Label() {
			t.Fatalf("step %d changed: got %q want %q", i, parsed[0].Steps[i].Label(), steps[i].Label())
		}
		if parsed[0].Steps[i].Timeout != steps[i].Timeout {
			t.Fatalf("step %d timeout changed: got %s want %s", i, parsed[0].Steps[i].Timeout, steps[i].Timeout)
		}
	}
}

func TestMarshalParse_PreservesStepOrder(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testMarshalParse_PreservesStepOrder)
}
