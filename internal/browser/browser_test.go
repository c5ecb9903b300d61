package browser

import (
	"context"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuitang/uirunner/internal/errs"
	"github.com/kuitang/uirunner/internal/fixture"
	"github.com/kuitang/uirunner/internal/runner"
	"github.com/kuitang/uirunner/internal/scenario"
)

const testSlowDelay = 3 * time.Second

var (
	sharedMu      sync.Mutex
	sharedFixture *fixture.Fixture
	sharedServer  *httptest.Server
	sharedEngine  *Engine
	sharedErr     error
)

// testEnv returns the shared fixture server and engine. Skips when Playwright is unavailable.
func testEnv(t *testing.T) (*httptest.Server, *fixture.Fixture, *recordingEngine) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping browser test in short mode")
	}

	sharedMu.Lock()
	defer sharedMu.Unlock()
	if sharedEngine == nil && sharedErr == nil {
		sharedFixture = fixture.New(fixture.Options{SlowDelay: testSlowDelay, StallLimit: 30 * time.Second})
		sharedServer = httptest.NewServer(sharedFixture)
		sharedEngine, sharedErr = NewEngine(Config{
			BaseURL:       sharedServer.URL,
			Headless:      true,
			Args:          []string{"--disable-dev-shm-usage"},
			ActionTimeout: 2 * time.Second,
		})
	}
	if sharedErr != nil {
		t.Skip("Playwright not available:", sharedErr)
	}
	return sharedServer, sharedFixture, &recordingEngine{Engine: sharedEngine}
}

func TestMain(m *testing.M) {
	code := m.Run()
	sharedMu.Lock()
	if sharedEngine != nil {
		_ = sharedEngine.Close()
	}
	if sharedFixture != nil {
		sharedFixture.Close()
	}
	if sharedServer != nil {
		sharedServer.Close()
	}
	sharedMu.Unlock()
	os.Exit(code)
}

// recordingEngine keeps every session it starts so tests can check teardown.
type recordingEngine struct {
	*Engine
	mu       sync.Mutex
	sessions []*Session
}

func (e *recordingEngine) Start(ctx context.Context) (runner.Session, error) {
	s, err := e.Engine.Start(ctx)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.sessions = append(e.sessions, s.(*Session))
	e.mu.Unlock()
	return s, nil
}

func (e *recordingEngine) requireAllClosed(t *testing.T) {
	t.Helper()
	e.mu.Lock()
	defer e.mu.Unlock()
	require.NotEmpty(t, e.sessions)
	for i, s := range e.sessions {
		assert.False(t, s.browser.IsConnected(), "session %d browser still connected", i)
	}
}

func signInScenario(signIn scenario.Locator) scenario.Scenario {
	return scenario.Scenario{
		Name: "sign-in-literal",
		Steps: []scenario.Step{
			scenario.Navigate("/", scenario.NavigateCommit),
			scenario.Click(scenario.ByTestID(scenario.TestIDOnboardingNext)),
			scenario.Click(scenario.ByTestID(scenario.TestIDOnboardingSkip)),
			scenario.Click(signIn),
		},
		Expect: []scenario.Condition{scenario.ExpectText(scenario.TextSignInHeading, 30*time.Second)},
	}
}

func TestLiteralSignInScenario_Passes(t *testing.T) {
	_, _, engine := testEnv(t)

	res := runner.New(engine, runner.Options{}).Run(context.Background(), signInScenario(scenario.ByTestID(scenario.TestIDSignInStart)))

	require.Equal(t, runner.StatusPassed, res.Status, "code=%s message=%s", res.Code, res.Message)
	assert.Equal(t, 4, res.StepsExecuted)
	assert.Equal(t, -1, res.FailedStep)
	engine.requireAllClosed(t)
}

func TestWrongSignInLocator_FailsAtStepThree(t *testing.T) {
	_, _, engine := testEnv(t)

	res := runner.New(engine, runner.Options{}).Run(context.Background(), signInScenario(scenario.ByTestID("sign-in-begin")))

	assert.Equal(t, runner.StatusFailed, res.Status)
	assert.Equal(t, errs.LocatorNotFound, res.Code)
	assert.Equal(t, 3, res.FailedStep)
	assert.Equal(t, 4, res.StepsExecuted)
	assert.Contains(t, res.Message, "test_id=sign-in-begin")
	assert.Contains(t, res.Observed, "Get started")
	engine.requireAllClosed(t)
}

func TestBuiltins_PassAgainstFixture(t *testing.T) {
	_, _, engine := testEnv(t)
	r := runner.New(engine, runner.Options{})

	for _, sc := range scenario.Builtins() {
		t.Run(sc.Name, func(t *testing.T) {
			res := r.Run(context.Background(), sc)
			assert.Equal(t, runner.StatusPassed, res.Status,
				"failed_step=%d code=%s message=%s observed=%s", res.FailedStep, res.Code, res.Message, res.Observed)
		})
	}
	engine.requireAllClosed(t)
}

func TestConcurrentScenarios_CompleteIndependently(t *testing.T) {
	_, _, engine := testEnv(t)
	r := runner.New(engine, runner.Options{})

	good := signInScenario(scenario.ByRole("button", "Sign in to Start"))
	bad := signInScenario(scenario.ByRole("button", "Sign in to Begin"))
	bad.Name = "sign-in-wrong"

	var wg sync.WaitGroup
	var goodRes, badRes runner.Result
	wg.Add(2)
	go func() { defer wg.Done(); goodRes = r.Run(context.Background(), good) }()
	go func() { defer wg.Done(); badRes = r.Run(context.Background(), bad) }()
	wg.Wait()

	assert.Equal(t, runner.StatusPassed, goodRes.Status, "message=%s", goodRes.Message)
	assert.Equal(t, runner.StatusFailed, badRes.Status)
	assert.Equal(t, 3, badRes.FailedStep)
	assert.NotEqual(t, goodRes.RunID, badRes.RunID)
	engine.requireAllClosed(t)
}

func TestNavigateCommit_ReturnsBeforeSlowDocumentLoads(t *testing.T) {
	_, fix, engine := testEnv(t)
	sess, err := engine.Start(context.Background())
	require.NoError(t, err)
	defer sess.Close()

	before := fix.SlowCompleted()
	start := time.Now()
	require.NoError(t, sess.Navigate(context.Background(), "/slow", scenario.NavigateCommit))
	elapsed := time.Since(start)

	assert.Less(t, elapsed, testSlowDelay)
	assert.Equal(t, before, fix.SlowCompleted(), "document finished before commit navigation returned")
}

func TestAwaitReady_StalledFrameDegradesWithoutFailing(t *testing.T) {
	_, _, engine := testEnv(t)
	sc := scenario.Scenario{
		Name:   "stalled-frame",
		URL:    "/frames",
		Steps:  []scenario.Step{scenario.WaitFor(scenario.ByTestID("frames-ready"))},
		Expect: []scenario.Condition{scenario.ExpectText("Frames host", 5*time.Second)},
	}

	res := runner.New(engine, runner.Options{ReadyTimeout: 1500 * time.Millisecond}).Run(context.Background(), sc)

	require.Equal(t, runner.StatusPassed, res.Status, "message=%s", res.Message)
	require.NotEmpty(t, res.Degraded)
	assert.True(t, strings.Contains(strings.Join(res.Degraded, " "), "/stall"), "degraded=%v", res.Degraded)
}

// startActionabilitySession opens a session from the shared engine on the actionability page.
func startActionabilitySession(t *testing.T) *Session {
	t.Helper()
	_, _, engine := testEnv(t)
	sess, err := engine.Start(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Close() })
	require.NoError(t, sess.Navigate(context.Background(), "/actionability", scenario.NavigateLoad))
	return sess.(*Session)
}

func TestExecute_MatchedButNotActionableIsStepTimeout(t *testing.T) {
	tests := []struct {
		name   string
		testID string
		reason string
	}{
		{"disabled button", "locked", "disabled"},
		{"element never stops moving", "drifting", "still moving"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess := startActionabilitySession(t)
			step := scenario.Click(scenario.ByTestID(tt.testID))
			step.Timeout = 800 * time.Millisecond

			start := time.Now()
			err := sess.Execute(context.Background(), step)
			elapsed := time.Since(start)

			require.Error(t, err)
			assert.Equal(t, errs.StepTimeout, errs.CodeOf(err), "err=%v", err)
			assert.Contains(t, errs.MessageOf(err), "matched but was not actionable")
			assert.Contains(t, errs.MessageOf(err), tt.reason)
			assert.Less(t, elapsed, step.Timeout+time.Second, "step overran its timeout")
		})
	}
}

func TestExecute_SettleDelayAddsLatency(t *testing.T) {
	sess := startActionabilitySession(t)
	sess.cfg.SettleDelay = 700 * time.Millisecond
	step := scenario.Click(scenario.ByTestID("steady"))
	step.Timeout = 5 * time.Second

	start := time.Now()
	require.NoError(t, sess.Execute(context.Background(), step))
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, sess.cfg.SettleDelay)
	require.NoError(t, sess.Execute(context.Background(), scenario.AssertVisible(scenario.ByText("Steady clicked"))))
}

type memorySink struct {
	mu    sync.Mutex
	diags []runner.Diagnostics
}

func (s *memorySink) Store(ctx context.Context, runID string, d runner.Diagnostics) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.diags = append(s.diags, d)
	return []string{"runs/" + runID + "/page.html"}, nil
}

func TestFinalAssertionFailure_CapturesDiagnostics(t *testing.T) {
	_, _, engine := testEnv(t)
	sc := signInScenario(scenario.ByTestID(scenario.TestIDSignInStart))
	sc.Expect = []scenario.Condition{scenario.ExpectText("Welcome back, practitioner", 500*time.Millisecond)}
	sink := &memorySink{}

	res := runner.New(engine, runner.Options{}).WithSink(sink).Run(context.Background(), sc)

	assert.Equal(t, runner.StatusFailed, res.Status)
	assert.Equal(t, errs.AssertionFailed, res.Code)
	assert.Equal(t, `text "Welcome back, practitioner" visible`, res.Expected)
	assert.Contains(t, res.Observed, "Sign in - MI Practice")
	require.Len(t, sink.diags, 1)
	assert.Contains(t, sink.diags[0].HTML, "Sign in to Start Practicing")
	assert.NotEmpty(t, sink.diags[0].Screenshot)
	engine.requireAllClosed(t)
}

func TestResolve(t *testing.T) {
	t.Parallel()
	s := &Session{}
	_, err := s.Resolve("/login")
	assert.Equal(t, errs.InvalidArgument, errs.CodeOf(err))

	abs, err := s.Resolve("https://example.test/x")
	require.NoError(t, err)
	assert.Equal(t, "https://example.test/x", abs)
}
