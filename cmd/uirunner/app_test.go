package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/kuitang/uirunner/internal/browser"
	"github.com/kuitang/uirunner/internal/errs"
	"github.com/kuitang/uirunner/internal/runner"
	"github.com/kuitang/uirunner/internal/runner/runnertest"
	"github.com/kuitang/uirunner/internal/scenario"
)

func scriptedFactory(engine *runnertest.Engine) engineFactory {
	return func(browser.Config) (runner.Engine, func() error, error) {
		return engine, func() error { return nil }, nil
	}
}

func testEnv(extra map[string]string) func(string) string {
	env := map[string]string{"UIRUNNER_BASE_URL": "http://127.0.0.1:9"}
	for k, v := range extra {
		env[k] = v
	}
	return func(key string) string { return env[key] }
}

func failSignIn(ctx context.Context, s *runnertest.Session, step scenario.Step) error {
	if step.Target.Role == "button" && step.Target.Name == "Sign in to Start" {
		return errs.New(errs.LocatorNotFound, "no element matches role=button name=\"Sign in to Start\" within 5s")
	}
	return nil
}

func runCLI(t *testing.T, engine *runnertest.Engine, env map[string]string, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, testEnv(env), &stdout, &stderr, scriptedFactory(engine))
	return code, stdout.String(), stderr.String()
}

func TestRun_ListPrintsBuiltins(t *testing.T) {
	code, stdout, _ := runCLI(t, &runnertest.Engine{}, nil, "--list")

	assert.Equal(t, errs.ExitPassed, code)
	for _, sc := range scenario.Builtins() {
		assert.Contains(t, stdout, sc.Name)
	}
}

func TestRun_InvalidConfigIsErrored(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"sign-in-landing"}, func(string) string { return "" },
		&stdout, &stderr, scriptedFactory(&runnertest.Engine{}))

	assert.Equal(t, errs.ExitErrored, code)
	assert.Contains(t, stderr.String(), "UIRUNNER_BASE_URL is required")
}

func TestRun_UnknownScenarioIsErrored(t *testing.T) {
	code, _, stderr := runCLI(t, &runnertest.Engine{}, nil, "no-such-scenario")

	assert.Equal(t, errs.ExitErrored, code)
	assert.Contains(t, stderr, "no-such-scenario")
}

func TestRun_PassingBuiltin(t *testing.T) {
	engine := &runnertest.Engine{}
	code, stdout, _ := runCLI(t, engine, nil, "sign-in-landing")

	assert.Equal(t, errs.ExitPassed, code)
	assert.Contains(t, stdout, "PASSED sign-in-landing (4 steps")
	assert.Contains(t, stdout, "1 passed, 0 failed, 0 errored")
	assert.Equal(t, 0, engine.Active())
}

func TestRun_FailureLineReportAndArtifacts(t *testing.T) {
	engine := &runnertest.Engine{
		OnStep:      failSignIn,
		Diagnostics: runner.Diagnostics{URL: "http://127.0.0.1:9/", Title: "Welcome", HTML: "<html><body>Get started</body></html>"},
	}
	reportPath := filepath.Join(t.TempDir(), "report.md")

	code, stdout, stderr := runCLI(t, engine, nil,
		"--no-s3", "--no-email", "--notify", "oncall@example.test", "--report", reportPath, "sign-in-landing")

	assert.Equal(t, errs.ExitFailed, code)
	assert.Contains(t, stderr, "FAILED sign-in-landing step 3 [locator_not_found]")
	assert.Contains(t, stderr, "artifact: ")
	assert.Contains(t, stderr, "page.html")
	assert.Contains(t, stdout, "0 passed, 1 failed, 0 errored")

	data, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "sign-in-landing")
	assert.Contains(t, string(data), "locator_not_found")
}

func TestRun_EngineUnavailableIsErrored(t *testing.T) {
	engine := &runnertest.Engine{StartErr: errs.New(errs.Environment, "chromium not installed")}
	code, _, stderr := runCLI(t, engine, nil, "sign-in-landing", "dashboard-history")

	assert.Equal(t, errs.ExitErrored, code)
	assert.Contains(t, stderr, "ERRORED sign-in-landing")
	assert.Contains(t, stderr, "ERRORED dashboard-history")
}

func TestRun_HistoryPersistsAcrossInvocations(t *testing.T) {
	env := map[string]string{"UIRUNNER_HISTORY_PATH": filepath.Join(t.TempDir(), "history.db")}

	code, _, _ := runCLI(t, &runnertest.Engine{}, env, "sign-in-landing")
	require.Equal(t, errs.ExitPassed, code)
	code, _, _ = runCLI(t, &runnertest.Engine{OnStep: failSignIn}, env, "sign-in-landing")
	require.Equal(t, errs.ExitFailed, code)

	_, err := os.Stat(env["UIRUNNER_HISTORY_PATH"])
	require.NoError(t, err)
}

func TestLoadScenarios(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"),
		[]byte("name: file-a\nuses: onboarding\nexpect: [{text: Sign in to Start Practicing}]\n"), 0o644))
	sub := filepath.Join(dir, "more")
	require.NoError(t, os.Mkdir(sub, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "b.yml"),
		[]byte("name: file-b\nurl: /\nexpect: [{text: Get started}]\n"), 0o644))

	got, err := loadScenarios([]string{"sign-in-landing", filepath.Join(dir, "a.yaml"), sub}, scenario.Fixtures())
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "sign-in-landing", got[0].Name)
	assert.Equal(t, "file-a", got[1].Name)
	assert.Len(t, got[1].Steps, 4)
	assert.Equal(t, "file-b", got[2].Name)

	_, err = loadScenarios([]string{"sign-in-landing", "sign-in-landing"}, scenario.Fixtures())
	require.Error(t, err)
	assert.Equal(t, errs.InvalidArgument, errs.CodeOf(err))
	assert.Contains(t, err.Error(), "duplicate scenario name")

	_, err = loadScenarios([]string{filepath.Join(dir, "missing.yaml")}, scenario.Fixtures())
	assert.Equal(t, errs.InvalidArgument, errs.CodeOf(err))
}

// ============================================================
// Property: listing is sorted and one line per scenario
// ============================================================

func testListScenarios_Sorted(t *rapid.T) {
	names := rapid.SliceOfNDistinct(rapid.StringMatching(`[a-z][a-z0-9-]{0,12}`), 0, 10, func(s string) string { return s }).Draw(t, "names")
	scenarios := make([]scenario.Scenario, len(names))
	for i, name := range names {
		scenarios[i] = scenario.Scenario{Name: name}
	}
	var buf bytes.Buffer
	listScenarios(&buf, scenarios)

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	if len(names) == 0 {
		if buf.Len() != 0 {
			t.Fatalf("expected no output, got %q", buf.String())
		}
		return
	}
	if len(lines) != len(names) {
		t.Fatalf("got %d lines for %d scenarios", len(lines), len(names))
	}
	for i := 1; i < len(lines); i++ {
		if lines[i-1] >= lines[i] {
			t.Fatalf("lines not sorted: %q before %q", lines[i-1], lines[i])
		}
	}
}

func TestListScenarios_Sorted(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testListScenarios_Sorted)
}
