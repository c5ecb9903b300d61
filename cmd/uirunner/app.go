package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/kuitang/uirunner/internal/artifacts"
	"github.com/kuitang/uirunner/internal/browser"
	"github.com/kuitang/uirunner/internal/config"
	"github.com/kuitang/uirunner/internal/errs"
	"github.com/kuitang/uirunner/internal/history"
	"github.com/kuitang/uirunner/internal/mcp"
	"github.com/kuitang/uirunner/internal/notify"
	"github.com/kuitang/uirunner/internal/obs"
	"github.com/kuitang/uirunner/internal/ratelimit"
	"github.com/kuitang/uirunner/internal/report"
	"github.com/kuitang/uirunner/internal/runner"
	"github.com/kuitang/uirunner/internal/scenario"
	"github.com/kuitang/uirunner/internal/suite"
)

const (
	artifactUploadTimeout = 30 * time.Second
	shutdownTimeout       = 10 * time.Second
)

type engineFactory func(browser.Config) (runner.Engine, func() error, error)

// run is main without process globals. It returns the exit status.
func run(ctx context.Context, args []string, getenv func(string) string, stdout, stderr io.Writer, newEngine engineFactory) int {
	cfg, err := config.Load(args, getenv, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return errs.ExitPassed
		}
		fmt.Fprintln(stderr, err)
		return errs.ExitErrored
	}
	obs.Init()
	obs.SetLevel(obs.ParseLevel(cfg.LogLevel))
	log := obs.Pkg("main")

	if cfg.InstallBrowsers {
		if err := browser.Install(); err != nil {
			fmt.Fprintln(stderr, err)
			return errs.ExitErrored
		}
		fmt.Fprintln(stdout, "chromium installed")
		return errs.ExitPassed
	}

	fixtures := scenario.Fixtures()
	if cfg.List {
		listScenarios(stdout, scenario.Builtins())
		return errs.ExitPassed
	}

	scenarios, err := loadScenarios(cfg.Scenarios, fixtures)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return errs.ExitErrored
	}

	cfg.PrintStartupSummary(stderr)
	a, err := newApp(ctx, cfg, newEngine)
	if err != nil {
		log.Error("startup_failed", "error", err)
		fmt.Fprintln(stderr, err)
		return errs.ExitErrored
	}
	defer a.Close()

	if cfg.ServeAddr != "" {
		catalog := scenario.Builtins()
		catalog = append(catalog, scenarios...)
		if err := a.serve(ctx, cfg.ServeAddr, catalog, fixtures); err != nil {
			log.Error("serve_failed", "error", err)
			return errs.ExitErrored
		}
		return errs.ExitPassed
	}
	return a.runOnce(ctx, scenarios, stdout, stderr)
}

// app holds the wired components of one invocation.
type app struct {
	cfg       *config.Config
	suite     *suite.Suite
	store     *history.Store
	artifacts *artifacts.Client
	notifier  *notify.Notifier
	report    report.Options
	closers   []func() error
}

func newApp(ctx context.Context, cfg *config.Config, newEngine engineFactory) (_ *app, err error) {
	a := &app{
		cfg:    cfg,
		report: report.Options{Target: cfg.BaseURL},
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.store, err = history.Open(ctx, history.Options{Path: cfg.HistoryPath, Key: cfg.HistoryKey})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.store.Close)

	engine, closeEngine, err := newEngine(cfg.BrowserConfig())
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeEngine)
	r := runner.New(engine, cfg.RunnerOptions())

	if cfg.ArtifactsEnabled() {
		client, err := a.artifactClient(ctx)
		if err != nil {
			return nil, err
		}
		r.WithSink(artifacts.NewSink(client, artifactUploadTimeout))
		a.artifacts = client
		a.report.ArtifactURL = client.PublicURL
	}

	if cfg.NotifyEnabled() {
		var service notify.Service
		if cfg.NoEmail {
			service = notify.NewMockService("")
		} else {
			service = notify.NewResendService(cfg.ResendAPIKey, cfg.ResendFromEmail)
		}
		a.notifier = &notify.Notifier{Service: service, To: cfg.NotifyTo, Report: a.report}
	}

	limiter := ratelimit.NewLimiter(cfg.LaunchRate)
	a.closers = append(a.closers, func() error { limiter.Stop(); return nil })
	a.suite = &suite.Suite{
		Runner:      r,
		Limiter:     limiter,
		BaseURL:     cfg.BaseURL,
		Concurrency: cfg.Concurrency,
		Observers:   []suite.Observer{history.Recorder{Store: a.store, Target: cfg.BaseURL}},
	}
	return a, nil
}

func (a *app) artifactClient(ctx context.Context) (*artifacts.Client, error) {
	if a.cfg.NoS3 {
		local, err := artifacts.NewLocal(ctx, a.cfg.AWSBucketName)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { local.Close(); return nil })
		return local.Client, nil
	}
	return artifacts.New(ctx, artifacts.Config{
		Endpoint:        a.cfg.AWSEndpointS3,
		Region:          a.cfg.AWSRegion,
		AccessKeyID:     a.cfg.AWSAccessKeyID,
		SecretAccessKey: a.cfg.AWSSecretAccessKey,
		BucketName:      a.cfg.AWSBucketName,
		PublicURL:       a.cfg.AWSPublicURL,
		UsePathStyle:    a.cfg.AWSEndpointS3 != "",
	})
}

// Close releases components in reverse order of creation.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			obs.Pkg("main").Warn("close_failed", "error", err)
		}
	}
	a.closers = nil
}

// runOnce runs scenarios, prints a verdict per scenario and returns the exit status.
func (a *app) runOnce(ctx context.Context, scenarios []scenario.Scenario, stdout, stderr io.Writer) int {
	sum := a.suite.Run(ctx, scenarios)
	a.suite.Runner.Wait()

	for _, res := range sum.Results {
		if res.Passed() {
			fmt.Fprintf(stdout, "PASSED %s (%d steps, %s)\n", res.Scenario, res.StepsExecuted, res.Duration().Round(time.Millisecond))
			continue
		}
		fmt.Fprintln(stderr, report.FailureLine(res))
		for _, key := range res.Artifacts {
			fmt.Fprintf(stderr, "  artifact: %s\n", a.artifactRef(key))
		}
	}
	fmt.Fprintf(stdout, "%d passed, %d failed, %d errored\n", sum.Passed, sum.Failed, sum.Errored)

	if a.cfg.ReportPath != "" {
		if err := report.WriteFile(a.cfg.ReportPath, sum, a.report); err != nil {
			fmt.Fprintln(stderr, "write report:", err)
		}
	}
	if a.notifier != nil {
		if _, err := a.notifier.NotifyFailures(context.WithoutCancel(ctx), sum); err != nil {
			obs.From(ctx).With("pkg", "main").Error("notify_failed", "error", err)
		}
	}
	return sum.ExitCode()
}

func (a *app) artifactRef(key string) string {
	if a.report.ArtifactURL != nil {
		return a.report.ArtifactURL(key)
	}
	return key
}

// serve exposes the MCP tools and metrics until ctx is done.
func (a *app) serve(ctx context.Context, addr string, catalog []scenario.Scenario, fixtures map[string][]scenario.Step) error {
	requests := ratelimit.NewLimiter(ratelimit.DefaultRequestConfig)
	defer requests.Stop()

	handler := mcp.NewHandler(a.suite, catalog, fixtures, a.store).WithArtifacts(a.artifacts)
	srv := &http.Server{
		Addr:              addr,
		Handler:           newHTTPHandler(mcp.NewServer(handler), requests),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	log := obs.Pkg("main")
	log.Info("server_listening", "addr", addr)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	log.Info("server_shutting_down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	a.suite.Runner.Wait()
	return err
}

// loadScenarios resolves each argument as a built-in scenario name, a
// scenario file or a directory of them.
func loadScenarios(args []string, fixtures map[string][]scenario.Step) ([]scenario.Scenario, error) {
	var out []scenario.Scenario
	seen := make(map[string]string)
	for _, arg := range args {
		var loaded []scenario.Scenario
		if sc, ok := scenario.Builtin(arg); ok {
			loaded = []scenario.Scenario{sc}
		} else {
			info, err := os.Stat(arg)
			switch {
			case err != nil:
				return nil, errs.Wrap(errs.InvalidArgument,
					fmt.Sprintf("%q is neither a built-in scenario nor a readable path", arg), err)
			case info.IsDir():
				loaded, err = scenario.LoadDir(arg, fixtures)
			default:
				loaded, err = scenario.LoadFile(arg, fixtures)
			}
			if err != nil {
				return nil, err
			}
		}
		for _, sc := range loaded {
			if prev, dup := seen[sc.Name]; dup {
				return nil, errs.New(errs.InvalidArgument,
					fmt.Sprintf("duplicate scenario name %q (from %s and %s)", sc.Name, prev, arg))
			}
			seen[sc.Name] = arg
			out = append(out, sc)
		}
	}
	return out, nil
}

func listScenarios(w io.Writer, scenarios []scenario.Scenario) {
	sorted := append([]scenario.Scenario(nil), scenarios...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	for _, sc := range sorted {
		line := sc.Name
		if len(sc.Tags) > 0 {
			line += " [" + strings.Join(sc.Tags, ",") + "]"
		}
		if sc.Description != "" {
			line += "  " + sc.Description
		}
		fmt.Fprintln(w, line)
	}
}
