// Package config loads runner configuration from environment variables and
// command-line flags. Flags override the environment. Every problem found is
// reported at once in a ValidationError.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kuitang/uirunner/internal/browser"
	"github.com/kuitang/uirunner/internal/notify"
	"github.com/kuitang/uirunner/internal/ratelimit"
	"github.com/kuitang/uirunner/internal/runner"
	"github.com/kuitang/uirunner/internal/scenario"
	"github.com/kuitang/uirunner/internal/suite"
)

const (
	defaultS3Region   = "auto"
	defaultFromEmail  = "uirunner@localhost"
	defaultBucketName = "uirunner-artifacts"
)

// Config holds all runner configuration.
type Config struct {
	// Target and browser
	BaseURL           string
	Headless          bool
	ViewportWidth     int
	ViewportHeight    int
	BrowserArgs       []string
	ActionTimeout     time.Duration
	NavigationTimeout time.Duration
	ReadyTimeout      time.Duration
	AssertTimeout     time.Duration
	ScenarioTimeout   time.Duration
	SettleDelay       time.Duration

	// Suite
	Concurrency int
	LaunchRate  ratelimit.Config

	// History (SQLCipher)
	HistoryPath string
	HistoryKey  string

	// Mock service flags (controlled by CLI flags, not env vars)
	NoEmail bool // If true, use mock email service (--no-email)
	NoS3    bool // If true, use in-memory S3 (--no-s3)

	// S3 artifacts (standard AWS_ env vars)
	AWSEndpointS3      string
	AWSRegion          string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	AWSBucketName      string
	AWSPublicURL       string

	// Failure email
	ResendAPIKey    string
	ResendFromEmail string
	NotifyTo        []string

	// Modes
	ServeAddr       string
	ReportPath      string
	List            bool
	InstallBrowsers bool
	LogLevel        string

	// Scenarios are the positional arguments: files, directories or built-in names.
	Scenarios []string
}

// ValidationError represents a configuration validation error with multiple issues.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("configuration validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// envReader reads typed environment values and remembers malformed ones.
type envReader struct {
	getenv func(string) string
	errs   []string
}

func (r *envReader) str(key, defaultValue string) string {
	value := strings.TrimSpace(r.getenv(key))
	if value == "" {
		return defaultValue
	}
	return value
}

func (r *envReader) integer(key string, defaultValue int) int {
	value := strings.TrimSpace(r.getenv(key))
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		r.errs = append(r.errs, fmt.Sprintf("%s must be an integer, got %q", key, value))
		return defaultValue
	}
	return parsed
}

func (r *envReader) float(key string, defaultValue float64) float64 {
	value := strings.TrimSpace(r.getenv(key))
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		r.errs = append(r.errs, fmt.Sprintf("%s must be a number, got %q", key, value))
		return defaultValue
	}
	return parsed
}

func (r *envReader) boolean(key string, defaultValue bool) bool {
	value := strings.TrimSpace(r.getenv(key))
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		r.errs = append(r.errs, fmt.Sprintf("%s must be true or false, got %q", key, value))
		return defaultValue
	}
	return parsed
}

func (r *envReader) duration(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(r.getenv(key))
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		r.errs = append(r.errs, fmt.Sprintf("%s must be a duration like 5s, got %q", key, value))
		return defaultValue
	}
	return parsed
}

// ParseViewport parses WIDTHxHEIGHT.
func ParseViewport(s string) (int, int, error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return 0, 0, fmt.Errorf("viewport must look like 1280x720, got %q", s)
	}
	width, err := strconv.Atoi(w)
	if err != nil || width <= 0 {
		return 0, 0, fmt.Errorf("viewport width must be a positive integer, got %q", s)
	}
	height, err := strconv.Atoi(h)
	if err != nil || height <= 0 {
		return 0, 0, fmt.Errorf("viewport height must be a positive integer, got %q", s)
	}
	return width, height, nil
}

// Load reads the environment through getenv, then parses args (without the
// program name) as flags. Help output and flag errors go to output.
func Load(args []string, getenv func(string) string, output io.Writer) (*Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	env := &envReader{getenv: getenv}
	cfg := &Config{}

	cfg.BaseURL = env.str("UIRUNNER_BASE_URL", "")
	cfg.Headless = env.boolean("UIRUNNER_HEADLESS", true)
	viewport := env.str("UIRUNNER_VIEWPORT", fmt.Sprintf("%dx%d", browser.DefaultWidth, browser.DefaultHeight))
	if extra := env.str("UIRUNNER_BROWSER_ARGS", ""); extra != "" {
		cfg.BrowserArgs = strings.Fields(extra)
	}
	cfg.ActionTimeout = env.duration("UIRUNNER_ACTION_TIMEOUT", browser.DefaultActionTimeout)
	cfg.NavigationTimeout = env.duration("UIRUNNER_NAVIGATION_TIMEOUT", browser.DefaultNavigationTimeout)
	cfg.ReadyTimeout = env.duration("UIRUNNER_READY_TIMEOUT", runner.DefaultReadyTimeout)
	cfg.AssertTimeout = env.duration("UIRUNNER_ASSERT_TIMEOUT", scenario.DefaultAssertTimeout)
	cfg.ScenarioTimeout = env.duration("UIRUNNER_SCENARIO_TIMEOUT", runner.DefaultScenarioTimeout)
	cfg.SettleDelay = env.duration("UIRUNNER_SETTLE_DELAY", 0)

	cfg.Concurrency = env.integer("UIRUNNER_CONCURRENCY", suite.DefaultConcurrency)
	cfg.LaunchRate = ratelimit.Config{
		RPS:             env.float("UIRUNNER_LAUNCH_RPS", ratelimit.DefaultLaunchConfig.RPS),
		Burst:           env.integer("UIRUNNER_LAUNCH_BURST", ratelimit.DefaultLaunchConfig.Burst),
		CleanupInterval: ratelimit.DefaultLaunchConfig.CleanupInterval,
	}

	cfg.HistoryPath = env.str("UIRUNNER_HISTORY_PATH", "")
	cfg.HistoryKey = env.str("UIRUNNER_HISTORY_KEY", "")

	cfg.AWSEndpointS3 = env.str("AWS_ENDPOINT_URL_S3", "")
	cfg.AWSRegion = env.str("AWS_REGION", defaultS3Region)
	cfg.AWSAccessKeyID = env.str("AWS_ACCESS_KEY_ID", "")
	cfg.AWSSecretAccessKey = env.str("AWS_SECRET_ACCESS_KEY", "")
	cfg.AWSBucketName = env.str("BUCKET_NAME", "")
	cfg.AWSPublicURL = env.str("S3_PUBLIC_URL", "")

	cfg.ResendAPIKey = env.str("RESEND_API_KEY", "")
	cfg.ResendFromEmail = env.str("RESEND_FROM_EMAIL", defaultFromEmail)
	notifyTo := env.str("UIRUNNER_NOTIFY_TO", "")
	cfg.LogLevel = env.str("UIRUNNER_LOG_LEVEL", "info")

	fs := flag.NewFlagSet("uirunner", flag.ContinueOnError)
	if output != nil {
		fs.SetOutput(output)
	}
	var headed bool
	fs.StringVar(&cfg.BaseURL, "base-url", cfg.BaseURL, "Target application base URL (overrides UIRUNNER_BASE_URL)")
	fs.BoolVar(&headed, "headed", false, "Show the browser window")
	fs.IntVar(&cfg.Concurrency, "concurrency", cfg.Concurrency, "Scenarios run at once (overrides UIRUNNER_CONCURRENCY)")
	fs.BoolVar(&cfg.NoS3, "no-s3", false, "Keep failure artifacts in in-memory S3")
	fs.BoolVar(&cfg.NoEmail, "no-email", false, "Use mock email service (logs emails instead of sending)")
	fs.BoolVar(&cfg.InstallBrowsers, "install-browsers", false, "Install the Playwright driver and Chromium, then exit")
	fs.StringVar(&cfg.ReportPath, "report", "", "Write a report to this path (.md or .html)")
	fs.StringVar(&cfg.ServeAddr, "serve", "", "Serve /mcp and /metrics on this address instead of running once")
	fs.BoolVar(&cfg.List, "list", false, "List built-in scenarios and exit")
	fs.StringVar(&cfg.HistoryPath, "history", cfg.HistoryPath, "Run history database path (overrides UIRUNNER_HISTORY_PATH)")
	fs.StringVar(&viewport, "viewport", viewport, "Viewport as WIDTHxHEIGHT (overrides UIRUNNER_VIEWPORT)")
	fs.StringVar(&notifyTo, "notify", notifyTo, "Comma-separated failure email recipients (overrides UIRUNNER_NOTIFY_TO)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if headed {
		cfg.Headless = false
	}
	cfg.Scenarios = fs.Args()
	cfg.NotifyTo = notify.ParseRecipients(notifyTo)

	var errList []string
	errList = append(errList, env.errs...)
	w, h, err := ParseViewport(viewport)
	if err != nil {
		errList = append(errList, "UIRUNNER_VIEWPORT: "+err.Error())
	}
	cfg.ViewportWidth, cfg.ViewportHeight = w, h

	if cfg.AWSPublicURL == "" && cfg.AWSEndpointS3 != "" && cfg.AWSBucketName != "" {
		cfg.AWSPublicURL = strings.TrimRight(cfg.AWSEndpointS3, "/") + "/" + cfg.AWSBucketName
	}
	if cfg.NoS3 && cfg.AWSBucketName == "" {
		cfg.AWSBucketName = defaultBucketName
	}

	if err := cfg.Validate(); err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			errList = append(errList, verr.Errors...)
		} else {
			errList = append(errList, err.Error())
		}
	}
	if len(errList) > 0 {
		return nil, &ValidationError{Errors: errList}
	}
	return cfg, nil
}

// NeedsTarget reports whether this invocation runs scenarios against the target.
func (c *Config) NeedsTarget() bool {
	return !c.List && !c.InstallBrowsers
}

// ArtifactsEnabled reports whether failure artifacts are uploaded.
func (c *Config) ArtifactsEnabled() bool {
	return c.NoS3 || c.AWSBucketName != ""
}

// NotifyEnabled reports whether failures are emailed.
func (c *Config) NotifyEnabled() bool {
	return len(c.NotifyTo) > 0
}

// Validate checks that all required configuration is present and valid.
func (c *Config) Validate() error {
	var errs []string

	if c.NeedsTarget() {
		if c.BaseURL == "" {
			errs = append(errs, "UIRUNNER_BASE_URL is required (set env var or use --base-url)")
		} else if u, err := url.Parse(c.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Sprintf("UIRUNNER_BASE_URL must be an absolute http(s) URL, got %q", c.BaseURL))
		}
		if c.ServeAddr == "" && len(c.Scenarios) == 0 {
			errs = append(errs, "no scenarios given (pass files, directories or built-in names, or use --list)")
		}
	}

	for _, d := range []struct {
		name  string
		value time.Duration
	}{
		{"UIRUNNER_ACTION_TIMEOUT", c.ActionTimeout},
		{"UIRUNNER_NAVIGATION_TIMEOUT", c.NavigationTimeout},
		{"UIRUNNER_READY_TIMEOUT", c.ReadyTimeout},
		{"UIRUNNER_ASSERT_TIMEOUT", c.AssertTimeout},
		{"UIRUNNER_SCENARIO_TIMEOUT", c.ScenarioTimeout},
	} {
		if d.value <= 0 {
			errs = append(errs, d.name+" must be positive")
		}
	}
	if c.SettleDelay < 0 {
		errs = append(errs, "UIRUNNER_SETTLE_DELAY must not be negative")
	}
	if c.Concurrency < 1 {
		errs = append(errs, "UIRUNNER_CONCURRENCY must be at least 1")
	}
	if c.LaunchRate.RPS <= 0 {
		errs = append(errs, "UIRUNNER_LAUNCH_RPS must be positive")
	}
	if c.LaunchRate.Burst <= 0 {
		errs = append(errs, "UIRUNNER_LAUNCH_BURST must be positive")
	}

	// S3: a bucket means real uploads, which need credentials, unless --no-s3
	if !c.NoS3 && c.AWSBucketName != "" {
		if c.AWSAccessKeyID == "" {
			errs = append(errs, "AWS_ACCESS_KEY_ID is required when BUCKET_NAME is set (set env var or use --no-s3)")
		}
		if c.AWSSecretAccessKey == "" {
			errs = append(errs, "AWS_SECRET_ACCESS_KEY is required when BUCKET_NAME is set (set env var or use --no-s3)")
		}
	}

	// Email: recipients need a Resend key unless --no-email
	if len(c.NotifyTo) > 0 && !c.NoEmail && c.ResendAPIKey == "" {
		errs = append(errs, "RESEND_API_KEY is required when UIRUNNER_NOTIFY_TO is set (set env var or use --no-email)")
	}

	if c.HistoryKey != "" && c.HistoryPath == "" {
		errs = append(errs, "UIRUNNER_HISTORY_KEY needs UIRUNNER_HISTORY_PATH")
	}

	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Sprintf("log level must be debug, info, warn or error, got %q", c.LogLevel))
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

// BrowserConfig is the session launch configuration.
func (c *Config) BrowserConfig() browser.Config {
	return browser.Config{
		BaseURL:           c.BaseURL,
		Headless:          c.Headless,
		Width:             c.ViewportWidth,
		Height:            c.ViewportHeight,
		Args:              c.BrowserArgs,
		ActionTimeout:     c.ActionTimeout,
		NavigationTimeout: c.NavigationTimeout,
		SettleDelay:       c.SettleDelay,
	}
}

// RunnerOptions are the per-run timeouts.
func (c *Config) RunnerOptions() runner.Options {
	return runner.Options{
		ReadyTimeout:    c.ReadyTimeout,
		AssertTimeout:   c.AssertTimeout,
		ScenarioTimeout: c.ScenarioTimeout,
	}
}

// PrintStartupSummary prints a human-readable summary of the configuration.
func (c *Config) PrintStartupSummary(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "uirunner starting...")
	fmt.Fprintf(w, "  Target:    %s\n", c.BaseURL)
	mode := "headless"
	if !c.Headless {
		mode = "headed"
	}
	fmt.Fprintf(w, "  Browser:   chromium %s %dx%d, concurrency %d\n", mode, c.ViewportWidth, c.ViewportHeight, c.Concurrency)

	switch {
	case c.NoS3:
		fmt.Fprintln(w, "  Artifacts: Mock S3 (--no-s3)")
	case c.AWSBucketName != "":
		fmt.Fprintf(w, "  Artifacts: S3 bucket %s (endpoint: %s)\n", c.AWSBucketName, c.AWSEndpointS3)
	default:
		fmt.Fprintln(w, "  Artifacts: disabled")
	}

	switch {
	case !c.NotifyEnabled():
		fmt.Fprintln(w, "  Email:     disabled")
	case c.NoEmail:
		fmt.Fprintln(w, "  Email:     Mock (--no-email)")
	default:
		fmt.Fprintf(w, "  Email:     Resend (from: %s)\n", c.ResendFromEmail)
	}

	switch {
	case c.HistoryPath == "":
		fmt.Fprintln(w, "  History:   in memory")
	case c.HistoryKey != "":
		fmt.Fprintf(w, "  History:   %s (encrypted)\n", c.HistoryPath)
	default:
		fmt.Fprintf(w, "  History:   %s\n", c.HistoryPath)
	}
	if c.ServeAddr != "" {
		fmt.Fprintf(w, "  Serve:     %s\n", c.ServeAddr)
	}
	fmt.Fprintln(w, "")
}
