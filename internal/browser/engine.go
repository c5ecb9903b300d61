// Package browser implements the runner's Engine and Session on Playwright:
// every session launches its own Chromium with one isolated context and one
// page, and tears them down in reverse order.
package browser

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/kuitang/uirunner/internal/errs"
	"github.com/kuitang/uirunner/internal/obs"
	"github.com/kuitang/uirunner/internal/runner"
)

// DefaultArgs keep Chromium inside small containers.
var DefaultArgs = []string{"--disable-dev-shm-usage", "--ipc=host", "--single-process"}

const (
	DefaultWidth             = 1280
	DefaultHeight            = 720
	DefaultActionTimeout     = 5 * time.Second
	DefaultNavigationTimeout = 10 * time.Second
	DefaultPollInterval      = 50 * time.Millisecond

	launchTimeout = 30 * time.Second
)

// Config describes how sessions are launched.
type Config struct {
	BaseURL           string
	Headless          bool
	Width             int
	Height            int
	Args              []string
	ActionTimeout     time.Duration
	NavigationTimeout time.Duration
	// SettleDelay is slept after an element becomes actionable and before acting on it.
	SettleDelay  time.Duration
	PollInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Width <= 0 {
		c.Width = DefaultWidth
	}
	if c.Height <= 0 {
		c.Height = DefaultHeight
	}
	if c.Args == nil {
		c.Args = append([]string(nil), DefaultArgs...)
	}
	if c.ActionTimeout <= 0 {
		c.ActionTimeout = DefaultActionTimeout
	}
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = DefaultNavigationTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	return c
}

// Engine owns the Playwright driver shared by all sessions.
type Engine struct {
	cfg  Config
	base *url.URL

	mu sync.Mutex
	pw *playwright.Playwright
}

// NewEngine starts the Playwright driver.
func NewEngine(cfg Config) (*Engine, error) {
	cfg = cfg.withDefaults()
	var base *url.URL
	if strings.TrimSpace(cfg.BaseURL) != "" {
		u, err := url.Parse(cfg.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, errs.New(errs.InvalidArgument, fmt.Sprintf("base URL %q must be absolute", cfg.BaseURL))
		}
		base = u
	}
	pw, err := playwright.Run()
	if err != nil {
		return nil, errs.Wrap(errs.Environment, "start playwright driver: "+err.Error(), err)
	}
	return &Engine{cfg: cfg, base: base, pw: pw}, nil
}

// Install downloads the Playwright driver and Chromium.
func Install() error {
	if err := playwright.Install(&playwright.RunOptions{Browsers: []string{"chromium"}}); err != nil {
		return errs.Wrap(errs.Environment, "install playwright browsers: "+err.Error(), err)
	}
	return nil
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// Start launches a browser, an isolated context and a page.
func (e *Engine) Start(ctx context.Context) (runner.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	pw := e.pw
	e.mu.Unlock()
	if pw == nil {
		return nil, errs.New(errs.Environment, "playwright driver is stopped")
	}

	log := obs.From(ctx).With("pkg", "browser")
	start := time.Now()
	b, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(e.cfg.Headless),
		Args:     e.cfg.Args,
		Timeout:  playwright.Float(ms(launchTimeout)),
	})
	if err != nil {
		return nil, errs.Wrap(errs.Environment, "launch chromium: "+err.Error(), err)
	}
	bctx, err := b.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{Width: e.cfg.Width, Height: e.cfg.Height},
	})
	if err != nil {
		_ = b.Close()
		return nil, errs.Wrap(errs.Environment, "create browser context: "+err.Error(), err)
	}
	bctx.SetDefaultTimeout(ms(e.cfg.ActionTimeout))
	bctx.SetDefaultNavigationTimeout(ms(e.cfg.NavigationTimeout))
	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		_ = b.Close()
		return nil, errs.Wrap(errs.Environment, "open page: "+err.Error(), err)
	}
	log.Debug("session_started", "headless", e.cfg.Headless, "viewport", fmt.Sprintf("%dx%d", e.cfg.Width, e.cfg.Height), "dur_ms", time.Since(start).Milliseconds())
	return &Session{cfg: e.cfg, base: e.base, browser: b, bctx: bctx, page: page}, nil
}

// Close stops the Playwright driver. Sessions must be closed first.
func (e *Engine) Close() error {
	e.mu.Lock()
	pw := e.pw
	e.pw = nil
	e.mu.Unlock()
	if pw == nil {
		return nil
	}
	if err := pw.Stop(); err != nil {
		return fmt.Errorf("stop playwright driver: %w", err)
	}
	return nil
}

func ms(d time.Duration) float64 {
	return float64(d.Milliseconds())
}
