// Command uirunner drives a target web app through scripted scenarios in a
// headless browser and reports a pass, fail or error verdict per scenario.
//
//	uirunner --base-url http://localhost:8080 onboarding-sign-in scenarios/
//
// Exit status is 0 when every scenario passed, 1 when any failed and 2 when
// any errored or the invocation was invalid.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/kuitang/uirunner/internal/browser"
	"github.com/kuitang/uirunner/internal/runner"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Getenv, os.Stdout, os.Stderr, newBrowserEngine)
	stop()
	os.Exit(code)
}

func newBrowserEngine(cfg browser.Config) (runner.Engine, func() error, error) {
	engine, err := browser.NewEngine(cfg)
	if err != nil {
		return nil, nil, err
	}
	return engine, engine.Close, nil
}
