// Command fixture-server serves the practice app used by the built-in
// scenarios, for local runs against a known target.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kuitang/uirunner/internal/fixture"
	"github.com/kuitang/uirunner/internal/obs"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8080", "Listen address")
	slow := flag.Duration("slow-delay", fixture.DefaultSlowDelay, "How long /slow holds its document open")
	flag.Parse()

	obs.Init()
	log := obs.Pkg("fixture")

	app := fixture.New(fixture.Options{SlowDelay: *slow})
	srv := &http.Server{Addr: *addr, Handler: app, ReadHeaderTimeout: 10 * time.Second}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		app.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("server_listening", "addr", *addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("server_failed", "error", err)
		os.Exit(1)
	}
}
