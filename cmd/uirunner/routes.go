package main

import (
	"net/http"

	"github.com/kuitang/uirunner/internal/obs"
	"github.com/kuitang/uirunner/internal/ratelimit"
)

// mountMCPRoute registers every method the streamable transport answers.
func mountMCPRoute(mux *http.ServeMux, path string, handler http.Handler) {
	for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions} {
		mux.Handle(method+" "+path, handler)
	}
}

// newHTTPHandler builds the routes of serve mode: /mcp rate limited per
// client address, /metrics and /health.
func newHTTPHandler(mcpHandler http.Handler, limiter *ratelimit.Limiter) http.Handler {
	mux := http.NewServeMux()
	mountMCPRoute(mux, "/mcp", ratelimit.Middleware(limiter, ratelimit.RemoteIP)(mcpHandler))
	mux.Handle("GET /metrics", obs.MetricsHandler())
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})
	return obs.AccessLogMiddleware("main", mux)
}
