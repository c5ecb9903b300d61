// Package fixture serves a small single-page practice app with an onboarding
// flow, a sign-in screen and a guest area. It is the target of the browser
// tests and of local demo runs.
//
// Besides the app at /, it serves pages that exercise the runner's waits:
// /slow commits its document long before it finishes loading, /frames
// embeds /stall, a frame that never finishes loading, and /actionability
// holds elements that match but never become actionable.
package fixture

import (
	_ "embed"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kuitang/uirunner/internal/obs"
)

//go:embed app.html
var appHTML []byte

// Options tune the diagnostic pages.
type Options struct {
	// SlowDelay is how long /slow holds its document open after the first bytes.
	SlowDelay time.Duration
	// StallLimit caps how long /stall holds a request.
	StallLimit time.Duration
}

const (
	DefaultSlowDelay  = 3 * time.Second
	DefaultStallLimit = 60 * time.Second

	framesDelay = 300 * time.Millisecond
)

// Fixture is the http.Handler of the practice app.
type Fixture struct {
	opts    Options
	handler http.Handler

	stop     chan struct{}
	stopOnce sync.Once

	slowStarted   atomic.Int64
	slowCompleted atomic.Int64
}

// New builds the fixture app.
func New(opts Options) *Fixture {
	if opts.SlowDelay <= 0 {
		opts.SlowDelay = DefaultSlowDelay
	}
	if opts.StallLimit <= 0 {
		opts.StallLimit = DefaultStallLimit
	}
	f := &Fixture{opts: opts, stop: make(chan struct{})}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", f.handleApp)
	mux.HandleFunc("GET /slow", f.handleSlow)
	mux.HandleFunc("GET /frames", f.handleFrames)
	mux.HandleFunc("GET /stall", f.handleStall)
	mux.HandleFunc("GET /actionability", f.handleActionability)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})
	f.handler = obs.AccessLogMiddleware("fixture", mux)
	return f
}

func (f *Fixture) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.handler.ServeHTTP(w, r)
}

// Close releases requests held open by /slow and /stall.
func (f *Fixture) Close() {
	f.stopOnce.Do(func() { close(f.stop) })
}

// SlowStarted and SlowCompleted count /slow responses begun and fully written.
func (f *Fixture) SlowStarted() int { return int(f.slowStarted.Load()) }

func (f *Fixture) SlowCompleted() int { return int(f.slowCompleted.Load()) }

func (f *Fixture) handleApp(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(appHTML)
}

func (f *Fixture) handleSlow(w http.ResponseWriter, r *http.Request) {
	f.slowStarted.Add(1)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	fmt.Fprint(w, "<!doctype html><html><head><title>Slow page</title></head><body><h1>Slow page</h1>")
	flush(w)

	if !f.hold(r, f.opts.SlowDelay) {
		return
	}
	fmt.Fprint(w, "<p>Finished loading</p></body></html>")
	f.slowCompleted.Add(1)
}

// handleFrames holds the host document open briefly after the iframe tag so
// the frame commits before the host signals domcontentloaded.
func (f *Fixture) handleFrames(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	fmt.Fprint(w, `<!doctype html><html><head><title>Frames</title></head><body>`+
		`<h1>Frames host</h1>`+
		`<iframe src="/stall" title="Stalled widget" width="320" height="120"></iframe>`)
	flush(w)
	if !f.hold(r, framesDelay) {
		return
	}
	fmt.Fprint(w, `<p data-testid="frames-ready">Host content is interactive</p></body></html>`)
}

const actionabilityHTML = `<!doctype html><html><head><title>Actionability</title>
<style>
@keyframes drift { from { transform: translateX(0); } to { transform: translateX(240px); } }
.drifting { display: inline-block; animation: drift 370ms linear infinite; }
</style></head><body>
<h1>Actionability</h1>
<p><button data-testid="locked" disabled>Locked</button></p>
<p><button data-testid="drifting" class="drifting">Drifting</button></p>
<p><button data-testid="steady" onclick="document.getElementById('status').textContent='Steady clicked'">Steady</button></p>
<p id="status" data-testid="status">Waiting</p>
</body></html>`

// handleActionability serves a disabled button, a button that never stops
// moving and a stable one.
func (f *Fixture) handleActionability(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	fmt.Fprint(w, actionabilityHTML)
}

// handleStall commits a document and never completes it.
func (f *Fixture) handleStall(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	fmt.Fprint(w, "<!doctype html><html><head><title>Stalled</title></head><body><p>Loading widget")
	flush(w)
	f.hold(r, f.opts.StallLimit)
}

// hold waits for d, returning false when the client went away or the fixture closed first.
func (f *Fixture) hold(r *http.Request, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-r.Context().Done():
		return false
	case <-f.stop:
		return false
	}
}

func flush(w http.ResponseWriter) {
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}
