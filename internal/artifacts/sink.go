package artifacts

import (
	"context"
	"fmt"
	"time"

	"github.com/kuitang/uirunner/internal/obs"
	"github.com/kuitang/uirunner/internal/runner"
)

const (
	ScreenshotName = "screenshot.png"
	PageName       = "page.html"
)

// RunPrefix is the key prefix of one run's artifacts.
func RunPrefix(runID string) string {
	return "runs/" + runID + "/"
}

// Sink stores failure diagnostics as run artifacts.
type Sink struct {
	client  *Client
	timeout time.Duration
}

var _ runner.ArtifactSink = (*Sink)(nil)

// NewSink creates a Sink. Uploads for one run share timeout.
func NewSink(client *Client, timeout time.Duration) *Sink {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Sink{client: client, timeout: timeout}
}

// Store uploads the page HTML and, when present, the screenshot. It returns the
// keys that were written; a failed upload does not prevent the other.
func (s *Sink) Store(ctx context.Context, runID string, d runner.Diagnostics) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	log := obs.From(ctx).With("pkg", "artifacts")

	var keys []string
	var firstErr error
	put := func(name string, body []byte, contentType string) {
		key := RunPrefix(runID) + name
		if err := s.client.PutObject(ctx, key, body, contentType); err != nil {
			log.Warn("artifact_upload_failed", "key", key, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			return
		}
		log.Debug("artifact_uploaded", "key", key, "bytes", len(body))
		keys = append(keys, key)
	}

	if len(d.Screenshot) > 0 {
		put(ScreenshotName, d.Screenshot, "image/png")
	}
	if d.HTML != "" {
		put(PageName, []byte(d.HTML), "text/html; charset=utf-8")
	}
	if firstErr != nil {
		return keys, fmt.Errorf("store artifacts for run %s: %w", runID, firstErr)
	}
	return keys, nil
}
