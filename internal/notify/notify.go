// Package notify emails a report when a suite does not pass.
package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/kuitang/uirunner/internal/obs"
	"github.com/kuitang/uirunner/internal/report"
	"github.com/kuitang/uirunner/internal/suite"
)

// Message is one outgoing email.
type Message struct {
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

// Service delivers messages.
type Service interface {
	Send(ctx context.Context, msg Message) error
}

// Notifier sends the suite report to a fixed list of recipients.
type Notifier struct {
	Service Service
	To      []string
	Report  report.Options
}

// Subject summarizes the suite outcome in one line.
func Subject(sum suite.Summary) string {
	total := len(sum.Results)
	switch {
	case sum.Errored > 0 && sum.Failed > 0:
		return fmt.Sprintf("[uirunner] %d failed, %d errored of %d scenarios", sum.Failed, sum.Errored, total)
	case sum.Errored > 0:
		return fmt.Sprintf("[uirunner] %d errored of %d scenarios", sum.Errored, total)
	case sum.Failed > 0:
		return fmt.Sprintf("[uirunner] %d failed of %d scenarios", sum.Failed, total)
	default:
		return fmt.Sprintf("[uirunner] all %d scenarios passed", total)
	}
}

// NotifyFailures sends the report when any scenario failed or errored.
// It reports whether a message was sent.
func (n *Notifier) NotifyFailures(ctx context.Context, sum suite.Summary) (bool, error) {
	if sum.ExitCode() == 0 || len(n.To) == 0 {
		return false, nil
	}
	page, err := report.HTML(sum, n.Report)
	if err != nil {
		return false, err
	}
	msg := Message{To: n.To, Subject: Subject(sum), HTML: string(page)}
	if err := n.Service.Send(ctx, msg); err != nil {
		return false, fmt.Errorf("notify %s: %w", strings.Join(n.To, ","), err)
	}
	obs.From(ctx).With("pkg", "notify").Info("failure_notified",
		"recipients", len(n.To),
		"failed", sum.Failed,
		"errored", sum.Errored,
	)
	return true, nil
}

// ParseRecipients splits a comma-separated address list, dropping blanks.
func ParseRecipients(list string) []string {
	var out []string
	for _, addr := range strings.Split(list, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}
