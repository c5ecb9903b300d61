package notify

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/kuitang/uirunner/internal/errs"
	"github.com/kuitang/uirunner/internal/runner"
	"github.com/kuitang/uirunner/internal/suite"
)

func summary(statuses ...runner.Status) suite.Summary {
	sum := suite.Summary{SuiteID: "suite-1", StartedAt: time.Now().UTC()}
	for i, st := range statuses {
		res := runner.Result{RunID: "run", Scenario: "scenario", Status: st, FailedStep: -1}
		switch st {
		case runner.StatusPassed:
			sum.Passed++
		case runner.StatusFailed:
			sum.Failed++
			res.FailedStep = i
			res.Code = errs.LocatorNotFound
		default:
			sum.Errored++
			res.Code = errs.Environment
		}
		sum.Results = append(sum.Results, res)
	}
	sum.FinishedAt = sum.StartedAt.Add(time.Second)
	return sum
}

func TestNotifyFailures_SkipsPassingSuite(t *testing.T) {
	t.Parallel()
	mock := NewMockService("")
	n := &Notifier{Service: mock, To: []string{"qa@example.test"}}

	sent, err := n.NotifyFailures(context.Background(), summary(runner.StatusPassed, runner.StatusPassed))
	require.NoError(t, err)
	assert.False(t, sent)
	assert.Equal(t, 0, mock.Count())
}

func TestNotifyFailures_SkipsWithoutRecipients(t *testing.T) {
	t.Parallel()
	mock := NewMockService("")
	sent, err := (&Notifier{Service: mock}).NotifyFailures(context.Background(), summary(runner.StatusFailed))
	require.NoError(t, err)
	assert.False(t, sent)
}

func TestNotifyFailures_SendsReport(t *testing.T) {
	t.Parallel()
	outbox := t.TempDir()
	mock := NewMockService(outbox)
	n := &Notifier{Service: mock, To: []string{"qa@example.test", "oncall@example.test"}}

	sent, err := n.NotifyFailures(context.Background(), summary(runner.StatusPassed, runner.StatusFailed))
	require.NoError(t, err)
	assert.True(t, sent)

	msg := mock.Last()
	assert.Equal(t, []string{"qa@example.test", "oncall@example.test"}, msg.To)
	assert.Equal(t, "[uirunner] 1 failed of 2 scenarios", msg.Subject)
	assert.Contains(t, msg.HTML, "<!doctype html>")
	assert.Contains(t, msg.HTML, "locator_not_found")

	files, err := os.ReadDir(outbox)
	require.NoError(t, err)
	require.Len(t, files, 1)
	data, err := os.ReadFile(filepath.Join(outbox, files[0].Name()))
	require.NoError(t, err)
	var event outboxEvent
	require.NoError(t, json.Unmarshal(data, &event))
	assert.Equal(t, uint64(1), event.Sequence)
	assert.Equal(t, msg.Subject, event.Subject)
}

type failingService struct{}

func (failingService) Send(ctx context.Context, msg Message) error { return errors.New("quota exceeded") }

func TestNotifyFailures_ServiceError(t *testing.T) {
	t.Parallel()
	n := &Notifier{Service: failingService{}, To: []string{"qa@example.test"}}
	sent, err := n.NotifyFailures(context.Background(), summary(runner.StatusErrored))
	assert.False(t, sent)
	assert.ErrorContains(t, err, "quota exceeded")
}

func TestResendService_RespectsCanceledContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewResendService("re_test", "runner@example.test").Send(ctx, Message{To: []string{"qa@example.test"}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSubject(t *testing.T) {
	t.Parallel()
	tests := []struct {
		statuses []runner.Status
		want     string
	}{
		{[]runner.Status{runner.StatusPassed}, "[uirunner] all 1 scenarios passed"},
		{[]runner.Status{runner.StatusFailed, runner.StatusPassed}, "[uirunner] 1 failed of 2 scenarios"},
		{[]runner.Status{runner.StatusErrored}, "[uirunner] 1 errored of 1 scenarios"},
		{[]runner.Status{runner.StatusErrored, runner.StatusFailed, runner.StatusFailed}, "[uirunner] 2 failed, 1 errored of 3 scenarios"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Subject(summary(tt.statuses...)))
	}
}

func TestParseRecipients(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []string{"a@x.test", "b@x.test"}, ParseRecipients(" a@x.test, ,b@x.test,"))
	assert.Empty(t, ParseRecipients(""))
}

// ====================
// Property: Outbox file names stay within a safe character set
// ====================

func testSanitizeOutboxComponent_Safe(t *rapid.T) {
	in := rapid.String().Draw(t, "input")
	out := sanitizeOutboxComponent(in)
	if out == "" {
		t.Fatalf("empty output for %q", in)
	}
	if outboxSanitizePattern.MatchString(out) {
		t.Fatalf("unsafe characters remain in %q", out)
	}
}

func TestSanitizeOutboxComponent_Safe(t *testing.T) {
	rapid.Check(t, testSanitizeOutboxComponent_Safe)
}
