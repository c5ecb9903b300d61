package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/kuitang/uirunner/internal/obs"
)

// MockService captures messages instead of sending them. When an outbox
// directory is set, each message is also written there as JSON.
type MockService struct {
	mu        sync.Mutex
	Messages  []Message
	outboxDir string
	seq       uint64
}

// NewMockService creates a mock sender. An empty outboxDir keeps messages in memory only.
func NewMockService(outboxDir string) *MockService {
	log := obs.Pkg("notify")
	if outboxDir != "" {
		if err := os.MkdirAll(outboxDir, 0o755); err != nil {
			log.Warn("outbox_unavailable", "dir", outboxDir, "error", err)
			outboxDir = ""
		}
	}
	return &MockService{outboxDir: outboxDir}
}

// Send records msg.
func (m *MockService) Send(ctx context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Messages = append(m.Messages, msg)
	obs.From(ctx).With("pkg", "notify").Info("mock_email", "to", strings.Join(msg.To, ","), "subject", msg.Subject)
	return m.writeOutbox(msg)
}

// Last returns the most recent message, or the zero value.
func (m *MockService) Last() Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Messages) == 0 {
		return Message{}
	}
	return m.Messages[len(m.Messages)-1]
}

// Count returns the number of captured messages.
func (m *MockService) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Messages)
}

type outboxEvent struct {
	Sequence       uint64 `json:"sequence"`
	Message
	SentAtUnixNano int64 `json:"sent_at_unix_nano"`
}

func (m *MockService) writeOutbox(msg Message) error {
	if m.outboxDir == "" {
		return nil
	}
	m.seq++
	event := outboxEvent{Sequence: m.seq, Message: msg, SentAtUnixNano: time.Now().UnixNano()}

	fileName := fmt.Sprintf("%020d-%020d-%s.json",
		event.Sequence, event.SentAtUnixNano, sanitizeOutboxComponent(strings.Join(msg.To, "+")))
	finalPath := filepath.Join(m.outboxDir, fileName)
	tempPath := finalPath + ".tmp"

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal outbox event: %w", err)
	}
	if err := os.WriteFile(tempPath, payload, 0o644); err != nil {
		return fmt.Errorf("write outbox temp file: %w", err)
	}
	if err := os.Rename(tempPath, finalPath); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("rename outbox file: %w", err)
	}
	return nil
}

var outboxSanitizePattern = regexp.MustCompile(`[^a-zA-Z0-9._@+-]+`)

func sanitizeOutboxComponent(input string) string {
	safe := strings.TrimSpace(input)
	if safe == "" {
		return "unknown"
	}
	return outboxSanitizePattern.ReplaceAllString(safe, "_")
}
