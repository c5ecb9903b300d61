package obs

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

type correlationContextKey struct{}

// Correlation carries per-run correlation identifiers.
type Correlation struct {
	RequestID string
	RunID     string
	Scenario  string
	Suite     string
	Target    string
}

var (
	loggerMu sync.RWMutex
	logger   *slog.Logger
	level    = new(slog.LevelVar)
)

// Init configures the global structured logger.
func Init() {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if logger != nil {
		return
	}
	logger = newLogger(os.Stderr)
	slog.SetDefault(logger)
}

// SetLevel adjusts the minimum level of the global logger.
func SetLevel(l slog.Level) {
	level.Set(l)
}

// ParseLevel maps a level name to a slog level, defaulting to info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetOutputForTests overrides the global logger output for tests.
func SetOutputForTests(w io.Writer) func() {
	loggerMu.Lock()
	prev := logger
	logger = newLogger(w)
	slog.SetDefault(logger)
	loggerMu.Unlock()

	return func() {
		loggerMu.Lock()
		defer loggerMu.Unlock()
		if prev != nil {
			logger = prev
		} else {
			logger = newLogger(os.Stderr)
		}
		slog.SetDefault(logger)
	}
}

func newLogger(w io.Writer) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, attr slog.Attr) slog.Attr {
			if attr.Key == slog.TimeKey {
				t, ok := attr.Value.Any().(time.Time)
				if ok {
					return slog.String(slog.TimeKey, t.UTC().Format(time.RFC3339Nano))
				}
			}
			return attr
		},
	})
	return slog.New(handler)
}

func globalLogger() *slog.Logger {
	loggerMu.RLock()
	l := logger
	loggerMu.RUnlock()
	if l != nil {
		return l
	}
	Init()
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return logger
}

// Pkg returns a logger tagged with package name.
func Pkg(pkg string) *slog.Logger {
	return globalLogger().With("pkg", pkg)
}

// From returns a logger with correlation fields from context.
func From(ctx context.Context) *slog.Logger {
	l := globalLogger()
	attrs := correlationAttrs(CorrelationFromContext(ctx))
	if len(attrs) == 0 {
		return l
	}
	return l.With(attrs...)
}

// WithCorrelation stores run correlation fields in context.
// Empty fields in corr keep the values already present.
func WithCorrelation(ctx context.Context, corr Correlation) context.Context {
	existing := CorrelationFromContext(ctx)
	if corr.RequestID != "" {
		existing.RequestID = corr.RequestID
	}
	if corr.RunID != "" {
		existing.RunID = corr.RunID
	}
	if corr.Scenario != "" {
		existing.Scenario = corr.Scenario
	}
	if corr.Suite != "" {
		existing.Suite = corr.Suite
	}
	if corr.Target != "" {
		existing.Target = corr.Target
	}
	return context.WithValue(ctx, correlationContextKey{}, existing)
}

// CorrelationFromContext returns run correlation fields from context.
func CorrelationFromContext(ctx context.Context) Correlation {
	if ctx == nil {
		return Correlation{}
	}
	corr, ok := ctx.Value(correlationContextKey{}).(Correlation)
	if !ok {
		return Correlation{}
	}
	return corr
}

func correlationAttrs(corr Correlation) []any {
	attrs := make([]any, 0, 10)
	if corr.RequestID != "" {
		attrs = append(attrs, "request_id", corr.RequestID)
	}
	if corr.RunID != "" {
		attrs = append(attrs, "run_id", corr.RunID)
	}
	if corr.Scenario != "" {
		attrs = append(attrs, "scenario", corr.Scenario)
	}
	if corr.Suite != "" {
		attrs = append(attrs, "suite", corr.Suite)
	}
	if corr.Target != "" {
		attrs = append(attrs, "target", corr.Target)
	}
	return attrs
}
