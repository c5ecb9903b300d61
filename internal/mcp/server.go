// Package mcp exposes the scenario runner as MCP tools over Streamable HTTP.
package mcp

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/kuitang/uirunner/internal/logutil"
	"github.com/kuitang/uirunner/internal/obs"
)

// Server wraps the MCP server and its HTTP transport.
type Server struct {
	mcpServer   *mcp.Server
	handler     *Handler
	httpHandler http.Handler
}

const (
	maxMCPBodyBytes           = 1 << 20
	mcpDebugBodyLogLimitBytes = 8 * 1024
)

type mcpResponseLogger struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
	body        []byte
	truncated   bool
}

func newMCPResponseLogger(w http.ResponseWriter) *mcpResponseLogger {
	return &mcpResponseLogger{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
		body:           make([]byte, 0, 512),
	}
}

func (w *mcpResponseLogger) WriteHeader(code int) {
	w.statusCode = code
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(code)
}

func (w *mcpResponseLogger) Write(p []byte) (int, error) {
	w.wroteHeader = true
	if len(w.body) < mcpDebugBodyLogLimitBytes {
		remaining := mcpDebugBodyLogLimitBytes - len(w.body)
		if len(p) <= remaining {
			w.body = append(w.body, p...)
		} else {
			w.body = append(w.body, p[:remaining]...)
			w.truncated = true
		}
	} else {
		w.truncated = true
	}
	return w.ResponseWriter.Write(p)
}

func (w *mcpResponseLogger) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// formatBodyForLog hides secrets, including fill values typed into sensitive
// fields, before a request or response body reaches the debug log.
func formatBodyForLog(contentType string, b []byte, truncated bool) string {
	return logutil.FormatBodyForLog(contentType, b, mcpDebugBodyLogLimitBytes, truncated)
}

// formatMCPHeadersForLog renders headers sorted by name with secrets redacted.
func formatMCPHeadersForLog(h http.Header) string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		value := strings.Join(h.Values(k), ",")
		lower := strings.ToLower(k)
		if logutil.IsSensitiveLogField(k) || (strings.HasPrefix(lower, "x-") && strings.Contains(lower, "session")) {
			value = "[REDACTED]"
		}
		parts = append(parts, fmt.Sprintf("%s=%q", k, value))
	}
	return strings.Join(parts, " ")
}

// NewServer creates the MCP server with every runner tool registered.
func NewServer(handler *Handler) *Server {
	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    "uirunner",
			Version: "1.0.0",
		},
		nil,
	)

	for _, tool := range ToolDefinitions() {
		mcp.AddTool(mcpServer, tool, handler.createToolHandler(tool.Name))
	}
	registerPrompts(mcpServer)

	// Stateless JSON responses: every call is independent and no server push is needed.
	httpHandler := mcp.NewStreamableHTTPHandler(
		func(r *http.Request) *mcp.Server {
			return mcpServer
		},
		&mcp.StreamableHTTPOptions{
			JSONResponse: true,
			Stateless:    true,
		},
	)

	return &Server{
		mcpServer:   mcpServer,
		handler:     handler,
		httpHandler: httpHandler,
	}
}

// ServeHTTP implements the Streamable HTTP transport endpoint.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Mcp-Session-Id, Last-Event-ID, Authorization")
	w.Header().Set("Access-Control-Allow-Methods", "POST, DELETE, OPTIONS")

	log := obs.From(r.Context()).With("pkg", "mcp")

	switch r.Method {
	case http.MethodOptions:
		w.Header().Set("Access-Control-Max-Age", "86400")
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodPost, http.MethodDelete:
	default:
		w.Header().Set("Allow", "POST, DELETE, OPTIONS")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var reqBody []byte
	if r.Body != nil {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxMCPBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				log.Warn("mcp_body_too_large", "limit", maxMCPBodyBytes)
				http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
				return
			}
			log.Error("mcp_body_read_failed", "error", err)
			http.Error(w, "failed to read request body", http.StatusBadRequest)
			return
		}
		reqBody = body
		r.Body = io.NopCloser(bytes.NewReader(body))
	}

	debug := log.Enabled(r.Context(), slog.LevelDebug)
	if debug {
		log.Debug("mcp_request",
			"method", r.Method,
			"remote", r.RemoteAddr,
			"headers", formatMCPHeadersForLog(r.Header),
			"body", formatBodyForLog(r.Header.Get("Content-Type"), reqBody, false),
		)
	}

	respLogger := newMCPResponseLogger(w)
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error("mcp_handler_panic", "panic", fmt.Sprint(rec))
				if !respLogger.wroteHeader {
					http.Error(respLogger, "Internal server error", http.StatusInternalServerError)
				}
			}
		}()
		s.httpHandler.ServeHTTP(respLogger, r)
	}()

	if !respLogger.wroteHeader {
		log.Error("mcp_no_response", "method", r.Method)
		http.Error(respLogger, "MCP handler returned without writing response", http.StatusInternalServerError)
	}

	if debug {
		log.Debug("mcp_response",
			"status", respLogger.statusCode,
			"content_type", respLogger.Header().Get("Content-Type"),
			"body", formatBodyForLog(respLogger.Header().Get("Content-Type"), respLogger.body, respLogger.truncated),
		)
	}
	if respLogger.statusCode >= http.StatusBadRequest {
		log.Warn("mcp_request_failed",
			"method", r.Method,
			"status", respLogger.statusCode,
			"remote", r.RemoteAddr,
			"response", logutil.TruncateForLog(formatBodyForLog(respLogger.Header().Get("Content-Type"), respLogger.body, respLogger.truncated), 512),
		)
	}
}
