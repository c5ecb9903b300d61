package obs

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ResponseRecorder tracks response status and bytes written.
type ResponseRecorder struct {
	http.ResponseWriter
	statusCode  int
	respBytes   int64
	wroteHeader bool
}

type responseRecorderWithFlusher struct {
	*ResponseRecorder
}

func (r *ResponseRecorder) WriteHeader(code int) {
	if r.wroteHeader {
		return
	}
	r.statusCode = code
	r.wroteHeader = true
	r.ResponseWriter.WriteHeader(code)
}

func (r *ResponseRecorder) Write(p []byte) (int, error) {
	if !r.wroteHeader {
		r.statusCode = http.StatusOK
		r.wroteHeader = true
	}
	n, err := r.ResponseWriter.Write(p)
	r.respBytes += int64(n)
	return n, err
}

func (r *ResponseRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (r *responseRecorderWithFlusher) Flush() {
	r.ResponseWriter.(http.Flusher).Flush()
}

func (r *ResponseRecorder) StatusCode() int {
	return r.statusCode
}

func (r *ResponseRecorder) RespBytes() int64 {
	return r.respBytes
}

// NewResponseRecorder wraps a response writer while preserving http.Flusher.
// The fixture's slow pages stream through it.
func NewResponseRecorder(w http.ResponseWriter) (http.ResponseWriter, *ResponseRecorder) {
	recorder := &ResponseRecorder{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
	if _, ok := w.(http.Flusher); ok {
		return &responseRecorderWithFlusher{ResponseRecorder: recorder}, recorder
	}
	return recorder, recorder
}

// AccessLogMiddleware assigns a request id and emits one structured access event per request.
func AccessLogMiddleware(pkg string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := strings.TrimSpace(r.Header.Get("X-Request-Id"))
		if requestID == "" {
			requestID = "req-" + uuid.NewString()
		}
		w.Header().Set("X-Request-Id", requestID)
		ctx := WithCorrelation(r.Context(), Correlation{RequestID: requestID})
		r = r.WithContext(ctx)

		wrapped, recorder := NewResponseRecorder(w)
		next.ServeHTTP(wrapped, r)

		recordHTTP(pkg, recorder.StatusCode())
		durMS := float64(time.Since(start).Microseconds()) / 1000.0
		From(ctx).
			With("pkg", pkg).
			Debug(
				"http_access",
				"method", r.Method,
				"path", r.URL.Path,
				"status", recorder.StatusCode(),
				"dur_ms", durMS,
				"resp_bytes", recorder.RespBytes(),
			)
	})
}
