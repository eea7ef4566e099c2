package middleware

import (
	"net/http"
	"time"

	"github.com/fl2m/platform/pkg/logger"
)

// TraceHeader carries the request trace id in both directions.
const TraceHeader = "X-Trace-ID"

// maxTraceIDLen bounds client supplied trace ids.
const maxTraceIDLen = 64

// TracingMiddleware tags each request with a trace id, echoes it back to the
// caller and writes one access log line when the request completes.
type TracingMiddleware struct {
	logger *logger.Logger
	// SlowThreshold marks requests slower than this with slow=true.
	SlowThreshold time.Duration
}

func NewTracingMiddleware(log *logger.Logger) *TracingMiddleware {
	if log == nil {
		log = logger.NewDefault("http")
	}
	return &TracingMiddleware{logger: log, SlowThreshold: 2 * time.Second}
}

func (m *TracingMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(TraceHeader)
		if id == "" || len(id) > maxTraceIDLen {
			id = logger.NewTraceID()
		}
		w.Header().Set(TraceHeader, id)
		ctx := logger.WithTraceID(r.Context(), id)

		sw := &statusWriter{ResponseWriter: w}
		began := time.Now()
		next.ServeHTTP(sw, r.WithContext(ctx))
		elapsed := time.Since(began)

		m.logger.LogRequest(ctx, r.Method, r.URL.Path, sw.code(), elapsed)
		if m.SlowThreshold > 0 && elapsed > m.SlowThreshold {
			m.logger.WithContext(ctx).WithFields(map[string]interface{}{
				"path":        r.URL.Path,
				"duration_ms": elapsed.Milliseconds(),
				"slow":        true,
			}).Warn("slow request")
		}
	})
}

// statusWriter remembers the first status code sent downstream.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (s *statusWriter) code() int {
	if s.status == 0 {
		return http.StatusOK
	}
	return s.status
}

func (s *statusWriter) WriteHeader(status int) {
	if s.status != 0 {
		return
	}
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (s *statusWriter) Write(p []byte) (int, error) {
	if s.status == 0 {
		s.WriteHeader(http.StatusOK)
	}
	return s.ResponseWriter.Write(p)
}
