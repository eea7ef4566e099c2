package httpapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/fl2m/platform/internal/middleware"
	"github.com/fl2m/platform/pkg/logger"
)

type auditEntry struct {
	Time       time.Time `json:"time"`
	User       string    `json:"user"`
	Role       string    `json:"role"`
	Path       string    `json:"path"`
	Method     string    `json:"method"`
	Status     int       `json:"status"`
	TraceID    string    `json:"trace_id,omitempty"`
	RemoteAddr string    `json:"remote_addr,omitempty"`
}

// auditLog keeps the most recent admin actions in memory and forwards each
// one to the log.
type auditLog struct {
	mu      sync.Mutex
	entries []auditEntry
	max     int
	log     *logger.Logger
}

func newAuditLog(max int, log *logger.Logger) *auditLog {
	if max <= 0 {
		max = 200
	}
	if log == nil {
		log = logger.NewDefault("audit")
	}
	return &auditLog{max: max, log: log}
}

func (l *auditLog) add(entry auditEntry) {
	l.mu.Lock()
	l.entries = append(l.entries, entry)
	if len(l.entries) > l.max {
		l.entries = l.entries[len(l.entries)-l.max:]
	}
	l.mu.Unlock()

	l.log.WithFields(map[string]interface{}{
		"user":     entry.User,
		"role":     entry.Role,
		"path":     entry.Path,
		"method":   entry.Method,
		"status":   entry.Status,
		"trace_id": entry.TraceID,
	}).Info("admin action")
}

func (l *auditLog) listLimit(limit int) []auditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limit <= 0 || limit > len(l.entries) {
		limit = len(l.entries)
	}
	out := make([]auditEntry, limit)
	copy(out, l.entries[len(l.entries)-limit:])
	return out
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// wrapWithAudit records every request that reaches next.
func wrapWithAudit(next http.Handler, audit *auditLog) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		ctx := r.Context()
		audit.add(auditEntry{
			Time:       time.Now().UTC(),
			User:       middleware.GetUserID(ctx),
			Role:       middleware.GetUserRole(ctx),
			Path:       r.URL.Path,
			Method:     r.Method,
			Status:     sw.status,
			TraceID:    logger.GetTraceID(ctx),
			RemoteAddr: r.RemoteAddr,
		})
	})
}
