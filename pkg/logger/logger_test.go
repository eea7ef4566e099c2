package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func TestWithContextAddsTraceAndUser(t *testing.T) {
	var buf bytes.Buffer
	l := New(LoggingConfig{Level: "debug", Format: "json"})
	l.Logger.SetOutput(&buf)

	ctx := WithUserID(WithTraceID(context.Background(), "trace-1"), "user-1")
	l.WithContext(ctx).Info("hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if entry["trace_id"] != "trace-1" || entry["user_id"] != "user-1" {
		t.Fatalf("missing context fields: %v", entry)
	}
	if entry["component"] != "fl2m" {
		t.Fatalf("unexpected component: %v", entry["component"])
	}
}

func TestLogRequestLevels(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{http.StatusOK, "info"},
		{http.StatusNotFound, "warning"},
		{http.StatusBadGateway, "error"},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		l := NewDefault("http")
		l.Logger.SetOutput(&buf)

		l.LogRequest(context.Background(), http.MethodGet, "/x", tt.status, 3*time.Millisecond)

		var entry map[string]any
		if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
			t.Fatalf("decode log line: %v", err)
		}
		if entry["level"] != tt.level {
			t.Fatalf("status %d: want level %s got %v", tt.status, tt.level, entry["level"])
		}
		if entry["component"] != "http" {
			t.Fatalf("component not kept: %v", entry["component"])
		}
	}
}

func TestNewFallsBackToInfo(t *testing.T) {
	l := New(LoggingConfig{Level: "verbose"})
	if l.GetLevel() != logrus.InfoLevel {
		t.Fatalf("expected info level, got %s", l.GetLevel())
	}
}
