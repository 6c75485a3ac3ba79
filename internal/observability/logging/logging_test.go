package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestNewRespectsCustomWriter(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Writer: &buf})
	logger.Info("hello", "key", "value")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON output, got %q: %v", buf.String(), err)
	}
	if entry["msg"] != "hello" || entry["key"] != "value" {
		t.Fatalf("unexpected log entry %v", entry)
	}
}

func TestNewTextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Writer: &buf, Format: "text"})
	logger.Info("plain message")
	if !bytes.Contains(buf.Bytes(), []byte("plain message")) {
		t.Fatalf("expected text output, got %q", buf.String())
	}
	if json.Valid(buf.Bytes()) {
		t.Fatal("text format should not emit JSON")
	}
}

func TestParseLevel(t *testing.T) {
	cases := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"nonsense", slog.LevelInfo},
	}
	for _, tc := range cases {
		if got := parseLevel(tc.input).Level(); got != tc.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tc.input, got, tc.want)
		}
	}
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := WithComponent(New(Config{Writer: &buf}), "auth")
	logger.Info("checking")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log entry: %v", err)
	}
	if entry["component"] != "auth" {
		t.Fatalf("expected component field, got %v", entry)
	}
}

func TestRequestIDContextRoundTrip(t *testing.T) {
	ctx := ContextWithRequestID(context.Background(), "req-7")
	id, ok := RequestIDFromContext(ctx)
	if !ok || id != "req-7" {
		t.Fatalf("expected req-7, got %q (ok=%v)", id, ok)
	}

	if _, ok := RequestIDFromContext(context.Background()); ok {
		t.Fatal("empty context must not yield a request id")
	}
	if ctx := ContextWithRequestID(context.Background(), "  "); ctx != context.Background() {
		t.Fatal("blank request id should not be stored")
	}
}

func TestWithContextAnnotatesRequestID(t *testing.T) {
	var buf bytes.Buffer
	base := New(Config{Writer: &buf})
	ctx := ContextWithRequestID(context.Background(), "req-9")

	WithContext(ctx, base).Info("annotated")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log entry: %v", err)
	}
	if entry["request_id"] != "req-9" {
		t.Fatalf("expected request_id field, got %v", entry)
	}
}
