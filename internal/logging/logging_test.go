package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestJSONLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", Format: "json", Output: &buf}).With(Device("tcp:radio"))

	log.Warn(context.Background(), "dispatch failed", Err(errors.New("boom")), Int("attempt", 2), Bool("retry", false))

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if rec["msg"] != "dispatch failed" || rec["level"] != "WARN" {
		t.Fatalf("record = %v", rec)
	}
	if rec["device_key"] != "tcp:radio" || rec["error"] != "boom" {
		t.Fatalf("missing fields in %v", rec)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", Output: &buf})

	log.Info(context.Background(), "hidden")
	if buf.Len() != 0 {
		t.Fatalf("info record written at warn level: %q", buf.String())
	}
	log.Error(context.Background(), "shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Fatalf("error record missing: %q", buf.String())
	}
}

func TestWithRequestLoggerReusesID(t *testing.T) {
	ctx, id := EnsureRequestID(context.Background())
	if id == "" || id == "unknown" {
		t.Fatalf("EnsureRequestID returned %q", id)
	}
	ctx2, again := EnsureRequestID(ctx)
	if again != id || RequestIDFromContext(ctx2) != id {
		t.Fatalf("request id changed: %q -> %q", id, again)
	}

	ctx3, l := WithRequestLogger(ctx, nil)
	if l == nil || RequestIDFromContext(ctx3) != id {
		t.Fatalf("WithRequestLogger lost the request id")
	}
}

func TestLoggerFromContext(t *testing.T) {
	if LoggerFromContext(context.Background()) != nil {
		t.Fatalf("expected nil logger on bare context")
	}
	ctx := ContextWithLogger(context.Background(), nil)
	if LoggerFromContext(ctx) == nil {
		t.Fatalf("ContextWithLogger(nil) should store the noop logger")
	}
}

func TestRequestIDFromContextIsStamped(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Format: "json", Output: &buf})
	ctx := ContextWithRequestID(context.Background(), "req-1")

	log.Info(ctx, "device configuring", Attempt("a-1"))

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if rec["request_id"] != "req-1" || rec["attempt_id"] != "a-1" {
		t.Fatalf("record = %v", rec)
	}
}

func TestBoundRequestIDIsNotRepeated(t *testing.T) {
	var buf bytes.Buffer
	ctx, log := WithRequestLogger(context.Background(), New(Config{Output: &buf}))

	log.Info(ctx, "rpc")
	if n := strings.Count(buf.String(), "request_id="); n != 1 {
		t.Fatalf("request_id appears %d times in %q", n, buf.String())
	}
}
