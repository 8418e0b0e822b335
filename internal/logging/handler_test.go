package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/trace"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("parse json %q: %v", buf.String(), err)
	}
	return entry
}

func TestSetupJSONCarriesServiceAndVersion(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("passcoded", "1.2.3", "json", "info", &buf)

	logger.Info("hello")

	entry := decode(t, &buf)
	if entry["msg"] != "hello" || entry["service"] != "passcoded" || entry["version"] != "1.2.3" {
		t.Fatalf("unexpected entry %v", entry)
	}
	if _, ok := entry["trace_id"]; ok {
		t.Fatal("trace_id must be absent without a span")
	}
}

func TestSetupTextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("passcoded", "dev", "text", "", &buf)

	logger.Info("plain")

	if out := buf.String(); !strings.Contains(out, "plain") || !strings.Contains(out, "service=passcoded") {
		t.Fatalf("unexpected text output %q", out)
	}
}

func TestHandlerAddsTraceContext(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("passcoded", "dev", "json", "debug", &buf)

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID,
		SpanID:  spanID,
	}))

	logger.With("component", "engine").InfoContext(ctx, "traced")

	entry := decode(t, &buf)
	if entry["trace_id"] != "4bf92f3577b34da6a3ce929d0e0e4736" || entry["span_id"] != "00f067aa0ba902b7" {
		t.Fatalf("missing trace ids: %v", entry)
	}
	if entry["component"] != "engine" {
		t.Fatalf("WithAttrs lost attribute: %v", entry)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("passcoded", "dev", "json", "warn", &buf)

	logger.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info must be filtered at warn level, got %q", buf.String())
	}
	logger.Warn("kept")
	if buf.Len() == 0 {
		t.Fatal("warn must pass at warn level")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestDiscardDropsEverything(t *testing.T) {
	logger := Discard()
	if logger.Enabled(context.Background(), slog.LevelError) {
		t.Fatal("discard logger must not be enabled")
	}
}
