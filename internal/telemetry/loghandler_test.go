package telemetry

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

type exported struct {
	body     string
	severity otellog.Severity
	attrs    map[string]string
}

// captureExporter records every exported log record.
type captureExporter struct {
	mu      sync.Mutex
	records []exported
}

func (e *captureExporter) Export(_ context.Context, recs []sdklog.Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range recs {
		ex := exported{body: r.Body().AsString(), severity: r.Severity(), attrs: map[string]string{}}
		r.WalkAttributes(func(kv otellog.KeyValue) bool {
			ex.attrs[kv.Key] = kv.Value.String()
			return true
		})
		e.records = append(e.records, ex)
	}
	return nil
}

func (e *captureExporter) Shutdown(context.Context) error   { return nil }
func (e *captureExporter) ForceFlush(context.Context) error { return nil }

func newCapture(t *testing.T) (*slog.Logger, *captureExporter, *bytes.Buffer) {
	t.Helper()
	exp := &captureExporter{}
	lp := sdklog.NewLoggerProvider(sdklog.WithProcessor(sdklog.NewSimpleProcessor(exp)))
	t.Cleanup(func() { _ = lp.Shutdown(context.Background()) })

	var buf bytes.Buffer
	text := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})
	return slog.New(NewLogHandler(text, lp)), exp, &buf
}

func TestLogHandler_ForwardsToBoth(t *testing.T) {
	logger, exp, buf := newCapture(t)

	logger.Warn("push failed", "collection", "medications", "attempt", 2)

	if !strings.Contains(buf.String(), "push failed") {
		t.Errorf("text output = %q, want message", buf.String())
	}
	if len(exp.records) != 1 {
		t.Fatalf("exported = %d, want 1", len(exp.records))
	}
	rec := exp.records[0]
	if rec.body != "push failed" {
		t.Errorf("body = %q, want %q", rec.body, "push failed")
	}
	if rec.severity != otellog.SeverityWarn {
		t.Errorf("severity = %v, want %v", rec.severity, otellog.SeverityWarn)
	}
	if rec.attrs["collection"] != "medications" {
		t.Errorf("collection attr = %q", rec.attrs["collection"])
	}
	if rec.attrs["attempt"] != "2" {
		t.Errorf("attempt attr = %q, want 2", rec.attrs["attempt"])
	}
}

func TestLogHandler_RespectsLevel(t *testing.T) {
	logger, exp, buf := newCapture(t)

	logger.Debug("noise")

	if buf.Len() != 0 {
		t.Errorf("text output = %q, want empty", buf.String())
	}
	if len(exp.records) != 0 {
		t.Errorf("exported = %d, want 0", len(exp.records))
	}
}

func TestLogHandler_WithAttrsAndGroup(t *testing.T) {
	logger, exp, _ := newCapture(t)

	logger.With("run_id", "abc").WithGroup("sync").Info("done", "merged", 3, slog.Group("push", "failed", 1))

	if len(exp.records) != 1 {
		t.Fatalf("exported = %d, want 1", len(exp.records))
	}
	attrs := exp.records[0].attrs
	want := map[string]string{
		"run_id":           "abc",
		"sync.merged":      "3",
		"sync.push.failed": "1",
	}
	for k, v := range want {
		if attrs[k] != v {
			t.Errorf("attr %q = %q, want %q (all: %v)", k, attrs[k], v, attrs)
		}
	}
}

func TestSeverity(t *testing.T) {
	tests := []struct {
		level slog.Level
		want  otellog.Severity
	}{
		{slog.LevelDebug, otellog.SeverityDebug},
		{slog.LevelInfo, otellog.SeverityInfo},
		{slog.LevelWarn, otellog.SeverityWarn},
		{slog.LevelError, otellog.SeverityError},
		{slog.LevelError + 4, otellog.SeverityError},
	}
	for _, tt := range tests {
		if got := severity(tt.level); got != tt.want {
			t.Errorf("severity(%v) = %v, want %v", tt.level, got, tt.want)
		}
	}
}

func TestFromConfig(t *testing.T) {
	if _, ok := FromConfig(nil, "v1"); ok {
		t.Error("FromConfig(nil) ok = true, want false")
	}
}
