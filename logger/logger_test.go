package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func jsonLogger(level string) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	cfg := &Config{Level: level, Format: "json"}
	return NewWithWriter(cfg, "conduit", &buf), &buf
}

func lastEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &entry); err != nil {
		t.Fatalf("expected JSON log line, got %q: %v", buf.String(), err)
	}
	return entry
}

func TestNewWithWriter_JSON(t *testing.T) {
	l, buf := jsonLogger("info")
	l.Info("hello", Fields("k", "v"))

	entry := lastEntry(t, buf)
	if entry["message"] != "hello" {
		t.Errorf("expected message hello, got %v", entry["message"])
	}
	if entry["service"] != "conduit" {
		t.Errorf("expected service conduit, got %v", entry["service"])
	}
	if entry["k"] != "v" {
		t.Errorf("expected k=v, got %v", entry["k"])
	}
}

func TestNewWithWriter_LevelFilter(t *testing.T) {
	l, buf := jsonLogger("warn")
	l.Info("dropped")
	if buf.Len() != 0 {
		t.Errorf("expected info to be filtered at warn level, got %q", buf.String())
	}
	l.Warn("kept")
	if buf.Len() == 0 {
		t.Error("expected warn to be written")
	}
}

func TestNewWithWriter_InvalidLevelFallsBackToInfo(t *testing.T) {
	l, buf := jsonLogger("nope")
	l.Debug("dropped")
	l.Info("kept")
	if strings.Contains(buf.String(), "dropped") {
		t.Error("expected debug to be filtered")
	}
	if !strings.Contains(buf.String(), "kept") {
		t.Error("expected info to be written")
	}
}

func TestWithJobAndStep(t *testing.T) {
	l, buf := jsonLogger("debug")
	l.WithJob("j-1").WithStep("fetch", "crawl").Debug("pulled")

	entry := lastEntry(t, buf)
	if entry[FieldJobID] != "j-1" {
		t.Errorf("expected job id, got %v", entry[FieldJobID])
	}
	if entry[FieldStep] != "fetch" || entry[FieldStepKind] != "crawl" {
		t.Errorf("expected step fields, got %v", entry)
	}
}

func TestWithContext_RequestID(t *testing.T) {
	l, buf := jsonLogger("info")
	ctx := context.WithValue(context.Background(), RequestIDKey, "req-9")
	l.WithContext(ctx).Info("x")
	if lastEntry(t, buf)[FieldRequestID] != "req-9" {
		t.Error("expected request id from context")
	}

	if l.WithContext(context.Background()) != l {
		t.Error("expected the same logger when context has no request id")
	}
}

func TestWithError(t *testing.T) {
	l, buf := jsonLogger("info")
	l.WithError(errors.New("boom")).Error("failed")
	if lastEntry(t, buf)["error"] != "boom" {
		t.Error("expected error field")
	}
}

func TestConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	cfg := &Config{Level: "info", Format: "console", NoColor: true}
	NewWithWriter(cfg, "conduit", &buf).Info("ready")
	out := buf.String()
	if !strings.Contains(out, "[CON][INF]") {
		t.Errorf("expected service and level tags, got %q", out)
	}
	if !strings.Contains(out, "ready") {
		t.Errorf("expected message, got %q", out)
	}
}

func TestNop(t *testing.T) {
	Nop().Error("ignored")
}

func TestGlobalLogger(t *testing.T) {
	orig := GetGlobalLogger()
	defer SetGlobalLogger(orig)

	l, buf := jsonLogger("info")
	SetGlobalLogger(l)
	Info("global")
	if !strings.Contains(buf.String(), "global") {
		t.Error("expected package-level Info to use the global logger")
	}
}

func TestRegisterAndGet(t *testing.T) {
	l := Nop()
	Register("cache-test", l)
	if Get("cache-test") != l {
		t.Error("expected registered logger")
	}
	if Get("unregistered-test") == nil {
		t.Error("expected a component logger for unknown names")
	}
	reset()
	if Get("cache-test") == l {
		t.Error("expected reset to drop registered loggers")
	}
}

func TestConfigApplyDefaults(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()
	if cfg.Level != "info" || cfg.Format != "console" || cfg.Output != "stderr" {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if !cfg.Timestamp {
		t.Error("expected timestamp enabled")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid", Config{Level: "info", Format: "json"}, false},
		{"pretty", Config{Level: "debug", Format: FormatPretty}, false},
		{"bad level", Config{Level: "loud", Format: "json"}, true},
		{"bad format", Config{Level: "info", Format: "xml"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("expected error=%v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestFieldHelpers(t *testing.T) {
	f := Fields("a", 1, "b")
	if len(f) != 1 || f["a"] != 1 {
		t.Errorf("expected odd trailing key to be ignored, got %v", f)
	}
	ef := ErrorFields("fetch", errors.New("x"))
	if ef[FieldOperation] != "fetch" || ef[FieldError] != "x" {
		t.Errorf("unexpected error fields: %v", ef)
	}
	df := DurationFields("fetch", 1500*time.Millisecond)
	if df[FieldDuration] != int64(1500) {
		t.Errorf("expected 1500ms, got %v", df[FieldDuration])
	}
}
