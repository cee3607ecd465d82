package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap/zapcore"
)

type buffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *buffer) Sync() error { return nil }

func (b *buffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestNew_TeesErrorsToSink(t *testing.T) {
	var out, errs buffer
	logger, err := New(Options{Level: "debug", Output: &out, ErrorSink: &errs})
	if err != nil {
		t.Fatal(err)
	}

	logger.Named("render").Info("rendered")
	logger.Named("render").Error("render failed")
	logger.Sync()

	if !strings.Contains(out.String(), "rendered") || !strings.Contains(out.String(), "render failed") {
		t.Errorf("console sink missing entries: %s", out.String())
	}
	if strings.Contains(errs.String(), `"rendered"`) {
		t.Error("info entry leaked into the error sink")
	}
	line := strings.TrimSpace(errs.String())
	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("error sink is not JSON: %v (%q)", err, line)
	}
	if entry["msg"] != "render failed" || entry["logger"] != "render" {
		t.Errorf("error entry = %v", entry)
	}
}

func TestNew_LevelFilter(t *testing.T) {
	var out buffer
	logger, err := New(Options{Level: "warn", Output: &out})
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("quiet")
	logger.Warn("loud")
	if strings.Contains(out.String(), "quiet") || !strings.Contains(out.String(), "loud") {
		t.Errorf("level filter not applied: %s", out.String())
	}
}

func TestNew_Development(t *testing.T) {
	var out buffer
	logger, err := New(Options{Development: true, Output: &out})
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("hello")
	if !strings.Contains(out.String(), "INFO") || strings.HasPrefix(out.String(), "{") {
		t.Errorf("expected console encoding, got %q", out.String())
	}
}

func TestNew_InvalidLevel(t *testing.T) {
	if _, err := New(Options{Level: "loud"}); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestNamed_Nil(t *testing.T) {
	Named(nil, "x").Info("no panic")
}

var _ zapcore.WriteSyncer = (*buffer)(nil)
