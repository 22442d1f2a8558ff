package common

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestNewColorHandler(t *testing.T) {
	var buf bytes.Buffer
	handler := NewColorHandler(&buf, nil)

	if handler.writer != &buf {
		t.Error("Writer not set correctly")
	}
	if handler.masker == nil {
		t.Error("Masker not initialized")
	}
	if handler.useColor {
		t.Error("colors should be off for a non-terminal writer")
	}
}

func TestColorHandler_Enabled(t *testing.T) {
	var buf bytes.Buffer

	tests := []struct {
		name    string
		level   slog.Level
		opts    *slog.HandlerOptions
		enabled bool
	}{
		{"default level (info)", slog.LevelInfo, nil, true},
		{"debug level with info handler", slog.LevelDebug, nil, false},
		{"error level", slog.LevelError, nil, true},
		{"debug handler with debug level", slog.LevelDebug, &slog.HandlerOptions{Level: slog.LevelDebug}, true},
		{"warn handler with info level", slog.LevelInfo, &slog.HandlerOptions{Level: slog.LevelWarn}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewColorHandler(&buf, tt.opts)
			if got := h.Enabled(context.Background(), tt.level); got != tt.enabled {
				t.Errorf("Enabled() = %v, want %v", got, tt.enabled)
			}
		})
	}
}

func TestColorHandler_Handle(t *testing.T) {
	var buf bytes.Buffer
	h := NewColorHandler(&buf, nil)
	logger := slog.New(h).With("component", "loader")

	logger.Info("replay finished", "statements", 42, "ok", true, "took", 1500*time.Millisecond)

	out := buf.String()
	for _, want := range []string{"[INFO ]", "replay finished", "component=\"loader\"", "statements=42", "ok=true", "took=1.5s"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in %q", want, out)
		}
	}
	if strings.Contains(out, Reset) {
		t.Error("no ANSI codes expected for a buffer")
	}
}

func TestColorHandler_MasksSensitiveAttributes(t *testing.T) {
	var buf bytes.Buffer
	h := NewColorHandler(&buf, nil)
	logger := slog.New(h)

	logger.Info("connecting", "dsn", "postgres://ch2:hunter2@db:5432/ch2", "password", "hunter2")

	out := buf.String()
	if strings.Contains(out, "hunter2") {
		t.Errorf("password leaked: %q", out)
	}
}

func TestColorHandler_Colorize(t *testing.T) {
	var buf bytes.Buffer
	h := NewColorHandler(&buf, nil)
	h.SetColorEnabled(true)

	if got := h.colorize(Red, "x"); got != Red+"x"+Reset {
		t.Errorf("colorize = %q", got)
	}
	if got := h.formatLevel(slog.LevelError); !strings.Contains(got, "ERROR") {
		t.Errorf("formatLevel = %q", got)
	}
}

func TestColorHandler_WithGroupAndAttrs(t *testing.T) {
	var buf bytes.Buffer
	var h slog.Handler = NewColorHandler(&buf, nil)
	h = h.WithGroup("pipeline").WithAttrs([]slog.Attr{slog.String("stage", "prune")})

	slog.New(h).Warn("integrity check")
	out := buf.String()
	if !strings.Contains(out, "[pipeline]") || !strings.Contains(out, "stage=\"prune\"") || !strings.Contains(out, "[WARN ]") {
		t.Errorf("unexpected output %q", out)
	}
}
