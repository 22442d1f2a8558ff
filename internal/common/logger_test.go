package common

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name     string
		level    LogLevel
		expected slog.Level
	}{
		{"error level", LogLevelError, slog.LevelError},
		{"warn level", LogLevelWarn, slog.LevelWarn},
		{"info level", LogLevelInfo, slog.LevelInfo},
		{"debug level", LogLevelDebug, slog.LevelDebug},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewLogger(tt.level)
			if logger == nil || logger.Logger == nil {
				t.Fatal("expected logger, got nil")
			}
			if logger.Level() != tt.level {
				t.Errorf("Level() = %v, want %v", logger.Level(), tt.level)
			}
			if tt.level.ToSlogLevel() != tt.expected {
				t.Errorf("ToSlogLevel() = %v, want %v", tt.level.ToSlogLevel(), tt.expected)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
		ok   bool
	}{
		{"", LogLevelInfo, true},
		{"debug", LogLevelDebug, true},
		{"warning", LogLevelWarn, true},
		{"error", LogLevelError, true},
		{"loud", LogLevelInfo, false},
	}
	for _, tt := range tests {
		got, ok := ParseLogLevel(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseLogLevel(%q) = %v,%v want %v,%v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestLoggerWithContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&buf, LogLevelInfo)

	logger.WithComponent("pruner").
		WithStage("prune").
		WithTable("source").
		WithVersion(25, 26).
		WithStore("sqlite").
		Info("rows deleted", "count", 3)

	out := buf.String()
	for _, want := range []string{"component=pruner", "stage=prune", "table=source", "from_version=25", "to_version=26", "store=sqlite", "count=3"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in %q", want, out)
		}
	}
}

func TestGlobalLogger(t *testing.T) {
	if GetLogger() == nil {
		t.Fatal("expected default logger, got nil")
	}

	customLogger := NewLogger(LogLevelDebug)
	SetDefaultLogger(customLogger)
	if GetLogger() != customLogger {
		t.Fatal("expected custom logger to be set as default")
	}

	SetDefaultLogger(NewLogger(LogLevelInfo))
}

func TestLogFunctions(t *testing.T) {
	var buf bytes.Buffer
	SetDefaultLogger(NewLoggerWithWriter(&buf, LogLevelDebug))
	defer SetDefaultLogger(NewLogger(LogLevelInfo))

	LogInfo("test info message", "key", "value")
	LogDebug("test debug message", "debug_key", "debug_value")
	LogWarn("test warn message", "warn_key", "warn_value")
	LogError("test error message", nil, "error_key", "error_value")

	output := buf.String()
	for _, want := range []string{"test info message", "test debug message", "test warn message", "test error message"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output", want)
		}
	}
}
