package logger

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"go.uber.org/zap/zapcore"

	"github.com/saiset-co/sai-desa/types"
)

func TestParseLogLevel(t *testing.T) {
	tests := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"INFO":    zapcore.InfoLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"bogus":   zapcore.InfoLevel,
	}

	for in, want := range tests {
		if got := parseLogLevel(in); got != want {
			t.Fatalf("parseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestExtractStackFromError(t *testing.T) {
	plain := types.WrapError(types.ErrInternalError, "outer")
	if stack := extractStackFromError(plain); stack != "" {
		t.Fatalf("expected no stack for plain error, got %q", stack)
	}

	withStack := types.WrapError(errors.New("boom"), "outer")
	stack := extractStackFromError(withStack)
	if !strings.Contains(stack, "TestExtractStackFromError") {
		t.Fatalf("expected stack to mention test function, got %q", stack)
	}
}

func TestManagerLifecycle(t *testing.T) {
	file := filepath.Join(t.TempDir(), "logs", "desa.log")

	m, err := NewManager(context.Background(), &types.LoggerConfig{
		Level:  "debug",
		Format: "json",
		Output: "file",
		File:   file,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !m.IsRunning() {
		t.Fatalf("expected running manager")
	}
	if err := m.Start(); err == nil {
		t.Fatalf("expected second Start to fail")
	}

	m.Info("hello")

	if err := m.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if m.IsRunning() {
		t.Fatalf("expected stopped manager")
	}
}

func TestNewManagerNilConfig(t *testing.T) {
	if _, err := NewManager(context.Background(), nil); !errors.Is(err, types.ErrLoggerConfigInvalid) {
		t.Fatalf("expected ErrLoggerConfigInvalid, got %v", err)
	}
}
