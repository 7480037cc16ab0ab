package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"

	"ascend/internal/config"
)

func TestNewHonoursLevel(t *testing.T) {
	l, err := New(config.Logging{Level: "warn", Format: "json"}, false)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if l.Core().Enabled(zapcore.InfoLevel) {
		t.Fatalf("info should be disabled at warn level")
	}
	l, err = New(config.Logging{Level: "warn"}, true)
	if err != nil {
		t.Fatalf("new verbose: %v", err)
	}
	if !l.Core().Enabled(zapcore.DebugLevel) {
		t.Fatalf("verbose should enable debug")
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, err := New(config.Logging{Level: "chatty"}, false); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestOrNop(t *testing.T) {
	if OrNop(nil) == nil {
		t.Fatalf("expected nop logger")
	}
}
