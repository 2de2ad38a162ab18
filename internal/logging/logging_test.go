package logging

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestNewSetsDebugLevelWhenVerbose(t *testing.T) {
	New(true)
	if zerolog.GlobalLevel() != zerolog.DebugLevel {
		t.Fatalf("expected global level Debug, got %s", zerolog.GlobalLevel())
	}
}

func TestNewSetsInfoLevelByDefault(t *testing.T) {
	New(false)
	if zerolog.GlobalLevel() != zerolog.InfoLevel {
		t.Fatalf("expected global level Info, got %s", zerolog.GlobalLevel())
	}
}

func TestNewCLILoggerDoesNotPanic(t *testing.T) {
	log := NewCLILogger(true)
	if log == nil {
		t.Fatalf("expected a non-nil logger")
	}
	log.Info("smoke test")
}
