package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/perps12oss/cerebro/internal/audit"
	"github.com/perps12oss/cerebro/internal/inventory"
	"github.com/perps12oss/cerebro/internal/logging"
	"github.com/perps12oss/cerebro/internal/session"
)

// defaultHome returns ~/.cerebro, creating it if necessary.
func defaultHome() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	dir := filepath.Join(home, ".cerebro")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	return dir, nil
}

func newLogger() zerolog.Logger {
	return logging.New(globalVerbose)
}

func openInventory(path string) (*inventory.Store, error) {
	if path == "" {
		defaultPath, err := inventory.DefaultPath()
		if err != nil {
			return nil, fmt.Errorf("resolve inventory path: %w", err)
		}
		path = defaultPath
	}
	return inventory.Open(path)
}

func openAudit(log zerolog.Logger) (*audit.Log, error) {
	home, err := defaultHome()
	if err != nil {
		return nil, err
	}
	return audit.Open(filepath.Join(home, "history", "audit"), log)
}

func openSessions(log zerolog.Logger) (*session.Manager, error) {
	home, err := defaultHome()
	if err != nil {
		return nil, err
	}
	return session.NewManager(filepath.Join(home, "sessions"), log), nil
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
