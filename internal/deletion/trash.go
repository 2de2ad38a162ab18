package deletion

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/perps12oss/cerebro/internal/model"
)

// TrashBackend moves files to the OS trash when a trash helper is on
// PATH, falling back to a quarantine directory under the user's home
// when none is available (headless Linux boxes commonly have no
// trash implementation registered at all).
type TrashBackend struct {
	log           zerolog.Logger
	quarantineDir string
	trashCmd      string
}

// NewTrashBackend probes for a trash helper once at construction; the
// probe result is cached for the backend's lifetime rather than
// re-checked per file.
func NewTrashBackend(log zerolog.Logger) *TrashBackend {
	b := &TrashBackend{log: log}
	b.trashCmd = findTrashHelper()
	home, err := os.UserHomeDir()
	if err == nil {
		b.quarantineDir = filepath.Join(home, ".cerebro", "trash")
	}
	return b
}

func (b *TrashBackend) CanHandle(mode model.DeletionMode) bool {
	return mode == model.ModeTrash
}

func (b *TrashBackend) Delete(path string) (int64, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return 0, fmt.Errorf("file does not exist: %w", err)
	}
	size := info.Size()
	if info.IsDir() {
		size = 0
	}

	if b.trashCmd != "" {
		if err := runTrashHelper(b.trashCmd, path); err == nil {
			return size, nil
		}
		b.log.Warn().Str("path", path).Msg("trash helper failed, falling back to quarantine")
	}

	if b.quarantineDir == "" {
		return 0, fmt.Errorf("no trash helper available and quarantine directory unresolved")
	}
	if err := os.MkdirAll(b.quarantineDir, 0o755); err != nil {
		return 0, fmt.Errorf("create quarantine dir: %w", err)
	}
	dest := filepath.Join(b.quarantineDir, fmt.Sprintf("%s_%s", time.Now().Format("20060102_150405"), filepath.Base(path)))
	if err := os.Rename(path, dest); err != nil {
		return 0, fmt.Errorf("move to quarantine: %w", err)
	}
	return size, nil
}
