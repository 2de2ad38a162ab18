package deletion

import (
	"fmt"
	"os"

	"github.com/perps12oss/cerebro/internal/model"
)

// PermanentBackend removes files and directories without recovery.
type PermanentBackend struct{}

func NewPermanentBackend() *PermanentBackend {
	return &PermanentBackend{}
}

func (b *PermanentBackend) CanHandle(mode model.DeletionMode) bool {
	return mode == model.ModePermanent
}

func (b *PermanentBackend) Delete(path string) (int64, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return 0, fmt.Errorf("file does not exist: %w", err)
	}

	if info.IsDir() {
		if err := os.RemoveAll(path); err != nil {
			return 0, err
		}
		return 0, nil
	}

	size := info.Size()
	if err := os.Remove(path); err != nil {
		return 0, err
	}
	return size, nil
}
