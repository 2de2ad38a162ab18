package discover

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/rs/zerolog"

	"github.com/perps12oss/cerebro/internal/inventory"
	"github.com/perps12oss/cerebro/internal/model"
)

func writeFile(t *testing.T, path string, size int) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func paths(files []model.DiscoveredFile) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.Path
	}
	sort.Strings(out)
	return out
}

func TestWalkFindsFilesRecursively(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), 10)
	writeFile(t, filepath.Join(root, "sub", "b.txt"), 10)
	writeFile(t, filepath.Join(root, "sub", "nested", "c.txt"), 10)

	opts := &Options{Workers: 2, MinSizeBytes: 0}
	w := NewWalker(opts, zerolog.Nop(), nil, "")
	files, errs, err := w.Walk(context.Background(), []string{root})
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %+v", errs)
	}
	got := paths(files)
	want := []string{
		filepath.Join(root, "a.txt"),
		filepath.Join(root, "sub", "b.txt"),
		filepath.Join(root, "sub", "nested", "c.txt"),
	}
	sort.Strings(want)
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestWalkSkipsHiddenByDefault(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, ".hidden.txt"), 10)
	writeFile(t, filepath.Join(root, "visible.txt"), 10)

	opts := &Options{Workers: 1, MinSizeBytes: 0}
	w := NewWalker(opts, zerolog.Nop(), nil, "")
	files, _, err := w.Walk(context.Background(), []string{root})
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if len(files) != 1 || files[0].Path != filepath.Join(root, "visible.txt") {
		t.Fatalf("expected only visible.txt, got %+v", files)
	}
}

func TestWalkHonorsMinSizeBytes(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "tiny.txt"), 5)
	writeFile(t, filepath.Join(root, "big.txt"), 500)

	opts := &Options{Workers: 1, MinSizeBytes: 100}
	w := NewWalker(opts, zerolog.Nop(), nil, "")
	files, _, err := w.Walk(context.Background(), []string{root})
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if len(files) != 1 || files[0].Path != filepath.Join(root, "big.txt") {
		t.Fatalf("expected only big.txt, got %+v", files)
	}
}

func TestWalkHonorsExtensionAllowList(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "photo.jpg"), 10)
	writeFile(t, filepath.Join(root, "doc.txt"), 10)

	opts := &Options{Workers: 1, MinSizeBytes: 0, AllowedExtensions: map[string]struct{}{".jpg": {}}}
	w := NewWalker(opts, zerolog.Nop(), nil, "")
	files, _, err := w.Walk(context.Background(), []string{root})
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if len(files) != 1 || files[0].Path != filepath.Join(root, "photo.jpg") {
		t.Fatalf("expected only photo.jpg, got %+v", files)
	}
}

func TestWalkRespectsCancellation(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	opts := &Options{Workers: 1, MinSizeBytes: 0}
	w := NewWalker(opts, zerolog.Nop(), nil, "")
	_, _, err := w.Walk(ctx, []string{root})
	if err == nil {
		t.Fatalf("expected context error, got nil")
	}
}

func TestWalkUsesDirSkipCacheOnSecondRun(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "sub", "a.txt"), 10)

	inv, err := inventory.Open(filepath.Join(t.TempDir(), "inventory.sqlite"))
	if err != nil {
		t.Fatalf("Open inventory: %v", err)
	}
	defer inv.Close()

	const scanID = "scan1"
	if err := inv.BeginScan(scanID, []string{root}); err != nil {
		t.Fatalf("BeginScan: %v", err)
	}

	opts := &Options{Workers: 1, MinSizeBytes: 0}

	w1 := NewWalker(opts, zerolog.Nop(), inv, scanID)
	files1, _, err := w1.Walk(context.Background(), []string{root})
	if err != nil {
		t.Fatalf("Walk (first): %v", err)
	}
	if err := inv.RecordDiscovery(scanID, files1); err != nil {
		t.Fatalf("RecordDiscovery: %v", err)
	}

	w2 := NewWalker(opts, zerolog.Nop(), inv, scanID)
	files2, _, err := w2.Walk(context.Background(), []string{root})
	if err != nil {
		t.Fatalf("Walk (second): %v", err)
	}
	if len(files2) != len(files1) {
		t.Fatalf("second walk found %d files, want %d", len(files2), len(files1))
	}
	if w2.SkippedDirs() == 0 {
		t.Fatalf("expected second walk to hit the directory skip-cache")
	}
}
