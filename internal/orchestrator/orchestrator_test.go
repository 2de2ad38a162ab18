package orchestrator

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/rs/zerolog"

	"github.com/perps12oss/cerebro/internal/hashcache"
	"github.com/perps12oss/cerebro/internal/inventory"
	"github.com/perps12oss/cerebro/internal/model"
)

func writeFile(t *testing.T, path string, content []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestRunFindsDuplicateGroup(t *testing.T) {
	root := t.TempDir()
	content := bytes.Repeat([]byte("duplicate payload contents "), 64) // over the 1024-byte default minimum
	writeFile(t, filepath.Join(root, "a.txt"), content)
	writeFile(t, filepath.Join(root, "b.txt"), content)
	writeFile(t, filepath.Join(root, "unique.txt"), bytes.Repeat([]byte("something else entirely "), 64))

	inv, err := inventory.Open(filepath.Join(t.TempDir(), "inventory.sqlite"))
	if err != nil {
		t.Fatalf("Open inventory: %v", err)
	}
	defer inv.Close()
	cache := hashcache.Open(filepath.Join(t.TempDir(), "hash_cache.sqlite"), zerolog.Nop())
	defer cache.Close()

	o := New(inv, cache, zerolog.Nop())

	var events []Event
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range o.Events() {
			events = append(events, e)
		}
	}()

	cfg := model.ScanConfig{Root: root}
	result, err := o.Run(context.Background(), cfg)
	<-done
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.OK {
		t.Fatalf("expected OK result")
	}
	if result.Stats.FilesScanned != 3 {
		t.Fatalf("expected 3 files scanned, got %d", result.Stats.FilesScanned)
	}
	if len(result.Groups) != 1 {
		t.Fatalf("expected 1 duplicate group, got %d: %+v", len(result.Groups), result.Groups)
	}
	got := append([]string{}, result.Groups[0].Paths...)
	sort.Strings(got)
	want := []string{filepath.Join(root, "a.txt"), filepath.Join(root, "b.txt")}
	sort.Strings(want)
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("got paths %v, want %v", got, want)
	}

	var sawFinished bool
	for _, e := range events {
		if e.Kind == EventFinished {
			sawFinished = true
		}
	}
	if !sawFinished {
		t.Fatalf("expected a Finished event on the feed")
	}
}

func TestRunAdvancedEngineRoutesGroupingThroughSizeAggregator(t *testing.T) {
	root := t.TempDir()
	content := bytes.Repeat([]byte("duplicate payload contents "), 64)
	writeFile(t, filepath.Join(root, "a.txt"), content)
	writeFile(t, filepath.Join(root, "b.txt"), content)
	writeFile(t, filepath.Join(root, "unique.txt"), bytes.Repeat([]byte("something else entirely "), 64))

	o := New(nil, nil, zerolog.Nop())
	go func() {
		for range o.Events() {
		}
	}()

	result, err := o.Run(context.Background(), model.ScanConfig{Root: root, Engine: model.EngineAdvanced})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Groups) != 1 {
		t.Fatalf("expected 1 duplicate group under the advanced engine, got %d: %+v", len(result.Groups), result.Groups)
	}
}

func TestRunNoDuplicatesReturnsEmptyGroups(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), []byte("alpha"))
	writeFile(t, filepath.Join(root, "b.txt"), []byte("beta!!"))

	o := New(nil, nil, zerolog.Nop())
	go func() {
		for range o.Events() {
		}
	}()

	result, err := o.Run(context.Background(), model.ScanConfig{Root: root, MinSizeBytes: 0})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Groups) != 0 {
		t.Fatalf("expected no duplicate groups, got %+v", result.Groups)
	}
}

func withTempHome(t *testing.T) {
	t.Helper()
	home := t.TempDir()
	prev := userHomeDir
	userHomeDir = func() (string, error) { return home, nil }
	t.Cleanup(func() { userHomeDir = prev })
}

func TestRunWritesAndClearsResumePayloadOnSuccess(t *testing.T) {
	withTempHome(t)
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), []byte("alpha"))

	inv, err := inventory.Open(filepath.Join(t.TempDir(), "inventory.sqlite"))
	if err != nil {
		t.Fatalf("Open inventory: %v", err)
	}
	defer inv.Close()

	o := New(inv, nil, zerolog.Nop())
	go func() {
		for range o.Events() {
		}
	}()

	if _, err := o.Run(context.Background(), model.ScanConfig{Root: root}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	_, found, err := LoadResumePayload()
	if err != nil {
		t.Fatalf("LoadResumePayload: %v", err)
	}
	if found {
		t.Fatalf("expected resume payload cleared after a successful scan")
	}
}

func TestResumeFindsNoPayloadWhenNoneWritten(t *testing.T) {
	withTempHome(t)

	inv, err := inventory.Open(filepath.Join(t.TempDir(), "inventory.sqlite"))
	if err != nil {
		t.Fatalf("Open inventory: %v", err)
	}
	defer inv.Close()

	o := New(inv, nil, zerolog.Nop())
	result, ok, err := o.Resume(context.Background())
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if ok || result != nil {
		t.Fatalf("expected no resumable scan, got ok=%v result=%+v", ok, result)
	}
}

func TestResumeReentersFromInventoryCheckpoint(t *testing.T) {
	withTempHome(t)
	root := t.TempDir()
	content := bytes.Repeat([]byte("duplicate payload contents "), 64)
	writeFile(t, filepath.Join(root, "a.txt"), content)
	writeFile(t, filepath.Join(root, "b.txt"), content)

	inv, err := inventory.Open(filepath.Join(t.TempDir(), "inventory.sqlite"))
	if err != nil {
		t.Fatalf("Open inventory: %v", err)
	}
	defer inv.Close()

	// Record the files' real mtimes: hashing re-stats each file and skips
	// any whose signature no longer matches the recorded one.
	mtimeOf := func(path string) int64 {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("stat %s: %v", path, err)
		}
		return info.ModTime().UnixNano()
	}
	files := []model.DiscoveredFile{
		{Path: filepath.Join(root, "a.txt"), Size: int64(len(content)), MtimeNs: mtimeOf(filepath.Join(root, "a.txt"))},
		{Path: filepath.Join(root, "b.txt"), Size: int64(len(content)), MtimeNs: mtimeOf(filepath.Join(root, "b.txt"))},
	}
	scanID := "resume-scan-1"
	if err := inv.BeginScan(scanID, []string{root}); err != nil {
		t.Fatalf("BeginScan: %v", err)
	}
	if err := inv.RecordDiscovery(scanID, files); err != nil {
		t.Fatalf("RecordDiscovery: %v", err)
	}

	o := New(inv, nil, zerolog.Nop())
	o.writeResumePayload(scanID, model.ScanConfig{Root: root}, inv.Path())

	go func() {
		for range o.Events() {
		}
	}()

	result, ok, err := o.Resume(context.Background())
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if !ok {
		t.Fatalf("expected a resumable scan to be found")
	}
	if len(result.Groups) != 1 {
		t.Fatalf("expected 1 duplicate group from the resumed scan, got %d", len(result.Groups))
	}

	if _, found, _ := LoadResumePayload(); found {
		t.Fatalf("expected resume payload cleared after a successful resume")
	}
}

func TestRunRespectsCancellation(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), []byte("alpha"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := New(nil, nil, zerolog.Nop())
	go func() {
		for range o.Events() {
		}
	}()

	_, err := o.Run(ctx, model.ScanConfig{Root: root})
	if err == nil {
		t.Fatalf("expected cancellation error")
	}
}
