package hashcache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/perps12oss/cerebro/internal/model"
)

func testCache(t *testing.T) *Cache {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hash_cache.sqlite")
	c := Open(path, zerolog.Nop())
	t.Cleanup(func() { c.Close() })
	if c.broken {
		t.Fatalf("cache unexpectedly degraded")
	}
	return c
}

func TestGetQuickMissOnUnknownPath(t *testing.T) {
	c := testCache(t)
	if _, ok := c.GetQuick("/none", model.StatSignature{Size: 1}, 0); ok {
		t.Fatalf("expected miss for unknown path")
	}
}

func TestSetGetQuickRoundTrip(t *testing.T) {
	c := testCache(t)
	sig := model.StatSignature{Size: 100, MtimeNs: 1, Dev: 1, Inode: 1}
	c.SetQuick("/a", sig, "deadbeef", "md5", 100)

	got, ok := c.GetQuick("/a", sig, 0)
	if !ok || got != "deadbeef" {
		t.Fatalf("GetQuick = %q, %v; want deadbeef, true", got, ok)
	}
}

func TestGetQuickInvalidatedBySignatureMismatch(t *testing.T) {
	c := testCache(t)
	sig := model.StatSignature{Size: 100, MtimeNs: 1, Dev: 1, Inode: 1}
	c.SetQuick("/a", sig, "deadbeef", "md5", 100)

	changed := sig
	changed.MtimeNs = 2
	if _, ok := c.GetQuick("/a", changed, 0); ok {
		t.Fatalf("expected miss after signature changed")
	}
}

func TestSetQuickPreservesFullHash(t *testing.T) {
	c := testCache(t)
	sig := model.StatSignature{Size: 100, MtimeNs: 1, Dev: 1, Inode: 1}
	c.SetFull("/a", sig, "fullhash", "sha256")
	c.SetQuick("/a", sig, "quickhash", "md5", 100)

	full, ok := c.GetFull("/a", sig, 0)
	if !ok || full != "fullhash" {
		t.Fatalf("SetQuick erased full hash: got %q, %v", full, ok)
	}
	quick, ok := c.GetQuick("/a", sig, 0)
	if !ok || quick != "quickhash" {
		t.Fatalf("GetQuick = %q, %v; want quickhash, true", quick, ok)
	}
}

func TestSetFullPreservesQuickHash(t *testing.T) {
	c := testCache(t)
	sig := model.StatSignature{Size: 100, MtimeNs: 1, Dev: 1, Inode: 1}
	c.SetQuick("/a", sig, "quickhash", "md5", 100)
	c.SetFull("/a", sig, "fullhash", "sha256")

	quick, ok := c.GetQuick("/a", sig, 0)
	if !ok || quick != "quickhash" {
		t.Fatalf("SetFull erased quick hash: got %q, %v", quick, ok)
	}
}

func TestGetQuickToleratesSmallMtimeDeltaUnderTolerance(t *testing.T) {
	c := testCache(t)
	sig := model.StatSignature{Size: 100, MtimeNs: 1000, Dev: 1, Inode: 1}
	c.SetQuick("/a", sig, "deadbeef", "md5", 100)

	drifted := sig
	drifted.MtimeNs = 1005
	if _, ok := c.GetQuick("/a", drifted, 0); ok {
		t.Fatalf("expected miss with zero tolerance")
	}
	if got, ok := c.GetQuick("/a", drifted, 10); !ok || got != "deadbeef" {
		t.Fatalf("GetQuick with tolerance = %q, %v; want deadbeef, true", got, ok)
	}

	farDrifted := sig
	farDrifted.MtimeNs = 2000
	if _, ok := c.GetQuick("/a", farDrifted, 10); ok {
		t.Fatalf("expected miss when delta exceeds tolerance")
	}
}

func TestDegradedCacheIsNoOp(t *testing.T) {
	// An impossible path (a file, not a directory, as the parent) forces
	// MkdirAll to fail and the cache into degraded mode.
	file := filepath.Join(t.TempDir(), "notadir")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}
	c := Open(filepath.Join(file, "sub", "hash_cache.sqlite"), zerolog.Nop())
	defer c.Close()

	sig := model.StatSignature{Size: 1}
	c.SetQuick("/a", sig, "x", "md5", 1) // must not panic
	if _, ok := c.GetQuick("/a", sig, 0); ok {
		t.Fatalf("degraded cache should never report a hit")
	}
}
