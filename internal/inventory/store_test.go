package inventory

import (
	"path/filepath"
	"testing"

	"github.com/perps12oss/cerebro/internal/model"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "inventory.sqlite"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBeginScanIsIdempotent(t *testing.T) {
	s := testStore(t)
	if err := s.BeginScan("scan1", []string{"/a", "/b"}); err != nil {
		t.Fatalf("BeginScan: %v", err)
	}
	if err := s.BeginScan("scan1", []string{"/a", "/b"}); err != nil {
		t.Fatalf("BeginScan (second): %v", err)
	}
	st, err := s.GetScanState("scan1")
	if err != nil || st == nil {
		t.Fatalf("GetScanState: %v, %v", st, err)
	}
	if st.Status != model.StatusInProgress || st.LastPhase != "init" {
		t.Fatalf("unexpected state: %+v", st)
	}
}

func TestGetScanStateUnknownReturnsNil(t *testing.T) {
	s := testStore(t)
	st, err := s.GetScanState("missing")
	if err != nil {
		t.Fatalf("GetScanState: %v", err)
	}
	if st != nil {
		t.Fatalf("expected nil for unknown scan_id, got %+v", st)
	}
}

func TestRecordDiscoveryPreservesStatusAndOrdersCaseInsensitive(t *testing.T) {
	s := testStore(t)
	if err := s.BeginScan("scan1", []string{"/root"}); err != nil {
		t.Fatalf("BeginScan: %v", err)
	}
	if err := s.SetStatus("scan1", model.StatusScanned); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	files := []model.DiscoveredFile{
		{Path: "/root/Banana.txt", Size: 10, MtimeNs: 1},
		{Path: "/root/apple.txt", Size: 20, MtimeNs: 2},
		{Path: "/root/cherry.txt", Size: 30, MtimeNs: 3},
	}
	if err := s.RecordDiscovery("scan1", files); err != nil {
		t.Fatalf("RecordDiscovery: %v", err)
	}

	st, err := s.GetScanState("scan1")
	if err != nil || st == nil {
		t.Fatalf("GetScanState: %v, %v", st, err)
	}
	if st.Status != model.StatusScanned {
		t.Fatalf("RecordDiscovery must preserve status, got %q", st.Status)
	}
	if st.LastPhase != "discover" {
		t.Fatalf("last_phase = %q, want discover", st.LastPhase)
	}
	if st.FileCount != 3 {
		t.Fatalf("file_count = %d, want 3", st.FileCount)
	}

	loaded, err := s.LoadDiscoveredFiles("scan1")
	if err != nil {
		t.Fatalf("LoadDiscoveredFiles: %v", err)
	}
	want := []string{"/root/apple.txt", "/root/Banana.txt", "/root/cherry.txt"}
	for i, f := range loaded {
		if f.Path != want[i] {
			t.Fatalf("order[%d] = %q, want %q", i, f.Path, want[i])
		}
	}
}

func TestRecordDiscoveryReplacesPriorFiles(t *testing.T) {
	s := testStore(t)
	s.BeginScan("scan1", []string{"/root"})
	s.RecordDiscovery("scan1", []model.DiscoveredFile{{Path: "/root/old.txt", Size: 1}})
	s.RecordDiscovery("scan1", []model.DiscoveredFile{{Path: "/root/new.txt", Size: 2}})

	loaded, err := s.LoadDiscoveredFiles("scan1")
	if err != nil {
		t.Fatalf("LoadDiscoveredFiles: %v", err)
	}
	if len(loaded) != 1 || loaded[0].Path != "/root/new.txt" {
		t.Fatalf("expected only new.txt, got %+v", loaded)
	}
}

func TestDirChildrenRoundTripAndReplace(t *testing.T) {
	s := testStore(t)
	if kids, err := s.GetDirChildren("/root", "/root/sub"); err != nil || len(kids) != 0 {
		t.Fatalf("expected no children initially, got %v, %v", kids, err)
	}
	if err := s.SetDirChildren("/root", "/root/sub", []string{"/root/sub/a", "/root/sub/b"}); err != nil {
		t.Fatalf("SetDirChildren: %v", err)
	}
	kids, err := s.GetDirChildren("/root", "/root/sub")
	if err != nil {
		t.Fatalf("GetDirChildren: %v", err)
	}
	if len(kids) != 2 {
		t.Fatalf("expected 2 children, got %v", kids)
	}
	if err := s.SetDirChildren("/root", "/root/sub", []string{"/root/sub/c"}); err != nil {
		t.Fatalf("SetDirChildren (replace): %v", err)
	}
	kids, err = s.GetDirChildren("/root", "/root/sub")
	if err != nil {
		t.Fatalf("GetDirChildren: %v", err)
	}
	if len(kids) != 1 || kids[0] != "/root/sub/c" {
		t.Fatalf("expected replacement to [/root/sub/c], got %v", kids)
	}
}

func TestChildFilesExcludesNestedDescendants(t *testing.T) {
	s := testStore(t)
	s.BeginScan("scan1", []string{"/root"})
	s.RecordDiscovery("scan1", []model.DiscoveredFile{
		{Path: "/root/sub/a.txt", Size: 1},
		{Path: "/root/sub/nested/b.txt", Size: 2},
		{Path: "/root/other.txt", Size: 3},
	})
	children, err := s.ChildFiles("scan1", "/root/sub")
	if err != nil {
		t.Fatalf("ChildFiles: %v", err)
	}
	if len(children) != 1 || children[0].Path != "/root/sub/a.txt" {
		t.Fatalf("expected only direct child a.txt, got %+v", children)
	}
}

func TestDirSignatureRoundTrip(t *testing.T) {
	s := testStore(t)
	if _, ok := s.GetDirSignature("/root", "/root/sub"); ok {
		t.Fatalf("expected miss for unrecorded signature")
	}
	sig := DirSignature{FileCount: 3, DirCount: 1, TotalSize: 300, MaxChildMtime: 42}
	if err := s.SetDirSignature("/root", "/root/sub", sig); err != nil {
		t.Fatalf("SetDirSignature: %v", err)
	}
	got, ok := s.GetDirSignature("/root", "/root/sub")
	if !ok || got != sig {
		t.Fatalf("GetDirSignature = %+v, %v; want %+v, true", got, ok, sig)
	}
}
