package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/perps12oss/cerebro/internal/model"
)

func sampleRecord(scanID string, ts time.Time, deleted int) model.AuditRecord {
	return model.AuditRecord{
		ScanID:         scanID,
		Timestamp:      ts,
		Mode:           model.ModeTrash,
		Groups:         1,
		Deleted:        deleted,
		Failed:         0,
		BytesReclaimed: int64(deleted) * 1024,
		Source:         "review_page",
		Policy:         model.Policy{Mode: model.ModeTrash},
		Details: []model.OperationDetail{
			{Path: "/tmp/a", GroupIndex: 0, KeptPath: "/tmp/keep", Bytes: 1024, Status: model.OpDeleted},
		},
	}
}

func TestRecordAndQueryRoundTrip(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	now := time.Now()
	if err := l.Record(sampleRecord("scan-1", now, 2)); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := l.Record(sampleRecord("scan-2", now, 3)); err != nil {
		t.Fatalf("Record: %v", err)
	}

	recs, err := l.Query(QueryOptions{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	// Newest first.
	if recs[0].ScanID != "scan-2" {
		t.Fatalf("expected newest-first ordering, got %+v", recs)
	}

	filtered, err := l.Query(QueryOptions{ScanID: "scan-1"})
	if err != nil {
		t.Fatalf("Query filtered: %v", err)
	}
	if len(filtered) != 1 || filtered[0].ScanID != "scan-1" {
		t.Fatalf("expected only scan-1, got %+v", filtered)
	}
}

func TestQuerySinceFiltersOlderRecords(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	old := time.Now().Add(-48 * time.Hour)
	recent := time.Now()
	if err := l.Record(sampleRecord("scan-old", old, 1)); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := l.Record(sampleRecord("scan-recent", recent, 1)); err != nil {
		t.Fatalf("Record: %v", err)
	}

	recs, err := l.Query(QueryOptions{Since: time.Now().Add(-1 * time.Hour)})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(recs) != 1 || recs[0].ScanID != "scan-recent" {
		t.Fatalf("expected only the recent record, got %+v", recs)
	}
}

func TestAggregateSumsAcrossBatches(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	now := time.Now()
	l.Record(sampleRecord("a", now, 2))
	l.Record(sampleRecord("b", now, 3))

	totals, err := l.Aggregate(time.Time{})
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if totals.Batches != 2 || totals.Deleted != 5 {
		t.Fatalf("unexpected totals: %+v", totals)
	}
}

func TestExportJSONProducesValidArray(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	l.Record(sampleRecord("scan-1", time.Now(), 1))

	dest := filepath.Join(dir, "export.json")
	if err := l.ExportJSON(dest); err != nil {
		t.Fatalf("ExportJSON: %v", err)
	}
	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	var recs []model.AuditRecord
	if err := json.Unmarshal(data, &recs); err != nil {
		t.Fatalf("unmarshal export: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 exported record, got %d", len(recs))
	}
}

func TestExportCSVWritesOneRowPerDetail(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	l.Record(sampleRecord("scan-1", time.Now(), 1))

	dest := filepath.Join(dir, "export.csv")
	if err := l.ExportCSV(dest); err != nil {
		t.Fatalf("ExportCSV: %v", err)
	}
	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	if len(data) == 0 {
		t.Fatalf("expected non-empty CSV export")
	}
}

func TestQueryOnEmptyDirReturnsNoRecords(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	recs, err := l.Query(QueryOptions{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("expected no records, got %+v", recs)
	}
}
