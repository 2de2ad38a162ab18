// Package audit is the append-only record of every deletion batch: one
// JSONL file per day, schema-versioned records, and query/export
// helpers over the accumulated history.
package audit

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/perps12oss/cerebro/internal/model"
)

// currentSchemaVersion is written into every new record; migrateRecord
// upgrades rows read back from an older version.
const currentSchemaVersion = 1

// Log appends deletion records to daily JSONL files under dir and
// answers queries over the accumulated history.
type Log struct {
	dir string
	log zerolog.Logger
	mu  sync.Mutex
}

// Open ensures dir exists and returns a Log rooted there.
func Open(dir string, log zerolog.Logger) (*Log, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	return &Log{dir: dir, log: log}, nil
}

func (l *Log) pathFor(t time.Time) string {
	return filepath.Join(l.dir, fmt.Sprintf("deletions_%s.jsonl", t.Format("2006-01-02")))
}

// Record appends one deletion batch to today's log file. The file is
// rewritten atomically: its prior bytes plus the new line go to a temp
// file in the same directory, which is fsynced and renamed into place,
// so earlier lines are preserved byte-for-byte and a crash leaves either
// the old file or the new one, never a partial line.
func (l *Log) Record(rec model.AuditRecord) error {
	rec.SchemaVersion = currentSchemaVersion
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	path := l.pathFor(rec.Timestamp)
	prior, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read audit log: %w", err)
	}

	if err := atomicWrite(path, append(prior, line...)); err != nil {
		return fmt.Errorf("append audit record: %w", err)
	}
	return nil
}

// migrateRecord upgrades a record parsed from a raw JSON line to the
// current schema. There is only one schema version today; this is the
// seam a future bump hangs off of.
func migrateRecord(raw map[string]any) (model.AuditRecord, error) {
	version := 1
	if v, ok := raw["schema_version"]; ok {
		if f, ok := v.(float64); ok {
			version = int(f)
		}
	}
	if version > currentSchemaVersion {
		return model.AuditRecord{}, fmt.Errorf("audit record schema_version %d is newer than this build supports (%d)", version, currentSchemaVersion)
	}

	buf, err := json.Marshal(raw)
	if err != nil {
		return model.AuditRecord{}, err
	}
	var rec model.AuditRecord
	if err := json.Unmarshal(buf, &rec); err != nil {
		return model.AuditRecord{}, err
	}
	return rec, nil
}

// readAll loads every record across all daily log files, oldest first.
func (l *Log) readAll() ([]model.AuditRecord, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".jsonl" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var out []model.AuditRecord
	for _, name := range names {
		recs, err := readLogFile(filepath.Join(l.dir, name))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		out = append(out, recs...)
	}
	return out, nil
}

func readLogFile(path string) ([]model.AuditRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []model.AuditRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var raw map[string]any
		if err := json.Unmarshal(line, &raw); err != nil {
			// A truncated final line from a crash mid-append; stop
			// reading this file rather than erroring the whole query.
			break
		}
		rec, err := migrateRecord(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, scanner.Err()
}

// QueryOptions filters a history query. Zero values mean "no filter".
type QueryOptions struct {
	ScanID string
	Source string
	Since  time.Time
	Limit  int
}

// Query returns matching records, newest first, capped at opts.Limit
// (0 means unlimited).
func (l *Log) Query(opts QueryOptions) ([]model.AuditRecord, error) {
	all, err := l.readAll()
	if err != nil {
		return nil, err
	}

	var out []model.AuditRecord
	for i := len(all) - 1; i >= 0; i-- {
		rec := all[i]
		if opts.ScanID != "" && rec.ScanID != opts.ScanID {
			continue
		}
		if opts.Source != "" && rec.Source != opts.Source {
			continue
		}
		if !opts.Since.IsZero() && rec.Timestamp.Before(opts.Since) {
			continue
		}
		out = append(out, rec)
		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
	}
	return out, nil
}

// Totals aggregates deleted/failed counts and bytes reclaimed across
// every record with a timestamp on or after since.
type Totals struct {
	Batches        int
	Deleted        int
	Failed         int
	BytesReclaimed int64
}

// Aggregate sums history since the given time (zero value aggregates
// everything on disk).
func (l *Log) Aggregate(since time.Time) (Totals, error) {
	recs, err := l.Query(QueryOptions{Since: since})
	if err != nil {
		return Totals{}, err
	}
	var t Totals
	for _, r := range recs {
		t.Batches++
		t.Deleted += r.Deleted
		t.Failed += r.Failed
		t.BytesReclaimed += r.BytesReclaimed
	}
	return t, nil
}

// ExportJSON writes the full history to destPath as a single JSON
// array, atomically (temp file + fsync + rename), the same way Record
// writes the daily log files.
func (l *Log) ExportJSON(destPath string) error {
	recs, err := l.readAll()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return err
	}
	return atomicWrite(destPath, data)
}

// ExportCSV writes one row per operation detail across the full
// history (not one row per batch, since that's the granularity an
// analyst wants) to destPath, atomically.
func (l *Log) ExportCSV(destPath string) error {
	recs, err := l.readAll()
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(destPath), ".audit-export-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	w := csv.NewWriter(tmp)
	header := []string{"scan_id", "timestamp", "mode", "source", "path", "group_index", "kept_path", "bytes", "status", "error"}
	if err := w.Write(header); err != nil {
		tmp.Close()
		return err
	}
	for _, rec := range recs {
		for _, d := range rec.Details {
			row := []string{
				rec.ScanID,
				rec.Timestamp.Format(time.RFC3339),
				string(rec.Mode),
				rec.Source,
				d.Path,
				strconv.Itoa(d.GroupIndex),
				d.KeptPath,
				strconv.FormatInt(d.Bytes, 10),
				string(d.Status),
				d.Error,
			}
			if err := w.Write(row); err != nil {
				tmp.Close()
				return err
			}
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, destPath)
}

func atomicWrite(destPath string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(destPath), ".audit-export-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, destPath)
}
