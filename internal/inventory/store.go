// Package inventory is the resumable per-scan file index: one row per
// scan in "scans", one row per discovered file in "files". Every
// mutating call is a single committed transaction so a crash never
// leaves partial writes visible.
package inventory

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/perps12oss/cerebro/internal/model"
)

const createScansDDL = `
CREATE TABLE IF NOT EXISTS scans (
	scan_id     TEXT PRIMARY KEY,
	status      TEXT NOT NULL,
	last_phase  TEXT NOT NULL,
	created_ts  REAL NOT NULL,
	updated_ts  REAL NOT NULL,
	roots       TEXT NOT NULL,
	file_count  INTEGER NOT NULL DEFAULT 0
);
`

const createFilesDDL = `
CREATE TABLE IF NOT EXISTS files (
	scan_id  TEXT NOT NULL,
	path     TEXT NOT NULL,
	size     INTEGER NOT NULL,
	mtime_ns INTEGER NOT NULL,
	PRIMARY KEY (scan_id, path)
);
`

const createFilesIndexDDL = `CREATE INDEX IF NOT EXISTS idx_files_scan_id ON files(scan_id);`

// DirSignature records aggregate state for a directory so that an
// unchanged subtree can be served from the inventory on a later scan
// instead of re-walked. Supplemental to the core scans/files schema.
const createDirSignaturesDDL = `
CREATE TABLE IF NOT EXISTS dir_signatures (
	scan_root      TEXT NOT NULL,
	dir_path       TEXT NOT NULL,
	file_count     INTEGER NOT NULL,
	dir_count      INTEGER NOT NULL,
	total_size     INTEGER NOT NULL,
	max_child_mtime INTEGER NOT NULL,
	PRIMARY KEY (scan_root, dir_path)
);
`

// dir_children records each directory's immediate subdirectories so a
// skip-cache hit can re-seed the walk queue without a readdir.
const createDirChildrenDDL = `
CREATE TABLE IF NOT EXISTS dir_children (
	scan_root      TEXT NOT NULL,
	dir_path       TEXT NOT NULL,
	child_dir_path TEXT NOT NULL,
	PRIMARY KEY (scan_root, dir_path, child_dir_path)
);
`

// DefaultPath returns ~/.cerebro_cache/inventory.sqlite.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".cerebro_cache", "inventory.sqlite"), nil
}

// Store is a SQLite-backed scan inventory.
type Store struct {
	db   *sql.DB
	path string
}

// Path returns the filesystem path the store was opened from.
func (s *Store) Path() string { return s.path }

// Open creates (if needed) and opens the inventory database at path,
// applying the WAL/pragma set and initializing the schema.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("inventory: create dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("inventory: open: %w", err)
	}
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA cache_size = -20000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("inventory: pragma %q: %w", p, err)
		}
	}
	for _, ddl := range []string{createScansDDL, createFilesDDL, createFilesIndexDDL, createDirSignaturesDDL, createDirChildrenDDL} {
		if _, err := db.Exec(ddl); err != nil {
			db.Close()
			return nil, fmt.Errorf("inventory: schema init: %w", err)
		}
	}
	return &Store{db: db, path: path}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// ScanState is the metadata row for one scan_id.
type ScanState struct {
	ScanID    string
	Status    model.ScanStatus
	LastPhase string
	CreatedTs float64
	UpdatedTs float64
	Roots     []string
	FileCount int
}

// BeginScan idempotently registers a new scan with status in_progress and
// phase init.
func (s *Store) BeginScan(scanID string, roots []string) error {
	now := nowUnix()
	rootsStr := strings.Join(roots, "\n")
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	_, err = tx.Exec(`
		INSERT OR REPLACE INTO scans (scan_id, status, last_phase, created_ts, updated_ts, roots, file_count)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, scanID, string(model.StatusInProgress), "init", now, now, rootsStr, 0)
	if err != nil {
		return fmt.Errorf("inventory: begin_scan: %w", err)
	}
	return tx.Commit()
}

// GetScanState returns the record for scanID, or nil if none exists.
func (s *Store) GetScanState(scanID string) (*ScanState, error) {
	var st ScanState
	var roots string
	err := s.db.QueryRow(`
		SELECT scan_id, status, last_phase, created_ts, updated_ts, roots, file_count
		FROM scans WHERE scan_id = ?
	`, scanID).Scan(&st.ScanID, &st.Status, &st.LastPhase, &st.CreatedTs, &st.UpdatedTs, &roots, &st.FileCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("inventory: get_scan_state: %w", err)
	}
	if roots != "" {
		st.Roots = strings.Split(roots, "\n")
	}
	return &st, nil
}

// SetStatus upserts just the status field for an existing scan.
func (s *Store) SetStatus(scanID string, status model.ScanStatus) error {
	_, err := s.db.Exec(`UPDATE scans SET status = ?, updated_ts = ? WHERE scan_id = ?`, string(status), nowUnix(), scanID)
	return err
}

// RecordDiscovery replaces the discovered-file set for scanID and
// advances last_phase to "discover". file_count is set to len(files).
func (s *Store) RecordDiscovery(scanID string, files []model.DiscoveredFile) error {
	now := nowUnix()
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM files WHERE scan_id = ?`, scanID); err != nil {
		return fmt.Errorf("inventory: record_discovery delete: %w", err)
	}
	if len(files) > 0 {
		stmt, err := tx.Prepare(`INSERT INTO files (scan_id, path, size, mtime_ns) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, f := range files {
			if _, err := stmt.Exec(scanID, f.Path, f.Size, f.MtimeNs); err != nil {
				return fmt.Errorf("inventory: record_discovery insert: %w", err)
			}
		}
	}

	_, err = tx.Exec(`
		INSERT OR REPLACE INTO scans (scan_id, status, last_phase, created_ts, updated_ts, roots, file_count)
		VALUES (
			?,
			COALESCE((SELECT status FROM scans WHERE scan_id = ?), ?),
			'discover',
			COALESCE((SELECT created_ts FROM scans WHERE scan_id = ?), ?),
			?,
			COALESCE((SELECT roots FROM scans WHERE scan_id = ?), ''),
			?
		)
	`, scanID, scanID, string(model.StatusInProgress), scanID, now, now, scanID, len(files))
	if err != nil {
		return fmt.Errorf("inventory: record_discovery upsert scan: %w", err)
	}
	return tx.Commit()
}

// LoadDiscoveredFiles returns (path, size, mtime_ns) triples for scanID,
// ordered case-insensitively by path.
func (s *Store) LoadDiscoveredFiles(scanID string) ([]model.DiscoveredFile, error) {
	rows, err := s.db.Query(`
		SELECT path, size, mtime_ns FROM files WHERE scan_id = ? ORDER BY path COLLATE NOCASE
	`, scanID)
	if err != nil {
		return nil, fmt.Errorf("inventory: load_discovered_files: %w", err)
	}
	defer rows.Close()

	var out []model.DiscoveredFile
	for rows.Next() {
		var f model.DiscoveredFile
		if err := rows.Scan(&f.Path, &f.Size, &f.MtimeNs); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// DirSignature is the change-detection fingerprint recorded per
// directory to let a later scan skip an unchanged subtree's readdir.
type DirSignature struct {
	FileCount     int64
	DirCount      int64
	TotalSize     int64
	MaxChildMtime int64
}

// GetDirSignature returns the last recorded signature for dirPath under
// scanRoot, or ok=false if none is recorded.
func (s *Store) GetDirSignature(scanRoot, dirPath string) (DirSignature, bool) {
	var sig DirSignature
	err := s.db.QueryRow(`
		SELECT file_count, dir_count, total_size, max_child_mtime
		FROM dir_signatures WHERE scan_root = ? AND dir_path = ?
	`, scanRoot, dirPath).Scan(&sig.FileCount, &sig.DirCount, &sig.TotalSize, &sig.MaxChildMtime)
	if err != nil {
		return DirSignature{}, false
	}
	return sig, true
}

// SetDirSignature records the current signature for dirPath under
// scanRoot, overwriting any prior value.
func (s *Store) SetDirSignature(scanRoot, dirPath string, sig DirSignature) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO dir_signatures (scan_root, dir_path, file_count, dir_count, total_size, max_child_mtime)
		VALUES (?, ?, ?, ?, ?, ?)
	`, scanRoot, dirPath, sig.FileCount, sig.DirCount, sig.TotalSize, sig.MaxChildMtime)
	return err
}

// SetDirChildren records dirPath's immediate subdirectories under
// scanRoot, replacing any previously recorded set.
func (s *Store) SetDirChildren(scanRoot, dirPath string, childDirs []string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`DELETE FROM dir_children WHERE scan_root = ? AND dir_path = ?`, scanRoot, dirPath); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT INTO dir_children (scan_root, dir_path, child_dir_path) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, child := range childDirs {
		if _, err := stmt.Exec(scanRoot, dirPath, child); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetDirChildren returns the last recorded immediate subdirectories of
// dirPath under scanRoot.
func (s *Store) GetDirChildren(scanRoot, dirPath string) ([]string, error) {
	rows, err := s.db.Query(`SELECT child_dir_path FROM dir_children WHERE scan_root = ? AND dir_path = ?`, scanRoot, dirPath)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ChildFiles returns files directly inside dirPath (not nested deeper)
// as recorded for scanID, using a path-prefix query filtered in Go.
func (s *Store) ChildFiles(scanID, dirPath string) ([]model.DiscoveredFile, error) {
	prefix := dirPath
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	rows, err := s.db.Query(`
		SELECT path, size, mtime_ns FROM files WHERE scan_id = ? AND path LIKE ?
	`, scanID, prefix+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.DiscoveredFile
	for rows.Next() {
		var f model.DiscoveredFile
		if err := rows.Scan(&f.Path, &f.Size, &f.MtimeNs); err != nil {
			return nil, err
		}
		rest := strings.TrimPrefix(f.Path, prefix)
		if strings.Contains(rest, "/") {
			continue // nested deeper than a direct child
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func nowUnix() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
