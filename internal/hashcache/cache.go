// Package hashcache is the persistent keyed cache of quick/full content
// digests, keyed by path + stat-signature (size, mtime_ns, dev, inode).
// It is a pure optimization: a closed or corrupt cache degrades to a
// no-op rather than affecting scan correctness.
package hashcache

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/perps12oss/cerebro/internal/model"
)

const schemaVersion = 1

const createTableDDL = `
CREATE TABLE IF NOT EXISTS file_hashes (
	path        TEXT PRIMARY KEY,
	size        INTEGER NOT NULL,
	mtime_ns    INTEGER NOT NULL,
	dev         INTEGER NOT NULL,
	inode       INTEGER NOT NULL,
	quick_hash  TEXT,
	quick_algo  TEXT,
	quick_bytes INTEGER,
	full_hash   TEXT,
	full_algo   TEXT,
	updated_ts  REAL NOT NULL
);
`

const createSigIndexDDL = `
CREATE INDEX IF NOT EXISTS idx_file_hashes_sig ON file_hashes(size, mtime_ns, dev, inode);
`

// DefaultPath returns ~/.cerebro_cache/hash_cache.sqlite.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".cerebro_cache", "hash_cache.sqlite"), nil
}

// Cache is a SQLite-backed, signature-validated digest cache.
// A nil or failed-to-open Cache is safe to call: every method becomes a
// no-op and returns ok=false instead of propagating the open error to
// scan logic.
type Cache struct {
	db     *sql.DB
	log    zerolog.Logger
	broken bool
}

// Open opens (creating if necessary) the cache database at path and
// applies the same WAL/pragma set the original implementation uses.
// On any failure, Open returns a Cache in degraded (no-op) mode rather
// than an error — callers always get a usable *Cache.
func Open(path string, log zerolog.Logger) *Cache {
	c := &Cache{log: log.With().Str("component", "hashcache").Logger()}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		c.log.Warn().Err(err).Msg("hash cache directory unavailable, degrading to no-op")
		c.broken = true
		return c
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		c.log.Warn().Err(err).Msg("hash cache open failed, degrading to no-op")
		c.broken = true
		return c
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA cache_size = -20000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			c.log.Warn().Err(err).Str("pragma", p).Msg("hash cache pragma failed, degrading to no-op")
			db.Close()
			c.broken = true
			return c
		}
	}

	if _, err := db.Exec(createTableDDL); err != nil {
		c.log.Warn().Err(err).Msg("hash cache schema init failed, degrading to no-op")
		db.Close()
		c.broken = true
		return c
	}
	if _, err := db.Exec(createSigIndexDDL); err != nil {
		c.log.Warn().Err(err).Msg("hash cache index init failed")
	}

	c.db = db
	return c
}

// Close releases the underlying database handle. Safe to call on a
// degraded cache.
func (c *Cache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// row mirrors one stored file_hashes record, including fields the caller
// did not ask to update — needed so upserts can merge instead of clobber.
type row struct {
	quickHash  sql.NullString
	quickAlgo  sql.NullString
	quickBytes sql.NullInt64
	fullHash   sql.NullString
	fullAlgo   sql.NullString
}

func (c *Cache) existing(ctx context.Context, path string) (row, bool) {
	var r row
	err := c.db.QueryRowContext(ctx,
		`SELECT quick_hash, quick_algo, quick_bytes, full_hash, full_algo FROM file_hashes WHERE path = ?`,
		path,
	).Scan(&r.quickHash, &r.quickAlgo, &r.quickBytes, &r.fullHash, &r.fullAlgo)
	if err != nil {
		return row{}, false
	}
	return r, true
}

// GetQuick returns the cached quick digest iff the stored signature
// matches sig, allowing an mtime_ns delta up to toleranceNs (0 means
// exact match, the cache_mode=enabled behavior). Any mismatch, miss, or
// broken cache returns "", false.
func (c *Cache) GetQuick(path string, sig model.StatSignature, toleranceNs int64) (string, bool) {
	if c == nil || c.broken || c.db == nil {
		return "", false
	}
	var stored model.StatSignature
	var quickHash sql.NullString
	err := c.db.QueryRow(
		`SELECT size, mtime_ns, dev, inode, quick_hash FROM file_hashes WHERE path = ?`, path,
	).Scan(&stored.Size, &stored.MtimeNs, &stored.Dev, &stored.Inode, &quickHash)
	if err != nil || !stored.EqualWithTolerance(sig, toleranceNs) || !quickHash.Valid {
		return "", false
	}
	return quickHash.String, true
}

// GetFull is the full-digest analogue of GetQuick.
func (c *Cache) GetFull(path string, sig model.StatSignature, toleranceNs int64) (string, bool) {
	if c == nil || c.broken || c.db == nil {
		return "", false
	}
	var stored model.StatSignature
	var fullHash sql.NullString
	err := c.db.QueryRow(
		`SELECT size, mtime_ns, dev, inode, full_hash FROM file_hashes WHERE path = ?`, path,
	).Scan(&stored.Size, &stored.MtimeNs, &stored.Dev, &stored.Inode, &fullHash)
	if err != nil || !stored.EqualWithTolerance(sig, toleranceNs) || !fullHash.Valid {
		return "", false
	}
	return fullHash.String, true
}

// SetQuick upserts the quick-digest fields for path, preserving any
// stored full-digest fields untouched. The signature tuple is always
// overwritten with sig since a set implies the caller just observed it.
func (c *Cache) SetQuick(path string, sig model.StatSignature, digest, algo string, quickBytes int64) {
	if c == nil || c.broken || c.db == nil {
		return
	}
	existing, _ := c.existing(context.Background(), path)
	c.upsert(path, sig, sql.NullString{String: digest, Valid: true}, sql.NullString{String: algo, Valid: true},
		sql.NullInt64{Int64: quickBytes, Valid: true}, existing.fullHash, existing.fullAlgo)
}

// SetFull is the full-digest analogue of SetQuick.
func (c *Cache) SetFull(path string, sig model.StatSignature, digest, algo string) {
	if c == nil || c.broken || c.db == nil {
		return
	}
	existing, _ := c.existing(context.Background(), path)
	c.upsert(path, sig, existing.quickHash, existing.quickAlgo, existing.quickBytes,
		sql.NullString{String: digest, Valid: true}, sql.NullString{String: algo, Valid: true})
}

func (c *Cache) upsert(path string, sig model.StatSignature, quickHash, quickAlgo sql.NullString, quickBytes sql.NullInt64, fullHash, fullAlgo sql.NullString) {
	_, err := c.db.Exec(`
		INSERT INTO file_hashes (path, size, mtime_ns, dev, inode, quick_hash, quick_algo, quick_bytes, full_hash, full_algo, updated_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			size = excluded.size,
			mtime_ns = excluded.mtime_ns,
			dev = excluded.dev,
			inode = excluded.inode,
			quick_hash = excluded.quick_hash,
			quick_algo = excluded.quick_algo,
			quick_bytes = excluded.quick_bytes,
			full_hash = excluded.full_hash,
			full_algo = excluded.full_algo,
			updated_ts = excluded.updated_ts
	`, path, sig.Size, sig.MtimeNs, sig.Dev, sig.Inode, quickHash, quickAlgo, quickBytes, fullHash, fullAlgo, float64(time.Now().UnixNano())/1e9)
	if err != nil {
		c.log.Warn().Err(err).Str("path", path).Msg("hash cache upsert failed, row discarded")
	}
}

// Prune removes rows whose updated_ts is older than before. Operational
// tooling only; the scan pipeline never calls this.
func (c *Cache) Prune(before time.Time) (int64, error) {
	if c == nil || c.broken || c.db == nil {
		return 0, fmt.Errorf("hashcache: cache unavailable")
	}
	res, err := c.db.Exec(`DELETE FROM file_hashes WHERE updated_ts < ?`, float64(before.UnixNano())/1e9)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// SchemaVersion reports the cache's current schema version constant.
func SchemaVersion() int { return schemaVersion }
