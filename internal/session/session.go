// Package session is the in-memory, best-effort-persisted record of
// scan lifecycle state: duplicate groups, the decided delete plan,
// UI-authored survivor locks and delete intents, and the eventual
// deletion result. It is the single place that owns "what scan is the
// UI currently looking at."
package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/perps12oss/cerebro/internal/model"
)

// State is a scan's lifecycle state as tracked by the session. It
// follows model.ScanStatus, names in_progress "running", and adds "new".
type State string

const (
	StateNew       State = "new"
	StateRunning   State = "running"
	StateScanned   State = "scanned"
	StateDecided   State = "decided"
	StateDeleting  State = "deleting"
	StateDeleted   State = "deleted"
	StateCancelled State = "cancelled"
	StateFailed    State = "failed"
)

// SurvivorLock marks a path the user has pinned as a keeper, overriding
// whatever the plan would otherwise do with it.
type SurvivorLock struct {
	Path      string    `json:"path"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// DeleteIntent marks a path the user has selected for deletion.
type DeleteIntent struct {
	Path      string    `json:"path"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// Record is one scan's complete session state.
type Record struct {
	ScanID    string            `json:"scan_id"`
	Roots     []string          `json:"roots"`
	Metadata  map[string]string `json:"metadata"`
	State     State             `json:"state"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`

	Groups     []model.DuplicateGroup  `json:"groups"`
	DeletePlan *model.ExecutablePlan   `json:"delete_plan,omitempty"`
	Deletion   *model.DeletionResult   `json:"deletion_result,omitempty"`

	SurvivorLocks map[string]SurvivorLock `json:"survivor_locks"`
	DeleteIntents map[string]DeleteIntent `json:"delete_intents"`

	Warnings []string `json:"warnings"`
	Notes    []string `json:"notes"`
}

// Manager is the thread-safe holder of every known scan's Record.
// Go has no reentrant mutex, so internal call sites that need to
// invoke another exported-looking operation while already holding the
// lock are factored into unexported *locked helper methods instead of
// re-acquiring mu.
type Manager struct {
	mu          sync.Mutex
	scans       map[string]*Record
	currentScan string
	persistDir  string
	log         zerolog.Logger
}

// NewManager constructs a session manager persisting best-effort JSON
// mirrors under persistDir, and loads whatever sessions are already
// there.
func NewManager(persistDir string, log zerolog.Logger) *Manager {
	m := &Manager{
		scans:      make(map[string]*Record),
		persistDir: persistDir,
		log:        log,
	}
	m.loadPersisted()
	return m
}

// ---------------------------------------------------------------------
// Core API (pipeline writes). SetGroups/SetDeletePlan/RecordDeleted
// raise ErrUnknownScan on an unrecognized scan id: these calls follow a
// write the caller just made (BeginScan), so a miss means the caller's
// own bookkeeping is wrong and hiding that is worse than erroring.
// ---------------------------------------------------------------------

// ErrUnknownScan is returned by the raising half of the lifecycle API
// when scanID was never passed to BeginScan (or has since been pruned
// by CleanupOldSessions).
type ErrUnknownScan string

func (e ErrUnknownScan) Error() string { return "unknown scan_id: " + string(e) }

// BeginScan starts tracking a new scan, replacing any existing record
// for the same id.
func (m *Manager) BeginScan(scanID string, roots []string, metadata map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	record := &Record{
		ScanID:        scanID,
		Roots:         append([]string{}, roots...),
		Metadata:      metadata,
		State:         StateRunning,
		CreatedAt:     now,
		UpdatedAt:     now,
		SurvivorLocks: make(map[string]SurvivorLock),
		DeleteIntents: make(map[string]DeleteIntent),
	}
	m.scans[scanID] = record
	m.currentScan = scanID
	m.persistLocked(record)
}

// SetGroups stores the completed scan's duplicate groups and moves the
// record to StateScanned.
func (m *Manager) SetGroups(scanID string, groups []model.DuplicateGroup) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.scans[scanID]
	if !ok {
		return ErrUnknownScan(scanID)
	}
	record.Groups = groups
	record.State = StateScanned
	record.UpdatedAt = time.Now()
	m.persistLocked(record)
	return nil
}

// SetDeletePlan stores the validated plan and moves the record to
// StateDecided.
func (m *Manager) SetDeletePlan(scanID string, plan model.ExecutablePlan) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.scans[scanID]
	if !ok {
		return ErrUnknownScan(scanID)
	}
	record.DeletePlan = &plan
	record.State = StateDecided
	record.UpdatedAt = time.Now()
	m.persistLocked(record)
	return nil
}

// RecordDeleted stores the deletion outcome and moves the record to
// StateDeleted.
func (m *Manager) RecordDeleted(scanID string, result model.DeletionResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.scans[scanID]
	if !ok {
		return ErrUnknownScan(scanID)
	}
	record.Deletion = &result
	record.State = StateDeleted
	record.UpdatedAt = time.Now()
	m.persistLocked(record)
	return nil
}

// ---------------------------------------------------------------------
// Phase-marker transitions. These are best-effort status updates from
// deep inside the delete executor; a miss here almost always means the
// scan already finished or was pruned, not a bookkeeping bug, so they
// silently no-op (with a logged warning) rather than raise.
// ---------------------------------------------------------------------

// MarkDeleting flags scanID as currently executing a delete plan.
func (m *Manager) MarkDeleting(scanID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.scans[scanID]
	if !ok {
		m.log.Warn().Str("scan_id", scanID).Msg("MarkDeleting: unknown scan_id, ignoring")
		return
	}
	record.State = StateDeleting
	record.UpdatedAt = time.Now()
}

// MarkCancelled flags scanID as cancelled, appending reason to its notes.
func (m *Manager) MarkCancelled(scanID, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.scans[scanID]
	if !ok {
		m.log.Warn().Str("scan_id", scanID).Msg("MarkCancelled: unknown scan_id, ignoring")
		return
	}
	record.State = StateCancelled
	record.UpdatedAt = time.Now()
	if reason != "" {
		record.Notes = append(record.Notes, "Cancelled: "+reason)
	}
	m.persistLocked(record)
}

// MarkFailed flags scanID as failed, appending the error to its notes.
func (m *Manager) MarkFailed(scanID, errMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.scans[scanID]
	if !ok {
		m.log.Warn().Str("scan_id", scanID).Msg("MarkFailed: unknown scan_id, ignoring")
		return
	}
	record.State = StateFailed
	record.UpdatedAt = time.Now()
	if errMsg != "" {
		record.Notes = append(record.Notes, "Failed: "+errMsg)
	}
	m.persistLocked(record)
}

// ---------------------------------------------------------------------
// Query API (UI reads)
// ---------------------------------------------------------------------

// CurrentScanID returns the most recently begun scan's id, or "" if none.
func (m *Manager) CurrentScanID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentScan
}

// ScanSummary is one row of ListScans' output.
type ScanSummary struct {
	ScanID     string    `json:"scan_id"`
	State      State     `json:"state"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	Roots      []string  `json:"roots"`
	GroupCount int       `json:"group_count"`
	HasPlan    bool      `json:"has_plan"`
}

// ListScans returns up to limit scans, most recently created first.
func (m *Manager) ListScans(limit int) []ScanSummary {
	m.mu.Lock()
	defer m.mu.Unlock()

	records := make([]*Record, 0, len(m.scans))
	for _, r := range m.scans {
		records = append(records, r)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].CreatedAt.After(records[j].CreatedAt) })

	if limit > 0 && limit < len(records) {
		records = records[:limit]
	}

	out := make([]ScanSummary, 0, len(records))
	for _, r := range records {
		out = append(out, ScanSummary{
			ScanID:     r.ScanID,
			State:      r.State,
			CreatedAt:  r.CreatedAt,
			UpdatedAt:  r.UpdatedAt,
			Roots:      append([]string{}, r.Roots...),
			GroupCount: len(r.Groups),
			HasPlan:    r.DeletePlan != nil,
		})
	}
	return out
}

// Snapshot returns a deep-enough copy of scanID's record (or the
// current scan if scanID is empty). ok is false if no such scan exists.
func (m *Manager) Snapshot(scanID string) (Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	target := scanID
	if target == "" {
		target = m.currentScan
	}
	record, ok := m.scans[target]
	if !ok {
		return Record{}, false
	}
	return cloneRecord(record), true
}

func cloneRecord(r *Record) Record {
	out := *r
	out.Roots = append([]string{}, r.Roots...)
	out.Groups = append([]model.DuplicateGroup{}, r.Groups...)
	out.Warnings = append([]string{}, r.Warnings...)
	out.Notes = append([]string{}, r.Notes...)
	out.SurvivorLocks = make(map[string]SurvivorLock, len(r.SurvivorLocks))
	for k, v := range r.SurvivorLocks {
		out.SurvivorLocks[k] = v
	}
	out.DeleteIntents = make(map[string]DeleteIntent, len(r.DeleteIntents))
	for k, v := range r.DeleteIntents {
		out.DeleteIntents[k] = v
	}
	return out
}

// ---------------------------------------------------------------------
// UI-intent management. LockSurvivor/SetDeleteIntent raise on an
// unknown scan id (the same reasoning as the core-write API above);
// UnlockSurvivor/ClearDeleteIntent/ClearAllIntents silently no-op,
// since "clear a thing that was never set" is not an error.
// ---------------------------------------------------------------------

// LockSurvivor marks path as a keeper for scanID, clearing any
// conflicting delete intent on the same path (survivor-lock and
// delete-intent are mutually exclusive per path).
func (m *Manager) LockSurvivor(scanID, path, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.scans[scanID]
	if !ok {
		return ErrUnknownScan(scanID)
	}
	resolved := resolvePath(path)
	if reason == "" {
		reason = "user_locked"
	}
	record.SurvivorLocks[resolved] = SurvivorLock{Path: resolved, Reason: reason, Timestamp: time.Now()}
	delete(record.DeleteIntents, resolved)
	record.UpdatedAt = time.Now()
	m.persistLocked(record)
	return nil
}

// UnlockSurvivor removes a survivor lock, if any. Unknown scan id or
// unlocked path: silent no-op.
func (m *Manager) UnlockSurvivor(scanID, path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.scans[scanID]
	if !ok {
		m.log.Warn().Str("scan_id", scanID).Msg("UnlockSurvivor: unknown scan_id, ignoring")
		return
	}
	delete(record.SurvivorLocks, resolvePath(path))
	record.UpdatedAt = time.Now()
}

// SetDeleteIntent marks path for deletion under scanID. If path is
// survivor-locked, the intent is recorded as an ignored warning instead
// (the lock wins, matching the UI invariant that a locked file can
// never also carry a delete intent).
func (m *Manager) SetDeleteIntent(scanID, path, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.scans[scanID]
	if !ok {
		return ErrUnknownScan(scanID)
	}
	resolved := resolvePath(path)
	if _, locked := record.SurvivorLocks[resolved]; locked {
		record.Warnings = append(record.Warnings, "delete intent ignored (survivor locked): "+resolved)
		return nil
	}
	if reason == "" {
		reason = "user_selected"
	}
	record.DeleteIntents[resolved] = DeleteIntent{Path: resolved, Reason: reason, Timestamp: time.Now()}
	record.UpdatedAt = time.Now()
	m.persistLocked(record)
	return nil
}

// ClearDeleteIntent removes a delete intent, if any. Silent no-op on
// an unknown scan id.
func (m *Manager) ClearDeleteIntent(scanID, path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.scans[scanID]
	if !ok {
		m.log.Warn().Str("scan_id", scanID).Msg("ClearDeleteIntent: unknown scan_id, ignoring")
		return
	}
	delete(record.DeleteIntents, resolvePath(path))
	record.UpdatedAt = time.Now()
}

// ClearAllIntents removes every survivor lock and delete intent for
// scanID. Silent no-op on an unknown scan id.
func (m *Manager) ClearAllIntents(scanID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.scans[scanID]
	if !ok {
		m.log.Warn().Str("scan_id", scanID).Msg("ClearAllIntents: unknown scan_id, ignoring")
		return
	}
	record.SurvivorLocks = make(map[string]SurvivorLock)
	record.DeleteIntents = make(map[string]DeleteIntent)
	record.UpdatedAt = time.Now()
	m.persistLocked(record)
}

func resolvePath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

// ---------------------------------------------------------------------
// Persistence: a best-effort, non-atomic JSON mirror per scan, unlike
// the audit log's atomic temp+rename writes — losing a session file to
// a mid-write crash only costs a UI convenience, never the audit trail
// of what was actually deleted.
// ---------------------------------------------------------------------

func (m *Manager) sessionPath(scanID string) string {
	return filepath.Join(m.persistDir, scanID+".json")
}

func (m *Manager) persistLocked(record *Record) {
	if m.persistDir == "" {
		return
	}
	if err := os.MkdirAll(m.persistDir, 0o755); err != nil {
		m.log.Warn().Err(err).Msg("persist session: mkdir failed")
		return
	}
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		m.log.Warn().Err(err).Msg("persist session: marshal failed")
		return
	}
	if err := os.WriteFile(m.sessionPath(record.ScanID), data, 0o644); err != nil {
		m.log.Warn().Err(err).Msg("persist session: write failed")
	}
}

func (m *Manager) loadPersisted() {
	if m.persistDir == "" {
		return
	}
	entries, err := os.ReadDir(m.persistDir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(m.persistDir, e.Name()))
		if err != nil {
			m.log.Warn().Str("file", e.Name()).Err(err).Msg("load session: read failed")
			continue
		}
		var record Record
		if err := json.Unmarshal(data, &record); err != nil {
			m.log.Warn().Str("file", e.Name()).Err(err).Msg("load session: unmarshal failed")
			continue
		}
		if record.SurvivorLocks == nil {
			record.SurvivorLocks = make(map[string]SurvivorLock)
		}
		if record.DeleteIntents == nil {
			record.DeleteIntents = make(map[string]DeleteIntent)
		}
		m.scans[record.ScanID] = &record
	}
}

// CleanupOldSessions removes in-memory and on-disk records whose
// UpdatedAt is older than maxAge, returning the count removed.
func (m *Manager) CleanupOldSessions(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	count := 0
	for scanID, record := range m.scans {
		if record.UpdatedAt.Before(cutoff) {
			delete(m.scans, scanID)
			if m.persistDir != "" {
				if err := os.Remove(m.sessionPath(scanID)); err != nil && !os.IsNotExist(err) {
					m.log.Warn().Str("scan_id", scanID).Err(err).Msg("cleanup: remove session file failed")
				}
			}
			count++
		}
	}
	return count
}
