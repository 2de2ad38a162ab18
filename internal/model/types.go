// Package model holds the data types shared across the scan pipeline:
// the stat-signature identity key, discovered files, duplicate groups,
// scan configuration, and the wire-facing plan/audit/session records.
package model

import "time"

// StatSignature uniquely identifies a file's content-snapshot across
// scans. A cached digest is only valid if the full tuple matches the
// caller's freshly observed stat.
type StatSignature struct {
	Size    int64 `json:"size"`
	MtimeNs int64 `json:"mtime_ns"`
	Dev     uint64 `json:"dev"`
	Inode   uint64 `json:"inode"`
}

// Equal reports whether two signatures describe the same content-snapshot.
func (s StatSignature) Equal(o StatSignature) bool {
	return s.Size == o.Size && s.MtimeNs == o.MtimeNs && s.Dev == o.Dev && s.Inode == o.Inode
}

// EqualWithTolerance is Equal, except an mtime_ns delta up to toleranceNs
// is treated as unchanged. Size, dev, and inode must still match exactly;
// only the mtime comparison relaxes, matching cache_mode=aggressive's
// documented "skip signature re-validation when mtime_ns delta is within
// a configurable tolerance window" behavior.
func (s StatSignature) EqualWithTolerance(o StatSignature, toleranceNs int64) bool {
	if s.Size != o.Size || s.Dev != o.Dev || s.Inode != o.Inode {
		return false
	}
	delta := s.MtimeNs - o.MtimeNs
	if delta < 0 {
		delta = -delta
	}
	return delta <= toleranceNs
}

// DiscoveredFile is the lightweight record produced by the discovery
// engine. It holds no content, only identity and size.
type DiscoveredFile struct {
	Path    string `json:"path"`
	Size    int64  `json:"size"`
	MtimeNs int64  `json:"mtime_ns"`
}

// MediaType restricts discovery to a fixed extension table.
type MediaType string

const (
	MediaAll    MediaType = "all"
	MediaPhotos MediaType = "photos"
	MediaVideos MediaType = "videos"
	MediaAudio  MediaType = "audio"
)

// MediaExtensions maps a MediaType to its allowed-extension table.
var MediaExtensions = map[MediaType][]string{
	MediaPhotos: {".jpg", ".jpeg", ".png", ".gif", ".bmp", ".webp", ".heic", ".raw", ".cr2", ".nef", ".tiff"},
	MediaVideos: {".mp4", ".mov", ".avi", ".mkv", ".wmv", ".flv", ".webm", ".m4v"},
	MediaAudio:  {".mp3", ".wav", ".flac", ".aac", ".ogg", ".m4a", ".wma"},
}

// EngineMode selects hashing-pool sizing and escalation eligibility.
type EngineMode string

const (
	EngineSimple   EngineMode = "simple"
	EngineAdvanced EngineMode = "advanced"
)

// CacheMode controls signature re-validation strictness in the hash cache.
type CacheMode int

const (
	CacheDisabled CacheMode = iota
	CacheEnabled
	CacheAggressive
)

// ScanConfig parameterizes start_scan. Zero MinSizeBytes and Engine
// resolve to the documented defaults (see ScanConfig.WithDefaults); the
// zero CacheMode is CacheDisabled.
type ScanConfig struct {
	Root               string        `json:"root" mapstructure:"root"`
	MinSizeBytes        int64         `json:"min_size_bytes" mapstructure:"min_size_bytes"`
	MaxFileSizeBytes     int64         `json:"max_file_size_bytes" mapstructure:"max_file_size_bytes"`
	IncludeHidden       bool          `json:"include_hidden" mapstructure:"include_hidden"`
	FollowSymlinks      bool          `json:"follow_symlinks" mapstructure:"follow_symlinks"`
	AllowedExtensions   []string      `json:"allowed_extensions" mapstructure:"allowed_extensions"`
	ExcludeDirs         []string      `json:"exclude_dirs" mapstructure:"exclude_dirs"`
	MaxWorkers          int           `json:"max_workers" mapstructure:"max_workers"`
	CachePath           string        `json:"cache_path" mapstructure:"cache_path"`
	MediaType           MediaType     `json:"media_type" mapstructure:"media_type"`
	Engine              EngineMode    `json:"engine" mapstructure:"engine"`
	FullHashEscalation  bool          `json:"full_hash_escalation" mapstructure:"full_hash_escalation"`
	CacheMode           CacheMode     `json:"cache_mode" mapstructure:"cache_mode"`
	MtimeToleranceNs    int64         `json:"mtime_tolerance_ns" mapstructure:"mtime_tolerance_ns"`
}

// WithDefaults fills zero-valued fields with the documented defaults and
// resolves media_type into allowed_extensions when the caller didn't set
// an explicit allow-list.
func (c ScanConfig) WithDefaults() ScanConfig {
	if c.MinSizeBytes == 0 {
		c.MinSizeBytes = 1024
	}
	if c.Engine == "" {
		c.Engine = EngineSimple
	}
	if len(c.AllowedExtensions) == 0 && c.MediaType != "" && c.MediaType != MediaAll {
		c.AllowedExtensions = MediaExtensions[c.MediaType]
	}
	return c
}

// DuplicateGroup is a set of paths sharing identical size and digest.
type DuplicateGroup struct {
	ContentDigest string   `json:"content_digest"`
	Size          int64    `json:"size"`
	Paths         []string `json:"paths"`
}

// ScanStats summarizes a completed scan.
type ScanStats struct {
	FilesScanned    int64   `json:"files_scanned"`
	Candidates      int64   `json:"candidates"`
	DuplicateGroups int     `json:"duplicate_groups"`
	ElapsedSeconds  float64 `json:"elapsed_seconds"`
	Workers         int     `json:"workers"`
}

// ScanResult is the immutable terminal payload of a completed scan.
type ScanResult struct {
	OK         bool             `json:"ok"`
	Groups     []DuplicateGroup `json:"groups"`
	Stats      ScanStats        `json:"stats"`
	ScanRoot   string           `json:"scan_root"`
	ScanName   string           `json:"scan_name"`
	ScanDuration float64        `json:"scan_duration"`
}

// ScanStatus is the inventory lifecycle state for a scan record.
type ScanStatus string

const (
	StatusInProgress ScanStatus = "in_progress"
	StatusScanned    ScanStatus = "scanned"
	StatusDecided    ScanStatus = "decided"
	StatusDeleting   ScanStatus = "deleting"
	StatusDeleted    ScanStatus = "deleted"
	StatusCancelled  ScanStatus = "cancelled"
	StatusFailed     ScanStatus = "failed"
)

// Phase is the orchestrator's state-machine phase, distinct from the
// inventory's coarser ScanStatus.
type Phase string

const (
	PhaseNew         Phase = "new"
	PhaseDiscovering Phase = "discovering"
	PhaseGrouping    Phase = "grouping"
	PhaseHashing     Phase = "hashing"
	PhaseFinalizing  Phase = "finalizing"
	PhaseCompleted   Phase = "completed"
	PhaseCancelled   Phase = "cancelled"
	PhaseFailed      Phase = "failed"
)

// DeletionMode selects the adapter used to carry out a deletion.
type DeletionMode string

const (
	ModeTrash     DeletionMode = "trash"
	ModePermanent DeletionMode = "permanent"
)

// Policy carries the deletion mode plus any adapter-specific options.
type Policy struct {
	Mode DeletionMode `json:"mode"`
}

// GroupIntent names one keeper and its delete candidates within a group.
type GroupIntent struct {
	GroupIndex int      `json:"group_index"`
	Keep       string   `json:"keep"`
	Delete     []string `json:"delete"`
}

// DeletionPlan is the UI-authored intent handed to BuildPlan.
type DeletionPlan struct {
	ScanID string        `json:"scan_id"`
	Policy Policy        `json:"policy"`
	Groups []GroupIntent `json:"groups"`
	Source string        `json:"source"`
}

// Operation is one validated, stat-enriched delete candidate.
type Operation struct {
	Path       string    `json:"path"`
	Size       int64     `json:"size"`
	GroupIndex int       `json:"group_index"`
	KeptPath   string    `json:"kept_path"`
	Mtime      time.Time `json:"mtime"`
	// Preskipped marks an operation already known to be unexecutable at
	// plan-build time (the delete candidate was missing from disk), so
	// ExecutePlan records it as skipped without attempting a backend call.
	Preskipped bool `json:"preskipped,omitempty"`
}

// ExecutablePlan is a DeletionPlan enriched with validated operations.
type ExecutablePlan struct {
	ScanID     string      `json:"scan_id"`
	Policy     Policy      `json:"policy"`
	Source     string      `json:"source"`
	Operations []Operation `json:"operations"`
}

// OperationStatus is the per-file outcome of executing a deletion.
type OperationStatus string

const (
	OpDeleted OperationStatus = "deleted"
	OpFailed  OperationStatus = "failed"
	OpSkipped OperationStatus = "skipped"
)

// OperationDetail is one line of the audit record's per-file breakdown.
type OperationDetail struct {
	Path       string          `json:"path"`
	GroupIndex int             `json:"group_index"`
	KeptPath   string          `json:"kept_path"`
	Bytes      int64           `json:"bytes"`
	Mtime      time.Time       `json:"mtime"`
	Status     OperationStatus `json:"status"`
	Error      string          `json:"error,omitempty"`
}

// DeletionResult is the return value of executing a plan.
type DeletionResult struct {
	Deleted        []string          `json:"deleted"`
	Failed         []string          `json:"failed"`
	BytesReclaimed int64             `json:"bytes_reclaimed"`
	Details        []OperationDetail `json:"details"`
}

// AuditRecord is one append-only line in the deletion log.
type AuditRecord struct {
	SchemaVersion  int               `json:"schema_version"`
	ScanID         string            `json:"scan_id"`
	Timestamp      time.Time         `json:"timestamp"`
	Mode           DeletionMode      `json:"mode"`
	Groups         int               `json:"groups"`
	Deleted        int               `json:"deleted"`
	Failed         int               `json:"failed"`
	BytesReclaimed int64             `json:"bytes_reclaimed"`
	Source         string            `json:"source"`
	Policy         Policy            `json:"policy"`
	Details        []OperationDetail `json:"details"`
}

// ResumePayload records enough state to resume a cancelled or interrupted
// scan from its last inventory checkpoint. At most one is ever on disk.
type ResumePayload struct {
	ScanID           string     `json:"scan_id"`
	Config           ScanConfig `json:"config"`
	InventoryDBPath  string     `json:"inventory_db_path"`
	CheckpointPath   string     `json:"checkpoint_path"`
	Timestamp        time.Time  `json:"timestamp"`
}

// ProgressSnapshot is the throttled progress payload streamed to the UI.
type ProgressSnapshot struct {
	Phase                Phase   `json:"phase"`
	Message              string  `json:"message"`
	Percent              int     `json:"percent"`
	ScannedFiles         int64   `json:"scanned_files"`
	ScannedBytes         int64   `json:"scanned_bytes"`
	ElapsedSeconds       float64 `json:"elapsed_seconds"`
	EstimatedTotalFiles  int64   `json:"estimated_total_files,omitempty"`
	EstimatedTotalBytes  int64   `json:"estimated_total_bytes,omitempty"`
	CurrentPath          string  `json:"current_path,omitempty"`
}
