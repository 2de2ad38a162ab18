package discover

import (
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"github.com/perps12oss/cerebro/internal/model"
)

// Options configures one discovery run, generalizing the scan engine's
// directory-walk options to the duplicate-detection domain (extension
// allow-lists, size bounds) on top of the traversal controls dug already
// exposes (workers, xdev, exclude patterns, verbose tracing).
type Options struct {
	Workers           int
	Xdev              bool
	MaxErrors         int
	ExcludePatterns   []*regexp.Regexp
	IncludeHidden     bool
	FollowSymlinks    bool
	AllowedExtensions map[string]struct{}
	MinSizeBytes      int64
	MaxFileSizeBytes  int64
	Verbose           bool
}

// defaultExcludeDirs mirrors the default system/volume exclusion set:
// basenames that are skipped unconditionally, plus the default
// snapshot-directory regex dug itself ships.
var defaultExcludeDirs = map[string]struct{}{
	"$RECYCLE.BIN":        {},
	"System Volume Information": {},
	".Trash":              {},
	".Trashes":            {},
	"lost+found":          {},
}

// FromConfig builds discovery Options from a public ScanConfig,
// resolving max_workers=0 into the documented "max(16, 2*cpu)" default
// and compiling exclude_dirs into the regex list ShouldExclude consults.
func FromConfig(cfg model.ScanConfig) (*Options, error) {
	o := &Options{
		Workers:          cfg.MaxWorkers,
		Xdev:             true,
		MaxErrors:        0,
		IncludeHidden:    cfg.IncludeHidden,
		FollowSymlinks:   cfg.FollowSymlinks,
		MinSizeBytes:     cfg.MinSizeBytes,
		MaxFileSizeBytes: cfg.MaxFileSizeBytes,
	}
	if o.Workers <= 0 {
		o.Workers = workerDefault()
	}
	if len(cfg.AllowedExtensions) > 0 {
		o.AllowedExtensions = make(map[string]struct{}, len(cfg.AllowedExtensions))
		for _, ext := range cfg.AllowedExtensions {
			o.AllowedExtensions[strings.ToLower(ext)] = struct{}{}
		}
	}
	for _, name := range cfg.ExcludeDirs {
		if err := o.addExcludeDirName(name); err != nil {
			return nil, err
		}
	}
	if err := o.AddExcludePattern(`/\.snapshot(/|$)`); err != nil {
		return nil, err
	}
	return o, nil
}

func workerDefault() int {
	n := 2 * runtime.NumCPU()
	if n < 16 {
		n = 16
	}
	return n
}

// AddExcludePattern adds a regex to the exclude list.
func (o *Options) AddExcludePattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	o.ExcludePatterns = append(o.ExcludePatterns, re)
	return nil
}

func (o *Options) addExcludeDirName(name string) error {
	return o.AddExcludePattern(regexp.QuoteMeta(string(filepath.Separator)+name) + `(/|$)`)
}

// ShouldExclude reports whether path matches any exclude pattern.
func (o *Options) ShouldExclude(path string) bool {
	for _, re := range o.ExcludePatterns {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}

// shouldExcludeDirName reports whether a directory basename is in the
// default system/volume exclusion set.
func shouldExcludeDirName(name string) bool {
	_, ok := defaultExcludeDirs[name]
	return ok
}

// extensionAllowed reports whether name passes the extension allow-list.
// An empty allow-list means "no filtering" (everything passes).
func (o *Options) extensionAllowed(name string) bool {
	if len(o.AllowedExtensions) == 0 {
		return true
	}
	_, ok := o.AllowedExtensions[strings.ToLower(filepath.Ext(name))]
	return ok
}

func isHidden(name string) bool {
	return len(name) > 0 && name[0] == '.'
}
