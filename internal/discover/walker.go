// Package discover is the concurrent directory walker that turns one or
// more scan roots into a flat file inventory: the generalization of the
// scan engine's directory-walk pipeline to duplicate-candidate discovery
// (content filters instead of byte rollups, file emission instead of
// directory-tree persistence).
package discover

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/perps12oss/cerebro/internal/inventory"
	"github.com/perps12oss/cerebro/internal/model"
)

// progressEvery controls how often FileProgress fires, in files found.
const progressEvery = 5000

// ScanError records a non-fatal path-level failure (permission denied,
// broken symlink, vanished entry between readdir and lstat).
type ScanError struct {
	Path    string
	Message string
}

// ProgressFunc is invoked roughly every progressEvery discovered files.
// Implementations must not block; the walker does not wait for them.
type ProgressFunc func(filesFound int64, currentDir string)

type dirWork struct {
	path     string
	depth    int
	rootIdx  int
}

// Walker performs one discovery run across a set of roots, using a
// work-stealing directory queue with a per-worker overflow stack so a
// burst of subdirectories never deadlocks a full queue (mirrors the scan
// engine's enqueueOrStack pattern).
type Walker struct {
	opts *Options
	log  zerolog.Logger
	inv  *inventory.Store // optional; nil disables the directory skip-cache
	scanID string

	dirQueue chan dirWork
	inFlight int64

	filesMu sync.Mutex
	files   []model.DiscoveredFile

	errMu sync.Mutex
	errs  []ScanError

	found       int64
	skippedDirs int64

	progress ProgressFunc

	closeOnce sync.Once
}

// NewWalker constructs a Walker. inv and scanID may be zero-valued
// together to disable the directory skip-cache (inv == nil).
func NewWalker(opts *Options, log zerolog.Logger, inv *inventory.Store, scanID string) *Walker {
	queueSize := opts.Workers * 2048
	if queueSize < 8192 {
		queueSize = 8192
	}
	return &Walker{
		opts:     opts,
		log:      log.With().Str("component", "discover").Logger(),
		inv:      inv,
		scanID:   scanID,
		dirQueue: make(chan dirWork, queueSize),
	}
}

// OnProgress registers a callback invoked every progressEvery files.
func (w *Walker) OnProgress(fn ProgressFunc) { w.progress = fn }

// Walk discovers files under roots, returning the flat file list and any
// non-fatal per-path errors encountered. It returns early with ctx.Err()
// if ctx is cancelled.
func (w *Walker) Walk(ctx context.Context, roots []string) ([]model.DiscoveredFile, []ScanError, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rootDevs := make([]uint64, len(roots))
	for i, root := range roots {
		info, err := os.Lstat(root)
		if err != nil {
			return nil, nil, fmt.Errorf("discover: stat root %q: %w", root, err)
		}
		if stat, ok := info.Sys().(*syscall.Stat_t); ok {
			rootDevs[i] = uint64(stat.Dev)
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < w.opts.Workers; i++ {
		wg.Add(1)
		wk := &dirWalker{w: w, id: i, roots: roots, rootDevs: rootDevs}
		go func() {
			defer wg.Done()
			wk.run(ctx)
		}()
	}

	for i, root := range roots {
		atomic.AddInt64(&w.inFlight, 1)
		select {
		case w.dirQueue <- dirWork{path: root, depth: 0, rootIdx: i}:
		case <-ctx.Done():
			atomic.AddInt64(&w.inFlight, -1)
		}
	}

	go w.monitorCompletion(ctx)

	wg.Wait()
	w.closeQueue()

	if ctx.Err() != nil {
		return nil, nil, ctx.Err()
	}

	w.filesMu.Lock()
	files := w.files
	w.filesMu.Unlock()
	w.errMu.Lock()
	errs := w.errs
	w.errMu.Unlock()

	return files, errs, nil
}

func (w *Walker) monitorCompletion(ctx context.Context) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.closeQueue()
			return
		case <-ticker.C:
			if atomic.LoadInt64(&w.inFlight) == 0 {
				w.closeQueue()
				return
			}
		}
	}
}

func (w *Walker) closeQueue() {
	w.closeOnce.Do(func() { close(w.dirQueue) })
}

func (w *Walker) emitFile(f model.DiscoveredFile) {
	w.filesMu.Lock()
	w.files = append(w.files, f)
	w.filesMu.Unlock()

	n := atomic.AddInt64(&w.found, 1)
	if w.progress != nil && n%progressEvery == 0 {
		w.progress(n, f.Path)
	}
}

func (w *Walker) emitError(path string, err error) {
	w.errMu.Lock()
	w.errs = append(w.errs, ScanError{Path: path, Message: err.Error()})
	w.errMu.Unlock()
}

// dirWalker is one worker's private state: the teacher's per-worker
// overflow stack generalized with the same enqueueOrStack fallback.
type dirWalker struct {
	w        *Walker
	id       int
	roots    []string
	rootDevs []uint64
	stack    []dirWork
}

func (d *dirWalker) run(ctx context.Context) {
	for {
		if len(d.stack) > 0 {
			work := d.stack[len(d.stack)-1]
			d.stack = d.stack[:len(d.stack)-1]
			d.process(ctx, work)
			continue
		}
		select {
		case <-ctx.Done():
			return
		case work, ok := <-d.w.dirQueue:
			if !ok {
				return
			}
			d.process(ctx, work)
		}
	}
}

func (d *dirWalker) process(ctx context.Context, work dirWork) {
	defer atomic.AddInt64(&d.w.inFlight, -1)
	if ctx.Err() != nil {
		return
	}
	if d.w.opts.ShouldExclude(work.path) {
		return
	}

	root := d.roots[work.rootIdx]
	if d.tryDirSkipCache(ctx, root, work) {
		return
	}

	entries, err := os.ReadDir(work.path)
	if err != nil {
		d.w.emitError(work.path, err)
		return
	}

	var childDirs []string
	var fileCount, dirCount int64
	var totalSize int64

	for i, de := range entries {
		if i%64 == 0 && ctx.Err() != nil {
			return
		}

		name := de.Name()
		if !d.w.opts.IncludeHidden && isHidden(name) {
			continue
		}

		childPath := filepath.Join(work.path, name)
		if d.w.opts.ShouldExclude(childPath) {
			continue
		}

		info, err := os.Lstat(childPath)
		if err != nil {
			d.w.emitError(childPath, err)
			continue
		}

		mode := info.Mode()
		if mode&os.ModeSymlink != 0 {
			if !d.w.opts.FollowSymlinks {
				continue
			}
			info, err = os.Stat(childPath) // resolve the symlink target
			if err != nil {
				continue // broken symlink, skip silently
			}
			mode = info.Mode()
		}

		var devID uint64
		if stat, ok := info.Sys().(*syscall.Stat_t); ok {
			devID = uint64(stat.Dev)
		}
		if d.w.opts.Xdev && devID != 0 && devID != d.rootDevs[work.rootIdx] {
			continue
		}

		switch {
		case mode.IsDir():
			if shouldExcludeDirName(name) {
				continue
			}
			dirCount++
			childDirs = append(childDirs, childPath)
			select {
			case d.w.dirQueue <- dirWork{path: childPath, depth: work.depth + 1, rootIdx: work.rootIdx}:
				atomic.AddInt64(&d.w.inFlight, 1)
			default:
				atomic.AddInt64(&d.w.inFlight, 1)
				d.stack = append(d.stack, dirWork{path: childPath, depth: work.depth + 1, rootIdx: work.rootIdx})
			}

		case mode.IsRegular():
			if !d.w.opts.extensionAllowed(name) {
				continue
			}
			size := info.Size()
			if size < d.w.opts.MinSizeBytes {
				continue
			}
			if d.w.opts.MaxFileSizeBytes > 0 && size > d.w.opts.MaxFileSizeBytes {
				continue
			}

			mtime := info.ModTime().UnixNano()
			fileCount++
			totalSize += size

			d.w.emitFile(model.DiscoveredFile{Path: childPath, Size: size, MtimeNs: mtime})
		}
	}

	d.recordDirSignature(root, work.path, fileCount, dirCount, totalSize, childDirs)
}

// tryDirSkipCache reports whether dirPath's subtree was served from the
// inventory's recorded signature/children without a readdir. A hit
// re-enqueues recorded child directories and re-emits recorded child
// files directly, generalizing the original optimized-discovery cache
// from a counts-only fingerprint into a genuine skip path.
func (d *dirWalker) tryDirSkipCache(ctx context.Context, root string, work dirWork) bool {
	if d.w.inv == nil {
		return false
	}
	prevSig, ok := d.w.inv.GetDirSignature(root, work.path)
	if !ok {
		return false
	}
	info, err := os.Lstat(work.path)
	if err != nil {
		return false
	}
	// A directory's own mtime changes whenever an entry is added or
	// removed; unchanged mtime plus an unchanged recorded signature is
	// the best available proxy for "no readdir needed" without actually
	// reading the directory.
	if info.ModTime().UnixNano() != prevSig.MaxChildMtime {
		return false
	}

	children, err := d.w.inv.GetDirChildren(root, work.path)
	if err != nil {
		return false
	}
	files, err := d.w.inv.ChildFiles(d.w.scanID, work.path)
	if err != nil {
		return false
	}

	atomic.AddInt64(&d.w.skippedDirs, 1)
	for _, f := range files {
		d.w.emitFile(f)
	}
	for _, child := range children {
		select {
		case d.w.dirQueue <- dirWork{path: child, depth: work.depth + 1, rootIdx: work.rootIdx}:
			atomic.AddInt64(&d.w.inFlight, 1)
		default:
			atomic.AddInt64(&d.w.inFlight, 1)
			d.stack = append(d.stack, dirWork{path: child, depth: work.depth + 1, rootIdx: work.rootIdx})
		}
	}
	return true
}

// recordDirSignature stores dirPath's aggregate counts plus its own
// mtime as the change-detection fingerprint: a directory's mtime
// changes whenever an entry is added or removed, so an unchanged mtime
// on a later scan means the recorded children and files are still
// accurate without a readdir.
func (d *dirWalker) recordDirSignature(root, dirPath string, fileCount, dirCount, totalSize int64, childDirs []string) {
	if d.w.inv == nil {
		return
	}
	info, err := os.Lstat(dirPath)
	if err != nil {
		return
	}
	sig := inventory.DirSignature{
		FileCount:     fileCount,
		DirCount:      dirCount,
		TotalSize:     totalSize,
		MaxChildMtime: info.ModTime().UnixNano(),
	}
	if err := d.w.inv.SetDirSignature(root, dirPath, sig); err != nil {
		d.w.log.Debug().Err(err).Str("path", dirPath).Msg("dir signature not recorded")
	}
	if err := d.w.inv.SetDirChildren(root, dirPath, childDirs); err != nil {
		d.w.log.Debug().Err(err).Str("path", dirPath).Msg("dir children not recorded")
	}
}

// SkippedDirs reports how many directories were served from the
// signature skip-cache during the most recent Walk call.
func (w *Walker) SkippedDirs() int64 { return atomic.LoadInt64(&w.skippedDirs) }
