// Package hashpipe computes quick and full content digests for
// duplicate-candidate files, using a bounded worker pool and the
// hash cache to skip files whose stat signature hasn't changed.
package hashpipe

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/perps12oss/cerebro/internal/hashcache"
	"github.com/perps12oss/cerebro/internal/model"
)

// sampleSize is the window size used by the windowed quick hash: 1 MiB.
const sampleSize = 1 << 20

// wholeFileThreshold is the largest size hashed in full instead of by
// three sampled windows.
const wholeFileThreshold = 3 * sampleSize

// maxWorkersLimit caps the advanced-engine worker pool.
const maxWorkersLimit = 32

// QuickAlgo and FullAlgo name the digest algorithms recorded alongside
// cached hashes, so a future cache-format change can tell old rows apart.
const (
	QuickAlgo = "md5"
	FullAlgo  = "sha256"
)

// Result is one file's outcome: either a digest or a non-fatal error.
type Result struct {
	Path   string
	Size   int64
	Digest string
	Err    error
}

// ProgressFunc reports hashing throughput; throttled by the caller to
// roughly 10Hz, matching the dashboard refresh rate the original pipeline
// targets.
type ProgressFunc func(done, total int, ratePerSec float64, currentPath string)

// Options configures one hashing pass.
type Options struct {
	Workers  int
	FullHash bool // not read by this package; callers choose FullHashFiles themselves
	Cache    *hashcache.Cache
	Progress ProgressFunc

	// MtimeToleranceNs relaxes cache signature validation: a cached row
	// whose mtime_ns differs from the freshly observed value by no more
	// than this is still treated as a cache hit. Zero means exact match.
	MtimeToleranceNs int64
}

// WorkerCount resolves the documented "max(4, 2*cpu)" default, doubled
// (capped at 32) for the advanced engine.
func WorkerCount(configured int, advanced bool) int {
	n := configured
	if n <= 0 {
		n = max(4, 2*runtime.NumCPU())
	}
	if advanced {
		n *= 2
		if n > maxWorkersLimit {
			n = maxWorkersLimit
		}
	}
	return n
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// QuickHashFiles computes the quick digest for each file, consulting and
// populating the cache by stat signature (dev/inode are left zero, as
// the discovery engine's flat file list carries only path/size/mtime —
// the same reduced signature the original pipeline's cache adapter
// used). Results preserve no particular order; callers group by
// Result.Digest.
func QuickHashFiles(ctx context.Context, files []model.DiscoveredFile, opts Options) []Result {
	return hashFiles(ctx, files, opts, quickHashOne, QuickAlgo, false)
}

// FullHashFiles computes the SHA-256 full-file digest for each file,
// used by the orchestrator to confirm quick-hash matches when full-hash
// escalation is enabled in the scan config.
func FullHashFiles(ctx context.Context, files []model.DiscoveredFile, opts Options) []Result {
	return hashFiles(ctx, files, opts, fullHashOne, FullAlgo, true)
}

type hashFunc func(path string, size int64) (string, error)

func hashFiles(ctx context.Context, files []model.DiscoveredFile, opts Options, fn hashFunc, algo string, full bool) []Result {
	workers := opts.Workers
	if workers <= 0 {
		workers = WorkerCount(0, false)
	}

	total := len(files)
	results := make([]Result, total)
	jobs := make(chan int)

	var done int64
	start := time.Now()

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				f := files[i]
				if ctx.Err() != nil {
					results[i] = Result{Path: f.Path, Size: f.Size, Err: ctx.Err()}
					continue
				}

				if err := verifyStatUnchanged(f); err != nil {
					results[i] = Result{Path: f.Path, Size: f.Size, Err: err}
					continue
				}

				sig := model.StatSignature{Size: f.Size, MtimeNs: f.MtimeNs}
				digest, cached := cacheLookup(opts.Cache, f.Path, sig, opts.MtimeToleranceNs, full)
				var err error
				if !cached {
					digest, err = fn(f.Path, f.Size)
					if err == nil {
						cacheStore(opts.Cache, f.Path, sig, digest, algo, full)
					}
				}
				results[i] = Result{Path: f.Path, Size: f.Size, Digest: digest, Err: err}

				n := atomic.AddInt64(&done, 1)
				if opts.Progress != nil && (n%256 == 0 || n == int64(total)) {
					elapsed := time.Since(start).Seconds()
					rate := float64(n) / max64(elapsed, 0.001)
					opts.Progress(int(n), total, rate, f.Path)
				}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i := range files {
			select {
			case jobs <- i:
			case <-ctx.Done():
				return
			}
		}
	}()

	wg.Wait()
	return results
}

// verifyStatUnchanged re-stats f.Path and compares the size/mtime
// against the discovery-time snapshot, retrying once before giving up.
// A file whose content may have changed between discovery and hashing
// is skipped rather than hashed against a stale signature.
func verifyStatUnchanged(f model.DiscoveredFile) error {
	expected := model.StatSignature{Size: f.Size, MtimeNs: f.MtimeNs}

	fresh, err := StatSignatureOf(f.Path)
	if err == nil && sameSizeAndMtime(fresh, expected) {
		return nil
	}

	// One retry: the file may have been mid-write at the first stat.
	fresh, err = StatSignatureOf(f.Path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", f.Path, err)
	}
	if !sameSizeAndMtime(fresh, expected) {
		return fmt.Errorf("stat signature for %s changed since discovery, skipping", f.Path)
	}
	return nil
}

func sameSizeAndMtime(a, b model.StatSignature) bool {
	return a.Size == b.Size && a.MtimeNs == b.MtimeNs
}

func cacheLookup(cache *hashcache.Cache, path string, sig model.StatSignature, toleranceNs int64, full bool) (string, bool) {
	if cache == nil {
		return "", false
	}
	if full {
		return cache.GetFull(path, sig, toleranceNs)
	}
	return cache.GetQuick(path, sig, toleranceNs)
}

func cacheStore(cache *hashcache.Cache, path string, sig model.StatSignature, digest, algo string, full bool) {
	if cache == nil {
		return
	}
	if full {
		cache.SetFull(path, sig, digest, algo)
		return
	}
	quickBytes := sig.Size
	if quickBytes > wholeFileThreshold {
		quickBytes = 3 * sampleSize
	}
	cache.SetQuick(path, sig, digest, algo, quickBytes)
}

func max64(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// quickHashOne implements the windowed MD5 scheme: whole-file for files
// at or under 3 MiB, otherwise three 1 MiB windows (leading, centered,
// trailing) hashed in sequence into one digest.
func quickHashOne(path string, size int64) (string, error) {
	if size <= wholeFileThreshold {
		return hashWholeFile(path, md5.New())
	}

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New()
	buf := make([]byte, sampleSize)

	if err := readInto(f, 0, buf, h); err != nil {
		return "", err
	}

	mid := size / 2
	midOffset := mid - sampleSize/2
	if midOffset < 0 {
		midOffset = 0
	}
	if err := readInto(f, midOffset, buf, h); err != nil {
		return "", err
	}

	tailOffset := size - sampleSize
	if tailOffset < 0 {
		tailOffset = 0
	}
	if err := readInto(f, tailOffset, buf, h); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

func readInto(f *os.File, offset int64, buf []byte, h hash.Hash) error {
	n, err := f.ReadAt(buf, offset)
	if n > 0 {
		h.Write(buf[:n])
	}
	if err != nil && err != io.EOF {
		return err
	}
	return nil
}

// fullHashOne hashes the entire file with SHA-256, used only when the
// caller has opted into full-hash escalation after a quick-hash match.
func fullHashOne(path string, _ int64) (string, error) {
	return hashWholeFile(path, sha256.New())
}

func hashWholeFile(path string, h hash.Hash) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// StatSignatureOf derives the cache-validity signature for path from a
// freshly taken os.Lstat.
func StatSignatureOf(path string) (model.StatSignature, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return model.StatSignature{}, err
	}
	sig := model.StatSignature{Size: info.Size(), MtimeNs: info.ModTime().UnixNano()}
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		sig.Dev = uint64(st.Dev)
		sig.Inode = st.Ino
	}
	return sig, nil
}
