// Package orchestrator drives one scan end to end: discovery, size
// bucketing, quick-hash grouping, optional full-hash confirmation, and
// finalization — streaming a typed progress/event feed the caller can
// render (TUI, CLI, or otherwise) and reacting to context cancellation
// at every phase boundary.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/perps12oss/cerebro/internal/discover"
	"github.com/perps12oss/cerebro/internal/hashcache"
	"github.com/perps12oss/cerebro/internal/hashpipe"
	"github.com/perps12oss/cerebro/internal/inventory"
	"github.com/perps12oss/cerebro/internal/model"
)

// progressThrottle bounds how often Event.Kind == EventProgress fires.
const progressThrottle = 120 * time.Millisecond

// Progress weighting across phases, matching the documented split:
// discovery 0-20%, grouping 20-25%, hashing 25-90%, finalizing 90-100%.
const (
	pctDiscoveryEnd = 20
	pctGroupingEnd  = 25
	pctHashingEnd   = 90
)

// EventKind discriminates the Event union.
type EventKind string

const (
	EventPhaseChanged EventKind = "phase_changed"
	EventProgress     EventKind = "progress"
	EventGroupFound   EventKind = "group_found"
	EventWarning      EventKind = "warning"
	EventFinished     EventKind = "finished"
	EventCancelled    EventKind = "cancelled"
	EventFailed       EventKind = "failed"
)

// Event is one message on the orchestrator's feed.
type Event struct {
	Kind     EventKind
	Phase    model.Phase
	Progress model.ProgressSnapshot
	Group    model.DuplicateGroup
	Warning  string
	Result   *model.ScanResult
	Err      error
}

// Orchestrator runs one scan. It is not reusable across scans.
type Orchestrator struct {
	inv   *inventory.Store
	cache *hashcache.Cache
	log   zerolog.Logger

	events chan Event

	mu          sync.Mutex
	lastEmitted time.Time
}

// New constructs an Orchestrator against an already-open inventory store
// and hash cache; both may be nil (inventory nil disables resumability
// and the directory skip-cache, cache nil disables digest caching).
func New(inv *inventory.Store, cache *hashcache.Cache, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		inv:    inv,
		cache:  cache,
		log:    log.With().Str("component", "orchestrator").Logger(),
		events: make(chan Event, 256),
	}
}

// Events returns the read side of the orchestrator's event feed. The
// channel is closed when Run returns.
func (o *Orchestrator) Events() <-chan Event { return o.events }

// Run executes one scan of cfg.Root and returns the terminal result. The
// same result (or error) is also delivered as the final Finished/
// Cancelled/Failed event before the channel closes.
func (o *Orchestrator) Run(ctx context.Context, cfg model.ScanConfig) (*model.ScanResult, error) {
	defer close(o.events)
	cfg = cfg.WithDefaults()
	start := time.Now()

	scanID := uuid.NewString()
	if o.inv != nil {
		if err := o.inv.BeginScan(scanID, []string{cfg.Root}); err != nil {
			err = fmt.Errorf("orchestrator: begin scan: %w", err)
			o.emit(Event{Kind: EventFailed, Phase: model.PhaseFailed, Err: err})
			return nil, err
		}
		o.writeResumePayload(scanID, cfg, o.inv.Path())
	}

	opts, err := discover.FromConfig(cfg)
	if err != nil {
		err = fmt.Errorf("orchestrator: options: %w", err)
		o.emit(Event{Kind: EventFailed, Phase: model.PhaseFailed, Err: err})
		o.setStatus(scanID, model.StatusFailed)
		o.clearResumePayload()
		return nil, err
	}

	result, err := o.runPhases(ctx, scanID, cfg, opts, start)
	if err != nil {
		if ctx.Err() != nil {
			o.emit(Event{Kind: EventCancelled, Phase: model.PhaseCancelled, Err: ctx.Err()})
			o.setStatus(scanID, model.StatusCancelled)
			o.clearResumePayload()
			return nil, ctx.Err()
		}
		o.emit(Event{Kind: EventFailed, Phase: model.PhaseFailed, Err: err})
		o.setStatus(scanID, model.StatusFailed)
		o.clearResumePayload()
		return nil, err
	}

	o.setStatus(scanID, model.StatusScanned)
	o.clearResumePayload()
	o.emit(Event{Kind: EventFinished, Phase: model.PhaseCompleted, Result: result})
	return result, nil
}

func (o *Orchestrator) setStatus(scanID string, status model.ScanStatus) {
	if o.inv == nil {
		return
	}
	if err := o.inv.SetStatus(scanID, status); err != nil {
		o.log.Warn().Err(err).Str("scan_id", scanID).Msg("failed to persist scan status")
	}
}

func (o *Orchestrator) runPhases(ctx context.Context, scanID string, cfg model.ScanConfig, opts *discover.Options, start time.Time) (*model.ScanResult, error) {
	files, err := o.discoverPhase(ctx, scanID, cfg, opts)
	if err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	buckets, err := o.groupingPhase(ctx, cfg, files)
	if err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	groups, candidates, err := o.hashingPhase(ctx, cfg, buckets, len(files))
	if err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	o.emitPhase(model.PhaseFinalizing, "Finalizing results…", pctHashingEnd, int64(len(files)), start)
	for _, g := range groups {
		o.emit(Event{Kind: EventGroupFound, Phase: model.PhaseFinalizing, Group: g})
	}

	result := &model.ScanResult{
		OK:     true,
		Groups: groups,
		Stats: model.ScanStats{
			FilesScanned:    int64(len(files)),
			Candidates:      int64(candidates),
			DuplicateGroups: len(groups),
			ElapsedSeconds:  time.Since(start).Seconds(),
			Workers:         opts.Workers,
		},
		ScanRoot:     cfg.Root,
		ScanDuration: time.Since(start).Seconds(),
	}
	return result, nil
}

func (o *Orchestrator) discoverPhase(ctx context.Context, scanID string, cfg model.ScanConfig, opts *discover.Options) ([]model.DiscoveredFile, error) {
	o.emitPhase(model.PhaseDiscovering, "Discovering files…", 0, 0, time.Time{})

	w := discover.NewWalker(opts, o.log, o.inv, scanID)
	w.OnProgress(func(found int64, currentDir string) {
		pct := pctDiscoveryEnd
		if found < 100_000 {
			pct = int(float64(pctDiscoveryEnd) * float64(found) / 100_000)
		}
		o.emitThrottled(model.ProgressSnapshot{
			Phase:        model.PhaseDiscovering,
			Message:      fmt.Sprintf("Discovering… %d files", found),
			Percent:      pct,
			ScannedFiles: found,
			CurrentPath:  currentDir,
		})
	})

	files, scanErrs, err := w.Walk(ctx, []string{cfg.Root})
	if err != nil {
		return nil, err
	}
	for _, e := range scanErrs {
		o.emit(Event{Kind: EventWarning, Phase: model.PhaseDiscovering, Warning: fmt.Sprintf("%s: %s", e.Path, e.Message)})
	}

	if o.inv != nil {
		if err := o.inv.RecordDiscovery(scanID, files); err != nil {
			o.log.Warn().Err(err).Msg("failed to persist discovered files")
		}
	}
	return files, nil
}

// groupingPhase folds discovered files into size buckets. The advanced
// engine runs this through discover.SizeAggregator's channel-based
// streaming fold instead of the direct in-memory discover.Buckets, the
// same way its worker pool is scaled up for hashing: the streaming
// fold is the shape a live producer (rather than an already-complete
// slice) would feed it, which the advanced engine is meant to exercise.
func (o *Orchestrator) groupingPhase(ctx context.Context, cfg model.ScanConfig, files []model.DiscoveredFile) ([]discover.SizeBucket, error) {
	o.emitPhase(model.PhaseGrouping, fmt.Sprintf("Grouping by size (%d files)…", len(files)), pctDiscoveryEnd, int64(len(files)), time.Time{})

	var buckets []discover.SizeBucket
	if cfg.Engine == model.EngineAdvanced {
		var err error
		buckets, err = runSizeAggregator(ctx, files)
		if err != nil {
			return nil, err
		}
	} else {
		buckets = discover.Buckets(files)
	}

	o.emitPhase(model.PhaseGrouping, fmt.Sprintf("%d size buckets to hash…", len(buckets)), pctGroupingEnd, int64(len(files)), time.Time{})
	return buckets, nil
}

// runSizeAggregator feeds files through a discover.SizeAggregator over
// channels, mirroring how a streaming discovery source would drive it.
func runSizeAggregator(ctx context.Context, files []model.DiscoveredFile) ([]discover.SizeBucket, error) {
	in := make(chan model.DiscoveredFile)
	out := make(chan discover.SizeBucket)
	agg := discover.NewSizeAggregator()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return agg.Run(gctx, in, out)
	})
	g.Go(func() error {
		defer close(in)
		for _, f := range files {
			select {
			case in <- f:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	var buckets []discover.SizeBucket
	for b := range out {
		buckets = append(buckets, b)
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return buckets, nil
}

func (o *Orchestrator) hashingPhase(ctx context.Context, cfg model.ScanConfig, buckets []discover.SizeBucket, totalFiles int) ([]model.DuplicateGroup, int, error) {
	var candidates []model.DiscoveredFile
	for _, b := range buckets {
		candidates = append(candidates, b.Files...)
	}
	if len(candidates) == 0 {
		return nil, 0, nil
	}

	o.emitPhase(model.PhaseHashing, fmt.Sprintf("Hashing %d candidates…", len(candidates)), pctGroupingEnd, int64(totalFiles), time.Time{})

	advanced := cfg.Engine == model.EngineAdvanced
	workers := hashpipe.WorkerCount(cfg.MaxWorkers, advanced)

	start := time.Now()
	quickResults := hashpipe.QuickHashFiles(ctx, candidates, hashpipe.Options{
		Workers:          workers,
		Cache:            cacheFor(cfg, o.cache),
		MtimeToleranceNs: mtimeToleranceFor(cfg),
		Progress: func(done, total int, rate float64, path string) {
			pct := pctGroupingEnd + int(float64(pctHashingEnd-pctGroupingEnd)*float64(done)/float64(total))
			o.emitThrottled(model.ProgressSnapshot{
				Phase:          model.PhaseHashing,
				Message:        fmt.Sprintf("Hashing… %d/%d", done, total),
				Percent:        pct,
				ScannedFiles:   int64(totalFiles),
				CurrentPath:    path,
				ElapsedSeconds: time.Since(start).Seconds(),
			})
		},
	})
	if ctx.Err() != nil {
		return nil, 0, ctx.Err()
	}

	byDigest := make(map[string][]hashpipe.Result)
	for _, r := range quickResults {
		if r.Err != nil {
			o.emit(Event{Kind: EventWarning, Phase: model.PhaseHashing, Warning: fmt.Sprintf("%s: %s", r.Path, r.Err)})
			continue
		}
		if r.Digest == "" {
			continue
		}
		byDigest[r.Digest] = append(byDigest[r.Digest], r)
	}

	var groups []model.DuplicateGroup
	if cfg.FullHashEscalation {
		var err error
		mtimeOf := make(map[string]int64, len(candidates))
		for _, c := range candidates {
			mtimeOf[c.Path] = c.MtimeNs
		}
		groups, err = o.confirmWithFullHash(ctx, byDigest, mtimeOf, o.cache, mtimeToleranceFor(cfg))
		if err != nil {
			return nil, 0, err
		}
	} else {
		for _, rs := range byDigest {
			if len(rs) < 2 {
				continue
			}
			groups = append(groups, groupFromResults(rs))
		}
	}

	sort.Slice(groups, func(i, j int) bool { return groups[i].Size > groups[j].Size })
	return groups, len(candidates), nil
}

// confirmWithFullHash re-hashes each quick-hash group's files with
// SHA-256, fanning the groups out concurrently via errgroup so one
// group's I/O doesn't stall another's, and stopping all work on the
// first failure or cancellation.
func (o *Orchestrator) confirmWithFullHash(ctx context.Context, byDigest map[string][]hashpipe.Result, mtimeOf map[string]int64, cache *hashcache.Cache, toleranceNs int64) ([]model.DuplicateGroup, error) {
	var mu sync.Mutex
	var out []model.DuplicateGroup

	g, gctx := errgroup.WithContext(ctx)
	for _, rs := range byDigest {
		rs := rs
		if len(rs) < 2 {
			continue
		}
		g.Go(func() error {
			files := make([]model.DiscoveredFile, len(rs))
			for i, r := range rs {
				files[i] = model.DiscoveredFile{Path: r.Path, Size: r.Size, MtimeNs: mtimeOf[r.Path]}
			}
			full := hashpipe.FullHashFiles(gctx, files, hashpipe.Options{Workers: 2, Cache: cache, MtimeToleranceNs: toleranceNs})
			if gctx.Err() != nil {
				return gctx.Err()
			}

			bySha := make(map[string][]hashpipe.Result)
			for _, r := range full {
				if r.Err != nil {
					o.emit(Event{Kind: EventWarning, Phase: model.PhaseHashing, Warning: fmt.Sprintf("%s: %s", r.Path, r.Err)})
					continue
				}
				if r.Digest == "" {
					continue
				}
				bySha[r.Digest] = append(bySha[r.Digest], r)
			}
			var local []model.DuplicateGroup
			for _, confirmed := range bySha {
				if len(confirmed) < 2 {
					continue
				}
				local = append(local, groupFromResults(confirmed))
			}
			mu.Lock()
			out = append(out, local...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func groupFromResults(rs []hashpipe.Result) model.DuplicateGroup {
	paths := make([]string, len(rs))
	for i, r := range rs {
		paths[i] = r.Path
	}
	return model.DuplicateGroup{ContentDigest: rs[0].Digest, Size: rs[0].Size, Paths: paths}
}

func cacheFor(cfg model.ScanConfig, cache *hashcache.Cache) *hashcache.Cache {
	if cfg.CacheMode == model.CacheDisabled {
		return nil
	}
	return cache
}

// mtimeToleranceFor returns the mtime_ns delta the cache lookup will
// tolerate before considering a signature changed. Only cache_mode=aggressive
// relaxes the check; enabled/disabled always require an exact match.
func mtimeToleranceFor(cfg model.ScanConfig) int64 {
	if cfg.CacheMode != model.CacheAggressive {
		return 0
	}
	return cfg.MtimeToleranceNs
}

func (o *Orchestrator) emitPhase(phase model.Phase, msg string, pct int, scanned int64, start time.Time) {
	snap := model.ProgressSnapshot{Phase: phase, Message: msg, Percent: pct, ScannedFiles: scanned}
	if !start.IsZero() {
		snap.ElapsedSeconds = time.Since(start).Seconds()
	}
	o.emit(Event{Kind: EventPhaseChanged, Phase: phase, Progress: snap})
}

func (o *Orchestrator) emitThrottled(snap model.ProgressSnapshot) {
	o.mu.Lock()
	if time.Since(o.lastEmitted) < progressThrottle {
		o.mu.Unlock()
		return
	}
	o.lastEmitted = time.Now()
	o.mu.Unlock()
	o.emit(Event{Kind: EventProgress, Phase: snap.Phase, Progress: snap})
}

func (o *Orchestrator) emit(e Event) {
	o.events <- e
}
