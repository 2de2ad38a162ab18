package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/perps12oss/cerebro/internal/discover"
	"github.com/perps12oss/cerebro/internal/model"
)

// resumeFileName is fixed: at most one resume payload exists on disk at
// a time, and writing a new one always overwrites the last.
const resumeFileName = "resume_payload.json"

// userHomeDir is a var, not a direct os.UserHomeDir call, so tests can
// point the resume payload at a temp directory instead of the real home.
var userHomeDir = os.UserHomeDir

// ResumePayloadPath returns ~/.cerebro/history/resume_payload.json,
// creating the history directory if necessary.
func ResumePayloadPath() (string, error) {
	home, err := userHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	dir := filepath.Join(home, ".cerebro", "history")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	return filepath.Join(dir, resumeFileName), nil
}

func (o *Orchestrator) writeResumePayload(scanID string, cfg model.ScanConfig, inventoryDBPath string) {
	if o.inv == nil {
		return
	}
	path, err := ResumePayloadPath()
	if err != nil {
		o.log.Warn().Err(err).Msg("resume payload: resolve path failed")
		return
	}
	payload := model.ResumePayload{
		ScanID:          scanID,
		Config:          cfg,
		InventoryDBPath: inventoryDBPath,
		CheckpointPath:  inventoryDBPath,
		Timestamp:       time.Now(),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		o.log.Warn().Err(err).Msg("resume payload: marshal failed")
		return
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		o.log.Warn().Err(err).Msg("resume payload: write failed")
	}
}

// clearResumePayload deletes the resume payload on any terminal scan
// transition (completed, cancelled, or failed), since it only describes
// work still in progress.
func (o *Orchestrator) clearResumePayload() {
	path, err := ResumePayloadPath()
	if err != nil {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		o.log.Warn().Err(err).Msg("resume payload: remove failed")
	}
}

// LoadResumePayload reads the on-disk resume payload, if any. A missing
// file is reported as ok=false, not an error.
func LoadResumePayload() (model.ResumePayload, bool, error) {
	path, err := ResumePayloadPath()
	if err != nil {
		return model.ResumePayload{}, false, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return model.ResumePayload{}, false, nil
		}
		return model.ResumePayload{}, false, fmt.Errorf("read resume payload: %w", err)
	}
	var payload model.ResumePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return model.ResumePayload{}, false, fmt.Errorf("parse resume payload: %w", err)
	}
	return payload, true, nil
}

// Resume checks for an on-disk resume payload and, if one exists whose
// scan is still recorded as in_progress in the inventory, re-enters the
// pipeline from the last recorded inventory checkpoint instead of
// re-walking the filesystem from scratch. If no payload exists, or the
// inventory no longer has an in_progress scan matching it, Resume
// returns ok=false and the caller should fall back to a normal Run.
func (o *Orchestrator) Resume(ctx context.Context) (result *model.ScanResult, ok bool, err error) {
	payload, found, err := LoadResumePayload()
	if err != nil || !found {
		return nil, false, err
	}
	if o.inv == nil {
		return nil, false, nil
	}

	state, err := o.inv.GetScanState(payload.ScanID)
	if err != nil || state == nil || state.Status != model.StatusInProgress {
		o.clearResumePayload()
		return nil, false, nil
	}

	files, err := o.inv.LoadDiscoveredFiles(payload.ScanID)
	if err != nil {
		return nil, false, fmt.Errorf("orchestrator: resume: load checkpoint: %w", err)
	}

	defer close(o.events)
	cfg := payload.Config.WithDefaults()
	start := time.Now()

	o.emitPhase(model.PhaseDiscovering, fmt.Sprintf("Resuming scan %s from checkpoint (%d files)…", payload.ScanID, len(files)), 0, int64(len(files)), time.Time{})

	opts, optsErr := discover.FromConfig(cfg)
	if optsErr != nil {
		return nil, false, fmt.Errorf("orchestrator: resume: options: %w", optsErr)
	}

	buckets, bucketErr := o.groupingPhase(ctx, cfg, files)
	if bucketErr != nil {
		o.emit(Event{Kind: EventFailed, Phase: model.PhaseFailed, Err: bucketErr})
		o.setStatus(payload.ScanID, model.StatusFailed)
		o.clearResumePayload()
		return nil, true, bucketErr
	}
	if ctx.Err() != nil {
		o.emit(Event{Kind: EventCancelled, Phase: model.PhaseCancelled, Err: ctx.Err()})
		o.setStatus(payload.ScanID, model.StatusCancelled)
		o.clearResumePayload()
		return nil, true, ctx.Err()
	}

	groups, candidates, hashErr := o.hashingPhase(ctx, cfg, buckets, len(files))
	if hashErr != nil {
		o.emit(Event{Kind: EventFailed, Phase: model.PhaseFailed, Err: hashErr})
		o.setStatus(payload.ScanID, model.StatusFailed)
		o.clearResumePayload()
		return nil, true, hashErr
	}

	o.emitPhase(model.PhaseFinalizing, "Finalizing results…", pctHashingEnd, int64(len(files)), start)
	for _, g := range groups {
		o.emit(Event{Kind: EventGroupFound, Phase: model.PhaseFinalizing, Group: g})
	}

	result = &model.ScanResult{
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

	o.setStatus(payload.ScanID, model.StatusScanned)
	o.clearResumePayload()
	o.emit(Event{Kind: EventFinished, Phase: model.PhaseCompleted, Result: result})
	return result, true, nil
}
