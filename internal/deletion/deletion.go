// Package deletion validates and executes duplicate-removal plans.
// BuildPlan turns UI intent (one keeper plus delete candidates per
// group) into a stat-enriched, invariant-checked plan; ExecutePlan
// carries it out through a trash-or-permanent backend, one path at a
// time, honoring an early-abort progress callback.
package deletion

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/perps12oss/cerebro/internal/model"
)

// Backend performs the actual removal for one deletion policy.
type Backend interface {
	CanHandle(mode model.DeletionMode) bool
	Delete(path string) (bytesReclaimed int64, err error)
}

// Backends returns the trash-then-permanent adapter chain, same order
// the plan's mode is expected to match exactly one of.
func Backends(log zerolog.Logger) []Backend {
	return []Backend{
		NewTrashBackend(log),
		NewPermanentBackend(),
	}
}

// BuildPlan validates UI intent and enriches it with current file
// metadata, producing an ExecutablePlan.
//
// Invariants:
//   - a group whose keeper no longer exists on disk is an error: the
//     keeper is the authority for "this group has a file worth
//     keeping," so its absence means the intent is stale in a way the
//     caller must be told about, not silently patched over.
//   - a delete candidate that resolves to the same path as its group's
//     keeper is an error: deleting the keeper would destroy the one
//     file the group was built to preserve.
//   - a delete candidate that no longer exists on disk is skipped, not
//     an error: a concurrent scan or a stale UI snapshot can list a
//     file that's already gone, and that shouldn't fail the whole plan.
//   - a plan that validates to zero operations (every keeper missing,
//     or every delete path missing) is rejected: executing it would be
//     a silent no-op that looks like success.
func BuildPlan(plan model.DeletionPlan) (model.ExecutablePlan, error) {
	var ops []model.Operation

	for _, g := range plan.Groups {
		if g.Keep == "" {
			return model.ExecutablePlan{}, fmt.Errorf("group %d: empty keeper path", g.GroupIndex)
		}
		keepResolved, err := resolvePath(g.Keep)
		if err != nil || !exists(keepResolved) {
			return model.ExecutablePlan{}, fmt.Errorf("group %d: keeper missing: %s", g.GroupIndex, g.Keep)
		}

		for _, delPath := range g.Delete {
			if delPath == "" {
				continue
			}
			delResolved, err := resolvePath(delPath)
			if err != nil {
				continue
			}
			if !exists(delResolved) {
				// Stale UI snapshot or a concurrent change: recorded as
				// already-skipped so the audit trail still accounts for
				// it, rather than vanishing from the plan entirely.
				ops = append(ops, model.Operation{
					Path:       delResolved,
					GroupIndex: g.GroupIndex,
					KeptPath:   keepResolved,
					Preskipped: true,
				})
				continue
			}
			if delResolved == keepResolved {
				return model.ExecutablePlan{}, fmt.Errorf("group %d: keeper included in delete set: %s", g.GroupIndex, delPath)
			}

			info, err := os.Lstat(delResolved)
			if err != nil {
				continue
			}
			ops = append(ops, model.Operation{
				Path:       delResolved,
				Size:       info.Size(),
				GroupIndex: g.GroupIndex,
				KeptPath:   keepResolved,
				Mtime:      info.ModTime(),
			})
		}
	}

	if len(plan.Groups) > 0 && len(ops) == 0 {
		return model.ExecutablePlan{}, fmt.Errorf("deletion plan: no valid operations (missing keepers or all delete paths missing)")
	}
	if len(plan.Groups) > 0 && !hasExecutableOp(ops) {
		return model.ExecutablePlan{}, fmt.Errorf("deletion plan: every delete candidate is already missing from disk")
	}

	return model.ExecutablePlan{
		ScanID:     plan.ScanID,
		Policy:     plan.Policy,
		Source:     plan.Source,
		Operations: ops,
	}, nil
}

func resolvePath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	// EvalSymlinks fails for a path that doesn't exist yet; fall back
	// to the absolute form so a since-deleted file still compares
	// correctly against the keeper.
	return abs, nil
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

func hasExecutableOp(ops []model.Operation) bool {
	for _, op := range ops {
		if !op.Preskipped {
			return true
		}
	}
	return false
}

// ProgressFunc reports execution progress; returning false aborts the
// remaining operations.
type ProgressFunc func(current, total int, name string) bool

// ExecutePlan carries out plan sequentially, one operation at a time,
// stopping early if progressCB returns false. Operations after an
// early abort are left untouched, not marked failed.
func ExecutePlan(plan model.ExecutablePlan, backends []Backend, progressCB ProgressFunc, log zerolog.Logger) model.DeletionResult {
	total := len(plan.Operations)
	result := model.DeletionResult{
		Details: make([]model.OperationDetail, 0, total),
	}

	var backend Backend
	for _, b := range backends {
		if b.CanHandle(plan.Policy.Mode) {
			backend = b
			break
		}
	}
	if backend == nil {
		for _, op := range plan.Operations {
			if op.Preskipped {
				result.Details = append(result.Details, model.OperationDetail{
					Path: op.Path, GroupIndex: op.GroupIndex, KeptPath: op.KeptPath,
					Status: model.OpSkipped,
				})
				continue
			}
			result.Failed = append(result.Failed, op.Path)
			result.Details = append(result.Details, model.OperationDetail{
				Path: op.Path, GroupIndex: op.GroupIndex, KeptPath: op.KeptPath,
				Bytes: op.Size, Mtime: op.Mtime, Status: model.OpFailed,
				Error: fmt.Sprintf("no backend for policy: %s", plan.Policy.Mode),
			})
		}
		return result
	}

	for i, op := range plan.Operations {
		if op.Preskipped {
			// Already known missing at plan-build time; pass through as
			// skipped without touching the backend or the progress count.
			result.Details = append(result.Details, model.OperationDetail{
				Path: op.Path, GroupIndex: op.GroupIndex, KeptPath: op.KeptPath,
				Status: model.OpSkipped,
			})
			continue
		}

		if progressCB != nil && !progressCB(i+1, total, filepath.Base(op.Path)) {
			log.Info().Str("scan_id", plan.ScanID).Msg("deletion cancelled by caller")
			break
		}

		detail := model.OperationDetail{
			Path: op.Path, GroupIndex: op.GroupIndex, KeptPath: op.KeptPath,
			Bytes: op.Size, Mtime: op.Mtime,
		}

		reclaimed, err := backend.Delete(op.Path)
		if err != nil {
			detail.Status = model.OpFailed
			detail.Error = err.Error()
			result.Failed = append(result.Failed, op.Path)
			log.Warn().Str("path", op.Path).Err(err).Msg("delete failed")
		} else {
			detail.Status = model.OpDeleted
			result.Deleted = append(result.Deleted, op.Path)
			result.BytesReclaimed += reclaimed
		}
		result.Details = append(result.Details, detail)
	}

	// Anything past an early abort is reported as skipped, not
	// silently dropped from the audit trail.
	for _, op := range plan.Operations[len(result.Details):] {
		result.Details = append(result.Details, model.OperationDetail{
			Path: op.Path, GroupIndex: op.GroupIndex, KeptPath: op.KeptPath,
			Bytes: op.Size, Mtime: op.Mtime, Status: model.OpSkipped,
		})
	}

	return result
}
