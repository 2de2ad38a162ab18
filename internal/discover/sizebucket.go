package discover

import (
	"context"

	"github.com/perps12oss/cerebro/internal/model"
)

// SizeBucket is a set of discovered files sharing exactly one byte size,
// the cheapest duplicate-candidate signal before any hashing happens.
type SizeBucket struct {
	Size  int64
	Files []model.DiscoveredFile
}

// SizeAggregator is a streaming generalization of the scan engine's
// directory-rollup aggregator: instead of folding child directory totals
// up a parent tree, it folds discovered files into size-keyed buckets.
// Unlike the tree rollup, a bucket can never be known "complete" before
// the input stream ends, since any later file might share its size, so
// buckets are only emitted at stream close.
type SizeAggregator struct {
	buckets map[int64][]model.DiscoveredFile
}

// NewSizeAggregator creates an empty aggregator.
func NewSizeAggregator() *SizeAggregator {
	return &SizeAggregator{buckets: make(map[int64][]model.DiscoveredFile)}
}

// Run consumes discovered files from in and emits one SizeBucket per
// distinct size that has two or more members once in is closed. Buckets
// of exactly one file are dropped silently: a unique size can never
// participate in a duplicate group.
func (a *SizeAggregator) Run(ctx context.Context, in <-chan model.DiscoveredFile, out chan<- SizeBucket) error {
	defer close(out)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-in:
			if !ok {
				return a.flush(ctx, out)
			}
			a.buckets[f.Size] = append(a.buckets[f.Size], f)
		}
	}
}

func (a *SizeAggregator) flush(ctx context.Context, out chan<- SizeBucket) error {
	for size, files := range a.buckets {
		if len(files) < 2 {
			continue
		}
		select {
		case out <- SizeBucket{Size: size, Files: files}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Buckets folds a flat file list into size buckets with two or more
// members directly, without the channel plumbing Run uses. The
// orchestrator favors this when the full file list is already in
// memory (loaded from the inventory rather than streamed live).
func Buckets(files []model.DiscoveredFile) []SizeBucket {
	bySize := make(map[int64][]model.DiscoveredFile)
	for _, f := range files {
		bySize[f.Size] = append(bySize[f.Size], f)
	}
	out := make([]SizeBucket, 0, len(bySize))
	for size, group := range bySize {
		if len(group) < 2 {
			continue
		}
		out = append(out, SizeBucket{Size: size, Files: group})
	}
	return out
}
