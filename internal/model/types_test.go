package model

import "testing"

func TestStatSignatureEqualWithToleranceRequiresExactSizeDevInode(t *testing.T) {
	base := StatSignature{Size: 100, MtimeNs: 1000, Dev: 1, Inode: 1}

	diffSize := base
	diffSize.Size = 101
	if base.EqualWithTolerance(diffSize, 1_000_000) {
		t.Fatalf("size mismatch must never be tolerated")
	}

	diffInode := base
	diffInode.Inode = 2
	if base.EqualWithTolerance(diffInode, 1_000_000) {
		t.Fatalf("inode mismatch must never be tolerated")
	}
}

func TestStatSignatureEqualWithToleranceWindowsMtimeDelta(t *testing.T) {
	base := StatSignature{Size: 100, MtimeNs: 1000, Dev: 1, Inode: 1}

	withinFuture := base
	withinFuture.MtimeNs = 1005
	if !base.EqualWithTolerance(withinFuture, 10) {
		t.Fatalf("expected delta within tolerance to match")
	}

	withinPast := base
	withinPast.MtimeNs = 995
	if !base.EqualWithTolerance(withinPast, 10) {
		t.Fatalf("expected negative delta within tolerance to match")
	}

	beyond := base
	beyond.MtimeNs = 2000
	if base.EqualWithTolerance(beyond, 10) {
		t.Fatalf("expected delta beyond tolerance to mismatch")
	}

	if !base.EqualWithTolerance(base, 0) {
		t.Fatalf("identical signatures must match even with zero tolerance")
	}
}
