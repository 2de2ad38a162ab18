package tui

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/perps12oss/cerebro/internal/model"
)

func testGroups() []model.DuplicateGroup {
	return []model.DuplicateGroup{
		{ContentDigest: "aaa", Size: 100, Paths: []string{"/a/1", "/a/2"}},
		{ContentDigest: "bbb", Size: 40, Paths: []string{"/b/1", "/b/2", "/b/3"}},
	}
}

func newTestModel(groups []model.DuplicateGroup) *Model {
	m := &Model{scanID: "scan-1", sort: SortByWaste}
	m.groups = groups
	m.initStates()
	return m
}

func TestWastedComputesBytesBeyondFirstCopy(t *testing.T) {
	g := model.DuplicateGroup{Size: 10, Paths: []string{"/a", "/b", "/c"}}
	if got := wasted(g); got != 20 {
		t.Fatalf("wasted = %d, want 20", got)
	}
	single := model.DuplicateGroup{Size: 10, Paths: []string{"/a"}}
	if got := wasted(single); got != 0 {
		t.Fatalf("wasted(single copy) = %d, want 0", got)
	}
}

func TestInitStatesDefaultsKeeperToFirstPathAndMarksRestDeleted(t *testing.T) {
	m := newTestModel(testGroups())

	for i, g := range m.groups {
		st := m.states[i]
		if st.keeper != g.Paths[0] {
			t.Fatalf("group %d: keeper = %q, want %q", i, st.keeper, g.Paths[0])
		}
		for _, p := range g.Paths[1:] {
			if !st.deleted[p] {
				t.Fatalf("group %d: expected %q marked for deletion by default", i, p)
			}
		}
	}
}

func TestApplySortByWastePutsLargestWasteFirst(t *testing.T) {
	m := newTestModel(testGroups())
	m.sort = SortByWaste
	m.applySort()

	if m.groups[0].ContentDigest != "aaa" {
		t.Fatalf("expected group aaa (waste=100) first, got %s", m.groups[0].ContentDigest)
	}
}

func TestApplySortByCountPutsMostCopiesFirst(t *testing.T) {
	m := newTestModel(testGroups())
	m.sort = SortByCount
	m.applySort()

	if m.groups[0].ContentDigest != "bbb" {
		t.Fatalf("expected group bbb (3 copies) first, got %s", m.groups[0].ContentDigest)
	}
}

func TestBuildPlanOmitsGroupsWithNoDeleteCandidates(t *testing.T) {
	m := newTestModel(testGroups())
	for i := range m.states {
		m.states[i].deleted = map[string]bool{}
	}

	plan := m.buildPlan(model.ModeTrash)
	if len(plan.Groups) != 0 {
		t.Fatalf("expected no groups in plan, got %d", len(plan.Groups))
	}
}

func TestBuildPlanIncludesKeeperAndDeleteSet(t *testing.T) {
	m := newTestModel(testGroups())

	plan := m.buildPlan(model.ModePermanent)
	if plan.Policy.Mode != model.ModePermanent {
		t.Fatalf("policy mode = %s, want permanent", plan.Policy.Mode)
	}
	if len(plan.Groups) != 2 {
		t.Fatalf("expected 2 groups in plan, got %d", len(plan.Groups))
	}
	first := plan.Groups[0]
	if first.Keep != "/a/1" || len(first.Delete) != 1 || first.Delete[0] != "/a/2" {
		t.Fatalf("unexpected group intent: %+v", first)
	}
}

func TestHandleDetailKeySetsKeeperAndClearsDeleteMark(t *testing.T) {
	m := newTestModel(testGroups())
	m.mode = viewDetail
	m.groupCursor = 0
	m.cursor = 1 // "/a/2"

	m.handleDetailKey(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("k")})

	st := m.states[0]
	if st.keeper != "/a/2" {
		t.Fatalf("keeper = %q, want /a/2", st.keeper)
	}
	if st.deleted["/a/2"] {
		t.Fatalf("new keeper should not remain marked for deletion")
	}
}

func TestHandleDetailKeyTogglesDeleteMark(t *testing.T) {
	m := newTestModel(testGroups())
	m.mode = viewDetail
	m.groupCursor = 0
	m.cursor = 1 // "/a/2", deleted by default

	m.handleDetailKey(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("d")})
	if m.states[0].deleted["/a/2"] {
		t.Fatalf("expected delete mark toggled off")
	}

	m.handleDetailKey(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("d")})
	if !m.states[0].deleted["/a/2"] {
		t.Fatalf("expected delete mark toggled back on")
	}
}

func TestHandleDetailKeyBackspaceReturnsToGroupList(t *testing.T) {
	m := newTestModel(testGroups())
	m.mode = viewDetail
	m.groupCursor = 1

	m.handleDetailKey(tea.KeyMsg{Type: tea.KeyBackspace})

	if m.mode != viewGroups {
		t.Fatalf("expected mode to return to viewGroups")
	}
	if m.cursor != 1 {
		t.Fatalf("cursor = %d, want 1 (restored from groupCursor)", m.cursor)
	}
}
