package tui

import (
	"fmt"
	"sort"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"

	"github.com/perps12oss/cerebro/internal/deletion"
	"github.com/perps12oss/cerebro/internal/model"
	"github.com/perps12oss/cerebro/internal/session"
)

// SortColumn represents the current sort field for the group list.
type SortColumn int

const (
	SortBySize SortColumn = iota
	SortByWaste
	SortByCount
)

func (s SortColumn) String() string {
	switch s {
	case SortByWaste:
		return "waste"
	case SortByCount:
		return "count"
	default:
		return "size"
	}
}

// viewMode distinguishes the group list from a single group's detail view.
type viewMode int

const (
	viewGroups viewMode = iota
	viewDetail
)

// groupState is the per-group decision the user has made in this
// session: which path survives and which are queued for deletion.
type groupState struct {
	keeper  string
	deleted map[string]bool
}

// Model holds the duplicate-review TUI state.
type Model struct {
	mgr    *session.Manager
	scanID string
	log    zerolog.Logger

	groups []model.DuplicateGroup
	states []groupState

	mode        viewMode
	cursor      int // index into groups (group list) or paths (detail view)
	groupCursor int // remembers which group detail view is open
	sort        SortColumn

	width  int
	height int

	status string
	err    error
}

// NewModel creates a duplicate-review TUI model bound to one scan
// session. Groups are loaded from the session's stored snapshot.
func NewModel(mgr *session.Manager, scanID string, log zerolog.Logger) *Model {
	return &Model{
		mgr:    mgr,
		scanID: scanID,
		log:    log,
		sort:   SortByWaste,
	}
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return m.loadGroups
}

type groupsLoadedMsg struct {
	groups []model.DuplicateGroup
	err    error
}

func (m *Model) loadGroups() tea.Msg {
	record, ok := m.mgr.Snapshot(m.scanID)
	if !ok {
		return groupsLoadedMsg{err: fmt.Errorf("unknown scan id: %s", m.scanID)}
	}
	return groupsLoadedMsg{groups: record.Groups}
}

func (m *Model) initStates() {
	m.states = make([]groupState, len(m.groups))
	for i, g := range m.groups {
		if len(g.Paths) == 0 {
			continue
		}
		deleted := make(map[string]bool, len(g.Paths)-1)
		for _, p := range g.Paths[1:] {
			deleted[p] = true
		}
		m.states[i] = groupState{keeper: g.Paths[0], deleted: deleted}
	}
	m.applySort()
}

func (m *Model) applySort() {
	idx := make([]int, len(m.groups))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool {
		ga, gb := m.groups[idx[a]], m.groups[idx[b]]
		switch m.sort {
		case SortByWaste:
			return wasted(ga) > wasted(gb)
		case SortByCount:
			return len(ga.Paths) > len(gb.Paths)
		default:
			return ga.Size > gb.Size
		}
	})
	groups := make([]model.DuplicateGroup, len(idx))
	states := make([]groupState, len(idx))
	for i, j := range idx {
		groups[i] = m.groups[j]
		states[i] = m.states[j]
	}
	m.groups = groups
	m.states = states
}

func wasted(g model.DuplicateGroup) int64 {
	if len(g.Paths) <= 1 {
		return 0
	}
	return g.Size * int64(len(g.Paths)-1)
}

func (m *Model) helpLine() string {
	if m.mode == viewDetail {
		return "↑/↓ select | k: set keeper | d: toggle delete | backspace: back | w: write plan | q: quit"
	}
	return "↑/↓ move | enter: open group | s/w/c: sort by size/waste/count | q: quit"
}

// buildPlan converts the user's keeper/delete choices into a
// model.DeletionPlan ready for deletion.BuildPlan.
func (m *Model) buildPlan(mode model.DeletionMode) model.DeletionPlan {
	plan := model.DeletionPlan{
		ScanID: m.scanID,
		Policy: model.Policy{Mode: mode},
		Source: "tui",
	}
	for i, g := range m.groups {
		st := m.states[i]
		if st.keeper == "" {
			continue
		}
		var del []string
		for _, p := range g.Paths {
			if p != st.keeper && st.deleted[p] {
				del = append(del, p)
			}
		}
		if len(del) == 0 {
			continue
		}
		plan.Groups = append(plan.Groups, model.GroupIntent{
			GroupIndex: i,
			Keep:       st.keeper,
			Delete:     del,
		})
	}
	return plan
}

// writePlan validates the current selections and persists them to the
// session, mirroring what "cerebro plan" does from the command line.
func (m *Model) writePlan() error {
	plan := m.buildPlan(model.ModeTrash)
	exe, err := deletion.BuildPlan(plan)
	if err != nil {
		return err
	}
	if err := m.mgr.SetGroups(m.scanID, m.groups); err != nil {
		m.log.Warn().Err(err).Msg("failed to refresh groups on session")
	}
	return m.mgr.SetDeletePlan(m.scanID, exe)
}
