package tui

import (
	tea "github.com/charmbracelet/bubbletea"
)

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case groupsLoadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.groups = msg.groups
		m.initStates()
		return m, nil
	}

	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.mode == viewDetail {
		return m.handleDetailKey(msg)
	}
	return m.handleGroupsKey(msg)
}

func (m *Model) handleGroupsKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit

	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
		return m, nil

	case "down", "j":
		if m.cursor < len(m.groups)-1 {
			m.cursor++
		}
		return m, nil

	case "enter", "l", "right":
		if len(m.groups) > 0 && m.cursor < len(m.groups) {
			m.mode = viewDetail
			m.groupCursor = m.cursor
			m.cursor = 0
		}
		return m, nil

	case "s":
		m.sort = SortBySize
		m.applySort()
		return m, nil

	case "w":
		m.sort = SortByWaste
		m.applySort()
		return m, nil

	case "c":
		m.sort = SortByCount
		m.applySort()
		return m, nil

	case "home", "g":
		m.cursor = 0
		return m, nil

	case "end", "G":
		if len(m.groups) > 0 {
			m.cursor = len(m.groups) - 1
		}
		return m, nil
	}

	return m, nil
}

func (m *Model) handleDetailKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	group := m.groups[m.groupCursor]
	st := &m.states[m.groupCursor]

	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit

	case "backspace", "h", "left", "esc":
		m.mode = viewGroups
		m.cursor = m.groupCursor
		return m, nil

	case "up":
		if m.cursor > 0 {
			m.cursor--
		}
		return m, nil

	case "down":
		if m.cursor < len(group.Paths)-1 {
			m.cursor++
		}
		return m, nil

	case "k":
		if m.cursor < len(group.Paths) {
			path := group.Paths[m.cursor]
			st.keeper = path
			delete(st.deleted, path)
		}
		return m, nil

	case "d":
		if m.cursor < len(group.Paths) {
			path := group.Paths[m.cursor]
			if path != st.keeper {
				st.deleted[path] = !st.deleted[path]
			}
		}
		return m, nil

	case "w":
		if err := m.writePlan(); err != nil {
			m.status = "plan rejected: " + err.Error()
		} else {
			m.status = "plan written to session " + m.scanID
		}
		return m, nil
	}

	return m, nil
}
