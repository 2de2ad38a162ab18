package tui

import (
	"fmt"
	"strings"
)

// View implements tea.Model.
func (m *Model) View() string {
	if m.err != nil {
		return fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err)
	}
	if m.groups == nil {
		return "Loading..."
	}

	switch m.mode {
	case viewDetail:
		return m.viewDetail()
	default:
		return m.viewGroups()
	}
}

func (m *Model) viewGroups() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("cerebro - Duplicate Review"))
	b.WriteString("\n")

	var totalWaste int64
	for _, g := range m.groups {
		totalWaste += wasted(g)
	}
	stats := fmt.Sprintf("Groups: %s | Reclaimable: %s | Sort: %s",
		FormatCount(int64(len(m.groups))), FormatSize(totalWaste), m.sort)
	b.WriteString(statsStyle.Render(stats))
	b.WriteString("\n")

	header := fmt.Sprintf("%-10s  %-8s  %-8s  %s", "SIZE", "WASTE", "COPIES", "DIGEST")
	b.WriteString(headerStyle.Render(header))
	b.WriteString("\n")

	visibleRows := m.height - 6
	if visibleRows < 5 {
		visibleRows = 5
	}
	startIdx := 0
	if m.cursor >= visibleRows {
		startIdx = m.cursor - visibleRows + 1
	}
	endIdx := min(len(m.groups), startIdx+visibleRows)

	for i := startIdx; i < endIdx; i++ {
		g := m.groups[i]
		line := fmt.Sprintf("%-10s  %-8s  %-8d  %s",
			FormatSize(g.Size), FormatSize(wasted(g)), len(g.Paths), shortDigest(g.ContentDigest))
		if i == m.cursor {
			b.WriteString(selectedStyle.Render(line))
		} else {
			b.WriteString(plainStyle.Render(line))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	if m.status != "" {
		b.WriteString(statusStyle.Render(m.status))
		b.WriteString("\n")
	}
	help := m.helpLine()
	if len(m.groups) > 0 {
		help = fmt.Sprintf("%s [%d/%d]", help, m.cursor+1, len(m.groups))
	}
	b.WriteString(helpStyle.Render(help))

	return b.String()
}

func (m *Model) viewDetail() string {
	var b strings.Builder

	group := m.groups[m.groupCursor]
	st := m.states[m.groupCursor]

	b.WriteString(titleStyle.Render("cerebro - Group Detail"))
	b.WriteString("\n")
	b.WriteString(pathStyle.Render(fmt.Sprintf("Digest: %s | Size: %s | Copies: %d",
		shortDigest(group.ContentDigest), FormatSize(group.Size), len(group.Paths))))
	b.WriteString("\n")

	for i, path := range group.Paths {
		marker := "  "
		style := plainStyle
		switch {
		case path == st.keeper:
			marker = "K "
			style = keeperStyle
		case st.deleted[path]:
			marker = "D "
			style = deleteStyle
		}
		line := marker + truncateMiddle(path, max(20, m.width-4))
		if i == m.cursor {
			b.WriteString(selectedStyle.Render(line))
		} else {
			b.WriteString(style.Render(line))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	if m.status != "" {
		b.WriteString(statusStyle.Render(m.status))
		b.WriteString("\n")
	}
	b.WriteString(helpStyle.Render(m.helpLine()))

	return b.String()
}

func shortDigest(digest string) string {
	if len(digest) <= 12 {
		return digest
	}
	return digest[:12]
}

func truncateMiddle(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	head := (maxLen - 3) / 2
	tail := maxLen - 3 - head
	return s[:head] + "..." + s[len(s)-tail:]
}
