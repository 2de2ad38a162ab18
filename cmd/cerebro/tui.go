package main

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/perps12oss/cerebro/internal/tui"
)

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Review a scan's duplicate groups interactively",
	Long: `Open an interactive TUI to browse duplicate groups from a scan
session, choose a keeper for each, and write the resulting deletion
plan back to the session.`,
	RunE: runTUI,
}

var tuiScanID string

func init() {
	tuiCmd.Flags().StringVar(&tuiScanID, "scan-id", "", "Scan session id to review (default: most recent)")
}

func runTUI(cmd *cobra.Command, args []string) error {
	log := newLogger()

	sessions, err := openSessions(log)
	if err != nil {
		return fmt.Errorf("open sessions: %w", err)
	}

	scanID := tuiScanID
	if scanID == "" {
		summaries := sessions.ListScans(1)
		if len(summaries) == 0 {
			return fmt.Errorf("no sessions found; run \"cerebro scan\" first")
		}
		scanID = summaries[0].ScanID
	}

	model := tui.NewModel(sessions, scanID, log)
	p := tea.NewProgram(model, tea.WithAltScreen())

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}
