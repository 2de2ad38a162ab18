package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List and inspect scan sessions",
}

var sessionsListLimit int

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known scan sessions, most recent first",
	RunE:  runSessionsList,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <scan-id>",
	Short: "Show the full state of one session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

var sessionsGcMaxAge time.Duration

var sessionsGcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Remove sessions last updated before --max-age",
	RunE:  runSessionsGc,
}

func init() {
	sessionsListCmd.Flags().IntVar(&sessionsListLimit, "limit", 20, "Maximum sessions to list (0 = unlimited)")
	sessionsGcCmd.Flags().DurationVar(&sessionsGcMaxAge, "max-age", 30*24*time.Hour, "Remove sessions whose last update is older than this")

	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsGcCmd)
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	log := newLogger()
	sessions, err := openSessions(log)
	if err != nil {
		return fmt.Errorf("open sessions: %w", err)
	}

	summaries := sessions.ListScans(sessionsListLimit)
	if len(summaries) == 0 {
		fmt.Println("No sessions found.")
		return nil
	}
	for _, s := range summaries {
		plan := ""
		if s.HasPlan {
			plan = " (plan ready)"
		}
		fmt.Printf("%s  %-10s  groups=%-4d  %s%s\n",
			s.ScanID, s.State, s.GroupCount, s.CreatedAt.Format(time.RFC3339), plan)
	}
	return nil
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	log := newLogger()
	sessions, err := openSessions(log)
	if err != nil {
		return fmt.Errorf("open sessions: %w", err)
	}

	record, ok := sessions.Snapshot(args[0])
	if !ok {
		return fmt.Errorf("unknown scan id: %s", args[0])
	}

	fmt.Printf("Scan:      %s\n", record.ScanID)
	fmt.Printf("State:     %s\n", record.State)
	fmt.Printf("Roots:     %v\n", record.Roots)
	fmt.Printf("Created:   %s\n", record.CreatedAt.Format(time.RFC3339))
	fmt.Printf("Updated:   %s\n", record.UpdatedAt.Format(time.RFC3339))
	fmt.Printf("Groups:    %d\n", len(record.Groups))
	fmt.Printf("Has plan:  %t\n", record.DeletePlan != nil)
	if record.Deletion != nil {
		fmt.Printf("Deleted:   %d file(s), %d byte(s) reclaimed\n",
			len(record.Deletion.Deleted), record.Deletion.BytesReclaimed)
	}
	if len(record.SurvivorLocks) > 0 {
		fmt.Printf("Survivor locks:\n")
		for path, lock := range record.SurvivorLocks {
			fmt.Printf("  %s (%s)\n", path, lock.Reason)
		}
	}
	if len(record.DeleteIntents) > 0 {
		fmt.Printf("Delete intents:\n")
		for path, intent := range record.DeleteIntents {
			fmt.Printf("  %s (%s)\n", path, intent.Reason)
		}
	}
	if len(record.Warnings) > 0 {
		fmt.Printf("Warnings:\n")
		for _, w := range record.Warnings {
			fmt.Printf("  %s\n", w)
		}
	}
	return nil
}

func runSessionsGc(cmd *cobra.Command, args []string) error {
	log := newLogger()
	sessions, err := openSessions(log)
	if err != nil {
		return fmt.Errorf("open sessions: %w", err)
	}

	removed := sessions.CleanupOldSessions(sessionsGcMaxAge)
	fmt.Printf("Removed %d session(s) older than %s.\n", removed, sessionsGcMaxAge)
	return nil
}
