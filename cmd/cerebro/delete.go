package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/perps12oss/cerebro/internal/deletion"
	"github.com/perps12oss/cerebro/internal/model"
)

var deleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Execute a previously validated deletion plan",
	Long: `Loads the deletion plan attached to a session by "cerebro plan",
executes it through the trash (or permanent) backend, and writes the
result to the audit log.`,
	RunE: runDelete,
}

var (
	deleteScanID    string
	deletePermanent bool
	deleteYes       bool
)

func init() {
	deleteCmd.Flags().StringVar(&deleteScanID, "scan-id", "", "Session scan id holding the plan to execute (required)")
	deleteCmd.Flags().BoolVar(&deletePermanent, "permanent", false, "Bypass trash and delete permanently")
	deleteCmd.Flags().BoolVar(&deleteYes, "yes", false, "Skip the confirmation prompt")
	deleteCmd.MarkFlagRequired("scan-id")
}

func runDelete(cmd *cobra.Command, args []string) error {
	log := newLogger()

	sessions, err := openSessions(log)
	if err != nil {
		return fmt.Errorf("open sessions: %w", err)
	}
	record, ok := sessions.Snapshot(deleteScanID)
	if !ok {
		return fmt.Errorf("unknown scan id: %s", deleteScanID)
	}
	if record.DeletePlan == nil {
		return fmt.Errorf("session %s has no validated plan; run \"cerebro plan\" first", deleteScanID)
	}
	plan := *record.DeletePlan

	if deletePermanent {
		plan.Policy.Mode = model.ModePermanent
	}

	if !deleteYes {
		fmt.Printf("About to %s %d file(s), reclaiming %s.\n",
			modeVerb(plan.Policy.Mode), len(plan.Operations), humanize.Bytes(uint64(totalBytes(plan))))
		fmt.Print("Continue? [y/N] ")
		var answer string
		fmt.Scanln(&answer)
		if answer != "y" && answer != "Y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	sessions.MarkDeleting(deleteScanID)

	backends := deletion.Backends(log)
	total := len(plan.Operations)
	result := deletion.ExecutePlan(plan, backends, func(current, total int, name string) bool {
		fmt.Printf("\r\033[K[%d/%d] %s", current, total, name)
		return true
	}, log)
	fmt.Printf("\r\033[K")

	if err := sessions.RecordDeleted(deleteScanID, result); err != nil {
		log.Warn().Err(err).Msg("failed to record deletion result on session")
	}

	var skipped int
	for _, d := range result.Details {
		if d.Status == model.OpSkipped {
			skipped++
		}
	}

	auditLog, err := openAudit(log)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	rec := model.AuditRecord{
		ScanID:         deleteScanID,
		Source:         "cli",
		Timestamp:      time.Now(),
		Mode:           plan.Policy.Mode,
		Groups:         len(record.Groups),
		Deleted:        len(result.Deleted),
		Failed:         len(result.Failed),
		BytesReclaimed: result.BytesReclaimed,
		Policy:         plan.Policy,
		Details:        result.Details,
	}
	if err := auditLog.Record(rec); err != nil {
		log.Warn().Err(err).Msg("failed to append audit record")
	}

	fmt.Printf("Deleted %d/%d file(s), reclaimed %s", len(result.Deleted), total, humanize.Bytes(uint64(result.BytesReclaimed)))
	if len(result.Failed) > 0 {
		fmt.Printf(", %d failed", len(result.Failed))
	}
	if skipped > 0 {
		fmt.Printf(", %d skipped", skipped)
	}
	fmt.Println()
	return nil
}

func modeVerb(mode model.DeletionMode) string {
	if mode == model.ModePermanent {
		return "permanently delete"
	}
	return "trash"
}
