package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/perps12oss/cerebro/internal/audit"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the deletion audit log",
}

var (
	auditScanID     string
	auditSource     string
	auditSinceHours int
	auditLimit      int
)

var auditQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "List deletion batches matching a filter",
	RunE:  runAuditQuery,
}

var auditTotalsCmd = &cobra.Command{
	Use:   "totals",
	Short: "Aggregate deletion totals since a point in time",
	RunE:  runAuditTotals,
}

var (
	auditExportFormat string
	auditExportOut    string
)

var auditExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the full audit history as JSON or CSV",
	RunE:  runAuditExport,
}

func init() {
	auditQueryCmd.Flags().StringVar(&auditScanID, "scan-id", "", "Filter to a single scan id")
	auditQueryCmd.Flags().StringVar(&auditSource, "source", "", "Filter to a single source (e.g. cli, tui)")
	auditQueryCmd.Flags().IntVar(&auditSinceHours, "since-hours", 0, "Only include records from the last N hours")
	auditQueryCmd.Flags().IntVar(&auditLimit, "limit", 20, "Maximum records to print (0 = unlimited)")

	auditTotalsCmd.Flags().IntVar(&auditSinceHours, "since-hours", 0, "Only aggregate records from the last N hours")

	auditExportCmd.Flags().StringVar(&auditExportFormat, "format", "json", "Export format: json|csv")
	auditExportCmd.Flags().StringVar(&auditExportOut, "out", "", "Destination file path (required)")
	auditExportCmd.MarkFlagRequired("out")

	auditCmd.AddCommand(auditQueryCmd)
	auditCmd.AddCommand(auditTotalsCmd)
	auditCmd.AddCommand(auditExportCmd)
}

func sinceFromHours(hours int) time.Time {
	if hours <= 0 {
		return time.Time{}
	}
	return time.Now().Add(-time.Duration(hours) * time.Hour)
}

func runAuditQuery(cmd *cobra.Command, args []string) error {
	log := newLogger()
	a, err := openAudit(log)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}

	recs, err := a.Query(audit.QueryOptions{
		ScanID: auditScanID,
		Source: auditSource,
		Since:  sinceFromHours(auditSinceHours),
		Limit:  auditLimit,
	})
	if err != nil {
		return fmt.Errorf("query audit log: %w", err)
	}

	if len(recs) == 0 {
		fmt.Println("No matching deletion records.")
		return nil
	}
	for _, r := range recs {
		fmt.Printf("%s  scan=%s  mode=%s  deleted=%d  failed=%d  reclaimed=%s  source=%s\n",
			r.Timestamp.Format(time.RFC3339), r.ScanID, r.Mode, r.Deleted, r.Failed,
			humanize.Bytes(uint64(r.BytesReclaimed)), r.Source)
	}
	return nil
}

func runAuditTotals(cmd *cobra.Command, args []string) error {
	log := newLogger()
	a, err := openAudit(log)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}

	totals, err := a.Aggregate(sinceFromHours(auditSinceHours))
	if err != nil {
		return fmt.Errorf("aggregate audit log: %w", err)
	}

	fmt.Printf("Batches:  %d\n", totals.Batches)
	fmt.Printf("Deleted:  %d\n", totals.Deleted)
	fmt.Printf("Failed:   %d\n", totals.Failed)
	fmt.Printf("Reclaimed: %s\n", humanize.Bytes(uint64(totals.BytesReclaimed)))
	return nil
}

func runAuditExport(cmd *cobra.Command, args []string) error {
	log := newLogger()
	a, err := openAudit(log)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}

	switch auditExportFormat {
	case "json":
		if err := a.ExportJSON(auditExportOut); err != nil {
			return fmt.Errorf("export json: %w", err)
		}
	case "csv":
		if err := a.ExportCSV(auditExportOut); err != nil {
			return fmt.Errorf("export csv: %w", err)
		}
	default:
		return fmt.Errorf("unknown export format %q (want json or csv)", auditExportFormat)
	}
	fmt.Printf("Exported audit history to %s\n", auditExportOut)
	return nil
}
