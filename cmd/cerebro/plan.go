package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/perps12oss/cerebro/internal/deletion"
	"github.com/perps12oss/cerebro/internal/model"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Validate a deletion plan without executing it",
	Long: `Reads a JSON-encoded model.DeletionPlan from --in (or stdin),
validates its invariants, enriches it with current file metadata, and
prints the resulting executable plan as JSON.`,
	RunE: runPlan,
}

var (
	planInPath string
	planScanID string
)

func init() {
	planCmd.Flags().StringVar(&planInPath, "in", "", "Path to a JSON DeletionPlan (default: stdin)")
	planCmd.Flags().StringVar(&planScanID, "scan-id", "", "Session scan id to attach the validated plan to")
}

func runPlan(cmd *cobra.Command, args []string) error {
	var data []byte
	var err error
	if planInPath == "" {
		data, err = readAllStdin()
	} else {
		data, err = os.ReadFile(planInPath)
	}
	if err != nil {
		return fmt.Errorf("read plan input: %w", err)
	}

	var plan model.DeletionPlan
	if err := json.Unmarshal(data, &plan); err != nil {
		return fmt.Errorf("parse deletion plan: %w", err)
	}
	if planScanID != "" {
		plan.ScanID = planScanID
	}

	exe, err := deletion.BuildPlan(plan)
	if err != nil {
		return fmt.Errorf("build plan: %w", err)
	}

	if exe.ScanID != "" {
		log := newLogger()
		sessions, err := openSessions(log)
		if err == nil {
			if err := sessions.SetDeletePlan(exe.ScanID, exe); err != nil {
				log.Warn().Err(err).Msg("failed to attach plan to session")
			}
		}
	}

	out, err := json.MarshalIndent(exe, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	fmt.Fprintf(os.Stderr, "%d operation(s), %d bytes total\n", len(exe.Operations), totalBytes(exe))
	return nil
}

func totalBytes(exe model.ExecutablePlan) int64 {
	var total int64
	for _, op := range exe.Operations {
		total += op.Size
	}
	return total
}

func readAllStdin() ([]byte, error) {
	info, err := os.Stdin.Stat()
	if err != nil {
		return nil, err
	}
	if info.Mode()&os.ModeCharDevice != 0 {
		return nil, fmt.Errorf("no --in given and stdin is a terminal")
	}
	buf := make([]byte, 0, 4096)
	tmp := make([]byte, 4096)
	for {
		n, err := os.Stdin.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
		}
		if err != nil {
			break
		}
	}
	return buf, nil
}
