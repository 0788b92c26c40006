package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/basket/taskchat/internal/config"
	"github.com/basket/taskchat/internal/doctor"
)

func newDoctorCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks against the local configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var cfgPtr *config.Config
			cfg, err := config.Load()
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Error loading config: %v\n", err)
			} else {
				cfgPtr = &cfg
			}
			diag := doctor.Run(cmd.Context(), cfgPtr, Version)
			return reportDiagnosis(cmd.OutOrStdout(), diag, jsonOutput)
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "print the report as JSON")
	return cmd
}

func reportDiagnosis(out io.Writer, diag doctor.Diagnosis, jsonOutput bool) error {
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(diag); err != nil {
			return fmt.Errorf("encode report: %w", err)
		}
	} else {
		fmt.Fprintf(out, "taskchat doctor report (%s)\n", diag.Timestamp.Format(time.RFC3339))
		fmt.Fprintf(out, "System: %s/%s (%s)\n", diag.System.OS, diag.System.Arch, diag.System.Go)
		fmt.Fprintln(out, "---")
		for _, res := range diag.Results {
			icon := "✅"
			switch res.Status {
			case doctor.StatusFail:
				icon = "❌"
			case doctor.StatusWarn:
				icon = "⚠️ "
			case doctor.StatusSkip:
				icon = "⏩"
			}
			fmt.Fprintf(out, "%s %-12s: %s\n", icon, res.Name, res.Message)
			if res.Detail != "" {
				fmt.Fprintf(out, "    %s\n", res.Detail)
			}
		}
	}
	if n := diag.Failed(); n > 0 {
		return &exitError{code: 1, err: fmt.Errorf("%d check(s) failed", n)}
	}
	return nil
}
