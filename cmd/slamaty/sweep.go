package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/salehzaid/slamaty-sub000/internal/core"
)

type sweepFlags struct {
	format string
}

func newSweepCmd(a *app) *cobra.Command {
	var flags sweepFlags
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one escalation sweep and print the report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if flags.format != "text" && flags.format != "json" {
				return codeError(exitConfig, "unknown format %q", flags.format)
			}
			rt, err := a.bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()
			report := rt.service.RunEscalationSweep(cmd.Context())
			if err := writeReport(a.stdout, report, flags.format); err != nil {
				return err
			}
			if !report.OK() {
				return codeError(exitSweepError, "sweep finished with %d error(s)", len(report.Errors))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&flags.format, "format", "text", "Output format: text or json")
	return cmd
}

// sweepSummary is the printable form of a core.SweepReport.
type sweepSummary struct {
	StartedAt     time.Time `json:"started_at"`
	Processed     int       `json:"processed"`
	Escalated     int       `json:"escalated"`
	Reminded      int       `json:"reminded"`
	RoundsUpdated int       `json:"rounds_updated"`
	Errors        []string  `json:"errors,omitempty"`
}

func summarize(report core.SweepReport) sweepSummary {
	out := sweepSummary{
		StartedAt:     report.StartedAt,
		Processed:     report.Processed,
		Escalated:     report.Escalated,
		Reminded:      report.Reminded,
		RoundsUpdated: report.RoundsUpdated,
	}
	for _, err := range report.Errors {
		out.Errors = append(out.Errors, err.Error())
	}
	return out
}

func writeReport(w io.Writer, report core.SweepReport, format string) error {
	summary := summarize(report)
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}
	_, err := fmt.Fprintf(w, "processed=%d escalated=%d reminded=%d rounds_updated=%d errors=%d\n",
		summary.Processed, summary.Escalated, summary.Reminded, summary.RoundsUpdated, len(summary.Errors))
	if err != nil {
		return err
	}
	for _, msg := range summary.Errors {
		if _, err := fmt.Fprintf(w, "  error: %s\n", msg); err != nil {
			return err
		}
	}
	return nil
}
