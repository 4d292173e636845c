package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/calibration-cli/internal/monitoring"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Collect session metrics and evaluate alert thresholds",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		send, _ := cmd.Flags().GetBool("send")
		asJSON, _ := cmd.Flags().GetBool("json")
		if lookback, _ := cmd.Flags().GetInt("lookback"); lookback > 0 {
			cfg.Monitoring.LookbackWindowHours = lookback
		}
		if send && cfg.Monitoring.WebhookURL == "" {
			return eris.New("monitor: --send requires monitoring.webhook_url (CALIBRATION_MONITORING_WEBHOOK_URL)")
		}

		st, err := initStore(ctx)
		if err != nil {
			return eris.Wrap(err, "monitor")
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "monitor: migrate")
		}

		checker := monitoring.NewChecker(
			monitoring.NewCollector(st),
			monitoring.NewAlerter(cfg.Monitoring),
			cfg.Monitoring,
		)
		rep, err := checker.Check(ctx, send)
		if err != nil {
			return err
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(rep)
		}
		formatMonitorReport(os.Stdout, rep)
		return nil
	},
}

func init() {
	monitorCmd.Flags().Bool("send", false, "post triggered alerts to the configured webhook")
	monitorCmd.Flags().Bool("json", false, "print the report as JSON")
	monitorCmd.Flags().Int("lookback", 0, "lookback window in hours (default from config)")
	rootCmd.AddCommand(monitorCmd)
}

// formatMonitorReport writes metrics and alerts to out.
func formatMonitorReport(out io.Writer, rep *monitoring.Report) {
	s := rep.Snapshot
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Lookback:\t%dh\n", s.LookbackHours)
	_, _ = fmt.Fprintf(w, "Sessions:\t%d\n", s.SessionsTotal)
	_, _ = fmt.Fprintf(w, "  Completed:\t%d\n", s.Completed)
	_, _ = fmt.Fprintf(w, "  Aborted:\t%d\n", s.Aborted)
	_, _ = fmt.Fprintf(w, "Pass:\t%d\n", s.Pass)
	_, _ = fmt.Fprintf(w, "Conditional:\t%d\n", s.Conditional)
	_, _ = fmt.Fprintf(w, "Fail:\t%d (%.1f%%)\n", s.Fail, s.FailRate*100)
	_, _ = fmt.Fprintf(w, "Degraded:\t%d (%.1f%%)\n", s.Degraded, s.DegradedRate*100)
	_, _ = fmt.Fprintf(w, "AI assisted:\t%d\n", s.AIAssisted)
	_, _ = fmt.Fprintf(w, "Overridden:\t%d\n", s.Overridden)
	if s.AvgScore > 0 {
		_, _ = fmt.Fprintf(w, "Avg score:\t%.1f\n", s.AvgScore)
	}
	_ = w.Flush()

	if len(rep.Alerts) == 0 {
		_, _ = fmt.Fprintln(out, "No alerts.")
		return
	}
	for _, a := range rep.Alerts {
		_, _ = fmt.Fprintf(out, "ALERT [%s] %s: %s\n", a.Severity, a.Type, a.Message)
	}
	if rep.Sent > 0 {
		_, _ = fmt.Fprintf(out, "Sent %d/%d alerts.\n", rep.Sent, len(rep.Alerts))
	}
}
