package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/crime-stats/internal/monitoring"
)

type statusReport struct {
	Snapshot *monitoring.Snapshot `json:"snapshot" yaml:"snapshot"`
	Alerts   []monitoring.Alert   `json:"alerts" yaml:"alerts"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report ingestion health and threshold alerts",
	Long:  "Summarizes provenance status over the lookback window, stale downloads and aggregate coverage. With --watch the check repeats every monitoring.check_interval_secs and alerts go to monitoring.webhook_url.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		watch, _ := cmd.Flags().GetBool("watch")
		alert, _ := cmd.Flags().GetBool("alert")
		format, _ := cmd.Flags().GetString("format")
		if err := validFormat(format); err != nil {
			return err
		}
		if cmd.Flags().Changed("lookback") {
			cfg.Monitoring.LookbackWindowHours, _ = cmd.Flags().GetInt("lookback")
		}

		st, err := openStore(ctx, "store")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		mc := cfg.Monitoring
		collector := monitoring.NewCollector(st, time.Duration(mc.StaleAfterHours)*time.Hour)
		alerter := monitoring.NewAlerter(mc)

		if watch {
			monitoring.NewChecker(collector, alerter, mc).Run(ctx)
			return nil
		}

		snap, err := collector.Collect(ctx, mc.LookbackWindowHours)
		if err != nil {
			return err
		}
		alerts := alerter.Evaluate(snap)
		if alert {
			alerter.SendAlerts(ctx, alerts)
		}

		if format != formatTable {
			return writeStructured(os.Stdout, format, statusReport{Snapshot: snap, Alerts: alerts})
		}
		formatStatus(os.Stdout, snap, alerts)
		return nil
	},
}

func init() {
	statusCmd.Flags().Bool("watch", false, "repeat the check until interrupted, sending alerts")
	statusCmd.Flags().Bool("alert", false, "send breached thresholds to monitoring.webhook_url")
	statusCmd.Flags().Int("lookback", 0, "lookback window in hours (default monitoring.lookback_window_hours)")
	statusCmd.Flags().String("format", formatTable, "output format: table, json, yaml")
	rootCmd.AddCommand(statusCmd)
}

// formatStatus writes a snapshot summary and any alerts to out.
func formatStatus(out io.Writer, snap *monitoring.Snapshot, alerts []monitoring.Alert) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Sources (last %dh)\t%d\n", snap.LookbackHours, snap.SourcesTotal)
	_, _ = fmt.Fprintf(w, "  downloaded\t%d\n", snap.SourcesDownloaded)
	_, _ = fmt.Fprintf(w, "  processed\t%d\n", snap.SourcesProcessed)
	_, _ = fmt.Fprintf(w, "  failed\t%d\n", snap.SourcesFailed)
	_, _ = fmt.Fprintf(w, "Failure rate\t%.1f%%\n", snap.IngestFailRate*100)
	_, _ = fmt.Fprintf(w, "Stale downloads\t%d\n", snap.StalePending)
	latest := "-"
	if snap.LatestScope != nil {
		latest = fmt.Sprintf("%d %s", snap.LatestScope.Year, snap.LatestScope.CrimeType)
	}
	_, _ = fmt.Fprintf(w, "Aggregate scopes\t%d (latest %s)\n", snap.Scopes, latest)
	_ = w.Flush()

	if len(snap.FailedSources) > 0 {
		_, _ = fmt.Fprintln(out)
		w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "ID\tSOURCE\tDATA_TYPE\tYEAR\tERROR")
		for _, f := range snap.FailedSources {
			_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\n", f.ID, f.SourceName, f.DataType, f.Year, truncate(f.Error, 60))
		}
		_ = w.Flush()
	}

	if len(alerts) > 0 {
		_, _ = fmt.Fprintln(out)
		for _, a := range alerts {
			_, _ = fmt.Fprintf(out, "[%s] %s\n", a.Severity, a.Message)
		}
	}
}
