package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/crime-stats/internal/model"
	"github.com/sells-group/crime-stats/internal/stats"
	"github.com/sells-group/crime-stats/internal/store"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Calculate and inspect aggregate statistics",
	Long:  "Pre-computes per-capita rates and year-over-year changes per (year, crime type) scope.",
}

// newEngine builds an aggregation engine over st using the global config.
func newEngine(st store.Store) *stats.Engine {
	return stats.New(cfg.Stats, st, stats.WithMetrics(met))
}

func crimeTypeFlag(cmd *cobra.Command) string {
	ct, _ := cmd.Flags().GetString("crime-type")
	if ct == "" {
		return cfg.Ingest.DefaultCrimeType
	}
	return ct
}

// splitStates parses a comma-separated --states value.
func splitStates(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// -- stats calculate --

var statsCalculateCmd = &cobra.Command{
	Use:   "calculate",
	Short: "Calculate aggregates for one year",
	Long:  "Recalculates when aggregates already exist for the scope, calculates otherwise.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		year, _ := cmd.Flags().GetInt("year")
		statesRaw, _ := cmd.Flags().GetString("states")
		format, _ := cmd.Flags().GetString("format")
		if err := validFormat(format); err != nil {
			return err
		}

		st, err := openStore(ctx, "store")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		res, err := newEngine(st).Run(ctx, year, crimeTypeFlag(cmd), splitStates(statesRaw))
		if err != nil {
			return eris.Wrap(err, "stats calculate")
		}
		return printStatsResult(os.Stdout, format, res)
	},
}

// -- stats recalculate --

var statsRecalculateCmd = &cobra.Command{
	Use:   "recalculate",
	Short: "Delete and rebuild aggregates for one year or every scope",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		year, _ := cmd.Flags().GetInt("year")
		all, _ := cmd.Flags().GetBool("all")
		format, _ := cmd.Flags().GetString("format")
		if err := validFormat(format); err != nil {
			return err
		}
		if all == (year != 0) {
			return eris.New("pass --year or --all")
		}

		st, err := openStore(ctx, "store")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		engine := newEngine(st)
		if all {
			batch, err := engine.RecalculateAll(ctx)
			if err != nil {
				return eris.Wrap(err, "stats recalculate")
			}
			return printBatchResult(os.Stdout, format, batch)
		}

		res, err := engine.Recalculate(ctx, year, crimeTypeFlag(cmd))
		if err != nil {
			return eris.Wrap(err, "stats recalculate")
		}
		return printStatsResult(os.Stdout, format, res)
	},
}

// -- stats range --

var statsRangeCmd = &cobra.Command{
	Use:   "range",
	Short: "Calculate aggregates for a range of years",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		from, _ := cmd.Flags().GetInt("from")
		to, _ := cmd.Flags().GetInt("to")
		format, _ := cmd.Flags().GetString("format")
		if err := validFormat(format); err != nil {
			return err
		}

		st, err := openStore(ctx, "store")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		batch, err := newEngine(st).CalculateRange(ctx, from, to, crimeTypeFlag(cmd))
		if err != nil {
			return eris.Wrap(err, "stats range")
		}
		return printBatchResult(os.Stdout, format, batch)
	},
}

// -- stats show --

var statsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show calculated aggregates",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		year, _ := cmd.Flags().GetInt("year")
		dtRaw, _ := cmd.Flags().GetString("type")
		state, _ := cmd.Flags().GetString("state")
		limit, _ := cmd.Flags().GetInt("limit")
		format, _ := cmd.Flags().GetString("format")
		if err := validFormat(format); err != nil {
			return err
		}

		filter := store.AggregateFilter{
			Year:      year,
			CrimeType: crimeTypeFlag(cmd),
			State:     state,
			Limit:     limit,
		}
		if dtRaw != "" {
			dt, err := model.ParseDemographicType(dtRaw)
			if err != nil {
				return err
			}
			filter.DemographicType = dt
		}

		st, err := openStore(ctx, "store")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		rows, err := newEngine(st).Query(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "stats show")
		}
		if format != formatTable {
			return writeStructured(os.Stdout, format, rows)
		}
		formatAggregates(os.Stdout, rows)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{statsCalculateCmd, statsRecalculateCmd, statsRangeCmd, statsShowCmd} {
		c.Flags().String("crime-type", "", "crime type (default ingest.default_crime_type)")
		c.Flags().String("format", formatTable, "output format: table, json, yaml")
	}

	statsCalculateCmd.Flags().Int("year", 0, "year to calculate (required)")
	statsCalculateCmd.Flags().String("states", "", "comma-separated states to restrict incidents to")
	_ = statsCalculateCmd.MarkFlagRequired("year")

	statsRecalculateCmd.Flags().Int("year", 0, "year to recalculate")
	statsRecalculateCmd.Flags().Bool("all", false, "recalculate every stored (year, crime type) scope")

	statsRangeCmd.Flags().Int("from", 0, "first year (required)")
	statsRangeCmd.Flags().Int("to", 0, "last year (required)")
	_ = statsRangeCmd.MarkFlagRequired("from")
	_ = statsRangeCmd.MarkFlagRequired("to")

	statsShowCmd.Flags().Int("year", 0, "year to show (required)")
	statsShowCmd.Flags().String("type", "", "demographic type: total, by_race, by_age, by_sex, by_state")
	statsShowCmd.Flags().String("state", "", "filter by state")
	statsShowCmd.Flags().Int("limit", 0, "max rows (0 = all)")
	_ = statsShowCmd.MarkFlagRequired("year")

	statsCmd.AddCommand(statsCalculateCmd)
	statsCmd.AddCommand(statsRecalculateCmd)
	statsCmd.AddCommand(statsRangeCmd)
	statsCmd.AddCommand(statsShowCmd)
	rootCmd.AddCommand(statsCmd)
}

func printStatsResult(out io.Writer, format string, res *stats.Result) error {
	if format != formatTable {
		return writeStructured(out, format, res)
	}
	zap.L().Info("statistics calculated",
		zap.String("mode", res.Mode),
		zap.Int("year", res.Year),
		zap.String("crime_type", res.CrimeType),
		zap.Int("total_records", res.TotalRecords),
		zap.Duration("elapsed", res.Elapsed),
	)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "DEMOGRAPHIC_TYPE\tROWS")
	_, _ = fmt.Fprintln(w, "----------------\t----")
	_, _ = fmt.Fprintf(w, "%s\t%d\n", model.DemographicTotal, res.Breakdowns.Total)
	_, _ = fmt.Fprintf(w, "%s\t%d\n", model.DemographicByRace, res.Breakdowns.ByRace)
	_, _ = fmt.Fprintf(w, "%s\t%d\n", model.DemographicByAge, res.Breakdowns.ByAge)
	_, _ = fmt.Fprintf(w, "%s\t%d\n", model.DemographicBySex, res.Breakdowns.BySex)
	_, _ = fmt.Fprintf(w, "%s\t%d\n", model.DemographicByState, res.Breakdowns.ByState)
	if res.RecordsDeleted > 0 {
		_, _ = fmt.Fprintf(w, "deleted\t%d\n", res.RecordsDeleted)
	}
	return w.Flush()
}

func printBatchResult(out io.Writer, format string, batch *stats.BatchResult) error {
	if format == formatTable {
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "YEAR\tCRIME_TYPE\tSTATUS\tROWS\tERROR")
		_, _ = fmt.Fprintln(w, "----\t----------\t------\t----\t-----")
		for _, r := range batch.Results {
			errMsg := "-"
			if r.Error != "" {
				errMsg = truncate(r.Error, 60)
			}
			_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\n", r.Year, r.CrimeType, r.Status, r.RecordsCalculated, errMsg)
		}
		_ = w.Flush()
		_, _ = fmt.Fprintf(out, "\n%d scope(s): %d succeeded, %d failed\n", batch.Total, batch.Successful, batch.Failed)
	} else if err := writeStructured(out, format, batch); err != nil {
		return err
	}
	if batch.Failed > 0 {
		return eris.Errorf("%d of %d scope(s) failed", batch.Failed, batch.Total)
	}
	return nil
}

// formatAggregates writes aggregate rows as a table.
func formatAggregates(out io.Writer, rows []model.AggregateStat) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TYPE\tVALUE\tSTATE\tINCIDENTS\tPOPULATION\tRATE\tYOY_%")
	_, _ = fmt.Fprintln(w, "----\t-----\t-----\t---------\t----------\t----\t-----")
	for _, r := range rows {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			r.DemographicType, orDash(r.DemographicValue), orDash(r.State),
			r.IncidentCount, intOrDash(r.Population),
			floatOrDash(r.PerCapitaRate, 4), floatOrDash(r.YoYChange, 2),
		)
	}
	_ = w.Flush()
}
