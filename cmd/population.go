package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/crime-stats/internal/ingest"
	"github.com/sells-group/crime-stats/internal/model"
	"github.com/sells-group/crime-stats/internal/population"
)

var populationCmd = &cobra.Command{
	Use:   "population",
	Short: "Load and query population figures",
	Long:  "Loads population denominators from a CSV file, the Census data API or a synthetic fixture.",
}

// -- population load --

var populationLoadCmd = &cobra.Command{
	Use:   "load",
	Short: "Fetch and store population figures for a year",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		year, _ := cmd.Flags().GetInt("year")
		statesRaw, _ := cmd.Flags().GetString("states")
		format, _ := cmd.Flags().GetString("format")
		if err := validFormat(format); err != nil {
			return err
		}
		if v, _ := cmd.Flags().GetString("source"); v != "" {
			cfg.Population.Source = v
		}
		if v, _ := cmd.Flags().GetString("file"); v != "" {
			cfg.Population.File = v
		}

		st, err := openStore(ctx, "population")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		src, err := population.NewSource(cfg.Population, ingest.TableOptions(cfg.Ingest))
		if err != nil {
			return err
		}

		loader := population.NewLoader(st, cfg.Population.Concurrency, met)
		res, err := loader.Load(ctx, src, year, splitStates(statesRaw))
		if err != nil {
			return eris.Wrap(err, "population load")
		}

		zap.L().Info("population load complete",
			zap.Int("year", res.Year),
			zap.String("source", res.Source),
			zap.Int("states_processed", res.StatesProcessed),
			zap.Int64("total_records", res.TotalRecords),
			zap.Int("errors", len(res.Errors)),
		)

		if format != formatTable {
			if err := writeStructured(os.Stdout, format, res); err != nil {
				return err
			}
		} else {
			fmt.Fprintf(os.Stdout, "%d: %d state(s) loaded, %d record(s) from %s\n",
				res.Year, res.StatesProcessed, res.TotalRecords, res.Source)
			for _, e := range res.Errors {
				fmt.Fprintln(os.Stdout, e)
			}
		}
		if res.StatesProcessed == 0 && len(res.Errors) > 0 {
			return eris.Errorf("population load: every state failed (%d errors)", len(res.Errors))
		}
		return nil
	},
}

// -- population lookup --

var populationLookupCmd = &cobra.Command{
	Use:   "lookup",
	Short: "Sum stored population figures matching a filter",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		q := model.PopulationQuery{}
		q.Year, _ = cmd.Flags().GetInt("year")
		q.State, _ = cmd.Flags().GetString("state")
		q.Race, _ = cmd.Flags().GetString("race")
		q.AgeGroup, _ = cmd.Flags().GetString("age-group")
		q.Sex, _ = cmd.Flags().GetString("sex")

		st, err := openStore(ctx, "store")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		pop, err := population.NewStoreLookup(st).Population(ctx, q)
		if err != nil {
			return err
		}
		if pop == nil {
			fmt.Fprintln(os.Stderr, "No population data found.")
			return nil
		}
		fmt.Fprintln(os.Stdout, *pop)
		return nil
	},
}

// -- population delete --

var populationDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete stored population figures for a year",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		year, _ := cmd.Flags().GetInt("year")
		state, _ := cmd.Flags().GetString("state")

		st, err := openStore(ctx, "store")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		lookup := population.NewStoreLookup(st)
		exists, err := lookup.Exists(ctx, year, state)
		if err != nil {
			return err
		}
		if !exists {
			fmt.Fprintln(os.Stderr, "No population data found.")
			return nil
		}

		n, err := lookup.Delete(ctx, year, state)
		if err != nil {
			return err
		}
		zap.L().Info("population deleted",
			zap.Int("year", year),
			zap.String("state", state),
			zap.Int64("records", n),
		)
		fmt.Fprintln(os.Stdout, n)
		return nil
	},
}

func init() {
	populationLoadCmd.Flags().Int("year", 0, "year to load (required)")
	populationLoadCmd.Flags().String("states", "", "comma-separated states (default all 50 states and DC)")
	populationLoadCmd.Flags().String("source", "", "population source: csv, census, synthetic (default population.source)")
	populationLoadCmd.Flags().String("file", "", "population CSV/XLSX file for the csv source")
	populationLoadCmd.Flags().String("format", formatTable, "output format: table, json, yaml")
	_ = populationLoadCmd.MarkFlagRequired("year")

	populationLookupCmd.Flags().Int("year", 0, "year (required)")
	populationLookupCmd.Flags().String("state", "", "state")
	populationLookupCmd.Flags().String("race", "", "race")
	populationLookupCmd.Flags().String("age-group", "", "age group, e.g. 18-24")
	populationLookupCmd.Flags().String("sex", "", "sex")
	_ = populationLookupCmd.MarkFlagRequired("year")

	populationDeleteCmd.Flags().Int("year", 0, "year (required)")
	populationDeleteCmd.Flags().String("state", "", "restrict to one state")
	_ = populationDeleteCmd.MarkFlagRequired("year")

	populationCmd.AddCommand(populationLoadCmd)
	populationCmd.AddCommand(populationLookupCmd)
	populationCmd.AddCommand(populationDeleteCmd)
	rootCmd.AddCommand(populationCmd)
}
