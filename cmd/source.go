package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/crime-stats/internal/ingest"
	"github.com/sells-group/crime-stats/internal/model"
	"github.com/sells-group/crime-stats/internal/store"
)

var sourceCmd = &cobra.Command{
	Use:   "source",
	Short: "Track source files",
	Long:  "Registers local or downloaded crime data files as provenance records ready for ingestion.",
}

// -- source add --

var sourceAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a local file or download a remote one",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		file, _ := cmd.Flags().GetString("file")
		rawURL, _ := cmd.Flags().GetString("url")
		dataType, _ := cmd.Flags().GetString("data-type")
		year, _ := cmd.Flags().GetInt("year")
		name, _ := cmd.Flags().GetString("source-name")

		if (file == "") == (rawURL == "") {
			return eris.New("exactly one of --file or --url is required")
		}

		st, err := openStore(ctx, "store")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		var prov *model.Provenance
		if rawURL != "" {
			reg := ingest.NewRegistrar(st, ingest.NewDownloader(cfg.Ingest), cfg.Ingest)
			prov, err = reg.Download(ctx, ingest.DownloadOpts{
				URL:        rawURL,
				SourceName: name,
				DataType:   dataType,
				Year:       year,
			})
		} else {
			reg := ingest.NewRegistrar(st, nil, cfg.Ingest)
			prov, err = reg.Register(ctx, ingest.RegisterOpts{
				Path:       file,
				SourceName: name,
				DataType:   dataType,
				Year:       year,
			})
		}
		if err != nil {
			return eris.Wrap(err, "source add")
		}

		zap.L().Info("source registered",
			zap.Int64("provenance_id", prov.ID),
			zap.String("file", prov.FilePath),
		)
		fmt.Fprintln(os.Stdout, prov.ID)
		return nil
	},
}

// -- source list --

var sourceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked source files",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		status, _ := cmd.Flags().GetString("status")
		year, _ := cmd.Flags().GetInt("year")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := store.ProvenanceFilter{Year: year, Limit: limit}
		if status != "" {
			s := model.ProvenanceStatus(status)
			if !s.Valid() {
				return eris.Errorf("unknown status %q (valid: downloaded, processed, failed)", status)
			}
			filter.Statuses = []model.ProvenanceStatus{s}
		}

		st, err := openStore(ctx, "store")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		sources, err := st.ListProvenance(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "source list")
		}
		if len(sources) == 0 {
			fmt.Fprintln(os.Stderr, "No sources found.")
			return nil
		}

		formatSourceList(os.Stdout, sources)
		return nil
	},
}

func init() {
	sourceAddCmd.Flags().String("file", "", "path to a local CSV, TSV, XLSX or ZIP file")
	sourceAddCmd.Flags().String("url", "", "http(s) or ftp URL to download into ingest.storage_dir")
	sourceAddCmd.Flags().String("data-type", "", "data type label, e.g. murder_statistics (required)")
	sourceAddCmd.Flags().Int("year", 0, "data year (required)")
	sourceAddCmd.Flags().String("source-name", "", "source name (default ingest.source_name)")
	_ = sourceAddCmd.MarkFlagRequired("data-type")
	_ = sourceAddCmd.MarkFlagRequired("year")

	sourceListCmd.Flags().String("status", "", "filter by status (downloaded, processed, failed)")
	sourceListCmd.Flags().Int("year", 0, "filter by data year")
	sourceListCmd.Flags().Int("limit", 50, "max number of sources to display")

	sourceCmd.AddCommand(sourceAddCmd)
	sourceCmd.AddCommand(sourceListCmd)
	rootCmd.AddCommand(sourceCmd)
}

// formatSourceList writes a tabular list of provenance records to w.
func formatSourceList(out io.Writer, sources []model.Provenance) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSOURCE\tDATA_TYPE\tYEAR\tSTATUS\tUPDATED\tERROR")
	_, _ = fmt.Fprintln(w, "--\t------\t---------\t----\t------\t-------\t-----")

	for _, p := range sources {
		errMsg := "-"
		if p.Status == model.ProvenanceFailed {
			if v, ok := p.Metadata["error"].(string); ok && v != "" {
				errMsg = truncate(v, 60)
			}
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\t%s\t%s\n",
			p.ID, p.SourceName, p.DataType, p.Year, p.Status,
			p.UpdatedAt.Format(time.DateTime), errMsg,
		)
	}
	_ = w.Flush()
}
