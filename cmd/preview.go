package main

import (
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/crime-stats/internal/ingest"
)

var previewCmd = &cobra.Command{
	Use:   "preview <file>",
	Short: "Show how a file would be mapped without ingesting it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		rows, _ := cmd.Flags().GetInt("rows")
		format, _ := cmd.Flags().GetString("format")
		if err := validFormat(format); err != nil {
			return err
		}
		if err := cfg.Validate("preview"); err != nil {
			return err
		}

		res, err := ingest.Preview(ctx, cfg.Ingest, args[0], rows)
		if err != nil {
			return eris.Wrap(err, "preview")
		}

		if format != formatTable {
			return writeStructured(os.Stdout, format, res)
		}
		formatPreview(os.Stdout, res)
		return nil
	},
}

func init() {
	previewCmd.Flags().Int("rows", 0, "rows to show (default ingest.preview_rows)")
	previewCmd.Flags().String("format", formatTable, "output format: table, json, yaml")
	rootCmd.AddCommand(previewCmd)
}

// formatPreview writes the field mapping and sample rows to out.
func formatPreview(out io.Writer, res *ingest.PreviewResult) {
	_, _ = fmt.Fprintf(out, "File:     %s\n", res.Path)
	_, _ = fmt.Fprintf(out, "Rows:     %d\n", res.TotalRows)
	if res.Encoding != "" {
		_, _ = fmt.Fprintf(out, "Encoding: %s\n", res.Encoding)
	}
	if res.SchemaError != "" {
		_, _ = fmt.Fprintf(out, "Schema:   %s\n", res.SchemaError)
	}
	_, _ = fmt.Fprintln(out)

	fields := make([]string, 0, len(res.DetectedFields))
	for f := range res.DetectedFields {
		fields = append(fields, f)
	}
	slices.Sort(fields)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "FIELD\tCOLUMN")
	_, _ = fmt.Fprintln(w, "-----\t------")
	for _, f := range fields {
		_, _ = fmt.Fprintf(w, "%s\t%s\n", f, orDash(res.DetectedFields[f]))
	}
	_ = w.Flush()

	if len(res.Rows) == 0 {
		return
	}
	_, _ = fmt.Fprintln(out)

	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, strings.Join(res.Columns, "\t"))
	for _, row := range res.Rows {
		cells := make([]string, len(res.Columns))
		for i, col := range res.Columns {
			cells[i] = truncate(row[col], 30)
		}
		_, _ = fmt.Fprintln(w, strings.Join(cells, "\t"))
	}
	_ = w.Flush()
}
