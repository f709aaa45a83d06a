package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/crime-stats/internal/config"
	"github.com/sells-group/crime-stats/internal/metrics"
)

var (
	cfg *config.Config
	met *metrics.Metrics
)

var rootCmd = &cobra.Command{
	Use:   "crime-stats",
	Short: "Crime statistics ingestion and aggregation",
	Long:  "Ingests crime CSV/XLSX extracts into normalized incidents, loads population figures, and pre-computes per-capita and year-over-year aggregate statistics.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		met = metrics.New()
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if cfg != nil {
			if err := met.WriteTextfile(cfg.Metrics.TextfilePath); err != nil {
				zap.L().Warn("metrics export failed", zap.Error(err))
			}
		}
		_ = zap.L().Sync()
	},
	SilenceUsage: true,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
