package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"physiostat/adapters/report"
	"physiostat/adapters/spreadsheet"
	"physiostat/adapters/store"
	"physiostat/app"
	"physiostat/internal"
	"physiostat/internal/analysis"
	"physiostat/internal/config"
)

func main() {
	// .env is optional; environment variables win either way.
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "physiostat",
		Short: "Two-stage analysis workflow for the oxidative-stress study",
	}

	rootCmd.AddCommand(
		newTidyCmd(),
		newAnalyzeCmd(),
		newRunCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newTidyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tidy",
		Short: "Reshape the wide spreadsheet into the tidy-table bundle",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			bundleStore, err := store.Open(cfg.Paths.BundleFile)
			if err != nil {
				return err
			}
			defer bundleStore.Close()

			reader := spreadsheet.NewReader(cfg.Paths.InputFile, log)
			svc := app.NewTidyService(reader, bundleStore, cfg.Paths.InputFile, cfg.Analysis.StrictRecode, log)
			_, err = svc.Run(cmd.Context())
			return err
		},
	}
}

func newAnalyzeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze",
		Short: "Fit the persisted bundle and write the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			bundleStore, err := store.Open(cfg.Paths.BundleFile)
			if err != nil {
				return err
			}
			defer bundleStore.Close()

			svc := app.NewAnalysisService(
				bundleStore,
				report.NewFileSink(cfg.Paths.ReportDir),
				analysis.Options{Workers: cfg.Analysis.Workers, Alpha: cfg.Analysis.Alpha},
				log,
			)
			_, err = svc.Run(cmd.Context())
			return err
		},
	}
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run both stages back to back",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			bundleStore, err := store.Open(cfg.Paths.BundleFile)
			if err != nil {
				return err
			}
			defer bundleStore.Close()

			reader := spreadsheet.NewReader(cfg.Paths.InputFile, log)
			tidySvc := app.NewTidyService(reader, bundleStore, cfg.Paths.InputFile, cfg.Analysis.StrictRecode, log)
			if _, err := tidySvc.Run(cmd.Context()); err != nil {
				return err
			}

			analysisSvc := app.NewAnalysisService(
				bundleStore,
				report.NewFileSink(cfg.Paths.ReportDir),
				analysis.Options{Workers: cfg.Analysis.Workers, Alpha: cfg.Analysis.Alpha},
				log,
			)
			_, err = analysisSvc.Run(cmd.Context())
			return err
		},
	}
}

func setup() (*config.Config, *internal.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	return cfg, internal.NewDefaultLogger(), nil
}
