package cmd

import (
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/artikelwerk/hybrid-extractor/internal/catalog"
)

// newImportCmd creates and configures the 'import' subcommand.
func newImportCmd() *cobra.Command {
	var xlsxPath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Imports the master Excel price list into the record store",
		Long: `Reads the master price list workbook and upserts one FROM_EXCEL product
record per article, deriving tiered price schedules from the four price
columns.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runImportCommand(cmd, xlsxPath)
		},
	}
	cmd.Flags().StringVar(&xlsxPath, "xlsx", "", "path to the master price list workbook")
	_ = cmd.MarkFlagRequired("xlsx")
	return cmd
}

func runImportCommand(cmd *cobra.Command, xlsxPath string) error {
	app, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg, logger := app.Config, app.Logger
	ctx := cmd.Context()

	stores, err := requireRecordStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer stores.Close()

	masterList, err := catalog.ImportXLSX(xlsxPath)
	if err != nil {
		return err
	}
	logger.Info("catalog parsed",
		zap.String("path", xlsxPath),
		zap.Int("entries", len(masterList.Entries)),
	)

	count, err := catalog.ImportRecords(ctx, stores.records, masterList, time.Now())
	if err != nil {
		return err
	}
	logger.Info("catalog imported", zap.Int("records", count))
	return nil
}
