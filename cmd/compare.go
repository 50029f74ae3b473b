package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/artikelwerk/hybrid-extractor/internal/catalog"
	"github.com/artikelwerk/hybrid-extractor/internal/store"
)

// newCompareCmd creates and configures the 'compare' subcommand.
func newCompareCmd() *cobra.Command {
	var (
		xlsxPath string
		jsonOut  bool
		mark     bool
	)
	cmd := &cobra.Command{
		Use:   "compare",
		Short: "Compares the Excel price list against the extracted shop records",
		Long: `Builds a three-way report: catalog articles missing from the shop, shop
articles missing from the catalog, and prices differing by more than 0.5%.
With --mark-shop-only, articles absent from the catalog are reclassified
as SHOP_ONLY in the record store.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCompareCommand(cmd, xlsxPath, jsonOut, mark)
		},
	}
	cmd.Flags().StringVar(&xlsxPath, "xlsx", "", "path to the master price list workbook")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the full report as JSON")
	cmd.Flags().BoolVar(&mark, "mark-shop-only", false, "flag articles absent from the catalog as SHOP_ONLY")
	_ = cmd.MarkFlagRequired("xlsx")
	return cmd
}

func runCompareCommand(cmd *cobra.Command, xlsxPath string, jsonOut, mark bool) error {
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

	records, err := listAllRecords(ctx, stores.records)
	if err != nil {
		return err
	}

	report := catalog.Compare(masterList, records)

	if mark {
		marked, err := catalog.MarkShopOnly(ctx, stores.records, report)
		if err != nil {
			return err
		}
		logger.Info("shop-only articles flagged", zap.Int("marked", marked))
	}

	out := cmd.OutOrStdout()
	if jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	fmt.Fprintf(out, "catalog articles:  %d\n", report.TotalCatalog)
	fmt.Fprintf(out, "shop records:      %d\n", report.TotalShop)
	fmt.Fprintf(out, "found in both:     %d (%.1f%%)\n", report.InBoth, report.CoveragePercent)
	fmt.Fprintf(out, "missing from shop: %d\n", len(report.MissingFromShop))
	fmt.Fprintf(out, "shop only:         %d\n", len(report.ShopOnly))
	fmt.Fprintf(out, "price mismatches:  %d\n", len(report.PriceMismatches))
	for _, mismatch := range report.PriceMismatches {
		fmt.Fprintf(out, "  %s: list %s, shop %s (%.2f%% off)\n",
			mismatch.ArticleNumber, mismatch.ListPrice, mismatch.ShopPrice, mismatch.DeltaPercent)
	}
	return nil
}

// listAllRecords pages through the record store; the comparison needs the
// full shop inventory.
func listAllRecords(ctx context.Context, repo store.RecordRepository) ([]store.ProductRecord, error) {
	const pageSize = 500
	var all []store.ProductRecord
	for offset := 0; ; offset += pageSize {
		page, err := repo.ListRecords(ctx, nil, pageSize, offset)
		if err != nil {
			return nil, fmt.Errorf("list records: %w", err)
		}
		all = append(all, page...)
		if len(page) < pageSize {
			return all, nil
		}
	}
}
