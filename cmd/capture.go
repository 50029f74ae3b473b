package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/artikelwerk/hybrid-extractor/internal/metrics"
)

// newCaptureCmd creates and configures the 'capture' subcommand.
func newCaptureCmd() *cobra.Command {
	var (
		urls     []string
		urlsFile string
		outDir   string
	)
	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Captures product pages into article folders",
		Long: `Fetches the given product page URLs, promotes JavaScript-rendered shops
to a headless browser, and writes one article folder per page: the DOM
sidecar plus, for rendered pages, the element screenshots the extraction
pipeline reads.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCaptureCommand(cmd, urls, urlsFile, outDir)
		},
	}
	cmd.Flags().StringSliceVar(&urls, "url", nil, "product page URL (repeatable)")
	cmd.Flags().StringVar(&urlsFile, "urls-file", "", "file with one product page URL per line")
	cmd.Flags().StringVar(&outDir, "out", "", "output directory (default capture.output_dir)")
	return cmd
}

func runCaptureCommand(cmd *cobra.Command, urls []string, urlsFile, outDir string) error {
	app, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg, logger := app.Config, app.Logger

	metrics.Init()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if urlsFile != "" {
		fromFile, err := readURLList(urlsFile)
		if err != nil {
			return err
		}
		urls = append(urls, fromFile...)
	}
	if len(urls) == 0 {
		return errors.New("no URLs given: use --url or --urls-file")
	}
	if outDir != "" {
		cfg.Capture.OutputDir = outDir
	}

	service, cleanup := buildCaptureService(cfg, logger)
	defer cleanup()

	dirs, err := service.CaptureAll(ctx, urls)
	if err != nil {
		return err
	}
	logger.Info("capture finished",
		zap.Int("requested", len(urls)),
		zap.Int("captured", len(dirs)),
		zap.String("output_dir", cfg.Capture.OutputDir),
	)
	if len(dirs) < len(urls) {
		return fmt.Errorf("%d of %d pages failed", len(urls)-len(dirs), len(urls))
	}
	return nil
}

// readURLList loads one URL per line, skipping blanks and # comments.
func readURLList(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read url list: %w", err)
	}
	var urls []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	return urls, nil
}
