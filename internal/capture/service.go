// Package capture turns live product pages into the article folders the
// extraction pipeline consumes: a DOM sidecar plus, for rendered pages,
// the role screenshots.
package capture

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/artikelwerk/hybrid-extractor/internal/dom"
	"github.com/artikelwerk/hybrid-extractor/internal/extraction"
	"github.com/artikelwerk/hybrid-extractor/internal/metrics"
	"github.com/artikelwerk/hybrid-extractor/internal/textnorm"
)

// Renderer runs a full browser session and clips one screenshot per
// image role whose selector matched.
type Renderer interface {
	Render(
		ctx context.Context,
		request extraction.FetchRequest,
		clips map[extraction.ImageRole][]string,
	) (extraction.FetchResponse, map[extraction.ImageRole][]byte, error)
}

// Limiter throttles page fetches per domain.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Config controls where article folders land and how many pages are
// captured at once.
type Config struct {
	OutputDir   string
	MaxParallel int
}

// Service captures product pages into article folders.
type Service struct {
	probe     extraction.Fetcher
	renderer  Renderer
	detector  extraction.HeadlessDetector
	limiter   Limiter
	extractor *dom.Extractor
	clock     extraction.Clock
	cfg       Config
	logger    *zap.Logger
}

// New builds a capture service. Renderer, detector, and limiter may be
// nil; without a detector no page is ever promoted to the browser.
func New(
	probe extraction.Fetcher,
	renderer Renderer,
	detector extraction.HeadlessDetector,
	limiter Limiter,
	clock extraction.Clock,
	cfg Config,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		probe:     probe,
		renderer:  renderer,
		detector:  detector,
		limiter:   limiter,
		extractor: dom.New(),
		clock:     clock,
		cfg:       cfg,
		logger:    logger.Named("capture"),
	}
}

// CaptureArticle fetches one product page and materializes its article
// folder. Static pages get a sidecar only; promoted pages additionally
// get the element screenshots the renderer managed to clip. It returns
// the folder path.
func (s *Service) CaptureArticle(ctx context.Context, pageURL string) (string, error) {
	if err := s.wait(ctx, pageURL); err != nil {
		return "", err
	}

	resp, err := s.probe.Fetch(ctx, extraction.FetchRequest{URL: pageURL})
	if err != nil {
		return "", fmt.Errorf("probe fetch: %w", err)
	}
	metrics.ObserveCaptureFetch("probe", resp.StatusCode)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("probe fetch returned status %d", resp.StatusCode)
	}

	var shots map[extraction.ImageRole][]byte
	if s.detector != nil && s.renderer != nil && s.detector.ShouldPromote(resp) {
		if err := s.wait(ctx, pageURL); err != nil {
			return "", err
		}
		rendered, clips, err := s.renderer.Render(ctx, extraction.FetchRequest{URL: pageURL}, dom.RoleSelectors())
		if err != nil {
			return "", fmt.Errorf("headless render: %w", err)
		}
		metrics.ObserveCaptureFetch("headless", rendered.StatusCode)
		resp = rendered
		shots = clips
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return "", fmt.Errorf("parse document: %w", err)
	}

	product, confidence := s.extractor.Extract(doc)
	if product.ArticleNumber == "" {
		return "", fmt.Errorf("page %s yielded no article number", pageURL)
	}

	dir := filepath.Join(s.cfg.OutputDir, folderName(product.ArticleNumber, variantSuffix(doc)))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create article folder: %w", err)
	}

	sidecar := extraction.NewSidecar(product, confidence, s.clock.Now())
	if err := extraction.WriteSidecar(dir, sidecar); err != nil {
		return "", err
	}

	for role, shot := range shots {
		if err := writeFileAtomic(filepath.Join(dir, role.Filename()), shot); err != nil {
			return "", fmt.Errorf("write %s: %w", role.Filename(), err)
		}
	}

	s.logger.Info("captured article",
		zap.String("article_number", product.ArticleNumber),
		zap.String("dir", dir),
		zap.Bool("rendered", resp.UsedHeadless),
		zap.Int("screenshots", len(shots)),
	)
	return dir, nil
}

// CaptureAll walks the URL list with bounded parallelism. Per-page
// failures are logged and skipped so one broken page cannot sink a whole
// run; the returned error reports cancellation only.
func (s *Service) CaptureAll(ctx context.Context, urls []string) ([]string, error) {
	group, groupCtx := errgroup.WithContext(ctx)
	limit := s.cfg.MaxParallel
	if limit <= 0 {
		limit = 1
	}
	group.SetLimit(limit)

	var (
		mu   sync.Mutex
		dirs []string
	)
	for _, pageURL := range urls {
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return fmt.Errorf("capture canceled: %w", err)
			}
			dir, err := s.CaptureArticle(groupCtx, pageURL)
			if err != nil {
				s.logger.Warn("capture failed", zap.String("url", pageURL), zap.Error(err))
				return nil
			}
			mu.Lock()
			dirs = append(dirs, dir)
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return dirs, err
	}
	sort.Strings(dirs)
	return dirs, nil
}

func (s *Service) wait(ctx context.Context, pageURL string) error {
	if s.limiter == nil {
		return nil
	}
	return s.limiter.Wait(ctx, pageURL)
}

// variantSelectors find the chosen variant label on configurator pages;
// its slug keeps sibling variant folders apart.
var variantSelectors = []string{
	".product-detail-configurator-option-label.is-active",
	".product-detail-variant",
}

func variantSuffix(doc *goquery.Document) string {
	for _, selector := range variantSelectors {
		el := doc.Find(selector).First()
		if el.Length() == 0 {
			continue
		}
		if slug := slugify(el.Text()); slug != "" {
			return slug
		}
	}
	return ""
}

// folderName keeps an already-suffixed article number as is; a bare
// number gains the variant slug when the page shows one.
func folderName(articleNumber, suffix string) string {
	if suffix == "" || strings.Contains(articleNumber, "-") {
		return articleNumber
	}
	return articleNumber + "-" + suffix
}

var umlautSlugs = strings.NewReplacer("ä", "ae", "ö", "oe", "ü", "ue", "ß", "ss")

// slugify reduces a variant label to a folder-safe matchcode suffix.
func slugify(s string) string {
	s = umlautSlugs.Replace(strings.ToLower(textnorm.CleanText(s)))
	var b strings.Builder
	lastDash := true
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}

// writeFileAtomic mirrors the sidecar writer's temp-plus-rename shape so
// a watcher never sees a half-written screenshot.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
