package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/aluiziolira/go-scrape-shirts/config"
	"github.com/aluiziolira/go-scrape-shirts/models"
	"github.com/aluiziolira/go-scrape-shirts/parser"
)

const (
	phaseListing = "listing"
	phaseDetail  = "detail"
)

// Scraper discovers item references on the listing page and extracts one
// record per detail page.
type Scraper struct {
	cfg       *config.Config
	base      *url.URL
	transport Transport
	selectors parser.Selectors
	Metrics   *Metrics
	now       func() time.Time
}

// NewScraper builds a scraper backed by a colly transport, cached when
// cfg.CacheSize is positive.
func NewScraper(cfg *config.Config) (*Scraper, error) {
	metrics := NewMetrics()
	httpTransport := NewCollyTransport(cfg, metrics)

	var transport Transport = httpTransport
	if cfg.CacheSize > 0 {
		cached, err := NewCachedTransport(httpTransport, cfg.CacheSize, metrics)
		if err != nil {
			return nil, err
		}
		transport = cached
	}

	return NewScraperWithTransport(cfg, transport, metrics)
}

// NewScraperWithTransport builds a scraper over an arbitrary transport.
func NewScraperWithTransport(cfg *config.Config, transport Transport, metrics *Metrics) (*Scraper, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("base url must include a host")
	}

	return &Scraper{
		cfg:       cfg,
		base:      base,
		transport: transport,
		selectors: parser.Selectors{
			Title: cfg.TitleSelector,
			Price: cfg.PriceSelector,
			Image: cfg.ImageSelector,
		},
		Metrics: metrics,
		now:     time.Now,
	}, nil
}

// ListAllItems fetches the listing page and returns every matching item
// reference in document order. It never returns a partial list.
func (s *Scraper) ListAllItems(ctx context.Context) ([]string, error) {
	s.Metrics.IncRequest(phaseListing)
	body, err := s.transport.Get(ctx, s.cfg.ListingURL)
	if err != nil {
		s.recordError(err)
		return nil, err
	}

	doc, err := parser.Parse(body)
	if err != nil {
		return nil, s.extractionError(s.cfg.ListingURL, err)
	}
	refs, err := parser.ItemURLs(doc, s.base, s.cfg.ItemLinkPrefix)
	if err != nil {
		return nil, s.extractionError(s.cfg.ListingURL, err)
	}

	slog.Debug("listing parsed",
		slog.String("url", s.cfg.ListingURL),
		slog.Int("items", len(refs)),
	)
	return refs, nil
}

// FetchItem fetches one detail page. URL echoes ref; missing fields are
// empty strings.
func (s *Scraper) FetchItem(ctx context.Context, ref string) (*models.Item, error) {
	s.Metrics.IncRequest(phaseDetail)
	body, err := s.transport.Get(ctx, ref)
	if err != nil {
		s.recordError(err)
		return nil, err
	}

	doc, err := parser.Parse(body)
	if err != nil {
		return nil, s.extractionError(ref, err)
	}

	item := parser.ExtractItem(doc, ref, s.selectors, s.cfg.TitlePrefixLen, s.now())
	s.Metrics.IncItems()
	return item, nil
}

func (s *Scraper) extractionError(rawURL string, err error) error {
	wrapped := &ExtractionError{URL: rawURL, Err: err}
	s.recordError(wrapped)
	return wrapped
}

func (s *Scraper) recordError(err error) {
	s.Metrics.IncError(ErrorType(err))
}
