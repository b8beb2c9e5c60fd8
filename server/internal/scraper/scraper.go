package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/clubindex/clubindex/pkg/types"
	"github.com/clubindex/clubindex/server/internal/config"
)

// Error is returned when no snapshot could be produced at all.
type Error struct {
	Op  string // "list" or "scrape"
	URL string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("scraper: %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Scraper fetches the club list and detail pages.
type Scraper struct {
	listURL     *url.URL
	host        string
	concurrency int
	retry       config.RetryConfig
	client      *http.Client
}

// New returns a Scraper for cfg. It builds the HTTP client once and reuses
// it across scrapes.
func New(cfg config.ScraperConfig) (*Scraper, error) {
	u, err := url.Parse(cfg.ListURL)
	if err != nil {
		return nil, fmt.Errorf("scraper: parse list url %q: %w", cfg.ListURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("scraper: list url %q is not absolute", cfg.ListURL)
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.Retry.MaxAttempts < 1 {
		cfg.Retry.MaxAttempts = 1
	}
	return &Scraper{
		listURL:     u,
		host:        cfg.EffectiveHost(),
		concurrency: cfg.Concurrency,
		retry:       cfg.Retry,
		client:      buildHTTPClient(cfg),
	}, nil
}

// List fetches and parses the club list page.
func (s *Scraper) List(ctx context.Context) ([]types.ListItem, error) {
	body, err := s.fetch(ctx, s.listURL.String())
	if err != nil {
		return nil, &Error{Op: "list", URL: s.listURL.String(), Err: err}
	}
	items, err := parseList(body, s.listURL, s.host)
	if err != nil {
		return nil, &Error{Op: "list", URL: s.listURL.String(), Err: err}
	}
	return items, nil
}

// Detail fetches item's page and merges its fields over the list entry.
// The id and url always come from the list entry.
func (s *Scraper) Detail(ctx context.Context, item types.ListItem) (types.Record, error) {
	body, err := s.fetch(ctx, item.URL)
	if err != nil {
		return types.Record{}, fmt.Errorf("fetch %s: %w", item.URL, err)
	}
	d, err := parseDetail(body, s.host)
	if err != nil {
		return types.Record{}, fmt.Errorf("parse %s: %w", item.URL, err)
	}

	rec := types.Record{
		ID:      item.ID,
		Name:    item.Name,
		URL:     item.URL,
		Address: d.Address,
		Phone:   d.Phone,
		Email:   d.Email,
		Website: d.Website,
	}
	if d.Name != "" {
		rec.Name = d.Name
	}
	return rec, nil
}

// ScrapeAll builds a complete snapshot. Clubs whose detail page fails are
// logged and left out.
func (s *Scraper) ScrapeAll(ctx context.Context) (types.Snapshot, error) {
	start := time.Now()
	items, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	var (
		mu     sync.Mutex
		snap   = make(types.Snapshot, len(items))
		failed atomic.Int64
		g      errgroup.Group
	)
	g.SetLimit(s.concurrency)

	for _, item := range items {
		item := item // per-iteration copy (pre-Go 1.22 loop semantics)
		g.Go(func() error {
			rec, err := s.Detail(ctx, item)
			if err != nil {
				failed.Add(1)
				slog.Warn("scraper: skipping club", "id", item.ID, "err", err)
				return nil
			}
			mu.Lock()
			snap[rec.ID] = rec
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, &Error{Op: "scrape", URL: s.listURL.String(), Err: err}
	}

	slog.Info("scraper: scrape complete",
		"listed", len(items),
		"scraped", len(snap),
		"failed", failed.Load(),
		"duration", time.Since(start),
	)
	return snap, nil
}
