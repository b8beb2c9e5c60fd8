package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/clubindex/clubindex/pkg/normalize"
	"github.com/clubindex/clubindex/pkg/types"
	"github.com/clubindex/clubindex/server/internal/freshness"
	"github.com/clubindex/clubindex/server/internal/refresh"
	"github.com/clubindex/clubindex/server/internal/store"
)

var (
	// ErrNotFound is returned by Lookup when no record matches.
	ErrNotFound = errors.New("directory: club not found")
	// ErrNotReady is returned while no snapshot has ever been built and the
	// attempt to build one failed. Callers should retry later.
	ErrNotReady = errors.New("directory: no data available yet")
)

// Refresher is the part of the refresh coordinator the read side drives.
type Refresher interface {
	State() freshness.State
	Rebuild(ctx context.Context) error
	TriggerBackground() bool
	Stats() refresh.Stats
}

// Status summarizes the served snapshot.
type Status struct {
	State       string     `json:"state"`
	Records     int        `json:"records"`
	LastUpdated *time.Time `json:"last_updated,omitempty"`
	AgeSeconds  float64    `json:"age_seconds"`
	Refreshing  bool       `json:"refreshing"`
	LastError   string     `json:"last_error,omitempty"`
}

// Service answers list and lookup queries from the store.
type Service struct {
	store     *store.Store
	refresher Refresher
	now       func() time.Time
}

// New creates a Service reading st and keeping it fresh through r.
func New(st *store.Store, r Refresher) *Service {
	return &Service{store: st, refresher: r, now: time.Now}
}

// WithClock replaces time.Now for age calculations in Status.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// ListAll returns every club ordered by name, case-insensitively, with the
// id breaking ties. An installed but empty snapshot yields an empty slice.
func (s *Service) ListAll(ctx context.Context) ([]types.ListItem, error) {
	if err := s.ensureFresh(ctx); err != nil {
		return nil, err
	}
	snap, _ := s.store.Snapshot()

	items := make([]types.ListItem, 0, len(snap))
	for _, r := range snap {
		items = append(items, r.Item())
	}
	sort.Slice(items, func(i, j int) bool {
		a, b := strings.ToLower(items[i].Name), strings.ToLower(items[j].Name)
		if a != b {
			return a < b
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

// Lookup resolves identifier to a club. It tries, in order: the exact id,
// the slugified identifier as id, and finally any club whose slugified name
// equals the slugified identifier (first by id order).
func (s *Service) Lookup(ctx context.Context, identifier string) (types.Record, error) {
	if err := s.ensureFresh(ctx); err != nil {
		return types.Record{}, err
	}
	snap, _ := s.store.Snapshot()

	if r, ok := snap[identifier]; ok {
		return r, nil
	}
	slug := normalize.Slugify(identifier)
	if slug == "" {
		return types.Record{}, ErrNotFound
	}
	if r, ok := snap[slug]; ok {
		return r, nil
	}

	ids := make([]string, 0, len(snap))
	for id := range snap {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if normalize.Slugify(snap[id].Name) == slug {
			return snap[id], nil
		}
	}
	return types.Record{}, ErrNotFound
}

// Status reports the served snapshot without triggering a refresh.
func (s *Service) Status() Status {
	st := s.refresher.Stats()
	out := Status{
		State:      s.refresher.State().String(),
		Records:    s.store.Count(),
		Refreshing: st.Running,
		LastError:  st.LastError,
	}
	if ts, ok := s.store.LastUpdated(); ok {
		out.LastUpdated = &ts
		out.AgeSeconds = s.now().Sub(ts).Seconds()
	}
	return out
}

// ensureFresh applies the freshness tiers before a read. A reader that gives
// up on an empty or expired snapshot stops waiting; the rebuild it started
// keeps running for everyone else.
func (s *Service) ensureFresh(ctx context.Context) error {
	switch s.refresher.State() {
	case freshness.StateEmpty, freshness.StateExpired:
		err := s.refresher.Rebuild(ctx)
		if err == nil {
			return nil
		}
		if _, ok := s.store.LastUpdated(); !ok {
			return fmt.Errorf("%w: %v", ErrNotReady, err)
		}
		slog.Warn("directory: rebuilding expired snapshot failed, serving previous data", "err", err)
	case freshness.StateStale:
		s.refresher.TriggerBackground()
	}
	return nil
}
