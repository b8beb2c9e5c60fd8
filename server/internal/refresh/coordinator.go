package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/clubindex/clubindex/pkg/types"
	"github.com/clubindex/clubindex/server/internal/freshness"
	"github.com/clubindex/clubindex/server/internal/store"
)

// ErrEmptySnapshot is returned when the scraper succeeds but yields no
// records. The previous snapshot is kept.
var ErrEmptySnapshot = errors.New("refresh: scraper returned no records")

// Scraper produces a complete snapshot or fails as a whole.
type Scraper interface {
	ScrapeAll(ctx context.Context) (types.Snapshot, error)
}

// Persistence loads and saves the snapshot together with its build time.
type Persistence interface {
	Load() (types.Snapshot, time.Time, bool)
	Save(snap types.Snapshot, lastUpdated time.Time) error
}

// Result describes one completed refresh attempt. Attempts skipped because
// the data was already fresh are not reported.
type Result struct {
	Forced     bool
	Background bool
	Started    time.Time
	Duration   time.Duration
	Records    int   // records installed; 0 on failure
	Err        error // scrape failure; the previous snapshot was kept
	PersistErr error // cache file write failure; the new snapshot was kept
}

// OK reports whether the attempt installed a new snapshot.
func (r Result) OK() bool { return r.Err == nil }

// Coordinator decides when to scrape and installs the results.
// All exported methods are safe for concurrent use.
type Coordinator struct {
	scraper Scraper
	store   *store.Store
	persist Persistence
	now     func() time.Time // injectable for deterministic tests

	policy atomic.Pointer[freshness.Policy]

	lock     *semaphore.Weighted // the refresh slot
	running  atomic.Bool
	attempts atomic.Uint64 // completed scrapes, successful or not
	lastErr  error         // outcome of the latest attempt; guarded by lock

	bgMu     sync.Mutex
	bgDone   chan struct{}   // non-nil while a background refresh is outstanding
	bgCtx    context.Context // lifetime of refreshes not owned by a caller
	bgCancel context.CancelFunc
	rebuilds sync.WaitGroup

	obsMu     sync.RWMutex
	observers []func(Result)

	stats statsRecorder
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithPolicy sets the initial TTLs. The default is freshness.DefaultPolicy.
func WithPolicy(p freshness.Policy) Option {
	return func(c *Coordinator) { c.policy.Store(&p) }
}

// New creates a Coordinator that fills st from sc and mirrors it to p.
func New(sc Scraper, st *store.Store, p Persistence, opts ...Option) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		scraper:  sc,
		store:    st,
		persist:  p,
		now:      time.Now,
		lock:     semaphore.NewWeighted(1),
		bgCtx:    ctx,
		bgCancel: cancel,
	}
	def := freshness.DefaultPolicy()
	c.policy.Store(&def)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Policy returns the TTLs currently in effect.
func (c *Coordinator) Policy() freshness.Policy {
	return *c.policy.Load()
}

// SetPolicy replaces the TTLs. It takes effect on the next freshness check.
func (c *Coordinator) SetPolicy(p freshness.Policy) {
	c.policy.Store(&p)
}

// State evaluates the installed snapshot against the current policy.
func (c *Coordinator) State() freshness.State {
	ts, _ := c.store.LastUpdated()
	return c.Policy().Evaluate(ts, c.now())
}

// Running reports whether a refresh is in progress.
func (c *Coordinator) Running() bool {
	return c.running.Load()
}

// Subscribe registers fn to be called after every refresh attempt that ran
// the scraper. fn is called synchronously from the refreshing goroutine while
// the refresh lock is still held; it must not block or call Refresh.
func (c *Coordinator) Subscribe(fn func(Result)) {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()
	c.observers = append(c.observers, fn)
}

// mode selects when a refresh that got the lock actually scrapes.
type mode int

const (
	whenStale   mode = iota // past the soft TTL
	whenExpired             // empty or past the hard TTL
	always
)

// Refresh rebuilds the snapshot. Without force it is a no-op while the data
// is not stale. It blocks while another refresh runs and then reports that
// refresh's outcome instead of scraping again.
//
// The returned error is the scrape failure; the installed snapshot is
// unchanged in that case.
func (c *Coordinator) Refresh(ctx context.Context, force bool) error {
	m := whenStale
	if force {
		m = always
	}
	return c.refresh(ctx, m, false)
}

// Rebuild scrapes if the snapshot is empty or hard-expired once the refresh
// slot is free, and waits for the outcome. The scrape runs on the
// coordinator's own context: when ctx ends Rebuild returns ctx's error, but
// the scrape carries on for the other readers waiting on it. Only Close
// cancels it.
func (c *Coordinator) Rebuild(ctx context.Context) error {
	c.bgMu.Lock()
	if err := c.bgCtx.Err(); err != nil {
		c.bgMu.Unlock()
		return fmt.Errorf("refresh: coordinator closed: %w", err)
	}
	c.rebuilds.Add(1)
	c.bgMu.Unlock()

	errc := make(chan error, 1)
	go func() {
		defer c.rebuilds.Done()
		errc <- c.refresh(c.bgCtx, whenExpired, false)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return fmt.Errorf("refresh: stopped waiting for rebuild: %w", ctx.Err())
	}
}

func (c *Coordinator) refresh(ctx context.Context, m mode, background bool) error {
	seen := c.attempts.Load()
	if err := c.lock.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("refresh: wait for running refresh: %w", err)
	}
	defer c.lock.Release(1)

	if c.attempts.Load() != seen {
		slog.Debug("refresh: another refresh finished while waiting, skipping")
		if c.lastErr != nil {
			return fmt.Errorf("refresh: %w", c.lastErr)
		}
		return nil
	}
	// A refresh that finished between the caller's freshness check and
	// loading seen is caught here.
	ts, _ := c.store.LastUpdated()
	switch m {
	case whenStale:
		if !c.Policy().IsStale(ts, c.now()) {
			return nil
		}
	case whenExpired:
		if !c.Policy().IsHardExpired(ts, c.now()) {
			return nil
		}
	}

	c.running.Store(true)
	res, err := c.run(ctx, m != whenStale, background)
	c.running.Store(false)

	if !c.shutdown(res.Err) {
		c.publish(res)
	}
	return err
}

// shutdown reports whether err is the cancellation Close causes. Such an
// attempt is neither counted nor published.
func (c *Coordinator) shutdown(err error) bool {
	return err != nil && errors.Is(err, context.Canceled) && c.bgCtx.Err() != nil
}

// run performs one attempt. The caller holds the refresh lock.
func (c *Coordinator) run(ctx context.Context, force, background bool) (Result, error) {
	res := Result{Forced: force, Background: background, Started: c.now()}
	slog.Info("refresh: scraping", "forced", force, "background", background)

	snap, err := c.scrape(ctx)
	if err == nil && len(snap) == 0 {
		err = ErrEmptySnapshot
	}
	c.lastErr = err
	defer c.attempts.Add(1)

	if err != nil {
		res.Duration = c.now().Sub(res.Started)
		res.Err = err
		if c.shutdown(err) {
			slog.Info("refresh: scrape cancelled by shutdown", "duration", res.Duration)
			return res, fmt.Errorf("refresh: %w", err)
		}
		c.stats.failure(res)
		slog.Warn("refresh: scrape failed, keeping previous snapshot",
			"records", c.store.Count(),
			"duration", res.Duration,
			"err", err,
		)
		return res, fmt.Errorf("refresh: %w", err)
	}

	at := c.now().UTC()
	c.store.Replace(snap, at)

	res.Records = len(snap)
	res.Duration = at.Sub(res.Started)
	if err := c.persist.Save(snap, at); err != nil {
		res.PersistErr = err
		slog.Error("refresh: could not persist snapshot, serving it from memory only", "err", err)
	}
	c.stats.success(res)
	slog.Info("refresh: snapshot installed",
		"records", res.Records,
		"duration", res.Duration,
		"last_updated", at,
	)
	return res, nil
}

// scrape calls the scraper and turns a panic into an error so one broken
// page layout cannot take the process down.
func (c *Coordinator) scrape(ctx context.Context) (snap types.Snapshot, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scraper panicked: %v", r)
		}
	}()
	return c.scraper.ScrapeAll(ctx)
}

// TriggerBackground schedules Refresh(force=false) on a detached goroutine
// and returns true. It returns false without scheduling anything if a
// background refresh is already outstanding, a refresh is running, or the
// coordinator is closed. Errors are logged, never returned.
func (c *Coordinator) TriggerBackground() bool {
	c.bgMu.Lock()
	defer c.bgMu.Unlock()

	if c.bgDone != nil || c.running.Load() || c.bgCtx.Err() != nil {
		return false
	}
	done := make(chan struct{})
	c.bgDone = done

	go func() {
		defer func() {
			c.bgMu.Lock()
			c.bgDone = nil
			c.bgMu.Unlock()
			close(done)
		}()
		if err := c.refresh(c.bgCtx, whenStale, true); err != nil {
			slog.Debug("refresh: background refresh failed", "err", err)
		}
	}()
	return true
}

// Wait blocks until the outstanding background refresh, if any, completes.
func (c *Coordinator) Wait() {
	c.bgMu.Lock()
	done := c.bgDone
	c.bgMu.Unlock()
	if done != nil {
		<-done
	}
}

// Close cancels outstanding background refreshes and rebuilds, waits for
// them and stops accepting new ones.
func (c *Coordinator) Close() {
	c.bgMu.Lock()
	c.bgCancel()
	c.bgMu.Unlock()
	c.Wait()
	c.rebuilds.Wait()
}

// LoadInitial fills the store at startup. A usable cache file is adopted
// even if it is stale, and a background refresh is started for it. Without
// one, LoadInitial scrapes synchronously and returns the scrape error, if any.
func (c *Coordinator) LoadInitial(ctx context.Context) error {
	snap, ts, ok := c.persist.Load()
	if ok && len(snap) > 0 {
		if err := c.lock.Acquire(ctx, 1); err != nil {
			return fmt.Errorf("refresh: wait for running refresh: %w", err)
		}
		c.store.Replace(snap, ts)
		c.lock.Release(1)

		state := c.State()
		slog.Info("refresh: loaded cached snapshot",
			"records", len(snap),
			"last_updated", ts,
			"state", state.String(),
		)
		if state != freshness.StateFresh {
			c.TriggerBackground()
		}
		return nil
	}

	slog.Info("refresh: no usable cache, building snapshot before serving")
	return c.Refresh(ctx, true)
}

// Run triggers a background refresh whenever the snapshot is found stale on
// an interval tick, so idle periods do not leave data to age unnoticed.
// Run blocks until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if c.State() == freshness.StateFresh {
				continue
			}
			if c.TriggerBackground() {
				slog.Debug("refresh: periodic check started background refresh")
			}
		}
	}
}

func (c *Coordinator) publish(res Result) {
	c.obsMu.RLock()
	obs := make([]func(Result), len(c.observers))
	copy(obs, c.observers)
	c.obsMu.RUnlock()

	for _, fn := range obs {
		fn(res)
	}
}
