package refresh

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/clubindex/clubindex/pkg/types"
	"github.com/clubindex/clubindex/server/internal/freshness"
	"github.com/clubindex/clubindex/server/internal/store"
)

// ── fakes ─────────────────────────────────────────────────────────────────────

type fakeScraper struct {
	calls   atomic.Int32
	started chan struct{} // receives one value per call, if non-nil
	release chan struct{} // each call blocks until closed, if non-nil

	mu   sync.Mutex
	snap types.Snapshot
	err  error
}

func (f *fakeScraper) set(snap types.Snapshot, err error) {
	f.mu.Lock()
	f.snap, f.err = snap, err
	f.mu.Unlock()
}

func (f *fakeScraper) ScrapeAll(ctx context.Context) (types.Snapshot, error) {
	f.calls.Add(1)
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap, f.err
}

type fakePersist struct {
	mu      sync.Mutex
	snap    types.Snapshot
	ts      time.Time
	has     bool
	saveErr error
	saves   int
}

func (p *fakePersist) Load() (types.Snapshot, time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snap, p.ts, p.has
}

func (p *fakePersist) Save(snap types.Snapshot, ts time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.saves++
	if p.saveErr != nil {
		return p.saveErr
	}
	p.snap, p.ts, p.has = snap, ts, true
	return nil
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func club(id, name string) types.Record {
	return types.Record{ID: id, Name: name, URL: "https://www.hfv.de/vereine/" + id + "/"}
}

func snapOf(ids ...string) types.Snapshot {
	s := types.Snapshot{}
	for _, id := range ids {
		s[id] = club(id, id)
	}
	return s
}

type fixture struct {
	sc    *fakeScraper
	st    *store.Store
	p     *fakePersist
	clk   *clock
	coord *Coordinator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		sc:  &fakeScraper{snap: snapOf("alpha", "bravo")},
		st:  store.New(),
		p:   &fakePersist{},
		clk: &clock{t: epoch},
	}
	f.coord = New(f.sc, f.st, f.p, WithClock(f.clk.Now))
	t.Cleanup(f.coord.Close)
	return f
}

// ── Refresh ───────────────────────────────────────────────────────────────────

func TestRefresh_FreshDataIsNoOp(t *testing.T) {
	f := newFixture(t)
	f.st.Replace(snapOf("old"), epoch.Add(-time.Hour))

	if err := f.coord.Refresh(context.Background(), false); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if n := f.sc.calls.Load(); n != 0 {
		t.Errorf("scrapes: got %d, want 0", n)
	}
	if _, ok := f.st.Get("old"); !ok {
		t.Error("fresh snapshot was replaced")
	}
}

func TestRefresh_StaleThenIdempotent(t *testing.T) {
	f := newFixture(t)
	f.st.Replace(snapOf("old"), epoch.Add(-25*time.Hour))

	for i := 0; i < 3; i++ {
		if err := f.coord.Refresh(context.Background(), false); err != nil {
			t.Fatalf("Refresh #%d: %v", i, err)
		}
	}
	if n := f.sc.calls.Load(); n != 1 {
		t.Errorf("scrapes: got %d, want 1", n)
	}
	if n := f.st.Count(); n != 2 {
		t.Errorf("Count: got %d, want 2", n)
	}
	ts, _ := f.st.LastUpdated()
	if !ts.Equal(epoch) {
		t.Errorf("LastUpdated: got %v, want %v", ts, epoch)
	}
}

func TestRefresh_ForceAlwaysScrapes(t *testing.T) {
	f := newFixture(t)
	f.st.Replace(snapOf("old"), epoch)

	for i := 0; i < 2; i++ {
		if err := f.coord.Refresh(context.Background(), true); err != nil {
			t.Fatalf("Refresh: %v", err)
		}
	}
	if n := f.sc.calls.Load(); n != 2 {
		t.Errorf("scrapes: got %d, want 2", n)
	}
}

func TestRefresh_PersistsInstalledSnapshot(t *testing.T) {
	f := newFixture(t)

	if err := f.coord.Refresh(context.Background(), true); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	snap, ts, ok := f.p.Load()
	if !ok {
		t.Fatal("nothing persisted")
	}
	if len(snap) != 2 {
		t.Errorf("persisted records: got %d, want 2", len(snap))
	}
	memTS, _ := f.st.LastUpdated()
	if !ts.Equal(memTS) {
		t.Errorf("persisted ts %v differs from store ts %v", ts, memTS)
	}
}

func TestRefresh_FailureKeepsPreviousSnapshot(t *testing.T) {
	f := newFixture(t)
	old := epoch.Add(-48 * time.Hour)
	f.st.Replace(snapOf("old"), old)
	boom := errors.New("list page unreachable")
	f.sc.set(nil, boom)

	err := f.coord.Refresh(context.Background(), true)
	if !errors.Is(err, boom) {
		t.Fatalf("Refresh error: got %v, want %v", err, boom)
	}
	if _, ok := f.st.Get("old"); !ok {
		t.Error("previous snapshot lost after failed scrape")
	}
	ts, _ := f.st.LastUpdated()
	if !ts.Equal(old) {
		t.Errorf("LastUpdated: got %v, want unchanged %v", ts, old)
	}
	if f.p.saves != 0 {
		t.Errorf("saves: got %d, want 0", f.p.saves)
	}
	s := f.coord.Stats()
	if s.Failures != 1 || s.Successes != 0 {
		t.Errorf("stats: got %d failures / %d successes, want 1 / 0", s.Failures, s.Successes)
	}
	if s.LastError == "" {
		t.Error("LastError: expected message")
	}
}

func TestRefresh_EmptyResultIsFailure(t *testing.T) {
	f := newFixture(t)
	f.st.Replace(snapOf("old"), epoch.Add(-48*time.Hour))
	f.sc.set(types.Snapshot{}, nil)

	err := f.coord.Refresh(context.Background(), true)
	if !errors.Is(err, ErrEmptySnapshot) {
		t.Fatalf("Refresh error: got %v, want ErrEmptySnapshot", err)
	}
	if n := f.st.Count(); n != 1 {
		t.Errorf("Count: got %d, want 1 (previous snapshot)", n)
	}
}

func TestRefresh_PersistFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	f.p.saveErr = errors.New("disk full")

	if err := f.coord.Refresh(context.Background(), true); err != nil {
		t.Fatalf("Refresh: got %v, want nil despite persist failure", err)
	}
	if n := f.st.Count(); n != 2 {
		t.Errorf("Count: got %d, want 2", n)
	}
	s := f.coord.Stats()
	if s.PersistFailures != 1 {
		t.Errorf("PersistFailures: got %d, want 1", s.PersistFailures)
	}
	if s.Successes != 1 {
		t.Errorf("Successes: got %d, want 1", s.Successes)
	}
}

func TestRefresh_ScraperPanicBecomesError(t *testing.T) {
	f := newFixture(t)
	coord := New(panicScraper{}, f.st, f.p, WithClock(f.clk.Now))
	defer coord.Close()

	if err := coord.Refresh(context.Background(), true); err == nil {
		t.Fatal("expected error from panicking scraper")
	}
	if coord.Running() {
		t.Error("Running: still true after failed refresh")
	}
}

type panicScraper struct{}

func (panicScraper) ScrapeAll(context.Context) (types.Snapshot, error) {
	panic("unexpected markup")
}

func TestRefresh_WaiterDoesNotDuplicateWork(t *testing.T) {
	f := newFixture(t)
	f.sc.started = make(chan struct{}, 4)
	f.sc.release = make(chan struct{})

	firstDone := make(chan error, 1)
	go func() { firstDone <- f.coord.Refresh(context.Background(), true) }()
	<-f.sc.started

	secondDone := make(chan error, 1)
	go func() { secondDone <- f.coord.Refresh(context.Background(), true) }()
	time.Sleep(50 * time.Millisecond) // let the second caller queue on the lock

	if !f.coord.Running() {
		t.Error("Running: got false while scrape is blocked")
	}
	close(f.sc.release)

	for i, ch := range []chan error{firstDone, secondDone} {
		select {
		case err := <-ch:
			if err != nil {
				t.Errorf("caller %d: %v", i+1, err)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("caller %d did not return", i+1)
		}
	}
	if n := f.sc.calls.Load(); n != 1 {
		t.Errorf("scrapes: got %d, want 1", n)
	}
}

func TestRefresh_WaiterSharesFailure(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("upstream 503")
	f.sc.set(nil, boom)
	f.sc.started = make(chan struct{}, 4)
	f.sc.release = make(chan struct{})

	firstDone := make(chan error, 1)
	go func() { firstDone <- f.coord.Refresh(context.Background(), true) }()
	<-f.sc.started

	secondDone := make(chan error, 1)
	go func() { secondDone <- f.coord.Refresh(context.Background(), true) }()
	time.Sleep(50 * time.Millisecond)
	close(f.sc.release)

	for i, ch := range []chan error{firstDone, secondDone} {
		if err := <-ch; !errors.Is(err, boom) {
			t.Errorf("caller %d: got %v, want %v", i+1, err, boom)
		}
	}
	if n := f.sc.calls.Load(); n != 1 {
		t.Errorf("scrapes: got %d, want 1", n)
	}
}

func TestRefresh_ContextCancelledWhileWaiting(t *testing.T) {
	f := newFixture(t)
	f.sc.started = make(chan struct{}, 1)
	f.sc.release = make(chan struct{})
	defer close(f.sc.release)

	go f.coord.Refresh(context.Background(), true) //nolint:errcheck
	<-f.sc.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := f.coord.Refresh(ctx, true); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Refresh: got %v, want context.DeadlineExceeded", err)
	}
}

// ── Rebuild ───────────────────────────────────────────────────────────────────

func TestRebuild_EmptySnapshotScrapes(t *testing.T) {
	f := newFixture(t)

	if err := f.coord.Rebuild(context.Background()); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if n := f.sc.calls.Load(); n != 1 {
		t.Errorf("scrapes: got %d, want 1", n)
	}
	if f.st.Count() != 2 {
		t.Errorf("records: got %d, want 2", f.st.Count())
	}
}

func TestRebuild_NoScrapeUnlessExpired(t *testing.T) {
	for _, age := range []time.Duration{time.Hour, 25 * time.Hour} {
		f := newFixture(t)
		f.st.Replace(snapOf("old"), epoch.Add(-age))

		if err := f.coord.Rebuild(context.Background()); err != nil {
			t.Fatalf("Rebuild(age %v): %v", age, err)
		}
		if n := f.sc.calls.Load(); n != 0 {
			t.Errorf("age %v: scrapes: got %d, want 0", age, n)
		}
	}
}

func TestRebuild_CallerGivingUpDoesNotCancelScrape(t *testing.T) {
	f := newFixture(t)
	f.st.Replace(snapOf("old"), epoch.Add(-8*24*time.Hour))
	f.sc.started = make(chan struct{}, 4)
	f.sc.release = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	impatient := make(chan error, 1)
	go func() { impatient <- f.coord.Rebuild(ctx) }()
	<-f.sc.started

	patient := make(chan error, 1)
	go func() { patient <- f.coord.Rebuild(context.Background()) }()

	cancel()
	if err := <-impatient; !errors.Is(err, context.Canceled) {
		t.Errorf("impatient caller: got %v, want context.Canceled", err)
	}
	close(f.sc.release)

	select {
	case err := <-patient:
		if err != nil {
			t.Errorf("patient caller: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("patient caller did not return")
	}
	if _, ok := f.st.Get("alpha"); !ok {
		t.Error("rebuild was not installed after its first caller left")
	}
	if n := f.sc.calls.Load(); n != 1 {
		t.Errorf("scrapes: got %d, want 1", n)
	}
	if s := f.coord.Stats(); s.Failures != 0 {
		t.Errorf("Failures: got %d, want 0", s.Failures)
	}
}

func TestRebuild_AfterClose(t *testing.T) {
	f := newFixture(t)
	f.coord.Close()

	if err := f.coord.Rebuild(context.Background()); !errors.Is(err, context.Canceled) {
		t.Errorf("Rebuild after Close: got %v, want context.Canceled", err)
	}
	if n := f.sc.calls.Load(); n != 0 {
		t.Errorf("scrapes: got %d, want 0", n)
	}
}

// ── TriggerBackground ─────────────────────────────────────────────────────────

func TestTriggerBackground_SingleFlight(t *testing.T) {
	f := newFixture(t)
	f.st.Replace(snapOf("old"), epoch.Add(-25*time.Hour))
	f.sc.started = make(chan struct{}, 16)
	f.sc.release = make(chan struct{})

	var scheduled atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if f.coord.TriggerBackground() {
				scheduled.Add(1)
			}
		}()
	}
	wg.Wait()
	<-f.sc.started

	// Readers arriving while the refresh runs must not start another one.
	for i := 0; i < 5; i++ {
		if f.coord.TriggerBackground() {
			scheduled.Add(1)
		}
	}
	close(f.sc.release)
	f.coord.Wait()

	if n := scheduled.Load(); n != 1 {
		t.Errorf("scheduled: got %d, want 1", n)
	}
	if n := f.sc.calls.Load(); n != 1 {
		t.Errorf("scrapes: got %d, want 1", n)
	}
	if _, ok := f.st.Get("alpha"); !ok {
		t.Error("background refresh did not install new snapshot")
	}
}

func TestTriggerBackground_CanRunAgainAfterCompletion(t *testing.T) {
	f := newFixture(t)
	f.st.Replace(snapOf("old"), epoch.Add(-25*time.Hour))

	if !f.coord.TriggerBackground() {
		t.Fatal("first trigger: got false, want true")
	}
	f.coord.Wait()

	f.clk.Advance(25 * time.Hour)
	if !f.coord.TriggerBackground() {
		t.Fatal("second trigger: got false, want true")
	}
	f.coord.Wait()

	if n := f.sc.calls.Load(); n != 2 {
		t.Errorf("scrapes: got %d, want 2", n)
	}
}

func TestTriggerBackground_FailureIsSwallowed(t *testing.T) {
	f := newFixture(t)
	f.st.Replace(snapOf("old"), epoch.Add(-25*time.Hour))
	f.sc.set(nil, errors.New("timeout"))

	f.coord.TriggerBackground()
	f.coord.Wait()

	if _, ok := f.st.Get("old"); !ok {
		t.Error("previous snapshot lost after failed background refresh")
	}
	if s := f.coord.Stats(); s.Failures != 1 {
		t.Errorf("Failures: got %d, want 1", s.Failures)
	}
}

func TestTriggerBackground_AfterClose(t *testing.T) {
	f := newFixture(t)
	f.coord.Close()
	if f.coord.TriggerBackground() {
		t.Error("TriggerBackground after Close: got true, want false")
	}
}

func TestClose_CancelledRefreshIsNotAFailure(t *testing.T) {
	f := newFixture(t)
	f.st.Replace(snapOf("old"), epoch.Add(-25*time.Hour))
	f.sc.started = make(chan struct{}, 1)
	f.sc.release = make(chan struct{})
	defer close(f.sc.release)

	var published atomic.Int32
	f.coord.Subscribe(func(Result) { published.Add(1) })

	f.coord.TriggerBackground()
	<-f.sc.started
	f.coord.Close()

	if s := f.coord.Stats(); s.Failures != 0 || s.LastError != "" {
		t.Errorf("stats after shutdown: got %d failures, last error %q, want none", s.Failures, s.LastError)
	}
	if n := published.Load(); n != 0 {
		t.Errorf("published results: got %d, want 0", n)
	}
	if _, ok := f.st.Get("old"); !ok {
		t.Error("previous snapshot lost on shutdown")
	}
}

// ── LoadInitial ───────────────────────────────────────────────────────────────

func TestLoadInitial_NoCacheForcesOneRefresh(t *testing.T) {
	f := newFixture(t)

	if err := f.coord.LoadInitial(context.Background()); err != nil {
		t.Fatalf("LoadInitial: %v", err)
	}
	if n := f.sc.calls.Load(); n != 1 {
		t.Errorf("scrapes: got %d, want 1", n)
	}
	if n := f.st.Count(); n != 2 {
		t.Errorf("Count: got %d, want 2", n)
	}
	if f.p.saves != 1 {
		t.Errorf("saves: got %d, want 1", f.p.saves)
	}
}

func TestLoadInitial_FreshCacheNoScrape(t *testing.T) {
	f := newFixture(t)
	f.p.snap, f.p.ts, f.p.has = snapOf("cached"), epoch.Add(-time.Hour), true

	if err := f.coord.LoadInitial(context.Background()); err != nil {
		t.Fatalf("LoadInitial: %v", err)
	}
	f.coord.Wait()
	if n := f.sc.calls.Load(); n != 0 {
		t.Errorf("scrapes: got %d, want 0", n)
	}
	if _, ok := f.st.Get("cached"); !ok {
		t.Error("cached snapshot not installed")
	}
	ts, _ := f.st.LastUpdated()
	if !ts.Equal(epoch.Add(-time.Hour)) {
		t.Errorf("LastUpdated: got %v, want cache timestamp", ts)
	}
}

func TestLoadInitial_StaleCacheServedThenRefreshed(t *testing.T) {
	f := newFixture(t)
	f.p.snap, f.p.ts, f.p.has = snapOf("cached"), epoch.Add(-30*time.Hour), true
	f.sc.release = make(chan struct{})

	if err := f.coord.LoadInitial(context.Background()); err != nil {
		t.Fatalf("LoadInitial: %v", err)
	}
	if _, ok := f.st.Get("cached"); !ok {
		t.Error("stale cache not installed before background refresh")
	}
	close(f.sc.release)
	f.coord.Wait()

	if n := f.sc.calls.Load(); n != 1 {
		t.Errorf("scrapes: got %d, want 1", n)
	}
	if _, ok := f.st.Get("alpha"); !ok {
		t.Error("background refresh did not replace stale cache")
	}
}

func TestLoadInitial_EmptyCacheRefreshes(t *testing.T) {
	f := newFixture(t)
	f.p.snap, f.p.ts, f.p.has = types.Snapshot{}, epoch, true

	if err := f.coord.LoadInitial(context.Background()); err != nil {
		t.Fatalf("LoadInitial: %v", err)
	}
	if n := f.sc.calls.Load(); n != 1 {
		t.Errorf("scrapes: got %d, want 1", n)
	}
}

func TestLoadInitial_ScrapeFailureReturned(t *testing.T) {
	f := newFixture(t)
	f.sc.set(nil, errors.New("dns failure"))

	if err := f.coord.LoadInitial(context.Background()); err == nil {
		t.Fatal("LoadInitial: expected error")
	}
	if _, ok := f.st.LastUpdated(); ok {
		t.Error("store populated after failed initial scrape")
	}
}

// ── policy, observers, Run ────────────────────────────────────────────────────

func TestState(t *testing.T) {
	f := newFixture(t)
	if got := f.coord.State(); got != freshness.StateEmpty {
		t.Errorf("empty store: got %v, want empty", got)
	}
	f.st.Replace(snapOf("a"), epoch)
	if got := f.coord.State(); got != freshness.StateFresh {
		t.Errorf("new data: got %v, want fresh", got)
	}
	f.clk.Advance(25 * time.Hour)
	if got := f.coord.State(); got != freshness.StateStale {
		t.Errorf("after 25h: got %v, want stale", got)
	}
	f.clk.Advance(7 * 24 * time.Hour)
	if got := f.coord.State(); got != freshness.StateExpired {
		t.Errorf("after 8 days: got %v, want expired", got)
	}
}

func TestSetPolicy(t *testing.T) {
	f := newFixture(t)
	f.st.Replace(snapOf("a"), epoch.Add(-2*time.Hour))

	if got := f.coord.State(); got != freshness.StateFresh {
		t.Fatalf("default policy: got %v, want fresh", got)
	}
	f.coord.SetPolicy(freshness.Policy{SoftTTL: time.Hour, HardTTL: 3 * time.Hour})
	if got := f.coord.State(); got != freshness.StateStale {
		t.Errorf("after SetPolicy: got %v, want stale", got)
	}
	if got := f.coord.Policy().SoftTTL; got != time.Hour {
		t.Errorf("Policy().SoftTTL: got %v, want 1h", got)
	}
}

func TestSubscribe(t *testing.T) {
	f := newFixture(t)
	var got []Result
	f.coord.Subscribe(func(r Result) { got = append(got, r) })

	_ = f.coord.Refresh(context.Background(), true)
	f.sc.set(nil, errors.New("boom"))
	_ = f.coord.Refresh(context.Background(), true)
	_ = f.coord.Refresh(context.Background(), false) // skipped: data is fresh

	if len(got) != 2 {
		t.Fatalf("results: got %d, want 2", len(got))
	}
	if !got[0].OK() || got[0].Records != 2 || !got[0].Forced {
		t.Errorf("first result: got %+v", got[0])
	}
	if got[1].OK() {
		t.Errorf("second result: expected failure, got %+v", got[1])
	}
}

func TestSubscribe_ObserversSeeRefreshFinished(t *testing.T) {
	f := newFixture(t)
	var running bool
	var count int
	f.coord.Subscribe(func(Result) {
		running = f.coord.Running()
		count = f.st.Count()
	})

	if err := f.coord.Refresh(context.Background(), true); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if running {
		t.Error("Running inside observer: got true, want false")
	}
	if count != 2 {
		t.Errorf("store count inside observer: got %d, want 2", count)
	}
}

func TestRun_TriggersWhenStale(t *testing.T) {
	f := newFixture(t)
	f.st.Replace(snapOf("old"), epoch.Add(-25*time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.coord.Run(ctx, 5*time.Millisecond)

	deadline := time.Now().Add(2 * time.Second)
	for f.sc.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	f.coord.Wait()

	if n := f.sc.calls.Load(); n != 1 {
		t.Errorf("scrapes: got %d, want 1", n)
	}
}

func TestRun_IdleWhenFresh(t *testing.T) {
	f := newFixture(t)
	f.st.Replace(snapOf("a"), epoch)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	f.coord.Run(ctx, 5*time.Millisecond)

	if n := f.sc.calls.Load(); n != 0 {
		t.Errorf("scrapes: got %d, want 0", n)
	}
}
