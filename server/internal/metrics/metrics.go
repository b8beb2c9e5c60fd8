package metrics

import (
	"log/slog"
	"net/http"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/clubindex/clubindex/server/internal/refresh"
	"github.com/clubindex/clubindex/server/internal/store"
)

// StatsSource supplies refresh counters.
type StatsSource interface {
	Stats() refresh.Stats
}

// Collector builds metric families on demand.
type Collector struct {
	store *store.Store
	stats StatsSource
	now   func() time.Time
}

// New creates a Collector over st and the refresh counters of src.
func New(st *store.Store, src StatsSource) *Collector {
	return &Collector{store: st, stats: src, now: time.Now}
}

// Gather returns the current metric families.
func (c *Collector) Gather() []*dto.MetricFamily {
	s := c.stats.Stats()
	out := []*dto.MetricFamily{
		gauge("clubindex_snapshot_records", "Number of clubs in the served snapshot.", float64(c.store.Count())),
		counterVec("clubindex_refresh_total", "Refresh attempts that ran the scraper, by result.", "result",
			labeled{"success", float64(s.Successes)},
			labeled{"failure", float64(s.Failures)},
		),
		counter("clubindex_refresh_persist_failures_total", "Successful refreshes whose snapshot could not be written to the cache file.", float64(s.PersistFailures)),
		gauge("clubindex_refresh_running", "1 while a refresh is in progress.", boolValue(s.Running)),
		gauge("clubindex_refresh_last_duration_seconds", "Duration of the latest refresh attempt.", s.LastDuration.Seconds()),
	}
	if ts, ok := c.store.LastUpdated(); ok {
		out = append(out,
			gauge("clubindex_snapshot_last_updated_timestamp_seconds", "Unix time the served snapshot was built.", float64(ts.Unix())+float64(ts.Nanosecond())/1e9),
			gauge("clubindex_snapshot_age_seconds", "Age of the served snapshot.", c.now().Sub(ts).Seconds()),
		)
	}
	return out
}

// ServeHTTP writes the families in the Prometheus text format.
func (c *Collector) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	format := expfmt.NewFormat(expfmt.TypeTextPlain)
	w.Header().Set("Content-Type", string(format))

	enc := expfmt.NewEncoder(w, format)
	for _, mf := range c.Gather() {
		if err := enc.Encode(mf); err != nil {
			slog.Warn("metrics: encode failed", "family", mf.GetName(), "err", err)
			return
		}
	}
}

func gauge(name, help string, v float64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name:   ptr(name),
		Help:   ptr(help),
		Type:   dto.MetricType_GAUGE.Enum(),
		Metric: []*dto.Metric{{Gauge: &dto.Gauge{Value: ptr(v)}}},
	}
}

func counter(name, help string, v float64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name:   ptr(name),
		Help:   ptr(help),
		Type:   dto.MetricType_COUNTER.Enum(),
		Metric: []*dto.Metric{{Counter: &dto.Counter{Value: ptr(v)}}},
	}
}

type labeled struct {
	value string
	v     float64
}

// counterVec builds one counter per label value.
func counterVec(name, help, label string, values ...labeled) *dto.MetricFamily {
	mf := &dto.MetricFamily{
		Name: ptr(name),
		Help: ptr(help),
		Type: dto.MetricType_COUNTER.Enum(),
	}
	for _, lv := range values {
		mf.Metric = append(mf.Metric, &dto.Metric{
			Label:   []*dto.LabelPair{{Name: ptr(label), Value: ptr(lv.value)}},
			Counter: &dto.Counter{Value: ptr(lv.v)},
		})
	}
	return mf
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func ptr[T any](v T) *T { return &v }
