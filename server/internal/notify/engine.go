package notify

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/clubindex/clubindex/server/internal/config"
	"github.com/clubindex/clubindex/server/internal/refresh"
)

// Event kinds.
const (
	KindFailing   = "refresh_failing"
	KindRecovered = "refresh_recovered"
)

// Event is one notification.
type Event struct {
	Kind     string    `json:"kind"`
	Severity string    `json:"severity"` // "critical" | "info"
	Message  string    `json:"message"`
	Failures int       `json:"consecutive_failures"`
	Records  int       `json:"records,omitempty"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}

// Engine tracks refresh health and delivers webhooks on transitions.
//
// Engine is safe for concurrent use.
type Engine struct {
	webhooks []config.WebhookConfig
	cooldown time.Duration
	client   *http.Client
	now      func() time.Time

	mu       sync.Mutex
	failing  bool
	failures int
	lastFire time.Time

	wg sync.WaitGroup
}

// New creates an Engine from the notify configuration. An Engine without
// webhooks still tracks state but sends nothing.
func New(cfg config.NotifyConfig) *Engine {
	return &Engine{
		webhooks: cfg.Webhooks,
		cooldown: cfg.Cooldown,
		client:   &http.Client{Timeout: 10 * time.Second},
		now:      time.Now,
	}
}

// Observe consumes one refresh result. Register it with
// refresh.Coordinator.Subscribe.
func (e *Engine) Observe(res refresh.Result) {
	now := e.now()

	e.mu.Lock()
	var ev *Event
	if !res.OK() {
		e.failures++
		if !e.failing || now.Sub(e.lastFire) >= e.cooldown {
			ev = &Event{
				Kind:     KindFailing,
				Severity: "critical",
				Message:  fmt.Sprintf("club directory refresh failing (%d consecutive failures): %v", e.failures, res.Err),
				Failures: e.failures,
				Error:    res.Err.Error(),
				At:       now,
			}
			e.lastFire = now
		}
		e.failing = true
	} else {
		if e.failing {
			ev = &Event{
				Kind:     KindRecovered,
				Severity: "info",
				Message:  fmt.Sprintf("club directory refresh recovered after %d failures, %d clubs loaded", e.failures, res.Records),
				Failures: e.failures,
				Records:  res.Records,
				At:       now,
			}
		}
		e.failing = false
		e.failures = 0
		e.lastFire = time.Time{}
	}
	e.mu.Unlock()

	if ev == nil {
		return
	}
	if ev.Kind == KindFailing {
		slog.Warn("notify: refresh failing", "failures", ev.Failures, "err", ev.Error)
	} else {
		slog.Info("notify: refresh recovered", "records", ev.Records)
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.deliver(ev)
	}()
}

// Failing reports whether the latest refresh failed.
func (e *Engine) Failing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failing
}

// Wait blocks until all pending deliveries finish.
func (e *Engine) Wait() {
	e.wg.Wait()
}
