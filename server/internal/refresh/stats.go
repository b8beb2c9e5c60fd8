package refresh

import (
	"sync"
	"time"
)

// Stats is a point-in-time summary of refresh activity.
type Stats struct {
	Running         bool
	Successes       uint64
	Failures        uint64
	PersistFailures uint64
	LastAttempt     time.Time
	LastSuccess     time.Time
	LastDuration    time.Duration
	LastError       string // empty after a successful attempt
}

type statsRecorder struct {
	mu sync.Mutex
	s  Stats
}

func (r *statsRecorder) success(res Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.s.Successes++
	if res.PersistErr != nil {
		r.s.PersistFailures++
	}
	r.s.LastAttempt = res.Started
	r.s.LastSuccess = res.Started.Add(res.Duration)
	r.s.LastDuration = res.Duration
	r.s.LastError = ""
}

func (r *statsRecorder) failure(res Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.s.Failures++
	r.s.LastAttempt = res.Started
	r.s.LastDuration = res.Duration
	r.s.LastError = res.Err.Error()
}

func (r *statsRecorder) snapshot() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.s
}

// Stats returns counters and timings of past refresh attempts.
func (c *Coordinator) Stats() Stats {
	s := c.stats.snapshot()
	s.Running = c.running.Load()
	return s
}
