package freshness

import "time"

// Default TTLs.
const (
	DefaultSoftTTL = 24 * time.Hour
	DefaultHardTTL = 7 * 24 * time.Hour
)

// State is the freshness of a snapshot at a given instant.
type State int

const (
	StateEmpty   State = iota // never built
	StateFresh                // within the soft TTL
	StateStale                // past the soft TTL, still served
	StateExpired              // past the hard TTL, rebuilt before serving
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateFresh:
		return "fresh"
	case StateStale:
		return "stale"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// IsStale reports whether a snapshot built at ts is past soft at now.
// A zero ts means no snapshot and is always stale.
func IsStale(ts, now time.Time, soft time.Duration) bool {
	return ts.IsZero() || now.Sub(ts) > soft
}

// IsHardExpired reports whether a snapshot built at ts is past hard at now.
// A zero ts means no snapshot and is always expired.
func IsHardExpired(ts, now time.Time, hard time.Duration) bool {
	return ts.IsZero() || now.Sub(ts) > hard
}

// Policy is a pair of TTLs.
type Policy struct {
	SoftTTL time.Duration
	HardTTL time.Duration
}

// DefaultPolicy returns a Policy with the default TTLs.
func DefaultPolicy() Policy {
	return Policy{SoftTTL: DefaultSoftTTL, HardTTL: DefaultHardTTL}
}

// IsStale is IsStale with p.SoftTTL.
func (p Policy) IsStale(ts, now time.Time) bool {
	return IsStale(ts, now, p.SoftTTL)
}

// IsHardExpired is IsHardExpired with p.HardTTL.
func (p Policy) IsHardExpired(ts, now time.Time) bool {
	return IsHardExpired(ts, now, p.HardTTL)
}

// Evaluate classifies a snapshot built at ts. Expiry wins over staleness.
func (p Policy) Evaluate(ts, now time.Time) State {
	switch {
	case ts.IsZero():
		return StateEmpty
	case p.IsHardExpired(ts, now):
		return StateExpired
	case p.IsStale(ts, now):
		return StateStale
	default:
		return StateFresh
	}
}

// Misconfigured reports whether the hard TTL is shorter than the soft TTL.
func (p Policy) Misconfigured() bool {
	return p.HardTTL < p.SoftTTL
}
