// Package freshness decides how old a snapshot may be before it is refreshed.
//
// A snapshot is soft-stale once it is older than the soft TTL: it is still
// served, and a background refresh is started. It is hard-expired once it is
// older than the hard TTL: readers wait for a synchronous rebuild first.
// A snapshot that was never built is both.
//
// A hard TTL below the soft TTL is accepted; such a snapshot is expired as
// soon as it is stale, so every stale read blocks on a rebuild.
package freshness
