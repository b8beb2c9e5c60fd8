// Package directory is the read side of the club index. Every read checks
// the snapshot's freshness first: expired or missing data is rebuilt before
// answering, stale data is answered immediately while a background refresh
// runs.
package directory
