// Package refresh owns the lifecycle of the club snapshot: it is the only
// writer of the store and of the cache file.
//
// At most one refresh runs at a time. The refresh lock is held for the whole
// attempt, not just for a state check. Callers of Refresh queue behind a
// running refresh and share its outcome instead of scraping again.
//
// Rebuild is the read path's way in. Its scrape belongs to the coordinator,
// not to the reader that started it, so a reader that goes away cannot cancel
// a rebuild others are waiting on. Only Close cancels in-flight scrapes, and
// such a cancellation is not reported as a failure.
//
// TriggerBackground starts a refresh on a detached goroutine unless one is
// already outstanding, so any number of readers asking for a background
// refresh produce a single scrape.
//
// A failed scrape never touches the installed snapshot: readers keep getting
// the last good data. Persisting is best-effort; the in-memory snapshot stands
// even if the cache file cannot be written.
package refresh
