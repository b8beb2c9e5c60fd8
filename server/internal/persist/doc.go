// Package persist reads and writes the snapshot cache file.
//
// File layout:
//
//	{
//	  "__meta__": {"last_updated": "2026-01-02T03:04:05.123456789Z"},
//	  "data":     {"<id>": { /* types.Record */ }, ...}
//	}
//
// Load never fails: a missing, unreadable, malformed or inconsistent file is
// logged and reported as "no usable cache". Save writes a temp file in the
// same directory and renames it over the target, so a crash mid-write never
// leaves a truncated cache behind.
package persist
