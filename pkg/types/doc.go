// Package types defines the club records shared by the scraper, the cache and
// the HTTP layer. These are the canonical in-memory representations and also
// the JSON shapes served by the API and written to the cache file.
package types
