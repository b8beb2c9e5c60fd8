// Package scraper builds a club snapshot from the association's website.
//
// ScrapeAll fetches the club list page, then every club's detail page with a
// bounded number of requests in flight. A detail page that cannot be fetched
// or parsed is logged and left out; only a failure of the list page fails the
// whole scrape (as *Error).
//
// Every request carries the configured User-Agent, a per-request timeout and
// a body size cap, and is retried with truncated exponential backoff on
// transport errors and on 408/429/503/504.
//
// HTML is parsed with golang.org/x/net/html: list.go extracts club links,
// detail.go extracts name, address and contact links.
package scraper
