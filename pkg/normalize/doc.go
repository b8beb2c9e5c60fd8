// Package normalize holds the string helpers used to turn scraped text into
// stable identifiers and structured fields: Slugify (German umlaut aware),
// postcode/city extraction, address parsing and URL sanitizing.
package normalize
