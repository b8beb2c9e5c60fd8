// Package metrics exposes snapshot and refresh state in the Prometheus text
// format. Families are built per request from the store and the refresh
// coordinator's counters; nothing is registered globally.
package metrics
