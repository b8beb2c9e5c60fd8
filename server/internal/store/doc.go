// Package store holds the one process-wide snapshot of club records together
// with the time it was built. Replace swaps both at once; readers always see
// a complete, self-consistent snapshot.
package store
