// Package poller implements the order-refresh fallback loop.
//
// Push delivery can degrade silently, so the poller re-fetches the full
// order collection on a fixed interval regardless of connection health.
// Ticks never overlap: a tick that fires while a fetch is still in flight
// is skipped rather than queued.
package poller
