// Package api provides the HTTP client for the marketplace backend.
//
// All reads are idempotent GETs with a cache-busting query parameter so that
// intermediate caches never serve a stale order set or balance. The single
// write is the order status-update call.
package api
