// Package store persists the client-local order status override sets.
//
// Overrides survive process restarts; they are the only client state allowed
// to diverge from the server. Each set is stored as one key-value row whose
// value is the full JSON array of order ids, replaced wholesale on every
// change. Saves are funneled through a single writer goroutine so two
// back-to-back transition requests cannot interleave their read-modify-write
// cycles.
package store
