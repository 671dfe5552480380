// Package connection manages the single logical pub/sub connection to the
// marketplace backend.
//
// The Client wraps one WebSocket with a heartbeat and read loop. The Manager
// owns the connection lifecycle for the current identity: idempotent connect,
// unconditional teardown, and sequential reconnects with exponential backoff.
// Transport errors never reach callers; after the retry budget is spent the
// manager goes quiet and the polling fallback carries correctness.
package connection
