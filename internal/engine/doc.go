// Package engine assembles the realtime sync components into one service.
//
// The engine owns the REST client, the override store, the wallet hub, the
// notification feed, the overlay state machine, the connection manager, the
// subscription router, and the fallback poller. Callers interact with the
// engine only; the parts never reach around it to touch each other's state.
package engine
