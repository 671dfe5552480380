// Package feed keeps a bounded, most-recent-first log of inbound events for
// on-screen display, with read/unread tracking.
package feed
