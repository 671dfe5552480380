package feed

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind classifies a notification for display.
type Kind string

const (
	KindSuccess Kind = "success"
	KindError   Kind = "error"
	KindWarning Kind = "warning"
	KindInfo    Kind = "info"
)

// Event is one displayable notification.
type Event struct {
	ID        string
	Message   string
	Timestamp time.Time
	Kind      Kind
	Read      bool
}

// Feed is a bounded most-recent-first notification log. Oldest items are
// evicted first regardless of read state.
type Feed struct {
	mu       sync.Mutex
	items    []Event
	maxItems int
	unread   int
}

// New creates a feed holding at most maxItems entries.
func New(maxItems int) *Feed {
	if maxItems < 1 {
		maxItems = 1
	}
	return &Feed{maxItems: maxItems}
}

// Push classifies and prepends a message, evicting the oldest entry when full.
func (f *Feed) Push(message string) Event {
	event := Event{
		ID:        uuid.NewString(),
		Message:   message,
		Timestamp: time.Now().UTC(),
		Kind:      Classify(message),
	}

	f.mu.Lock()
	f.items = append([]Event{event}, f.items...)
	if len(f.items) > f.maxItems {
		// An evicted entry must stop counting toward unread.
		for _, evicted := range f.items[f.maxItems:] {
			if !evicted.Read {
				f.unread--
			}
		}
		f.items = f.items[:f.maxItems]
	}
	f.unread++
	f.mu.Unlock()

	return event
}

// Items returns a copy of the current entries, newest first.
func (f *Feed) Items() []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Event(nil), f.items...)
}

// Unread returns the unread counter.
func (f *Feed) Unread() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unread
}

// MarkAllRead flags every entry as read and zeroes the unread counter.
func (f *Feed) MarkAllRead() {
	f.mu.Lock()
	for i := range f.items {
		f.items[i].Read = true
	}
	f.unread = 0
	f.mu.Unlock()
}

// Clear empties the feed and zeroes the unread counter.
func (f *Feed) Clear() {
	f.mu.Lock()
	f.items = nil
	f.unread = 0
	f.mu.Unlock()
}

// Classify infers a display kind from message text by keyword matching. This
// is a display heuristic, not a server contract; unknown text is info.
func Classify(message string) Kind {
	text := strings.ToLower(message)

	switch {
	case containsAny(text, "cancelled", "canceled", "failed", "rejected", "error"):
		return KindError
	case containsAny(text, "completed", "delivered", "paid", "success", "ready"):
		return KindSuccess
	case containsAny(text, "delayed", "warning", "retry", "pending"):
		return KindWarning
	default:
		return KindInfo
	}
}

func containsAny(text string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}
