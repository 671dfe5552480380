package feed

import (
	"fmt"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		message string
		want    Kind
	}{
		{"Order O1 was cancelled by the customer", KindError},
		{"Payment failed for order O2", KindError},
		{"Order O3 delivered", KindSuccess},
		{"Order O4 completed", KindSuccess},
		{"Dasher delayed by traffic", KindWarning},
		{"New order received", KindInfo},
		{"", KindInfo},
		{"ÜNÏCODÉ and $ymbols ~~~", KindInfo},
	}

	for _, tt := range tests {
		if got := Classify(tt.message); got != tt.want {
			t.Errorf("Classify(%q) = %q, want %q", tt.message, got, tt.want)
		}
	}
}

func TestFeed_Bounding(t *testing.T) {
	const max = 10
	f := New(max)

	// Push max+3: the 3 oldest fall off, newest-first order preserved.
	for i := 1; i <= max+3; i++ {
		f.Push(fmt.Sprintf("notification %d", i))
	}

	items := f.Items()
	if len(items) != max {
		t.Fatalf("len(items) = %d, want %d", len(items), max)
	}
	if items[0].Message != "notification 13" {
		t.Errorf("items[0].Message = %q, want newest", items[0].Message)
	}
	if items[max-1].Message != "notification 4" {
		t.Errorf("items[%d].Message = %q, want notification 4", max-1, items[max-1].Message)
	}
}

func TestFeed_UnreadTracking(t *testing.T) {
	f := New(10)

	f.Push("a")
	f.Push("b")
	if f.Unread() != 2 {
		t.Errorf("Unread = %d, want 2", f.Unread())
	}

	f.MarkAllRead()
	if f.Unread() != 0 {
		t.Errorf("Unread after MarkAllRead = %d, want 0", f.Unread())
	}
	for _, item := range f.Items() {
		if !item.Read {
			t.Errorf("item %q not marked read", item.Message)
		}
	}

	f.Push("c")
	if f.Unread() != 1 {
		t.Errorf("Unread = %d, want 1", f.Unread())
	}
}

func TestFeed_UnreadAdjustsOnEviction(t *testing.T) {
	const max = 3
	f := New(max)

	// Unread entries falling off the end must not inflate the counter.
	for i := 0; i < max+5; i++ {
		f.Push(fmt.Sprintf("notification %d", i))
	}
	if f.Unread() != max {
		t.Errorf("Unread = %d, want %d after eviction", f.Unread(), max)
	}
	if f.Unread() > len(f.Items()) {
		t.Errorf("Unread = %d exceeds %d items", f.Unread(), len(f.Items()))
	}

	// Evicting an already-read entry leaves the counter alone.
	f.MarkAllRead()
	f.Push("fresh")
	if f.Unread() != 1 {
		t.Errorf("Unread = %d, want 1 after evicting a read entry", f.Unread())
	}
}

func TestFeed_Clear(t *testing.T) {
	f := New(10)
	f.Push("a")
	f.Push("b")

	f.Clear()
	if len(f.Items()) != 0 {
		t.Errorf("items remain after Clear")
	}
	if f.Unread() != 0 {
		t.Errorf("Unread = %d after Clear", f.Unread())
	}
}

func TestFeed_EventIDsUnique(t *testing.T) {
	f := New(5)
	a := f.Push("one")
	b := f.Push("two")
	if a.ID == b.ID {
		t.Error("event ids not unique")
	}
}
