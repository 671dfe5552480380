package broadcast

import "testing"

func TestChannelEmitter_Delivery(t *testing.T) {
	e := NewChannelEmitter(4)
	e.Emit(Event{Topic: "order"})

	select {
	case got := <-e.Events():
		if got.Topic != "order" {
			t.Errorf("Topic = %q, want order", got.Topic)
		}
	default:
		t.Fatal("no event delivered")
	}
}

func TestChannelEmitter_DropsOldestWhenFull(t *testing.T) {
	e := NewChannelEmitter(2)
	e.Emit(Event{Topic: "a"})
	e.Emit(Event{Topic: "b"})
	e.Emit(Event{Topic: "c"}) // evicts "a"

	first := <-e.Events()
	second := <-e.Events()
	if first.Topic != "b" || second.Topic != "c" {
		t.Errorf("got %q,%q want b,c", first.Topic, second.Topic)
	}
}

func TestNopEmitDoesNotBlock(t *testing.T) {
	var n Nop
	for i := 0; i < 100; i++ {
		n.Emit(Event{Topic: "x"})
	}
}
