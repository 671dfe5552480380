// Package broadcast decouples the router from app-wide event delivery.
//
// The engine selects one Emitter at startup based on what the host platform
// supports; routing code never branches on platform inline.
package broadcast

import "encoding/json"

// Event is an app-wide broadcast of a routed message.
type Event struct {
	Topic   string
	Payload json.RawMessage
}

// Emitter publishes events to interested parts of the app that must not
// depend on the router directly.
type Emitter interface {
	Emit(event Event)
}

// Nop discards all events. Used on platforms with no broadcast facility.
type Nop struct{}

func (Nop) Emit(Event) {}

// ChannelEmitter delivers events over a buffered channel, dropping the oldest
// pending event when the consumer falls behind.
type ChannelEmitter struct {
	ch chan Event
}

// NewChannelEmitter creates an emitter with the given buffer size.
func NewChannelEmitter(buffer int) *ChannelEmitter {
	if buffer < 1 {
		buffer = 1
	}
	return &ChannelEmitter{ch: make(chan Event, buffer)}
}

// Emit enqueues the event, evicting the oldest pending one if full.
func (e *ChannelEmitter) Emit(event Event) {
	for {
		select {
		case e.ch <- event:
			return
		default:
			select {
			case <-e.ch:
			default:
			}
		}
	}
}

// Events returns the receive side for the app's consumer.
func (e *ChannelEmitter) Events() <-chan Event {
	return e.ch
}
