package endpoint

import (
	"github.com/gosuda/hyperwire/channel"
	"github.com/gosuda/hyperwire/wire"
)

// EventKind discriminates the Event union.
type EventKind int

const (
	// EventFeed fires when the remote opens a channel (an inbound
	// Feed), before the channel necessarily reaches Open. A local Feed
	// call does not emit it.
	EventFeed EventKind = iota
	// EventHandshake fires once per endpoint, the first time a
	// remote Handshake is received on any channel.
	EventHandshake
	// EventMessage fires for every post-open inbound message other
	// than Feed and Handshake.
	EventMessage
	// EventClose fires exactly once, when the endpoint is destroyed.
	EventClose
)

// Event is emitted through a drained queue rather than a callback, so
// that application code reacting to an event (e.g. calling Feed or
// Destroy) never reenters the endpoint mid-mutation (see the deferred-
// event design note).
type Event struct {
	Kind EventKind

	DiscoveryKey [32]byte
	Channel      *channel.Channel
	Message      wire.Message
	CloseReason  string
}

func (e *Endpoint) emit(ev Event) {
	e.events = append(e.events, ev)
}

// Events drains and returns all events queued since the last call.
func (e *Endpoint) Events() []Event {
	ev := e.events
	e.events = nil
	return ev
}
