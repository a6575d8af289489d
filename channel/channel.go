// Package channel implements the per-log channel state machine:
// tracking whether each side has announced the channel, buffering
// messages that arrive before the local side has, and draining that
// buffer once both sides are open.
package channel

import "github.com/gosuda/hyperwire/wire"

// State is a channel's position in its open/close lifecycle.
type State int

const (
	// Latent channels exist only by reference: neither side has
	// announced them yet.
	Latent State = iota
	// LocalOpen channels have been opened locally and await the
	// remote Feed.
	LocalOpen
	// RemoteOpen channels have a remote Feed but no local open yet.
	RemoteOpen
	// Open channels have been announced by both sides.
	Open
	// Closed is terminal; all further events are ignored.
	Closed
)

func (s State) String() string {
	switch s {
	case Latent:
		return "latent"
	case LocalOpen:
		return "local-open"
	case RemoteOpen:
		return "remote-open"
	case Open:
		return "open"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// MaxPending is the pre-open message buffer bound. A remote that
// exceeds it before the channel opens locally is a protocol violation.
const MaxPending = 16

// Host is the narrow view of endpoint-shared state a Channel needs.
// Channels never hold an owning reference back to their Endpoint;
// operations that need the shared sink, cipher or event queue take a
// Host argument instead (see the cyclic-reference design note).
type Host interface {
	// Deliver hands a post-open inbound message to the application.
	Deliver(c *Channel, msg wire.Message)
	// Overflow is called when the pending buffer exceeds MaxPending;
	// the host is expected to destroy the endpoint fatally.
	Overflow(c *Channel)
}

// Channel is one multiplexed log stream. LocalID/RemoteID are -1 until
// assigned by the owning endpoint.
type Channel struct {
	Key          [32]byte
	HasKey       bool
	DiscoveryKey [32]byte

	LocalID  int
	RemoteID int

	State State

	pending []wire.Message
}

// New returns a Latent channel with no assigned ids.
func New() *Channel {
	return &Channel{LocalID: -1, RemoteID: -1, State: Latent}
}

// OpenLocal transitions a channel on local `feed`. If the remote side
// already opened it, the channel becomes Open and its pending buffer
// drains through host.
func (c *Channel) OpenLocal(host Host) {
	switch c.State {
	case Latent:
		c.State = LocalOpen
	case RemoteOpen:
		c.State = Open
		c.drain(host)
	}
}

// OpenRemote transitions a channel on an inbound Feed. If the local
// side already opened it, the channel becomes Open and drains.
func (c *Channel) OpenRemote(host Host) {
	switch c.State {
	case Latent:
		c.State = RemoteOpen
	case LocalOpen:
		c.State = Open
		c.drain(host)
	}
}

func (c *Channel) drain(host Host) {
	pending := c.pending
	c.pending = nil
	for _, msg := range pending {
		host.Deliver(c, msg)
	}
}

// Receive routes an inbound non-Feed message: delivered immediately if
// the channel is Open, buffered otherwise. Exceeding MaxPending
// notifies the host, which destroys the endpoint.
func (c *Channel) Receive(host Host, msg wire.Message) {
	switch c.State {
	case Open:
		host.Deliver(c, msg)
	case Closed:
		// terminal; drop silently
	default:
		if len(c.pending) >= MaxPending {
			host.Overflow(c)
			return
		}
		c.pending = append(c.pending, msg)
	}
}

// Close marks the channel terminal and discards any buffered messages.
func (c *Channel) Close() {
	c.State = Closed
	c.pending = nil
}

// PendingLen reports the current buffer occupancy, exposed for tests
// and introspection.
func (c *Channel) PendingLen() int {
	return len(c.pending)
}
