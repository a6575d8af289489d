package endpoint

import (
	"crypto/rand"

	"github.com/rs/zerolog"
)

// Sink receives outbound bytes ready to push onto the transport. The
// core never opens a socket itself; a websocket/TCP adapter implements
// this to hand bytes to whatever duplex is actually carrying them.
type Sink interface {
	Push(b []byte)
}

// Options configures an Endpoint at construction. Zero value is valid:
// a random Id is generated and encryption defaults on.
type Options struct {
	// ID identifies this endpoint to the remote side. Must be 32
	// bytes if set; a random one is generated otherwise.
	ID []byte
	// Live advertises whether this side intends to keep replicating
	// indefinitely (vs. a one-shot sync).
	Live bool
	// Ack requests the remote to acknowledge Have messages.
	Ack bool
	// UserData is opaque application data carried in the handshake.
	UserData []byte
	// Encrypted toggles the XSalsa20 stream cipher. Defaults to true
	// when nil.
	Encrypted *bool
	// Extensions is the locally supported extension name list, used
	// to reconcile against the remote's list on handshake.
	Extensions []string
	// Logger receives structured diagnostics. Defaults to a no-op
	// logger so embedding this library costs nothing by default.
	Logger zerolog.Logger
}

func (o Options) encrypted() bool {
	if o.Encrypted == nil {
		return true
	}
	return *o.Encrypted
}

func (o Options) id() []byte {
	if o.ID != nil {
		return o.ID
	}
	id := make([]byte, 32)
	if _, err := rand.Read(id); err != nil {
		panic(err)
	}
	return id
}

// FeedOptions customizes a single Feed call.
type FeedOptions struct {
	// DiscoveryKey overrides the derived discovery key when the
	// caller already knows it (avoids recomputing blake2b).
	DiscoveryKey *[32]byte
}

func boolPtr(v bool) *bool { return &v }
