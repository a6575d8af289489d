// Package endpoint orchestrates the cipher, framer, codec and channel
// layers into the public Hypercore wire protocol surface: feed, write,
// destroy, and a drained event queue.
package endpoint

import (
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/gosuda/hyperwire/channel"
	"github.com/gosuda/hyperwire/cipher"
	"github.com/gosuda/hyperwire/discovery"
	"github.com/gosuda/hyperwire/wire"
)

// maxChannels bounds both the local and remote channel tables. The
// wire header packs (channel<<4)|type into the range the codec's
// vectors exercise (0..127); the reference source's "256 simultaneous
// feeds" figure is the same unimplemented-sentinel conflation noted in
// its design notes, so this port uses the stricter, wire-accurate
// bound instead.
const maxChannels = wire.MaxChannels

var (
	// ErrTooManyFeeds is the fatal reason when a side tries to open
	// more than maxChannels channels.
	ErrTooManyFeeds = errors.New("endpoint: too many feeds")
	// ErrDestroyed is returned by operations attempted after Destroy.
	ErrDestroyed = errors.New("endpoint: destroyed")
)

// Endpoint is a single bidirectional, channel-multiplexed, optionally
// encrypted wire protocol session. It is single-threaded cooperative:
// every exported method must be called from one goroutine at a time,
// and none of them block or spawn goroutines internally.
type Endpoint struct {
	sink Sink
	opts Options
	id   []byte

	destroyed bool

	channelsByDK map[[32]byte]*channel.Channel
	locals       []*channel.Channel
	remotes      []*channel.Channel

	sessionDK          *[32]byte
	remoteDiscoveryKey *[32]byte

	localKey    [32]byte
	localKeySet bool
	localNonce  [24]byte

	remoteNonce    [24]byte
	remoteNonceSet bool

	localCipher  *cipher.Cipher
	remoteCipher *cipher.Cipher

	framer *wire.Framer

	needsKey         bool
	pendingRemainder []byte

	handshakeSent    bool
	remoteHandshake  bool
	remoteID         []byte
	remoteLive       *bool
	remoteUserData   []byte
	remoteAck        *bool
	remoteExtensions []int

	events []Event
}

// New constructs an Endpoint bound to sink. No bytes are written and
// no channel is opened until Feed or Write is called.
func New(sink Sink, opts Options) *Endpoint {
	return &Endpoint{
		sink:         sink,
		opts:         opts,
		id:           opts.id(),
		channelsByDK: make(map[[32]byte]*channel.Channel),
		framer:       wire.NewFramer(),
	}
}

// Destroyed reports whether the endpoint has been torn down.
func (e *Endpoint) Destroyed() bool { return e.destroyed }

// Has reports whether a channel for key's discovery key already
// exists, regardless of its open state.
func (e *Endpoint) Has(key [32]byte) bool {
	dk := discovery.Key(key)
	_, ok := e.channelsByDK[dk]
	return ok
}

// Feed opens (or returns the already-open) channel for key. Returns
// nil if the endpoint is destroyed or the feed is rejected fatally.
func (e *Endpoint) Feed(key [32]byte, opts ...FeedOptions) *channel.Channel {
	if e.destroyed {
		return nil
	}
	var fo FeedOptions
	if len(opts) > 0 {
		fo = opts[0]
	}

	dk := discovery.Key(key)
	if fo.DiscoveryKey != nil {
		dk = *fo.DiscoveryKey
	}

	ch, existed := e.channelFor(dk)
	if existed && (ch.State == channel.LocalOpen || ch.State == channel.Open) {
		return ch
	}

	if len(e.locals) >= maxChannels {
		e.destroyFatal(ErrTooManyFeeds.Error())
		return nil
	}

	ch.Key = key
	ch.HasKey = true
	ch.DiscoveryKey = dk

	localID := len(e.locals)
	e.locals = append(e.locals, ch)
	ch.LocalID = localID

	first := localID == 0
	if first {
		sdk := dk
		e.sessionDK = &sdk

		if e.remoteDiscoveryKey != nil && *e.remoteDiscoveryKey != dk {
			e.destroyFatal("First shared hypercore must be the same")
			return nil
		}

		if e.opts.encrypted() {
			if _, err := rand.Read(e.localNonce[:]); err != nil {
				panic(err)
			}
			e.localKey = key
			e.localKeySet = true
			e.localCipher = cipher.New(e.localNonce, key)

			if e.remoteNonceSet && e.remoteCipher == nil {
				e.remoteCipher = cipher.New(e.remoteNonce, key)
			}

			if e.needsKey {
				e.needsKey = false
				remainder := e.pendingRemainder
				e.pendingRemainder = nil
				e.Write(remainder)
				if e.destroyed {
					return nil
				}
			}
		}
	}

	feedMsg := &wire.Feed{DiscoveryKey: append([]byte(nil), dk[:]...)}
	if first {
		nonce := e.localNonce
		feedMsg.Nonce = nonce[:]
	}
	// The very first Feed a side ever sends must be readable in the
	// clear so the peer can recover the nonce; every later Feed (on a
	// second, third, ... local channel) rides the already-established
	// cipher like any other message.
	e.sendMessage(ch.LocalID, feedMsg, !first)
	if e.destroyed {
		return nil
	}

	ch.OpenLocal(e)
	if e.destroyed {
		return nil
	}

	if first {
		e.sendHandshake(ch)
	}

	return ch
}

// ErrNotLocallyOpen is returned by Send when the given channel has not
// been opened by this side yet (Feed was never called for its key).
var ErrNotLocallyOpen = errors.New("endpoint: channel not locally open")

// Send encodes and pushes an application message on an already
// locally-opened channel. The channel need not be fully Open (both
// sides announced) — the remote buffers anything it can't yet route.
func (e *Endpoint) Send(ch *channel.Channel, msg wire.Message) error {
	if e.destroyed {
		return ErrDestroyed
	}
	if ch.LocalID < 0 {
		return ErrNotLocallyOpen
	}
	e.sendMessage(ch.LocalID, msg, e.opts.encrypted())
	return nil
}

func (e *Endpoint) sendHandshake(ch *channel.Channel) {
	if e.handshakeSent || e.destroyed {
		return
	}
	e.handshakeSent = true
	hs := &wire.Handshake{
		ID:         e.id,
		Live:       boolPtr(e.opts.Live),
		UserData:   e.opts.UserData,
		Extensions: e.opts.Extensions,
		Ack:        boolPtr(e.opts.Ack),
	}
	e.sendMessage(ch.LocalID, hs, true)
}

// Write feeds inbound transport bytes through decryption, framing and
// dispatch. It may emit events (drain with Events) and may destroy the
// endpoint fatally on a malformed stream.
func (e *Endpoint) Write(data []byte) {
	if e.destroyed || len(data) == 0 {
		return
	}
	if e.needsKey {
		e.pendingRemainder = append(e.pendingRemainder, data...)
		return
	}

	for len(data) > 0 {
		chunk := data
		if e.remoteCipher != nil {
			decrypted := make([]byte, len(chunk))
			e.remoteCipher.Update(decrypted, chunk)
			chunk = decrypted
		}

		stopped := false
		n, err := e.framer.Feed(chunk, func(frame []byte) bool {
			s := e.dispatchFrame(frame)
			if s {
				stopped = true
			}
			return s
		})
		if err != nil {
			e.destroyFatal(err.Error())
			return
		}
		if e.destroyed {
			return
		}
		if !stopped {
			return
		}

		if e.needsKey {
			e.pendingRemainder = append(e.pendingRemainder, data[n:]...)
			return
		}
		data = data[n:]
	}
}

func (e *Endpoint) dispatchFrame(frame []byte) (stop bool) {
	chNum, typ, payload, err := wire.ParseFrame(frame)
	if err != nil {
		e.destroyFatal(err.Error())
		return true
	}

	msg, err := wire.Read(typ, payload)
	if err != nil {
		e.destroyFatal(err.Error())
		return true
	}

	if typ == wire.TypeFeed {
		return e.handleRemoteFeed(chNum, msg.(*wire.Feed))
	}

	ch := e.remoteChannel(chNum)
	if ch == nil {
		e.destroyFatal("bad feed")
		return true
	}

	if typ == wire.TypeHandshake {
		e.recordHandshake(msg.(*wire.Handshake))
		return e.destroyed
	}

	ch.Receive(e, msg)
	return e.destroyed
}

func (e *Endpoint) handleRemoteFeed(remoteID uint8, feed *wire.Feed) (stop bool) {
	if len(feed.DiscoveryKey) != 32 {
		e.destroyFatal("invalid discovery key length")
		return true
	}
	if feed.Nonce != nil && len(feed.Nonce) != 24 {
		e.destroyFatal("invalid nonce length")
		return true
	}
	if int(remoteID) >= maxChannels {
		e.destroyFatal(ErrTooManyFeeds.Error())
		return true
	}

	var dk [32]byte
	copy(dk[:], feed.DiscoveryKey)

	if existing := e.remoteChannel(remoteID); existing != nil {
		existing.Close()
	}

	first := e.remoteDiscoveryKey == nil
	if first {
		rdk := dk
		e.remoteDiscoveryKey = &rdk

		if e.sessionDK == nil {
			sdk := dk
			e.sessionDK = &sdk
		} else if *e.sessionDK != dk {
			e.destroyFatal("First shared hypercore must be the same")
			return true
		}

		if e.opts.encrypted() {
			if feed.Nonce == nil {
				e.destroyFatal("Remote did not include a nonce")
				return true
			}
			copy(e.remoteNonce[:], feed.Nonce)
			e.remoteNonceSet = true

			if e.localKeySet {
				e.remoteCipher = cipher.New(e.remoteNonce, e.localKey)
			} else {
				e.needsKey = true
			}
		}
	}

	ch, _ := e.channelFor(dk)
	ch.RemoteID = int(remoteID)
	e.setRemote(remoteID, ch)
	ch.OpenRemote(e)
	if e.destroyed {
		return true
	}

	e.emit(Event{Kind: EventFeed, DiscoveryKey: dk, Channel: ch})

	return first && e.opts.encrypted()
}

func (e *Endpoint) recordHandshake(hs *wire.Handshake) {
	if e.remoteHandshake {
		return
	}
	e.remoteHandshake = true
	e.remoteID = hs.ID
	e.remoteLive = hs.Live
	e.remoteUserData = hs.UserData
	e.remoteAck = hs.Ack
	e.remoteExtensions = sortedIndexOf(e.opts.Extensions, hs.Extensions)
	e.emit(Event{Kind: EventHandshake})
}

// RemoteIdentity returns the identity fields recorded from the
// remote's Handshake, and whether one has been received yet.
func (e *Endpoint) RemoteIdentity() (id []byte, live *bool, userData []byte, ack *bool, ok bool) {
	return e.remoteID, e.remoteLive, e.remoteUserData, e.remoteAck, e.remoteHandshake
}

// Destroy tears the endpoint down. Idempotent: subsequent calls and
// any pending operations are no-ops. Emits exactly one EventClose.
func (e *Endpoint) Destroy(reason string) {
	if e.destroyed {
		return
	}
	e.destroyed = true
	for _, ch := range e.locals {
		if ch != nil {
			ch.Close()
		}
	}
	for _, ch := range e.remotes {
		if ch != nil {
			ch.Close()
		}
	}
	e.localCipher = nil
	e.remoteCipher = nil
	e.emit(Event{Kind: EventClose, CloseReason: reason})
}

func (e *Endpoint) destroyFatal(reason string) {
	e.opts.Logger.Error().Str("reason", reason).Msg("endpoint: destroying")
	e.Destroy(reason)
}

// --- channel.Host implementation -------------------------------------

func (e *Endpoint) Deliver(c *channel.Channel, msg wire.Message) {
	e.emit(Event{Kind: EventMessage, Channel: c, Message: msg})
}

func (e *Endpoint) Overflow(c *channel.Channel) {
	e.destroyFatal("too many messages on an unopened feed")
}

// --- internal bookkeeping ----------------------------------------------

func (e *Endpoint) channelFor(dk [32]byte) (*channel.Channel, bool) {
	if ch, ok := e.channelsByDK[dk]; ok {
		return ch, true
	}
	ch := channel.New()
	ch.DiscoveryKey = dk
	e.channelsByDK[dk] = ch
	return ch, false
}

func (e *Endpoint) remoteChannel(id uint8) *channel.Channel {
	if int(id) >= len(e.remotes) {
		return nil
	}
	return e.remotes[int(id)]
}

func (e *Endpoint) setRemote(id uint8, ch *channel.Channel) {
	for len(e.remotes) <= int(id) {
		e.remotes = append(e.remotes, nil)
	}
	e.remotes[int(id)] = ch
}

func (e *Endpoint) sendMessage(localID int, msg wire.Message, encrypt bool) {
	body, err := wire.Write(uint8(localID), msg)
	if err != nil {
		e.destroyFatal(fmt.Sprintf("encode %T: %v", msg, err))
		return
	}
	frame := wire.EncodeFrame(body)
	if encrypt && e.localCipher != nil {
		out := make([]byte, len(frame))
		e.localCipher.Update(out, frame)
		frame = out
	}
	e.sink.Push(frame)
}
