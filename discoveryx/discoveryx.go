// Package discoveryx finds and advertises peers for a discovery key over
// libp2p, and hands back a raw byte stream an endpoint can use as a
// endpoint.Sink. Feed/Have/handshake semantics live entirely in the
// endpoint and channel packages; this package never looks inside a frame,
// it only gets two endpoints' bytes in front of each other.
package discoveryx

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/gosuda/hyperwire/endpoint"
)

// ProtocolID is the libp2p stream protocol a Directory's peers speak once
// connected; the bytes exchanged on the stream are hyperwire frames.
const ProtocolID protocol.ID = "/hyperwire/1.0.0"

// NewHost boots a libp2p host with the transport/NAT/relay options a
// long-running discovery participant wants. enableRelay also adds the
// circuit relay transport, so the host can connect through relays.
func NewHost(enableRelay bool) (host.Host, error) {
	opts := []libp2p.Option{
		libp2p.DefaultTransports,
		libp2p.EnableNATService(),
		libp2p.EnableHolePunching(),
		libp2p.DefaultSecurity,
		libp2p.DefaultMuxers,
		libp2p.EnableAutoRelay(),
	}
	if enableRelay {
		opts = append(opts, libp2p.EnableRelay())
	}
	return libp2p.New(opts...)
}

// ConnectBootstraps dials every address in addrs, logging (not failing)
// individual connect errors so one bad bootstrap doesn't block the rest.
func ConnectBootstraps(ctx context.Context, h host.Host, addrs []string, onErr func(addr string, err error)) {
	for _, s := range addrs {
		m, err := ma.NewMultiaddr(s)
		if err != nil {
			if onErr != nil {
				onErr(s, err)
			}
			continue
		}
		ai, err := peer.AddrInfoFromP2pAddr(m)
		if err != nil {
			if onErr != nil {
				onErr(s, err)
			}
			continue
		}
		if err := h.Connect(ctx, *ai); err != nil && onErr != nil {
			onErr(s, err)
		}
	}
}

// announcement is the gossip payload: a host claiming to serve a set of
// discovery keys, hex-encoded since the keys cross the wire as JSON.
type announcement struct {
	Peer  string    `json:"peer"`
	Addrs []string  `json:"addrs"`
	Keys  []string  `json:"keys"`
	TS    time.Time `json:"ts"`
}

type peerEntry struct {
	AddrInfo peer.AddrInfo
	LastSeen time.Time
}

// keyPicker round-robins (with an optional short-lived pin) over the
// peers currently known to serve one discovery key.
type keyPicker struct {
	mu     sync.RWMutex
	rr     uint64
	list   []peerEntry
	pinTo  peer.ID
	pinTil time.Time
}

func (p *keyPicker) update(list []peerEntry) {
	p.mu.Lock()
	p.list = list
	p.mu.Unlock()
}

func (p *keyPicker) choose() (peer.AddrInfo, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.list) == 0 {
		return peer.AddrInfo{}, false
	}
	if p.pinTo != "" && time.Now().Before(p.pinTil) {
		for _, e := range p.list {
			if e.AddrInfo.ID == p.pinTo {
				return e.AddrInfo, true
			}
		}
	}
	i := atomic.AddUint64(&p.rr, 1)
	return p.list[i%uint64(len(p.list))].AddrInfo, true
}

func (p *keyPicker) pin(id peer.ID, dur time.Duration) {
	p.mu.Lock()
	p.pinTo = id
	p.pinTil = time.Now().Add(dur)
	p.mu.Unlock()
}

// Directory tracks, per discovery key, which peers have announced that
// they serve it, discovered over a single pubsub topic shared by every
// participant in the swarm.
type Directory struct {
	ctx   context.Context
	h     host.Host
	topic *pubsub.Topic
	sub   *pubsub.Subscription
	ttl   time.Duration

	mu      sync.Mutex
	byKey   map[string]map[peer.ID]peerEntry // discovery key hex -> peer -> entry
	pickers map[string]*keyPicker
}

// NewDirectory joins topicName on h's gossipsub router and starts
// collecting announcements in the background. Call Close to leave.
func NewDirectory(ctx context.Context, h host.Host, topicName string) (*Directory, error) {
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		return nil, fmt.Errorf("discoveryx: gossipsub: %w", err)
	}
	t, err := ps.Join(topicName)
	if err != nil {
		return nil, fmt.Errorf("discoveryx: join topic: %w", err)
	}
	sub, err := t.Subscribe()
	if err != nil {
		return nil, fmt.Errorf("discoveryx: subscribe: %w", err)
	}
	d := &Directory{
		ctx:     ctx,
		h:       h,
		topic:   t,
		sub:     sub,
		ttl:     45 * time.Second,
		byKey:   map[string]map[peer.ID]peerEntry{},
		pickers: map[string]*keyPicker{},
	}
	go d.collect()
	go d.gc()
	return d, nil
}

// Close leaves the topic. The underlying host is the caller's to close.
func (d *Directory) Close() error {
	d.sub.Cancel()
	return d.topic.Close()
}

// Advertise publishes this host's addresses and served keys every
// interval until ctx is done. Run it in its own goroutine.
func (d *Directory) Advertise(ctx context.Context, keys [][32]byte, interval time.Duration) {
	hexKeys := make([]string, len(keys))
	for i, k := range keys {
		hexKeys[i] = hex.EncodeToString(k[:])
	}
	addrs := make([]string, 0, len(d.h.Addrs()))
	for _, a := range d.h.Addrs() {
		addrs = append(addrs, a.String()+"/p2p/"+d.h.ID().String())
	}

	t := time.NewTicker(interval)
	defer t.Stop()
	publish := func() {
		ad := announcement{Peer: d.h.ID().String(), Addrs: addrs, Keys: hexKeys, TS: time.Now()}
		b, err := json.Marshal(ad)
		if err != nil {
			return
		}
		_ = d.topic.Publish(ctx, b)
	}
	publish()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			publish()
		}
	}
}

func (d *Directory) collect() {
	for {
		msg, err := d.sub.Next(d.ctx)
		if err != nil {
			return
		}
		var ad announcement
		if err := json.Unmarshal(msg.Data, &ad); err != nil {
			continue
		}
		ai := addrInfoFromAnnouncement(ad)
		if ai == nil {
			continue
		}
		if ai.ID == d.h.ID() {
			continue
		}
		d.mu.Lock()
		for _, keyHex := range ad.Keys {
			peers, ok := d.byKey[keyHex]
			if !ok {
				peers = map[peer.ID]peerEntry{}
				d.byKey[keyHex] = peers
			}
			peers[ai.ID] = peerEntry{AddrInfo: *ai, LastSeen: time.Now()}
		}
		d.refreshPickersLocked()
		d.mu.Unlock()
	}
}

func addrInfoFromAnnouncement(ad announcement) *peer.AddrInfo {
	for _, s := range ad.Addrs {
		m, err := ma.NewMultiaddr(s)
		if err != nil {
			continue
		}
		if ai, err := peer.AddrInfoFromP2pAddr(m); err == nil {
			return ai
		}
	}
	return nil
}

func (d *Directory) gc() {
	t := time.NewTicker(5 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-d.ctx.Done():
			return
		case <-t.C:
			now := time.Now()
			d.mu.Lock()
			for keyHex, peers := range d.byKey {
				for id, e := range peers {
					if now.Sub(e.LastSeen) > d.ttl {
						delete(peers, id)
					}
				}
				if len(peers) == 0 {
					delete(d.byKey, keyHex)
				}
			}
			d.refreshPickersLocked()
			d.mu.Unlock()
		}
	}
}

// refreshPickersLocked must be called with d.mu held.
func (d *Directory) refreshPickersLocked() {
	for keyHex, peers := range d.byKey {
		list := make([]peerEntry, 0, len(peers))
		for _, e := range peers {
			list = append(list, e)
		}
		p, ok := d.pickers[keyHex]
		if !ok {
			p = &keyPicker{}
			d.pickers[keyHex] = p
		}
		p.update(list)
	}
}

// Peers returns every currently-known peer advertising key.
func (d *Directory) Peers(key [32]byte) []peer.AddrInfo {
	keyHex := hex.EncodeToString(key[:])
	d.mu.Lock()
	defer d.mu.Unlock()
	peers := d.byKey[keyHex]
	out := make([]peer.AddrInfo, 0, len(peers))
	for _, e := range peers {
		out = append(out, e.AddrInfo)
	}
	return out
}

// Pick returns one peer known to serve key, round-robining across
// repeated calls. Returns false if no peer is currently known.
func (d *Directory) Pick(key [32]byte) (peer.AddrInfo, bool) {
	keyHex := hex.EncodeToString(key[:])
	d.mu.Lock()
	p, ok := d.pickers[keyHex]
	d.mu.Unlock()
	if !ok {
		return peer.AddrInfo{}, false
	}
	return p.choose()
}

// Pin sticks Pick to a specific peer for a discovery key for dur, useful
// once a caller has settled on a working connection and wants to avoid
// round-robin churn on retries.
func (d *Directory) Pin(key [32]byte, id peer.ID, dur time.Duration) {
	keyHex := hex.EncodeToString(key[:])
	d.mu.Lock()
	p, ok := d.pickers[keyHex]
	if !ok {
		p = &keyPicker{}
		d.pickers[keyHex] = p
	}
	d.mu.Unlock()
	p.pin(id, dur)
}

// ServeStreams installs a handler for ProtocolID on h: every inbound
// stream is wrapped in a StreamSink and handed to onStream, which is
// responsible for constructing an endpoint and pumping Run.
func ServeStreams(h host.Host, onStream func(*StreamSink)) {
	h.SetStreamHandler(ProtocolID, func(s network.Stream) {
		onStream(NewStreamSink(s))
	})
}

// DialStream opens a ProtocolID stream to ai and returns it as a
// StreamSink ready to hand to an endpoint.
func DialStream(ctx context.Context, h host.Host, ai peer.AddrInfo) (*StreamSink, error) {
	if err := h.Connect(ctx, ai); err != nil {
		return nil, fmt.Errorf("discoveryx: connect %s: %w", ai.ID, err)
	}
	s, err := h.NewStream(ctx, ai.ID, ProtocolID)
	if err != nil {
		return nil, fmt.Errorf("discoveryx: new stream: %w", err)
	}
	return NewStreamSink(s), nil
}

// StreamSink adapts a libp2p network.Stream into an endpoint.Sink. It
// mirrors transport.WebSocketSink's shape so the endpoint package never
// needs to know which transport carried its bytes.
type StreamSink struct {
	stream network.Stream
}

// NewStreamSink wraps an already-open stream (inbound via a
// SetStreamHandler or outbound via DialStream).
func NewStreamSink(s network.Stream) *StreamSink {
	return &StreamSink{stream: s}
}

// Push implements endpoint.Sink.
func (s *StreamSink) Push(b []byte) {
	_, _ = s.stream.Write(b)
}

// Close closes the underlying stream.
func (s *StreamSink) Close() error {
	return s.stream.Close()
}

// Run copies inbound bytes off the stream into ep.Write, draining and
// forwarding ep.Events() after each read, until the stream errors or ep
// is destroyed. Mirrors transport.WebSocketSink.Run so callers can treat
// either transport the same way.
func (s *StreamSink) Run(ep *endpoint.Endpoint, onEvents func([]endpoint.Event)) error {
	buf := make([]byte, 64*1024)
	for {
		n, err := s.stream.Read(buf)
		if n > 0 {
			ep.Write(buf[:n])
			if evs := ep.Events(); len(evs) > 0 && onEvents != nil {
				onEvents(evs)
			}
		}
		if ep.Destroyed() {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
