package discoveryx

import (
	"encoding/hex"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/require"
)

func mustID(t *testing.T, s string) peer.ID {
	t.Helper()
	id, err := peer.Decode(s)
	require.NoError(t, err)
	return id
}

const (
	idA = "QmNnooDu7bfjPFoTZYxMNLWUQJyrVwtbZg5gBMjTezGAJN"
	idB = "QmQCU2EcMqAqQPR2i9bf1iYBD3fh1hzgXTJTNAxbGQ5TmZ"
)

func TestAddrInfoFromAnnouncementSkipsUnparseableAddrs(t *testing.T) {
	id := mustID(t, idA)
	ad := announcement{
		Peer:  id.String(),
		Addrs: []string{"not-a-multiaddr", "/ip4/127.0.0.1/tcp/4001/p2p/" + id.String()},
	}
	ai := addrInfoFromAnnouncement(ad)
	require.NotNil(t, ai)
	require.Equal(t, id, ai.ID)
}

func TestAddrInfoFromAnnouncementNilWhenNoUsableAddr(t *testing.T) {
	ad := announcement{Peer: "x", Addrs: []string{"/ip4/127.0.0.1/tcp/4001"}}
	require.Nil(t, addrInfoFromAnnouncement(ad))
}

func TestKeyPickerRoundRobinsAcrossKnownPeers(t *testing.T) {
	a := mustID(t, idA)
	b := mustID(t, idB)
	p := &keyPicker{}
	p.update([]peerEntry{
		{AddrInfo: peer.AddrInfo{ID: a}},
		{AddrInfo: peer.AddrInfo{ID: b}},
	})

	seen := map[peer.ID]bool{}
	for i := 0; i < 10; i++ {
		e, ok := p.choose()
		require.True(t, ok)
		seen[e.ID] = true
	}
	require.Len(t, seen, 2)
}

func TestKeyPickerEmptyListReturnsFalse(t *testing.T) {
	p := &keyPicker{}
	_, ok := p.choose()
	require.False(t, ok)
}

func TestKeyPickerPinSticksUntilExpiry(t *testing.T) {
	a := mustID(t, idA)
	b := mustID(t, idB)
	p := &keyPicker{}
	p.update([]peerEntry{{AddrInfo: peer.AddrInfo{ID: a}}, {AddrInfo: peer.AddrInfo{ID: b}}})
	p.pin(b, time.Minute)

	for i := 0; i < 5; i++ {
		e, ok := p.choose()
		require.True(t, ok)
		require.Equal(t, b, e.ID)
	}
}

func TestKeyPickerPinIgnoredAfterExpiry(t *testing.T) {
	a := mustID(t, idA)
	b := mustID(t, idB)
	p := &keyPicker{}
	p.update([]peerEntry{{AddrInfo: peer.AddrInfo{ID: a}}, {AddrInfo: peer.AddrInfo{ID: b}}})
	p.pin(b, -time.Second) // already expired

	seen := map[peer.ID]bool{}
	for i := 0; i < 10; i++ {
		e, _ := p.choose()
		seen[e.ID] = true
	}
	require.Len(t, seen, 2)
}

func TestDirectoryPeersAndPickReflectByKeyState(t *testing.T) {
	a := mustID(t, idA)
	key := [32]byte{0x11}
	d := &Directory{
		byKey:   map[string]map[peer.ID]peerEntry{},
		pickers: map[string]*keyPicker{},
	}
	keyHex := hex.EncodeToString(key[:])
	d.byKey[keyHex] = map[peer.ID]peerEntry{a: {AddrInfo: peer.AddrInfo{ID: a}, LastSeen: time.Now()}}

	d.mu.Lock()
	d.refreshPickersLocked()
	d.mu.Unlock()

	got := d.Peers(key)
	require.Len(t, got, 1)
	require.Equal(t, a, got[0].ID)

	picked, ok := d.Pick(key)
	require.True(t, ok)
	require.Equal(t, a, picked.ID)
}

func TestDirectoryPickUnknownKeyReturnsFalse(t *testing.T) {
	d := &Directory{
		byKey:   map[string]map[peer.ID]peerEntry{},
		pickers: map[string]*keyPicker{},
	}
	_, ok := d.Pick([32]byte{0xFF})
	require.False(t, ok)
}
