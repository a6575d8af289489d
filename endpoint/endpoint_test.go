package endpoint_test

import (
	"testing"

	"github.com/gosuda/hyperwire/endpoint"
	"github.com/gosuda/hyperwire/wire"
	"github.com/stretchr/testify/require"
)

type bufSink struct {
	out   [][]byte
	total int
}

func (s *bufSink) Push(b []byte) {
	cp := append([]byte(nil), b...)
	s.out = append(s.out, cp)
	s.total++
}

func (s *bufSink) drain() []byte {
	var all []byte
	for _, b := range s.out {
		all = append(all, b...)
	}
	s.out = nil
	return all
}

func pumpUntilQuiescent(t *testing.T, a, b *endpoint.Endpoint, sa, sb *bufSink) {
	t.Helper()
	for i := 0; i < 50; i++ {
		outA := sa.drain()
		outB := sb.drain()
		if len(outA) == 0 && len(outB) == 0 {
			return
		}
		if len(outA) > 0 {
			b.Write(outA)
		}
		if len(outB) > 0 {
			a.Write(outB)
		}
	}
	t.Fatal("endpoints did not reach quiescence")
}

func testKey(b byte) [32]byte {
	var k [32]byte
	for i := range k {
		k[i] = b
	}
	return k
}

func TestTwoEndpointHandshake(t *testing.T) {
	sa := &bufSink{}
	sb := &bufSink{}
	a := endpoint.New(sa, endpoint.Options{})
	b := endpoint.New(sb, endpoint.Options{})

	key := testKey(0x42)

	require.NotNil(t, a.Feed(key))
	require.NotNil(t, b.Feed(key))

	pumpUntilQuiescent(t, a, b, sa, sb)

	require.False(t, a.Destroyed())
	require.False(t, b.Destroyed())

	require.Equal(t, 2, sa.total)
	require.Equal(t, 2, sb.total)

	evA := a.Events()
	require.Len(t, evA, 2)
	require.Equal(t, endpoint.EventFeed, evA[0].Kind)
	require.Equal(t, endpoint.EventHandshake, evA[1].Kind)

	evB := b.Events()
	require.Len(t, evB, 2)
	require.Equal(t, endpoint.EventFeed, evB[0].Kind)
	require.Equal(t, endpoint.EventHandshake, evB[1].Kind)
}

func TestHandshakeOptionsPropagation(t *testing.T) {
	sa := &bufSink{}
	sb := &bufSink{}

	var idA, idB [32]byte
	for i := range idA {
		idA[i] = 0xA1
	}
	for i := range idB {
		idB[i] = 0xB2
	}
	userData := []byte("hello-from-a")

	a := endpoint.New(sa, endpoint.Options{ID: idA[:], Live: true, UserData: userData})
	b := endpoint.New(sb, endpoint.Options{ID: idB[:], Live: false, Ack: true})

	key := testKey(0x77)
	a.Feed(key)
	b.Feed(key)

	pumpUntilQuiescent(t, a, b, sa, sb)
	a.Events()
	b.Events()

	remoteID, remoteLive, remoteUserData, remoteAck, ok := a.RemoteIdentity()
	require.True(t, ok)
	require.Equal(t, idB[:], remoteID)
	require.NotNil(t, remoteLive)
	require.False(t, *remoteLive)
	require.Nil(t, remoteUserData)
	require.NotNil(t, remoteAck)
	require.True(t, *remoteAck)

	remoteID2, remoteLive2, remoteUserData2, remoteAck2, ok2 := b.RemoteIdentity()
	require.True(t, ok2)
	require.Equal(t, idA[:], remoteID2)
	require.NotNil(t, remoteLive2)
	require.True(t, *remoteLive2)
	require.Equal(t, userData, remoteUserData2)
	require.NotNil(t, remoteAck2)
	require.False(t, *remoteAck2)
}

func TestPreOpenBufferingWithinLimitDeliversOnOpen(t *testing.T) {
	sa := &bufSink{}
	sb := &bufSink{}
	a := endpoint.New(sa, endpoint.Options{})
	b := endpoint.New(sb, endpoint.Options{})

	key := testKey(0x09)
	chB := b.Feed(key)
	require.NotNil(t, chB)

	for i := 0; i < 10; i++ {
		require.NoError(t, b.Send(chB, &wire.Have{Start: uint64(i)}))
	}

	// one-directional: B's bytes reach A, but A hasn't fed yet.
	a.Write(sb.drain())
	require.False(t, a.Destroyed())
	evBeforeOpen := a.Events()
	require.Len(t, evBeforeOpen, 1) // just the Feed event; messages are buffered
	require.Equal(t, endpoint.EventFeed, evBeforeOpen[0].Kind)

	chA := a.Feed(key)
	require.NotNil(t, chA)
	require.False(t, a.Destroyed())

	evAfterOpen := a.Events()
	var delivered []wire.Message
	for _, ev := range evAfterOpen {
		if ev.Kind == endpoint.EventMessage {
			delivered = append(delivered, ev.Message)
		}
	}
	require.Len(t, delivered, 10)
	for i, msg := range delivered {
		have, ok := msg.(*wire.Have)
		require.True(t, ok)
		require.Equal(t, uint64(i), have.Start)
	}
}

func TestPreOpenBufferingOverflowDestroysFatally(t *testing.T) {
	sa := &bufSink{}
	sb := &bufSink{}
	a := endpoint.New(sa, endpoint.Options{})
	b := endpoint.New(sb, endpoint.Options{})

	key := testKey(0x0A)
	chB := b.Feed(key)
	require.NotNil(t, chB)

	for i := 0; i < 17; i++ {
		require.NoError(t, b.Send(chB, &wire.Have{Start: uint64(i)}))
	}

	a.Write(sb.drain())
	require.False(t, a.Destroyed())

	a.Feed(key)
	require.True(t, a.Destroyed())

	var sawClose bool
	for _, ev := range a.Events() {
		if ev.Kind == endpoint.EventClose {
			sawClose = true
			require.Contains(t, ev.CloseReason, "too many messages")
		}
	}
	require.True(t, sawClose)
}
