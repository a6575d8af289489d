package channel

import (
	"testing"

	"github.com/gosuda/hyperwire/wire"
	"github.com/stretchr/testify/require"
)

type fakeHost struct {
	delivered []wire.Message
	overflows int
}

func (h *fakeHost) Deliver(c *Channel, msg wire.Message) {
	h.delivered = append(h.delivered, msg)
}

func (h *fakeHost) Overflow(c *Channel) {
	h.overflows++
}

func testBoolPtr(v bool) *bool { return &v }

func TestLocalThenRemoteOpensTransitionsToOpen(t *testing.T) {
	c := New()
	host := &fakeHost{}

	c.OpenLocal(host)
	require.Equal(t, LocalOpen, c.State)

	c.OpenRemote(host)
	require.Equal(t, Open, c.State)
}

func TestRemoteThenLocalOpensTransitionsToOpen(t *testing.T) {
	c := New()
	host := &fakeHost{}

	c.OpenRemote(host)
	require.Equal(t, RemoteOpen, c.State)

	c.OpenLocal(host)
	require.Equal(t, Open, c.State)
}

func TestPendingMessagesDrainInOrderOnOpen(t *testing.T) {
	c := New()
	host := &fakeHost{}

	c.OpenRemote(host)
	msgs := []wire.Message{
		&wire.Info{Uploading: testBoolPtr(true)},
		&wire.Info{Downloading: testBoolPtr(true)},
	}
	for _, m := range msgs {
		c.Receive(host, m)
	}
	require.Equal(t, 2, c.PendingLen())
	require.Empty(t, host.delivered)

	c.OpenLocal(host)
	require.Equal(t, Open, c.State)
	require.Equal(t, msgs, host.delivered)
	require.Equal(t, 0, c.PendingLen())
}

func TestOpenChannelDeliversImmediately(t *testing.T) {
	c := New()
	host := &fakeHost{}
	c.OpenRemote(host)
	c.OpenLocal(host)

	msg := &wire.Have{Start: 1}
	c.Receive(host, msg)
	require.Equal(t, []wire.Message{msg}, host.delivered)
}

func TestPendingBufferOverflowNotifiesHost(t *testing.T) {
	c := New()
	host := &fakeHost{}
	c.OpenRemote(host)

	for i := 0; i < MaxPending; i++ {
		c.Receive(host, &wire.Have{Start: uint64(i)})
	}
	require.Equal(t, MaxPending, c.PendingLen())
	require.Equal(t, 0, host.overflows)

	c.Receive(host, &wire.Have{Start: 99})
	require.Equal(t, 1, host.overflows)
}

func TestClosedChannelIgnoresEvents(t *testing.T) {
	c := New()
	host := &fakeHost{}
	c.OpenRemote(host)
	c.OpenLocal(host)
	c.Close()

	c.Receive(host, &wire.Have{Start: 1})
	require.Empty(t, host.delivered)
	require.Equal(t, Closed, c.State)
}
