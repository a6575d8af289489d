package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func buildStream(t *testing.T, bodies ...[]byte) []byte {
	t.Helper()
	var out []byte
	for _, b := range bodies {
		out = append(out, EncodeFrame(b)...)
	}
	return out
}

func TestFramerEmitsOneFramePerBody(t *testing.T) {
	bodies := [][]byte{
		[]byte("hello"),
		[]byte("a-slightly-longer-body-than-the-last-one"),
		[]byte("x"),
	}
	stream := buildStream(t, bodies...)

	f := NewFramer()
	var got [][]byte
	n, err := f.Feed(stream, func(frame []byte) bool {
		cp := append([]byte(nil), frame...)
		got = append(got, cp)
		return false
	})
	require.NoError(t, err)
	require.Equal(t, len(stream), n)
	require.Equal(t, bodies, got)
}

func TestFramerIsChunkOblivious(t *testing.T) {
	bodies := [][]byte{[]byte("one"), []byte("two"), []byte("three-longer-body")}
	stream := buildStream(t, bodies...)

	chunkSizes := []int{1, 2, 3, 7, len(stream)}
	for _, size := range chunkSizes {
		f := NewFramer()
		var got [][]byte
		for i := 0; i < len(stream); i += size {
			end := i + size
			if end > len(stream) {
				end = len(stream)
			}
			_, err := f.Feed(stream[i:end], func(frame []byte) bool {
				cp := append([]byte(nil), frame...)
				got = append(got, cp)
				return false
			})
			require.NoError(t, err)
		}
		require.Equal(t, bodies, got, "chunk size %d", size)
	}
}

func TestFramerRetainsIncompleteTrailingFrame(t *testing.T) {
	stream := buildStream(t, []byte("complete-body"))
	partial := stream[:len(stream)-2]

	f := NewFramer()
	var calls int
	n, err := f.Feed(partial, func(frame []byte) bool {
		calls++
		return false
	})
	require.NoError(t, err)
	require.Equal(t, len(partial), n)
	require.Equal(t, 0, calls)

	rest := stream[len(partial):]
	_, err = f.Feed(rest, func(frame []byte) bool {
		calls++
		require.Equal(t, []byte("complete-body"), frame)
		return false
	})
	require.NoError(t, err)
	require.Equal(t, 1, calls)
}

func TestFramerRejectsOversizedFrame(t *testing.T) {
	// length prefix of 9MiB, encoded as a 4-byte varint (well within
	// maxLengthVarintBytes) but over MaxFramePayload.
	big := 9 * 1024 * 1024
	lenPrefix := varintBytes(uint64(big))

	f := NewFramer()
	_, err := f.Feed(lenPrefix, func(frame []byte) bool { return false })
	require.ErrorIs(t, err, ErrFrameTooBig)
}

func TestFramerRejectsLengthVarintLongerThanFourBytes(t *testing.T) {
	// Four continuation bytes followed by a terminator: the fifth
	// varint byte exceeds the 4-byte cap.
	overlong := []byte{0xFF, 0xFF, 0xFF, 0xFF, 0x01}

	f := NewFramer()
	_, err := f.Feed(overlong, func(frame []byte) bool { return false })
	require.ErrorIs(t, err, ErrLengthOverflow)
}

func TestFramerStopSignalPausesAndPreservesRemainder(t *testing.T) {
	bodies := [][]byte{[]byte("first"), []byte("second"), []byte("third")}
	stream := buildStream(t, bodies...)

	f := NewFramer()
	var got [][]byte
	n, err := f.Feed(stream, func(frame []byte) bool {
		cp := append([]byte(nil), frame...)
		got = append(got, cp)
		return len(got) == 1
	})
	require.NoError(t, err)
	require.Equal(t, [][]byte{bodies[0]}, got)
	require.Less(t, n, len(stream))

	_, err = f.Feed(stream[n:], func(frame []byte) bool {
		cp := append([]byte(nil), frame...)
		got = append(got, cp)
		return false
	})
	require.NoError(t, err)
	require.Equal(t, bodies, got)
}

func varintBytes(v uint64) []byte {
	var b []byte
	for v >= 0x80 {
		b = append(b, byte(v)|0x80)
		v >>= 7
	}
	return append(b, byte(v))
}
