package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	types := []MessageType{
		TypeFeed, TypeHandshake, TypeInfo, TypeHave, TypeUnhave,
		TypeWant, TypeUnwant, TypeRequest, TypeCancel, TypeData, TypeExtension,
	}
	for channel := 0; channel < MaxChannels; channel++ {
		for _, typ := range types {
			h := EncodeHeader(uint8(channel), typ)
			gotChannel, gotType, ok := DecodeHeader(h)
			require.True(t, ok)
			require.Equal(t, uint8(channel), gotChannel)
			require.Equal(t, typ, gotType)
		}
	}
}

func TestDecodeHeaderRejectsSentinel(t *testing.T) {
	_, _, ok := DecodeHeader(0xFFFF)
	require.False(t, ok)
}

func TestEncodeHeaderMatchesVectorChannel42Feed(t *testing.T) {
	// channel 42, type Feed(0) => (42<<4)|0 = 672
	require.Equal(t, uint64(672), EncodeHeader(42, TypeFeed))
}

func TestEncodeHeaderMatchesVectorChannel42Info(t *testing.T) {
	// channel 42, type Info(2) => (42<<4)|2 = 674
	require.Equal(t, uint64(674), EncodeHeader(42, TypeInfo))
}
