package wire

import (
	"errors"

	"google.golang.org/protobuf/encoding/protowire"
)

// MaxFramePayload is the largest permitted frame body (header varint +
// message payload).
const MaxFramePayload = 8 * 1024 * 1024

// maxLengthVarintBytes bounds the length prefix itself: 8 MiB fits in
// 28 bits, which a 4-byte varint always has room for.
const maxLengthVarintBytes = 4

var (
	ErrFrameTooBig    = errors.New("wire: frame length exceeds 8 MiB")
	ErrLengthOverflow = errors.New("wire: length varint exceeds 4 bytes")
)

type framerState int

const (
	stateLength framerState = iota
	stateBody
)

// Framer turns an arbitrary byte stream into a sequence of frame
// bodies (a header varint followed by a message payload, with the
// outer length prefix already consumed and stripped). It is restartable
// across arbitrary chunk boundaries: feeding the same bytes split any
// way produces the same sequence of emitted frames.
type Framer struct {
	state  framerState
	lenBuf []byte
	length uint64
	body   []byte
}

// NewFramer returns a Framer ready to parse from the start of a stream.
func NewFramer() *Framer {
	return &Framer{state: stateLength}
}

// Feed consumes data, invoking emit once per complete frame body parsed
// (in order). emit may return true to ask Feed to stop immediately
// after delivering that frame; Feed then returns the count of bytes it
// consumed from data, leaving the remainder for the caller to resubmit
// later (used by the endpoint's deferred-cipher "needs_key" bootstrap,
// which must stop decrypting/framing further bytes until a local key
// arrives). An incomplete trailing frame at the end of data is not an
// error: it is retained in the Framer's internal buffer for the next
// call.
func (f *Framer) Feed(data []byte, emit func(frame []byte) (stop bool)) (consumed int, err error) {
	total := len(data)
	for len(data) > 0 {
		switch f.state {
		case stateLength:
			b := data[0]
			data = data[1:]
			f.lenBuf = append(f.lenBuf, b)
			if b&0x80 != 0 {
				if len(f.lenBuf) > maxLengthVarintBytes {
					return total - len(data), ErrLengthOverflow
				}
				continue
			}
			if len(f.lenBuf) > maxLengthVarintBytes {
				return total - len(data), ErrLengthOverflow
			}
			length, n := protowire.ConsumeVarint(f.lenBuf)
			f.lenBuf = f.lenBuf[:0]
			if n <= 0 {
				return total - len(data), ErrLengthOverflow
			}
			if length > MaxFramePayload {
				return total - len(data), ErrFrameTooBig
			}
			f.length = length
			f.body = make([]byte, 0, length)
			f.state = stateBody
			if length == 0 {
				frame := f.body
				f.body = nil
				f.state = stateLength
				if emit(frame) {
					return total - len(data), nil
				}
			}
		case stateBody:
			need := int(f.length) - len(f.body)
			n := need
			if n > len(data) {
				n = len(data)
			}
			f.body = append(f.body, data[:n]...)
			data = data[n:]
			if len(f.body) == int(f.length) {
				frame := f.body
				f.body = nil
				f.state = stateLength
				if emit(frame) {
					return total - len(data), nil
				}
			}
		}
	}
	return total, nil
}

// EncodeFrame wraps a frame body (header varint + payload, as produced
// by Write) with its outer varint length prefix, ready to push onto
// the transport sink.
func EncodeFrame(body []byte) []byte {
	out := protowire.AppendVarint(nil, uint64(len(body)))
	return append(out, body...)
}
