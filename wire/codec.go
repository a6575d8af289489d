// Package wire implements the hyperwire frame envelope and the
// per-message-type wire codec: a length-delimited tag-value encoding
// that is, byte for byte, the protobuf wire format. Rather than running
// protoc, the (de)serializers below are hand-written directly against
// google.golang.org/protobuf/encoding/protowire — the same low-level
// varint/tag primitives a generated MarshalVT/UnmarshalVT pair would
// call into.
package wire

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Codec errors, surfaced to the endpoint which maps them to fatal
// stream destruction.
var (
	ErrInvalidTag       = errors.New("wire: invalid tag")
	ErrTruncatedPayload = errors.New("wire: truncated payload")
	ErrSchemaViolation  = errors.New("wire: schema violation")
	ErrUnknownType      = errors.New("wire: unknown message type")
)

// Write serializes msg into a full frame body: varint(header) followed
// by the encoded payload. It does not include the outer frame length —
// Framer/the endpoint prefixes that once the header+payload size is
// known.
func Write(channel uint8, msg Message) ([]byte, error) {
	payload, err := marshalPayload(msg)
	if err != nil {
		return nil, err
	}
	header := EncodeHeader(channel, msg.Type())
	out := protowire.AppendVarint(nil, header)
	out = append(out, payload...)
	return out, nil
}

// Read decodes a message payload given its already-known MessageType
// (the header is decoded separately by DecodeHeader).
func Read(typ MessageType, payload []byte) (Message, error) {
	switch typ {
	case TypeFeed:
		return unmarshalFeed(payload)
	case TypeHandshake:
		return unmarshalHandshake(payload)
	case TypeInfo:
		return unmarshalInfo(payload)
	case TypeHave:
		return unmarshalHave(payload)
	case TypeUnhave:
		return unmarshalUnhave(payload)
	case TypeWant:
		return unmarshalWant(payload)
	case TypeUnwant:
		return unmarshalUnwant(payload)
	case TypeRequest:
		return unmarshalRequest(payload)
	case TypeCancel:
		return unmarshalCancel(payload)
	case TypeData:
		return unmarshalData(payload)
	case TypeExtension:
		return unmarshalExtension(payload)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, typ)
	}
}

// ParseFrame splits a frame body (as produced by Framer.Feed, i.e. the
// outer varint length already stripped) into its decoded header and
// the remaining raw message payload.
func ParseFrame(frame []byte) (channelNum uint8, typ MessageType, payload []byte, err error) {
	header, n := protowire.ConsumeVarint(frame)
	if n <= 0 {
		return 0, 0, nil, fmt.Errorf("%w: frame header", ErrInvalidTag)
	}
	ch, t, ok := DecodeHeader(header)
	if !ok {
		return 0, 0, nil, fmt.Errorf("%w: header value %#x", ErrInvalidTag, header)
	}
	return ch, t, frame[n:], nil
}

func marshalPayload(msg Message) ([]byte, error) {
	switch m := msg.(type) {
	case *Feed:
		return marshalFeed(m)
	case *Handshake:
		return marshalHandshake(m)
	case *Info:
		return marshalInfo(m)
	case *Have:
		return marshalHave(m)
	case *Unhave:
		return marshalStartLength(m.Start, m.Length)
	case *Want:
		return marshalStartLength(m.Start, m.Length)
	case *Unwant:
		return marshalStartLength(m.Start, m.Length)
	case *Request:
		return marshalRequest(m)
	case *Cancel:
		return marshalCancel(m)
	case *Data:
		return marshalData(m)
	case *Extension:
		return marshalExtension(m)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownType, msg)
	}
}

// --- field append helpers -------------------------------------------------

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	if v == nil {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	b = protowire.AppendBytes(b, v)
	return b
}

func appendStringsField(b []byte, num protowire.Number, vs []string) []byte {
	for _, v := range vs {
		b = protowire.AppendTag(b, num, protowire.BytesType)
		b = protowire.AppendBytes(b, []byte(v))
	}
	return b
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	b = protowire.AppendVarint(b, v)
	return b
}

func appendUint64PtrField(b []byte, num protowire.Number, v *uint64) []byte {
	if v == nil {
		return b
	}
	return appendVarintField(b, num, *v)
}

func appendBoolPtrField(b []byte, num protowire.Number, v *bool) []byte {
	if v == nil {
		return b
	}
	var iv uint64
	if *v {
		iv = 1
	}
	return appendVarintField(b, num, iv)
}

func boolPtr(v bool) *bool       { return &v }
func uint64Ptr(v uint64) *uint64 { return &v }

// --- field consume helpers ------------------------------------------------

// consumeField reads one tag+value pair from b, dispatching bytes and
// varint payloads to the given callbacks. It returns the number of
// bytes consumed (tag plus value) or an error.
func consumeField(b []byte, onVarint func(num protowire.Number, v uint64), onBytes func(num protowire.Number, v []byte)) (int, error) {
	num, typ, n := protowire.ConsumeTag(b)
	if n < 0 {
		return 0, fmt.Errorf("%w: %v", ErrInvalidTag, protowire.ParseError(n))
	}
	total := n
	rest := b[n:]

	switch typ {
	case protowire.VarintType:
		v, n := protowire.ConsumeVarint(rest)
		if n < 0 {
			return 0, fmt.Errorf("%w: %v", ErrTruncatedPayload, protowire.ParseError(n))
		}
		if onVarint != nil {
			onVarint(num, v)
		}
		total += n
	case protowire.BytesType:
		v, n := protowire.ConsumeBytes(rest)
		if n < 0 {
			return 0, fmt.Errorf("%w: %v", ErrTruncatedPayload, protowire.ParseError(n))
		}
		if onBytes != nil {
			cp := make([]byte, len(v))
			copy(cp, v)
			onBytes(num, cp)
		}
		total += n
	default:
		n := protowire.ConsumeFieldValue(num, typ, rest)
		if n < 0 {
			return 0, fmt.Errorf("%w: %v", ErrTruncatedPayload, protowire.ParseError(n))
		}
		total += n
	}
	return total, nil
}

func walkFields(payload []byte, onVarint func(num protowire.Number, v uint64), onBytes func(num protowire.Number, v []byte)) error {
	for len(payload) > 0 {
		n, err := consumeField(payload, onVarint, onBytes)
		if err != nil {
			return err
		}
		payload = payload[n:]
	}
	return nil
}
