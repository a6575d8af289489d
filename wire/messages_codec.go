package wire

import "google.golang.org/protobuf/encoding/protowire"

// Field numbers follow each message's struct field order, left to
// right, starting at 1.
const (
	feedDiscoveryKey protowire.Number = 1
	feedNonce        protowire.Number = 2

	handshakeID         protowire.Number = 1
	handshakeLive       protowire.Number = 2
	handshakeUserData   protowire.Number = 3
	handshakeExtensions protowire.Number = 4
	handshakeAck        protowire.Number = 5

	infoUploading   protowire.Number = 1
	infoDownloading protowire.Number = 2

	haveStart    protowire.Number = 1
	haveLength   protowire.Number = 2
	haveBitfield protowire.Number = 3
	haveAck      protowire.Number = 4

	startLengthStart  protowire.Number = 1
	startLengthLength protowire.Number = 2

	requestIndex     protowire.Number = 1
	requestByteCount protowire.Number = 2
	requestHash      protowire.Number = 3
	requestNodes     protowire.Number = 4

	cancelIndex     protowire.Number = 1
	cancelByteCount protowire.Number = 2
	cancelHash      protowire.Number = 3

	dataIndex     protowire.Number = 1
	dataValue     protowire.Number = 2
	dataNodes     protowire.Number = 3
	dataSignature protowire.Number = 4

	nodeIndex protowire.Number = 1
	nodeHash  protowire.Number = 2
	nodeSize  protowire.Number = 3

	extensionLocalIndex protowire.Number = 1
	extensionPayload    protowire.Number = 2
)

// --- Feed -------------------------------------------------------------

func marshalFeed(m *Feed) ([]byte, error) {
	if len(m.DiscoveryKey) != 32 {
		return nil, ErrSchemaViolation
	}
	var b []byte
	b = appendBytesField(b, feedDiscoveryKey, m.DiscoveryKey)
	if m.Nonce != nil {
		if len(m.Nonce) != 24 {
			return nil, ErrSchemaViolation
		}
		b = appendBytesField(b, feedNonce, m.Nonce)
	}
	return b, nil
}

func unmarshalFeed(payload []byte) (*Feed, error) {
	m := &Feed{}
	err := walkFields(payload, nil, func(num protowire.Number, v []byte) {
		switch num {
		case feedDiscoveryKey:
			m.DiscoveryKey = v
		case feedNonce:
			m.Nonce = v
		}
	})
	if err != nil {
		return nil, err
	}
	if len(m.DiscoveryKey) != 32 {
		return nil, ErrSchemaViolation
	}
	if m.Nonce != nil && len(m.Nonce) != 24 {
		return nil, ErrSchemaViolation
	}
	return m, nil
}

// --- Handshake ----------------------------------------------------------

func marshalHandshake(m *Handshake) ([]byte, error) {
	var b []byte
	b = appendBytesField(b, handshakeID, m.ID)
	b = appendBoolPtrField(b, handshakeLive, m.Live)
	b = appendBytesField(b, handshakeUserData, m.UserData)
	b = appendStringsField(b, handshakeExtensions, m.Extensions)
	b = appendBoolPtrField(b, handshakeAck, m.Ack)
	return b, nil
}

func unmarshalHandshake(payload []byte) (*Handshake, error) {
	m := &Handshake{}
	err := walkFields(payload,
		func(num protowire.Number, v uint64) {
			switch num {
			case handshakeLive:
				m.Live = boolPtr(v != 0)
			case handshakeAck:
				m.Ack = boolPtr(v != 0)
			}
		},
		func(num protowire.Number, v []byte) {
			switch num {
			case handshakeID:
				m.ID = v
			case handshakeUserData:
				m.UserData = v
			case handshakeExtensions:
				m.Extensions = append(m.Extensions, string(v))
			}
		},
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// --- Info -----------------------------------------------------------------

func marshalInfo(m *Info) ([]byte, error) {
	var b []byte
	b = appendBoolPtrField(b, infoUploading, m.Uploading)
	b = appendBoolPtrField(b, infoDownloading, m.Downloading)
	return b, nil
}

func unmarshalInfo(payload []byte) (*Info, error) {
	m := &Info{}
	err := walkFields(payload, func(num protowire.Number, v uint64) {
		switch num {
		case infoUploading:
			m.Uploading = boolPtr(v != 0)
		case infoDownloading:
			m.Downloading = boolPtr(v != 0)
		}
	}, nil)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// --- Have / Unhave / Want / Unwant ----------------------------------------

func marshalHave(m *Have) ([]byte, error) {
	var b []byte
	b = appendVarintField(b, haveStart, m.Start)
	b = appendUint64PtrField(b, haveLength, m.Length)
	b = appendBytesField(b, haveBitfield, m.Bitfield)
	b = appendBoolPtrField(b, haveAck, m.Ack)
	return b, nil
}

func unmarshalHave(payload []byte) (*Have, error) {
	m := &Have{}
	err := walkFields(payload,
		func(num protowire.Number, v uint64) {
			switch num {
			case haveStart:
				m.Start = v
			case haveLength:
				m.Length = uint64Ptr(v)
			case haveAck:
				m.Ack = boolPtr(v != 0)
			}
		},
		func(num protowire.Number, v []byte) {
			if num == haveBitfield {
				m.Bitfield = v
			}
		},
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// marshalStartLength encodes the {start, length} pair shared by Unhave,
// Want and Unwant.
func marshalStartLength(start uint64, length *uint64) ([]byte, error) {
	var b []byte
	b = appendVarintField(b, startLengthStart, start)
	b = appendUint64PtrField(b, startLengthLength, length)
	return b, nil
}

func unmarshalStartLength(payload []byte) (start uint64, length *uint64, err error) {
	err = walkFields(payload, func(num protowire.Number, v uint64) {
		switch num {
		case startLengthStart:
			start = v
		case startLengthLength:
			length = uint64Ptr(v)
		}
	}, nil)
	return start, length, err
}

func unmarshalUnhave(payload []byte) (*Unhave, error) {
	start, length, err := unmarshalStartLength(payload)
	if err != nil {
		return nil, err
	}
	return &Unhave{Start: start, Length: length}, nil
}

func unmarshalWant(payload []byte) (*Want, error) {
	start, length, err := unmarshalStartLength(payload)
	if err != nil {
		return nil, err
	}
	return &Want{Start: start, Length: length}, nil
}

func unmarshalUnwant(payload []byte) (*Unwant, error) {
	start, length, err := unmarshalStartLength(payload)
	if err != nil {
		return nil, err
	}
	return &Unwant{Start: start, Length: length}, nil
}

// --- Request / Cancel -------------------------------------------------

func marshalRequest(m *Request) ([]byte, error) {
	var b []byte
	b = appendVarintField(b, requestIndex, m.Index)
	b = appendUint64PtrField(b, requestByteCount, m.ByteCount)
	b = appendBoolPtrField(b, requestHash, m.Hash)
	b = appendUint64PtrField(b, requestNodes, m.Nodes)
	return b, nil
}

func unmarshalRequest(payload []byte) (*Request, error) {
	m := &Request{}
	err := walkFields(payload, func(num protowire.Number, v uint64) {
		switch num {
		case requestIndex:
			m.Index = v
		case requestByteCount:
			m.ByteCount = uint64Ptr(v)
		case requestHash:
			m.Hash = boolPtr(v != 0)
		case requestNodes:
			m.Nodes = uint64Ptr(v)
		}
	}, nil)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func marshalCancel(m *Cancel) ([]byte, error) {
	var b []byte
	b = appendVarintField(b, cancelIndex, m.Index)
	b = appendUint64PtrField(b, cancelByteCount, m.ByteCount)
	b = appendBoolPtrField(b, cancelHash, m.Hash)
	return b, nil
}

func unmarshalCancel(payload []byte) (*Cancel, error) {
	m := &Cancel{}
	err := walkFields(payload, func(num protowire.Number, v uint64) {
		switch num {
		case cancelIndex:
			m.Index = v
		case cancelByteCount:
			m.ByteCount = uint64Ptr(v)
		case cancelHash:
			m.Hash = boolPtr(v != 0)
		}
	}, nil)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// --- Data -------------------------------------------------------------

func marshalDataNode(n DataNode) []byte {
	var b []byte
	b = appendVarintField(b, nodeIndex, n.Index)
	b = appendBytesField(b, nodeHash, n.Hash)
	b = appendVarintField(b, nodeSize, n.Size)
	return b
}

func unmarshalDataNode(payload []byte) (DataNode, error) {
	var n DataNode
	err := walkFields(payload,
		func(num protowire.Number, v uint64) {
			switch num {
			case nodeIndex:
				n.Index = v
			case nodeSize:
				n.Size = v
			}
		},
		func(num protowire.Number, v []byte) {
			if num == nodeHash {
				n.Hash = v
			}
		},
	)
	return n, err
}

func marshalData(m *Data) ([]byte, error) {
	var b []byte
	b = appendVarintField(b, dataIndex, m.Index)
	b = appendBytesField(b, dataValue, m.Value)
	for _, n := range m.Nodes {
		b = protowire.AppendTag(b, dataNodes, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalDataNode(n))
	}
	b = appendBytesField(b, dataSignature, m.Signature)
	return b, nil
}

func unmarshalData(payload []byte) (*Data, error) {
	m := &Data{}
	var nodeErr error
	err := walkFields(payload,
		func(num protowire.Number, v uint64) {
			if num == dataIndex {
				m.Index = v
			}
		},
		func(num protowire.Number, v []byte) {
			switch num {
			case dataValue:
				m.Value = v
			case dataSignature:
				m.Signature = v
			case dataNodes:
				n, err := unmarshalDataNode(v)
				if err != nil {
					nodeErr = err
					return
				}
				m.Nodes = append(m.Nodes, n)
			}
		},
	)
	if err != nil {
		return nil, err
	}
	if nodeErr != nil {
		return nil, nodeErr
	}
	return m, nil
}

// --- Extension --------------------------------------------------------

func marshalExtension(m *Extension) ([]byte, error) {
	var b []byte
	b = appendVarintField(b, extensionLocalIndex, m.LocalIndex)
	b = appendBytesField(b, extensionPayload, m.Payload)
	return b, nil
}

func unmarshalExtension(payload []byte) (*Extension, error) {
	m := &Extension{}
	err := walkFields(payload,
		func(num protowire.Number, v uint64) {
			if num == extensionLocalIndex {
				m.LocalIndex = v
			}
		},
		func(num protowire.Number, v []byte) {
			if num == extensionPayload {
				m.Payload = v
			}
		},
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}
