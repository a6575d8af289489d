package wire

// Message is implemented by every per-type payload and reports which
// MessageType it serializes as.
type Message interface {
	Type() MessageType
}

// Feed is the channel-open control message: it carries the discovery
// key always, and a nonce only on the sender's first Feed of a session.
type Feed struct {
	DiscoveryKey []byte
	Nonce        []byte // nil when absent
}

func (*Feed) Type() MessageType { return TypeFeed }

// Handshake is the identity/capability exchange sent on each side's
// first opened channel.
type Handshake struct {
	ID         []byte
	Live       *bool
	UserData   []byte
	Extensions []string
	Ack        *bool
}

func (*Handshake) Type() MessageType { return TypeHandshake }

// Info reports upload/download intent for a channel.
type Info struct {
	Uploading   *bool
	Downloading *bool
}

func (*Info) Type() MessageType { return TypeInfo }

// Have announces that the sender possesses a run of blocks.
type Have struct {
	Start    uint64
	Length   *uint64 // default 1 if absent
	Bitfield []byte
	Ack      *bool
}

func (*Have) Type() MessageType { return TypeHave }

// Unhave retracts a previously announced Have.
type Unhave struct {
	Start  uint64
	Length *uint64
}

func (*Unhave) Type() MessageType { return TypeUnhave }

// Want registers interest in a run of blocks.
type Want struct {
	Start  uint64
	Length *uint64
}

func (*Want) Type() MessageType { return TypeWant }

// Unwant retracts a previously registered Want.
type Unwant struct {
	Start  uint64
	Length *uint64
}

func (*Unwant) Type() MessageType { return TypeUnwant }

// Request asks for a specific block, optionally with a Merkle proof.
type Request struct {
	Index     uint64
	ByteCount *uint64
	Hash      *bool
	Nodes     *uint64
}

func (*Request) Type() MessageType { return TypeRequest }

// Cancel retracts a previously sent Request.
type Cancel struct {
	Index     uint64
	ByteCount *uint64
	Hash      *bool
}

func (*Cancel) Type() MessageType { return TypeCancel }

// DataNode is one Merkle tree node accompanying a Data message.
type DataNode struct {
	Index uint64
	Hash  []byte
	Size  uint64
}

// Data carries a block's value plus the Merkle proof needed to verify it.
type Data struct {
	Index     uint64
	Value     []byte
	Nodes     []DataNode
	Signature []byte
}

func (*Data) Type() MessageType { return TypeData }

// Extension carries an application-defined payload under a registered
// extension name. Payload semantics are intentionally undefined by this
// layer; the bytes are only round-tripped, keyed by the extension's
// negotiated local index.
type Extension struct {
	LocalIndex uint64
	Payload    []byte
}

func (*Extension) Type() MessageType { return TypeExtension }
