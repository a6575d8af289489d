// Package discovery derives the public, non-secret channel identifier
// peers use to recognize they want to talk about the same log, without
// revealing the log's key.
package discovery

import (
	"golang.org/x/crypto/blake2b"
)

// KeySize is the length of both the input key and the derived
// discovery key, in bytes.
const KeySize = 32

const personalization = "hypercore"

// Key derives the discovery key for a log key: a keyed BLAKE2b-256 hash
// of the constant string "hypercore", keyed with the log's key. It is a
// pure function of key — same key always yields the same discovery key.
func Key(key [KeySize]byte) [KeySize]byte {
	h, err := blake2b.New256(key[:])
	if err != nil {
		// blake2b.New256 only errors on an oversized key, which
		// [KeySize]byte can never produce.
		panic(err)
	}
	h.Write([]byte(personalization))

	var out [KeySize]byte
	copy(out[:], h.Sum(nil))
	return out
}
