// Package cipher implements the XSalsa20 keystream used to encrypt a
// hyperwire endpoint's byte stream once the session key is known.
//
// Built on golang.org/x/crypto/salsa20/salsa, adapted from a one-shot
// keystream function into a stateful cipher that doles out keystream
// bytes across however many calls the caller makes: consecutive Update
// calls consume consecutive keystream bytes, regardless of how the
// caller chunks them.
package cipher

import (
	"golang.org/x/crypto/salsa20/salsa"
)

const (
	// NonceSize is the XSalsa20 nonce length in bytes.
	NonceSize = 24
	// KeySize is the XSalsa20 key length in bytes.
	KeySize = 32

	blockSize = 64
)

// Cipher is a stateful XSalsa20 keystream generator. Update is its
// primary method; XORKeyStream is an alias of Update, so *Cipher
// satisfies crypto/cipher.Stream.
type Cipher struct {
	subKey  [32]byte
	counter [16]byte
	block   [blockSize]byte
	pos     int
}

// New derives the XSalsa20 subkey via HSalsa20 and returns a fresh Cipher
// positioned at the start of the keystream for (nonce, key).
func New(nonce [NonceSize]byte, key [KeySize]byte) *Cipher {
	var hNonce [16]byte
	copy(hNonce[:], nonce[:16])

	c := &Cipher{pos: blockSize}
	salsa.HSalsa20(&c.subKey, &hNonce, &key, &salsa.Sigma)
	copy(c.counter[:8], nonce[16:24])
	return c
}

// Update XORs src with the keystream, writing the result to dst. dst and
// src may alias (in-place encryption/decryption). Panics if dst is
// shorter than src.
func (c *Cipher) Update(dst, src []byte) {
	if len(dst) < len(src) {
		panic("cipher: dst shorter than src")
	}
	for i := range src {
		if c.pos == blockSize {
			c.nextBlock()
		}
		dst[i] = src[i] ^ c.block[c.pos]
		c.pos++
	}
}

// XORKeyStream is an alias for Update, so *Cipher satisfies
// crypto/cipher.Stream.
func (c *Cipher) XORKeyStream(dst, src []byte) {
	c.Update(dst, src)
}

func (c *Cipher) nextBlock() {
	var zero [blockSize]byte
	salsa.XORKeyStream(c.block[:], zero[:], &c.counter, &c.subKey)
	c.pos = 0
	for i := 8; i < 16; i++ {
		c.counter[i]++
		if c.counter[i] != 0 {
			break
		}
	}
}
