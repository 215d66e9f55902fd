// Package msghash implements the two message digests Bitcoin wallets sign:
// the legacy "Bitcoin Signed Message" double-SHA256 framing and the
// BIP-322 tagged hash. Both must match the signer byte for byte; a framing
// mistake shows up as a verification failure, not an error.
package msghash

import (
	"bytes"
	"crypto/sha256"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/bitgate/gatekeeper/lib/codec"
)

const (
	legacyMagic = "Bitcoin Signed Message:\n"
	bip322Tag   = "BIP0322-signed-message"
)

// LegacyMessage returns dSHA256 of the legacy signed-message framing:
// a length-prefixed magic string followed by the varint-length-prefixed
// message.
func LegacyMessage(msg string) [32]byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(len(legacyMagic))) // 0x18
	buf.WriteString(legacyMagic)
	buf.Write(codec.EncodeVarInt(uint64(len(msg))))
	buf.WriteString(msg)

	var digest [32]byte
	copy(digest[:], chainhash.DoubleHashB(buf.Bytes()))
	return digest
}

// BIP322Message returns the BIP-340 style tagged hash of msg under the
// "BIP0322-signed-message" tag: SHA256(SHA256(tag) || SHA256(tag) || msg).
func BIP322Message(msg string) [32]byte {
	tag := sha256.Sum256([]byte(bip322Tag))

	h := sha256.New()
	h.Write(tag[:])
	h.Write(tag[:])
	h.Write([]byte(msg))

	var digest [32]byte
	copy(digest[:], h.Sum(nil))
	return digest
}
