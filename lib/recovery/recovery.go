// Package recovery wraps compact-signature public key recovery behind a
// boundary that validates inputs up front and never lets a curve-level
// fault escape. Callers treat "no key" uniformly whatever address type
// they were attempting.
package recovery

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
)

const compactSigSize = 64

// ErrNoPubKey means the signature did not recover to a valid curve point
// for the given hash and recovery id.
var ErrNoPubKey = errors.New("recovery: no public key")

// RecoverPubKey recovers the signing public key from a 64-byte (r || s)
// signature over a 32-byte message hash.
func RecoverPubKey(sig64 []byte, hash [32]byte, recoveryID int, compressed bool) (*btcec.PublicKey, error) {
	if len(sig64) != compactSigSize {
		return nil, fmt.Errorf("%w: signature is %d bytes, want %d", ErrNoPubKey, len(sig64), compactSigSize)
	}
	if recoveryID < 0 || recoveryID > 3 {
		return nil, fmt.Errorf("%w: recovery id %d out of range", ErrNoPubKey, recoveryID)
	}

	// RecoverCompact takes the signature in the 65-byte wire form with the
	// header byte up front.
	compact := make([]byte, 1, 1+compactSigSize)
	compact[0] = byte(27 + recoveryID)
	if compressed {
		compact[0] += 4
	}
	compact = append(compact, sig64...)

	pub, _, err := ecdsa.RecoverCompact(compact, hash[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoPubKey, err)
	}
	return pub, nil
}
