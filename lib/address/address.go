// Package address classifies claimed Bitcoin addresses and derives the
// expected address for a recovered public key across the four supported
// types: P2PKH, P2SH-P2WPKH, P2WPKH and P2TR.
package address

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"golang.org/x/crypto/ripemd160"
)

// Type is the classified form of a claimed address.
type Type int

const (
	Unknown Type = iota
	P2PKH
	P2SH // assumed to wrap a P2WPKH redeem script
	P2WPKH
	P2TR
)

func (t Type) String() string {
	switch t {
	case P2PKH:
		return "p2pkh"
	case P2SH:
		return "p2sh-p2wpkh"
	case P2WPKH:
		return "p2wpkh"
	case P2TR:
		return "p2tr"
	default:
		return "unknown"
	}
}

// ErrUnknownType is returned for addresses outside the supported prefixes.
var ErrUnknownType = errors.New("address: unrecognized address type")

// Classify maps an address string to its type by prefix. Multisig and
// other exotic script types are not supported, so a bare P2SH address is
// assumed to nest a P2WPKH program.
func Classify(addr string) (Type, error) {
	lower := strings.ToLower(strings.TrimSpace(addr))
	switch {
	case strings.HasPrefix(lower, "bc1p"), strings.HasPrefix(lower, "tb1p"):
		return P2TR, nil
	case strings.HasPrefix(lower, "bc1q"), strings.HasPrefix(lower, "tb1q"):
		return P2WPKH, nil
	case strings.HasPrefix(lower, "1"), strings.HasPrefix(lower, "m"), strings.HasPrefix(lower, "n"):
		return P2PKH, nil
	case strings.HasPrefix(lower, "3"), strings.HasPrefix(lower, "2"):
		return P2SH, nil
	default:
		return Unknown, fmt.Errorf("%w: %q", ErrUnknownType, addr)
	}
}

// Equal compares a derived address against the claimed one. Comparison is
// case-insensitive: bech32 is defined case-insensitively and wallets
// historically get legacy address casing wrong too, so the permissive
// comparison is kept for every type.
func Equal(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// Hash160 is SHA256 followed by RIPEMD160, the pubkey/script hash used by
// P2PKH, P2WPKH and P2SH programs.
func Hash160(data []byte) []byte {
	sum := sha256.Sum256(data)
	h := ripemd160.New()
	h.Write(sum[:])
	return h.Sum(nil)
}

func serializePubKey(pub *btcec.PublicKey, compressed bool) []byte {
	if compressed {
		return pub.SerializeCompressed()
	}
	return pub.SerializeUncompressed()
}

// DeriveP2PKH returns the legacy base58 address for pub.
func DeriveP2PKH(pub *btcec.PublicKey, compressed bool, params *chaincfg.Params) (string, error) {
	addr, err := btcutil.NewAddressPubKeyHash(Hash160(serializePubKey(pub, compressed)), params)
	if err != nil {
		return "", fmt.Errorf("derive p2pkh: %v", err)
	}
	return addr.EncodeAddress(), nil
}

// DeriveP2WPKH returns the native segwit v0 address for pub. The witness
// program is always built over the compressed key; uncompressed keys are
// unspendable in segwit.
func DeriveP2WPKH(pub *btcec.PublicKey, params *chaincfg.Params) (string, error) {
	addr, err := btcutil.NewAddressWitnessPubKeyHash(Hash160(pub.SerializeCompressed()), params)
	if err != nil {
		return "", fmt.Errorf("derive p2wpkh: %v", err)
	}
	return addr.EncodeAddress(), nil
}

// DeriveP2SHP2WPKH returns the nested segwit address: a P2SH wrap of the
// OP_0 <pubkeyhash> redeem script.
func DeriveP2SHP2WPKH(pub *btcec.PublicKey, params *chaincfg.Params) (string, error) {
	redeem, err := WitnessV0Script(Hash160(pub.SerializeCompressed()))
	if err != nil {
		return "", err
	}
	addr, err := btcutil.NewAddressScriptHash(redeem, params)
	if err != nil {
		return "", fmt.Errorf("derive p2sh-p2wpkh: %v", err)
	}
	return addr.EncodeAddress(), nil
}

// DeriveP2TR returns the taproot address for a 32-byte x-only key. The key
// is used as the output key directly, matching how wallets sign BIP-322
// simple proofs.
func DeriveP2TR(xonly []byte, params *chaincfg.Params) (string, error) {
	if len(xonly) != 32 {
		return "", fmt.Errorf("derive p2tr: x-only key is %d bytes", len(xonly))
	}
	addr, err := btcutil.NewAddressTaproot(xonly, params)
	if err != nil {
		return "", fmt.Errorf("derive p2tr: %v", err)
	}
	return addr.EncodeAddress(), nil
}

// Derive returns the address of the requested type for a recovered key.
func Derive(t Type, pub *btcec.PublicKey, compressed bool, params *chaincfg.Params) (string, error) {
	switch t {
	case P2PKH:
		return DeriveP2PKH(pub, compressed, params)
	case P2WPKH:
		return DeriveP2WPKH(pub, params)
	case P2SH:
		return DeriveP2SHP2WPKH(pub, params)
	case P2TR:
		return DeriveP2TR(pub.SerializeCompressed()[1:33], params)
	default:
		return "", fmt.Errorf("%w: type %d", ErrUnknownType, t)
	}
}

// WitnessV0Script builds the OP_0 <20-byte hash> witness program script.
func WitnessV0Script(pubKeyHash []byte) ([]byte, error) {
	script, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).
		AddData(pubKeyHash).
		Script()
	if err != nil {
		return nil, fmt.Errorf("build witness script: %v", err)
	}
	return script, nil
}

// PayToAddrScript returns the scriptPubKey that pays the claimed address.
func PayToAddrScript(addr string, params *chaincfg.Params) ([]byte, error) {
	decoded, err := btcutil.DecodeAddress(strings.TrimSpace(addr), params)
	if err != nil {
		return nil, fmt.Errorf("decode address %q: %v", addr, err)
	}
	script, err := txscript.PayToAddrScript(decoded)
	if err != nil {
		return nil, fmt.Errorf("script for %q: %v", addr, err)
	}
	return script, nil
}
