package verify

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg"

	"github.com/bitgate/gatekeeper/lib/address"
	"github.com/bitgate/gatekeeper/lib/bip322"
	"github.com/bitgate/gatekeeper/lib/codec"
)

// verifyFull handles BIP-322 full signatures: the decoded payload is a
// serialized witness stack `[signature, pubkey]` for the to_sign virtual
// transaction spending the message commitment in to_spend.
func verifyFull(addr string, claimedType address.Type, message string, raw []byte, params *chaincfg.Params) Result {
	stack, err := codec.ParseWitnessStack(raw)
	if err != nil {
		return fail(ReasonFormat, "parse witness stack: %v", err)
	}
	if len(stack) < 2 {
		return fail(ReasonFormat, "witness stack has %d items, need signature and pubkey", len(stack))
	}
	sigItem, pubItem := stack[0], stack[1]

	if claimedType == address.P2TR {
		// Taproot full signatures would need a BIP-341 key-path sighash;
		// taproot wallets produce the simple form instead.
		return fail(ReasonFormat, "taproot claims use the tr:<sig>:<pubkey> simple form")
	}

	pub, err := btcec.ParsePubKey(pubItem)
	if err != nil {
		return fail(ReasonFormat, "parse witness pubkey: %v", err)
	}

	sig, res := parseWitnessSignature(sigItem)
	if sig == nil {
		return res
	}

	scriptPubKey, err := address.PayToAddrScript(addr, params)
	if err != nil {
		return fail(ReasonFormat, "claimed address script: %v", err)
	}

	toSpend, err := bip322.BuildToSpend(message, scriptPubKey)
	if err != nil {
		return fail(ReasonFormat, "build to_spend: %v", err)
	}
	toSign := bip322.BuildToSign(toSpend)

	var sighash [32]byte
	switch claimedType {
	case address.P2PKH:
		sighash, err = bip322.LegacySighash(toSign, scriptPubKey)
	case address.P2WPKH, address.P2SH:
		sighash, err = bip322.WitnessV0Sighash(toSign, address.Hash160(pub.SerializeCompressed()))
	default:
		return fail(ReasonFormat, "unsupported address type %s for full signatures", claimedType)
	}
	if err != nil {
		return fail(ReasonFormat, "compute sighash: %v", err)
	}

	if !sig.Verify(sighash[:], pub) {
		return fail(ReasonMismatch, "witness signature does not commit to this message")
	}

	derived, err := address.Derive(claimedType, pub, true, params)
	if err != nil {
		return fail(ReasonRecovery, "derive %s: %v", claimedType, err)
	}
	if !address.Equal(derived, addr) {
		return fail(ReasonMismatch, "witness pubkey does not derive the claimed %s address", claimedType)
	}

	return pass(MethodBIP322Full, claimedType)
}

// parseWitnessSignature accepts a DER signature with an optional trailing
// sighash byte, or a raw 64-byte (r || s) pair.
func parseWitnessSignature(item []byte) (*ecdsa.Signature, Result) {
	if len(item) > 0 && item[0] == 0x30 {
		// DER length is self-describing; exactly one extra byte means a
		// sighash type is appended and must be stripped before parsing.
		if len(item) >= 2 && int(item[1]) == len(item)-3 {
			item = item[:len(item)-1]
		}
	} else if len(item) == 65 {
		item = item[:64]
	}

	var rb, sb [32]byte
	if len(item) == 64 {
		copy(rb[:], item[:32])
		copy(sb[:], item[32:])
	} else {
		var err error
		rb, sb, err = codec.ParseDERSignature(item)
		if err != nil {
			return nil, fail(ReasonFormat, "parse witness signature: %v", err)
		}
	}

	var r, s btcec.ModNScalar
	if overflow := r.SetByteSlice(rb[:]); overflow {
		return nil, fail(ReasonFormat, "signature r overflows the curve order")
	}
	if overflow := s.SetByteSlice(sb[:]); overflow {
		return nil, fail(ReasonFormat, "signature s overflows the curve order")
	}
	return ecdsa.NewSignature(&r, &s), Result{}
}
