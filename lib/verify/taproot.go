package verify

import (
	"strings"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/chaincfg"

	"github.com/bitgate/gatekeeper/lib/address"
	"github.com/bitgate/gatekeeper/lib/codec"
	"github.com/bitgate/gatekeeper/lib/msghash"
)

// verifyTaprootSimple handles the tagged `tr:<sig-hex>:<pubkey-hex>` form:
// a BIP-322 simple proof, a bare Schnorr signature over the tagged message
// hash. The signer's x-only key must derive the claimed P2TR address.
func verifyTaprootSimple(addr, message, signature string, params *chaincfg.Params) Result {
	parts := strings.Split(strings.TrimSpace(signature), ":")
	if len(parts) != 3 || parts[0] != "tr" {
		return fail(ReasonFormat, "taproot signature must be tr:<sig>:<pubkey>")
	}

	// 127-hex signatures are accepted: some signers drop the leading zero
	// nibble when hex-encoding.
	sigBytes, err := codec.DecodeHexPadded(parts[1], schnorr.SignatureSize)
	if err != nil {
		return fail(ReasonFormat, "taproot signature hex: %v", err)
	}
	pubBytes, err := codec.DecodeHexPadded(parts[2], 32)
	if err != nil {
		return fail(ReasonFormat, "taproot pubkey hex: %v", err)
	}

	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return fail(ReasonFormat, "parse schnorr signature: %v", err)
	}
	pub, err := schnorr.ParsePubKey(pubBytes)
	if err != nil {
		return fail(ReasonFormat, "parse x-only pubkey: %v", err)
	}

	hash := msghash.BIP322Message(message)
	if !sig.Verify(hash[:], pub) {
		return fail(ReasonMismatch, "schnorr signature does not commit to this message")
	}

	derived, err := address.DeriveP2TR(pubBytes, params)
	if err != nil {
		return fail(ReasonRecovery, "derive p2tr: %v", err)
	}
	if !address.Equal(derived, addr) {
		return fail(ReasonMismatch, "signing key derives a different p2tr address")
	}
	return pass(MethodBIP322Simple, address.P2TR)
}
