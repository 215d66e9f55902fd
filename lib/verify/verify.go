// Package verify dispatches an address-ownership claim across the
// signature formats produced by real wallets: legacy/BIP-137 recoverable
// ECDSA, BIP-322 simple Schnorr proofs for taproot, and BIP-322 full
// virtual-transaction witnesses. The chain is ordered and terminal on the
// first success.
package verify

import (
	"strings"

	"github.com/btcsuite/btcd/chaincfg"

	"github.com/bitgate/gatekeeper/lib/address"
	"github.com/bitgate/gatekeeper/lib/codec"
)

// Mode selects between spec-only verification and the compatibility
// behavior non-spec-perfect wallets need.
type Mode int

const (
	// ModeStrict accepts only signatures whose declared format agrees
	// with the claimed address type.
	ModeStrict Mode = iota
	// ModePermissive additionally tries the loose BIP-137 search and
	// message-normalization retries.
	ModePermissive
)

// Options configures a verification call. A nil Params defaults to
// mainnet.
type Options struct {
	Mode   Mode
	Params *chaincfg.Params
}

const taprootSigPrefix = "tr:"

// Verify checks that signature proves ownership of addr for message.
// It never panics and never reports malformed input as anything other
// than an invalid Result.
func Verify(addr, message, signature string, opts Options) Result {
	if opts.Params == nil {
		opts.Params = &chaincfg.MainNetParams
	}

	claimedType, err := address.Classify(addr)
	if err != nil {
		return fail(ReasonFormat, "unsupported address: %v", err)
	}

	first := verifyOnce(addr, claimedType, message, signature, opts)
	if first.Valid || opts.Mode != ModePermissive {
		return first
	}

	// Some wallets trim, re-wrap or append whitespace to the text before
	// signing it. Retry the whole chain over normalized variants.
	for _, variant := range messageVariants(message) {
		if res := verifyOnce(addr, claimedType, variant, signature, opts); res.Valid {
			res.Details = "matched after message normalization"
			return res
		}
	}
	return first
}

func verifyOnce(addr string, claimedType address.Type, message, signature string, opts Options) Result {
	if strings.HasPrefix(strings.TrimSpace(signature), taprootSigPrefix) {
		return verifyTaprootSimple(addr, message, signature, opts.Params)
	}

	raw, err := codec.DecodeSignatureString(signature)
	if err != nil {
		return fail(ReasonFormat, "decode signature: %v", err)
	}

	// The fixed 65-byte recoverable form is checked by size first; its
	// flag byte (27..42) would otherwise read as a witness item count.
	if len(raw) == recoverableSigSize {
		return verifyRecoverable(addr, claimedType, message, raw, opts)
	}

	// A serialized witness stack opens with its item count; anything with
	// two or more items is a BIP-322 full signature.
	if len(raw) > 0 && raw[0] >= 2 {
		return verifyFull(addr, claimedType, message, raw, opts.Params)
	}

	return fail(ReasonFormat, "signature is %d bytes: not a witness stack or recoverable signature", len(raw))
}

// messageVariants returns deduplicated rewrites of message covering the
// observed wallet mutations: whitespace trims, CRLF unification and
// appended trailing whitespace.
func messageVariants(message string) []string {
	seen := map[string]bool{message: true}
	var out []string
	add := func(s string) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}

	trimmed := strings.TrimSpace(message)
	unified := strings.ReplaceAll(message, "\r\n", "\n")

	add(trimmed)
	add(unified)
	add(strings.TrimSpace(unified))
	add(message + " ")
	add(message + "\n")
	add(message + "\r\n")
	add(trimmed + " ")
	add(trimmed + "\n")
	add(trimmed + "\r\n")
	return out
}
