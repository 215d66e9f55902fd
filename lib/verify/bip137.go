package verify

import (
	"github.com/btcsuite/btcd/chaincfg"

	"github.com/bitgate/gatekeeper/lib/address"
	"github.com/bitgate/gatekeeper/lib/msghash"
	"github.com/bitgate/gatekeeper/lib/recovery"
)

const recoverableSigSize = 65

// decodeFlag maps a BIP-137 header flag to the address type the signer
// declared, the recovery id, and key compression:
//
//	27-30  P2PKH, uncompressed key
//	31-34  P2PKH, compressed key
//	35-38  P2SH-P2WPKH
//	39-42  P2WPKH
func decodeFlag(flag byte) (address.Type, int, bool, bool) {
	if flag < 27 || flag > 42 {
		return address.Unknown, 0, false, false
	}
	recID := int((flag - 27) & 3)
	switch {
	case flag <= 30:
		return address.P2PKH, recID, false, true
	case flag <= 34:
		return address.P2PKH, recID, true, true
	case flag <= 38:
		return address.P2SH, recID, true, true
	default:
		return address.P2WPKH, recID, true, true
	}
}

func verifyRecoverable(addr string, claimedType address.Type, message string, sig []byte, opts Options) Result {
	impliedType, recID, compressed, ok := decodeFlag(sig[0])
	if !ok {
		return fail(ReasonFormat, "recovery flag %d out of range 27..42", sig[0])
	}

	hash := msghash.LegacyMessage(message)

	if opts.Mode == ModeStrict && impliedType != claimedType {
		return fail(ReasonMismatch, "flag declares %s but claimed address is %s", impliedType, claimedType)
	}

	res := fail(ReasonRecovery, "no key recovered")
	pub, err := recovery.RecoverPubKey(sig[1:], hash, recID, compressed)
	if err == nil {
		derived, derr := address.Derive(impliedType, pub, compressed, opts.Params)
		if derr == nil && address.Equal(derived, addr) {
			method := MethodBIP137
			if impliedType == address.P2PKH {
				method = MethodLegacyP2PKH
			}
			return pass(method, impliedType)
		}
		res = fail(ReasonMismatch, "recovered key does not derive the claimed %s address", claimedType)
	}

	if opts.Mode == ModePermissive {
		if loose := looseSearch(addr, sig[1:], hash, opts.Params); loose.Valid {
			return loose
		}
	}
	return res
}

// looseSearch ignores the flag byte entirely and tries every
// (recovery id, compression) pair against every derivable address type,
// taproot included. Several hardware-wallet integrations emit BIP-137
// signatures for segwit and taproot addresses under an arbitrary flag;
// this documented compatibility path accepts them in permissive mode only.
func looseSearch(addr string, sig64 []byte, hash [32]byte, params *chaincfg.Params) Result {
	for _, compressed := range []bool{true, false} {
		for recID := 0; recID < 4; recID++ {
			pub, err := recovery.RecoverPubKey(sig64, hash, recID, compressed)
			if err != nil {
				continue
			}
			for _, typ := range []address.Type{address.P2PKH, address.P2SH, address.P2WPKH, address.P2TR} {
				derived, err := address.Derive(typ, pub, compressed, params)
				if err != nil {
					continue
				}
				if address.Equal(derived, addr) {
					res := pass(MethodLooseBIP137, typ)
					res.Details = "accepted via loose BIP-137 search"
					return res
				}
			}
		}
	}
	return fail(ReasonMismatch, "loose search exhausted without a match")
}
