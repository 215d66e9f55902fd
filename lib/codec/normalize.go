package codec

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// DecodeSignatureString decodes the opaque signature a wallet hands over.
// Base64 is the convention, but several wallets export hex, so that is
// accepted as a fallback.
func DecodeSignatureString(sig string) ([]byte, error) {
	sig = strings.TrimSpace(sig)
	if sig == "" {
		return nil, fmt.Errorf("%w: empty signature", ErrBadEncoding)
	}

	if raw, err := base64.StdEncoding.DecodeString(sig); err == nil {
		return raw, nil
	}

	cleaned := strings.TrimPrefix(strings.ToLower(sig), "0x")
	raw, err := hex.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("%w: not base64 or hex", ErrBadEncoding)
	}
	return raw, nil
}

// DecodeHexPadded decodes a hex string that must describe exactly size
// bytes. Strings one nibble short are left-padded with a zero; some
// signers drop the leading zero of an r value when hex-encoding.
func DecodeHexPadded(h string, size int) ([]byte, error) {
	if len(h) == size*2-1 {
		h = "0" + h
	}
	if len(h) != size*2 {
		return nil, fmt.Errorf("%w: want %d hex chars, have %d", ErrBadEncoding, size*2, len(h))
	}
	raw, err := hex.DecodeString(h)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadEncoding, err)
	}
	return raw, nil
}
