package codec

import "fmt"

// ParseDERSignature extracts (r, s) from an ASN.1 DER encoded ECDSA
// signature. Both values are returned left-padded to exactly 32 bytes.
// Any trailing sighash byte must be stripped by the caller first.
func ParseDERSignature(sig []byte) (r [32]byte, s [32]byte, err error) {
	if len(sig) < 6 {
		err = fmt.Errorf("%w: %d bytes", ErrMalformedDER, len(sig))
		return
	}
	if sig[0] != 0x30 {
		err = fmt.Errorf("%w: wrong sequence tag 0x%02x", ErrMalformedDER, sig[0])
		return
	}
	if int(sig[1]) != len(sig)-2 {
		err = fmt.Errorf("%w: sequence length %d does not match %d remaining bytes",
			ErrMalformedDER, sig[1], len(sig)-2)
		return
	}

	rBytes, rest, err := parseDERInteger(sig[2:])
	if err != nil {
		return
	}
	sBytes, rest, err := parseDERInteger(rest)
	if err != nil {
		return
	}
	if len(rest) != 0 {
		err = fmt.Errorf("%w: %d trailing bytes", ErrMalformedDER, len(rest))
		return
	}

	if err = padScalar(r[:], rBytes); err != nil {
		return
	}
	err = padScalar(s[:], sBytes)
	return
}

func parseDERInteger(data []byte) (value, rest []byte, err error) {
	if len(data) < 2 {
		return nil, nil, fmt.Errorf("%w: truncated integer header", ErrMalformedDER)
	}
	if data[0] != 0x02 {
		return nil, nil, fmt.Errorf("%w: wrong integer tag 0x%02x", ErrMalformedDER, data[0])
	}
	length := int(data[1])
	if length == 0 || len(data) < 2+length {
		return nil, nil, fmt.Errorf("%w: integer length %d exceeds %d remaining bytes",
			ErrMalformedDER, length, len(data)-2)
	}
	return data[2 : 2+length], data[2+length:], nil
}

// padScalar left-zero-pads value into dst. Values may carry one leading
// zero byte (DER sign bit handling) and still fit.
func padScalar(dst, value []byte) error {
	for len(value) > 0 && value[0] == 0x00 {
		value = value[1:]
	}
	if len(value) > len(dst) {
		return fmt.Errorf("%w: scalar is %d bytes", ErrMalformedDER, len(value))
	}
	copy(dst[len(dst)-len(value):], value)
	return nil
}
