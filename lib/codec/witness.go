package codec

import "fmt"

// ParseWitnessStack decodes a serialized witness stack: a CompactSize item
// count followed by CompactSize-length-prefixed items. This is the framing
// BIP-322 full signatures arrive in.
func ParseWitnessStack(data []byte) ([][]byte, error) {
	count, n, err := DecodeVarInt(data)
	if err != nil {
		return nil, fmt.Errorf("witness item count: %w", err)
	}
	data = data[n:]

	items := make([][]byte, 0, count)
	for i := uint64(0); i < count; i++ {
		length, n, err := DecodeVarInt(data)
		if err != nil {
			return nil, fmt.Errorf("witness item %d length: %w", i, err)
		}
		data = data[n:]
		if uint64(len(data)) < length {
			return nil, fmt.Errorf("%w: witness item %d wants %d bytes, %d remain",
				ErrTruncated, i, length, len(data))
		}
		items = append(items, data[:length])
		data = data[length:]
	}
	if len(data) != 0 {
		return nil, fmt.Errorf("%w: %d bytes after final witness item", ErrBadEncoding, len(data))
	}
	return items, nil
}

// SerializeWitnessStack is the inverse of ParseWitnessStack.
func SerializeWitnessStack(items [][]byte) []byte {
	out := EncodeVarInt(uint64(len(items)))
	for _, item := range items {
		out = append(out, EncodeVarInt(uint64(len(item)))...)
		out = append(out, item...)
	}
	return out
}
