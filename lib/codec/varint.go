package codec

import (
	"encoding/binary"
	"fmt"
)

// EncodeVarInt serializes n using Bitcoin CompactSize rules.
func EncodeVarInt(n uint64) []byte {
	switch {
	case n < 0xfd:
		return []byte{byte(n)}
	case n <= 0xffff:
		buf := make([]byte, 3)
		buf[0] = 0xfd
		binary.LittleEndian.PutUint16(buf[1:], uint16(n))
		return buf
	case n <= 0xffffffff:
		buf := make([]byte, 5)
		buf[0] = 0xfe
		binary.LittleEndian.PutUint32(buf[1:], uint32(n))
		return buf
	default:
		buf := make([]byte, 9)
		buf[0] = 0xff
		binary.LittleEndian.PutUint64(buf[1:], n)
		return buf
	}
}

// DecodeVarInt reads a CompactSize integer from the front of data and
// returns the value together with the number of bytes consumed.
func DecodeVarInt(data []byte) (uint64, int, error) {
	if len(data) == 0 {
		return 0, 0, fmt.Errorf("%w: empty varint", ErrTruncated)
	}

	switch data[0] {
	case 0xfd:
		if len(data) < 3 {
			return 0, 0, fmt.Errorf("%w: need 3 bytes, have %d", ErrTruncated, len(data))
		}
		return uint64(binary.LittleEndian.Uint16(data[1:3])), 3, nil
	case 0xfe:
		if len(data) < 5 {
			return 0, 0, fmt.Errorf("%w: need 5 bytes, have %d", ErrTruncated, len(data))
		}
		return uint64(binary.LittleEndian.Uint32(data[1:5])), 5, nil
	case 0xff:
		if len(data) < 9 {
			return 0, 0, fmt.Errorf("%w: need 9 bytes, have %d", ErrTruncated, len(data))
		}
		return binary.LittleEndian.Uint64(data[1:9]), 9, nil
	default:
		return uint64(data[0]), 1, nil
	}
}
