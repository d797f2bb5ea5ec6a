package encoding

import (
	"encoding/binary"
	"math"
	"time"

	"toposdb/src/kgerr"
)

// StringMaxLength is the largest encodable string value. The length is
// stored in a single prefix byte.
const StringMaxLength = 255

// DateTimeZone is the canonical zone all datetimes are encoded in, so that
// encoded bytes order the same as the instants they represent.
var DateTimeZone = time.UTC

// EncodeBool encodes a boolean as a single byte.
func EncodeBool(value bool) []byte {
	if value {
		return []byte{1}
	}
	return []byte{0}
}

// DecodeBool decodes a boolean encoded by EncodeBool.
func DecodeBool(bytes []byte) bool {
	return len(bytes) == 1 && bytes[0] == 1
}

// EncodeLong encodes a signed 64-bit integer so that unsigned lexicographic
// byte order matches numeric order: big-endian with the sign bit flipped.
func EncodeLong(value int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(value)^(1<<63))
	return buf
}

// DecodeLong decodes an integer encoded by EncodeLong.
func DecodeLong(bytes []byte) int64 {
	return int64(binary.BigEndian.Uint64(bytes) ^ (1 << 63))
}

// EncodeDouble encodes an IEEE-754 double so byte order matches numeric
// order: positive values get the sign bit flipped, negative values are
// fully complemented.
func EncodeDouble(value float64) []byte {
	bits := math.Float64bits(value)
	if bits&(1<<63) == 0 {
		bits ^= 1 << 63
	} else {
		bits = ^bits
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, bits)
	return buf
}

// DecodeDouble decodes a double encoded by EncodeDouble.
func DecodeDouble(bytes []byte) float64 {
	bits := binary.BigEndian.Uint64(bytes)
	if bits&(1<<63) != 0 {
		bits ^= 1 << 63
	} else {
		bits = ^bits
	}
	return math.Float64frombits(bits)
}

// EncodeString encodes a string as a one-byte length followed by its UTF-8
// bytes. Strings longer than StringMaxLength are rejected.
func EncodeString(value string) ([]byte, error) {
	raw := []byte(value)
	if len(raw) > StringMaxLength {
		return nil, kgerr.Of(kgerr.ErrValueTooLong, "%d bytes (max %d)", len(raw), StringMaxLength)
	}
	buf := make([]byte, 1+len(raw))
	buf[0] = byte(len(raw))
	copy(buf[1:], raw)
	return buf, nil
}

// DecodeString decodes a string encoded by EncodeString.
func DecodeString(bytes []byte) string {
	if len(bytes) == 0 {
		return ""
	}
	n := int(bytes[0])
	if n > len(bytes)-1 {
		n = len(bytes) - 1
	}
	return string(bytes[1 : 1+n])
}

// EncodeDateTime encodes a datetime as big-endian epoch milliseconds in the
// canonical zone.
func EncodeDateTime(value time.Time) []byte {
	return EncodeLong(value.In(DateTimeZone).UnixMilli())
}

// DecodeDateTime decodes a datetime encoded by EncodeDateTime.
func DecodeDateTime(bytes []byte) time.Time {
	return time.UnixMilli(DecodeLong(bytes)).In(DateTimeZone)
}
