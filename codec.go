package bptree

import (
	"encoding/binary"
	"fmt"
)

// Codec encodes and decodes values of type T to and from a deterministic,
// order-preserving byte representation. The Tree compares encoded keys with
// bytes.Compare, so Encode must be monotonic: for any a, b of type T,
// bytes.Compare(Encode(a), Encode(b)) must have the same sign as comparing
// a and b logically.
type Codec[T any] interface {
	Encode(v T) ([]byte, error)
	Decode(b []byte) (T, error)
}

// BytesCodec stores []byte values verbatim. Byte-slice comparison order is
// lexicographic, which is the natural order for opaque byte keys.
type BytesCodec struct{}

func (BytesCodec) Encode(v []byte) ([]byte, error) { return v, nil }
func (BytesCodec) Decode(b []byte) ([]byte, error) {
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

// StringCodec stores strings verbatim; Go string comparison is byte-wise,
// so lexicographic byte order matches logical string order.
type StringCodec struct{}

func (StringCodec) Encode(v string) ([]byte, error) { return []byte(v), nil }
func (StringCodec) Decode(b []byte) (string, error) { return string(b), nil }

// Uint64Codec encodes uint64 values big-endian so that byte-wise comparison
// matches numeric comparison.
type Uint64Codec struct{}

func (Uint64Codec) Encode(v uint64) ([]byte, error) {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b, nil
}

func (Uint64Codec) Decode(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("uint64 codec: want 8 bytes, got %d", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

// Int64Codec encodes int64 values big-endian with the sign bit flipped, so
// that byte-wise comparison matches signed numeric comparison.
type Int64Codec struct{}

func (Int64Codec) Encode(v int64) ([]byte, error) {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v)^(1<<63))
	return b, nil
}

func (Int64Codec) Decode(b []byte) (int64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("int64 codec: want 8 bytes, got %d", len(b))
	}
	return int64(binary.BigEndian.Uint64(b) ^ (1 << 63)), nil
}
