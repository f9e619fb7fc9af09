// Package codec implements the variable-length integer encoding used by all
// on-disk index structures.
//
// Values are encoded as a sequence of 7-bit groups, least-significant group
// first. Bit 7 of every byte is a continuation flag: 1 means another byte
// follows, 0 terminates the value. Small values therefore occupy a single
// byte, which matters because postings store docID deltas and term
// frequencies that are overwhelmingly small.
//
// A 32-bit value occupies at most 5 bytes, a 64-bit value at most 10. A
// decoder that does not see a terminator within that budget reports
// [ErrMalformedVarint] instead of reading on.
package codec

import (
	"errors"
	"fmt"
	"io"
)

const (
	// MaxVarint32Len is the maximum encoded length of a 32-bit value.
	MaxVarint32Len = 5
	// MaxVarint64Len is the maximum encoded length of a 64-bit value.
	MaxVarint64Len = 10
)

var (
	// ErrMalformedVarint is returned when the terminator byte does not
	// arrive within the width budget of the value being decoded.
	ErrMalformedVarint = errors.New("codec: malformed varint")

	// ErrNonMonotonic is returned by the delta encoder when the input
	// sequence is not strictly increasing.
	ErrNonMonotonic = errors.New("codec: sequence is not strictly increasing")
)

// WriteUvarint32 encodes v and writes it to w. It returns the number of
// bytes written.
func WriteUvarint32(w io.ByteWriter, v uint32) (int, error) {
	n := 0
	for v >= 0x80 {
		if err := w.WriteByte(byte(v) | 0x80); err != nil {
			return n, err
		}
		v >>= 7
		n++
	}
	if err := w.WriteByte(byte(v)); err != nil {
		return n, err
	}
	return n + 1, nil
}

// ReadUvarint32 decodes a single 32-bit varint from r.
func ReadUvarint32(r io.ByteReader) (uint32, error) {
	var v uint32
	var shift uint
	for i := 0; i < MaxVarint32Len; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		v |= uint32(b&0x7F) << shift
		if b&0x80 == 0 {
			return v, nil
		}
		shift += 7
	}
	return 0, fmt.Errorf("%w: no terminator within %d bytes", ErrMalformedVarint, MaxVarint32Len)
}

// WriteUvarint64 encodes v and writes it to w. It returns the number of
// bytes written.
func WriteUvarint64(w io.ByteWriter, v uint64) (int, error) {
	n := 0
	for v >= 0x80 {
		if err := w.WriteByte(byte(v) | 0x80); err != nil {
			return n, err
		}
		v >>= 7
		n++
	}
	if err := w.WriteByte(byte(v)); err != nil {
		return n, err
	}
	return n + 1, nil
}

// ReadUvarint64 decodes a single 64-bit varint from r.
func ReadUvarint64(r io.ByteReader) (uint64, error) {
	var v uint64
	var shift uint
	for i := 0; i < MaxVarint64Len; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		v |= uint64(b&0x7F) << shift
		if b&0x80 == 0 {
			return v, nil
		}
		shift += 7
	}
	return 0, fmt.Errorf("%w: no terminator within %d bytes", ErrMalformedVarint, MaxVarint64Len)
}

// Uvarint32Size returns the exact number of bytes WriteUvarint32 produces
// for v.
func Uvarint32Size(v uint32) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}

// Uvarint64Size returns the exact number of bytes WriteUvarint64 produces
// for v.
func Uvarint64Size(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}
