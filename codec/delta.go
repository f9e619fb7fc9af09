package codec

import (
	"fmt"
	"io"
)

// Deltas converts a strictly increasing sequence into its delta form: the
// first value is kept as-is, every following element becomes the difference
// to its predecessor. Postings docIDs and per-document positions are both
// strictly increasing, so their deltas compress well under varint.
func Deltas(values []uint32) ([]uint32, error) {
	if len(values) == 0 {
		return nil, nil
	}
	deltas := make([]uint32, len(values))
	deltas[0] = values[0]
	for i := 1; i < len(values); i++ {
		if values[i] <= values[i-1] {
			return nil, fmt.Errorf("%w: value %d at index %d", ErrNonMonotonic, values[i], i)
		}
		deltas[i] = values[i] - values[i-1]
	}
	return deltas, nil
}

// Undeltas reconstructs the original sequence from its delta form by prefix
// sum.
func Undeltas(deltas []uint32) []uint32 {
	if len(deltas) == 0 {
		return nil
	}
	values := make([]uint32, len(deltas))
	values[0] = deltas[0]
	for i := 1; i < len(deltas); i++ {
		values[i] = values[i-1] + deltas[i]
	}
	return values
}

// WriteDeltaUvarint32 delta-encodes a strictly increasing sequence and
// writes it as varints. It returns the number of bytes written.
func WriteDeltaUvarint32(w io.ByteWriter, values []uint32) (int, error) {
	deltas, err := Deltas(values)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, d := range deltas {
		n, err := WriteUvarint32(w, d)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// ReadDeltaUvarint32 reads count delta-encoded varints from r and
// reconstructs the original sequence.
func ReadDeltaUvarint32(r io.ByteReader, count int) ([]uint32, error) {
	if count <= 0 {
		return nil, nil
	}
	values := make([]uint32, count)
	prev := uint32(0)
	for i := 0; i < count; i++ {
		d, err := ReadUvarint32(r)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			prev = d
		} else {
			prev += d
		}
		values[i] = prev
	}
	return values, nil
}

// DeltaUvarint32Size returns the exact number of bytes
// WriteDeltaUvarint32 produces for values.
func DeltaUvarint32Size(values []uint32) (int, error) {
	deltas, err := Deltas(values)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, d := range deltas {
		total += Uvarint32Size(d)
	}
	return total, nil
}
