package merger

import (
	"iter"
)

// Unlimited is the limit that lets a sink drain the whole source. Any
// negative limit means the same.
const Unlimited = -1

// Collect reads up to limit tuples from src. On error the tuples read so far
// are discarded.
func Collect(src Source, format *Format, limit int) ([]*Tuple, error) {
	var result []*Tuple
	for limit < 0 || len(result) < limit {
		t, err := src.Next(format)
		if err != nil {
			return nil, err
		}
		if t == nil {
			break
		}
		result = append(result, t)
	}
	if result == nil {
		result = []*Tuple{}
	}
	return result, nil
}

// EncodeTo appends up to limit tuples read from src to b as a single msgpack
// array and returns the number of tuples written. On error the contents of
// b are undefined.
func EncodeTo(b *Buffer, src Source, format *Format, limit int) (int, error) {
	maxCount := limit
	if limit < 0 || limit > maxHeaderCount {
		maxCount = maxHeaderCount
	}
	mark := reserveHeader(b, maxCount)
	var count int
	for count < maxCount {
		t, err := src.Next(format)
		if err != nil {
			return 0, err
		}
		if t == nil {
			break
		}
		appendTuple(b, t)
		count++
	}
	patchHeader(b, mark, count)
	return count, nil
}

// Encode is EncodeTo into a fresh buffer, returning the encoded bytes.
func Encode(src Source, format *Format, limit int) ([]byte, error) {
	var b Buffer
	if _, err := EncodeTo(&b, src, format, limit); err != nil {
		return nil, err
	}
	return b.Written(), nil
}

// All iterates over the remaining tuples of src. Iteration stops after the
// first error.
func All(src Source, format *Format) iter.Seq2[*Tuple, error] {
	return func(yield func(*Tuple, error) bool) {
		for {
			t, err := src.Next(format)
			if err != nil {
				yield(nil, err)
				return
			}
			if t == nil || !yield(t, nil) {
				return
			}
		}
	}
}
