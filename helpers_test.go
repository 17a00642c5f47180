package merger

import (
	"encoding/hex"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
)

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

var intKey = MustKeyDef(KeyPart{Field: 0, Type: FieldInteger})

func tup(values ...any) *Tuple {
	return must(TupleOf(nil, values...))
}

// rows returns (key, "v<key>") rows for the given keys.
func rows(keys ...int) [][]any {
	result := make([][]any, len(keys))
	for i, k := range keys {
		result[i] = []any{k, fmt.Sprintf("v%d", k)}
	}
	return result
}

func chunkOf(rows [][]any) []byte {
	var b Buffer
	mark := reserveHeader(&b, len(rows))
	for _, vals := range rows {
		b.Write(must(encodeArray(nil, vals)))
	}
	patchHeader(&b, mark, len(rows))
	return b.Written()
}

func chunkSource(chunks ...[]byte) *BufferSource {
	return NewBufferSource(SliceIterator(chunks))
}

func keysSource(keys ...int) *BufferSource {
	return chunkSource(chunkOf(rows(keys...)))
}

func keyOf(t *Tuple) int64 {
	return intField(t, 0)
}

func intField(t *Tuple, i int) int64 {
	n := toNumber(t.Field(i))
	if n.kind == 1 {
		return int64(n.u)
	}
	return n.i
}

func keysOf(tuples []*Tuple) []int64 {
	result := make([]int64, len(tuples))
	for i, t := range tuples {
		result[i] = keyOf(t)
	}
	return result
}

func int64s(values ...int64) []int64 {
	if values == nil {
		return []int64{}
	}
	return values
}

func unhex(s string) []byte {
	return must(hex.DecodeString(strings.ReplaceAll(s, " ", "")))
}

func deepEqual(a, e any) bool {
	return reflect.DeepEqual(a, e)
}

func expectErr(t testing.TB, err error, kind error) {
	t.Helper()
	if err == nil {
		t.Fatalf("** err = nil, wanted %v", kind)
	}
	if !errors.Is(err, kind) {
		t.Fatalf("** err = %v, wanted %v", err, kind)
	}
}

func expectPanic(t testing.TB, msg string, f func()) {
	t.Helper()
	defer func() {
		e := recover()
		if e == nil {
			t.Fatalf("** %s: no panic", msg)
		}
	}()
	f()
}

// fakeSource is a Source that serves prepared tuples and records how it is
// used.
type fakeSource struct {
	tuples   []*Tuple
	err      error // returned by Next after tuples are exhausted
	closeErr error

	nexts  int
	closes int
}

func (s *fakeSource) Next(format *Format) (*Tuple, error) {
	s.nexts++
	if len(s.tuples) > 0 {
		t := s.tuples[0]
		s.tuples = s.tuples[1:]
		return t, nil
	}
	return nil, s.err
}

func (s *fakeSource) Close() error {
	s.closes++
	return s.closeErr
}
