package merger

import (
	"bytes"
	"errors"
	"testing"
)

func TestCollect_limit(t *testing.T) {
	all := int64s(1, 2, 3, 4, 5, 6)
	for limit := 0; limit <= 8; limit++ {
		m := newMerger(t, intKey, MergerOptions{}, keysSource(1, 3, 5), keysSource(2, 4, 6))
		tuples, err := Collect(m, nil, limit)
		if err != nil {
			t.Fatalf("** Collect(limit %d) failed: %v", limit, err)
		}
		e := all[:min(limit, len(all))]
		if a := keysOf(tuples); !deepEqual(a, e) {
			t.Errorf("** Collect(limit %d) = %v, wanted %v", limit, a, e)
		}
		ensure(m.Close())
	}
}

func TestEncode_limit(t *testing.T) {
	for limit := 0; limit <= 8; limit++ {
		m := newMerger(t, intKey, MergerOptions{}, keysSource(1, 3, 5), keysSource(2, 4, 6))
		data, err := Encode(m, nil, limit)
		if err != nil {
			t.Fatalf("** Encode(limit %d) failed: %v", limit, err)
		}
		ensure(m.Close())

		n := min(limit, 6)
		if e := chunkOf(rows(1, 2, 3, 4, 5, 6)[:n]); !bytes.Equal(data, e) {
			t.Errorf("** Encode(limit %d) = %x, wanted %x", limit, data, e)
		}
	}
}

func TestSinks_zeroLimitDoesNotRead(t *testing.T) {
	src := &fakeSource{tuples: []*Tuple{tup(1)}}

	tuples := must(Collect(src, nil, 0))
	if tuples == nil || len(tuples) != 0 {
		t.Errorf("** Collect = %#v, wanted empty non-nil slice", tuples)
	}

	var b Buffer
	n := must(EncodeTo(&b, src, nil, 0))
	if n != 0 {
		t.Errorf("** EncodeTo wrote %d tuples, wanted 0", n)
	}
	if a, e := b.Written(), unhex("90"); !bytes.Equal(a, e) {
		t.Errorf("** EncodeTo = %x, wanted %x", a, e)
	}
	if src.nexts != 0 {
		t.Errorf("** source read %d times, wanted 0", src.nexts)
	}
}

func TestEncode_roundTrip(t *testing.T) {
	mk := func() Source {
		single := NewSingleSource(SliceIterator([]any{[]any{2, nil, 1.5}, []any{7, []byte{1, 2}, map[string]any{"k": true}}}))
		return newMerger(t, intKey, MergerOptions{}, keysSource(1, 3, 5, 7), single, keysSource(2, 4))
	}

	src := mk()
	data := must(Encode(src, nil, Unlimited))
	ensure(src.Close())
	decoded := must(DecodeAll(NewBuffer(data), nil))

	src = mk()
	collected := must(Collect(src, nil, Unlimited))
	ensure(src.Close())

	if len(decoded) != len(collected) {
		t.Fatalf("** decoded %d tuples, collected %d", len(decoded), len(collected))
	}
	for i := range decoded {
		if a, e := decoded[i].Bytes(), collected[i].Bytes(); !bytes.Equal(a, e) {
			t.Errorf("** tuple %d = %x, wanted %x", i, a, e)
		}
	}
}

func TestEncodeTo_headerWidth(t *testing.T) {
	tests := []struct {
		limit  int
		header string
	}{
		{0, "90"},
		{2, "92"},
		{15, "92"},
		{16, "dc 00 02"},
		{65535, "dc 00 02"},
		{65536, "dd 00 00 00 02"},
		{Unlimited, "dd 00 00 00 02"},
	}
	for _, test := range tests {
		var b Buffer
		if _, err := EncodeTo(&b, keysSource(1, 2), nil, test.limit); err != nil {
			t.Fatalf("** EncodeTo(limit %d) failed: %v", test.limit, err)
		}
		hdr := unhex(test.header)
		if test.limit == 0 {
			if a := b.Written(); !bytes.Equal(a, hdr) {
				t.Errorf("** EncodeTo(limit %d) = %x, wanted %x", test.limit, a, hdr)
			}
			continue
		}
		if a := b.Written(); !bytes.HasPrefix(a, hdr) {
			t.Errorf("** EncodeTo(limit %d) = %x, wanted header %x", test.limit, a, hdr)
		}
		if a, e := b.Written()[len(hdr):], chunkOf(rows(1, 2))[1:]; !bytes.Equal(a, e) {
			t.Errorf("** EncodeTo(limit %d) body = %x, wanted %x", test.limit, a, e)
		}
		if a := keysOf(must(DecodeAll(&b, nil))); !deepEqual(a, int64s(1, 2)) {
			t.Errorf("** EncodeTo(limit %d) decodes to %v", test.limit, a)
		}
	}
}

func TestEncodeTo_appends(t *testing.T) {
	b := NewBuffer([]byte("xyz"))
	b.Rpos = 3
	n := must(EncodeTo(b, keysSource(4), nil, 5))
	if n != 1 {
		t.Errorf("** EncodeTo wrote %d tuples, wanted 1", n)
	}
	if a, e := b.Written(), append([]byte("xyz"), chunkOf(rows(4))...); !bytes.Equal(a, e) {
		t.Errorf("** buffer = %x, wanted %x", a, e)
	}
	if a := keysOf(must(DecodeAll(b, nil))); !deepEqual(a, int64s(4)) {
		t.Errorf("** decoded %v, wanted [4]", a)
	}
}

func TestSinks_errors(t *testing.T) {
	boom := errors.New("boom")
	src := &fakeSource{tuples: []*Tuple{tup(1), tup(2)}, err: boom}
	tuples, err := Collect(src, nil, Unlimited)
	if err != boom || tuples != nil {
		t.Errorf("** Collect = %v, %v, wanted nil, %v", tuples, err, boom)
	}

	src = &fakeSource{tuples: []*Tuple{tup(1)}, err: boom}
	if _, err := Encode(src, nil, Unlimited); err != boom {
		t.Errorf("** Encode err = %v, wanted %v", err, boom)
	}

	strs := NewSingleSource(SliceIterator([]any{[]any{"x"}}))
	defer strs.Close()
	intFormat := NewFormat("ints", Field{Type: FieldInteger})
	if _, err := Collect(strs, intFormat, Unlimited); !errors.Is(err, ErrValidation) {
		t.Errorf("** Collect err = %v, wanted %v", err, ErrValidation)
	}
}

func TestAll(t *testing.T) {
	m := newMerger(t, intKey, MergerOptions{}, keysSource(1, 3, 5), keysSource(2, 4, 6))
	defer m.Close()

	var got []int64
	for tt, err := range All(m, nil) {
		if err != nil {
			t.Fatalf("** All failed: %v", err)
		}
		got = append(got, keyOf(tt))
		if len(got) == 3 {
			break
		}
	}
	if a, e := got, int64s(1, 2, 3); !deepEqual(a, e) {
		t.Errorf("** got %v, wanted %v", a, e)
	}

	// the rest is still there
	if a, e := collectKeys(t, m, nil), int64s(4, 5, 6); !deepEqual(a, e) {
		t.Errorf("** rest = %v, wanted %v", a, e)
	}
}

func TestAll_error(t *testing.T) {
	boom := errors.New("boom")
	src := &fakeSource{tuples: []*Tuple{tup(1)}, err: boom}
	var n int
	var last error
	for _, err := range All(src, nil) {
		n++
		last = err
	}
	if n != 2 || last != boom {
		t.Errorf("** iterated %d times ending with %v, wanted 2 ending with %v", n, last, boom)
	}
}
