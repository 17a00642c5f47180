package merger

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

// extTuple is the msgpack extension type that wraps a tuple together with
// the id of its format.
const extTuple int8 = 7

// maxHeaderCount is the largest count an array header can carry.
const maxHeaderCount = int(min(uint64(math.MaxUint32), uint64(math.MaxInt)))

// DecodeHeader reads the array marker at the start of the unread data and
// returns the number of tuples that follow. An empty buffer yields 0.
func DecodeHeader(b *Buffer) (int, error) {
	if !b.valid() {
		return 0, dataErrf(ErrMalformedStream, nil, b.Rpos, nil, "inconsistent buffer cursors (rpos %d, wpos %d, len %d)", b.Rpos, b.Wpos, len(b.Buf))
	}
	data := b.Unread()
	if len(data) == 0 {
		return 0, nil
	}
	if !isArrayCode(data[0]) {
		return 0, dataErrf(ErrMalformedStream, data, 0, nil, "chunk must start with an array, got code 0x%02x", data[0])
	}

	var r bytes.Reader
	r.Reset(data)
	dec := msgpack.GetDecoder()
	dec.ResetDict(&r, nil)
	defer msgpack.PutDecoder(dec)

	n, err := dec.DecodeArrayLen()
	if err != nil {
		return 0, dataErrf(ErrMalformedStream, data, 0, err, "invalid array header")
	}
	b.Rpos += len(data) - r.Len()
	return n, nil
}

// DecodeTuple reads one tuple at the start of the unread data, advances the
// read cursor past it and materializes it with the given format (nil means
// DefaultFormat). Ext-wrapped tuples are unwrapped.
func DecodeTuple(b *Buffer, format *Format) (*Tuple, error) {
	if !b.valid() {
		return nil, dataErrf(ErrMalformedStream, nil, b.Rpos, nil, "inconsistent buffer cursors (rpos %d, wpos %d, len %d)", b.Rpos, b.Wpos, len(b.Buf))
	}
	data := b.Unread()
	if len(data) == 0 {
		return nil, dataErrf(ErrTruncatedStream, nil, 0, nil, "unexpected end of chunk")
	}

	n, err := skipValue(data)
	if err != nil {
		return nil, err
	}
	raw := data[:n]
	if msgpcode.IsExt(raw[0]) {
		raw, err = unwrapExtTuple(raw)
		if err != nil {
			return nil, err
		}
	}

	t, err := NewTuple(format, raw)
	if err != nil {
		return nil, err
	}
	b.Rpos += n
	return t, nil
}

// DecodeAll decodes a whole chunk: a header followed by that many tuples.
func DecodeAll(b *Buffer, format *Format) ([]*Tuple, error) {
	n, err := DecodeHeader(b)
	if err != nil {
		return nil, err
	}
	result := make([]*Tuple, 0, n)
	for range n {
		t, err := DecodeTuple(b, format)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, nil
}

// skipValue returns the length of the msgpack value at the start of data.
func skipValue(data []byte) (int, error) {
	var r bytes.Reader
	r.Reset(data)
	dec := msgpack.GetDecoder()
	dec.ResetDict(&r, nil)
	defer msgpack.PutDecoder(dec)

	if err := dec.Skip(); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return 0, dataErrf(ErrTruncatedStream, data, 0, err, "tuple extends past the end of chunk")
		}
		return 0, dataErrf(ErrMalformedStream, data, 0, err, "invalid tuple encoding")
	}
	return len(data) - r.Len(), nil
}

// unwrapExtTuple strips the ext header and the format id off an ext-wrapped
// tuple and returns the tuple array itself.
func unwrapExtTuple(raw []byte) ([]byte, error) {
	var r bytes.Reader
	r.Reset(raw)
	dec := msgpack.GetDecoder()
	dec.ResetDict(&r, nil)
	defer msgpack.PutDecoder(dec)

	typ, extLen, err := dec.DecodeExtHeader()
	if err != nil {
		return nil, dataErrf(ErrMalformedStream, raw, 0, err, "invalid extension header")
	}
	if typ != extTuple {
		return nil, dataErrf(ErrMalformedStream, raw, 0, nil, "unexpected extension type %d, wanted %d", typ, extTuple)
	}
	payloadOff := len(raw) - r.Len()
	if payloadOff+extLen != len(raw) {
		return nil, dataErrf(ErrMalformedStream, raw, payloadOff, nil, "extension length %d does not match its data", extLen)
	}
	c, err := dec.PeekCode()
	if err != nil || !isUnsignedCode(c) {
		return nil, dataErrf(ErrMalformedStream, raw, payloadOff, err, "extension tuple must start with a format id")
	}
	if _, err := dec.DecodeUint64(); err != nil {
		return nil, dataErrf(ErrMalformedStream, raw, payloadOff, err, "invalid format id")
	}
	off := len(raw) - r.Len()
	if off == len(raw) {
		return nil, dataErrf(ErrMalformedStream, raw, off, nil, "extension tuple has no data")
	}
	return raw[off:], nil
}

// AppendExtTuple appends t wrapped into a tuple extension carrying formatID,
// the form in which remote peers send tuples.
func AppendExtTuple(buf []byte, formatID uint64, t *Tuple) []byte {
	var id [9]byte
	idBuf := bytesBuilder{id[:0]}
	enc := msgpack.GetEncoder()
	enc.ResetDict(&idBuf, nil)
	ensure(enc.EncodeUint(formatID))

	bb := bytesBuilder{buf}
	enc.ResetDict(&bb, nil)
	ensure(enc.EncodeExtHeader(extTuple, len(idBuf.Buf)+len(t.data)))
	msgpack.PutEncoder(enc)

	buf = appendRaw(bb.Buf, idBuf.Buf)
	return appendRaw(buf, t.data)
}

// headerMark remembers where an array header was reserved and how wide it is.
type headerMark struct {
	pos      int
	width    int
	maxCount int
}

// reserveHeader reserves an array header wide enough for maxCount elements.
func reserveHeader(b *Buffer, maxCount int) headerMark {
	if maxCount < 0 || maxCount > maxHeaderCount {
		panic(fmt.Errorf("invalid header capacity %d", maxCount))
	}
	var width int
	switch {
	case maxCount <= 15:
		width = 1
	case maxCount <= math.MaxUint16:
		width = 3
	default:
		width = 5
	}
	mark := headerMark{pos: b.Wpos, width: width, maxCount: maxCount}
	b.Reserve(width)
	b.Wpos += width
	patchHeader(b, mark, 0)
	return mark
}

func appendTuple(b *Buffer, t *Tuple) {
	b.Write(t.data)
}

// patchHeader writes the final element count into a reserved header.
func patchHeader(b *Buffer, mark headerMark, count int) {
	if count < 0 || count > mark.maxCount {
		panic(fmt.Errorf("header count %d exceeds reserved maximum %d", count, mark.maxCount))
	}
	h := b.Buf[mark.pos : mark.pos+mark.width]
	switch mark.width {
	case 1:
		h[0] = msgpcode.FixedArrayLow | byte(count)
	case 3:
		h[0] = msgpcode.Array16
		binary.BigEndian.PutUint16(h[1:], uint16(count))
	default:
		h[0] = msgpcode.Array32
		binary.BigEndian.PutUint32(h[1:], uint32(count))
	}
}
