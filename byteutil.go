package merger

import (
	"io"
)

func ensureCapacity(buf []byte, minCap int) []byte {
	c := cap(buf)
	if minCap > c {
		if c < 16 {
			c = 16
		}
		for minCap > c {
			c <<= 1
		}
		old := buf
		buf = make([]byte, len(old), c)
		copy(buf, old)
	}
	return buf
}

func grow(buf []byte, n int) (int, []byte) {
	off := len(buf)
	newLen := off + n
	buf = ensureCapacity(buf, newLen)
	return off, buf[:newLen]
}

func appendRaw(buf []byte, chunk []byte) []byte {
	n := len(chunk)
	off, buf := grow(buf, n)
	copy(buf[off:], chunk)
	return buf
}

// bytesBuilder is an io.Writer sink for the msgpack encoder.
type bytesBuilder struct {
	Buf []byte
}

var _ io.Writer = (*bytesBuilder)(nil)

func (bb *bytesBuilder) Write(b []byte) (int, error) {
	bb.Buf = appendRaw(bb.Buf, b)
	return len(b), nil
}

func (bb *bytesBuilder) WriteByte(v byte) error {
	off, buf := grow(bb.Buf, 1)
	buf[off] = v
	bb.Buf = buf
	return nil
}

// Buffer is a growable byte buffer with separate read and write cursors.
// Bytes in Buf[Rpos:Wpos] are the unread data. Producers hand Buffers to
// buffer sources, which consume them by advancing Rpos.
type Buffer struct {
	Buf  []byte
	Rpos int
	Wpos int
}

// NewBuffer returns a Buffer whose unread data is exactly data. The buffer
// does not copy data.
func NewBuffer(data []byte) *Buffer {
	return &Buffer{Buf: data, Wpos: len(data)}
}

// Used returns the number of unread bytes. It is negative if the cursors are
// inconsistent.
func (b *Buffer) Used() int {
	return b.Wpos - b.Rpos
}

// Unread returns the unread bytes without consuming them.
func (b *Buffer) Unread() []byte {
	return b.Buf[b.Rpos:b.Wpos]
}

// Written returns everything written so far, read or not.
func (b *Buffer) Written() []byte {
	return b.Buf[:b.Wpos]
}

func (b *Buffer) valid() bool {
	return b.Rpos >= 0 && b.Rpos <= b.Wpos && b.Wpos <= len(b.Buf)
}

// Reserve makes room for at least n more bytes after Wpos and returns that
// region. It does not move Wpos.
func (b *Buffer) Reserve(n int) []byte {
	b.Buf = ensureCapacity(b.Buf[:b.Wpos], b.Wpos+n)
	b.Buf = b.Buf[:cap(b.Buf)]
	return b.Buf[b.Wpos : b.Wpos+n]
}

// Write appends p at Wpos.
func (b *Buffer) Write(p []byte) (int, error) {
	copy(b.Reserve(len(p)), p)
	b.Wpos += len(p)
	return len(p), nil
}

// Reset discards all data, keeping the allocated storage.
func (b *Buffer) Reset() {
	b.Rpos, b.Wpos = 0, 0
}
