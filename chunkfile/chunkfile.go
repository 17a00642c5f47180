// Package chunkfile writes encoded tuple chunks to an append-only file and
// replays them from a read-only memory mapping.
//
// File format: record*, where record = size:uvarint chunk:size checksum:64
// and checksum is the little-endian xxhash64 of the chunk.
package chunkfile

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"github.com/andreyvit/merger"
	"github.com/cespare/xxhash/v2"
)

var ErrCorrupt = errors.New("corrupt chunk file")

const checksumSize = 8

type Writer struct {
	f      *os.File
	w      *bufio.Writer
	chunks int
}

// Create creates or truncates the file at path.
func Create(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0666)
	if err != nil {
		return nil, err
	}
	return &Writer{f: f, w: bufio.NewWriter(f)}, nil
}

// Append writes one encoded chunk.
func (w *Writer) Append(chunk []byte) error {
	var hdr [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(hdr[:], uint64(len(chunk)))
	if _, err := w.w.Write(hdr[:n]); err != nil {
		return err
	}
	if _, err := w.w.Write(chunk); err != nil {
		return err
	}
	var sum [checksumSize]byte
	binary.LittleEndian.PutUint64(sum[:], xxhash.Sum64(chunk))
	if _, err := w.w.Write(sum[:]); err != nil {
		return err
	}
	w.chunks++
	return nil
}

// WriteSource drains src into the file, at most chunkSize tuples per chunk,
// and returns the number of chunks written.
func (w *Writer) WriteSource(src merger.Source, chunkSize int) (int, error) {
	if chunkSize <= 0 {
		return 0, fmt.Errorf("chunkfile: invalid chunk size %d", chunkSize)
	}
	var b merger.Buffer
	var chunks int
	for {
		b.Reset()
		n, err := merger.EncodeTo(&b, src, nil, chunkSize)
		if err != nil {
			return chunks, err
		}
		if n == 0 {
			return chunks, nil
		}
		if err := w.Append(b.Written()); err != nil {
			return chunks, err
		}
		chunks++
		if n < chunkSize {
			return chunks, nil
		}
	}
}

// Chunks returns the number of chunks appended so far.
func (w *Writer) Chunks() int {
	return w.chunks
}

// Close flushes and syncs the file.
func (w *Writer) Close() error {
	err := w.w.Flush()
	if err == nil {
		err = w.f.Sync()
	}
	if cerr := w.f.Close(); err == nil {
		err = cerr
	}
	return err
}

// File is a chunk file mapped into memory.
type File struct {
	path   string
	data   []byte
	unmap  func() error
	closed bool
}

func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := fi.Size()
	if size != int64(int(size)) {
		return nil, fmt.Errorf("chunkfile: %s is too large (%d bytes)", path, size)
	}
	cf := &File{path: path, unmap: func() error { return nil }}
	if size > 0 {
		cf.data, cf.unmap, err = mapFile(f, int(size))
		if err != nil {
			return nil, fmt.Errorf("chunkfile: %s: %w", path, err)
		}
	}
	return cf, nil
}

// Chunks returns a chunk producer for merger.NewBufferSource. Chunks are
// views into the mapping and stay valid until the file is closed.
func (f *File) Chunks() *merger.Iterator {
	return merger.NewIterator(func(param, state any) ([]any, error) {
		if f.closed {
			return nil, fmt.Errorf("chunkfile: %s is closed", f.path)
		}
		off := state.(int)
		if off >= len(f.data) {
			return nil, nil
		}
		chunk, next, err := f.record(off)
		if err != nil {
			return nil, err
		}
		return []any{next, merger.NewBuffer(chunk)}, nil
	}, nil, 0)
}

// Source returns a buffer source replaying the file.
func (f *File) Source() *merger.BufferSource {
	return merger.NewBufferSource(f.Chunks())
}

// record returns the chunk stored at off and the offset of the next record.
func (f *File) record(off int) ([]byte, int, error) {
	size, n := binary.Uvarint(f.data[off:])
	if n <= 0 {
		return nil, 0, fmt.Errorf("chunkfile: %s at %d: %w: invalid record size", f.path, off, ErrCorrupt)
	}
	start := off + n
	if size > uint64(len(f.data)-start) || int(size) > len(f.data)-start-checksumSize {
		return nil, 0, fmt.Errorf("chunkfile: %s at %d: %w: record of %d bytes extends past the end of file", f.path, off, ErrCorrupt, size)
	}
	end := start + int(size)
	chunk := f.data[start:end:end]
	if xxhash.Sum64(chunk) != binary.LittleEndian.Uint64(f.data[end:]) {
		return nil, 0, fmt.Errorf("chunkfile: %s at %d: %w: checksum mismatch", f.path, off, ErrCorrupt)
	}
	return chunk, end + checksumSize, nil
}

// Close unmaps the file. Chunks obtained from it must not be used afterwards.
func (f *File) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	f.data = nil
	return f.unmap()
}
