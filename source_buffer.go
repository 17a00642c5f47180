package merger

import (
	"fmt"
	"log/slog"
)

// BufferSource reads tuples from encoded chunks: msgpack arrays of tuples.
// The producer yields (state, chunk) where chunk is a *Buffer or a []byte;
// a chunk must stay intact until the next pull. The source consumes a
// *Buffer by advancing its read cursor.
type BufferSource struct {
	sourceBase
	chunk     *Buffer
	remaining int
}

var _ Source = (*BufferSource)(nil)

func NewBufferSource(it *Iterator) *BufferSource {
	return &BufferSource{sourceBase: sourceBase{name: "buffer source", it: it}}
}

func (s *BufferSource) Next(format *Format) (*Tuple, error) {
	s.ensureOpen()
	for s.remaining == 0 {
		s.chunk = nil
		ok, err := s.it.pull(s.name, s.acceptChunk)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
	}
	t, err := DecodeTuple(s.chunk, format)
	if err != nil {
		return nil, err
	}
	s.remaining--
	return t, nil
}

func (s *BufferSource) acceptChunk(vals []any) error {
	if err := s.checkArity(vals, "buffer"); err != nil {
		return err
	}
	var chunk *Buffer
	switch v := vals[1].(type) {
	case *Buffer:
		chunk = v
	case []byte:
		chunk = NewBuffer(v)
	}
	if chunk == nil {
		return sourceErrf(s.name, ErrUnexpectedShape, nil, "expected <state>, <buffer>, got <state>, <%T>", vals[1])
	}
	n, err := DecodeHeader(chunk)
	if err != nil {
		return fmt.Errorf("%s: %w", s.name, err)
	}
	if debugLogFetches {
		s.logFetch("fetched chunk", slog.Int("tuples", n), hexAttr("data", chunk.Unread()))
	}
	s.chunk, s.remaining = chunk, n
	return nil
}

func (s *BufferSource) Close() error {
	s.close()
	s.chunk = nil
	return nil
}
