package merger

import (
	"log/slog"
	"reflect"
)

// CollectionSource reads tuples from in-memory batches. The producer yields
// (state, batch) where batch is a slice or an array whose elements are
// *Tuple values or plain values that MakeTuple accepts. A nil element ends
// the batch early. An empty batch does not end the source; the next batch
// is pulled instead.
type CollectionSource struct {
	sourceBase
	batch reflect.Value
	pos   int
}

var _ Source = (*CollectionSource)(nil)

func NewCollectionSource(it *Iterator) *CollectionSource {
	return &CollectionSource{sourceBase: sourceBase{name: "collection source", it: it}}
}

func (s *CollectionSource) Next(format *Format) (*Tuple, error) {
	s.ensureOpen()
	for {
		if s.batch.IsValid() && s.pos < s.batch.Len() {
			elem := s.batch.Index(s.pos)
			if !isNilValue(elem) {
				t, err := s.materialize(format, elem.Interface())
				if err != nil {
					return nil, err
				}
				s.pos++
				return t, nil
			}
		}

		s.batch, s.pos = reflect.Value{}, 0
		ok, err := s.it.pull(s.name, s.acceptBatch)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
	}
}

func (s *CollectionSource) acceptBatch(vals []any) error {
	if err := s.checkArity(vals, "table"); err != nil {
		return err
	}
	rv := reflect.ValueOf(vals[1])
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			break
		}
		if debugLogFetches {
			s.logFetch("fetched batch", slog.Int("len", rv.Len()))
		}
		s.batch, s.pos = rv, 0
		return nil
	}
	return sourceErrf(s.name, ErrUnexpectedShape, nil, "expected <state>, <table>, got <state>, <%T>", vals[1])
}

func (s *CollectionSource) Close() error {
	s.close()
	s.batch = reflect.Value{}
	return nil
}
