package merger

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
)

// Source produces tuples in its own local order.
//
// Next returns the next tuple, materialized with (or checked against) the
// given format, or (nil, nil) once the source is exhausted; after that it
// keeps returning (nil, nil). After Next fails the source may only be
// closed.
//
// Close releases everything the source owns and must be called exactly
// once. Calling Next or Close on a closed source panics.
type Source interface {
	Next(format *Format) (*Tuple, error)
	Close() error
}

const debugLogFetches = false

// sourceBase tracks the closed state shared by all source variants.
type sourceBase struct {
	name   string
	it     *Iterator
	closed bool
}

func (s *sourceBase) ensureOpen() {
	if s.closed {
		panic(s.name + " is closed")
	}
}

func (s *sourceBase) close() {
	if s.closed {
		panic(s.name + " closed twice")
	}
	s.closed = true
	if s.it != nil {
		s.it.Close()
	}
}

func (s *sourceBase) checkArity(vals []any, what string) error {
	if len(vals) != 2 {
		return sourceErrf(s.name, ErrUnexpectedShape, nil, "expected <state>, <%s>, got %d return values", what, len(vals))
	}
	return nil
}

func (s *sourceBase) logFetch(msg string, attrs ...slog.Attr) {
	slog.Default().LogAttrs(context.Background(), slog.LevelDebug, msg, append([]slog.Attr{slog.String("source", s.name)}, attrs...)...)
}

// materialize turns a value handed over by a producer into a tuple.
func (s *sourceBase) materialize(format *Format, v any) (*Tuple, error) {
	t, err := MakeTuple(format, v)
	if err != nil {
		var se *SourceError
		if errors.As(err, &se) && se.Source == "" {
			se.Source = s.name
		}
		return nil, err
	}
	return t, nil
}

func isNilValue(rv reflect.Value) bool {
	switch rv.Kind() {
	case reflect.Invalid:
		return true
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return rv.IsNil()
	default:
		return false
	}
}
