package merger

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
)

// Tuple is an immutable record: a msgpack array plus the format it was
// validated against. Tuples are safe to share; a Tuple lives as long as
// its longest holder.
type Tuple struct {
	format *Format
	data   []byte

	decodeOnce sync.Once
	fields     []any
	decodeErr  error
}

// NewTuple validates raw as a msgpack array conforming to format (or
// DefaultFormat if format is nil) and returns a tuple holding a copy of it.
func NewTuple(format *Format, raw []byte) (*Tuple, error) {
	if format == nil {
		format = DefaultFormat
	}
	n, err := skipValue(raw)
	if err != nil {
		return nil, sourceErrf("", ErrValidation, nil, "invalid tuple encoding: %v", err)
	}
	if n != len(raw) {
		return nil, sourceErrf("", ErrValidation, nil, "%d trailing bytes after tuple", len(raw)-n)
	}
	if err := format.validate(raw); err != nil {
		return nil, err
	}
	return &Tuple{format: format, data: append([]byte(nil), raw...)}, nil
}

// TupleOf encodes values as a tuple of the given format.
func TupleOf(format *Format, values ...any) (*Tuple, error) {
	if format == nil {
		format = DefaultFormat
	}
	data, err := encodeArray(nil, values)
	if err != nil {
		return nil, sourceErrf("", ErrValidation, err, "cannot encode tuple")
	}
	if err := format.validate(data); err != nil {
		return nil, err
	}
	return &Tuple{format: format, data: data}, nil
}

// MakeTuple turns a plain structured value into a tuple: a *Tuple is checked
// against format, slices and arrays (other than []byte) become tuples of
// their elements, structs become tuples of their fields in declaration
// order.
func MakeTuple(format *Format, v any) (*Tuple, error) {
	if t, ok := v.(*Tuple); ok {
		if t == nil {
			return nil, sourceErrf("", ErrValidation, nil, "nil tuple")
		}
		if err := format.Check(t); err != nil {
			return nil, err
		}
		return t, nil
	}
	if vals, ok := v.([]any); ok {
		return TupleOf(format, vals...)
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer && !rv.IsNil() {
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			break
		}
		fallthrough
	case reflect.Struct:
		if format == nil {
			format = DefaultFormat
		}
		data, err := encodeValue(nil, rv.Interface())
		if err != nil {
			return nil, sourceErrf("", ErrValidation, err, "cannot encode %T as a tuple", v)
		}
		if err := format.validate(data); err != nil {
			return nil, err
		}
		return &Tuple{format: format, data: data}, nil
	}
	return nil, sourceErrf("", ErrValidation, nil, "a tuple or an array expected, got %T", v)
}

// Format returns the format the tuple was validated against.
func (t *Tuple) Format() *Format {
	return t.format
}

// Bytes returns the msgpack encoding of the tuple. The caller must not
// modify it.
func (t *Tuple) Bytes() []byte {
	return t.data
}

// Len returns the number of fields.
func (t *Tuple) Len() int {
	return len(t.Fields())
}

// Field returns the i-th field (zero-based), or nil if there is none.
// Integers are int64 or uint64, floats are float64.
func (t *Tuple) Field(i int) any {
	fields := t.Fields()
	if i < 0 || i >= len(fields) {
		return nil
	}
	return fields[i]
}

// Fields returns all decoded fields. The caller must not modify the result.
func (t *Tuple) Fields() []any {
	t.decodeOnce.Do(func() {
		t.fields, t.decodeErr = decodeArray(t.data)
	})
	if t.decodeErr != nil {
		// data was validated at construction time
		panic(fmt.Errorf("tuple %x: %w", t.data, t.decodeErr))
	}
	return t.fields
}

func (t *Tuple) String() string {
	if t == nil {
		return "<nil>"
	}
	raw, err := json.Marshal(t.Fields())
	if err != nil {
		return fmt.Sprintf("%v", t.Fields())
	}
	return string(raw)
}
