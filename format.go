package merger

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

type FieldType int

const (
	FieldAny = FieldType(iota)
	FieldUnsigned
	FieldInteger
	FieldNumber
	FieldString
	FieldBoolean
	FieldBinary
	FieldArray
	FieldMap
	FieldScalar
)

var fieldTypeNames = [...]string{
	FieldAny:      "any",
	FieldUnsigned: "unsigned",
	FieldInteger:  "integer",
	FieldNumber:   "number",
	FieldString:   "string",
	FieldBoolean:  "boolean",
	FieldBinary:   "varbinary",
	FieldArray:    "array",
	FieldMap:      "map",
	FieldScalar:   "scalar",
}

func (ft FieldType) String() string {
	if ft >= 0 && int(ft) < len(fieldTypeNames) {
		return fieldTypeNames[ft]
	}
	return fmt.Sprintf("FieldType(%d)", int(ft))
}

// accepts reports whether a msgpack value starting with code c is allowed.
func (ft FieldType) accepts(c byte) bool {
	switch ft {
	case FieldAny:
		return true
	case FieldUnsigned:
		return isUnsignedCode(c)
	case FieldInteger:
		return isIntegerCode(c)
	case FieldNumber:
		return isIntegerCode(c) || c == msgpcode.Float || c == msgpcode.Double
	case FieldString:
		return msgpcode.IsString(c)
	case FieldBoolean:
		return c == msgpcode.True || c == msgpcode.False
	case FieldBinary:
		return msgpcode.IsBin(c)
	case FieldArray:
		return isArrayCode(c)
	case FieldMap:
		return msgpcode.IsFixedMap(c) || c == msgpcode.Map16 || c == msgpcode.Map32
	case FieldScalar:
		return !isArrayCode(c) && !FieldMap.accepts(c) && c != msgpcode.Nil
	default:
		return false
	}
}

func isUnsignedCode(c byte) bool {
	return c <= msgpcode.PosFixedNumHigh || (c >= msgpcode.Uint8 && c <= msgpcode.Uint64)
}

func isIntegerCode(c byte) bool {
	return msgpcode.IsFixedNum(c) || (c >= msgpcode.Uint8 && c <= msgpcode.Int64)
}

func isArrayCode(c byte) bool {
	return msgpcode.IsFixedArray(c) || c == msgpcode.Array16 || c == msgpcode.Array32
}

type Field struct {
	Name       string
	Type       FieldType
	IsNullable bool
}

// Format describes what tuples must look like: a msgpack array whose
// leading fields match Fields. Fields past the described ones are not
// constrained. Formats are immutable.
type Format struct {
	name   string
	fields []Field
}

// DefaultFormat accepts any msgpack array.
var DefaultFormat = &Format{name: "default"}

func NewFormat(name string, fields ...Field) *Format {
	return &Format{name: name, fields: append([]Field(nil), fields...)}
}

func (f *Format) Name() string {
	return f.name
}

func (f *Format) Fields() []Field {
	return append([]Field(nil), f.fields...)
}

func (f *Format) String() string {
	var buf strings.Builder
	buf.WriteString(f.name)
	buf.WriteByte('(')
	for i, fld := range f.fields {
		if i > 0 {
			buf.WriteString(", ")
		}
		if fld.Name != "" {
			buf.WriteString(fld.Name)
			buf.WriteByte(':')
		}
		buf.WriteString(fld.Type.String())
		if fld.IsNullable {
			buf.WriteByte('?')
		}
	}
	buf.WriteByte(')')
	return buf.String()
}

// requiredFields returns the minimum number of fields a tuple must carry.
func (f *Format) requiredFields() int {
	for i := len(f.fields) - 1; i >= 0; i-- {
		if !f.fields[i].IsNullable {
			return i + 1
		}
	}
	return 0
}

// Check validates that t conforms to f.
func (f *Format) Check(t *Tuple) error {
	if f == nil || f == DefaultFormat || f == t.format {
		return nil
	}
	return f.validate(t.data)
}

func (f *Format) validate(data []byte) error {
	var r bytes.Reader
	r.Reset(data)
	dec := msgpack.GetDecoder()
	dec.ResetDict(&r, nil)
	defer msgpack.PutDecoder(dec)

	c, err := dec.PeekCode()
	if err != nil {
		return sourceErrf("", ErrValidation, err, "format %s: empty tuple data", f.name)
	}
	if !isArrayCode(c) {
		return sourceErrf("", ErrValidation, nil, "format %s: tuple must be an array, got code 0x%02x", f.name, c)
	}
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return sourceErrf("", ErrValidation, err, "format %s: invalid array header", f.name)
	}
	if req := f.requiredFields(); n < req {
		return sourceErrf("", ErrValidation, nil, "format %s: tuple has %d fields, wanted at least %d", f.name, n, req)
	}
	for i, fld := range f.fields {
		if i >= n {
			break
		}
		c, err := dec.PeekCode()
		if err != nil {
			return sourceErrf("", ErrValidation, err, "format %s: field %d", f.name, i+1)
		}
		if !(c == msgpcode.Nil && (fld.IsNullable || fld.Type == FieldAny)) && !fld.Type.accepts(c) {
			return sourceErrf("", ErrValidation, nil, "format %s: field %d%s type mismatch: wanted %v, got code 0x%02x", f.name, i+1, fieldLabel(fld), fld.Type, c)
		}
		if err := dec.Skip(); err != nil {
			return sourceErrf("", ErrValidation, err, "format %s: field %d", f.name, i+1)
		}
	}
	return nil
}

func fieldLabel(fld Field) string {
	if fld.Name == "" {
		return ""
	}
	return " (" + fld.Name + ")"
}
