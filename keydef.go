package merger

import (
	"bytes"
	"fmt"
	"math"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

// Comparator orders tuples. Compare returns a negative number when a sorts
// before b, zero when they are equal and a positive number otherwise. A
// comparator must be a total order and must not change while in use.
type Comparator interface {
	Compare(a, b *Tuple) int
}

type CompareFunc func(a, b *Tuple) int

func (f CompareFunc) Compare(a, b *Tuple) int {
	return f(a, b)
}

// formatter is implemented by comparators that know which tuple shape they
// need. A merger asks its sources for tuples of that format.
type formatter interface {
	Format() *Format
}

type KeyPart struct {
	Field      int // zero-based field number
	Type       FieldType
	Descending bool
	IsNullable bool
}

// KeyDef compares tuples by a sequence of fields.
type KeyDef struct {
	parts  []KeyPart
	format *Format
}

var _ Comparator = (*KeyDef)(nil)

func NewKeyDef(parts ...KeyPart) (*KeyDef, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("key definition must have at least one part")
	}
	maxField := -1
	for i, p := range parts {
		if p.Field < 0 {
			return nil, fmt.Errorf("key part %d: invalid field %d", i+1, p.Field)
		}
		if p.Type == FieldArray || p.Type == FieldMap {
			return nil, fmt.Errorf("key part %d: field type %v cannot be part of a key", i+1, p.Type)
		}
		maxField = max(maxField, p.Field)
	}

	fields := make([]Field, maxField+1)
	for i := range fields {
		fields[i] = Field{Type: FieldAny, IsNullable: true}
	}
	for _, p := range parts {
		fields[p.Field] = Field{Type: p.Type, IsNullable: p.IsNullable}
	}

	kd := &KeyDef{parts: append([]KeyPart(nil), parts...)}
	kd.format = NewFormat(kd.String(), fields...)
	return kd, nil
}

func MustKeyDef(parts ...KeyPart) *KeyDef {
	kd, err := NewKeyDef(parts...)
	if err != nil {
		panic(err)
	}
	return kd
}

func (kd *KeyDef) Parts() []KeyPart {
	return append([]KeyPart(nil), kd.parts...)
}

// Format returns the format that every compared tuple must conform to.
func (kd *KeyDef) Format() *Format {
	return kd.format
}

func (kd *KeyDef) String() string {
	var buf strings.Builder
	buf.WriteString("key(")
	for i, p := range kd.parts {
		if i > 0 {
			buf.WriteString(", ")
		}
		fmt.Fprintf(&buf, "%d:%v", p.Field+1, p.Type)
		if p.Descending {
			buf.WriteString(" desc")
		}
	}
	buf.WriteByte(')')
	return buf.String()
}

func (kd *KeyDef) Compare(a, b *Tuple) int {
	for _, p := range kd.parts {
		c := compareValues(a.Field(p.Field), b.Field(p.Field))
		if c != 0 {
			if p.Descending {
				return -c
			}
			return c
		}
	}
	return 0
}

// Value classes in their sort order. Maps are not ordered among themselves.
const (
	classNil = iota
	classBool
	classNumber
	classString
	classBinary
	classArray
	classMap
	classExt
	classOther
)

func valueClass(v any) int {
	switch v.(type) {
	case nil:
		return classNil
	case bool:
		return classBool
	case int64, uint64, float64, int, int8, int16, int32, uint, uint8, uint16, uint32, float32:
		return classNumber
	case string:
		return classString
	case []byte:
		return classBinary
	case []any:
		return classArray
	case map[string]any, map[any]any:
		return classMap
	case msgpack.RawMessage:
		return classExt
	default:
		return classOther
	}
}

func compareValues(a, b any) int {
	ca, cb := valueClass(a), valueClass(b)
	if ca != cb {
		return cmpInt(ca, cb)
	}
	switch ca {
	case classBool:
		x, y := a.(bool), b.(bool)
		if x == y {
			return 0
		} else if !x {
			return -1
		}
		return 1
	case classNumber:
		return compareNumbers(a, b)
	case classString:
		return strings.Compare(a.(string), b.(string))
	case classBinary:
		return bytes.Compare(a.([]byte), b.([]byte))
	case classArray:
		x, y := a.([]any), b.([]any)
		for i := 0; i < len(x) && i < len(y); i++ {
			if c := compareValues(x[i], y[i]); c != 0 {
				return c
			}
		}
		return cmpInt(len(x), len(y))
	case classExt:
		return bytes.Compare(a.(msgpack.RawMessage), b.(msgpack.RawMessage))
	default:
		return 0
	}
}

// number is a decoded msgpack number: exactly one of the representations
// is authoritative, chosen by kind.
type number struct {
	kind int // 0 = int, 1 = uint, 2 = float
	i    int64
	u    uint64
	f    float64
}

func toNumber(v any) number {
	switch v := v.(type) {
	case int64:
		return number{kind: 0, i: v}
	case int:
		return number{kind: 0, i: int64(v)}
	case int8:
		return number{kind: 0, i: int64(v)}
	case int16:
		return number{kind: 0, i: int64(v)}
	case int32:
		return number{kind: 0, i: int64(v)}
	case uint64:
		return number{kind: 1, u: v}
	case uint:
		return number{kind: 1, u: uint64(v)}
	case uint8:
		return number{kind: 1, u: uint64(v)}
	case uint16:
		return number{kind: 1, u: uint64(v)}
	case uint32:
		return number{kind: 1, u: uint64(v)}
	case float32:
		return number{kind: 2, f: float64(v)}
	case float64:
		return number{kind: 2, f: v}
	default:
		panic(fmt.Errorf("not a number: %T", v))
	}
}

func compareNumbers(a, b any) int {
	x, y := toNumber(a), toNumber(b)
	switch {
	case x.kind == 0 && y.kind == 0:
		return cmpInt64(x.i, y.i)
	case x.kind == 1 && y.kind == 1:
		return cmpUint64(x.u, y.u)
	case x.kind == 0 && y.kind == 1:
		if x.i < 0 {
			return -1
		}
		return cmpUint64(uint64(x.i), y.u)
	case x.kind == 1 && y.kind == 0:
		if y.i < 0 {
			return 1
		}
		return cmpUint64(x.u, uint64(y.i))
	case x.kind == 2 && y.kind == 2:
		return cmpFloat(x.f, y.f)
	case x.kind == 2:
		return -compareIntFloat(y, x.f)
	default:
		return compareIntFloat(x, y.f)
	}
}

// compareIntFloat compares an integer number with a float exactly.
func compareIntFloat(n number, f float64) int {
	if math.IsNaN(f) {
		return 1
	}
	if n.kind == 0 {
		if f >= math.MaxInt64 {
			return -1
		} else if f < math.MinInt64 {
			return 1
		}
		t := math.Trunc(f)
		if c := cmpInt64(n.i, int64(t)); c != 0 {
			return c
		}
		return cmpFloat(0, f-t)
	}
	if f >= math.MaxUint64 {
		return -1
	} else if f < 0 {
		return 1
	}
	t := math.Trunc(f)
	if c := cmpUint64(n.u, uint64(t)); c != 0 {
		return c
	}
	return cmpFloat(0, f-t)
}

// cmpFloat orders NaN before every other value.
func cmpFloat(x, y float64) int {
	xn, yn := math.IsNaN(x), math.IsNaN(y)
	switch {
	case xn && yn:
		return 0
	case xn:
		return -1
	case yn:
		return 1
	case x < y:
		return -1
	case x > y:
		return 1
	default:
		return 0
	}
}

func cmpInt(x, y int) int {
	if x < y {
		return -1
	} else if x > y {
		return 1
	}
	return 0
}

func cmpInt64(x, y int64) int {
	if x < y {
		return -1
	} else if x > y {
		return 1
	}
	return 0
}

func cmpUint64(x, y uint64) int {
	if x < y {
		return -1
	} else if x > y {
		return 1
	}
	return 0
}
