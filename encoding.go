package merger

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

// encodeValue appends the msgpack encoding of v to buf. Structs are encoded
// as arrays so that a struct value can stand for a tuple.
func encodeValue(buf []byte, v any) ([]byte, error) {
	bb := bytesBuilder{buf}
	enc := msgpack.GetEncoder()
	enc.ResetDict(&bb, nil)
	enc.SetSortMapKeys(true)
	enc.UseArrayEncodedStructs(true)
	enc.UseCompactInts(true)
	err := enc.Encode(v)
	msgpack.PutEncoder(enc)
	if err != nil {
		return buf, err
	}
	return bb.Buf, nil
}

// encodeArray appends a msgpack array holding values.
func encodeArray(buf []byte, values []any) ([]byte, error) {
	bb := bytesBuilder{buf}
	enc := msgpack.GetEncoder()
	enc.ResetDict(&bb, nil)
	enc.SetSortMapKeys(true)
	enc.UseArrayEncodedStructs(true)
	enc.UseCompactInts(true)
	err := enc.EncodeArrayLen(len(values))
	for i := 0; err == nil && i < len(values); i++ {
		err = enc.Encode(values[i])
	}
	msgpack.PutEncoder(enc)
	if err != nil {
		return buf, err
	}
	return bb.Buf, nil
}

// decodeArray decodes a msgpack array into loosely typed values: integers
// come back as int64 or uint64, floats as float64, binary strings as []byte,
// extension values as msgpack.RawMessage.
func decodeArray(data []byte) ([]any, error) {
	var r bytes.Reader
	r.Reset(data)
	dec := msgpack.GetDecoder()
	dec.ResetDict(&r, nil)
	defer msgpack.PutDecoder(dec)

	v, err := decodeLoose(dec)
	if err != nil {
		return nil, err
	}
	values, ok := v.([]any)
	if !ok && v != nil {
		return nil, fmt.Errorf("array expected, got %T", v)
	}
	return values, nil
}

func decodeLoose(dec *msgpack.Decoder) (any, error) {
	c, err := dec.PeekCode()
	if err != nil {
		return nil, err
	}
	switch {
	case isArrayCode(c):
		n, err := dec.DecodeArrayLen()
		if err != nil {
			return nil, err
		}
		values := make([]any, n)
		for i := range values {
			values[i], err = decodeLoose(dec)
			if err != nil {
				return nil, err
			}
		}
		return values, nil
	case msgpcode.IsFixedMap(c) || c == msgpcode.Map16 || c == msgpcode.Map32:
		n, err := dec.DecodeMapLen()
		if err != nil {
			return nil, err
		}
		m := make(map[any]any, n)
		for range n {
			k, err := decodeLoose(dec)
			if err != nil {
				return nil, err
			}
			v, err := decodeLoose(dec)
			if err != nil {
				return nil, err
			}
			switch kk := k.(type) {
			case []byte:
				k = string(kk)
			case msgpack.RawMessage, []any, map[any]any:
				k = fmt.Sprint(kk)
			}
			m[k] = v
		}
		return m, nil
	case msgpcode.IsBin(c):
		return dec.DecodeBytes()
	case msgpcode.IsExt(c):
		return dec.DecodeRaw()
	default:
		return dec.DecodeInterfaceLoose()
	}
}
