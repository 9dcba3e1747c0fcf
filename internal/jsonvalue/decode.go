package jsonvalue

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Decode reads exactly one JSON document from r.
//
// The document is walked token by token so that object keys keep their source
// order (decoding into map[string]any would lose it). Numbers are kept as
// json.Number literals. Anything but whitespace after the document is an error.
func Decode(r io.Reader) (Value, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Value{}, fmt.Errorf("json: empty document: %w", io.ErrUnexpectedEOF)
		}
		return Value{}, fmt.Errorf("json: read first token: %w", err)
	}

	v, err := valueFromFirstToken(dec, tok)
	if err != nil {
		return Value{}, err
	}

	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		if err == nil {
			return Value{}, errors.New("json: unexpected data after top-level value")
		}
		return Value{}, fmt.Errorf("json: after top-level value: %w", err)
	}
	return v, nil
}

// Parse decodes one JSON document held in memory.
func Parse(b []byte) (Value, error) {
	return Decode(bytes.NewReader(b))
}

// MustParse is Parse for literals in tests and tables; it panics on error.
func MustParse(s string) Value {
	v, err := Parse([]byte(s))
	if err != nil {
		panic(err)
	}
	return v
}

// valueFromFirstToken builds a Value for the current JSON value, given its
// first token has already been read.
func valueFromFirstToken(dec *json.Decoder, tok json.Token) (Value, error) {
	switch t := tok.(type) {
	case nil:
		return Value{}, nil
	case bool:
		return BoolValue(t), nil
	case string:
		return StringValue(t), nil
	case json.Number:
		return NumberValue(t), nil
	case float64:
		// Not produced with UseNumber, kept for completeness.
		return FloatValue(t), nil
	case json.Delim:
		switch t {
		case '{':
			m := NewMap()
			for dec.More() {
				kt, err := dec.Token()
				if err != nil {
					return Value{}, fmt.Errorf("json: read object key: %w", err)
				}
				k, ok := kt.(string)
				if !ok {
					return Value{}, fmt.Errorf("json: object key not string (got %T)", kt)
				}
				vt, err := dec.Token()
				if err != nil {
					return Value{}, fmt.Errorf("json: read value of %q: %w", k, err)
				}
				v, err := valueFromFirstToken(dec, vt)
				if err != nil {
					return Value{}, err
				}
				m.Set(k, v)
			}
			end, err := dec.Token()
			if err != nil {
				return Value{}, fmt.Errorf("json: read object end: %w", err)
			}
			if end != json.Delim('}') {
				return Value{}, fmt.Errorf("json: expected '}', got %v", end)
			}
			return ObjectValue(m), nil

		case '[':
			arr := []Value{}
			for dec.More() {
				vt, err := dec.Token()
				if err != nil {
					return Value{}, fmt.Errorf("json: read array element %d: %w", len(arr), err)
				}
				v, err := valueFromFirstToken(dec, vt)
				if err != nil {
					return Value{}, err
				}
				arr = append(arr, v)
			}
			end, err := dec.Token()
			if err != nil {
				return Value{}, fmt.Errorf("json: read array end: %w", err)
			}
			if end != json.Delim(']') {
				return Value{}, fmt.Errorf("json: expected ']', got %v", end)
			}
			return ArrayValue(arr...), nil

		default:
			return Value{}, fmt.Errorf("json: unexpected delimiter %q", t)
		}
	default:
		return Value{}, fmt.Errorf("json: unsupported token %T", tok)
	}
}
