package ovsdb

import (
	"encoding/json"
	"fmt"
)

// parseValue decodes a single scalar JSON atom into the Go type its Kind
// implies: int64, float64, bool, string, or UUID.
func (bt *BaseType) parseValue(raw json.RawMessage) (interface{}, error) {
	switch bt.Kind {
	case KindInteger:
		var v int64
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, newError(ErrTypeMismatch, "integer", err)
		}
		return v, nil
	case KindReal:
		var v float64
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, newError(ErrTypeMismatch, "real", err)
		}
		return v, nil
	case KindBoolean:
		var v bool
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, newError(ErrTypeMismatch, "boolean", err)
		}
		return v, nil
	case KindString:
		var v string
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, newError(ErrTypeMismatch, "string", err)
		}
		return v, nil
	case KindUUID:
		var v UUID
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, newError(ErrTypeMismatch, "uuid", err)
		}
		return v, nil
	default:
		return nil, newError(ErrTypeMismatch, fmt.Sprintf("unknown kind %q", bt.Kind), nil)
	}
}

// validate raises InvalidValue if v violates bt's range/enum/length
// constraints, or TypeMismatch if v's concrete kind doesn't match bt.
func (bt *BaseType) validate(v interface{}) error {
	switch bt.Kind {
	case KindInteger:
		i, ok := v.(int64)
		if !ok {
			return newError(ErrTypeMismatch, "expected integer", nil)
		}
		if i < bt.MinInteger || i > bt.MaxInteger {
			return newError(ErrInvalidValue, fmt.Sprintf("%d outside [%d,%d]", i, bt.MinInteger, bt.MaxInteger), nil)
		}
	case KindReal:
		f, ok := v.(float64)
		if !ok {
			return newError(ErrTypeMismatch, "expected real", nil)
		}
		if f < bt.MinReal || f > bt.MaxReal {
			return newError(ErrInvalidValue, fmt.Sprintf("%f outside [%f,%f]", f, bt.MinReal, bt.MaxReal), nil)
		}
	case KindBoolean:
		if _, ok := v.(bool); !ok {
			return newError(ErrTypeMismatch, "expected boolean", nil)
		}
	case KindString:
		s, ok := v.(string)
		if !ok {
			return newError(ErrTypeMismatch, "expected string", nil)
		}
		if int64(len(s)) < bt.MinLength || int64(len(s)) > bt.MaxLength {
			return newError(ErrInvalidValue, fmt.Sprintf("length %d outside [%d,%d]", len(s), bt.MinLength, bt.MaxLength), nil)
		}
	case KindUUID:
		if _, ok := v.(UUID); !ok {
			return newError(ErrTypeMismatch, "expected uuid", nil)
		}
	default:
		return newError(ErrTypeMismatch, fmt.Sprintf("unknown kind %q", bt.Kind), nil)
	}
	if len(bt.Enum) > 0 && !enumContains(bt.Enum, v) {
		return newError(ErrInvalidValue, fmt.Sprintf("%v not in enum", v), nil)
	}
	return nil
}

func enumContains(enum []interface{}, v interface{}) bool {
	for _, e := range enum {
		if valuesEqual(e, v) {
			return true
		}
	}
	return false
}

// valuesEqual compares decoded atoms for enum membership, normalizing
// JSON's float64 against our parsed int64 representation.
func valuesEqual(a, b interface{}) bool {
	if af, ok := a.(float64); ok {
		if bi, ok := b.(int64); ok {
			return af == float64(bi)
		}
	}
	return a == b
}

// ValueFromJSON decodes a (ColumnType, JSON) pair into a typed value per
// spec §4.2:
//
//	atomic scalar (min==max==1): bare scalar JSON        -> the scalar
//	atomic multi:                ["set", [...]]          -> []interface{}
//	atomic multi:                bare scalar (shorthand) -> []interface{}{v}
//	key-valued:                  ["map", [[k,v]...]]     -> map[interface{}]interface{}
func (c *ColumnType) ValueFromJSON(raw json.RawMessage) (interface{}, error) {
	if c.IsMap() {
		return c.mapValueFromJSON(raw)
	}
	if c.IsMultiValued() {
		return c.setValueFromJSON(raw)
	}
	v, err := c.Key.parseValue(raw)
	if err != nil {
		return nil, err
	}
	if err := c.Key.validate(v); err != nil {
		return nil, err
	}
	return v, nil
}

func (c *ColumnType) setValueFromJSON(raw json.RawMessage) ([]interface{}, error) {
	var probe interface{}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, newError(ErrMalformedValue, "set", err)
	}
	arr, isArray := probe.([]interface{})
	if isArray && len(arr) == 2 {
		if tag, ok := arr[0].(string); ok && tag == "set" {
			elems, ok := arr[1].([]interface{})
			if !ok {
				return nil, newError(ErrMalformedValue, "set: second element not an array", nil)
			}
			return c.decodeElements(elems)
		}
	}
	// Legacy shorthand: a single scalar (possibly itself a ["uuid", ...]
	// pair, which also marshals as a 2-element array) represents a
	// one-element set.
	return c.decodeElements([]interface{}{probe})
}

func (c *ColumnType) decodeElements(elems []interface{}) ([]interface{}, error) {
	out := make([]interface{}, 0, len(elems))
	for i, e := range elems {
		raw, err := json.Marshal(e)
		if err != nil {
			return nil, newError(ErrMalformedValue, fmt.Sprintf("set element %d", i), err)
		}
		v, err := c.Key.parseValue(raw)
		if err != nil {
			return nil, err
		}
		if err := c.Key.validate(v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (c *ColumnType) mapValueFromJSON(raw json.RawMessage) (map[interface{}]interface{}, error) {
	var outer [2]json.RawMessage
	if err := json.Unmarshal(raw, &outer); err != nil {
		return nil, newError(ErrMalformedValue, "map", err)
	}
	var tag string
	if err := json.Unmarshal(outer[0], &tag); err != nil || tag != "map" {
		return nil, newError(ErrMalformedValue, "map: missing map tag", err)
	}
	var rawPairs []json.RawMessage
	if err := json.Unmarshal(outer[1], &rawPairs); err != nil {
		return nil, newError(ErrMalformedValue, "map: pair list", err)
	}
	result := make(map[interface{}]interface{}, len(rawPairs))
	// Per spec §9 Open Question, the literal (possibly-surprising) check in
	// the original implementation compared the outer pair-list length, not
	// each individual pair's length. We validate each pair's own shape
	// instead, since nothing in this corpus depends on the outer-length
	// quirk and it would silently accept malformed pairs.
	for i, rp := range rawPairs {
		var pair []json.RawMessage
		if err := json.Unmarshal(rp, &pair); err != nil {
			return nil, newError(ErrMalformedValue, fmt.Sprintf("map pair %d", i), err)
		}
		if len(pair) != 2 {
			return nil, newError(ErrMalformedValue, fmt.Sprintf("map pair %d: expected 2 elements, got %d", i, len(pair)), nil)
		}
		k, err := c.Key.parseValue(pair[0])
		if err != nil {
			return nil, err
		}
		if err := c.Key.validate(k); err != nil {
			return nil, err
		}
		v, err := c.Value.parseValue(pair[1])
		if err != nil {
			return nil, err
		}
		if err := c.Value.validate(v); err != nil {
			return nil, err
		}
		result[k] = v
	}
	return result, nil
}

// ValueToJSON is the inverse of ValueFromJSON, used when building rows and
// operations to send to the server.
func (c *ColumnType) ValueToJSON(v interface{}) (interface{}, error) {
	if c.IsMap() {
		m, ok := v.(map[interface{}]interface{})
		if !ok {
			return nil, newError(ErrTypeMismatch, "expected map[interface{}]interface{}", nil)
		}
		pairs := make([][2]interface{}, 0, len(m))
		for k, val := range m {
			pairs = append(pairs, [2]interface{}{k, val})
		}
		return []interface{}{"map", pairs}, nil
	}
	if c.IsMultiValued() {
		elems, ok := v.([]interface{})
		if !ok {
			return nil, newError(ErrTypeMismatch, "expected []interface{}", nil)
		}
		return []interface{}{"set", elems}, nil
	}
	return v, nil
}
