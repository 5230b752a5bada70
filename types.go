package ovsdb

import (
	"encoding/json"
	"fmt"
)

// UUID is an OVSDB uuid atom. On the wire it is either ["uuid", "<hex>"] or,
// for a row not yet assigned a server uuid, ["named-uuid", "<token>"].
type UUID struct {
	GoUUID string
	Named  bool
}

// MarshalJSON encodes the UUID using the "named-uuid" notation if it refers
// to a row created in the same transaction, "uuid" otherwise.
func (u UUID) MarshalJSON() ([]byte, error) {
	tag := "uuid"
	if u.Named {
		tag = "named-uuid"
	}
	return json.Marshal([2]interface{}{tag, u.GoUUID})
}

// UnmarshalJSON decodes both the ["uuid", ...] and ["named-uuid", ...] shapes.
func (u *UUID) UnmarshalJSON(b []byte) error {
	var pair [2]interface{}
	if err := json.Unmarshal(b, &pair); err != nil {
		return newError(ErrMalformedValue, "uuid", err)
	}
	tag, ok := pair[0].(string)
	if !ok {
		return newError(ErrMalformedValue, "uuid: missing tag", nil)
	}
	val, ok := pair[1].(string)
	if !ok {
		return newError(ErrMalformedValue, "uuid: non-string value", nil)
	}
	switch tag {
	case "uuid":
		u.GoUUID = val
		u.Named = false
	case "named-uuid":
		u.GoUUID = val
		u.Named = true
	default:
		return newError(ErrMalformedValue, fmt.Sprintf("uuid: unknown tag %q", tag), nil)
	}
	return nil
}

// OvsSet is the wire representation of an OVSDB set: either a bare atom
// (a one-element set) or ["set", [atom...]].
type OvsSet struct {
	GoSet []interface{}
}

// NewOvsSet builds an OvsSet from a native slice, or wraps a single scalar
// as the legacy one-element shorthand.
func NewOvsSet(elements interface{}) (*OvsSet, error) {
	switch v := elements.(type) {
	case []interface{}:
		return &OvsSet{GoSet: v}, nil
	case nil:
		return &OvsSet{}, nil
	default:
		return &OvsSet{GoSet: []interface{}{v}}, nil
	}
}

// MarshalJSON always emits the explicit ["set", [...]] form so round-tripping
// through this package is unambiguous even for a single-element set.
func (o OvsSet) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]interface{}{"set", o.GoSet})
}

// UnmarshalJSON accepts both ["set", [...]] and the bare-scalar shorthand.
func (o *OvsSet) UnmarshalJSON(b []byte) error {
	var raw interface{}
	if err := json.Unmarshal(b, &raw); err != nil {
		return newError(ErrMalformedValue, "set", err)
	}
	if arr, ok := raw.([]interface{}); ok && len(arr) == 2 {
		if tag, ok := arr[0].(string); ok && tag == "set" {
			elems, ok := arr[1].([]interface{})
			if !ok {
				return newError(ErrMalformedValue, "set: second element not an array", nil)
			}
			o.GoSet = elems
			return nil
		}
	}
	o.GoSet = []interface{}{raw}
	return nil
}

// OvsMap is the wire representation of an OVSDB map: ["map", [[k,v]...]].
type OvsMap struct {
	GoMap map[interface{}]interface{}
}

// NewOvsMap builds an OvsMap from a native map.
func NewOvsMap(elements interface{}) (*OvsMap, error) {
	m, ok := elements.(map[interface{}]interface{})
	if !ok {
		return nil, newError(ErrTypeMismatch, "map: expected map[interface{}]interface{}", nil)
	}
	return &OvsMap{GoMap: m}, nil
}

// MarshalJSON emits ["map", [[k,v]...]].
func (o OvsMap) MarshalJSON() ([]byte, error) {
	pairs := make([][2]interface{}, 0, len(o.GoMap))
	for k, v := range o.GoMap {
		pairs = append(pairs, [2]interface{}{k, v})
	}
	return json.Marshal([2]interface{}{"map", pairs})
}

// UnmarshalJSON accepts ["map", [[k,v]...]] including the empty-map shape
// ["map", []], which is treated as nil-equivalent (an empty, non-nil map).
func (o *OvsMap) UnmarshalJSON(b []byte) error {
	var arr [2]json.RawMessage
	if err := json.Unmarshal(b, &arr); err != nil {
		return newError(ErrMalformedValue, "map", err)
	}
	var tag string
	if err := json.Unmarshal(arr[0], &tag); err != nil || tag != "map" {
		return newError(ErrMalformedValue, "map: missing map tag", err)
	}
	var rawPairs []json.RawMessage
	if err := json.Unmarshal(arr[1], &rawPairs); err != nil {
		return newError(ErrMalformedValue, "map: pair list", err)
	}
	o.GoMap = make(map[interface{}]interface{}, len(rawPairs))
	for i, rp := range rawPairs {
		var pair [2]interface{}
		if err := json.Unmarshal(rp, &pair); err != nil {
			return newError(ErrMalformedValue, fmt.Sprintf("map: pair %d", i), err)
		}
		o.GoMap[normalizeKey(pair[0])] = pair[1]
	}
	return nil
}

// normalizeKey collapses JSON-decoded map keys (which may be float64 for
// numbers) into hashable, comparable Go values usable as map keys.
func normalizeKey(v interface{}) interface{} {
	switch t := v.(type) {
	case float64:
		if t == float64(int64(t)) {
			return int64(t)
		}
		return t
	default:
		return v
	}
}
