package ovsdb

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBaseType_ValidateRange(t *testing.T) {
	bt := &BaseType{Kind: KindInteger, MinInteger: 0, MaxInteger: 10}
	assert.NoError(t, bt.validate(int64(5)))
	assert.Error(t, bt.validate(int64(11)))
}

func TestBaseType_ValidateEnum(t *testing.T) {
	bt := &BaseType{Kind: KindString, MinLength: 0, MaxLength: unlimited, Enum: []interface{}{"a", "b"}}
	assert.NoError(t, bt.validate("a"))
	err := bt.validate("c")
	require.Error(t, err)
	kind, _ := KindOf(err)
	assert.Equal(t, ErrInvalidValue, kind)
}

func TestBaseType_ValidateTypeMismatch(t *testing.T) {
	bt := &BaseType{Kind: KindInteger, MinInteger: 0, MaxInteger: 10}
	err := bt.validate("not an int")
	require.Error(t, err)
	kind, _ := KindOf(err)
	assert.Equal(t, ErrTypeMismatch, kind)
}

func TestColumnType_ValueToJSON_Scalar(t *testing.T) {
	ct := &ColumnType{Key: defaultBaseType(KindString), Min: 1, Max: 1}
	wire, err := ct.ValueToJSON("hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", wire)
}

func TestColumnType_ValueToJSON_Set(t *testing.T) {
	ct := &ColumnType{Key: defaultBaseType(KindInteger), Min: 0, Max: unlimited}
	wire, err := ct.ValueToJSON([]interface{}{int64(1), int64(2)})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"set", []interface{}{int64(1), int64(2)}}, wire)
}

func TestColumnType_ValueToJSON_Map(t *testing.T) {
	ct := &ColumnType{Key: defaultBaseType(KindString), Value: defaultBaseType(KindString), Min: 0, Max: unlimited}
	wire, err := ct.ValueToJSON(map[interface{}]interface{}{"k": "v"})
	require.NoError(t, err)
	asSlice, ok := wire.([]interface{})
	require.True(t, ok)
	assert.Equal(t, "map", asSlice[0])
}

func TestSetValueFromJSON_MalformedShape(t *testing.T) {
	ct := &ColumnType{Key: defaultBaseType(KindInteger), Min: 0, Max: unlimited}
	_, err := ct.setValueFromJSON(json.RawMessage(`["set","not-an-array"]`))
	require.Error(t, err)
	kind, _ := KindOf(err)
	assert.Equal(t, ErrMalformedValue, kind)
}

func TestMapValueFromJSON_RejectsMalformedPair(t *testing.T) {
	ct := &ColumnType{Key: defaultBaseType(KindInteger), Value: defaultBaseType(KindString), Min: 0, Max: unlimited}
	_, err := ct.mapValueFromJSON(json.RawMessage(`["map",[[1]]]`))
	require.Error(t, err)
}

func TestEnumContains(t *testing.T) {
	enum := []interface{}{int64(1), "two"}
	assert.True(t, enumContains(enum, int64(1)))
	assert.True(t, enumContains(enum, "two"))
	assert.False(t, enumContains(enum, "three"))
}

func TestValuesEqual_NormalizesFloatVsInt(t *testing.T) {
	assert.True(t, valuesEqual(float64(4), int64(4)))
	assert.False(t, valuesEqual(float64(4), int64(5)))
}
