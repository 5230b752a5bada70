package ovsdb

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBaseTypeFromJSON_BareString(t *testing.T) {
	bt, err := BaseTypeFromJSON(json.RawMessage(`"string"`), "key")
	require.NoError(t, err)
	assert.Equal(t, KindString, bt.Kind)
	assert.Equal(t, int64(0), bt.MinLength)
	assert.Equal(t, unlimited, bt.MaxLength)
}

func TestBaseTypeFromJSON_Absent(t *testing.T) {
	bt, err := BaseTypeFromJSON(nil, "value")
	require.NoError(t, err)
	assert.Nil(t, bt)
}

func TestBaseTypeFromJSON_ObjectWithConstraints(t *testing.T) {
	raw := json.RawMessage(`{"type":"integer","minInteger":0,"maxInteger":4095}`)
	bt, err := BaseTypeFromJSON(raw, "key")
	require.NoError(t, err)
	assert.Equal(t, KindInteger, bt.Kind)
	assert.Equal(t, int64(0), bt.MinInteger)
	assert.Equal(t, int64(4095), bt.MaxInteger)
}

func TestBaseTypeFromJSON_UnknownKind(t *testing.T) {
	_, err := BaseTypeFromJSON(json.RawMessage(`"bogus"`), "key")
	require.Error(t, err)
	kind, ok := KindOf(err)
	assert.True(t, ok)
	assert.Equal(t, ErrUnknownColumnType, kind)
}

func TestColumnTypeFromJSON_S1AtomicColumn(t *testing.T) {
	raw := json.RawMessage(`{"key":"string"}`)
	ct, err := ColumnTypeFromJSON(raw)
	require.NoError(t, err)
	assert.False(t, ct.IsMap())
	assert.False(t, ct.IsMultiValued())
	assert.Equal(t, int64(1), ct.Min)
	assert.Equal(t, int64(1), ct.Max)
	assert.Equal(t, KindString, ct.Key.Kind)
}

func TestColumnTypeFromJSON_S2UnlimitedSet(t *testing.T) {
	raw := json.RawMessage(`{"key":{"type":"integer","minInteger":0,"maxInteger":4095},"min":0,"max":"unlimited"}`)
	ct, err := ColumnTypeFromJSON(raw)
	require.NoError(t, err)
	assert.True(t, ct.IsMultiValued())
	assert.False(t, ct.IsMap())
	assert.Equal(t, int64(0), ct.Min)
	assert.Equal(t, int64(unlimited), ct.Max)

	v, err := ct.ValueFromJSON(json.RawMessage(`["set",[10,20,30]]`))
	require.NoError(t, err)
	assert.ElementsMatch(t, []interface{}{int64(10), int64(20), int64(30)}, v)

	v, err = ct.ValueFromJSON(json.RawMessage(`42`))
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int64(42)}, v)
}

func TestColumnTypeFromJSON_S3MapColumn(t *testing.T) {
	raw := json.RawMessage(`{"key":{"type":"integer"},"value":{"type":"uuid","refTable":"Queue"},"min":0,"max":"unlimited"}`)
	ct, err := ColumnTypeFromJSON(raw)
	require.NoError(t, err)
	assert.True(t, ct.IsMap())
	assert.Equal(t, "Queue", ct.Value.RefTable)

	v, err := ct.ValueFromJSON(json.RawMessage(`["map",[[0,["uuid","aaaa"]],[7,["uuid","bbbb"]]]]`))
	require.NoError(t, err)
	m := v.(map[interface{}]interface{})
	assert.Equal(t, UUID{GoUUID: "aaaa"}, m[int64(0)])
	assert.Equal(t, UUID{GoUUID: "bbbb"}, m[int64(7)])

	v, err = ct.ValueFromJSON(json.RawMessage(`["map",[]]`))
	require.NoError(t, err)
	assert.Empty(t, v)
}

func TestParseMinMax_InvalidMin(t *testing.T) {
	_, _, err := parseMinMax(int64Ptr(2), nil)
	require.Error(t, err)
	kind, _ := KindOf(err)
	assert.Equal(t, ErrUnknownColumnType, kind)
}

func TestParseMinMax_MaxBelowFloor(t *testing.T) {
	_, _, err := parseMinMax(nil, json.RawMessage(`0`))
	require.Error(t, err)
}

func TestDatabaseSchemaFromJSON_PopulatesInternalColumns(t *testing.T) {
	raw := []byte(`{
		"name": "Open_vSwitch",
		"version": "8.2.0",
		"tables": {
			"Bridge": {"columns": {"name": {"type": "string"}}}
		}
	}`)
	schema, err := DatabaseSchemaFromJSON(raw)
	require.NoError(t, err)
	table := schema.Table("Bridge")
	require.NotNil(t, table)
	assert.NotNil(t, table.Column("_uuid"))
	assert.NotNil(t, table.Column("_version"))
	assert.False(t, table.Column("_uuid").Mutable)
}

func TestDatabaseSchema_ValidateOperations(t *testing.T) {
	raw := []byte(`{
		"name": "Open_vSwitch",
		"version": "8.2.0",
		"tables": {
			"Bridge": {"columns": {"name": {"type": "string"}}}
		}
	}`)
	schema, err := DatabaseSchemaFromJSON(raw)
	require.NoError(t, err)

	ok := schema.validateOperations(Operation{Op: "select", Table: "Bridge", Columns: []string{"name"}})
	assert.True(t, ok)

	ok = schema.validateOperations(Operation{Op: "select", Table: "NoSuchTable"})
	assert.False(t, ok)

	ok = schema.validateOperations(Operation{Op: "select", Table: "Bridge", Columns: []string{"nope"}})
	assert.False(t, ok)
}

func int64Ptr(v int64) *int64 { return &v }
