package ovsdb

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperation_MarshalJSON_SelectAlwaysHasWhere(t *testing.T) {
	op := Operation{Op: "select", Table: "Bridge"}
	b, err := json.Marshal(op)
	require.NoError(t, err)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &decoded))
	where, ok := decoded["where"]
	require.True(t, ok)
	assert.Equal(t, []interface{}{}, where)
}

func TestOperation_MarshalJSON_NonSelectOmitsEmptyWhere(t *testing.T) {
	op := Operation{Op: "insert", Table: "Bridge", Row: map[string]interface{}{"name": "br0"}}
	b, err := json.Marshal(op)
	require.NoError(t, err)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &decoded))
	_, ok := decoded["where"]
	assert.False(t, ok)
}

func TestTableUpdatesFromJSON_DecodesNewAndOldRows(t *testing.T) {
	schemaRaw := []byte(`{
		"name": "Open_vSwitch",
		"version": "1.0.0",
		"tables": {
			"Bridge": {"columns": {"name": {"type": "string"}}}
		}
	}`)
	schema, err := DatabaseSchemaFromJSON(schemaRaw)
	require.NoError(t, err)

	raw := json.RawMessage(`{
		"Bridge": {
			"row1": {"new": {"name": "br-int"}},
			"row2": {"old": {"name": "br-ex"}}
		}
	}`)
	updates, err := TableUpdatesFromJSON(schema, raw)
	require.NoError(t, err)
	bridgeUpdate := updates.Updates["Bridge"]
	assert.Equal(t, "br-int", bridgeUpdate.Rows["row1"].New["name"])
	assert.Nil(t, bridgeUpdate.Rows["row1"].Old)
	assert.Equal(t, "br-ex", bridgeUpdate.Rows["row2"].Old["name"])
}

func TestTableUpdatesFromJSON_UnknownTable(t *testing.T) {
	schemaRaw := []byte(`{"name": "Open_vSwitch", "version": "1.0.0", "tables": {}}`)
	schema, err := DatabaseSchemaFromJSON(schemaRaw)
	require.NoError(t, err)

	raw := json.RawMessage(`{"Ghost": {"row1": {"new": {}}}}`)
	_, err = TableUpdatesFromJSON(schema, raw)
	require.Error(t, err)
}

func TestNewConditionAndMutation(t *testing.T) {
	col := &ColumnSchema{Name: "name", Type: &ColumnType{Key: defaultBaseType(KindString), Min: 1, Max: 1}}
	cond, err := NewCondition(col, "==", "br-int")
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"name", "==", "br-int"}, cond)

	mut, err := NewMutation(col, "delete", "br-int")
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"name", "delete", "br-int"}, mut)
}

func TestOperationResult_FailedAndDecodeRows(t *testing.T) {
	ok := OperationResult{}
	assert.False(t, ok.Failed())

	failed := OperationResult{Error: "constraint violation"}
	assert.True(t, failed.Failed())

	table, err := TableSchemaFromJSON("Bridge", []byte(`{"columns": {"name": {"type": "string"}}}`))
	require.NoError(t, err)
	withRows := OperationResult{Rows: []json.RawMessage{json.RawMessage(`{"name":"br-int"}`)}}
	rows, err := withRows.DecodeRows(table)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "br-int", rows[0]["name"])
}
