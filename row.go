package ovsdb

import (
	"encoding/json"
)

// Row is an ordered mapping from column name to typed value, decoded via
// the schema's value codec. Its lifetime is bound to the caller; the client
// does not retain rows once delivered.
type Row map[string]interface{}

// RowFromJSON decodes a JSON object of {column: wire-value} into a Row,
// looking up each column's type in table and applying ValueFromJSON.
// Columns present in the wire object but absent from the schema are
// ignored, the same leniency the ORM layer historically allowed for
// partially-projected rows (select with a Columns filter).
func RowFromJSON(table *TableSchema, raw json.RawMessage) (Row, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, newError(ErrParsing, "row", err)
	}
	row := make(Row, len(fields))
	for name, fieldRaw := range fields {
		col, ok := table.Columns[name]
		if !ok {
			continue
		}
		v, err := col.Type.ValueFromJSON(fieldRaw)
		if err != nil {
			return nil, err
		}
		row[name] = v
	}
	return row, nil
}

// RowToJSON encodes a Row back into the wire {column: wire-value} shape,
// using each present column's type from the schema. Columns absent from the
// schema are skipped. Set and map columns must hold []interface{} and
// map[interface{}]interface{} values respectively; values are not checked
// against the column's range, length or enum constraints.
func RowToJSON(table *TableSchema, row Row) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(row))
	for name, v := range row {
		col, ok := table.Columns[name]
		if !ok {
			continue
		}
		wire, err := col.Type.ValueToJSON(v)
		if err != nil {
			return nil, err
		}
		out[name] = wire
	}
	return out, nil
}
