package ovsdb

import "encoding/json"

// Operation represents an operation according to RFC 7047 section 5.2.
type Operation struct {
	Op        string                   `json:"op"`
	Table     string                   `json:"table"`
	Row       map[string]interface{}   `json:"row,omitempty"`
	Rows      []map[string]interface{} `json:"rows,omitempty"`
	Columns   []string                 `json:"columns,omitempty"`
	Mutations []interface{}            `json:"mutations,omitempty"`
	Timeout   int                      `json:"timeout,omitempty"`
	Where     []interface{}            `json:"where,omitempty"`
	Until     string                   `json:"until,omitempty"`
	UUIDName  string                   `json:"uuid-name,omitempty"`

	// DeviceKey, if set, is the device-info registry coordinate this
	// operation mutates. Transact marks it IN_TRANSIT before dispatch and
	// confirms or rejects it once the result is known (spec §3/§4.5: a
	// DeviceData's IN_TRANSIT lifecycle is owned by the transact path).
	// It never goes over the wire.
	DeviceKey *DeviceKeyRef `json:"-"`
}

// DeviceKeyRef names the (class, key) coordinate of the device-info
// registry an Operation affects, per spec §4.5's per-class (rowClass,
// logicalKey) addressing.
type DeviceKeyRef struct {
	Class string
	Key   string
}

// MarshalJSON marshals Operation, taking care that 'select' operations never
// omit 'where' -- an omitted 'where' means "no conditions", which OVSDB
// interprets as "select every row", but Go's omitempty would drop a nil
// slice and some servers reject the field's absence instead.
func (o Operation) MarshalJSON() ([]byte, error) {
	type opAlias Operation
	switch o.Op {
	case "select":
		where := o.Where
		if where == nil {
			where = make([]interface{}, 0)
		}
		return json.Marshal(&struct {
			Where []interface{} `json:"where"`
			opAlias
		}{
			Where:   where,
			opAlias: (opAlias)(o),
		})
	default:
		return json.Marshal((opAlias)(o))
	}
}

// MonitorRequest represents a monitor request according to RFC 7047.
type MonitorRequest struct {
	Columns []string      `json:"columns,omitempty"`
	Select  MonitorSelect `json:"select,omitempty"`
}

// MonitorSelect represents a monitor select according to RFC 7047.
type MonitorSelect struct {
	Initial bool `json:"initial,omitempty"`
	Insert  bool `json:"insert,omitempty"`
	Delete  bool `json:"delete,omitempty"`
	Modify  bool `json:"modify,omitempty"`
}

// TableUpdates is the decoded form of an RFC 7047 <table-updates>: table
// name to the updates observed on that table.
type TableUpdates struct {
	Updates map[string]TableUpdate
}

// TableUpdate is the decoded form of a <table-update>: row uuid to the
// update observed on that row.
type TableUpdate struct {
	Rows map[string]RowUpdate
}

// RowUpdate is a row update in native (decoded) form.
type RowUpdate struct {
	New Row
	Old Row
}

// rawRowUpdate mirrors the wire shape of a <row-update>: {"new": <row>,
// "old": <row>}, both optional (absent on delete/insert respectively).
type rawRowUpdate struct {
	New json.RawMessage `json:"new,omitempty"`
	Old json.RawMessage `json:"old,omitempty"`
}

// TableUpdatesFromJSON decodes an RFC 7047 <table-updates> object -
// {table: {row-uuid: {"new": ..., "old": ...}}} - using schema to find each
// table's column types.
func TableUpdatesFromJSON(schema *DatabaseSchema, raw json.RawMessage) (*TableUpdates, error) {
	var rawTables map[string]map[string]rawRowUpdate
	if err := json.Unmarshal(raw, &rawTables); err != nil {
		return nil, newError(ErrParsing, "table updates", err)
	}
	updates := &TableUpdates{Updates: make(map[string]TableUpdate, len(rawTables))}
	for tableName, rows := range rawTables {
		table := schema.Table(tableName)
		if table == nil {
			return nil, newError(ErrParsing, "table updates: unknown table "+tableName, nil)
		}
		tu := TableUpdate{Rows: make(map[string]RowUpdate, len(rows))}
		for uuid, rru := range rows {
			var ru RowUpdate
			if len(rru.New) > 0 {
				row, err := RowFromJSON(table, rru.New)
				if err != nil {
					return nil, err
				}
				ru.New = row
			}
			if len(rru.Old) > 0 {
				row, err := RowFromJSON(table, rru.Old)
				if err != nil {
					return nil, err
				}
				ru.Old = row
			}
			tu.Rows[uuid] = ru
		}
		updates.Updates[tableName] = tu
	}
	return updates, nil
}

// NewCondition builds an RFC 7047 <condition> from a column, a relational
// function, and a native value.
func NewCondition(column *ColumnSchema, function string, value interface{}) ([]interface{}, error) {
	wire, err := column.Type.ValueToJSON(value)
	if err != nil {
		return nil, err
	}
	return []interface{}{column.Name, function, wire}, nil
}

// NewMutation builds an RFC 7047 <mutation> from a column, a mutator, and a
// native value.
func NewMutation(column *ColumnSchema, mutator string, value interface{}) ([]interface{}, error) {
	wire, err := column.Type.ValueToJSON(value)
	if err != nil {
		return nil, err
	}
	return []interface{}{column.Name, mutator, wire}, nil
}

// TransactResponse represents the response to a transact request.
type TransactResponse struct {
	Result []OperationResult `json:"result"`
	Error  string             `json:"error"`
}

// OperationResult is the result of a single operation within a transact
// batch. Rows is left as raw JSON since its shape (a partial row) depends
// on the originating select's Columns filter and the table schema, which
// the caller supplies to OperationResult.Rows via DecodeRows.
type OperationResult struct {
	Count   int               `json:"count,omitempty"`
	Error   string            `json:"error,omitempty"`
	Details string            `json:"details,omitempty"`
	UUID    UUID              `json:"uuid,omitempty"`
	Rows    []json.RawMessage `json:"rows,omitempty"`
}

// Failed reports whether this operation result carries a server-side error,
// i.e. ErrOperationFailed per spec §7.
func (r OperationResult) Failed() bool {
	return r.Error != ""
}

// DecodeRows decodes the raw per-operation select rows against table using
// the value codec, returning them in native Row form.
func (r OperationResult) DecodeRows(table *TableSchema) ([]Row, error) {
	rows := make([]Row, 0, len(r.Rows))
	for _, raw := range r.Rows {
		row, err := RowFromJSON(table, raw)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}
