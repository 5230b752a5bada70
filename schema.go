package ovsdb

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
)

// AtomicKind is the tag of a BaseType: the five scalar kinds RFC 7047 defines.
type AtomicKind string

const (
	KindInteger AtomicKind = "integer"
	KindReal    AtomicKind = "real"
	KindBoolean AtomicKind = "boolean"
	KindString  AtomicKind = "string"
	KindUUID    AtomicKind = "uuid"
)

// RefType distinguishes a strong (garbage-collecting) uuid reference from a
// weak one.
type RefType string

const (
	Strong RefType = "strong"
	Weak   RefType = "weak"
)

// unlimited is the sentinel for ColumnType.Max meaning "no upper bound". It
// is the largest representable positive value, per spec §3.
const unlimited int64 = math.MaxInt64

// BaseType is a tagged variant over RFC 7047's <base-type>: one atomic kind
// plus whichever constraints apply to it (range, length, enum, uuid
// reference). A single parser inspects the JSON shape once and fills in
// only the fields relevant to Kind, rather than probing each subtype.
type BaseType struct {
	Kind AtomicKind

	MinInteger, MaxInteger int64
	MinReal, MaxReal       float64
	MinLength, MaxLength   int64

	Enum []interface{}

	RefTable string
	RefType  RefType
}

func defaultBaseType(kind AtomicKind) *BaseType {
	bt := &BaseType{Kind: kind}
	switch kind {
	case KindInteger:
		bt.MinInteger, bt.MaxInteger = math.MinInt64, math.MaxInt64
	case KindReal:
		bt.MinReal, bt.MaxReal = -math.MaxFloat64, math.MaxFloat64
	case KindString:
		bt.MinLength, bt.MaxLength = 0, unlimited
	case KindUUID:
		bt.RefType = Strong
	}
	return bt
}

// baseTypeObj mirrors the JSON object shape of a <base-type> so it can be
// probed once instead of re-parsed per candidate subtype.
type baseTypeObj struct {
	Type       AtomicKind      `json:"type"`
	MinInteger *int64          `json:"minInteger,omitempty"`
	MaxInteger *int64          `json:"maxInteger,omitempty"`
	MinReal    *float64        `json:"minReal,omitempty"`
	MaxReal    *float64        `json:"maxReal,omitempty"`
	MinLength  *int64          `json:"minLength,omitempty"`
	MaxLength  *int64          `json:"maxLength,omitempty"`
	Enum       json.RawMessage `json:"enum,omitempty"`
	RefTable   string          `json:"refTable,omitempty"`
	RefType    RefType         `json:"refType,omitempty"`
}

// BaseTypeFromJSON parses the "key" or "value" field of a <column-type>
// object. It handles the three shapes RFC 7047 allows: a bare string naming
// a scalar type, an object carrying the type plus constraints, or the field
// being entirely absent (returns nil, nil).
func BaseTypeFromJSON(raw json.RawMessage, fieldName string) (*BaseType, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	// Shape 1: bare string.
	var name AtomicKind
	if err := json.Unmarshal(raw, &name); err == nil {
		if !isAtomicKind(name) {
			return nil, newError(ErrUnknownColumnType, fmt.Sprintf("%s: unknown atomic type %q", fieldName, name), nil)
		}
		return defaultBaseType(name), nil
	}

	// Shape 2: object with "type" plus optional constraints.
	var obj baseTypeObj
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, newError(ErrParsing, fieldName, err)
	}
	if !isAtomicKind(obj.Type) {
		return nil, newError(ErrUnknownColumnType, fmt.Sprintf("%s: unknown atomic type %q", fieldName, obj.Type), nil)
	}
	bt := defaultBaseType(obj.Type)
	if obj.MinInteger != nil {
		bt.MinInteger = *obj.MinInteger
	}
	if obj.MaxInteger != nil {
		bt.MaxInteger = *obj.MaxInteger
	}
	if obj.MinReal != nil {
		bt.MinReal = *obj.MinReal
	}
	if obj.MaxReal != nil {
		bt.MaxReal = *obj.MaxReal
	}
	if obj.MinLength != nil {
		bt.MinLength = *obj.MinLength
	}
	if obj.MaxLength != nil {
		bt.MaxLength = *obj.MaxLength
	}
	if len(obj.Enum) > 0 {
		var set OvsSet
		if err := set.UnmarshalJSON(obj.Enum); err != nil {
			return nil, newError(ErrParsing, fieldName+".enum", err)
		}
		bt.Enum = set.GoSet
	}
	if obj.RefTable != "" {
		bt.RefTable = obj.RefTable
	}
	if obj.RefType != "" {
		bt.RefType = obj.RefType
	}
	return bt, nil
}

func isAtomicKind(k AtomicKind) bool {
	switch k {
	case KindInteger, KindReal, KindBoolean, KindString, KindUUID:
		return true
	default:
		return false
	}
}

// ColumnType is (Key, Min, Max) plus an optional Value type. If Value is
// absent and Min==Max==1 the column is a scalar of Key; if Value is absent
// otherwise it is a set of Key; if Value is present it is a map from Key to
// Value.
type ColumnType struct {
	Key   *BaseType // the map key type, or the sole type for atomic/set columns
	Value *BaseType // non-nil only for key-valued (map) columns
	Min   int64
	Max   int64
}

// IsMultiValued reports whether the column holds zero-or-more / more-than-one
// values, i.e. min != max.
func (c *ColumnType) IsMultiValued() bool {
	return c.Min != c.Max
}

// IsMap reports whether the column is key-valued.
func (c *ColumnType) IsMap() bool {
	return c.Value != nil
}

type columnTypeObj struct {
	Key   json.RawMessage `json:"key"`
	Value json.RawMessage `json:"value,omitempty"`
	Min   *int64          `json:"min,omitempty"`
	Max   json.RawMessage `json:"max,omitempty"`
}

// ColumnTypeFromJSON parses a <column-type>: a bare string (atomic, all
// defaults), or an object. The object is atomic if it has no "value"
// property, key-valued if it has both "key" and "value". min/max parsing is
// shared between the two so they can never disagree on the same input.
func ColumnTypeFromJSON(raw json.RawMessage) (*ColumnType, error) {
	var name AtomicKind
	if err := json.Unmarshal(raw, &name); err == nil {
		if !isAtomicKind(name) {
			return nil, newError(ErrUnknownColumnType, fmt.Sprintf("unknown atomic type %q", name), nil)
		}
		return &ColumnType{Key: defaultBaseType(name), Min: 1, Max: 1}, nil
	}

	var obj columnTypeObj
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, newError(ErrUnknownColumnType, "column type", err)
	}
	if len(obj.Key) == 0 {
		return nil, newError(ErrUnknownColumnType, "column type: missing key", nil)
	}

	key, err := BaseTypeFromJSON(obj.Key, "key")
	if err != nil {
		return nil, err
	}

	min, max, err := parseMinMax(obj.Min, obj.Max)
	if err != nil {
		return nil, err
	}

	if len(obj.Value) > 0 {
		value, err := BaseTypeFromJSON(obj.Value, "value")
		if err != nil {
			return nil, err
		}
		return &ColumnType{Key: key, Value: value, Min: min, Max: max}, nil
	}
	return &ColumnType{Key: key, Min: min, Max: max}, nil
}

// parseMinMax applies RFC 7047's defaulting and validity rules, shared by
// atomic and key-valued column types: min defaults to 1, max defaults to 1,
// the textual "unlimited" maps to the largest representable value, and after
// defaulting min must be 0 or 1 and max must be >= max(min, 1).
func parseMinMax(minRaw *int64, maxRaw json.RawMessage) (int64, int64, error) {
	min := int64(1)
	if minRaw != nil {
		min = *minRaw
	}

	max := int64(1)
	if len(maxRaw) > 0 {
		var maxStr string
		if err := json.Unmarshal(maxRaw, &maxStr); err == nil {
			if maxStr != "unlimited" {
				return 0, 0, newError(ErrUnknownColumnType, fmt.Sprintf("unknown max value %q", maxStr), nil)
			}
			max = unlimited
		} else if err := json.Unmarshal(maxRaw, &max); err != nil {
			return 0, 0, newError(ErrUnknownColumnType, "max", err)
		}
	}

	if min != 0 && min != 1 {
		return 0, 0, newError(ErrUnknownColumnType, fmt.Sprintf("invalid min %d, must be 0 or 1", min), nil)
	}
	floor := min
	if floor < 1 {
		floor = 1
	}
	if max < floor {
		return 0, 0, newError(ErrUnknownColumnType, fmt.Sprintf("invalid max %d, must be >= %d", max, floor), nil)
	}
	return min, max, nil
}

// ColumnSchema is (name, ColumnType), immutable once parsed.
type ColumnSchema struct {
	Name      string
	Type      *ColumnType
	Ephemeral bool
	Mutable   bool
}

type columnSchemaJSON struct {
	Type      json.RawMessage `json:"type"`
	Ephemeral bool            `json:"ephemeral,omitempty"`
	Mutable   *bool           `json:"mutable,omitempty"`
}

// ColumnSchemaFromJSON parses a single entry of a <table-schema>.columns map.
func ColumnSchemaFromJSON(name string, raw json.RawMessage) (*ColumnSchema, error) {
	var cs columnSchemaJSON
	if err := json.Unmarshal(raw, &cs); err != nil {
		return nil, newError(ErrParsing, "column "+name, err)
	}
	ct, err := ColumnTypeFromJSON(cs.Type)
	if err != nil {
		return nil, err
	}
	mutable := true
	if cs.Mutable != nil {
		mutable = *cs.Mutable
	}
	return &ColumnSchema{Name: name, Type: ct, Ephemeral: cs.Ephemeral, Mutable: mutable}, nil
}

// TableSchema is (name, columns by name). Column names are unique per table
// because they come from a JSON object.
type TableSchema struct {
	Name    string
	Columns map[string]*ColumnSchema
	Indexes [][]string
}

type tableSchemaJSON struct {
	Columns map[string]json.RawMessage `json:"columns"`
	Indexes [][]string                 `json:"indexes,omitempty"`
}

// TableSchemaFromJSON parses a single entry of a <database-schema>.tables map.
func TableSchemaFromJSON(name string, raw json.RawMessage) (*TableSchema, error) {
	var ts tableSchemaJSON
	if err := json.Unmarshal(raw, &ts); err != nil {
		return nil, newError(ErrParsing, "table "+name, err)
	}
	table := &TableSchema{Name: name, Columns: make(map[string]*ColumnSchema, len(ts.Columns)), Indexes: ts.Indexes}
	for colName, colRaw := range ts.Columns {
		col, err := ColumnSchemaFromJSON(colName, colRaw)
		if err != nil {
			return nil, err
		}
		table.Columns[colName] = col
	}
	return table, nil
}

// Column looks up a column by name, returning nil if it is not present.
func (t *TableSchema) Column(name string) *ColumnSchema {
	return t.Columns[name]
}

// DatabaseSchema is (name, version, tables by name).
type DatabaseSchema struct {
	Name    string
	Version string
	Tables  map[string]*TableSchema
}

type databaseSchemaJSON struct {
	Name    string                     `json:"name"`
	Version string                     `json:"version"`
	Tables  map[string]json.RawMessage `json:"tables"`
}

// DatabaseSchemaFromJSON parses a full get_schema reply.
func DatabaseSchemaFromJSON(raw []byte) (*DatabaseSchema, error) {
	var dbj databaseSchemaJSON
	if err := json.Unmarshal(raw, &dbj); err != nil {
		return nil, newError(ErrParsing, "database schema", err)
	}
	db := &DatabaseSchema{
		Name:    dbj.Name,
		Version: dbj.Version,
		Tables:  make(map[string]*TableSchema, len(dbj.Tables)),
	}
	for name, tableRaw := range dbj.Tables {
		table, err := TableSchemaFromJSON(name, tableRaw)
		if err != nil {
			return nil, err
		}
		db.Tables[name] = table
	}
	db.populateInternallyGeneratedColumns()
	return db, nil
}

// populateInternallyGeneratedColumns fills in the implicit _uuid/_version
// columns every OVSDB table carries but that the server does not advertise.
func (schema *DatabaseSchema) populateInternallyGeneratedColumns() {
	uuidType := &ColumnType{Key: &BaseType{Kind: KindUUID, RefType: Strong}, Min: 1, Max: 1}
	versionType := &ColumnType{Key: &BaseType{Kind: KindUUID, RefType: Strong}, Min: 1, Max: 1}
	for _, table := range schema.Tables {
		if _, ok := table.Columns["_uuid"]; !ok {
			table.Columns["_uuid"] = &ColumnSchema{Name: "_uuid", Type: uuidType, Mutable: false}
		}
		if _, ok := table.Columns["_version"]; !ok {
			table.Columns["_version"] = &ColumnSchema{Name: "_version", Type: versionType, Mutable: false}
		}
	}
}

// Table looks up a table by name, returning nil if it is not present.
func (schema *DatabaseSchema) Table(name string) *TableSchema {
	return schema.Tables[name]
}

// Print writes a human-readable dump of the schema, mirroring the
// diagnostic output OVSDB client tools traditionally offer.
func (schema *DatabaseSchema) Print(w io.Writer) {
	fmt.Fprintf(w, "%s (%s)\n", schema.Name, schema.Version)
	for name, table := range schema.Tables {
		fmt.Fprintf(w, "\t%s\n", name)
		for colName, col := range table.Columns {
			fmt.Fprintf(w, "\t\t%s => %s\n", colName, col.Type.describe())
		}
	}
}

func (c *ColumnType) describe() string {
	switch {
	case c.IsMap():
		return fmt.Sprintf("map[%s]%s", c.Key.Kind, c.Value.Kind)
	case c.IsMultiValued():
		return fmt.Sprintf("[]%s (min: %d, max: %d)", c.Key.Kind, c.Min, c.Max)
	default:
		return string(c.Key.Kind)
	}
}

// validateOperations performs the same table/column existence checks an
// OVSDB client should do before sending a transact request to the wire.
func (schema *DatabaseSchema) validateOperations(operations ...Operation) bool {
	for _, op := range operations {
		table, ok := schema.Tables[op.Table]
		if !ok {
			return false
		}
		if !columnsExist(table, op.Row) {
			return false
		}
		for _, row := range op.Rows {
			if !columnsExist(table, row) {
				return false
			}
		}
		for _, column := range op.Columns {
			if _, ok := table.Columns[column]; !ok {
				return false
			}
		}
	}
	return true
}

func columnsExist(table *TableSchema, row map[string]interface{}) bool {
	for column := range row {
		if _, ok := table.Columns[column]; !ok {
			return false
		}
	}
	return true
}
