package db

import (
	"encoding/json"
	"strconv"
)

// Row is one fetched result row
type Row struct {
	columns    []string
	values     []interface{}
	resultType string
}

// NewRow creates a row. columns and values must have the same length.
func NewRow(columns []string, values []interface{}, resultType string) *Row {
	if resultType == "" {
		resultType = ResultName
	}
	return &Row{columns: columns, values: values, resultType: resultType}
}

// Get returns the value of the named column
func (r *Row) Get(name string) (interface{}, bool) {
	for i, col := range r.columns {
		if col == name {
			return r.values[i], true
		}
	}
	return nil, false
}

// At returns the value at position i
func (r *Row) At(i int) (interface{}, bool) {
	if i < 0 || i >= len(r.values) {
		return nil, false
	}
	return r.values[i], true
}

// Map returns a column name to value map (duplicate names keep the last value)
func (r *Row) Map() map[string]interface{} {
	out := make(map[string]interface{}, len(r.columns))
	for i, col := range r.columns {
		out[col] = r.values[i]
	}
	return out
}

// Values returns the values in column order
func (r *Row) Values() []interface{} {
	out := make([]interface{}, len(r.values))
	copy(out, r.values)
	return out
}

func (r *Row) Columns() []string {
	return r.columns
}

func (r *Row) ResultType() string {
	return r.resultType
}

// MarshalJSON encodes the row as an object, an array or an object keyed by
// both name and position, following the row's result type
func (r *Row) MarshalJSON() ([]byte, error) {
	switch r.resultType {
	case ResultPosition:
		return json.Marshal(r.values)
	case ResultNamePos:
		both := r.Map()
		for i, v := range r.values {
			both[strconv.Itoa(i)] = v
		}
		return json.Marshal(both)
	default:
		return json.Marshal(r.Map())
	}
}
