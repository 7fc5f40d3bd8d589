// Package db is the vendor agnostic database layer: requests, responses,
// prepared statements and connector pooling over database/sql.
package db

import (
	"strings"
)

// Request types
const (
	TypeQuery        = "query"
	TypeMultiQuery   = "multi-query"
	TypePreparedStmt = "prepared-stmt"
)

// Strategies select the connection pool
const (
	StrategyRead      = "read"
	StrategyWrite     = "write"
	StrategyReadWrite = "read-write"
)

// Result types control the shape of fetched rows
const (
	ResultName     = "name"
	ResultPosition = "position"
	ResultNamePos  = "name-pos"
)

// RowCallback is called for every fetched row. A returned error skips the row.
type RowCallback func(row *Row) error

// Request describes one database operation
type Request struct {
	reqType    string
	strategy   string
	sql        string
	resultType string
	buffered   bool
	callback   RowCallback
	values     []interface{}
}

// NewRequest creates a read request of the given type with buffered, name
// keyed results
func NewRequest(reqType string) (*Request, error) {
	r := &Request{
		strategy:   StrategyRead,
		resultType: ResultName,
		buffered:   true,
	}
	if err := r.SetType(reqType); err != nil {
		return nil, err
	}
	return r, nil
}

// NewQuery is a shortcut for a query request with sql set
func NewQuery(sql string) (*Request, error) {
	return newWithSQL(TypeQuery, sql)
}

// NewPreparedRequest is a shortcut for a prepared statement request
func NewPreparedRequest(sql string, values ...interface{}) (*Request, error) {
	r, err := newWithSQL(TypePreparedStmt, sql)
	if err != nil {
		return nil, err
	}
	return r.SetValues(values...), nil
}

func newWithSQL(reqType, sql string) (*Request, error) {
	r, err := NewRequest(reqType)
	if err != nil {
		return nil, err
	}
	if err := r.SetSQL(sql); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Request) SetType(reqType string) error {
	reqType = strings.ToLower(strings.TrimSpace(reqType))
	switch reqType {
	case TypeQuery, TypeMultiQuery, TypePreparedStmt:
		r.reqType = reqType
		return nil
	}
	return ErrInvalidRequestType
}

func (r *Request) Type() string {
	return r.reqType
}

func (r *Request) SetStrategy(strategy string) error {
	strategy = strings.ToLower(strings.TrimSpace(strategy))
	switch strategy {
	case StrategyRead, StrategyWrite, StrategyReadWrite:
		r.strategy = strategy
		return nil
	}
	return ErrInvalidStrategy
}

func (r *Request) Strategy() string {
	return r.strategy
}

func (r *Request) EnableReadOnly() *Request {
	r.strategy = StrategyRead
	return r
}

func (r *Request) EnableWrite() *Request {
	r.strategy = StrategyWrite
	return r
}

func (r *Request) EnableReadWrite() *Request {
	r.strategy = StrategyReadWrite
	return r
}

// IsReadOnly reports whether the request runs against the read pool
func (r *Request) IsReadOnly() bool {
	return r.strategy == StrategyRead
}

// SetSQL trims sql and rejects an empty result
func (r *Request) SetSQL(sql string) error {
	sql = strings.TrimSpace(sql)
	if sql == "" {
		return ErrEmptySQL
	}
	r.sql = sql
	return nil
}

func (r *Request) SQL() string {
	return r.sql
}

func (r *Request) SetResultType(resultType string) error {
	resultType = strings.ToLower(strings.TrimSpace(resultType))
	switch resultType {
	case ResultName, ResultPosition, ResultNamePos:
		r.resultType = resultType
		return nil
	}
	return ErrInvalidResultType
}

func (r *Request) ResultType() string {
	return r.resultType
}

func (r *Request) EnableResultBuffer() *Request {
	r.buffered = true
	return r
}

func (r *Request) DisableResultBuffer() *Request {
	r.buffered = false
	return r
}

func (r *Request) IsResultBuffer() bool {
	return r.buffered
}

func (r *Request) SetCallback(cb RowCallback) *Request {
	r.callback = cb
	return r
}

func (r *Request) Callback() RowCallback {
	return r.callback
}

// SetValues sets the values bound to a prepared statement. Nested slices are
// flattened one level by NormalizeParams at execution time.
func (r *Request) SetValues(values ...interface{}) *Request {
	r.values = values
	return r
}

func (r *Request) Values() []interface{} {
	return r.values
}
