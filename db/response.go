package db

import (
	"appfuel/errstack"
)

// ResultSet holds the outcome of one statement
type ResultSet struct {
	Columns      []string
	Rows         []*Row
	RowsAffected int64
	LastInsertID int64
}

// Response is returned for every request. Errors never panic out of the
// handler; they are collected on the error stack.
type Response struct {
	Sets   []*ResultSet
	Errors *errstack.Stack
}

// NewResponse creates an empty response
func NewResponse() *Response {
	return &Response{Errors: errstack.New()}
}

// IsSuccess reports whether no errors were collected
func (r *Response) IsSuccess() bool {
	return !r.Errors.IsError()
}

// AddSet appends a result set
func (r *Response) AddSet(set *ResultSet) *Response {
	r.Sets = append(r.Sets, set)
	return r
}

// AddError pushes a database error onto the stack
func (r *Response) AddError(err *Error) *Response {
	if err != nil {
		r.Errors.AddItem(err.StackItem())
	}
	return r
}

// First returns the first result set or nil
func (r *Response) First() *ResultSet {
	if len(r.Sets) == 0 {
		return nil
	}
	return r.Sets[0]
}

// Rows returns the rows of the first result set
func (r *Response) Rows() []*Row {
	if set := r.First(); set != nil {
		return set.Rows
	}
	return nil
}

// Err returns the error stack as an error or nil on success
func (r *Response) Err() error {
	return r.Errors.Err()
}
