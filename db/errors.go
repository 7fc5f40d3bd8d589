package db

import (
	"errors"
	"fmt"
	"strconv"

	"appfuel/errstack"
)

// Sentinel errors for request construction and statement misuse
var (
	ErrInvalidRequestType = errors.New("db: request type must be one of query, multi-query, prepared-stmt")
	ErrInvalidStrategy    = errors.New("db: strategy must be one of read, write, read-write")
	ErrInvalidResultType  = errors.New("db: result type must be one of name, position, name-pos")
	ErrEmptySQL           = errors.New("db: sql can not be empty")
	ErrStmtClosed         = errors.New("db: statement is closed")
	ErrConnectorNotFound  = errors.New("db: connector not found")
	ErrNoDefaultConnector = errors.New("db: no default connector")
)

// Framework error numbers. Vendor numbers pass through unchanged.
const (
	ErrNoInvalidArgs  = 10000
	ErrNoNotPrepared  = 10001
	ErrNoNotExecuted  = 10002
	ErrNoDriver       = 10003
	ErrNoNoDataParams = 2031
)

// SQLStateGeneral is the catch-all SQL state used for client side errors
const SQLStateGeneral = "HY000"

// Error is a database error with a vendor or framework error number. An empty
// SQLState means the state is unknown.
type Error struct {
	Number   int
	SQLState string
	Text     string
}

// NewError creates an error
func NewError(number int, text, sqlState string) *Error {
	return &Error{Number: number, SQLState: sqlState, Text: text}
}

func (e *Error) Error() string {
	if e.SQLState == "" {
		return fmt.Sprintf("db error %d: %s", e.Number, e.Text)
	}
	return fmt.Sprintf("db error %d (%s): %s", e.Number, e.SQLState, e.Text)
}

// StackItem converts the error into an error stack item coded by number
func (e *Error) StackItem() *errstack.Item {
	return errstack.NewItem(e.Text, strconv.Itoa(e.Number))
}

// ErrorMapper translates a vendor driver error into an *Error
type ErrorMapper interface {
	MapError(err error) *Error
}

// ErrorMapperFunc adapts a function to ErrorMapper
type ErrorMapperFunc func(err error) *Error

func (f ErrorMapperFunc) MapError(err error) *Error {
	return f(err)
}

// DefaultMapper keeps *Error values and reports anything else as a driver failure
var DefaultMapper ErrorMapper = ErrorMapperFunc(func(err error) *Error {
	var dbErr *Error
	if errors.As(err, &dbErr) {
		return dbErr
	}
	return NewError(ErrNoDriver, err.Error(), "")
})

func mapError(mapper ErrorMapper, err error) *Error {
	if err == nil {
		return nil
	}
	var dbErr *Error
	if errors.As(err, &dbErr) {
		return dbErr
	}
	if mapper == nil {
		mapper = DefaultMapper
	}
	if mapped := mapper.MapError(err); mapped != nil {
		return mapped
	}
	return DefaultMapper.MapError(err)
}
