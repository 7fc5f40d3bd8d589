package db

import (
	"context"
	"database/sql"
	"fmt"

	"appfuel/errstack"
)

// Preparer is satisfied by *sql.DB, *sql.Conn and *sql.Tx
type Preparer interface {
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// PreparedStmt wraps a driver statement with the prepare, bind, execute and
// fetch life cycle. It is not safe for concurrent use.
type PreparedStmt struct {
	driver Preparer
	mapper ErrorMapper

	stmt         *sql.Stmt
	sql          string
	placeholders int
	params       []interface{}
	rows         *sql.Rows
	columns      []string
	buffer       [][]interface{}

	prepared  bool
	bound     bool
	executed  bool
	organized bool
	resultset bool
	buffered  bool
	closed    bool

	err *Error
}

// NewPreparedStmt creates a statement bound to driver. A nil mapper uses
// DefaultMapper.
func NewPreparedStmt(driver Preparer, mapper ErrorMapper) *PreparedStmt {
	if mapper == nil {
		mapper = DefaultMapper
	}
	return &PreparedStmt{driver: driver, mapper: mapper}
}

// Prepare sends sql to the driver. Driver failures are recorded and returned
// as *Error.
func (p *PreparedStmt) Prepare(ctx context.Context, query string) error {
	if p.closed {
		return ErrStmtClosed
	}
	if query == "" {
		return ErrEmptySQL
	}

	p.reset()
	stmt, err := p.driver.PrepareContext(ctx, query)
	if err != nil {
		return p.fail(mapError(p.mapper, err))
	}

	p.stmt = stmt
	p.sql = query
	p.placeholders = countPlaceholders(query)
	p.prepared = true
	p.err = nil
	return nil
}

// BindParams binds normalized params: a type specification followed by one
// value per type character.
func (p *PreparedStmt) BindParams(params []interface{}) error {
	if p.closed {
		return ErrStmtClosed
	}
	if _, ok := validBindSpec(params); !ok {
		return p.fail(NewError(ErrNoInvalidArgs, "bindParams fail: invalid args passed in", ""))
	}
	if !p.prepared {
		if p.err != nil {
			return p.err
		}
		return p.fail(NewError(ErrNoNotPrepared, "can not bind params before prepare", ""))
	}

	p.params = append([]interface{}(nil), params[1:]...)
	p.bound = true
	return nil
}

// Execute runs the statement as a query and keeps the rows open for fetching
func (p *PreparedStmt) Execute(ctx context.Context) error {
	if err := p.checkExecutable(); err != nil {
		return err
	}
	p.closeRows()

	rows, err := p.stmt.QueryContext(ctx, p.params...)
	if err != nil {
		return p.fail(mapError(p.mapper, err))
	}
	p.rows = rows
	p.executed = true
	p.buffer = nil
	p.buffered = false

	if p.organized {
		return p.loadColumns()
	}
	return nil
}

// ExecuteNoResult runs the statement as an exec. Drivers that can not report
// the last insert id give 0.
func (p *PreparedStmt) ExecuteNoResult(ctx context.Context) (rowsAffected, lastInsertID int64, err error) {
	if err := p.checkExecutable(); err != nil {
		return 0, 0, err
	}
	p.closeRows()

	res, execErr := p.stmt.ExecContext(ctx, p.params...)
	if execErr != nil {
		return 0, 0, p.fail(mapError(p.mapper, execErr))
	}
	p.executed = true

	rowsAffected, _ = res.RowsAffected()
	lastInsertID, _ = res.LastInsertId()
	return rowsAffected, lastInsertID, nil
}

func (p *PreparedStmt) checkExecutable() error {
	if p.closed {
		return ErrStmtClosed
	}
	if !p.prepared {
		return p.fail(NewError(ErrNoNotPrepared, "can not execute before prepare", ""))
	}
	if p.placeholders > 0 && !p.bound {
		return p.fail(NewError(ErrNoNoDataParams, "No data supplied for parameters in prepared statement", SQLStateGeneral))
	}
	return nil
}

// OrganizeResults reads the result column metadata. Before execution the read
// is deferred until the rows exist, and the statement reports a result set
// when its sql produces rows.
func (p *PreparedStmt) OrganizeResults() error {
	if !p.prepared {
		return p.fail(NewError(ErrNoNotPrepared, "can not organize results before prepare", ""))
	}
	p.organized = true
	p.resultset = returnsRows(p.sql)
	if p.rows != nil {
		return p.loadColumns()
	}
	return nil
}

func (p *PreparedStmt) loadColumns() error {
	cols, err := p.rows.Columns()
	if err != nil {
		return p.fail(mapError(p.mapper, err))
	}
	p.columns = cols
	return nil
}

// Columns returns the organized result columns
func (p *PreparedStmt) Columns() []string {
	return p.columns
}

// StoreResults reads every row into memory and releases the driver rows
func (p *PreparedStmt) StoreResults() error {
	if !p.executed || p.rows == nil {
		return p.fail(NewError(ErrNoNotExecuted, "can not store results before execute", ""))
	}
	if p.columns == nil {
		if err := p.loadColumns(); err != nil {
			return err
		}
	}

	var buffer [][]interface{}
	for p.rows.Next() {
		values, err := p.scan()
		if err != nil {
			p.closeRows()
			return err
		}
		buffer = append(buffer, values)
	}
	if err := p.rows.Err(); err != nil {
		p.closeRows()
		return p.fail(mapError(p.mapper, err))
	}
	p.closeRows()

	p.buffer = buffer
	p.buffered = true
	return nil
}

// Fetch returns the result rows shaped by resultType, reading the stored
// buffer when present and streaming from the driver otherwise. Fatal errors
// are pushed onto stack and returned. Callback errors are pushed onto stack
// and the row is skipped.
func (p *PreparedStmt) Fetch(stack *errstack.Stack, resultType string, cb RowCallback) ([]*Row, error) {
	if stack == nil {
		stack = errstack.New()
	}
	if !p.executed || (p.rows == nil && !p.buffered) {
		err := p.fail(NewError(ErrNoNotExecuted, "can not fetch before execute", ""))
		stack.AddItem(err.(*Error).StackItem())
		return nil, err
	}
	if p.columns == nil && p.rows != nil {
		if err := p.loadColumns(); err != nil {
			stack.AddItem(p.err.StackItem())
			return nil, err
		}
	}

	rows := make([]*Row, 0, len(p.buffer))
	add := func(values []interface{}) {
		row := NewRow(p.columns, values, resultType)
		if cb != nil {
			if err := cb(row); err != nil {
				stack.AddError(err, "callback")
				return
			}
		}
		rows = append(rows, row)
	}

	if p.buffered {
		for _, values := range p.buffer {
			add(values)
		}
		return rows, nil
	}

	defer p.closeRows()
	for p.rows.Next() {
		values, err := p.scan()
		if err != nil {
			stack.AddItem(p.err.StackItem())
			return rows, err
		}
		add(values)
	}
	if err := p.rows.Err(); err != nil {
		dbErr := mapError(p.mapper, err)
		stack.AddItem(dbErr.StackItem())
		return rows, p.fail(dbErr)
	}
	return rows, nil
}

func (p *PreparedStmt) scan() ([]interface{}, error) {
	values := make([]interface{}, len(p.columns))
	ptrs := make([]interface{}, len(p.columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := p.rows.Scan(ptrs...); err != nil {
		return nil, p.fail(mapError(p.mapper, err))
	}
	for i, v := range values {
		if b, ok := v.([]byte); ok {
			values[i] = string(b)
		}
	}
	return values, nil
}

// FreeStoredResults drops the stored buffer
func (p *PreparedStmt) FreeStoredResults() {
	p.buffer = nil
	p.buffered = false
	p.resultset = false
}

// Close releases the rows and the driver statement. The statement can not be
// used afterwards.
func (p *PreparedStmt) Close() error {
	if p.closed {
		return nil
	}
	p.closeRows()
	p.FreeStoredResults()

	var err error
	if p.stmt != nil {
		if cerr := p.stmt.Close(); cerr != nil {
			err = fmt.Errorf("failed to close statement: %w", cerr)
		}
	}
	p.stmt = nil
	p.driver = nil
	p.prepared = false
	p.bound = false
	p.closed = true
	return err
}

func (p *PreparedStmt) closeRows() {
	if p.rows != nil {
		_ = p.rows.Close()
		p.rows = nil
	}
}

func (p *PreparedStmt) reset() {
	p.closeRows()
	if p.stmt != nil {
		_ = p.stmt.Close()
		p.stmt = nil
	}
	p.params = nil
	p.columns = nil
	p.buffer = nil
	p.prepared = false
	p.bound = false
	p.executed = false
	p.organized = false
	p.resultset = false
	p.buffered = false
}

func (p *PreparedStmt) fail(err *Error) error {
	p.err = err
	return err
}

// SQL returns the prepared sql
func (p *PreparedStmt) SQL() string { return p.sql }

func (p *PreparedStmt) IsPrepared() bool    { return p.prepared }
func (p *PreparedStmt) IsParamsBound() bool { return p.bound }
func (p *PreparedStmt) IsExecuted() bool    { return p.executed }
func (p *PreparedStmt) IsBuffered() bool    { return p.buffered }
func (p *PreparedStmt) IsClosed() bool      { return p.closed }

// IsResultset reports whether rows are available to fetch, or once results
// are organized, whether the statement produces rows
func (p *PreparedStmt) IsResultset() bool {
	return p.rows != nil || p.buffered || (p.organized && p.resultset)
}

// IsDriver reports whether the statement still holds its driver
func (p *PreparedStmt) IsDriver() bool {
	return p.driver != nil
}

// Driver returns the prepared driver statement or nil
func (p *PreparedStmt) Driver() *sql.Stmt {
	return p.stmt
}

// IsError reports whether the last operation recorded an error
func (p *PreparedStmt) IsError() bool {
	return p.err != nil
}

// LastError returns the recorded error or nil
func (p *PreparedStmt) LastError() *Error {
	return p.err
}

// Err returns the recorded error as an error
func (p *PreparedStmt) Err() error {
	if p.err == nil {
		return nil
	}
	return p.err
}
