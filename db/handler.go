package db

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"appfuel/errstack"
	"appfuel/metrics"

	"go.uber.org/zap"
)

// Handler executes requests against the connectors of a pool
type Handler struct {
	pool   *Pool
	logger *zap.SugaredLogger
}

// NewHandler creates a handler over pool
func NewHandler(pool *Pool, logger *zap.SugaredLogger) *Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Handler{pool: pool, logger: logger}
}

// Pool returns the underlying connector pool
func (h *Handler) Pool() *Pool {
	return h.pool
}

// Execute runs req on the default connector
func (h *Handler) Execute(ctx context.Context, req *Request) *Response {
	c, err := h.pool.Default()
	if err != nil {
		return failed(NewError(ErrNoDriver, err.Error(), ""))
	}
	return h.run(ctx, c, req)
}

// ExecuteOn runs req on the named connector
func (h *Handler) ExecuteOn(ctx context.Context, name string, req *Request) *Response {
	c, err := h.pool.Get(name)
	if err != nil {
		return failed(NewError(ErrNoDriver, err.Error(), ""))
	}
	return h.run(ctx, c, req)
}

func failed(err *Error) *Response {
	return NewResponse().AddError(err)
}

func (h *Handler) run(ctx context.Context, c *Connector, req *Request) (resp *Response) {
	resp = NewResponse()
	if req == nil || req.SQL() == "" {
		return resp.AddError(NewError(ErrNoInvalidArgs, "request must have sql", ""))
	}

	start := time.Now()
	metrics.DBRequestsTotal.WithLabelValues(c.Name, req.Type(), req.Strategy()).Inc()
	defer func() {
		if r := recover(); r != nil {
			h.logger.Errorw("Panic during db request", "connector", c.Name, "panic", r)
			resp.AddError(NewError(ErrNoDriver, fmt.Sprintf("panic: %v", r), ""))
		}
		metrics.DBRequestDuration.WithLabelValues(c.Name, req.Type()).Observe(time.Since(start).Seconds())
		h.recordErrors(c.Name, req, resp)
	}()

	pool := c.DB(req.Strategy())
	switch req.Type() {
	case TypeQuery:
		h.runQuery(ctx, c, pool, req, resp)
	case TypeMultiQuery:
		h.runMultiQuery(ctx, c, pool, req, resp)
	case TypePreparedStmt:
		h.runPrepared(ctx, c, pool, req, resp)
	default:
		resp.AddError(NewError(ErrNoInvalidArgs, ErrInvalidRequestType.Error(), ""))
	}
	return resp
}

func (h *Handler) recordErrors(connector string, req *Request, resp *Response) {
	for _, item := range resp.Errors.Items() {
		metrics.DBErrorsTotal.WithLabelValues(connector, item.Code).Inc()
	}
	if !resp.IsSuccess() {
		h.logger.Warnw("DB request failed",
			"connector", connector,
			"type", req.Type(),
			"strategy", req.Strategy(),
			"error", resp.Err())
	}
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (h *Handler) runQuery(ctx context.Context, c *Connector, q querier, req *Request, resp *Response) {
	useQuery := req.Strategy() == StrategyRead ||
		(req.Strategy() == StrategyReadWrite && returnsRows(req.SQL()))

	args := queryArgs(req.Values())
	var set *ResultSet
	var err *Error
	if useQuery {
		set, err = queryRows(ctx, c, q, req.SQL(), args, req, resp.Errors)
	} else {
		set, err = execStatement(ctx, c, q, req.SQL(), args)
	}
	if set != nil {
		resp.AddSet(set)
	}
	resp.AddError(err)
}

func (h *Handler) runMultiQuery(ctx context.Context, c *Connector, pool *sql.DB, req *Request, resp *Response) {
	conn, err := pool.Conn(ctx)
	if err != nil {
		resp.AddError(c.MapError(err))
		return
	}
	defer conn.Close()

	for i, stmt := range SplitStatements(req.SQL()) {
		var set *ResultSet
		var dbErr *Error
		if returnsRows(stmt) {
			set, dbErr = queryRows(ctx, c, conn, stmt, nil, req, resp.Errors)
		} else {
			set, dbErr = execStatement(ctx, c, conn, stmt, nil)
		}
		if set != nil {
			resp.AddSet(set)
		}
		if dbErr != nil {
			h.logger.Debugw("Multi query stopped", "statement", i, "error", dbErr)
			resp.AddError(dbErr)
			return
		}
	}
}

func (h *Handler) runPrepared(ctx context.Context, c *Connector, pool *sql.DB, req *Request, resp *Response) {
	stmt := NewPreparedStmt(pool, c.Mapper)
	defer func() {
		if err := stmt.Close(); err != nil {
			h.logger.Warnw("Failed to close prepared statement", "connector", c.Name, "error", err)
		}
	}()

	if err := stmt.Prepare(ctx, req.SQL()); err != nil {
		resp.AddError(c.MapError(err))
		return
	}

	if params := NormalizeParams(req.Values()); len(params) > 0 {
		if err := stmt.BindParams(params); err != nil {
			resp.AddError(c.MapError(err))
			return
		}
	}

	if req.Strategy() == StrategyWrite || (req.Strategy() == StrategyReadWrite && !returnsRows(req.SQL())) {
		affected, lastID, err := stmt.ExecuteNoResult(ctx)
		if err != nil {
			resp.AddError(c.MapError(err))
			return
		}
		resp.AddSet(&ResultSet{RowsAffected: affected, LastInsertID: lastID})
		return
	}

	if err := stmt.Execute(ctx); err != nil {
		resp.AddError(c.MapError(err))
		return
	}
	if err := stmt.OrganizeResults(); err != nil {
		resp.AddError(c.MapError(err))
		return
	}
	if req.IsResultBuffer() {
		if err := stmt.StoreResults(); err != nil {
			resp.AddError(c.MapError(err))
			return
		}
		defer stmt.FreeStoredResults()
	}

	rows, err := stmt.Fetch(resp.Errors, req.ResultType(), req.Callback())
	if err != nil {
		// already on the stack
		return
	}
	resp.AddSet(&ResultSet{Columns: stmt.Columns(), Rows: rows})
}

func queryRows(ctx context.Context, c *Connector, q querier, query string, args []interface{}, req *Request, stack *errstack.Stack) (*ResultSet, *Error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, c.MapError(err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, c.MapError(err)
	}

	set := &ResultSet{Columns: cols}
	cb := req.Callback()
	for rows.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return set, c.MapError(err)
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}

		row := NewRow(cols, values, req.ResultType())
		if cb != nil {
			if err := cb(row); err != nil {
				stack.AddError(err, "callback")
				continue
			}
		}
		set.Rows = append(set.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return set, c.MapError(err)
	}
	return set, nil
}

func execStatement(ctx context.Context, c *Connector, q querier, query string, args []interface{}) (*ResultSet, *Error) {
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, c.MapError(err)
	}
	set := &ResultSet{}
	set.RowsAffected, _ = res.RowsAffected()
	set.LastInsertID, _ = res.LastInsertId()
	return set, nil
}

// queryArgs flattens values the same way prepared statements bind them
func queryArgs(values []interface{}) []interface{} {
	params := NormalizeParams(values)
	if len(params) == 0 {
		return nil
	}
	return params[1:]
}

var rowKeywords = []string{"select", "show", "with", "describe", "desc", "explain", "pragma", "values", "call"}

// returnsRows guesses from the leading keyword whether a statement yields rows
func returnsRows(sql string) bool {
	fields := strings.Fields(strings.TrimLeft(sql, "( \t\r\n"))
	if len(fields) == 0 {
		return false
	}
	first := strings.ToLower(fields[0])
	for _, kw := range rowKeywords {
		if first == kw {
			return true
		}
	}
	return false
}

// ErrorNumber extracts the number of a stack item code, or -1
func ErrorNumber(item *errstack.Item) int {
	if item == nil {
		return -1
	}
	n, err := strconv.Atoi(item.Code)
	if err != nil {
		return -1
	}
	return n
}
