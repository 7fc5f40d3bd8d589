// Package sqlite is the embedded database vendor. It opens a single writer
// pool and a concurrent read-only pool over the same database file.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"appfuel/db"

	"go.uber.org/zap"
	msqlite "modernc.org/sqlite"
)

// Vendor is the connector vendor name
const Vendor = "sqlite"

// MemoryPath selects a private in-memory database
const MemoryPath = ":memory:"

var memorySeq atomic.Int64

// Mapper translates sqlite driver errors
var Mapper db.ErrorMapper = db.ErrorMapperFunc(MapError)

// MapError maps a *sqlite.Error to its result code. Other errors give nil so
// the caller falls back to the default mapping.
func MapError(err error) *db.Error {
	var se *msqlite.Error
	if errors.As(err, &se) {
		return db.NewError(se.Code(), se.Error(), db.SQLStateGeneral)
	}
	return nil
}

// NewConnector opens the write and read pools for path. An empty path or
// ":memory:" uses a shared-cache in-memory database unique to this connector.
func NewConnector(name, path string, logger *zap.SugaredLogger) (*db.Connector, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	memory := path == "" || path == MemoryPath
	base := path
	if memory {
		// both pools must reach the same database, so name it and share the cache
		base = fmt.Sprintf("file:appfuel-%s-%d?mode=memory&cache=shared", name, memorySeq.Add(1))
	} else if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	writeDB, err := sql.Open("sqlite", dsn(base, false))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite write database: %w", err)
	}
	if err := configureConnection(writeDB, logger, memory, "write"); err != nil {
		_ = writeDB.Close()
		return nil, fmt.Errorf("failed to configure write connection: %w", err)
	}

	// single writer
	writeDB.SetMaxOpenConns(1)
	writeDB.SetMaxIdleConns(1)
	writeDB.SetConnMaxLifetime(0)
	if !memory {
		// an in-memory database is dropped with its last connection
		writeDB.SetConnMaxIdleTime(10 * time.Minute)
	}

	readDB, err := sql.Open("sqlite", dsn(base, true))
	if err != nil {
		_ = writeDB.Close()
		return nil, fmt.Errorf("failed to open sqlite read database: %w", err)
	}
	if err := configureConnection(readDB, logger, memory, "read"); err != nil {
		_ = writeDB.Close()
		_ = readDB.Close()
		return nil, fmt.Errorf("failed to configure read connection: %w", err)
	}

	var queryOnly int
	if err := readDB.QueryRow("PRAGMA query_only").Scan(&queryOnly); err != nil {
		_ = writeDB.Close()
		_ = readDB.Close()
		return nil, fmt.Errorf("failed to verify query_only mode: %w", err)
	}
	if queryOnly != 1 {
		_ = writeDB.Close()
		_ = readDB.Close()
		return nil, fmt.Errorf("query_only mode not enabled on read pool (got: %d, expected: 1)", queryOnly)
	}

	readDB.SetMaxOpenConns(10)
	readDB.SetMaxIdleConns(5)
	if !memory {
		readDB.SetConnMaxLifetime(5 * time.Minute)
		readDB.SetConnMaxIdleTime(10 * time.Minute)
	}

	logger.Infow("SQLite connector opened",
		"connector", name,
		"path", path,
		"memory", memory)

	return db.NewConnector(name, Vendor, writeDB, readDB, Mapper), nil
}

// dsn adds the per connection pragmas. Pragmas in the DSN run on every new
// connection of the pool, not only the first.
func dsn(base string, readOnly bool) string {
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	if readOnly {
		q.Add("_pragma", "query_only(1)")
	}

	sep := "?"
	for i := 0; i < len(base); i++ {
		if base[i] == '?' {
			sep = "&"
			break
		}
	}
	return base + sep + q.Encode()
}

func configureConnection(sqlDB *sql.DB, logger *zap.SugaredLogger, memory bool, poolType string) error {
	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	var fkEnabled int
	if err := sqlDB.QueryRow("PRAGMA foreign_keys").Scan(&fkEnabled); err != nil {
		return fmt.Errorf("failed to verify foreign keys: %w", err)
	}
	if fkEnabled != 1 {
		return fmt.Errorf("foreign keys not enabled (got: %d, expected: 1)", fkEnabled)
	}

	var journalMode string
	if err := sqlDB.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to query journal mode: %w", err)
	}
	// in-memory databases report "memory"
	if !memory && journalMode != "wal" {
		return fmt.Errorf("WAL mode not enabled (got: %s, expected: wal)", journalMode)
	}
	logger.Debugf("SQLite %s pool: journal mode %s", poolType, journalMode)

	return nil
}
