// Package clickhouse is the analytics database vendor built on clickhouse-go
// through its database/sql interface.
package clickhouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"appfuel/db"

	"github.com/ClickHouse/clickhouse-go/v2"
	"go.uber.org/zap"
)

// Vendor is the connector vendor name
const Vendor = "clickhouse"

const (
	defaultPort        = 9000
	defaultDatabase    = "default"
	defaultDialTimeout = 10 * time.Second
	pingTimeout        = 5 * time.Second
)

// Config describes one ClickHouse server
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	// Settings are passed to the server with every query, e.g. max_execution_time
	Settings map[string]string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	Timeout         time.Duration
}

// Options builds the driver options
func (c Config) Options() *clickhouse.Options {
	port := c.Port
	if port == 0 {
		port = defaultPort
	}
	database := c.Database
	if database == "" {
		database = defaultDatabase
	}
	timeout := c.Timeout
	if timeout == 0 {
		timeout = defaultDialTimeout
	}

	settings := clickhouse.Settings{"max_execution_time": 60}
	for k, v := range c.Settings {
		if n, err := strconv.Atoi(v); err == nil {
			settings[k] = n
			continue
		}
		settings[k] = v
	}

	return &clickhouse.Options{
		Addr: []string{net.JoinHostPort(c.Host, strconv.Itoa(port))},
		Auth: clickhouse.Auth{
			Database: database,
			Username: c.User,
			Password: c.Password,
		},
		Settings:    settings,
		DialTimeout: timeout,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		ConnOpenStrategy: clickhouse.ConnOpenInOrder,
	}
}

// NewConnector opens the pool and pings the server. ClickHouse has no
// replica pool here so reads and writes share it.
func NewConnector(ctx context.Context, name string, cfg Config, logger *zap.SugaredLogger) (*db.Connector, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if cfg.Host == "" {
		return nil, fmt.Errorf("clickhouse connector %s: host is required", name)
	}

	sqlDB := clickhouse.OpenDB(cfg.Options())
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	lifetime := cfg.ConnMaxLifetime
	if lifetime == 0 {
		lifetime = time.Hour
	}
	sqlDB.SetConnMaxLifetime(lifetime)

	if err := ping(ctx, sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("clickhouse connector %s: %w", name, err)
	}

	logger.Infow("ClickHouse connector opened",
		"connector", name,
		"host", cfg.Host,
		"database", cfg.Options().Auth.Database)

	return db.NewConnector(name, Vendor, sqlDB, nil, Mapper), nil
}

func ping(ctx context.Context, sqlDB *sql.DB) error {
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// Mapper translates clickhouse server exceptions
var Mapper db.ErrorMapper = db.ErrorMapperFunc(MapError)

// MapError maps a server exception to its code. Other errors give nil so the
// caller falls back to the default mapping.
func MapError(err error) *db.Error {
	var ex *clickhouse.Exception
	if errors.As(err, &ex) {
		return db.NewError(int(ex.Code), ex.Message, "")
	}
	return nil
}
