// Package mysql is the MySQL database vendor built on go-sql-driver/mysql.
// Statements are prepared on the server, never interpolated client side.
package mysql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"appfuel/db"

	gomysql "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
)

// Vendor is the connector vendor name
const Vendor = "mysql"

const (
	defaultPort      = 3306
	defaultCollation = "utf8mb4_general_ci"
	pingTimeout      = 5 * time.Second
)

// Client side error numbers reported by the mysql client library
const (
	ErrNoServerGone = 2006
	ErrNoServerLost = 2013
)

// Config describes one MySQL server and its optional read replica
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	// ReadHost is a replica used for read strategy requests
	ReadHost  string
	Collation string
	Params    map[string]string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	Timeout         time.Duration
}

// DriverConfig builds the driver configuration for host
func (c Config) DriverConfig(host string) *gomysql.Config {
	port := c.Port
	if port == 0 {
		port = defaultPort
	}
	collation := c.Collation
	if collation == "" {
		collation = defaultCollation
	}

	cfg := gomysql.NewConfig()
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(host, strconv.Itoa(port))
	cfg.User = c.User
	cfg.Passwd = c.Password
	cfg.DBName = c.Database
	cfg.Collation = collation
	cfg.ParseTime = true
	cfg.InterpolateParams = false
	cfg.MultiStatements = false
	cfg.Timeout = c.Timeout
	if len(c.Params) > 0 {
		cfg.Params = make(map[string]string, len(c.Params))
		for k, v := range c.Params {
			cfg.Params[k] = v
		}
	}
	return cfg
}

// DSN returns the data source name for the write host
func (c Config) DSN() string {
	return c.DriverConfig(c.Host).FormatDSN()
}

// NewConnector opens the write pool and, when a read host is configured, a
// replica pool. Both pools are pinged before returning.
func NewConnector(ctx context.Context, name string, cfg Config, logger *zap.SugaredLogger) (*db.Connector, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if cfg.Host == "" {
		return nil, fmt.Errorf("mysql connector %s: host is required", name)
	}

	writeDB, err := open(ctx, cfg, cfg.Host)
	if err != nil {
		return nil, fmt.Errorf("mysql connector %s: write pool: %w", name, err)
	}

	var readDB *sql.DB
	if cfg.ReadHost != "" && cfg.ReadHost != cfg.Host {
		readDB, err = open(ctx, cfg, cfg.ReadHost)
		if err != nil {
			_ = writeDB.Close()
			return nil, fmt.Errorf("mysql connector %s: read pool: %w", name, err)
		}
	}

	logger.Infow("MySQL connector opened",
		"connector", name,
		"host", cfg.Host,
		"read_host", cfg.ReadHost,
		"database", cfg.Database)

	return db.NewConnector(name, Vendor, writeDB, readDB, Mapper), nil
}

func open(ctx context.Context, cfg Config, host string) (*sql.DB, error) {
	connector, err := gomysql.NewConnector(cfg.DriverConfig(host))
	if err != nil {
		return nil, err
	}
	sqlDB := sql.OpenDB(connector)

	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping %s: %w", host, err)
	}
	return sqlDB, nil
}

// Mapper translates mysql driver errors
var Mapper db.ErrorMapper = db.ErrorMapperFunc(MapError)

// MapError maps server errors to their number and SQL state and connection
// failures to the client error numbers
func MapError(err error) *db.Error {
	var myErr *gomysql.MySQLError
	switch {
	case errors.As(err, &myErr):
		state := string(myErr.SQLState[:])
		if myErr.SQLState == [5]byte{} {
			state = ""
		}
		return db.NewError(int(myErr.Number), myErr.Message, state)
	case errors.Is(err, gomysql.ErrInvalidConn):
		return db.NewError(ErrNoServerLost, "Lost connection to MySQL server during query", db.SQLStateGeneral)
	case errors.Is(err, driver.ErrBadConn):
		return db.NewError(ErrNoServerGone, "MySQL server has gone away", db.SQLStateGeneral)
	}
	return db.NewError(db.ErrNoDriver, err.Error(), "")
}
