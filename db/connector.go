package db

import (
	"context"
	"database/sql"
	"fmt"
)

// Connector is a named pair of connection pools for one database. Read and
// Write may be the same pool.
type Connector struct {
	Name   string
	Vendor string
	Read   *sql.DB
	Write  *sql.DB
	Mapper ErrorMapper
}

// NewConnector creates a connector. A nil read pool reuses the write pool.
func NewConnector(name, vendor string, write, read *sql.DB, mapper ErrorMapper) *Connector {
	if read == nil {
		read = write
	}
	if mapper == nil {
		mapper = DefaultMapper
	}
	return &Connector{
		Name:   name,
		Vendor: vendor,
		Read:   read,
		Write:  write,
		Mapper: mapper,
	}
}

// DB selects the pool for strategy. Only read goes to the read pool.
func (c *Connector) DB(strategy string) *sql.DB {
	if strategy == StrategyRead {
		return c.Read
	}
	return c.Write
}

// MapError translates a driver error with the connector's mapper
func (c *Connector) MapError(err error) *Error {
	return mapError(c.Mapper, err)
}

// HealthCheck pings both pools
func (c *Connector) HealthCheck(ctx context.Context) error {
	if err := c.Write.PingContext(ctx); err != nil {
		return fmt.Errorf("write pool: %w", err)
	}
	if c.Read != c.Write {
		if err := c.Read.PingContext(ctx); err != nil {
			return fmt.Errorf("read pool: %w", err)
		}
	}
	return nil
}

// Stats returns the pool statistics keyed by pool type
func (c *Connector) Stats() map[string]sql.DBStats {
	stats := map[string]sql.DBStats{"write": c.Write.Stats()}
	if c.Read != c.Write {
		stats["read"] = c.Read.Stats()
	}
	return stats
}

// Close closes both pools
func (c *Connector) Close() error {
	var writeErr, readErr error

	if c.Write != nil {
		writeErr = c.Write.Close()
	}
	if c.Read != nil && c.Read != c.Write {
		readErr = c.Read.Close()
	}

	if writeErr != nil {
		return fmt.Errorf("failed to close write pool: %w", writeErr)
	}
	if readErr != nil {
		return fmt.Errorf("failed to close read pool: %w", readErr)
	}
	return nil
}
