package db

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"appfuel/metrics"

	"go.uber.org/zap"
)

// Pool holds the named connectors of an application and the name of the
// default connector
type Pool struct {
	mu         sync.RWMutex
	connectors map[string]*Connector
	defaultKey string
	logger     *zap.SugaredLogger

	// previous cumulative wait counts, keyed by connector then pool type
	prevWait map[string]map[string]int64
}

// NewPool creates an empty pool
func NewPool(logger *zap.SugaredLogger) *Pool {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Pool{
		connectors: make(map[string]*Connector),
		prevWait:   make(map[string]map[string]int64),
		logger:     logger,
	}
}

// Add registers a connector under its name. The first connector added becomes
// the default.
func (p *Pool) Add(c *Connector) error {
	if c == nil || c.Name == "" {
		return fmt.Errorf("db: connector must have a name")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.connectors[c.Name]; exists {
		return fmt.Errorf("db: connector %q already registered", c.Name)
	}
	p.connectors[c.Name] = c
	if p.defaultKey == "" {
		p.defaultKey = c.Name
	}
	return nil
}

// Get returns the named connector
func (p *Pool) Get(name string) (*Connector, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	c, ok := p.connectors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrConnectorNotFound, name)
	}
	return c, nil
}

// Default returns the default connector
func (p *Pool) Default() (*Connector, error) {
	p.mu.RLock()
	key := p.defaultKey
	p.mu.RUnlock()

	if key == "" {
		return nil, ErrNoDefaultConnector
	}
	return p.Get(key)
}

// SetDefault changes the default connector
func (p *Pool) SetDefault(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.connectors[name]; !ok {
		return fmt.Errorf("%w: %s", ErrConnectorNotFound, name)
	}
	p.defaultKey = name
	return nil
}

// DefaultName returns the name of the default connector
func (p *Pool) DefaultName() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.defaultKey
}

// Names returns the registered connector names in sorted order
func (p *Pool) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	names := make([]string, 0, len(p.connectors))
	for name := range p.connectors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Shutdown closes every connector and empties the pool
func (p *Pool) Shutdown() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for name, c := range p.connectors {
		if err := c.Close(); err != nil {
			p.logger.Errorw("Failed to close connector", "connector", name, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	p.connectors = make(map[string]*Connector)
	p.defaultKey = ""
	return firstErr
}

// StartMetricsCollection periodically exports the pool statistics until ctx
// is cancelled
func (p *Pool) StartMetricsCollection(ctx context.Context, interval time.Duration) {
	p.updatePoolMetrics()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				p.logger.Info("DB pool metrics collection stopped")
				return
			case <-ticker.C:
				p.updatePoolMetrics()
			}
		}
	}()

	p.logger.Infof("DB pool metrics collection started (interval: %v)", interval)
}

func (p *Pool) updatePoolMetrics() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for name, c := range p.connectors {
		for poolType, stats := range c.Stats() {
			p.updatePoolMetricsForType(name, poolType, stats)
		}
	}
}

func (p *Pool) updatePoolMetricsForType(connector, poolType string, stats sql.DBStats) {
	metrics.DBPoolOpenConnections.WithLabelValues(connector, poolType).Set(float64(stats.OpenConnections))
	metrics.DBPoolInUse.WithLabelValues(connector, poolType).Set(float64(stats.InUse))
	metrics.DBPoolIdle.WithLabelValues(connector, poolType).Set(float64(stats.Idle))

	prev, ok := p.prevWait[connector]
	if !ok {
		prev = make(map[string]int64)
		p.prevWait[connector] = prev
	}
	// counters only move forward, so export the delta
	if delta := stats.WaitCount - prev[poolType]; delta > 0 {
		metrics.DBPoolWaitCount.WithLabelValues(connector, poolType).Add(float64(delta))
		prev[poolType] = stats.WaitCount
	}
}
