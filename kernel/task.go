package kernel

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"appfuel/config"
	"appfuel/db"
	"appfuel/db/clickhouse"
	"appfuel/db/mysql"
	"appfuel/db/sqlite"

	"go.uber.org/zap"
)

// Registry keys set from the configuration
const (
	KeyEnv             = "env"
	KeyDefaultTimezone = "default-timezone"
	KeyTemplateDir     = "template-dir"
	KeyDefaultStrategy = "default-strategy"
	KeyDBConnectors    = "db-connectors"
	KeyDBDefault       = "db-default"
)

// StartupTask prepares part of the runtime. Execute receives only the
// registry parameters named by RegistryKeys and returns a status line.
type StartupTask interface {
	Name() string
	RegistryKeys() []string
	Execute(ctx context.Context, params map[string]interface{}) (string, error)
}

// ParamsFromConfig builds the registry parameters: the free form
// kernel.params first, then the reserved keys
func ParamsFromConfig(cfg *config.Config) map[string]interface{} {
	params := make(map[string]interface{}, len(cfg.Kernel.Params)+6)
	for k, v := range cfg.Kernel.Params {
		params[k] = v
	}
	params[KeyEnv] = cfg.Env
	params[KeyDefaultTimezone] = cfg.Kernel.DefaultTimezone
	params[KeyTemplateDir] = cfg.Kernel.TemplateDir
	params[KeyDefaultStrategy] = strings.ToLower(cfg.Kernel.DefaultStrategy)
	params[KeyDBConnectors] = cfg.Database.Connectors
	params[KeyDBDefault] = cfg.Database.Default
	return params
}

// TaskHandler runs startup tasks in the order they were added
type TaskHandler struct {
	tasks  []StartupTask
	logger *zap.SugaredLogger
}

func NewTaskHandler(logger *zap.SugaredLogger, tasks ...StartupTask) *TaskHandler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &TaskHandler{tasks: tasks, logger: logger}
}

// Add appends a task
func (h *TaskHandler) Add(task StartupTask) *TaskHandler {
	h.tasks = append(h.tasks, task)
	return h
}

// Run executes every task and stops at the first failure. The statuses of
// the tasks that ran are returned.
func (h *TaskHandler) Run(ctx context.Context, registry *Registry) ([]string, error) {
	statuses := make([]string, 0, len(h.tasks))
	for _, task := range h.tasks {
		if err := ctx.Err(); err != nil {
			return statuses, err
		}

		status, err := h.execute(ctx, task, registry.Collect(task.RegistryKeys()))
		if err != nil {
			h.logger.Errorw("Startup task failed", "task", task.Name(), "error", err)
			return statuses, fmt.Errorf("startup task %s: %w", task.Name(), err)
		}
		h.logger.Infow("Startup task complete", "task", task.Name(), "status", status)
		statuses = append(statuses, status)
	}
	return statuses, nil
}

func (h *TaskHandler) execute(ctx context.Context, task StartupTask, params map[string]interface{}) (status string, err error) {
	defer RecoverError("startup-task-"+task.Name(), h.logger, &err)
	return task.Execute(ctx, params)
}

// TimezoneTask sets time.Local from default-timezone
type TimezoneTask struct{}

func (TimezoneTask) Name() string { return "timezone" }

func (TimezoneTask) RegistryKeys() []string { return []string{KeyDefaultTimezone} }

func (TimezoneTask) Execute(_ context.Context, params map[string]interface{}) (string, error) {
	name, _ := params[KeyDefaultTimezone].(string)
	if name == "" {
		return "default timezone not set", nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return "", err
	}
	time.Local = loc
	return "timezone set to " + loc.String(), nil
}

// ConnectorOpener opens one configured connector
type ConnectorOpener func(ctx context.Context, name string, cfg config.ConnectorConfig, logger *zap.SugaredLogger) (*db.Connector, error)

// DatabaseTask opens every connector in db-connectors into Pool
type DatabaseTask struct {
	Pool   *db.Pool
	Logger *zap.SugaredLogger
	// Opener defaults to OpenConnector
	Opener ConnectorOpener
}

func (t *DatabaseTask) Name() string { return "database" }

func (t *DatabaseTask) RegistryKeys() []string {
	return []string{KeyDBConnectors, KeyDBDefault}
}

func (t *DatabaseTask) Execute(ctx context.Context, params map[string]interface{}) (string, error) {
	if t.Pool == nil {
		return "", fmt.Errorf("no connection pool")
	}
	connectors, ok := params[KeyDBConnectors].(map[string]config.ConnectorConfig)
	if !ok || len(connectors) == 0 {
		return "no database connectors configured", nil
	}
	open := t.Opener
	if open == nil {
		open = OpenConnector
	}

	names := make([]string, 0, len(connectors))
	for name := range connectors {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		conn, err := open(ctx, name, connectors[name], t.Logger)
		if err != nil {
			return "", err
		}
		if err := t.Pool.Add(conn); err != nil {
			_ = conn.Close()
			return "", err
		}
	}

	if def, _ := params[KeyDBDefault].(string); def != "" {
		if err := t.Pool.SetDefault(def); err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("opened %d connectors: %s (default %s)",
		len(names), strings.Join(names, ", "), t.Pool.DefaultName()), nil
}

// OpenConnector opens a connector for the configured vendor
func OpenConnector(ctx context.Context, name string, cfg config.ConnectorConfig, logger *zap.SugaredLogger) (*db.Connector, error) {
	switch cfg.Vendor {
	case config.VendorSQLite:
		return sqlite.NewConnector(name, cfg.Path, logger)
	case config.VendorMySQL:
		return mysql.NewConnector(ctx, name, mysql.Config{
			Host:            cfg.Host,
			Port:            cfg.Port,
			User:            cfg.User,
			Password:        cfg.Password,
			Database:        cfg.Database,
			ReadHost:        cfg.ReadHost,
			Params:          cfg.Params,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
			Timeout:         cfg.Timeout,
		}, logger)
	case config.VendorClickHouse:
		return clickhouse.NewConnector(ctx, name, clickhouse.Config{
			Host:            cfg.Host,
			Port:            cfg.Port,
			User:            cfg.User,
			Password:        cfg.Password,
			Database:        cfg.Database,
			Settings:        cfg.Params,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
			Timeout:         cfg.Timeout,
		}, logger)
	default:
		return nil, fmt.Errorf("connector %s: unknown vendor %q", name, cfg.Vendor)
	}
}
