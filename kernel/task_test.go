package kernel

import (
	"context"
	"errors"
	"testing"
	"time"

	"appfuel/config"
	"appfuel/db"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

type stubTask struct {
	name   string
	keys   []string
	status string
	err    error
	panics bool
	got    map[string]interface{}
}

func (s *stubTask) Name() string           { return s.name }
func (s *stubTask) RegistryKeys() []string { return s.keys }

func (s *stubTask) Execute(_ context.Context, params map[string]interface{}) (string, error) {
	s.got = params
	if s.panics {
		panic("task exploded")
	}
	return s.status, s.err
}

func TestTaskHandler_RunsInOrderWithRequestedKeys(t *testing.T) {
	reg := NewRegistry()
	reg.Init(map[string]interface{}{"a": 1, "b": 2, "c": 3})

	first := &stubTask{name: "first", keys: []string{"a"}, status: "one"}
	second := &stubTask{name: "second", keys: []string{"b", "missing"}, status: "two"}

	h := NewTaskHandler(zaptest.NewLogger(t).Sugar(), first).Add(second)
	statuses, err := h.Run(context.Background(), reg)
	require.NoError(t, err)

	assert.Equal(t, []string{"one", "two"}, statuses)
	assert.Equal(t, map[string]interface{}{"a": 1}, first.got)
	assert.Equal(t, map[string]interface{}{"b": 2}, second.got)
}

func TestTaskHandler_StopsAtFirstError(t *testing.T) {
	reg := NewRegistry()
	reg.Init(nil)

	failing := &stubTask{name: "failing", err: errors.New("nope")}
	never := &stubTask{name: "never", status: "ran"}

	statuses, err := NewTaskHandler(nil, failing, never).Run(context.Background(), reg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "startup task failing")
	assert.Empty(t, statuses)
	assert.Nil(t, never.got)
}

func TestTaskHandler_RecoversPanics(t *testing.T) {
	reg := NewRegistry()
	reg.Init(nil)

	_, err := NewTaskHandler(zap.NewNop().Sugar(), &stubTask{name: "boom", panics: true}).Run(context.Background(), reg)
	require.Error(t, err)

	var perr *PanicError
	assert.True(t, errors.As(err, &perr))
}

func TestTaskHandler_CancelledContext(t *testing.T) {
	reg := NewRegistry()
	reg.Init(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	task := &stubTask{name: "skipped"}
	_, err := NewTaskHandler(nil, task).Run(ctx, reg)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, task.got)
}

func TestTimezoneTask(t *testing.T) {
	original := time.Local
	t.Cleanup(func() { time.Local = original })

	status, err := TimezoneTask{}.Execute(context.Background(), map[string]interface{}{KeyDefaultTimezone: "America/New_York"})
	require.NoError(t, err)
	assert.Equal(t, "timezone set to America/New_York", status)
	assert.Equal(t, "America/New_York", time.Local.String())

	status, err = TimezoneTask{}.Execute(context.Background(), map[string]interface{}{})
	require.NoError(t, err)
	assert.Equal(t, "default timezone not set", status)

	_, err = TimezoneTask{}.Execute(context.Background(), map[string]interface{}{KeyDefaultTimezone: "Nowhere/Land"})
	assert.Error(t, err)
}

func TestDatabaseTask_OpensConfiguredConnectors(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	pool := db.NewPool(logger)
	defer pool.Shutdown()

	cfg := config.Default()
	cfg.Database.Connectors["reports"] = config.ConnectorConfig{Vendor: config.VendorSQLite}
	cfg.Database.Default = "reports"

	reg := NewRegistry()
	reg.Init(ParamsFromConfig(cfg))

	statuses, err := NewTaskHandler(logger, &DatabaseTask{Pool: pool, Logger: logger}).Run(context.Background(), reg)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, "opened 2 connectors: main, reports (default reports)", statuses[0])
	assert.Equal(t, []string{"main", "reports"}, pool.Names())

	resp := db.NewHandler(pool, logger).Execute(context.Background(), mustQuery(t, "SELECT 1 AS one"))
	require.True(t, resp.IsSuccess(), "%v", resp.Err())
	assert.Equal(t, int64(1), resp.Rows()[0].Map()["one"])
}

func TestDatabaseTask_OpenerFailure(t *testing.T) {
	pool := db.NewPool(nil)
	task := &DatabaseTask{
		Pool: pool,
		Opener: func(context.Context, string, config.ConnectorConfig, *zap.SugaredLogger) (*db.Connector, error) {
			return nil, errors.New("unreachable")
		},
	}

	_, err := task.Execute(context.Background(), map[string]interface{}{
		KeyDBConnectors: map[string]config.ConnectorConfig{"main": {Vendor: config.VendorMySQL, Host: "db"}},
	})
	assert.Error(t, err)
	assert.Empty(t, pool.Names())
}

func TestDatabaseTask_NoConnectors(t *testing.T) {
	status, err := (&DatabaseTask{Pool: db.NewPool(nil)}).Execute(context.Background(), map[string]interface{}{})
	require.NoError(t, err)
	assert.Equal(t, "no database connectors configured", status)

	_, err = (&DatabaseTask{}).Execute(context.Background(), map[string]interface{}{})
	assert.Error(t, err)
}

func TestOpenConnector_UnknownVendor(t *testing.T) {
	_, err := OpenConnector(context.Background(), "x", config.ConnectorConfig{Vendor: "oracle"}, nil)
	assert.Error(t, err)
}

func TestParamsFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Kernel.Params = map[string]interface{}{"site-name": "demo", KeyEnv: "overridden"}
	cfg.Kernel.DefaultStrategy = "AJAX"

	params := ParamsFromConfig(cfg)
	assert.Equal(t, "demo", params["site-name"])
	assert.Equal(t, "development", params[KeyEnv], "reserved keys win")
	assert.Equal(t, "ajax", params[KeyDefaultStrategy])
	assert.Equal(t, "UTC", params[KeyDefaultTimezone])
	assert.Equal(t, cfg.Database.Connectors, params[KeyDBConnectors])
}

func mustQuery(t *testing.T, sql string) *db.Request {
	t.Helper()
	req, err := db.NewQuery(sql)
	require.NoError(t, err)
	return req
}
