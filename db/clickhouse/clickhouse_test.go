package clickhouse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"testing"
	"time"

	"appfuel/db"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap/zaptest"
)

func TestConfig_Options(t *testing.T) {
	opts := Config{
		Host:     "ch.internal",
		User:     "app",
		Password: "pw",
		Settings: map[string]string{"max_execution_time": "5", "join_algorithm": "hash"},
	}.Options()

	assert.Equal(t, []string{"ch.internal:9000"}, opts.Addr)
	assert.Equal(t, defaultDatabase, opts.Auth.Database)
	assert.Equal(t, "app", opts.Auth.Username)
	assert.Equal(t, defaultDialTimeout, opts.DialTimeout)
	assert.Equal(t, 5, opts.Settings["max_execution_time"])
	assert.Equal(t, "hash", opts.Settings["join_algorithm"])

	opts = Config{Host: "ch", Port: 19000, Database: "events"}.Options()
	assert.Equal(t, []string{"ch:19000"}, opts.Addr)
	assert.Equal(t, "events", opts.Auth.Database)
}

func TestNewConnector_RequiresHost(t *testing.T) {
	_, err := NewConnector(context.Background(), "events", Config{}, nil)
	assert.Error(t, err)
}

func TestMapError(t *testing.T) {
	ex := &clickhouse.Exception{Code: 60, Name: "DB::Exception", Message: "Table default.missing does not exist"}

	got := MapError(fmt.Errorf("query: %w", ex))
	require.NotNil(t, got)
	assert.Equal(t, 60, got.Number)
	assert.Equal(t, "Table default.missing does not exist", got.Text)
	assert.Empty(t, got.SQLState)

	assert.Nil(t, MapError(errors.New("boom")))
}

func TestClickHouseIntegration_Queries(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "clickhouse/clickhouse-server:latest",
		ExposedPorts: []string{"9000/tcp", "8123/tcp"},
		Env: map[string]string{
			"CLICKHOUSE_DB":                        "appfuel",
			"CLICKHOUSE_USER":                      "default",
			"CLICKHOUSE_PASSWORD":                  "testpassword",
			"CLICKHOUSE_DEFAULT_ACCESS_MANAGEMENT": "1",
		},
		WaitingFor: wait.ForHTTP("/").
			WithPort("8123/tcp").
			WithStartupTimeout(180 * time.Second).
			WithResponseMatcher(func(body io.Reader) bool {
				buf, _ := io.ReadAll(body)
				return len(buf) > 0
			}),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("docker unavailable: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Warning: failed to terminate ClickHouse container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	mapped, err := container.MappedPort(ctx, "9000")
	require.NoError(t, err)
	port, err := strconv.Atoi(mapped.Port())
	require.NoError(t, err)

	logger := zaptest.NewLogger(t).Sugar()
	conn, err := NewConnector(ctx, "events", Config{
		Host:     host,
		Port:     port,
		User:     "default",
		Password: "testpassword",
		Database: "appfuel",
	}, logger)
	require.NoError(t, err)

	pool := db.NewPool(logger)
	require.NoError(t, pool.Add(conn))
	defer pool.Shutdown()
	h := db.NewHandler(pool, logger)

	create, err := db.NewQuery("CREATE TABLE hits (id UInt64, path String) ENGINE = MergeTree ORDER BY id")
	require.NoError(t, err)
	resp := h.Execute(ctx, create.EnableWrite())
	require.True(t, resp.IsSuccess(), "%v", resp.Err())

	insert, err := db.NewQuery("INSERT INTO hits VALUES (1, '/'), (2, '/about')")
	require.NoError(t, err)
	resp = h.Execute(ctx, insert.EnableWrite())
	require.True(t, resp.IsSuccess(), "%v", resp.Err())

	sel, err := db.NewQuery("SELECT path FROM hits ORDER BY id")
	require.NoError(t, err)
	resp = h.Execute(ctx, sel)
	require.True(t, resp.IsSuccess(), "%v", resp.Err())
	require.Len(t, resp.Rows(), 2)
	assert.Equal(t, "/about", resp.Rows()[1].Map()["path"])

	missing, err := db.NewQuery("SELECT * FROM missing")
	require.NoError(t, err)
	resp = h.Execute(ctx, missing)
	require.False(t, resp.IsSuccess())
	assert.Equal(t, "60", resp.Errors.Code())
}
