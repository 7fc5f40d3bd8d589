package bootstrap

import (
	"errors"
	"net"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"appfuel/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestGenerateSecret(t *testing.T) {
	s, err := GenerateSecret(8)
	require.NoError(t, err)
	assert.Len(t, s, 32, "short lengths are raised to 32")

	s, err = GenerateSecret(48)
	require.NoError(t, err)
	assert.Len(t, s, 48)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		s, err := GenerateSecret(32)
		require.NoError(t, err)
		assert.False(t, seen[s], "duplicate secret")
		seen[s] = true
	}
}

func TestEnsureDataDirectories(t *testing.T) {
	base := t.TempDir()
	cfg := config.Default()
	cfg.Database.Connectors = map[string]config.ConnectorConfig{
		"file":   {Vendor: config.VendorSQLite, Path: filepath.Join(base, "nested", "dir", "app.db")},
		"memory": {Vendor: config.VendorSQLite, Path: ":memory:"},
		"remote": {Vendor: config.VendorMySQL, Host: "db.internal"},
	}

	require.NoError(t, EnsureDataDirectories(cfg, zap.NewNop().Sugar()))
	info, err := os.Stat(filepath.Join(base, "nested", "dir"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	_, err = os.Stat(filepath.Join(base, "nested", "dir", ".appfuel_write_test"))
	assert.True(t, os.IsNotExist(err), "the probe file is removed")
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestDescribeConnectorError(t *testing.T) {
	mysqlConn := config.ConnectorConfig{Vendor: config.VendorMySQL, Host: "db.internal", Port: 3306, User: "app"}
	sqliteConn := config.ConnectorConfig{Vendor: config.VendorSQLite, Path: "/srv/app.db"}

	tests := []struct {
		name     string
		conn     config.ConnectorConfig
		err      error
		contains string
	}{
		{name: "timeout", conn: mysqlConn, err: timeoutErr{}, contains: "timed out"},
		{name: "refused", conn: mysqlConn, err: &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}, contains: "refused the connection at db.internal:3306"},
		{name: "dns", conn: mysqlConn, err: errors.New("dial tcp: lookup db.internal: no such host"), contains: "cannot resolve db.internal"},
		{name: "auth", conn: mysqlConn, err: errors.New("Error 1045: Access denied for user 'app'"), contains: `authentication failed for user "app"`},
		{name: "other remote", conn: mysqlConn, err: errors.New("boom"), contains: "failed to connect to mysql at db.internal:3306: boom"},
		{name: "sqlite locked", conn: sqliteConn, err: errors.New("database is locked"), contains: "locked by another process"},
		{name: "sqlite permission", conn: sqliteConn, err: errors.New("open /srv/app.db: permission denied"), contains: "cannot write sqlite database /srv/app.db"},
		{name: "sqlite other", conn: sqliteConn, err: errors.New("boom"), contains: "failed to open sqlite database /srv/app.db: boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := DescribeConnectorError("main", tt.conn, tt.err)
			assert.Contains(t, msg, "Connector main")
			assert.Contains(t, msg, tt.contains)
		})
	}
	assert.Empty(t, DescribeConnectorError("main", mysqlConn, nil))
}

func TestContainsIgnoreCase(t *testing.T) {
	assert.True(t, containsIgnoreCase("Connection Refused", "connection refused"))
	assert.True(t, containsIgnoreCase("abc", ""))
	assert.False(t, containsIgnoreCase("", "abc"))
}
