package bootstrap

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"appfuel/config"
	"appfuel/db/sqlite"

	"go.uber.org/zap"
)

// EnsureDataDirectories creates the parent directory of every file backed
// sqlite connector and checks that it is writable
func EnsureDataDirectories(cfg *config.Config, sugar *zap.SugaredLogger) error {
	for _, name := range cfg.ConnectorNames() {
		conn := cfg.Database.Connectors[name]
		if conn.Vendor != config.VendorSQLite || conn.Path == "" || conn.Path == sqlite.MemoryPath {
			continue
		}
		dir, err := filepath.Abs(filepath.Dir(conn.Path))
		if err != nil {
			return fmt.Errorf("connector %s: failed to resolve %s: %w", name, conn.Path, err)
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("connector %s: failed to create directory %s: %w\n"+
				"  Remediation: make sure the parent directory exists and is writable", name, dir, err)
		}
		probe := filepath.Join(dir, ".appfuel_write_test")
		if err := os.WriteFile(probe, []byte("ok"), 0644); err != nil {
			return fmt.Errorf("connector %s: directory %s is not writable: %w", name, dir, err)
		}
		_ = os.Remove(probe)
		sugar.Debugw("Data directory ready", "connector", name, "path", dir)
	}
	return nil
}

// GenerateSecret returns a random url-safe secret of at least 32 characters,
// long enough for auth.jwt_secret
func GenerateSecret(length int) (string, error) {
	if length < 32 {
		length = 32
	}
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf)[:length], nil
}

// DescribeConnectorError turns a failure to open a connector into a message
// with remediation hints
func DescribeConnectorError(name string, conn config.ConnectorConfig, err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()

	if conn.Vendor == config.VendorSQLite {
		path := conn.Path
		if abs, aerr := filepath.Abs(path); aerr == nil && path != "" && path != sqlite.MemoryPath {
			path = abs
		}
		switch {
		case containsIgnoreCase(msg, "permission denied"), containsIgnoreCase(msg, "read-only"):
			return fmt.Sprintf("Connector %s: cannot write sqlite database %s.\n"+
				"  Remediation:\n"+
				"  - Check the permissions of %s and its directory", name, path, path)
		case containsIgnoreCase(msg, "database is locked"), containsIgnoreCase(msg, "SQLITE_BUSY"):
			return fmt.Sprintf("Connector %s: sqlite database %s is locked by another process.\n"+
				"  Remediation:\n"+
				"  - Stop other appfuel processes using the same file", name, path)
		case containsIgnoreCase(msg, "no such file or directory"):
			return fmt.Sprintf("Connector %s: the directory of %s does not exist.\n"+
				"  Remediation:\n"+
				"  - Create it: mkdir -p %s", name, path, filepath.Dir(path))
		}
		return fmt.Sprintf("Connector %s: failed to open sqlite database %s: %v", name, path, err)
	}

	addr := net.JoinHostPort(conn.Host, strconv.Itoa(conn.Port))

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Sprintf("Connector %s: connection to %s at %s timed out.\n"+
			"  Remediation:\n"+
			"  - Check that the server is up and reachable: nc -zv %s %d\n"+
			"  - Raise database.connectors.%s.timeout if the server is slow to answer",
			name, conn.Vendor, addr, conn.Host, conn.Port, name)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" &&
		(errors.Is(opErr.Err, syscall.ECONNREFUSED) || containsIgnoreCase(msg, "connection refused")) {
		return fmt.Sprintf("Connector %s: %s refused the connection at %s.\n"+
			"  This usually means the server is not running.\n"+
			"  Remediation:\n"+
			"  - Start the server or fix database.connectors.%s.host/port", name, conn.Vendor, addr, name)
	}

	switch {
	case containsIgnoreCase(msg, "no such host"), containsIgnoreCase(msg, "lookup"):
		return fmt.Sprintf("Connector %s: cannot resolve %s.\n"+
			"  Remediation:\n"+
			"  - Verify the hostname or use an ip address", name, conn.Host)
	case containsIgnoreCase(msg, "access denied"), containsIgnoreCase(msg, "authentication"), containsIgnoreCase(msg, "password"):
		return fmt.Sprintf("Connector %s: authentication failed for user %q at %s.\n"+
			"  Remediation:\n"+
			"  - Verify database.connectors.%s.user and password\n"+
			"  - Secret references (secret:<key>) must resolve through the secrets provider",
			name, conn.User, addr, name)
	}
	return fmt.Sprintf("Connector %s: failed to connect to %s at %s: %v", name, conn.Vendor, addr, err)
}

func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
