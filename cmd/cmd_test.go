package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"appfuel/bootstrap"
	"appfuel/config"
	"appfuel/mvc"
	"appfuel/server"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "cmd-test-secret-0123456789abcdef"

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	content := fmt.Sprintf(`log:
  level: error
kernel:
  template_dir: %s
auth:
  jwt_secret: %s
database:
  default: primary
  connectors:
    primary:
      vendor: sqlite
      path: %s
`, dir, testSecret, filepath.Join(dir, "data", "app.db"))
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func execute(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code := run(NewRootCmd(), append([]string{"--no-color"}, args...), &out, &errOut)
	return code, out.String(), errOut.String()
}

func TestVersion(t *testing.T) {
	code, out, _ := execute(t, "version")
	assert.Equal(t, 0, code)
	assert.Equal(t, "appfuel dev\n", out)
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "appfuel.yaml")

	code, out, _ := execute(t, "config", "init", path)
	require.Equal(t, 0, code)
	assert.Contains(t, out, "Wrote "+path)
	assert.Contains(t, out, "export APPFUEL_JWT_SECRET=")
	assert.FileExists(t, path)

	code, _, errOut := execute(t, "config", "init", path)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "already exists")
}

func TestConfigShow(t *testing.T) {
	code, out, _ := execute(t, "--config", writeConfig(t), "config", "show")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "********")
	assert.NotContains(t, out, testSecret)
	assert.Contains(t, out, "primary:")
	assert.Contains(t, out, "read_timeout: 15s")
}

func TestConfigShow_MissingFile(t *testing.T) {
	code, _, errOut := execute(t, "--config", filepath.Join(t.TempDir(), "nope.yaml"), "config", "show")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "unable to read config")
}

func TestRun_Health(t *testing.T) {
	code, out, _ := execute(t, "--config", writeConfig(t), "run", "health")
	assert.Equal(t, 0, code)
	assert.Equal(t, "connectors: map[primary:ok]\nstatus: healthy\n", out)
}

func TestRun_MissingRoute(t *testing.T) {
	code, _, _ := execute(t, "--config", writeConfig(t), "run", "nowhere")
	assert.Equal(t, 2, code)
}

func TestRun_RequiresURI(t *testing.T) {
	code, _, errOut := execute(t, "run")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "requires at least 1 arg")
}

func TestRun_HookActions(t *testing.T) {
	t.Cleanup(func() { hooks = nil })
	OnApp(func(app *bootstrap.App) error {
		return app.Register("greet", "greet", func() mvc.Action { return &greetAction{} }, mvc.PublicAccess())
	})

	code, out, _ := execute(t, "--config", writeConfig(t), "run", "greet", "--name=ada")
	assert.Equal(t, 0, code)
	assert.Equal(t, "name: ada\n", out)

	code, out, _ = execute(t, "--config", writeConfig(t), "routes")
	require.Equal(t, 0, code)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, []string{"ROUTE", "NAMESPACE", "ACCESS"}, strings.Fields(lines[0]))
	assert.Equal(t, []string{"greet", "greet", "public"}, strings.Fields(lines[1]))
	assert.Equal(t, []string{"health", "health", "public"}, strings.Fields(lines[2]))
}

func TestRun_HookFailure(t *testing.T) {
	t.Cleanup(func() { hooks = nil })
	OnApp(func(app *bootstrap.App) error { return fmt.Errorf("boom") })

	code, _, errOut := execute(t, "--config", writeConfig(t), "run", "health")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "failed to register actions: boom")
}

func TestToken(t *testing.T) {
	path := writeConfig(t)
	code, out, _ := execute(t, "--config", path, "token", "--subject", "ops", "--roles", "admin, reports")
	require.Equal(t, 0, code)

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)
	claims, err := server.ParseToken(cfg, strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)
	assert.Equal(t, []string{"admin", "reports"}, claims.Roles)
}

func TestExitCodeFor(t *testing.T) {
	cases := map[int]int{
		200: 0,
		201: 0,
		404: 2,
		401: 3,
		403: 3,
		503: 4,
		500: 1,
		400: 1,
	}
	for status, want := range cases {
		assert.Equal(t, want, ExitCodeFor(status), "status %d", status)
	}
}

func TestDescribeAccess(t *testing.T) {
	assert.Equal(t, "open", describeAccess(nil))
	assert.Equal(t, "public", describeAccess(mvc.PublicAccess()))
	assert.Equal(t, "codes=admin,ops", describeAccess(mvc.RestrictedAccess("admin", "ops")))
}

type greetAction struct {
	mvc.BaseAction
}

func (g *greetAction) Process(ctx context.Context, mc *mvc.Context) (*mvc.Context, error) {
	mc.Assign("name", mc.Input().Param("name", "anon"))
	return mc, nil
}
