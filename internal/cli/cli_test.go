package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/aoserv/pkg/aoserv"
	"github.com/mesh-intelligence/aoserv/pkg/types"
)

type env struct {
	configDir string
	dataDir   string
}

func newEnv(t *testing.T) env {
	t.Helper()
	t.Setenv("AOSERV_CONFIG_DIR", "")
	t.Setenv("AOSERV_DATA_DIR", "")
	return env{configDir: filepath.Join(t.TempDir(), "config"), dataDir: filepath.Join(t.TempDir(), "data")}
}

func (e env) run(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	args = append([]string{"--config-dir", e.configDir, "--data-dir", e.dataDir}, args...)
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestVersion(t *testing.T) {
	code, out, _ := newEnv(t).run("version")
	assert.Equal(t, exitSuccess, code)
	assert.Contains(t, out, "aoserv v"+aoserv.Version)
	assert.Contains(t, out, "protocol: 1.84.0")
}

func TestInit(t *testing.T) {
	e := newEnv(t)
	code, out, errOut := e.run("init")
	require.Equal(t, exitSuccess, code, errOut)
	assert.Contains(t, out, "Wrote ")
	assert.Contains(t, out, "Initialized "+e.dataDir)

	data, err := os.ReadFile(filepath.Join(e.configDir, "config.yaml"))
	require.NoError(t, err)
	var cfg fileConfig
	require.NoError(t, yaml.Unmarshal(data, &cfg))
	assert.Equal(t, types.TransportLocal, cfg.Transport)
	assert.Equal(t, e.dataDir, cfg.DataDir)
	assert.FileExists(t, filepath.Join(e.dataDir, "backup.retentions.jsonl"))

	code, out, _ = e.run("init")
	require.Equal(t, exitSuccess, code)
	assert.NotContains(t, out, "Wrote ")
}

func TestListAndGet(t *testing.T) {
	e := newEnv(t)
	code, _, errOut := e.run("init")
	require.Equal(t, exitSuccess, code, errOut)

	tests := []struct {
		name     string
		args     []string
		code     int
		contains []string
	}{
		{
			name:     "list all",
			args:     []string{"list", "backup.retentions"},
			code:     exitSuccess,
			contains: []string{"DAYS", "DISPLAY", "1 week", "Total: 14 row(s)"},
		},
		{
			name:     "list filtered",
			args:     []string{"list", "backup.retentions", "days=365"},
			code:     exitSuccess,
			contains: []string{"1 year", "Total: 1 row(s)"},
		},
		{
			name:     "list json",
			args:     []string{"--json", "list", "backup.retentions", "days=7"},
			code:     exitSuccess,
			contains: []string{`"display": "1 week"`},
		},
		{
			name:     "get",
			args:     []string{"get", "backup.retentions", "92"},
			code:     exitSuccess,
			contains: []string{`"days": 92`, `"display": "3 months"`},
		},
		{name: "unknown table", args: []string{"list", "no.such_table"}, code: exitUserError},
		{name: "bad filter", args: []string{"list", "backup.retentions", "days"}, code: exitUserError},
		{name: "unknown column", args: []string{"list", "backup.retentions", "hours=1"}, code: exitUserError},
		{name: "missing row", args: []string{"get", "backup.retentions", "6"}, code: exitUserError},
		{name: "bad key", args: []string{"get", "backup.retentions", "week"}, code: exitUserError},
		{name: "missing args", args: []string{"get", "backup.retentions"}, code: exitUserError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, out, errOut := e.run(tt.args...)
			assert.Equal(t, tt.code, code, errOut)
			for _, want := range tt.contains {
				assert.Contains(t, out, want)
			}
		})
	}
}

func TestRemove(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	client := aoserv.New()
	require.NoError(t, client.Attach(ctx, types.Config{Transport: types.TransportLocal, DataDir: e.dataDir}))
	server, err := client.Linux().AddServer(ctx, "host.example.com", "fc", "")
	require.NoError(t, err)
	_, err = client.Backup().AddPartition(ctx, server, "/backup", true)
	require.NoError(t, err)
	require.NoError(t, client.Detach())

	code, out, _ := e.run("remove", "--check", "linux.servers", "1")
	assert.Equal(t, exitUserError, code)
	assert.Contains(t, out, "Blocked by 1 row(s)")
	assert.Contains(t, out, "backup.partitions 1: backup partition on server")

	code, out, _ = e.run("remove", "linux.servers", "1")
	assert.Equal(t, exitUserError, code)
	assert.Contains(t, out, "backup.partitions 1")

	code, out, errOut := e.run("remove", "backup.partitions", "1")
	require.Equal(t, exitSuccess, code, errOut)
	assert.Contains(t, out, "Removed backup.partitions 1")

	code, out, _ = e.run("remove", "--check", "linux.servers", "1")
	assert.Equal(t, exitSuccess, code)
	assert.Contains(t, out, "can be removed")

	code, _, _ = e.run("remove", "linux.servers", "9")
	assert.Equal(t, exitUserError, code)
}

func TestTransportFlags(t *testing.T) {
	e := newEnv(t)
	code, _, _ := e.run("--transport", "pigeon", "list", "linux.servers")
	assert.Equal(t, exitUserError, code)
	code, _, _ = e.run("--transport", "tcp", "list", "linux.servers")
	assert.Equal(t, exitUserError, code)
	code, _, _ = e.run("--protocol", "0.1", "list", "linux.servers")
	assert.Equal(t, exitUserError, code)
}

func TestDataDirPrecedence(t *testing.T) {
	e := newEnv(t)
	code, _, errOut := e.run("init")
	require.Equal(t, exitSuccess, code, errOut)

	other := filepath.Join(t.TempDir(), "env-data")
	t.Setenv("AOSERV_DATA_DIR", other)
	withConfig := func(args ...string) (int, string, string) {
		var stdout, stderr bytes.Buffer
		code := run(append([]string{"--config-dir", e.configDir}, args...), &stdout, &stderr)
		return code, stdout.String(), stderr.String()
	}

	code, out, errOut := withConfig("list", "backup.retentions")
	require.Equal(t, exitSuccess, code, errOut)
	assert.Contains(t, out, "Total:")
	assert.NoDirExists(t, other, "data_dir in config.yaml ranks above AOSERV_DATA_DIR")

	code, _, errOut = withConfig("-v", "--data-dir", other, "list", "backup.retentions")
	require.Equal(t, exitSuccess, code, errOut)
	assert.DirExists(t, other)
	assert.Contains(t, errOut, "from=flag")

	t.Setenv("AOSERV_TRANSPORT", "carrier-pigeon")
	code, _, _ = withConfig("list", "backup.retentions")
	assert.Equal(t, exitUserError, code, "other keys still read AOSERV_ variables")
}
