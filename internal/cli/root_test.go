package cli_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rshade/regscan/internal/cli"
	"github.com/rshade/regscan/internal/config"
)

// setupCLITest isolates the home directory and registers cleanup for global state.
func setupCLITest(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv(config.EnvHome, home)
	t.Setenv(config.EnvLogLevel, "error")
	t.Setenv(config.EnvProjectDir, "")
	t.Cleanup(func() {
		config.ResetGlobalConfigForTest()
		config.SetResolvedProjectDir("")
	})
	return home
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	cmd := cli.NewRootCmd("1.2.3")
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestNewRootCmd(t *testing.T) {
	cmd := cli.NewRootCmd("1.2.3")

	assert.Equal(t, "regscan", cmd.Use)
	assert.Equal(t, "1.2.3", cmd.Version)

	names := make([]string, 0, len(cmd.Commands()))
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	assert.Contains(t, names, "scan")
	assert.Contains(t, names, "config")
	assert.Contains(t, names, "version")

	for _, flag := range []string{"debug", "config", "project-dir", "env-file"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(flag), flag)
	}
}

func TestRootCmd_Version(t *testing.T) {
	setupCLITest(t)

	out, err := execute(t, "--version")
	require.NoError(t, err)
	assert.Equal(t, "1.2.3\n", out)
}

func TestConfigInit_Global(t *testing.T) {
	home := setupCLITest(t)

	out, err := execute(t, "config", "init", "--global")
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration initialized at")
	assert.FileExists(t, filepath.Join(home, "config.yaml"))

	t.Run("refuses to overwrite", func(t *testing.T) {
		_, err := execute(t, "config", "init", "--global")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already exists")
	})

	t.Run("force overwrites", func(t *testing.T) {
		_, err := execute(t, "config", "init", "--global", "--force")
		require.NoError(t, err)
	})
}

func TestConfigInit_Project(t *testing.T) {
	setupCLITest(t)
	projectRoot := t.TempDir()

	out, err := execute(t, "--project-dir", projectRoot, "config", "init")
	require.NoError(t, err)

	want := filepath.Join(projectRoot, ".regscan", "config.yaml")
	assert.Contains(t, out, want)
	assert.FileExists(t, want)
}

func TestConfigShow(t *testing.T) {
	home := setupCLITest(t)
	require.NoError(t, os.WriteFile(filepath.Join(home, "config.yaml"), []byte(`
connection:
  host: 192.168.1.20
  port: 1502
mqtt:
  broker: tcp://broker:1883
  password: secret
`), 0600))

	out, err := execute(t, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "host: 192.168.1.20")
	assert.Contains(t, out, "port: 1502")
	assert.Contains(t, out, "********")
	assert.NotContains(t, out, "secret")
}

func TestConfigValidate(t *testing.T) {
	setupCLITest(t)

	t.Run("defaults are valid", func(t *testing.T) {
		out, err := execute(t, "config", "validate", "--verbose")
		require.NoError(t, err)
		assert.Contains(t, out, "Configuration is valid")
		assert.Contains(t, out, "Devices: [tcp://127.0.0.1:502]")
	})

	t.Run("invalid file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("connection:\n  port: 70000\nscan:\n  batch_size: 200\n"), 0600))

		_, err := execute(t, "config", "validate", path)
		require.ErrorIs(t, err, config.ErrInvalidConfig)
		assert.Contains(t, err.Error(), "connection.port")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := execute(t, "config", "validate", filepath.Join(t.TempDir(), "nope.yaml"))
		require.Error(t, err)
	})
}

func TestRootCmd_ConfigFlag(t *testing.T) {
	setupCLITest(t)
	path := filepath.Join(t.TempDir(), "plant.yaml")
	require.NoError(t, os.WriteFile(path, []byte("connection:\n  host: plc-7\n"), 0600))

	out, err := execute(t, "--config", path, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "host: plc-7")
	assert.Contains(t, out, "# "+path)
}

func TestRootCmd_EnvOverride(t *testing.T) {
	setupCLITest(t)
	t.Setenv(config.EnvHost, "env-host")

	out, err := execute(t, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "host: env-host")
}

func TestVersionCmd(t *testing.T) {
	setupCLITest(t)

	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "regscan ")
}
