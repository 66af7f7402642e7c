package cli

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rshade/regscan/internal/config"
	"github.com/rshade/regscan/internal/register"
	"github.com/rshade/regscan/internal/scanner"
)

func parseScanFlags(t *testing.T, args ...string) (*config.Config, error) {
	t.Helper()
	cmd, flags := newScanCmd()
	require.NoError(t, cmd.ParseFlags(args))

	cfg := config.Default()
	cfg.Connection.URL = "tcp://from-config:502"
	err := applyScanFlags(cmd, cfg, *flags)
	return cfg, err
}

func TestApplyScanFlags(t *testing.T) {
	t.Run("no flags keeps config", func(t *testing.T) {
		cfg, err := parseScanFlags(t)
		require.NoError(t, err)
		assert.Equal(t, "tcp://from-config:502", cfg.Connection.URL)
		assert.True(t, cfg.Scan.Adaptive)
		assert.Equal(t, config.FormatTable, cfg.Output.Format)
	})

	t.Run("host clears configured url", func(t *testing.T) {
		cfg, err := parseScanFlags(t, "--host", "10.0.0.9", "--port", "1502")
		require.NoError(t, err)
		assert.Equal(t, "tcp://10.0.0.9:1502", cfg.Connection.Address())
	})

	t.Run("scan settings", func(t *testing.T) {
		cfg, err := parseScanFlags(t,
			"--function-codes", "1,4", "--start", "100", "--end", "199",
			"--batch-size", "50", "--no-adaptive", "--chunk-size", "20",
			"--accessible-only", "--concurrency", "2",
		)
		require.NoError(t, err)
		assert.Equal(t, []int{1, 4}, cfg.Scan.FunctionCodes)
		assert.Equal(t, 100, cfg.Scan.StartAddress)
		assert.Equal(t, 199, cfg.Scan.EndAddress)
		assert.Equal(t, 50, cfg.Scan.BatchSize)
		assert.False(t, cfg.Scan.Adaptive)
		assert.Equal(t, 20, cfg.Scan.ChunkSize)
		assert.True(t, cfg.Scan.AccessibleOnly)
		assert.Equal(t, 2, cfg.Scan.MaxConcurrentDevices)
	})

	t.Run("connection settings", func(t *testing.T) {
		cfg, err := parseScanFlags(t,
			"--url", "rtu:///dev/ttyUSB0", "--driver", "goburrow", "--unit-id", "7",
			"--timeout", "250ms", "--retries", "3",
			"--target", "tcp://b:502", "--target", "tcp://c:502",
		)
		require.NoError(t, err)
		assert.Equal(t, "rtu:///dev/ttyUSB0", cfg.Connection.URL)
		assert.Equal(t, config.DriverGoburrow, cfg.Connection.Driver)
		assert.Equal(t, 7, cfg.Connection.UnitID)
		assert.Equal(t, 250*time.Millisecond, cfg.Connection.Timeout)
		assert.Equal(t, 3, cfg.Connection.Retries)
		assert.Equal(t, []string{"rtu:///dev/ttyUSB0", "tcp://b:502", "tcp://c:502"}, cfg.DeviceURLs())
	})

	t.Run("outputs", func(t *testing.T) {
		cfg, err := parseScanFlags(t,
			"-f", "csv", "-o", "out.csv",
			"--metrics-file", "/tmp/regscan.prom", "--mqtt-broker", "tcp://broker:1883",
		)
		require.NoError(t, err)
		assert.Equal(t, config.FormatCSV, cfg.Output.Format)
		assert.Equal(t, "out.csv", cfg.Output.File)
		assert.True(t, cfg.Metrics.Enabled)
		assert.Equal(t, "/tmp/regscan.prom", cfg.Metrics.Textfile)
		assert.True(t, cfg.MQTT.Enabled)
		assert.Equal(t, "tcp://broker:1883", cfg.MQTT.Broker)
	})

	t.Run("bad function codes", func(t *testing.T) {
		_, err := parseScanFlags(t, "--function-codes", "3,9")
		require.ErrorIs(t, err, register.ErrInvalidFunctionCode)
	})
}

func TestCheckScanFailures(t *testing.T) {
	assert.NoError(t, checkScanFailures([]*scanner.Result{{Device: "a"}, nil}))

	err := checkScanFailures([]*scanner.Result{{Device: "a"}, {Device: "b", Err: assert.AnError}})
	var exitErr *ScanExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, ExitCodeScanFailed, exitErr.ExitCode)
	assert.Equal(t, "1 of 2 device scan(s) failed", exitErr.Error())
}

func TestApplyScanFlags_NoCache(t *testing.T) {
	cfg, err := parseScanFlags(t)
	require.NoError(t, err)
	assert.True(t, cfg.Cache.Enabled)

	cfg, err = parseScanFlags(t, "--no-cache")
	require.NoError(t, err)
	assert.False(t, cfg.Cache.Enabled)
}

func TestOpenTuner(t *testing.T) {
	ctx := t.Context()

	cfg := config.Default()
	cfg.Cache.Directory = t.TempDir()
	assert.NotNil(t, openTuner(ctx, cfg))

	cfg.Scan.Adaptive = false
	assert.Nil(t, openTuner(ctx, cfg), "fixed batch size needs no tuning")

	cfg = config.Default()
	cfg.Cache.Enabled = false
	assert.Nil(t, openTuner(ctx, cfg))

	cfg = config.Default()
	cfg.Cache.TTL = 0
	cfg.Cache.Directory = t.TempDir()
	assert.Nil(t, openTuner(ctx, cfg), "unusable store is skipped")
}
