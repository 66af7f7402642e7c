package metrics_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rshade/regscan/internal/engine/batch"
	"github.com/rshade/regscan/internal/metrics"
	"github.com/rshade/regscan/internal/register"
	"github.com/rshade/regscan/internal/scanner"
)

func sampleResult(device string) *scanner.Result {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &scanner.Result{
		Device:   device,
		Duration: 2 * time.Second,
		Registers: []register.Info{
			register.NewInfo(0, register.FuncHoldingRegister, uint16(1), now),
			register.NewInfo(1, register.FuncHoldingRegister, uint16(2), now),
			register.NewInaccessible(2, register.FuncHoldingRegister, &register.ReadError{Message: "timeout"}, now),
			register.NewInfo(0, register.FuncCoil, true, now),
		},
		AdaptiveBatchSize:    90,
		RecommendedBatchSize: 62,
		StatsByFunctionCode: map[register.FunctionCode]batch.Stats{
			register.FuncHoldingRegister: {
				TotalBatches: 2, FailedBatches: 1, FallbackReads: 3, TotalRegisters: 3, BatchEfficiency: 50,
			},
			register.FuncCoil: {TotalBatches: 1, SuccessfulBatches: 1, TotalRegisters: 1, BatchEfficiency: 100},
		},
	}
}

func TestRegistry_Record(t *testing.T) {
	reg := metrics.NewRegistry()
	reg.Record(sampleResult("tcp://a:502"))

	expected := `
# HELP regscan_batches_total Grouped reads attempted.
# TYPE regscan_batches_total counter
regscan_batches_total{device="tcp://a:502",function_code="1"} 1
regscan_batches_total{device="tcp://a:502",function_code="3"} 2
# HELP regscan_fallback_reads_total Individual reads issued after a failed grouped read.
# TYPE regscan_fallback_reads_total counter
regscan_fallback_reads_total{device="tcp://a:502",function_code="1"} 0
regscan_fallback_reads_total{device="tcp://a:502",function_code="3"} 3
# HELP regscan_registers_accessible Registers that answered in the last scan.
# TYPE regscan_registers_accessible gauge
regscan_registers_accessible{device="tcp://a:502",function_code="1"} 1
regscan_registers_accessible{device="tcp://a:502",function_code="3"} 2
# HELP regscan_adaptive_batch_size Adaptive batch size at the end of the last scan.
# TYPE regscan_adaptive_batch_size gauge
regscan_adaptive_batch_size{device="tcp://a:502"} 90
# HELP regscan_scan_duration_seconds Wall time of the last scan.
# TYPE regscan_scan_duration_seconds gauge
regscan_scan_duration_seconds{device="tcp://a:502"} 2
`
	err := testutil.GatherAndCompare(reg.Gatherer(), strings.NewReader(expected),
		"regscan_batches_total",
		"regscan_fallback_reads_total",
		"regscan_registers_accessible",
		"regscan_adaptive_batch_size",
		"regscan_scan_duration_seconds",
	)
	require.NoError(t, err)
}

func TestRegistry_RecordAll(t *testing.T) {
	reg := metrics.NewRegistry()
	failed := &scanner.Result{Device: "tcp://down:502", Err: errors.New("refused")}
	reg.RecordAll([]*scanner.Result{sampleResult("tcp://a:502"), nil, failed})

	count, err := testutil.GatherAndCount(reg.Gatherer(), "regscan_scan_failed")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	expected := `
# HELP regscan_scan_failed 1 when the last scan of the device ended with an error.
# TYPE regscan_scan_failed gauge
regscan_scan_failed{device="tcp://a:502"} 0
regscan_scan_failed{device="tcp://down:502"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg.Gatherer(), strings.NewReader(expected), "regscan_scan_failed"))
}

func TestRegistry_WriteTextfile(t *testing.T) {
	reg := metrics.NewRegistry()
	reg.Record(sampleResult("tcp://a:502"))

	t.Run("writes exposition format", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "regscan.prom")
		require.NoError(t, reg.WriteTextfile(path))

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), `regscan_batch_efficiency_percent{device="tcp://a:502",function_code="3"} 50`)
		assert.Contains(t, string(data), "# TYPE regscan_registers_total counter")
	})

	t.Run("empty path", func(t *testing.T) {
		require.ErrorIs(t, reg.WriteTextfile(""), metrics.ErrNoTextfile)
	})

	t.Run("missing directory", func(t *testing.T) {
		err := reg.WriteTextfile(filepath.Join(t.TempDir(), "missing", "regscan.prom"))
		require.Error(t, err)
	})
}
