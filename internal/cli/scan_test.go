package cli_test

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	sv "github.com/simonvetter/modbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rshade/regscan/internal/cli"
	"github.com/rshade/regscan/internal/output"
	"github.com/rshade/regscan/internal/tuning"
)

// plcHandler serves holding registers 0-49 and 60-69. Other addresses and
// function codes raise Modbus exceptions.
type plcHandler struct{}

func (plcHandler) HandleCoils(*sv.CoilsRequest) ([]bool, error) {
	return nil, sv.ErrIllegalFunction
}

func (plcHandler) HandleDiscreteInputs(*sv.DiscreteInputsRequest) ([]bool, error) {
	return nil, sv.ErrIllegalFunction
}

func (plcHandler) HandleHoldingRegisters(req *sv.HoldingRegistersRequest) ([]uint16, error) {
	out := make([]uint16, req.Quantity)
	for i := range out {
		addr := req.Addr + uint16(i)
		if addr >= 50 && addr < 60 || addr >= 70 {
			return nil, sv.ErrIllegalDataAddress
		}
		out[i] = addr + 1000
	}
	return out, nil
}

func (plcHandler) HandleInputRegisters(*sv.InputRegistersRequest) ([]uint16, error) {
	return nil, sv.ErrIllegalFunction
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func startPLC(t *testing.T) string {
	t.Helper()
	url := "tcp://" + freeAddr(t)
	server, err := sv.NewServer(&sv.ServerConfiguration{URL: url, Timeout: 5 * time.Second, MaxClients: 4}, plcHandler{})
	require.NoError(t, err)
	require.NoError(t, server.Start())
	t.Cleanup(func() { _ = server.Stop() })
	return url
}

func scanArgs(url string, extra ...string) []string {
	return append([]string{
		"scan", "--url", url, "--start", "0", "--end", "99", "--batch-size", "20",
		"--timeout", "2s", "--retries", "0", "--no-progress",
	}, extra...)
}

func TestScan_JSON(t *testing.T) {
	setupCLITest(t)
	url := startPLC(t)

	out, err := execute(t, scanArgs(url, "--format", "json")...)
	require.NoError(t, err)

	var doc output.Document
	require.NoError(t, json.Unmarshal([]byte(out), &doc), out)
	assert.Equal(t, url, doc.Device)
	assert.NotEmpty(t, doc.SessionID)
	assert.Equal(t, output.Summary{Scanned: 100, Accessible: 60, Inaccessible: 40}, doc.Summary)
	require.Len(t, doc.Registers, 100)
	assert.InDelta(t, 1042, doc.Registers[42].Value, 0)
	assert.False(t, doc.Registers[55].Accessible)
	assert.Equal(t, "illegal data address", doc.Registers[55].Error.Message)
	assert.Positive(t, doc.Stats.FallbackReads)
	assert.Equal(t, 20, doc.Adaptive.MaxBatchSize)
}

func TestScan_AccessibleOnlyCSVToFile(t *testing.T) {
	setupCLITest(t)
	url := startPLC(t)
	path := filepath.Join(t.TempDir(), "scan.csv")

	_, err := execute(t, scanArgs(url, "--format", "csv", "--accessible-only", "--output", path)...)
	require.NoError(t, err)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	require.Len(t, records, 61)
	assert.Equal(t, "device", records[0][0])
	for _, rec := range records[1:] {
		assert.Equal(t, "true", rec[5])
	}
}

func TestScan_TableAndMetrics(t *testing.T) {
	setupCLITest(t)
	url := startPLC(t)
	metricsPath := filepath.Join(t.TempDir(), "regscan.prom")

	out, err := execute(t, scanArgs(url, "--metrics-file", metricsPath)...)
	require.NoError(t, err)
	assert.Contains(t, out, "Device: "+url)
	assert.Contains(t, out, "SCAN SUMMARY")
	assert.Contains(t, out, "100 scanned, 60 accessible (60.0%)")

	data, err := os.ReadFile(metricsPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `regscan_registers_accessible{device="`+url+`",function_code="3"} 60`)
}

func TestScan_UnreachableDevice(t *testing.T) {
	setupCLITest(t)
	url := "tcp://" + freeAddr(t)

	out, err := execute(t, scanArgs(url, "--format", "json", "--timeout", "200ms")...)
	require.Error(t, err)

	var exitErr *cli.ScanExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, cli.ExitCodeScanFailed, exitErr.ExitCode)

	jsonPart := out[:strings.LastIndex(out, "}")+1]
	var doc output.Document
	require.NoError(t, json.Unmarshal([]byte(jsonPart), &doc))
	assert.Contains(t, doc.Error, "connecting to")
}

func TestScan_InvalidFlags(t *testing.T) {
	setupCLITest(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "batch size", args: []string{"scan", "--batch-size", "200"}, want: "scan.batch_size"},
		{name: "range", args: []string{"scan", "--start", "10", "--end", "5"}, want: "scan.end_address"},
		{name: "function code", args: []string{"scan", "--function-codes", "7"}, want: "--function-codes"},
		{name: "format", args: []string{"scan", "--format", "xml"}, want: "output.format"},
		{name: "positional", args: []string{"scan", "extra"}, want: "unknown command"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestScan_Targets(t *testing.T) {
	setupCLITest(t)
	first := startPLC(t)
	second := startPLC(t)

	out, err := execute(t, scanArgs(first, "--target", second, "--format", "json", "--end", "9")...)
	require.NoError(t, err)

	var docs []output.Document
	require.NoError(t, json.Unmarshal([]byte(out), &docs))
	require.Len(t, docs, 2)
	assert.Equal(t, first, docs[0].Device)
	assert.Equal(t, second, docs[1].Device)
	assert.NotEqual(t, docs[0].SessionID, docs[1].SessionID)
	assert.Equal(t, 10, docs[1].Summary.Accessible)
}

func TestScan_LearnedBatchSize(t *testing.T) {
	home := setupCLITest(t)
	url := startPLC(t)
	cacheDir := filepath.Join(home, "cache")

	_, err := execute(t, scanArgs(url, "--format", "json", "--no-cache")...)
	require.NoError(t, err)
	assert.NoDirExists(t, cacheDir)

	_, err = execute(t, scanArgs(url, "--format", "json")...)
	require.NoError(t, err)
	entries, err := filepath.Glob(filepath.Join(cacheDir, "*.json"))
	require.NoError(t, err)
	require.Len(t, entries, 1)

	data, err := os.ReadFile(entries[0])
	require.NoError(t, err)
	var entry tuning.Entry
	require.NoError(t, json.Unmarshal(data, &entry))
	assert.Equal(t, url, entry.Device)
	assert.Equal(t, 20, entry.MaxBatchSize)
	assert.Positive(t, entry.AdaptiveBatchSize)

	out, err := execute(t, scanArgs(url, "--format", "json")...)
	require.NoError(t, err)
	var doc output.Document
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Equal(t, output.Summary{Scanned: 100, Accessible: 60, Inaccessible: 40}, doc.Summary,
		"a learned starting size does not change what is found")
}
