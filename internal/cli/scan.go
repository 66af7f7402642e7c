package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/rshade/regscan/internal/config"
	"github.com/rshade/regscan/internal/engine/batch"
	"github.com/rshade/regscan/internal/logging"
	"github.com/rshade/regscan/internal/metrics"
	"github.com/rshade/regscan/internal/modbus"
	"github.com/rshade/regscan/internal/output"
	"github.com/rshade/regscan/internal/publish"
	"github.com/rshade/regscan/internal/register"
	"github.com/rshade/regscan/internal/scanner"
	"github.com/rshade/regscan/internal/tui"
	"github.com/rshade/regscan/internal/tuning"
)

// ExitCodeScanFailed is returned when at least one device scan ended with an error.
const ExitCodeScanFailed = 2

// ScanExitError carries a non-default process exit code out of the scan command.
type ScanExitError struct {
	ExitCode int
	Reason   string
}

func (e *ScanExitError) Error() string {
	return e.Reason
}

// scanFlags holds the scan command flags. Only flags the user set override config.
type scanFlags struct {
	host           string
	port           int
	url            string
	unitID         int
	driver         string
	functionCodes  string
	start          int
	end            int
	batchSize      int
	noAdaptive     bool
	chunkSize      int
	timeout        time.Duration
	retries        int
	concurrency    int
	format         string
	outputFile     string
	accessibleOnly bool
	metricsFile    string
	mqttBroker     string
	noProgress     bool
	noCache        bool
	targets        []string
}

// NewScanCmd creates the scan command.
func NewScanCmd() *cobra.Command {
	cmd, _ := newScanCmd()
	return cmd
}

func newScanCmd() (*cobra.Command, *scanFlags) {
	var flags scanFlags

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan a device for accessible registers",
		Long: `Reads every address in the configured range with adaptive grouped reads.
Grouped reads that fail fall back to individual reads, so every address is
reported as accessible or not. Settings come from the configuration file,
REGSCAN_* environment variables and the flags below, in increasing precedence.`,
		Example: `  # Scan input registers 100-199 without adaptation
  regscan scan --host 10.0.0.5 --function-codes 4 --start 100 --end 199 --no-adaptive

  # Export metrics for the node_exporter textfile collector
  regscan scan --host 10.0.0.5 --metrics-file /var/lib/node_exporter/regscan.prom`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := *config.GetGlobalConfig()
			if err := applyScanFlags(cmd, &cfg, flags); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runScan(cmd, &cfg, flags.noProgress)
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.host, "host", "", "device host name or IP")
	f.IntVar(&flags.port, "port", 0, "device TCP port")
	f.StringVar(&flags.url, "url", "", "device URL, e.g. tcp://host:502 or rtu:///dev/ttyUSB0")
	f.IntVar(&flags.unitID, "unit-id", 0, "Modbus unit (slave) id")
	f.StringVar(&flags.driver, "driver", "", "Modbus library: simonvetter or goburrow")
	f.StringVar(&flags.functionCodes, "function-codes", "", "comma-separated function codes to scan (1-4)")
	f.IntVar(&flags.start, "start", 0, "first address")
	f.IntVar(&flags.end, "end", 0, "last address (inclusive)")
	f.IntVar(&flags.batchSize, "batch-size", 0, "maximum registers per grouped read (1-125)")
	f.BoolVar(&flags.noAdaptive, "no-adaptive", false, "keep the batch size fixed at --batch-size")
	f.IntVar(&flags.chunkSize, "chunk-size", 0, "addresses per progress step")
	f.DurationVar(&flags.timeout, "timeout", 0, "per-request timeout")
	f.IntVar(&flags.retries, "retries", 0, "retries for transport errors")
	f.IntVar(&flags.concurrency, "concurrency", 0, "devices scanned at the same time")
	f.StringVarP(&flags.format, "format", "f", "", "output format: table, json or csv")
	f.StringVarP(&flags.outputFile, "output", "o", "", "write results to this file instead of stdout")
	f.BoolVar(&flags.accessibleOnly, "accessible-only", false, "only report registers that answered")
	f.StringVar(&flags.metricsFile, "metrics-file", "", "write Prometheus metrics to this textfile")
	f.StringVar(&flags.mqttBroker, "mqtt-broker", "", "publish results to this MQTT broker")
	f.BoolVar(&flags.noProgress, "no-progress", false, "disable the interactive progress view")
	f.BoolVar(&flags.noCache, "no-cache", false, "ignore and do not update learned batch sizes")
	f.StringArrayVar(&flags.targets, "target", nil, "additional device URL (repeatable)")

	return cmd, &flags
}

// applyScanFlags copies every explicitly set flag into cfg.
//
//nolint:gocognit,cyclop // One branch per flag.
func applyScanFlags(cmd *cobra.Command, cfg *config.Config, flags scanFlags) error {
	changed := cmd.Flags().Changed

	if changed("host") || changed("port") {
		cfg.Connection.URL = ""
	}
	if changed("host") {
		cfg.Connection.Host = flags.host
	}
	if changed("port") {
		cfg.Connection.Port = flags.port
	}
	if changed("url") {
		cfg.Connection.URL = flags.url
	}
	if changed("unit-id") {
		cfg.Connection.UnitID = flags.unitID
	}
	if changed("driver") {
		cfg.Connection.Driver = flags.driver
	}
	if changed("timeout") {
		cfg.Connection.Timeout = flags.timeout
	}
	if changed("retries") {
		cfg.Connection.Retries = flags.retries
	}
	if changed("target") {
		cfg.Connection.Targets = append(append([]string(nil), cfg.Connection.Targets...), flags.targets...)
	}

	if changed("function-codes") {
		codes, err := register.ParseFunctionCodes(flags.functionCodes)
		if err != nil {
			return fmt.Errorf("--function-codes: %w", err)
		}
		cfg.Scan.FunctionCodes = make([]int, 0, len(codes))
		for _, fc := range codes {
			cfg.Scan.FunctionCodes = append(cfg.Scan.FunctionCodes, int(fc))
		}
	}
	if changed("start") {
		cfg.Scan.StartAddress = flags.start
	}
	if changed("end") {
		cfg.Scan.EndAddress = flags.end
	}
	if changed("batch-size") {
		cfg.Scan.BatchSize = flags.batchSize
	}
	if changed("no-adaptive") {
		cfg.Scan.Adaptive = !flags.noAdaptive
	}
	if changed("chunk-size") {
		cfg.Scan.ChunkSize = flags.chunkSize
	}
	if changed("accessible-only") {
		cfg.Scan.AccessibleOnly = flags.accessibleOnly
	}
	if changed("concurrency") {
		cfg.Scan.MaxConcurrentDevices = flags.concurrency
	}
	if changed("no-cache") && flags.noCache {
		cfg.Cache.Enabled = false
	}

	if changed("format") {
		cfg.Output.Format = flags.format
	}
	if changed("output") {
		cfg.Output.File = flags.outputFile
	}
	if changed("metrics-file") {
		cfg.Metrics.Enabled = flags.metricsFile != ""
		cfg.Metrics.Textfile = flags.metricsFile
	}
	if changed("mqtt-broker") {
		cfg.MQTT.Enabled = flags.mqttBroker != ""
		cfg.MQTT.Broker = flags.mqttBroker
	}
	return nil
}

// runScan scans every configured device and emits results, metrics and MQTT messages.
func runScan(cmd *cobra.Command, cfg *config.Config, noProgress bool) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	log := logging.FromContext(ctx)
	devices := cfg.DeviceURLs()
	plan := scanner.PlanFromConfig(cfg.Scan)

	var progressView *tui.ProgressProgram
	onProgress := func(s batch.ProgressSnapshot) {
		log.Debug().
			Str("device", s.Device).
			Int("scanned", s.ScannedRegisters).
			Int("total", s.TotalRegisters).
			Float64("percent", s.PercentComplete).
			Msg("scan progress")
	}
	if cfg.Output.Progress && !noProgress && isTerminal(os.Stderr) {
		progressView = tui.StartProgress(ctx, cmd.ErrOrStderr(), devices, cancel)
		onProgress = progressView.Update
	}

	log.Info().Ctx(ctx).
		Strs("devices", devices).
		Int("registers", plan.TotalRegisters()).
		Int("batch_size", cfg.Scan.BatchSize).
		Bool("adaptive", cfg.Scan.Adaptive).
		Msg("starting scan")

	results, scanErr := scanner.ScanDevices(ctx, devices, plan, scanner.DeviceOptions{
		Dial:          modbusDialer(cfg.Connection),
		MaxBatchSize:  cfg.Scan.BatchSize,
		Adaptive:      cfg.Scan.Adaptive,
		MaxConcurrent: cfg.Scan.MaxConcurrentDevices,
		OnProgress:    onProgress,
		Tuner:         openTuner(ctx, cfg),
	})

	if progressView != nil {
		if err := progressView.Finish(scanErr); err != nil {
			log.Warn().Err(err).Msg("progress view failed")
		}
	}
	if results == nil {
		return scanErr
	}

	if err := writeResults(cmd, cfg.Output, results); err != nil {
		return err
	}

	var errs []error
	if cfg.Metrics.Enabled {
		if err := exportMetrics(cfg.Metrics, results); err != nil {
			errs = append(errs, err)
		}
	}
	if cfg.MQTT.Enabled {
		if err := publishResults(ctx, cfg.MQTT, results); err != nil {
			errs = append(errs, err)
		}
	}
	if scanErr != nil {
		errs = append(errs, scanErr)
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	return checkScanFailures(results)
}

// modbusDialer opens a modbus client per device with the shared connection settings.
func modbusDialer(cc config.ConnectionConfig) scanner.Dialer {
	return func(ctx context.Context, device string) (scanner.Connection, error) {
		client, err := modbus.Dial(ctx, modbus.OptionsFromConfig(device, cc))
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

// openTuner returns the learned batch size store, or nil when caching is off or the
// store cannot be opened.
func openTuner(ctx context.Context, cfg *config.Config) scanner.Tuner {
	if !cfg.Cache.Enabled || !cfg.Scan.Adaptive {
		return nil
	}
	dir, err := cfg.Cache.CacheDir()
	var store *tuning.FileStore
	if err == nil {
		store, err = tuning.NewFileStore(dir, cfg.Cache.TTL)
	}
	if err != nil {
		logging.FromContext(ctx).Warn().Ctx(ctx).
			Err(err).
			Msg("batch size cache unavailable, starting from the maximum")
		return nil
	}
	return tuning.NewTuner(store, cfg.Connection.UnitID)
}

func writeResults(cmd *cobra.Command, oc config.OutputConfig, results []*scanner.Result) error {
	var w io.Writer = cmd.OutOrStdout()
	if oc.File != "" {
		f, err := os.Create(oc.File)
		if err != nil {
			return fmt.Errorf("creating output file: %w", err)
		}
		defer f.Close()
		w = f
	}
	return output.Render(w, oc.Format, results)
}

func exportMetrics(mc config.MetricsConfig, results []*scanner.Result) error {
	reg := metrics.NewRegistry()
	reg.RecordAll(results)
	return reg.WriteTextfile(mc.Textfile)
}

func publishResults(ctx context.Context, mc config.MQTTConfig, results []*scanner.Result) error {
	pub, err := publish.NewPublisher(mc)
	if err != nil {
		return err
	}
	if err = pub.Connect(ctx); err != nil {
		return err
	}
	defer pub.Close()
	return pub.PublishResults(ctx, results)
}

// checkScanFailures returns a ScanExitError when any device scan failed.
func checkScanFailures(results []*scanner.Result) error {
	failed := 0
	for _, r := range results {
		if r != nil && r.Err != nil {
			failed++
		}
	}
	if failed == 0 {
		return nil
	}
	return &ScanExitError{
		ExitCode: ExitCodeScanFailed,
		Reason:   fmt.Sprintf("%d of %d device scan(s) failed", failed, len(results)),
	}
}
