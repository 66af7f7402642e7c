// Package metrics exposes scan statistics in the Prometheus exposition format.
//
// A Registry is filled from scanner results after a scan and written to a
// node_exporter textfile collector path.
package metrics

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rshade/regscan/internal/register"
	"github.com/rshade/regscan/internal/scanner"
)

const namespace = "regscan"

// ErrNoTextfile is returned by WriteTextfile when no path is configured.
var ErrNoTextfile = errors.New("metrics textfile path is empty")

// Registry holds the regscan collectors on a private Prometheus registry.
type Registry struct {
	reg *prometheus.Registry

	batches         *prometheus.CounterVec
	batchesFailed   *prometheus.CounterVec
	fallbackReads   *prometheus.CounterVec
	registers       *prometheus.CounterVec
	accessible      *prometheus.GaugeVec
	efficiency      *prometheus.GaugeVec
	adaptiveSize    *prometheus.GaugeVec
	recommendedSize *prometheus.GaugeVec
	scanDuration    *prometheus.GaugeVec
	scanFailed      *prometheus.GaugeVec
}

// NewRegistry creates and registers all collectors.
func NewRegistry() *Registry {
	fcLabels := []string{"device", "function_code"}
	deviceLabels := []string{"device"}

	r := &Registry{
		reg: prometheus.NewRegistry(),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Grouped reads attempted.",
		}, fcLabels),
		batchesFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_failed_total",
			Help:      "Grouped reads that failed entirely or partially.",
		}, fcLabels),
		fallbackReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallback_reads_total",
			Help:      "Individual reads issued after a failed grouped read.",
		}, fcLabels),
		registers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registers_total",
			Help:      "Register addresses covered by grouped reads.",
		}, fcLabels),
		accessible: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registers_accessible",
			Help:      "Registers that answered in the last scan.",
		}, fcLabels),
		efficiency: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "batch_efficiency_percent",
			Help:      "Share of grouped reads that succeeded, in percent.",
		}, fcLabels),
		adaptiveSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "adaptive_batch_size",
			Help:      "Adaptive batch size at the end of the last scan.",
		}, deviceLabels),
		recommendedSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "recommended_batch_size",
			Help:      "Batch size recommended from observed success rates.",
		}, deviceLabels),
		scanDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scan_duration_seconds",
			Help:      "Wall time of the last scan.",
		}, deviceLabels),
		scanFailed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scan_failed",
			Help:      "1 when the last scan of the device ended with an error.",
		}, deviceLabels),
	}

	r.reg.MustRegister(
		r.batches,
		r.batchesFailed,
		r.fallbackReads,
		r.registers,
		r.accessible,
		r.efficiency,
		r.adaptiveSize,
		r.recommendedSize,
		r.scanDuration,
		r.scanFailed,
	)
	return r
}

// Gatherer returns the underlying registry for exposition.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// Record adds one device scan to the collectors.
func (r *Registry) Record(res *scanner.Result) {
	device := res.Device

	for fc, stats := range res.StatsByFunctionCode {
		fcLabel := strconv.Itoa(int(fc))
		r.batches.WithLabelValues(device, fcLabel).Add(float64(stats.TotalBatches))
		r.batchesFailed.WithLabelValues(device, fcLabel).Add(float64(stats.FailedBatches))
		r.fallbackReads.WithLabelValues(device, fcLabel).Add(float64(stats.FallbackReads))
		r.registers.WithLabelValues(device, fcLabel).Add(float64(stats.TotalRegisters))
		r.efficiency.WithLabelValues(device, fcLabel).Set(stats.BatchEfficiency)
	}

	for fc, n := range accessibleByFunctionCode(res.Registers) {
		r.accessible.WithLabelValues(device, strconv.Itoa(int(fc))).Set(float64(n))
	}

	r.adaptiveSize.WithLabelValues(device).Set(float64(res.AdaptiveBatchSize))
	r.recommendedSize.WithLabelValues(device).Set(float64(res.RecommendedBatchSize))
	r.scanDuration.WithLabelValues(device).Set(res.Duration.Seconds())

	failed := 0.0
	if res.Err != nil {
		failed = 1
	}
	r.scanFailed.WithLabelValues(device).Set(failed)
}

// RecordAll records every result.
func (r *Registry) RecordAll(results []*scanner.Result) {
	for _, res := range results {
		if res != nil {
			r.Record(res)
		}
	}
}

// WriteTextfile atomically writes the registry to path for the node_exporter
// textfile collector.
func (r *Registry) WriteTextfile(path string) error {
	if path == "" {
		return ErrNoTextfile
	}
	if err := prometheus.WriteToTextfile(path, r.reg); err != nil {
		return fmt.Errorf("writing metrics textfile %s: %w", path, err)
	}
	return nil
}

func accessibleByFunctionCode(regs []register.Info) map[register.FunctionCode]int {
	counts := make(map[register.FunctionCode]int)
	for _, reg := range regs {
		if reg.Accessible {
			counts[reg.FunctionCode]++
		}
	}
	return counts
}
