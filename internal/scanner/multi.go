package scanner

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/rshade/regscan/internal/engine/batch"
	"github.com/rshade/regscan/internal/logging"
	"github.com/rshade/regscan/internal/register"
)

// DefaultMaxConcurrentDevices bounds ScanDevices when no limit is configured.
const DefaultMaxConcurrentDevices = 4

// Connection is an open device connection.
type Connection interface {
	register.Reader
	Close() error
}

// Dialer opens a connection to device.
type Dialer func(ctx context.Context, device string) (Connection, error)

// Tuner remembers the batch size each device ended a scan with.
type Tuner interface {
	// InitialBatchSize returns the size to start device at, or false when unknown.
	InitialBatchSize(device string, maxBatchSize int) (int, bool)
	Remember(device, sessionID string, maxBatchSize, adaptive, recommended int) error
}

// DeviceOptions configures ScanDevices.
type DeviceOptions struct {
	Dial          Dialer
	MaxBatchSize  int
	Adaptive      bool
	MaxConcurrent int

	// OnProgress, when set, receives snapshots from every device. It may be called
	// concurrently from several goroutines.
	OnProgress ProgressFunc

	// Tuner, when set and Adaptive is true, seeds each optimizer with the size
	// learned by the previous scan and stores the size this scan ends with.
	Tuner Tuner

	// OptimizerOptions are appended to the options derived from the fields above.
	OptimizerOptions []batch.Option
}

// ScanDevices scans every device with plan, at most MaxConcurrent at a time, each
// through its own connection and optimizer. The returned results follow the order of
// devices. A device that cannot be dialled gets a Result with Err set; the other
// devices are still scanned. The returned error is non-nil only for an invalid plan or
// a cancelled ctx.
func ScanDevices(ctx context.Context, devices []string, plan Plan, opts DeviceOptions) ([]*Result, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	if opts.Dial == nil {
		return nil, fmt.Errorf("%w: no dialer", ErrInvalidPlan)
	}

	limit := opts.MaxConcurrent
	if limit < 1 {
		limit = DefaultMaxConcurrentDevices
	}

	results := make([]*Result, len(devices))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, device := range devices {
		g.Go(func() error {
			results[i] = scanDevice(gCtx, device, plan, opts)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return results, fmt.Errorf("scan cancelled: %w", err)
	}
	return results, nil
}

func scanDevice(ctx context.Context, device string, plan Plan, opts DeviceOptions) *Result {
	log := logging.FromContext(ctx)

	conn, err := opts.Dial(ctx, device)
	if err != nil {
		log.Error().Ctx(ctx).
			Str("component", "scanner").
			Str("device", device).
			Err(err).
			Msg("failed to connect")
		return &Result{Device: device, Err: err}
	}
	defer func() {
		if closeErr := conn.Close(); closeErr != nil {
			log.Warn().Ctx(ctx).
				Str("component", "scanner").
				Str("device", device).
				Err(closeErr).
				Msg("failed to close connection")
		}
	}()

	optimizerOpts := []batch.Option{batch.WithAdaptive(opts.Adaptive)}
	useTuner := opts.Tuner != nil && opts.Adaptive
	if useTuner {
		if size, ok := opts.Tuner.InitialBatchSize(device, opts.MaxBatchSize); ok {
			log.Debug().Ctx(ctx).
				Str("component", "scanner").
				Str("device", device).
				Int("initial_batch_size", size).
				Msg("starting from learned batch size")
			optimizerOpts = append(optimizerOpts, batch.WithInitialBatchSize(size))
		}
	}
	optimizerOpts = append(optimizerOpts, opts.OptimizerOptions...)
	optimizer := batch.NewOptimizer(conn, opts.MaxBatchSize, optimizerOpts...)

	var scanOpts []Option
	if opts.OnProgress != nil {
		scanOpts = append(scanOpts, WithProgress(opts.OnProgress))
	}

	result, err := New(device, optimizer, scanOpts...).Scan(ctx, plan)
	if result == nil {
		return &Result{Device: device, Err: err}
	}

	if useTuner && result.Err == nil {
		if rememberErr := opts.Tuner.Remember(device, result.SessionID,
			result.MaxBatchSize, result.AdaptiveBatchSize, result.RecommendedBatchSize); rememberErr != nil {
			log.Warn().Ctx(ctx).
				Str("component", "scanner").
				Str("device", device).
				Err(rememberErr).
				Msg("failed to remember batch size")
		}
	}
	return result
}
