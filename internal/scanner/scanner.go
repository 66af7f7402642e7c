package scanner

import (
	"context"
	"fmt"
	"time"

	"github.com/rshade/regscan/internal/engine/batch"
	"github.com/rshade/regscan/internal/logging"
	"github.com/rshade/regscan/internal/register"
)

// ProgressFunc receives a snapshot after every completed chunk. It is called from the
// scanning goroutine and must not block for long.
type ProgressFunc func(batch.ProgressSnapshot)

// Result is the outcome of scanning one device.
type Result struct {
	SessionID string
	Device    string
	StartedAt time.Time
	Duration  time.Duration

	// Registers holds one entry per scanned address, ordered by function code (plan
	// order) then address. With AccessibleOnly only accessible entries are kept.
	Registers []register.Info

	Stats                Stats
	TotalRegisters       int
	AccessibleRegisters  int
	AdaptiveBatchSize    int
	RecommendedBatchSize int
	MaxBatchSize         int

	// StatsByFunctionCode holds the optimizer counters accumulated while scanning
	// each function code.
	StatsByFunctionCode map[register.FunctionCode]Stats

	// Err is set when the device could not be scanned at all or the scan was cut
	// short. Registers then holds the chunks completed before the failure.
	Err error
}

// Stats is the optimizer statistics reported with a result.
type Stats = batch.Stats

// Option configures a Scanner.
type Option func(*Scanner)

// WithProgress registers a callback invoked after every chunk.
func WithProgress(fn ProgressFunc) Option {
	return func(s *Scanner) {
		s.onProgress = fn
	}
}

// WithClock overrides the time source used for StartedAt and Duration.
func WithClock(now func() time.Time) Option {
	return func(s *Scanner) {
		if now != nil {
			s.now = now
		}
	}
}

// Scanner scans one device through its optimizer.
type Scanner struct {
	device     string
	optimizer  *batch.Optimizer
	onProgress ProgressFunc
	now        func() time.Time
}

// New creates a Scanner for device reading through optimizer.
func New(device string, optimizer *batch.Optimizer, opts ...Option) *Scanner {
	s := &Scanner{
		device:    device,
		optimizer: optimizer,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scan executes plan chunk by chunk. It returns an error for an invalid plan or when
// ctx is cancelled between chunks; in the latter case the partial result is returned
// as well. Register read failures are never errors: they are reported per register.
func (s *Scanner) Scan(ctx context.Context, plan Plan) (*Result, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}

	sessionID := logging.NewID()
	logger := logging.FromContext(ctx).With().
		Str("component", "scanner").
		Str("device", s.device).
		Str("session_id", sessionID).
		Logger()
	ctx = logging.ContextWithTraceID(logger.WithContext(ctx), sessionID)

	chunks := plan.Chunks()
	progress := batch.NewProgress(s.device, plan.TotalRegisters(), len(chunks))

	result := &Result{
		SessionID:           sessionID,
		Device:              s.device,
		StartedAt:           s.now(),
		TotalRegisters:      plan.TotalRegisters(),
		MaxBatchSize:        s.optimizer.GetMaxBatchSize(),
		Registers:           make([]register.Info, 0, plan.TotalRegisters()),
		StatsByFunctionCode: make(map[register.FunctionCode]Stats),
	}

	logger.Info().Ctx(ctx).
		Int("function_codes", len(plan.FunctionCodes)).
		Int("start_address", plan.StartAddress).
		Int("end_address", plan.EndAddress).
		Int("chunks", len(chunks)).
		Int("max_batch_size", result.MaxBatchSize).
		Msg("scan started")

	var scanErr error
	before := s.optimizer.GetStats()
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			scanErr = fmt.Errorf("scan of %s cancelled after %d of %d chunks: %w", s.device, i, len(chunks), err)
			break
		}

		regs := s.optimizer.ReadOptimizedBatches(ctx, batch.AddressRange(chunk.Start, chunk.End), chunk.FunctionCode)

		// Reads issued after cancellation fail without reaching the device, so the
		// whole chunk is discarded.
		if err := ctx.Err(); err != nil {
			result.StatsByFunctionCode[chunk.FunctionCode] = s.optimizer.GetStats().Sub(before)
			scanErr = fmt.Errorf("scan of %s cancelled during chunk %d of %d: %w", s.device, i+1, len(chunks), err)
			break
		}

		accessible := 0
		for _, r := range regs {
			if r.Accessible {
				accessible++
			}
			if r.Accessible || !plan.AccessibleOnly {
				result.Registers = append(result.Registers, r)
			}
		}
		result.AccessibleRegisters += accessible

		last := i == len(chunks)-1 || chunks[i+1].FunctionCode != chunk.FunctionCode
		if last {
			after := s.optimizer.GetStats()
			result.StatsByFunctionCode[chunk.FunctionCode] = after.Sub(before)
			before = after
		}

		progress.AddChunk(len(regs), accessible)
		if s.onProgress != nil {
			s.onProgress(progress.Snapshot())
		}

		logger.Debug().Ctx(ctx).
			Int("function_code", int(chunk.FunctionCode)).
			Int("start", chunk.Start).
			Int("end", chunk.End).
			Int("accessible", accessible).
			Int("effective_batch_size", s.optimizer.GetEffectiveBatchSize()).
			Msg("chunk scanned")
	}

	result.Stats = s.optimizer.GetStats()
	result.AdaptiveBatchSize = s.optimizer.GetCurrentAdaptiveBatchSize()
	result.RecommendedBatchSize = s.optimizer.GetRecommendedBatchSize()
	result.Duration = s.now().Sub(result.StartedAt)
	result.Err = scanErr

	event := logger.Info()
	if scanErr != nil {
		event = logger.Warn().Err(scanErr)
	}
	event.Ctx(ctx).
		Int("registers", result.TotalRegisters).
		Int("accessible", result.AccessibleRegisters).
		Int("batches", result.Stats.TotalBatches).
		Float64("batch_efficiency", result.Stats.BatchEfficiency).
		Int("adaptive_batch_size", result.AdaptiveBatchSize).
		Dur("duration", result.Duration).
		Msg("scan finished")

	return result, scanErr
}
