package batch

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/rshade/regscan/internal/logging"
	"github.com/rshade/regscan/internal/register"
)

// Batch size limits.
const (
	// DefaultMaxBatchSize is the Modbus protocol ceiling for one read request.
	DefaultMaxBatchSize = register.MaxReadCount

	// MinBatchSize is the floor of the adaptive batch size.
	MinBatchSize = 1
)

// ReadResult is the outcome of executing one batch.
type ReadResult struct {
	// Success is true when at least one register in the batch is accessible.
	Success bool

	// Registers holds one entry per address of the batch, in address order.
	Registers []register.Info

	// Err is the grouped-read failure that triggered the fallback, if any. It is
	// informational only.
	Err error
}

// Option configures an Optimizer.
type Option func(*Optimizer)

// WithClock overrides the time source used for history timestamps and synthetic
// register timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Optimizer) {
		if now != nil {
			o.now = now
		}
	}
}

// WithAdaptive enables or disables adaptive sizing. When disabled the effective batch
// size is always the maximum; outcomes are still recorded in the history.
func WithAdaptive(enabled bool) Option {
	return func(o *Optimizer) {
		o.adaptive = enabled
	}
}

// WithInitialBatchSize starts the adaptive batch size at size instead of the maximum,
// clamped to [MinBatchSize, maxBatchSize]. ResetAdaptiveBatchSize still returns to
// the maximum.
func WithInitialBatchSize(size int) Option {
	return func(o *Optimizer) {
		o.initialBatchSize = size
	}
}

// Optimizer plans and executes register reads for one device connection.
type Optimizer struct {
	reader       register.Reader
	maxBatchSize int
	minBatchSize int
	adaptive     bool
	now          func() time.Time

	initialBatchSize int

	// mu guards the bookkeeping below. It is never held across reader calls.
	mu                sync.Mutex
	stats             Stats
	adaptiveBatchSize int
	history           *history
}

// NewOptimizer creates an optimizer reading through reader. maxBatchSize is clamped to
// the protocol ceiling of 125; values below 1 select DefaultMaxBatchSize.
func NewOptimizer(reader register.Reader, maxBatchSize int, opts ...Option) *Optimizer {
	if maxBatchSize < MinBatchSize {
		maxBatchSize = DefaultMaxBatchSize
	}
	maxBatchSize = min(maxBatchSize, register.MaxReadCount)

	o := &Optimizer{
		reader:            reader,
		maxBatchSize:      maxBatchSize,
		minBatchSize:      MinBatchSize,
		adaptive:          true,
		now:               time.Now,
		stats:             newStats(),
		adaptiveBatchSize: maxBatchSize,
		history:           newHistory(historyCapacity),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.initialBatchSize > 0 {
		o.adaptiveBatchSize = max(o.minBatchSize, min(o.initialBatchSize, o.maxBatchSize))
	}
	return o
}

// GetMaxBatchSize returns the static batch-size ceiling.
func (o *Optimizer) GetMaxBatchSize() int {
	return o.maxBatchSize
}

// ExecuteBatch reads b with one grouped request, falling back to individual reads when
// the request fails or returns any inaccessible register. It never returns an error:
// failures are reported in the registers and in ReadResult.Err.
//
// A batch with Count < 1 yields an empty result without touching the device. A batch
// larger than the maximum batch size is executed as consecutive maximum-sized batches.
func (o *Optimizer) ExecuteBatch(ctx context.Context, b register.Batch) ReadResult {
	if b.Count < 1 {
		return ReadResult{Registers: []register.Info{}}
	}
	if b.Count > o.maxBatchSize {
		return o.executeSplit(ctx, b)
	}

	log := logging.FromContext(ctx)

	regs, err := o.reader.ReadMultipleRegisters(ctx, b.StartAddress, b.Count, b.FunctionCode)
	if err == nil && allAccessible(regs, b.Count) {
		o.recordBatch(b.Count, true)
		log.Debug().Ctx(ctx).
			Str("component", "batch").
			Int("start", b.StartAddress).
			Int("count", b.Count).
			Int("function_code", int(b.FunctionCode)).
			Msg("batch read succeeded")
		return ReadResult{Success: true, Registers: regs}
	}

	if err != nil {
		log.Debug().Ctx(ctx).
			Str("component", "batch").
			Err(err).
			Int("start", b.StartAddress).
			Int("count", b.Count).
			Msg("batch read failed, falling back to individual reads")
	} else {
		log.Debug().Ctx(ctx).
			Str("component", "batch").
			Int("start", b.StartAddress).
			Int("count", b.Count).
			Int("returned", len(regs)).
			Msg("batch read partially inaccessible, falling back to individual reads")
	}

	o.recordBatch(b.Count, false)
	fallback := o.fallbackToIndividualReads(ctx, b)

	return ReadResult{
		Success:   anyAccessible(fallback),
		Registers: fallback,
		Err:       err,
	}
}

// executeSplit runs an oversized batch as consecutive batches of at most maxBatchSize.
func (o *Optimizer) executeSplit(ctx context.Context, b register.Batch) ReadResult {
	result := ReadResult{Registers: make([]register.Info, 0, b.Count)}
	for offset := 0; offset < b.Count; offset += o.maxBatchSize {
		part := register.Batch{
			StartAddress: b.StartAddress + offset,
			Count:        min(o.maxBatchSize, b.Count-offset),
			FunctionCode: b.FunctionCode,
		}
		r := o.ExecuteBatch(ctx, part)
		result.Registers = append(result.Registers, r.Registers...)
		result.Success = result.Success || r.Success
		if result.Err == nil {
			result.Err = r.Err
		}
	}
	return result
}

// fallbackToIndividualReads reads every address of b on its own. A failed read becomes
// an inaccessible register carrying the error.
func (o *Optimizer) fallbackToIndividualReads(ctx context.Context, b register.Batch) []register.Info {
	regs := make([]register.Info, 0, b.Count)
	for _, addr := range b.Addresses() {
		info, err := o.reader.ReadSingleRegister(ctx, addr, b.FunctionCode)
		if err != nil {
			info = register.NewInaccessible(addr, b.FunctionCode, err, o.now())
		}
		regs = append(regs, info)
	}
	return regs
}

// ReadOptimizedBatches plans addresses into batches, executes them in order and returns
// every register sorted by address.
func (o *Optimizer) ReadOptimizedBatches(
	ctx context.Context,
	addresses []int,
	fc register.FunctionCode,
) []register.Info {
	batches := o.CreateBatches(addresses, fc)

	regs := make([]register.Info, 0, len(addresses))
	for _, b := range batches {
		result := o.ExecuteBatch(ctx, b)
		regs = append(regs, result.Registers...)
	}

	slices.SortStableFunc(regs, func(a, b register.Info) int {
		return cmp.Compare(a.Address, b.Address)
	})
	return regs
}

// recordBatch updates counters and history for one executed batch, then lets the
// adaptive controller react.
func (o *Optimizer) recordBatch(size int, success bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.stats.record(size, success)
	o.history.push(HistoryEntry{Size: size, Success: success, Timestamp: o.now()})

	if o.adaptive && o.history.len() >= adaptiveThreshold {
		o.updateAdaptiveBatchSizeLocked()
	}
}

func allAccessible(regs []register.Info, want int) bool {
	if len(regs) != want {
		return false
	}
	for _, r := range regs {
		if !r.Accessible {
			return false
		}
	}
	return true
}

func anyAccessible(regs []register.Info) bool {
	for _, r := range regs {
		if r.Accessible {
			return true
		}
	}
	return false
}
