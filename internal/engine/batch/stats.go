package batch

// percentMultiplier is used to convert a ratio to percentage (0-100).
const percentMultiplier = 100

// SizeStats counts attempts and successes for one batch size.
type SizeStats struct {
	Attempts  int `json:"attempts"`
	Successes int `json:"successes"`
}

// Rate returns successes/attempts, or 0 with no attempts.
func (s SizeStats) Rate() float64 {
	if s.Attempts == 0 {
		return 0
	}
	return float64(s.Successes) / float64(s.Attempts)
}

// Stats holds the cumulative counters of an Optimizer.
//
// BatchEfficiency and AverageBatchSize are derived when the stats are read.
type Stats struct {
	// TotalBatches counts executed batches.
	TotalBatches int `json:"total_batches"`

	// SuccessfulBatches counts batches whose grouped read returned every register.
	SuccessfulBatches int `json:"successful_batches"`

	// FailedBatches counts batches that fell back to individual reads.
	FailedBatches int `json:"failed_batches"`

	// FallbackReads counts registers read individually after a batch failure.
	FallbackReads int `json:"fallback_reads"`

	// TotalRegisters counts registers requested across all batches.
	TotalRegisters int `json:"total_registers"`

	// BatchEfficiency is the percentage of registers served by grouped reads.
	BatchEfficiency float64 `json:"batch_efficiency"`

	// AverageBatchSize is TotalRegisters / TotalBatches.
	AverageBatchSize float64 `json:"average_batch_size"`

	// SuccessRateBySize is keyed by the attempted batch count.
	SuccessRateBySize map[int]SizeStats `json:"success_rate_by_size"`
}

func newStats() Stats {
	return Stats{SuccessRateBySize: make(map[int]SizeStats)}
}

func (s *Stats) record(size int, success bool) {
	s.TotalBatches++
	s.TotalRegisters += size

	bySize := s.SuccessRateBySize[size]
	bySize.Attempts++
	if success {
		s.SuccessfulBatches++
		bySize.Successes++
	} else {
		s.FailedBatches++
		s.FallbackReads += size
	}
	s.SuccessRateBySize[size] = bySize
}

// updateBatchEfficiency fills in the derived fields.
func (s *Stats) updateBatchEfficiency() {
	s.BatchEfficiency = 0
	s.AverageBatchSize = 0
	if s.TotalRegisters > 0 {
		s.BatchEfficiency = float64(s.TotalRegisters-s.FallbackReads) / float64(s.TotalRegisters) * percentMultiplier
	}
	if s.TotalBatches > 0 {
		s.AverageBatchSize = float64(s.TotalRegisters) / float64(s.TotalBatches)
	}
}

func (s Stats) clone() Stats {
	out := s
	out.SuccessRateBySize = make(map[int]SizeStats, len(s.SuccessRateBySize))
	for k, v := range s.SuccessRateBySize {
		out.SuccessRateBySize[k] = v
	}
	return out
}

// GetStats returns a copy of the counters with derived fields computed.
func (o *Optimizer) GetStats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()

	s := o.stats.clone()
	s.updateBatchEfficiency()
	return s
}

// ResetStats zeroes every counter and resets adaptive sizing.
func (o *Optimizer) ResetStats() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.stats = newStats()
	o.resetAdaptiveLocked()
}

// GetSuccessRatesBySize returns the success ratio per attempted batch size.
func (o *Optimizer) GetSuccessRatesBySize() map[int]float64 {
	o.mu.Lock()
	defer o.mu.Unlock()

	rates := make(map[int]float64, len(o.stats.SuccessRateBySize))
	for size, s := range o.stats.SuccessRateBySize {
		rates[size] = s.Rate()
	}
	return rates
}

// Sub returns the counters accumulated since before, a snapshot of the same optimizer
// taken earlier. Derived fields are recomputed for the difference.
func (s Stats) Sub(before Stats) Stats {
	d := newStats()
	d.TotalBatches = s.TotalBatches - before.TotalBatches
	d.SuccessfulBatches = s.SuccessfulBatches - before.SuccessfulBatches
	d.FailedBatches = s.FailedBatches - before.FailedBatches
	d.FallbackReads = s.FallbackReads - before.FallbackReads
	d.TotalRegisters = s.TotalRegisters - before.TotalRegisters
	for size, after := range s.SuccessRateBySize {
		prev := before.SuccessRateBySize[size]
		if after.Attempts > prev.Attempts {
			d.SuccessRateBySize[size] = SizeStats{
				Attempts:  after.Attempts - prev.Attempts,
				Successes: after.Successes - prev.Successes,
			}
		}
	}
	d.updateBatchEfficiency()
	return d
}
