package batch

import "time"

// Adaptive sizing parameters.
const (
	historyCapacity = 100

	// adaptiveThreshold is the history length required before the size is adapted.
	adaptiveThreshold = 5

	// adaptiveWindowEntries and adaptiveWindow bound the sample used for one decision.
	adaptiveWindowEntries = 20
	adaptiveWindow        = 30 * time.Second

	// minWindowSamples is the smallest window that justifies a change.
	minWindowSamples = 3
)

// Success-rate bands. Shrinking is steeper than growing so a degrading link is
// relieved quickly.
const (
	excellentRate = 0.9
	goodRate      = 0.7
	poorRate      = 0.4

	// recommendation thresholds over the lifetime success rate
	recommendFullRate = 0.8
	recommendHalfRate = 0.5
	conservativeSize  = 10
)

// HistoryEntry records the outcome of one executed batch.
type HistoryEntry struct {
	Size      int       `json:"size"`
	Success   bool      `json:"success"`
	Timestamp time.Time `json:"timestamp"`
}

// history is a fixed-capacity ring of batch outcomes; the oldest entry is overwritten
// once full.
type history struct {
	buf  []HistoryEntry
	head int
	n    int
}

func newHistory(capacity int) *history {
	return &history{buf: make([]HistoryEntry, capacity)}
}

func (h *history) push(e HistoryEntry) {
	if h.n < len(h.buf) {
		h.buf[(h.head+h.n)%len(h.buf)] = e
		h.n++
		return
	}
	h.buf[h.head] = e
	h.head = (h.head + 1) % len(h.buf)
}

func (h *history) len() int {
	return h.n
}

// recent returns a copy of the newest limit entries, oldest first. limit <= 0 returns
// everything.
func (h *history) recent(limit int) []HistoryEntry {
	if limit <= 0 || limit > h.n {
		limit = h.n
	}
	out := make([]HistoryEntry, limit)
	for i := range limit {
		out[i] = h.buf[(h.head+h.n-limit+i)%len(h.buf)]
	}
	return out
}

func (h *history) reset() {
	clear(h.buf)
	h.head, h.n = 0, 0
}

// updateAdaptiveBatchSizeLocked recomputes the adaptive size from the recent window.
// The caller holds o.mu.
func (o *Optimizer) updateAdaptiveBatchSizeLocked() {
	cutoff := o.now().Add(-adaptiveWindow)

	var samples, successes int
	for _, e := range o.history.recent(adaptiveWindowEntries) {
		if e.Timestamp.Before(cutoff) {
			continue
		}
		samples++
		if e.Success {
			successes++
		}
	}
	if samples < minWindowSamples {
		return
	}

	rate := float64(successes) / float64(samples)
	cur := o.adaptiveBatchSize

	// Integer steps: growth rounds up so small sizes can recover, shrinking rounds down.
	var next int
	switch {
	case rate >= excellentRate:
		next = min(o.maxBatchSize, (cur*12+9)/10)
	case rate >= goodRate:
		next = min(o.maxBatchSize, (cur*11+9)/10)
	case rate >= poorRate:
		next = max(o.minBatchSize, cur*8/10)
	default:
		next = max(o.minBatchSize, cur/2)
	}
	o.adaptiveBatchSize = next
}

// GetEffectiveBatchSize returns the batch size used for planning, recomputing the
// adaptive size first when enough history exists.
func (o *Optimizer) GetEffectiveBatchSize() int {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.adaptive {
		return o.maxBatchSize
	}
	if o.history.len() >= adaptiveThreshold {
		o.updateAdaptiveBatchSizeLocked()
	}
	return max(o.minBatchSize, min(o.adaptiveBatchSize, o.maxBatchSize))
}

// GetCurrentAdaptiveBatchSize returns the adaptive ceiling without recomputing it.
func (o *Optimizer) GetCurrentAdaptiveBatchSize() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.adaptiveBatchSize
}

// GetRecommendedBatchSize suggests a batch size from the lifetime success rate. It is
// advisory and does not change the adaptive size. With no batches executed yet the
// maximum is recommended.
func (o *Optimizer) GetRecommendedBatchSize() int {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.stats.TotalBatches == 0 {
		return o.maxBatchSize
	}

	rate := float64(o.stats.SuccessfulBatches) / float64(o.stats.TotalBatches)
	switch {
	case rate >= recommendFullRate:
		return o.maxBatchSize
	case rate >= recommendHalfRate:
		return max(o.minBatchSize, o.maxBatchSize/2)
	default:
		return min(conservativeSize, o.maxBatchSize)
	}
}

// ResetAdaptiveBatchSize clears the history and restores the maximum batch size.
func (o *Optimizer) ResetAdaptiveBatchSize() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.resetAdaptiveLocked()
}

func (o *Optimizer) resetAdaptiveLocked() {
	o.history.reset()
	o.adaptiveBatchSize = o.maxBatchSize
}

// GetBatchHistory returns a copy of the recorded outcomes, oldest first. A positive limit
// keeps only the most recent limit entries.
func (o *Optimizer) GetBatchHistory(limit int) []HistoryEntry {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.history.recent(limit)
}
