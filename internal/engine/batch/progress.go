package batch

import (
	"sync"
	"time"
)

// Progress tracks a scan across many chunks of addresses.
// It provides thread-safe access to progress metrics for UI updates.
type Progress struct {
	// Device names the scanned device.
	Device string

	// TotalRegisters is the number of addresses the scan will read.
	TotalRegisters int

	// ScannedRegisters is the number of addresses read so far.
	ScannedRegisters int

	// AccessibleRegisters is the number of scanned addresses that answered.
	AccessibleRegisters int

	// TotalChunks is the number of chunks in the scan plan.
	TotalChunks int

	// ScannedChunks is the number of chunks completed.
	ScannedChunks int

	// StartTime is when scanning started.
	StartTime time.Time

	// LastUpdateTime is when progress was last updated.
	LastUpdateTime time.Time

	// mu protects concurrent access to progress fields.
	mu sync.RWMutex
}

// NewProgress creates a new progress tracker.
func NewProgress(device string, totalRegisters, totalChunks int) *Progress {
	now := time.Now()
	return &Progress{
		Device:         device,
		TotalRegisters: totalRegisters,
		TotalChunks:    totalChunks,
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// AddChunk records a completed chunk of scanned registers, accessible of which answered.
func (p *Progress) AddChunk(scanned, accessible int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.ScannedRegisters += scanned
	p.AccessibleRegisters += accessible
	p.ScannedChunks++
	p.LastUpdateTime = time.Now()
}

// PercentComplete returns the completion percentage (0-100).
func (p *Progress) PercentComplete() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.percentCompleteUnsafe()
}

// IsComplete returns true if all registers have been scanned.
func (p *Progress) IsComplete() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.ScannedRegisters >= p.TotalRegisters
}

// EstimatedTimeRemaining estimates the remaining scan time from the rate so far.
// Returns 0 if nothing has been scanned yet.
func (p *Progress) EstimatedTimeRemaining() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.estimatedTimeRemainingUnsafe()
}

// RegistersPerSecond returns the scan rate.
func (p *Progress) RegistersPerSecond() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.registersPerSecondUnsafe()
}

// Snapshot returns a thread-safe copy of the current progress state.
func (p *Progress) Snapshot() ProgressSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return ProgressSnapshot{
		Device:              p.Device,
		TotalRegisters:      p.TotalRegisters,
		ScannedRegisters:    p.ScannedRegisters,
		AccessibleRegisters: p.AccessibleRegisters,
		TotalChunks:         p.TotalChunks,
		ScannedChunks:       p.ScannedChunks,
		StartTime:           p.StartTime,
		LastUpdateTime:      p.LastUpdateTime,
		PercentComplete:     p.percentCompleteUnsafe(),
		ElapsedTime:         time.Since(p.StartTime),
		RegistersPerSecond:  p.registersPerSecondUnsafe(),
		EstimatedRemaining:  p.estimatedTimeRemainingUnsafe(),
	}
}

// ProgressSnapshot is an immutable snapshot of progress state.
type ProgressSnapshot struct {
	Device              string
	TotalRegisters      int
	ScannedRegisters    int
	AccessibleRegisters int
	TotalChunks         int
	ScannedChunks       int
	StartTime           time.Time
	LastUpdateTime      time.Time
	PercentComplete     float64
	ElapsedTime         time.Duration
	RegistersPerSecond  float64
	EstimatedRemaining  time.Duration
}

// percentCompleteUnsafe calculates percent complete without locking.
// Should only be called when already holding the lock.
func (p *Progress) percentCompleteUnsafe() float64 {
	if p.TotalRegisters == 0 {
		return 0
	}
	return (float64(p.ScannedRegisters) / float64(p.TotalRegisters)) * percentMultiplier
}

func (p *Progress) registersPerSecondUnsafe() float64 {
	elapsed := time.Since(p.StartTime).Seconds()
	if elapsed == 0 {
		return 0
	}
	return float64(p.ScannedRegisters) / elapsed
}

func (p *Progress) estimatedTimeRemainingUnsafe() time.Duration {
	if p.ScannedRegisters == 0 {
		return 0
	}
	elapsed := time.Since(p.StartTime)
	perRegister := elapsed / time.Duration(p.ScannedRegisters)
	remaining := max(0, p.TotalRegisters-p.ScannedRegisters)
	return perRegister * time.Duration(remaining)
}

// Reset resets the progress tracker to initial state.
func (p *Progress) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	p.ScannedRegisters = 0
	p.AccessibleRegisters = 0
	p.ScannedChunks = 0
	p.StartTime = now
	p.LastUpdateTime = now
}
