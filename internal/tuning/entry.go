package tuning

import (
	"time"
)

// Entry is the remembered batch sizing of one device.
type Entry struct {
	// Key identifies the device and unit id (see Key).
	Key    string `json:"key"`
	Device string `json:"device"`
	UnitID int    `json:"unit_id"`

	MaxBatchSize         int `json:"max_batch_size"`
	AdaptiveBatchSize    int `json:"adaptive_batch_size"`
	RecommendedBatchSize int `json:"recommended_batch_size"`

	// SessionID is the scan that produced the entry.
	SessionID string `json:"session_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IsExpired reports whether the entry is past its expiry at now.
func (e *Entry) IsExpired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// Age returns how long ago the entry was written.
func (e *Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.CreatedAt)
}
