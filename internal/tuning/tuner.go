package tuning

import (
	"errors"
)

// Tuner adapts a FileStore to the scanner: it supplies the starting batch size of
// a device and records the size the scan ended with.
type Tuner struct {
	store  *FileStore
	unitID int
}

// NewTuner returns a Tuner for devices addressed with unitID.
func NewTuner(store *FileStore, unitID int) *Tuner {
	return &Tuner{store: store, unitID: unitID}
}

// InitialBatchSize returns the remembered adaptive size of device, clamped to
// maxBatchSize. The second value is false when nothing usable is stored.
func (t *Tuner) InitialBatchSize(device string, maxBatchSize int) (int, bool) {
	entry, err := t.store.Get(Key(device, t.unitID))
	if err != nil || entry.AdaptiveBatchSize < 1 {
		return 0, false
	}
	return min(entry.AdaptiveBatchSize, maxBatchSize), true
}

// Remember stores the sizes a scan of device ended with.
func (t *Tuner) Remember(device, sessionID string, maxBatchSize, adaptive, recommended int) error {
	if adaptive < 1 {
		return errors.New("adaptive batch size must be positive")
	}
	return t.store.Set(Entry{
		Key:                  Key(device, t.unitID),
		Device:               device,
		UnitID:               t.unitID,
		MaxBatchSize:         maxBatchSize,
		AdaptiveBatchSize:    adaptive,
		RecommendedBatchSize: recommended,
		SessionID:            sessionID,
	})
}
