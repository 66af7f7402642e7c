// Package output renders scan results as a table, JSON or CSV.
package output

import (
	"strconv"
	"time"

	"github.com/rshade/regscan/internal/engine/batch"
	"github.com/rshade/regscan/internal/register"
	"github.com/rshade/regscan/internal/scanner"
)

// Document is the JSON form of one device scan. It is also the MQTT payload.
type Document struct {
	SessionID  string          `json:"session_id"`
	Device     string          `json:"device"`
	StartedAt  time.Time       `json:"started_at"`
	DurationMS int64           `json:"duration_ms"`
	Summary    Summary         `json:"summary"`
	Registers  []register.Info `json:"registers"`
	Stats      batch.Stats     `json:"stats"`

	// StatsByFunctionCode is keyed by the decimal function code.
	StatsByFunctionCode map[string]batch.Stats `json:"stats_by_function_code,omitempty"`

	Adaptive AdaptiveState `json:"adaptive"`
	Error    string        `json:"error,omitempty"`
}

// Summary holds the register counts of a scan.
type Summary struct {
	Scanned      int `json:"scanned"`
	Accessible   int `json:"accessible"`
	Inaccessible int `json:"inaccessible"`
}

// AdaptiveState reports the optimizer's batch sizing at the end of a scan.
type AdaptiveState struct {
	MaxBatchSize         int `json:"max_batch_size"`
	CurrentBatchSize     int `json:"current_batch_size"`
	RecommendedBatchSize int `json:"recommended_batch_size"`
}

// NewDocument converts a scan result into its JSON document.
func NewDocument(r *scanner.Result) Document {
	regs := r.Registers
	if regs == nil {
		regs = []register.Info{}
	}

	doc := Document{
		SessionID:  r.SessionID,
		Device:     r.Device,
		StartedAt:  r.StartedAt,
		DurationMS: r.Duration.Milliseconds(),
		Summary: Summary{
			Scanned:      r.TotalRegisters,
			Accessible:   r.AccessibleRegisters,
			Inaccessible: r.TotalRegisters - r.AccessibleRegisters,
		},
		Registers: regs,
		Stats:     r.Stats,
		Adaptive: AdaptiveState{
			MaxBatchSize:         r.MaxBatchSize,
			CurrentBatchSize:     r.AdaptiveBatchSize,
			RecommendedBatchSize: r.RecommendedBatchSize,
		},
	}
	if doc.Stats.SuccessRateBySize == nil {
		doc.Stats.SuccessRateBySize = map[int]batch.SizeStats{}
	}
	if len(r.StatsByFunctionCode) > 0 {
		doc.StatsByFunctionCode = make(map[string]batch.Stats, len(r.StatsByFunctionCode))
		for fc, s := range r.StatsByFunctionCode {
			doc.StatsByFunctionCode[strconv.Itoa(int(fc))] = s
		}
	}
	if r.Err != nil {
		doc.Error = r.Err.Error()
	}
	return doc
}
