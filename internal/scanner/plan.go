package scanner

import (
	"errors"
	"fmt"

	"github.com/rshade/regscan/internal/config"
	"github.com/rshade/regscan/internal/register"
)

// DefaultChunkSize is the number of addresses handed to the optimizer at once.
const DefaultChunkSize = 1000

// ErrInvalidPlan is returned when a Plan cannot be executed.
var ErrInvalidPlan = errors.New("invalid scan plan")

// Plan describes what to scan on a device.
type Plan struct {
	FunctionCodes  []register.FunctionCode
	StartAddress   int
	EndAddress     int
	ChunkSize      int
	AccessibleOnly bool
}

// Chunk is a contiguous, inclusive address range read with one function code.
type Chunk struct {
	FunctionCode register.FunctionCode
	Start        int
	End          int
}

// Len returns the number of addresses in the chunk.
func (c Chunk) Len() int {
	return c.End - c.Start + 1
}

// PlanFromConfig builds a Plan from the scan section of the configuration.
func PlanFromConfig(sc config.ScanConfig) Plan {
	return Plan{
		FunctionCodes:  sc.FunctionCodeList(),
		StartAddress:   sc.StartAddress,
		EndAddress:     sc.EndAddress,
		ChunkSize:      sc.ChunkSize,
		AccessibleOnly: sc.AccessibleOnly,
	}
}

// Validate checks the plan against the Modbus address space.
func (p Plan) Validate() error {
	if len(p.FunctionCodes) == 0 {
		return fmt.Errorf("%w: no function codes", ErrInvalidPlan)
	}
	for _, fc := range p.FunctionCodes {
		if !fc.Valid() {
			return fmt.Errorf("%w: %w: got %d", ErrInvalidPlan, register.ErrInvalidFunctionCode, int(fc))
		}
	}
	if p.StartAddress < 0 || p.EndAddress > register.MaxAddress || p.StartAddress > p.EndAddress {
		return fmt.Errorf("%w: address range %d..%d must lie within 0..%d",
			ErrInvalidPlan, p.StartAddress, p.EndAddress, register.MaxAddress)
	}
	if p.ChunkSize < 0 {
		return fmt.Errorf("%w: chunk size must not be negative, got %d", ErrInvalidPlan, p.ChunkSize)
	}
	return nil
}

// TotalRegisters returns the number of addresses the plan reads across all function codes.
func (p Plan) TotalRegisters() int {
	if p.EndAddress < p.StartAddress {
		return 0
	}
	return (p.EndAddress - p.StartAddress + 1) * len(p.FunctionCodes)
}

// Chunks splits the plan into chunks, function code by function code, each chunk
// covering at most ChunkSize addresses. A zero ChunkSize selects DefaultChunkSize.
func (p Plan) Chunks() []Chunk {
	size := p.ChunkSize
	if size <= 0 {
		size = DefaultChunkSize
	}
	if p.EndAddress < p.StartAddress {
		return nil
	}

	span := p.EndAddress - p.StartAddress + 1
	perCode := span / size
	if span%size > 0 {
		perCode++
	}

	chunks := make([]Chunk, 0, perCode*len(p.FunctionCodes))
	for _, fc := range p.FunctionCodes {
		for start := p.StartAddress; start <= p.EndAddress; start += size {
			chunks = append(chunks, Chunk{
				FunctionCode: fc,
				Start:        start,
				End:          min(start+size-1, p.EndAddress),
			})
		}
	}
	return chunks
}
