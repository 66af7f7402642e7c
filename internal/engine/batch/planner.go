package batch

import (
	"slices"

	"github.com/rshade/regscan/internal/register"
)

// CreateBatches groups addresses into the fewest batches such that each batch covers
// strictly consecutive addresses and holds at most GetEffectiveBatchSize registers.
//
// The input is not modified. Duplicates are not removed; a repeated address breaks the
// run and starts a new batch.
func (o *Optimizer) CreateBatches(addresses []int, fc register.FunctionCode) []register.Batch {
	if len(addresses) == 0 {
		return nil
	}

	limit := o.GetEffectiveBatchSize()
	sorted := slices.Clone(addresses)
	slices.Sort(sorted)

	var batches []register.Batch
	start, count := sorted[0], 1
	for _, addr := range sorted[1:] {
		if addr == start+count && count < limit {
			count++
			continue
		}
		batches = append(batches, register.Batch{StartAddress: start, Count: count, FunctionCode: fc})
		start, count = addr, 1
	}
	batches = append(batches, register.Batch{StartAddress: start, Count: count, FunctionCode: fc})

	return batches
}

// AddressRange returns the addresses from start to end inclusive. It returns nil when
// end < start.
func AddressRange(start, end int) []int {
	if end < start {
		return nil
	}
	addrs := make([]int, 0, end-start+1)
	for a := start; a <= end; a++ {
		addrs = append(addrs, a)
	}
	return addrs
}
