// Package batch implements the adaptive batch engine used to scan Modbus registers.
//
// An Optimizer owns one register.Reader (one wire connection to one device) and reads
// address sets through it with as few requests as possible:
//   - Planning: addresses are sorted and grouped into runs of consecutive addresses,
//     each no longer than the current effective batch size (CreateBatches).
//   - Execution: each run is read with one grouped request. If the request fails, or
//     any register in the response is inaccessible, every address in the run is re-read
//     individually and the individual results are authoritative (ExecuteBatch).
//   - Adaptation: the outcome of every batch is recorded in a bounded history. Once
//     enough history exists, the success rate of the recent window grows or shrinks the
//     batch-size ceiling, shrinking faster than it grows.
//   - Statistics: cumulative counters, efficiency and per-size success rates.
//
// Read failures are data, never errors: ExecuteBatch and ReadOptimizedBatches always
// return one register.Info per requested address.
//
// Batches run sequentially. An Optimizer must be driven by one goroutine at a time;
// its accessors may be called concurrently, e.g. from a progress reporter.
//
// Progress is a thread-safe tracker for long scans built on top of the optimizer.
package batch
