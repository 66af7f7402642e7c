// Package scanner drives a full register scan of one or more devices.
//
// A Plan names the function codes and the inclusive address range to scan. The range
// is split into fixed-size chunks per function code; each chunk is handed to the
// device's batch.Optimizer, which plans and executes the actual Modbus requests.
// Chunks run sequentially so the optimizer's adaptive state evolves in request order,
// progress is reported after every chunk and cancellation is honoured between chunks.
//
// ScanDevices runs one Scanner per device concurrently, each with its own connection
// and optimizer, bounded by a concurrency limit.
package scanner
