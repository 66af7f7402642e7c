// Package tuning remembers the batch size each device converged to, so the next
// scan of the same device starts there instead of at the protocol maximum.
//
// Entries are JSON files in ~/.regscan/cache/, one per device and unit id,
// written atomically and expired after a configurable TTL.
package tuning
