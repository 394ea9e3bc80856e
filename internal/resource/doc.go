// Package resource governs the CPU the embedding pipeline may take from its
// host.
//
//	┌──────────────────────────────────────────────────────────┐
//	│                       Controller                         │
//	├──────────────────┬──────────────────┬────────────────────┤
//	│  Parallel loops  │  Background      │  Refinement rate   │
//	│  (worker count)  │  slots (sem)     │  (token bucket)    │
//	├──────────────────┼──────────────────┼────────────────────┤
//	│  Workers         │  AcquireBack-    │  WaitRow           │
//	│                  │  ground/Release  │  TryRow            │
//	└──────────────────┴──────────────────┴────────────────────┘
//
// Parallel loops (force computation, row calibration) split their work into
// Workers() chunks. Background refinement goroutines hold a slot from a
// weighted semaphore for their lifetime and may be throttled to a number of
// rows per second so the optimizer goroutine is never starved.
//
// All methods handle a nil Controller gracefully - they become no-ops.
package resource
