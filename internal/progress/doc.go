// Package progress carries per-stage events of clip runs. A Hub batches
// events on a background goroutine and fans them out to sinks, so the
// pipeline never waits on logging or metrics back ends.
package progress
