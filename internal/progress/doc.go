// Package progress provides the event primitives, non-blocking hub, and emitter
// interfaces the archive pipeline uses to report a build run. Events are
// batched on a background goroutine and fanned out to pluggable sinks such as
// the zap logger, Prometheus metrics, or Postgres.
package progress
