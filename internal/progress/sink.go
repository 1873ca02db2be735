package progress

import "context"

// Sink consumes batches of run events. The Hub calls Consume from a single
// goroutine with a per-sink deadline, and Close once on shutdown.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// SinkFunc adapts a function into a Sink with a no-op Close.
type SinkFunc func(ctx context.Context, batch []Event) error

// Consume calls f.
func (f SinkFunc) Consume(ctx context.Context, batch []Event) error {
	return f(ctx, batch)
}

// Close does nothing.
func (SinkFunc) Close(context.Context) error {
	return nil
}

// Emitter is what the pipeline and its workers report through. A nil
// Emitter field means events are not collected.
type Emitter interface {
	Emit(evt Event)
}
