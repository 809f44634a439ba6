package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	defaultBufferSize  = 4096
	defaultMaxBatch    = 256
	defaultSinkTimeout = 5 * time.Second
	dropLogInterval    = 5 * time.Second
)

// Sink consumes batches of events. Batches preserve emission order.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter publishes single events.
type Emitter interface {
	Emit(evt Event)
}

// SinkFunc adapts a per-event callback to Sink.
type SinkFunc func(Event)

// Consume implements Sink.
func (f SinkFunc) Consume(_ context.Context, batch []Event) error {
	for _, evt := range batch {
		f(evt)
	}
	return nil
}

// Close implements Sink.
func (f SinkFunc) Close(context.Context) error { return nil }

// BusConfig controls buffering of the Bus.
type BusConfig struct {
	BufferSize  int
	MaxBatch    int
	SinkTimeout time.Duration
}

// Bus fans events out to sinks from a single goroutine, so sinks observe
// events in emission order and may call back into the emitter without
// deadlocking. Emit never blocks; events are dropped when the buffer is full.
type Bus struct {
	cfg     BusConfig
	events  chan Event
	stopCh  chan struct{}
	doneCh  chan struct{}
	dropped atomic.Int64
	lastLog atomic.Int64
	closed  atomic.Bool

	mu    sync.RWMutex
	sinks []Sink

	closeOnce sync.Once
	closeCtx  context.Context
}

// NewBus starts a bus delivering to sinks.
func NewBus(cfg BusConfig, sinks ...Sink) *Bus {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = defaultMaxBatch
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	b := &Bus{
		cfg:    cfg,
		events: make(chan Event, cfg.BufferSize),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		sinks:  append([]Sink(nil), sinks...),
	}
	go b.run()
	return b
}

// Subscribe adds a sink. Events emitted before the call are not replayed.
func (b *Bus) Subscribe(s Sink) {
	if s == nil {
		return
	}
	b.mu.Lock()
	b.sinks = append(b.sinks, s)
	b.mu.Unlock()
}

// Emit enqueues evt for delivery.
func (b *Bus) Emit(evt Event) {
	if b == nil || b.closed.Load() {
		return
	}
	if evt.Time.IsZero() {
		evt.Time = time.Now()
	}
	select {
	case b.events <- evt:
	default:
		n := b.dropped.Add(1)
		now := time.Now().UnixNano()
		last := b.lastLog.Load()
		if now-last >= dropLogInterval.Nanoseconds() && b.lastLog.CompareAndSwap(last, now) {
			log.Warn().Int64("dropped", n).Str("event", string(evt.Name)).Msg("Events dropped due to backpressure")
		}
	}
}

// Dropped returns how many events were discarded because the buffer was full.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Close delivers buffered events, closes the sinks and waits for the
// delivery goroutine. Safe to call multiple times.
func (b *Bus) Close(ctx context.Context) error {
	if b == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		b.closeCtx = ctx
		close(b.stopCh)
	})
	select {
	case <-b.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event bus close wait: %w", ctx.Err())
	}
}

func (b *Bus) run() {
	defer close(b.doneCh)
	batch := make([]Event, 0, b.cfg.MaxBatch)
	for {
		select {
		case evt := <-b.events:
			batch = append(batch[:0], evt)
			batch = b.drain(batch)
			b.flush(batch)
		case <-b.stopCh:
			for {
				batch = b.drain(batch[:0])
				if len(batch) == 0 {
					break
				}
				b.flush(batch)
			}
			b.closeSinks()
			return
		}
	}
}

// drain appends whatever is already buffered, up to MaxBatch.
func (b *Bus) drain(batch []Event) []Event {
	for len(batch) < b.cfg.MaxBatch {
		select {
		case evt := <-b.events:
			batch = append(batch, evt)
		default:
			return batch
		}
	}
	return batch
}

func (b *Bus) flush(batch []Event) {
	batch = append([]Event(nil), batch...)
	b.mu.RLock()
	sinks := append([]Sink(nil), b.sinks...)
	b.mu.RUnlock()

	for _, sink := range sinks {
		ctx, cancel := context.WithTimeout(context.Background(), b.cfg.SinkTimeout)
		if err := b.consume(ctx, sink, batch); err != nil {
			log.Warn().Err(err).Msg("Event sink consume failed")
		}
		cancel()
	}
}

// consume isolates sink panics from the delivery goroutine.
func (b *Bus) consume(ctx context.Context, sink Sink, batch []Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("event sink panic: %v", r)
		}
	}()
	return sink.Consume(ctx, batch)
}

func (b *Bus) closeSinks() {
	ctx := b.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	b.mu.RLock()
	sinks := append([]Sink(nil), b.sinks...)
	b.mu.RUnlock()
	for _, sink := range sinks {
		if err := sink.Close(ctx); err != nil {
			log.Warn().Err(err).Msg("Event sink close failed")
		}
	}
}
