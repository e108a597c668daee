// Package bus validates storefront events, appends them to the durable event queue and then
// runs any in-process listeners registered for the event type.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"storefront-pipeline/shared/events"
	"storefront-pipeline/shared/logx"
	"storefront-pipeline/shared/metricsx"
	"storefront-pipeline/shared/queuex"
)

// Listener runs synchronously inside Emit. Slow listeners delay the caller; listeners that
// need decoupling must hand the work off themselves.
type Listener func(ctx context.Context, e events.Event) error

// Subscription identifies one registration made with On.
type Subscription struct {
	id  uint64
	typ events.Type
}

type registration struct {
	id uint64
	fn Listener
}

type Bus struct {
	store queuex.Store
	log   logx.Logger

	mu        sync.RWMutex
	nextID    uint64
	listeners map[events.Type][]registration
}

func New(store queuex.Store, log logx.Logger) *Bus {
	return &Bus{
		store:     store,
		log:       log,
		listeners: map[events.Type][]registration{},
	}
}

// Emit is best-effort publish: failures are logged and never returned to the caller.
func (b *Bus) Emit(ctx context.Context, e events.Event) {
	_ = b.Publish(ctx, e)
}

// Publish behaves like Emit but reports why an event was not queued.
// Listener failures are never reported; by then the event is already durable.
func (b *Bus) Publish(ctx context.Context, e events.Event) error {
	ctx, span := otel.Tracer("bus").Start(ctx, "bus.emit")
	span.SetAttributes(
		attribute.String("event.id", e.ID),
		attribute.String("event.type", string(e.Type)),
	)
	defer span.End()

	if err := e.Validate(); err != nil {
		metricsx.IncEventEmitted(string(e.Type), "invalid")
		span.SetStatus(codes.Error, err.Error())
		b.log.Error(ctx, "event_invalid", "event dropped",
			slog.String("error_code", "VALIDATION_ERROR"),
			slog.String("error", err.Error()),
			slog.String("event_id", e.ID),
			slog.String("event_type", string(e.Type)),
		)
		return err
	}
	raw, err := events.Encode(e)
	if err != nil {
		metricsx.IncEventEmitted(string(e.Type), "encode_failed")
		span.RecordError(err)
		b.log.Error(ctx, "event_encode_failed", "event dropped",
			slog.String("error_code", "INTERNAL_ERROR"),
			slog.String("error", err.Error()),
			slog.String("event_id", e.ID),
		)
		return fmt.Errorf("encode event %s: %w", e.ID, err)
	}
	if err := b.store.Push(ctx, queuex.EventsQueue, raw); err != nil {
		metricsx.IncEventEmitted(string(e.Type), "store_failed")
		metricsx.IncStoreError("push")
		span.RecordError(err)
		b.log.Error(ctx, "event_enqueue_failed", "event not queued",
			slog.String("error_code", "STORE_UNAVAILABLE"),
			slog.String("error", err.Error()),
			slog.String("event_id", e.ID),
			slog.String("event_type", string(e.Type)),
		)
		return fmt.Errorf("enqueue event %s: %w", e.ID, err)
	}
	metricsx.IncEventEmitted(string(e.Type), "queued")
	b.log.Debug(ctx, "event_queued", "event queued",
		slog.String("event_id", e.ID),
		slog.String("event_type", string(e.Type)),
	)

	b.dispatch(ctx, e)
	return nil
}

// On registers fn for events of type t. The same func may be registered more than once.
func (b *Bus) On(t events.Type, fn Listener) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := Subscription{id: b.nextID, typ: t}
	b.listeners[t] = append(b.listeners[t], registration{id: sub.id, fn: fn})
	return sub
}

// Off removes the registration sub made for type t. It removes at most one entry.
func (b *Bus) Off(t events.Type, sub Subscription) bool {
	if sub.typ != t {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	regs := b.listeners[t]
	for i, r := range regs {
		if r.id != sub.id {
			continue
		}
		next := make([]registration, 0, len(regs)-1)
		next = append(next, regs[:i]...)
		next = append(next, regs[i+1:]...)
		if len(next) == 0 {
			delete(b.listeners, t)
		} else {
			b.listeners[t] = next
		}
		return true
	}
	return false
}

// ListenerCount is used by tooling and tests.
func (b *Bus) ListenerCount(t events.Type) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners[t])
}

func (b *Bus) dispatch(ctx context.Context, e events.Event) {
	b.mu.RLock()
	regs := b.listeners[e.Type]
	b.mu.RUnlock()
	// regs is never mutated in place, so it is safe to range without the lock.
	for _, r := range regs {
		b.invoke(ctx, e, r)
	}
}

func (b *Bus) invoke(ctx context.Context, e events.Event, r registration) {
	defer func() {
		if rec := recover(); rec != nil {
			metricsx.IncListenerFailure(string(e.Type))
			b.log.Error(ctx, "listener_panic", "listener panic recovered",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.Any("error", rec),
				slog.String("event_id", e.ID),
				slog.String("event_type", string(e.Type)),
				slog.Uint64("listener_id", r.id),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()
	if err := r.fn(ctx, e); err != nil {
		metricsx.IncListenerFailure(string(e.Type))
		b.log.Warn(ctx, "listener_failed", "listener returned error",
			slog.String("error_code", "LISTENER_ERROR"),
			slog.String("error", err.Error()),
			slog.String("event_id", e.ID),
			slog.String("event_type", string(e.Type)),
			slog.Uint64("listener_id", r.id),
		)
	}
}
