package bus

import (
	"context"

	"storefront-pipeline/shared/events"
	"storefront-pipeline/shared/mqx"
)

// KafkaMirror returns a listener that copies each event to topic, keyed by session so one
// shopper's events stay on one partition. It is for downstream consumers that want the raw
// stream; the pipeline itself only reads events:queue.
func KafkaMirror(pub mqx.Publisher, topic string) Listener {
	return func(ctx context.Context, e events.Event) error {
		key := e.SessionID
		if key == "" {
			key = e.ID
		}
		return mqx.PublishJSON(ctx, pub, topic, key, e, map[string]string{
			"event-type": string(e.Type),
			"event-id":   e.ID,
		})
	}
}

// OnAll registers fn for every known event type and returns the subscriptions in AllTypes order.
func (b *Bus) OnAll(fn Listener) []Subscription {
	types := events.AllTypes()
	subs := make([]Subscription, 0, len(types))
	for _, t := range types {
		subs = append(subs, b.On(t, fn))
	}
	return subs
}
