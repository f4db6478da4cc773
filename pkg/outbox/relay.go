package outbox

import (
	"context"
	"log"
	"time"
)

// Publisher delivers an event payload to the broker.
type Publisher interface {
	Publish(exchange, routingKey string, body []byte) error
}

// Relay polls the store for pending events and delivers them through the
// publisher. Delivery is at-least-once: an event is only marked sent after
// a successful publish.
type Relay struct {
	store     Store
	publisher Publisher
	interval  time.Duration
	batchSize int
}

// NewRelay creates a new Relay polling at the given interval.
func NewRelay(store Store, publisher Publisher, interval time.Duration) *Relay {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Relay{
		store:     store,
		publisher: publisher,
		interval:  interval,
		batchSize: 100,
	}
}

// Run delivers pending events until the context is cancelled.
func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Outbox relay stopping")
			return
		case <-ticker.C:
			r.DeliverPending()
		}
	}
}

// DeliverPending drains one batch of pending events. Run calls this on
// every tick; callers can also invoke it directly to flush at shutdown.
func (r *Relay) DeliverPending() {
	batch, err := r.store.PendingBatch(r.batchSize)
	if err != nil {
		log.Printf("Outbox relay failed to load pending events: %v", err)
		return
	}
	if len(batch) == 0 {
		return
	}

	sent := make([]string, 0, len(batch))
	for _, evt := range batch {
		if err := r.publisher.Publish(evt.Exchange, evt.RoutingKey, evt.Payload); err != nil {
			log.Printf("Outbox relay failed to publish event %s (%s): %v", evt.ID, evt.RoutingKey, err)
			if markErr := r.store.MarkFailed(evt.ID, err.Error()); markErr != nil {
				log.Printf("Outbox relay failed to record failure for event %s: %v", evt.ID, markErr)
			}
			continue
		}
		sent = append(sent, evt.ID)
	}
	if len(sent) > 0 {
		if err := r.store.MarkSent(sent); err != nil {
			log.Printf("Outbox relay failed to mark events sent: %v", err)
		}
	}
}
