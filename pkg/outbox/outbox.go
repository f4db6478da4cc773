package outbox

import (
	"time"

	"github.com/google/uuid"
)

// Status is the delivery state of an outbox event.
type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// maxAttempts is how many times a store lets the relay retry an event
// before parking it as failed.
const maxAttempts = 5

// Event is an announcement persisted in the same transaction as the state
// change that produced it, to be delivered asynchronously by the Relay.
type Event struct {
	ID         string    `gorm:"primaryKey;type:varchar(36)"`
	Exchange   string    `gorm:"type:varchar(100)"`
	RoutingKey string    `gorm:"type:varchar(100)"`
	Payload    []byte
	Status     Status `gorm:"type:varchar(16);index"`
	RetryCount int
	LastError  string
	CreatedAt  time.Time
	SentAt     *time.Time
}

// TableName keeps the outbox in its own table regardless of GORM naming.
func (Event) TableName() string { return "outbox_events" }

// NewEvent builds a pending outbox event for the given exchange/routing key.
func NewEvent(exchange, routingKey string, payload []byte) *Event {
	return &Event{
		ID:         uuid.New().String(),
		Exchange:   exchange,
		RoutingKey: routingKey,
		Payload:    payload,
		Status:     StatusPending,
		CreatedAt:  time.Now(),
	}
}

// Store persists outbox events and hands pending batches to the relay.
type Store interface {
	Append(evt *Event) error
	PendingBatch(limit int) ([]Event, error)
	MarkSent(ids []string) error
	MarkFailed(id string, errMsg string) error
}
