package outbox

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// GORMStore is a database-backed Store. Events appended through an order
// repository transaction land in the same table this store polls.
type GORMStore struct {
	db *gorm.DB
}

// NewGORMStore creates a new instance of GORMStore.
func NewGORMStore(db *gorm.DB) *GORMStore {
	return &GORMStore{db: db}
}

// Append persists a new pending event.
func (s *GORMStore) Append(evt *Event) error {
	if err := s.db.Create(evt).Error; err != nil {
		return fmt.Errorf("failed to append outbox event: %w", err)
	}
	return nil
}

// PendingBatch returns up to limit pending events, oldest first.
func (s *GORMStore) PendingBatch(limit int) ([]Event, error) {
	var batch []Event
	err := s.db.
		Where("status = ?", StatusPending).
		Order("created_at asc").
		Limit(limit).
		Find(&batch).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load pending outbox events: %w", err)
	}
	return batch, nil
}

// MarkSent flags the given events as delivered.
func (s *GORMStore) MarkSent(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	now := time.Now()
	err := s.db.Model(&Event{}).
		Where("id IN ?", ids).
		Updates(map[string]interface{}{"status": StatusSent, "sent_at": &now}).Error
	if err != nil {
		return fmt.Errorf("failed to mark outbox events sent: %w", err)
	}
	return nil
}

// MarkFailed records a delivery failure. The event stays pending until it
// exhausts its retry budget, then it is parked as failed.
func (s *GORMStore) MarkFailed(id string, errMsg string) error {
	var evt Event
	if err := s.db.First(&evt, "id = ?", id).Error; err != nil {
		return fmt.Errorf("failed to load outbox event %s: %w", id, err)
	}
	evt.RetryCount++
	evt.LastError = errMsg
	if evt.RetryCount >= maxAttempts {
		evt.Status = StatusFailed
	}
	if err := s.db.Save(&evt).Error; err != nil {
		return fmt.Errorf("failed to mark outbox event %s failed: %w", id, err)
	}
	return nil
}
