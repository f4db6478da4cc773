package repositories

import (
	"ecommerce/internal/models"
	"ecommerce/pkg/outbox"
)

// OrderRepository defines the interface for order data access. Listing
// operations return orders most-recent-first. Orders are never deleted;
// cancellation is a status change.
type OrderRepository interface {
	GetAll() ([]models.Order, error)
	GetByCustomer(customerID string) ([]models.Order, error)
	GetByID(id string) (*models.Order, error)
	Create(order *models.Order) error
	Update(order *models.Order) error
	// UpdateWithOutbox persists the order and the outbox event in the same
	// transaction, so a confirmed order can never lose its announcement.
	UpdateWithOutbox(order *models.Order, evt *outbox.Event) error
}
