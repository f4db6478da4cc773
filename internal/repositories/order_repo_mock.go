package repositories

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"ecommerce/internal/models"
	"ecommerce/pkg/outbox"

	"github.com/google/uuid"
)

// MockOrderRepository is an in-memory implementation of OrderRepository.
type MockOrderRepository struct {
	orders map[string]models.Order
	mu     sync.RWMutex

	// Outbox, when set, receives events appended through UpdateWithOutbox.
	Outbox outbox.Store
}

// NewMockOrderRepository creates a new instance of MockOrderRepository.
func NewMockOrderRepository() *MockOrderRepository {
	return &MockOrderRepository{
		orders: make(map[string]models.Order),
	}
}

// GetAll returns all orders, most recent first.
func (r *MockOrderRepository) GetAll() ([]models.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	orderList := make([]models.Order, 0, len(r.orders))
	for _, order := range r.orders {
		orderList = append(orderList, order)
	}
	sortByCreatedAtDesc(orderList)
	return orderList, nil
}

// GetByCustomer returns a customer's orders, most recent first.
func (r *MockOrderRepository) GetByCustomer(customerID string) ([]models.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	orderList := make([]models.Order, 0)
	for _, order := range r.orders {
		if order.CustomerID == customerID {
			orderList = append(orderList, order)
		}
	}
	sortByCreatedAtDesc(orderList)
	return orderList, nil
}

// GetByID returns an order by its ID.
func (r *MockOrderRepository) GetByID(id string) (*models.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.orders[id]
	if !ok {
		return nil, fmt.Errorf("order with ID %s: %w", id, ErrNotFound)
	}
	return &order, nil
}

// Create adds a new order, assigning IDs where missing.
func (r *MockOrderRepository) Create(order *models.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if order.ID == "" {
		order.ID = uuid.New().String()
	}
	now := time.Now()
	order.CreatedAt = now
	order.UpdatedAt = now
	for i := range order.Items {
		if order.Items[i].ID == "" {
			order.Items[i].ID = uuid.New().String()
		}
		order.Items[i].OrderID = order.ID
	}
	r.orders[order.ID] = *order
	return nil
}

// Update replaces the stored order.
func (r *MockOrderRepository) Update(order *models.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.orders[order.ID]; !ok {
		return fmt.Errorf("order with ID %s not found for update: %w", order.ID, ErrNotFound)
	}
	r.orders[order.ID] = *order
	return nil
}

// UpdateWithOutbox replaces the stored order and appends the event to the
// attached outbox store. Without an attached store the event is dropped,
// which is only acceptable in tests that do not assert on delivery.
func (r *MockOrderRepository) UpdateWithOutbox(order *models.Order, evt *outbox.Event) error {
	if err := r.Update(order); err != nil {
		return err
	}
	if r.Outbox == nil {
		log.Printf("Mock order repository has no outbox store attached, dropping event %s", evt.ID)
		return nil
	}
	return r.Outbox.Append(evt)
}

func sortByCreatedAtDesc(orders []models.Order) {
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
}
