package repositories

import (
	"errors"
	"fmt"
	"time"

	"ecommerce/internal/models"
	"ecommerce/pkg/outbox"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GORMOrderRepository is a GORM implementation of OrderRepository.
type GORMOrderRepository struct {
	db *gorm.DB
}

// NewGORMOrderRepository creates a new instance of GORMOrderRepository.
func NewGORMOrderRepository(db *gorm.DB) *GORMOrderRepository {
	return &GORMOrderRepository{
		db: db,
	}
}

// GetAll retrieves all orders with their items, most recent first.
func (r *GORMOrderRepository) GetAll() ([]models.Order, error) {
	var orders []models.Order
	err := r.db.Preload("Items").Order("created_at desc").Find(&orders).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get all orders: %w", err)
	}
	return orders, nil
}

// GetByCustomer retrieves a customer's orders with their items, most recent
// first.
func (r *GORMOrderRepository) GetByCustomer(customerID string) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.Preload("Items").
		Where("customer_id = ?", customerID).
		Order("created_at desc").
		Find(&orders).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get orders for customer %s: %w", customerID, err)
	}
	return orders, nil
}

// GetByID retrieves a single order with its items.
func (r *GORMOrderRepository) GetByID(id string) (*models.Order, error) {
	var order models.Order
	err := r.db.Preload("Items").First(&order, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("order with ID %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get order by ID %s: %w", id, err)
	}
	return &order, nil
}

// Create persists a new order and its items, assigning IDs where missing.
func (r *GORMOrderRepository) Create(order *models.Order) error {
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
	if err := r.db.Create(order).Error; err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

// Update saves the order and its items.
func (r *GORMOrderRepository) Update(order *models.Order) error {
	return r.save(r.db, order)
}

// UpdateWithOutbox saves the order, its items and the outbox event in a
// single transaction.
func (r *GORMOrderRepository) UpdateWithOutbox(order *models.Order, evt *outbox.Event) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := r.save(tx, order); err != nil {
			return err
		}
		if err := tx.Create(evt).Error; err != nil {
			return fmt.Errorf("failed to append outbox event for order %s: %w", order.ID, err)
		}
		return nil
	})
}

func (r *GORMOrderRepository) save(tx *gorm.DB, order *models.Order) error {
	res := tx.Session(&gorm.Session{FullSaveAssociations: true}).Save(order)
	if res.Error != nil {
		return fmt.Errorf("failed to update order %s: %w", order.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("order with ID %s not found for update: %w", order.ID, ErrNotFound)
	}
	return nil
}
