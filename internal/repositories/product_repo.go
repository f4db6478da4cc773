package repositories

import (
	"ecommerce/internal/models"
)

// ProductRepository defines the interface for product data access.
// ReserveStock is the single conditional-decrement operation guarding
// availability: it succeeds only when the full quantity is in stock.
type ProductRepository interface {
	GetAll() ([]models.Product, error)
	GetByID(id string) (*models.Product, error)
	Create(product *models.Product) error
	Update(product *models.Product) error
	Delete(id string) error
	ReserveStock(id string, quantity int) error
	ReleaseStock(id string, quantity int) error
	// SetStock overwrites the stock level and returns the previous value.
	SetStock(id string, quantity int) (int, error)
}
