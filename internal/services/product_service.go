package services

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"ecommerce/internal/events"
	"ecommerce/internal/models"
	"ecommerce/internal/repositories"
)

// ProductService handles business logic related to products, including the
// stock operations the order coordinator depends on.
type ProductService struct {
	repo      repositories.ProductRepository
	publisher EventPublisher
}

// NewProductService creates a new ProductService. The publisher may be nil
// when the broker is unavailable; stock events are then skipped.
func NewProductService(repo repositories.ProductRepository, publisher EventPublisher) *ProductService {
	return &ProductService{
		repo:      repo,
		publisher: publisher,
	}
}

// GetAllProducts retrieves all products.
func (s *ProductService) GetAllProducts() ([]models.Product, error) {
	return s.repo.GetAll()
}

// GetProductByID retrieves a single product by its ID.
func (s *ProductService) GetProductByID(id string) (*models.Product, error) {
	return s.repo.GetByID(id)
}

// CreateProduct creates a new product.
func (s *ProductService) CreateProduct(product *models.Product) error {
	return s.repo.Create(product)
}

// UpdateProduct updates an existing product.
func (s *ProductService) UpdateProduct(product *models.Product) error {
	return s.repo.Update(product)
}

// DeleteProduct deletes a product by its ID.
func (s *ProductService) DeleteProduct(id string) error {
	return s.repo.Delete(id)
}

// SetStock overwrites the stock level of a product and announces the
// change.
func (s *ProductService) SetStock(id string, quantity int) error {
	if quantity < 0 {
		return fmt.Errorf("stock quantity must not be negative: %w", ErrValidation)
	}
	previous, err := s.repo.SetStock(id, quantity)
	if err != nil {
		return err
	}
	log.Printf("Stock updated for product %s: %d -> %d", id, previous, quantity)
	if s.publisher != nil {
		if product, err := s.repo.GetByID(id); err == nil {
			s.publishStockUpdated(product, previous, quantity, "adjustment")
		}
	}
	return nil
}

// ReserveStock decrements stock iff the requested quantity is available.
// This is the single conditional operation backing the atomic consistency
// mode of order creation.
func (s *ProductService) ReserveStock(id string, quantity int) error {
	if quantity <= 0 {
		return fmt.Errorf("reserve quantity must be positive: %w", ErrValidation)
	}
	if err := s.repo.ReserveStock(id, quantity); err != nil {
		return err
	}
	log.Printf("Stock reserved for product %s: %d units", id, quantity)
	s.publishStockChange(id, -quantity, "sale")
	return nil
}

// ReleaseStock returns previously reserved stock.
func (s *ProductService) ReleaseStock(id string, quantity int) error {
	if quantity <= 0 {
		return fmt.Errorf("release quantity must be positive: %w", ErrValidation)
	}
	if err := s.repo.ReleaseStock(id, quantity); err != nil {
		return err
	}
	log.Printf("Stock released for product %s: %d units", id, quantity)
	s.publishStockChange(id, quantity, "restock")
	return nil
}

func (s *ProductService) publishStockChange(id string, change int, reason string) {
	if s.publisher == nil {
		return
	}
	product, err := s.repo.GetByID(id)
	if err != nil {
		log.Printf("Failed to load product %s for stock event: %v", id, err)
		return
	}
	s.publishStockUpdated(product, product.Stock-change, product.Stock, reason)
}

// publishStockUpdated announces a stock change best-effort; failures are
// logged and swallowed.
func (s *ProductService) publishStockUpdated(product *models.Product, previous, current int, reason string) {
	if s.publisher == nil {
		return
	}
	evt := events.StockUpdatedEvent{
		ProductID:        product.ID,
		ProductName:      product.Name,
		PreviousQuantity: previous,
		NewQuantity:      current,
		QuantityChange:   current - previous,
		Reason:           reason,
		UpdatedAt:        time.Now(),
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		log.Printf("Failed to marshal stock updated event for product %s: %v", product.ID, err)
		return
	}
	if err := s.publisher.Publish(events.Exchange, events.RoutingKeyStockUpdated, payload); err != nil {
		log.Printf("Warning: failed to publish stock updated event for product %s: %v", product.ID, err)
	}
}
