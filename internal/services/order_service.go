package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"ecommerce/internal/events"
	"ecommerce/internal/inventory"
	"ecommerce/internal/models"
	"ecommerce/internal/repositories"
	"ecommerce/pkg/outbox"
)

// Sentinel errors callers branch on. Business rejections and not-found are
// kept distinct from operational failures.
var (
	ErrOrderNotFound      = errors.New("order not found")
	ErrProductUnavailable = errors.New("product unavailable")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrValidation         = errors.New("validation failed")
)

// ConsistencyMode selects how order creation guards stock.
type ConsistencyMode string

const (
	// ModeLegacy checks availability first and reserves afterwards,
	// preserving the reference check-then-act behavior: two concurrent
	// orders can both pass the check before either reserves.
	ModeLegacy ConsistencyMode = "legacy"
	// ModeAtomic skips the pre-check and relies on reserve being a single
	// conditional decrement owned by the inventory service. A failed
	// reserve aborts the order and compensates earlier reservations.
	ModeAtomic ConsistencyMode = "atomic"
)

// DeliveryMode selects how the order-created event reaches the broker.
type DeliveryMode string

const (
	// DeliveryDirect publishes after the confirm write; failures are
	// logged and swallowed.
	DeliveryDirect DeliveryMode = "direct"
	// DeliveryOutbox writes the event in the same transaction as the
	// confirm write and leaves delivery to the outbox relay.
	DeliveryOutbox DeliveryMode = "outbox"
)

// InventoryClient is the capability surface the coordinator consumes from
// the inventory service.
type InventoryClient interface {
	GetProduct(ctx context.Context, productID string) (*inventory.ProductInfo, error)
	CheckAvailability(ctx context.Context, productID string, quantity int) bool
	Reserve(ctx context.Context, productID string, quantity int) bool
	Release(ctx context.Context, productID string, quantity int) bool
}

// EventPublisher publishes lifecycle events. Failures must never fail the
// operation that triggered the publish.
type EventPublisher interface {
	Publish(exchange, routingKey string, body []byte) error
}

// CreateOrderItemInput is one requested line of a new order.
type CreateOrderItemInput struct {
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"required,gt=0"`
}

// CreateOrderInput is the request to create an order.
type CreateOrderInput struct {
	CustomerID    string                 `json:"customer_id" validate:"required"`
	CustomerName  string                 `json:"customer_name" validate:"required,max=100"`
	CustomerEmail string                 `json:"customer_email" validate:"required,email,max=100"`
	Items         []CreateOrderItemInput `json:"items" validate:"required,min=1,dive"`
}

// OrderServiceConfig carries the coordinator's mode switches.
type OrderServiceConfig struct {
	Consistency ConsistencyMode
	Delivery    DeliveryMode
}

// OrderService coordinates the order lifecycle: availability checks and
// stock reservation against the inventory service, persistence through the
// order repository, and the order-created announcement. It holds no state
// across requests.
type OrderService struct {
	orderRepo repositories.OrderRepository
	inventory InventoryClient
	publisher EventPublisher
	cfg       OrderServiceConfig
}

// NewOrderService creates a new OrderService.
func NewOrderService(orderRepo repositories.OrderRepository, inventoryClient InventoryClient, publisher EventPublisher, cfg OrderServiceConfig) *OrderService {
	if cfg.Consistency == "" {
		cfg.Consistency = ModeLegacy
	}
	if cfg.Delivery == "" {
		cfg.Delivery = DeliveryDirect
	}
	return &OrderService{
		orderRepo: orderRepo,
		inventory: inventoryClient,
		publisher: publisher,
		cfg:       cfg,
	}
}

// GetAllOrders retrieves all orders, most recent first.
func (s *OrderService) GetAllOrders() ([]models.Order, error) {
	return s.orderRepo.GetAll()
}

// GetOrdersByCustomer retrieves a customer's orders, most recent first.
func (s *OrderService) GetOrdersByCustomer(customerID string) ([]models.Order, error) {
	return s.orderRepo.GetByCustomer(customerID)
}

// GetOrderByID retrieves a single order by its ID.
func (s *OrderService) GetOrderByID(id string) (*models.Order, error) {
	order, err := s.orderRepo.GetByID(id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, fmt.Errorf("order %s: %w", id, ErrOrderNotFound)
		}
		return nil, err
	}
	return order, nil
}

// CreateOrder runs the fulfillment workflow: availability check (legacy
// mode), price/name snapshot, pending persist, per-item reservation,
// confirm, announce. Nothing is persisted when availability fails.
func (s *OrderService) CreateOrder(ctx context.Context, input CreateOrderInput) (*models.Order, error) {
	if err := validateCreateOrder(input); err != nil {
		return nil, err
	}

	// 1. Availability check (legacy mode only; atomic mode folds the check
	// into the reserve call itself).
	if s.cfg.Consistency == ModeLegacy {
		for _, item := range input.Items {
			if !s.inventory.CheckAvailability(ctx, item.ProductID, item.Quantity) {
				return nil, fmt.Errorf("product %s not available in quantity %d: %w",
					item.ProductID, item.Quantity, ErrProductUnavailable)
			}
		}
	}

	// 2. Snapshot product name and price per item. Lookup failure here is
	// an operational error that aborts creation.
	items := make([]models.OrderItem, 0, len(input.Items))
	var totalAmount float64
	for _, item := range input.Items {
		product, err := s.inventory.GetProduct(ctx, item.ProductID)
		if err != nil {
			return nil, fmt.Errorf("failed to snapshot product %s: %w", item.ProductID, err)
		}
		orderItem := models.OrderItem{
			ProductID:   item.ProductID,
			ProductName: product.Name,
			Quantity:    item.Quantity,
			UnitPrice:   product.Price,
			TotalPrice:  product.Price * float64(item.Quantity),
		}
		items = append(items, orderItem)
		totalAmount += orderItem.TotalPrice
	}

	// 3. Persist the pending order.
	order := &models.Order{
		CustomerID:    input.CustomerID,
		CustomerName:  input.CustomerName,
		CustomerEmail: input.CustomerEmail,
		Status:        models.OrderStatusPending,
		TotalAmount:   totalAmount,
		Items:         items,
	}
	if err := s.orderRepo.Create(order); err != nil {
		return nil, fmt.Errorf("failed to create order in repository: %w", err)
	}
	log.Printf("Order created: %s - customer %s", order.ID, order.CustomerID)

	// 4. Reserve stock per item, in item order.
	if err := s.reserveItems(ctx, order); err != nil {
		return nil, err
	}

	// 5. Confirm, 6. announce.
	order.Status = models.OrderStatusConfirmed
	order.UpdatedAt = time.Now()
	if err := s.confirmAndAnnounce(order); err != nil {
		return nil, err
	}
	log.Printf("Order confirmed: %s", order.ID)

	return order, nil
}

// reserveItems issues the reservation call for every item. In legacy mode
// failures are logged and the workflow continues; in atomic mode a failure
// releases earlier reservations, cancels the pending order and surfaces an
// availability rejection.
func (s *OrderService) reserveItems(ctx context.Context, order *models.Order) error {
	for i := range order.Items {
		item := &order.Items[i]
		if s.inventory.Reserve(ctx, item.ProductID, item.Quantity) {
			item.Reserved = true
			continue
		}

		if s.cfg.Consistency == ModeLegacy {
			log.Printf("Warning: failed to reserve %d of product %s for order %s",
				item.Quantity, item.ProductID, order.ID)
			continue
		}

		// Atomic mode: compensate and abort.
		s.releaseReserved(ctx, order)
		order.Status = models.OrderStatusCancelled
		order.UpdatedAt = time.Now()
		if err := s.orderRepo.Update(order); err != nil {
			log.Printf("Failed to cancel aborted order %s: %v", order.ID, err)
		}
		return fmt.Errorf("product %s not available in quantity %d: %w",
			item.ProductID, item.Quantity, ErrProductUnavailable)
	}
	return nil
}

func (s *OrderService) confirmAndAnnounce(order *models.Order) error {
	if s.cfg.Delivery == DeliveryOutbox {
		payload, err := json.Marshal(events.NewOrderCreatedEvent(order))
		if err != nil {
			return fmt.Errorf("failed to marshal order created event: %w", err)
		}
		evt := outbox.NewEvent(events.Exchange, events.RoutingKeyOrderCreated, payload)
		if err := s.orderRepo.UpdateWithOutbox(order, evt); err != nil {
			return fmt.Errorf("failed to confirm order %s: %w", order.ID, err)
		}
		return nil
	}

	if err := s.orderRepo.Update(order); err != nil {
		return fmt.Errorf("failed to confirm order %s: %w", order.ID, err)
	}
	s.publishOrderCreated(order)
	return nil
}

// publishOrderCreated announces the order best-effort. Failure is logged
// and never propagated; the order stays confirmed regardless.
func (s *OrderService) publishOrderCreated(order *models.Order) {
	if s.publisher == nil {
		log.Println("Event publisher is not initialized. Skipping order created event.")
		return
	}
	payload, err := json.Marshal(events.NewOrderCreatedEvent(order))
	if err != nil {
		log.Printf("Failed to marshal order created event for order %s: %v", order.ID, err)
		return
	}
	if err := s.publisher.Publish(events.Exchange, events.RoutingKeyOrderCreated, payload); err != nil {
		log.Printf("Warning: failed to publish order created event for order %s: %v", order.ID, err)
		return
	}
	log.Printf("Published order created event for order %s", order.ID)
}

// UpdateOrderStatus overwrites an order's status after validating the
// transition against the lifecycle table. Items and total are untouched.
func (s *OrderService) UpdateOrderStatus(id string, status models.OrderStatus) (*models.Order, error) {
	if !status.IsValid() {
		return nil, fmt.Errorf("unknown order status %q: %w", status, ErrValidation)
	}

	order, err := s.GetOrderByID(id)
	if err != nil {
		return nil, err
	}

	if !order.Status.CanTransitionTo(status) {
		return nil, fmt.Errorf("cannot move order %s from %s to %s: %w",
			id, order.Status, status, ErrInvalidTransition)
	}

	order.Status = status
	order.UpdatedAt = time.Now()
	if err := s.orderRepo.Update(order); err != nil {
		return nil, fmt.Errorf("failed to update status for order %s: %w", id, err)
	}

	log.Printf("Order %s status updated to %s", id, status)
	return order, nil
}

// CancelOrder moves an order to cancelled and releases reserved stock when
// the order was confirmed. Cancelling an already-cancelled order is an
// idempotent no-op. Release failures are logged but never block the
// cancellation.
func (s *OrderService) CancelOrder(ctx context.Context, id string) error {
	order, err := s.GetOrderByID(id)
	if err != nil {
		return err
	}

	if order.Status == models.OrderStatusCancelled {
		return nil
	}

	if order.Status == models.OrderStatusConfirmed {
		s.releaseReserved(ctx, order)
	}

	order.Status = models.OrderStatusCancelled
	order.UpdatedAt = time.Now()
	if err := s.orderRepo.Update(order); err != nil {
		return fmt.Errorf("failed to cancel order %s: %w", id, err)
	}

	log.Printf("Order %s cancelled", id)
	return nil
}

// releaseReserved compensates the items whose reservation succeeded,
// clearing the reserved flag on success so release stays idempotent.
func (s *OrderService) releaseReserved(ctx context.Context, order *models.Order) {
	for i := range order.Items {
		item := &order.Items[i]
		if !item.Reserved {
			continue
		}
		if !s.inventory.Release(ctx, item.ProductID, item.Quantity) {
			log.Printf("Warning: failed to release %d of product %s for order %s",
				item.Quantity, item.ProductID, order.ID)
			continue
		}
		item.Reserved = false
	}
}

func validateCreateOrder(input CreateOrderInput) error {
	if input.CustomerID == "" {
		return fmt.Errorf("customer id is required: %w", ErrValidation)
	}
	if len(input.Items) == 0 {
		return fmt.Errorf("order must have at least one item: %w", ErrValidation)
	}
	for _, item := range input.Items {
		if item.ProductID == "" {
			return fmt.Errorf("item product id is required: %w", ErrValidation)
		}
		if item.Quantity <= 0 {
			return fmt.Errorf("item quantity for product %s must be positive: %w", item.ProductID, ErrValidation)
		}
	}
	return nil
}
