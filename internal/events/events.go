package events

import (
	"time"

	"ecommerce/internal/models"
)

// Exchange and routing keys for lifecycle events.
const (
	Exchange               = "ecommerce-events"
	RoutingKeyOrderCreated = "order.created"
	RoutingKeyStockUpdated = "stock.updated"
)

// OrderItemEvent mirrors an order line inside an OrderCreatedEvent.
type OrderItemEvent struct {
	ProductID   string  `json:"product_id"`
	ProductName string  `json:"product_name"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	TotalPrice  float64 `json:"total_price"`
}

// OrderCreatedEvent is published on the order.created routing key once an
// order is confirmed.
type OrderCreatedEvent struct {
	OrderID       string             `json:"order_id"`
	CustomerID    string             `json:"customer_id"`
	CustomerName  string             `json:"customer_name"`
	CustomerEmail string             `json:"customer_email"`
	Status        models.OrderStatus `json:"status"`
	TotalAmount   float64            `json:"total_amount"`
	Items         []OrderItemEvent   `json:"items"`
	CreatedAt     time.Time          `json:"created_at"`
}

// NewOrderCreatedEvent builds the announcement payload for an order.
func NewOrderCreatedEvent(order *models.Order) OrderCreatedEvent {
	items := make([]OrderItemEvent, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, OrderItemEvent{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			TotalPrice:  item.TotalPrice,
		})
	}
	return OrderCreatedEvent{
		OrderID:       order.ID,
		CustomerID:    order.CustomerID,
		CustomerName:  order.CustomerName,
		CustomerEmail: order.CustomerEmail,
		Status:        order.Status,
		TotalAmount:   order.TotalAmount,
		Items:         items,
		CreatedAt:     order.CreatedAt,
	}
}

// StockUpdatedEvent is published on the stock.updated routing key whenever
// the stock level of a product changes.
type StockUpdatedEvent struct {
	ProductID        string    `json:"product_id"`
	ProductName      string    `json:"product_name"`
	PreviousQuantity int       `json:"previous_quantity"`
	NewQuantity      int       `json:"new_quantity"`
	QuantityChange   int       `json:"quantity_change"`
	Reason           string    `json:"reason"` // "sale", "restock", "adjustment"
	UpdatedAt        time.Time `json:"updated_at"`
}
