package models

import "time"

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusConfirmed  OrderStatus = "confirmed"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// IsValid reports whether s is one of the known order statuses.
func (s OrderStatus) IsValid() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusProcessing,
		OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

// transitions is the forward chain of the order lifecycle. Cancelled is
// reachable from any non-cancelled state and handled separately in
// CanTransitionTo so operational force-cancels keep working.
var transitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusConfirmed, OrderStatusProcessing},
	OrderStatusConfirmed:  {OrderStatusProcessing},
	OrderStatusProcessing: {OrderStatusShipped},
	OrderStatusShipped:    {OrderStatusDelivered},
	OrderStatusDelivered:  {},
	OrderStatusCancelled:  {},
}

// CanTransitionTo reports whether moving from s to target is a legal
// lifecycle transition.
func (s OrderStatus) CanTransitionTo(target OrderStatus) bool {
	if target == OrderStatusCancelled {
		return s != OrderStatusCancelled
	}
	for _, next := range transitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

// OrderItem is a single line of an order. ProductName and UnitPrice are
// snapshots taken at order-creation time; they never change even if the
// catalog later does.
type OrderItem struct {
	ID          string  `json:"id" gorm:"primaryKey;type:varchar(36)"`
	OrderID     string  `json:"-" gorm:"type:varchar(36);index"`
	ProductID   string  `json:"product_id"`
	ProductName string  `json:"product_name"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	TotalPrice  float64 `json:"total_price"`
	// Reserved records whether the stock reservation for this item
	// succeeded, so cancellation can compensate exactly.
	Reserved bool `json:"reserved"`
}

// Order represents a customer order.
type Order struct {
	ID            string      `json:"id" gorm:"primaryKey;type:varchar(36)"`
	CustomerID    string      `json:"customer_id" gorm:"index;type:varchar(36)"`
	CustomerName  string      `json:"customer_name"`
	CustomerEmail string      `json:"customer_email"`
	Status        OrderStatus `json:"status" gorm:"type:varchar(20)"`
	TotalAmount   float64     `json:"total_amount"`
	Items         []OrderItem `json:"items" gorm:"foreignKey:OrderID"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}
