package handlers

import (
	"errors"
	"fmt"
	"log"

	"ecommerce/internal/middleware"
	"ecommerce/internal/models"
	"ecommerce/internal/services"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

// OrderHandler handles HTTP requests for orders.
type OrderHandler struct {
	service  *services.OrderService
	validate *validator.Validate
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(service *services.OrderService) *OrderHandler {
	return &OrderHandler{
		service:  service,
		validate: validator.New(),
	}
}

// RegisterRoutes registers the order routes with the Fiber app.
func (h *OrderHandler) RegisterRoutes(router fiber.Router) {
	orderRoutes := router.Group("/orders")
	orderRoutes.Get("/", middleware.RoleRequired(models.RoleAdmin, models.RoleManager), h.HandleGetOrders)
	orderRoutes.Get("/customer/:customerId", h.HandleGetOrdersByCustomer)
	orderRoutes.Get("/:id", h.HandleGetOrderByID)
	orderRoutes.Post("/", h.HandleCreateOrder)
	orderRoutes.Put("/:id/status", middleware.RoleRequired(models.RoleAdmin, models.RoleManager), h.HandleUpdateOrderStatus)
	orderRoutes.Post("/:id/cancel", h.HandleCancelOrder)
}

// HandleGetOrders retrieves all orders. Admin/manager only.
func (h *OrderHandler) HandleGetOrders(c *fiber.Ctx) error {
	orders, err := h.service.GetAllOrders()
	if err != nil {
		log.Printf("Error getting all orders: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"message": "Could not retrieve orders",
			"error":   err.Error(),
		})
	}
	return c.JSON(orders)
}

// HandleGetOrdersByCustomer retrieves a customer's orders. Customers may
// only list their own.
func (h *OrderHandler) HandleGetOrdersByCustomer(c *fiber.Ctx) error {
	customerID := c.Params("customerId")
	if !canAccessCustomer(c, customerID) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"message": "You can only view your own orders",
		})
	}

	orders, err := h.service.GetOrdersByCustomer(customerID)
	if err != nil {
		log.Printf("Error getting orders for customer %s: %v", customerID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"message": "Could not retrieve orders",
			"error":   err.Error(),
		})
	}
	return c.JSON(orders)
}

// HandleGetOrderByID retrieves a single order by its ID.
func (h *OrderHandler) HandleGetOrderByID(c *fiber.Ctx) error {
	orderID := c.Params("id")
	order, err := h.service.GetOrderByID(orderID)
	if err != nil {
		if errors.Is(err, services.ErrOrderNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"message": fmt.Sprintf("Order with ID %s not found", orderID),
			})
		}
		log.Printf("Error getting order by ID %s: %v", orderID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"message": "Could not retrieve order",
			"error":   err.Error(),
		})
	}

	if !canAccessCustomer(c, order.CustomerID) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"message": "You can only view your own orders",
		})
	}
	return c.JSON(order)
}

// HandleCreateOrder creates a new order through the fulfillment workflow.
func (h *OrderHandler) HandleCreateOrder(c *fiber.Ctx) error {
	var input services.CreateOrderInput
	if err := c.BodyParser(&input); err != nil {
		log.Printf("Error parsing request body: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Invalid request body",
			"error":   err.Error(),
		})
	}

	if err := h.validate.Struct(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Validation failed",
			"errors":  validationMessages(err),
		})
	}

	if !canAccessCustomer(c, input.CustomerID) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"message": "You can only create orders for yourself",
		})
	}

	createdOrder, err := h.service.CreateOrder(c.UserContext(), input)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrValidation):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"message": "Validation failed",
				"error":   err.Error(),
			})
		case errors.Is(err, services.ErrProductUnavailable):
			// Business rejection, not an operational failure.
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"message": "Order creation failed due to insufficient stock",
				"error":   err.Error(),
			})
		}
		log.Printf("Error creating order: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"message": "Could not create order",
			"error":   err.Error(),
		})
	}

	return c.Status(fiber.StatusCreated).JSON(createdOrder)
}

// UpdateOrderStatusRequest represents the request body for status updates.
type UpdateOrderStatusRequest struct {
	Status models.OrderStatus `json:"status" validate:"required"`
}

// HandleUpdateOrderStatus updates the status of an existing order.
// Admin/manager only.
func (h *OrderHandler) HandleUpdateOrderStatus(c *fiber.Ctx) error {
	orderID := c.Params("id")
	var req UpdateOrderStatusRequest
	if err := c.BodyParser(&req); err != nil {
		log.Printf("Error parsing request body for status update: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Invalid request body for status update",
			"error":   err.Error(),
		})
	}
	if req.Status == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Status is required for order status update",
		})
	}

	order, err := h.service.UpdateOrderStatus(orderID, req.Status)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrOrderNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"message": fmt.Sprintf("Order with ID %s not found", orderID),
			})
		case errors.Is(err, services.ErrValidation), errors.Is(err, services.ErrInvalidTransition):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"message": "Invalid status update",
				"error":   err.Error(),
			})
		}
		log.Printf("Error updating order status for order %s: %v", orderID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"message": "Could not update order status",
			"error":   err.Error(),
		})
	}

	return c.JSON(order)
}

// HandleCancelOrder cancels an order, releasing reserved stock when the
// order was confirmed.
func (h *OrderHandler) HandleCancelOrder(c *fiber.Ctx) error {
	orderID := c.Params("id")

	order, err := h.service.GetOrderByID(orderID)
	if err != nil {
		if errors.Is(err, services.ErrOrderNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"message": fmt.Sprintf("Order with ID %s not found", orderID),
			})
		}
		log.Printf("Error loading order %s for cancellation: %v", orderID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"message": "Could not cancel order",
			"error":   err.Error(),
		})
	}
	if !canAccessCustomer(c, order.CustomerID) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"message": "You can only cancel your own orders",
		})
	}

	if err := h.service.CancelOrder(c.UserContext(), orderID); err != nil {
		log.Printf("Error cancelling order %s: %v", orderID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"message": "Could not cancel order",
			"error":   err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"message": fmt.Sprintf("Order %s cancelled successfully", orderID),
	})
}

// canAccessCustomer reports whether the authenticated caller may act on the
// given customer's orders: admins and managers always, customers only on
// their own.
func canAccessCustomer(c *fiber.Ctx, customerID string) bool {
	role, _ := c.Locals("role").(string)
	if role == models.RoleAdmin || role == models.RoleManager {
		return true
	}
	userID, _ := c.Locals("user_id").(string)
	return userID != "" && userID == customerID
}

// validationMessages flattens validator errors into a field -> message map.
func validationMessages(err error) map[string]string {
	messages := make(map[string]string)
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		for _, e := range validationErrors {
			messages[e.Field()] = fmt.Sprintf("Field '%s' failed on the '%s' tag", e.Field(), e.Tag())
		}
	}
	return messages
}
