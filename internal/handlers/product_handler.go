package handlers

import (
	"errors"
	"fmt"
	"log"

	"ecommerce/internal/middleware"
	"ecommerce/internal/models"
	"ecommerce/internal/repositories"
	"ecommerce/internal/services"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

// ProductHandler handles HTTP requests for products, including the stock
// endpoints the order coordinator calls over HTTP.
type ProductHandler struct {
	service  *services.ProductService
	validate *validator.Validate
}

// NewProductHandler creates a new ProductHandler.
func NewProductHandler(service *services.ProductService) *ProductHandler {
	return &ProductHandler{
		service:  service,
		validate: validator.New(),
	}
}

// RegisterRoutes registers the product routes with the Fiber app. Reads and
// the reserve/release endpoints stay open so the order coordinator can call
// them service-to-service; catalog mutations require an authenticated
// admin/manager.
func (h *ProductHandler) RegisterRoutes(router fiber.Router, auth fiber.Handler) {
	productRoutes := router.Group("/products")
	productRoutes.Get("/", h.HandleGetProducts)
	productRoutes.Get("/:id", h.HandleGetProductByID)
	productRoutes.Post("/", auth, middleware.RoleRequired(models.RoleAdmin, models.RoleManager), h.HandleCreateProduct)
	productRoutes.Put("/:id", auth, middleware.RoleRequired(models.RoleAdmin, models.RoleManager), h.HandleUpdateProduct)
	productRoutes.Delete("/:id", auth, middleware.RoleRequired(models.RoleAdmin), h.HandleDeleteProduct)
	productRoutes.Post("/:id/stock", auth, middleware.RoleRequired(models.RoleAdmin, models.RoleManager), h.HandleSetStock)
	productRoutes.Post("/:id/reserve", h.HandleReserveStock)
	productRoutes.Post("/:id/release", h.HandleReleaseStock)
}

// HandleGetProducts retrieves all products.
func (h *ProductHandler) HandleGetProducts(c *fiber.Ctx) error {
	products, err := h.service.GetAllProducts()
	if err != nil {
		log.Printf("Error getting all products: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"message": "Could not retrieve products",
			"error":   err.Error(),
		})
	}
	return c.JSON(products)
}

// HandleGetProductByID retrieves a single product by its ID.
func (h *ProductHandler) HandleGetProductByID(c *fiber.Ctx) error {
	productID := c.Params("id")
	product, err := h.service.GetProductByID(productID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"message": fmt.Sprintf("Product with ID %s not found", productID),
			})
		}
		log.Printf("Error getting product by ID %s: %v", productID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"message": "Could not retrieve product",
			"error":   err.Error(),
		})
	}
	return c.JSON(product)
}

// HandleCreateProduct creates a new product. Admin/manager only.
func (h *ProductHandler) HandleCreateProduct(c *fiber.Ctx) error {
	var product models.Product
	if err := c.BodyParser(&product); err != nil {
		log.Printf("Error parsing create product request body: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Invalid request body",
			"error":   err.Error(),
		})
	}

	if err := h.validate.Struct(product); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Validation failed",
			"errors":  validationMessages(err),
		})
	}

	if err := h.service.CreateProduct(&product); err != nil {
		log.Printf("Error creating product: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"message": "Could not create product",
			"error":   err.Error(),
		})
	}
	return c.Status(fiber.StatusCreated).JSON(product)
}

// HandleUpdateProduct updates an existing product. Admin/manager only.
func (h *ProductHandler) HandleUpdateProduct(c *fiber.Ctx) error {
	productID := c.Params("id")
	var product models.Product
	if err := c.BodyParser(&product); err != nil {
		log.Printf("Error parsing update product request body: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Invalid request body",
			"error":   err.Error(),
		})
	}
	product.ID = productID

	if err := h.validate.Struct(product); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Validation failed",
			"errors":  validationMessages(err),
		})
	}

	if err := h.service.UpdateProduct(&product); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"message": fmt.Sprintf("Product with ID %s not found", productID),
			})
		}
		log.Printf("Error updating product %s: %v", productID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"message": "Could not update product",
			"error":   err.Error(),
		})
	}
	return c.JSON(product)
}

// HandleDeleteProduct deletes a product by its ID. Admin only.
func (h *ProductHandler) HandleDeleteProduct(c *fiber.Ctx) error {
	productID := c.Params("id")
	if err := h.service.DeleteProduct(productID); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"message": fmt.Sprintf("Product with ID %s not found", productID),
			})
		}
		log.Printf("Error deleting product %s: %v", productID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"message": "Could not delete product",
			"error":   err.Error(),
		})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// StockRequest represents the request body for the stock endpoints.
type StockRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity" validate:"required,gte=0"`
}

// HandleSetStock overwrites the stock level of a product. Admin/manager
// only.
func (h *ProductHandler) HandleSetStock(c *fiber.Ctx) error {
	return h.handleStockChange(c, "update", h.service.SetStock)
}

// HandleReserveStock decrements stock iff the requested quantity is
// available. Success is signalled purely by status code.
func (h *ProductHandler) HandleReserveStock(c *fiber.Ctx) error {
	return h.handleStockChange(c, "reserve", h.service.ReserveStock)
}

// HandleReleaseStock returns previously reserved stock.
func (h *ProductHandler) HandleReleaseStock(c *fiber.Ctx) error {
	return h.handleStockChange(c, "release", h.service.ReleaseStock)
}

func (h *ProductHandler) handleStockChange(c *fiber.Ctx, action string, apply func(string, int) error) error {
	productID := c.Params("id")
	var req StockRequest
	if err := c.BodyParser(&req); err != nil {
		log.Printf("Error parsing %s stock request body: %v", action, err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Invalid request body",
			"error":   err.Error(),
		})
	}
	if req.ProductID != "" && req.ProductID != productID {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Product ID in body does not match URL",
		})
	}

	if err := apply(productID, req.Quantity); err != nil {
		switch {
		case errors.Is(err, repositories.ErrNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"message": fmt.Sprintf("Product with ID %s not found", productID),
			})
		case errors.Is(err, repositories.ErrInsufficientStock):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"message": fmt.Sprintf("Insufficient stock for product %s", productID),
			})
		case errors.Is(err, services.ErrValidation):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"message": "Invalid stock request",
				"error":   err.Error(),
			})
		}
		log.Printf("Error on %s stock for product %s: %v", action, productID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"message": fmt.Sprintf("Could not %s stock", action),
			"error":   err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"message": fmt.Sprintf("Stock %s successful for product %s", action, productID),
	})
}
