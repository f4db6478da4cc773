package handlers_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"ecommerce/internal/handlers"
	"ecommerce/internal/inventory"
	"ecommerce/internal/middleware"
	"ecommerce/internal/models"
	"ecommerce/internal/repositories"
	"ecommerce/internal/services"
	"ecommerce/pkg/outbox"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// testEnv bundles everything the integration tests need to drive the API.
type testEnv struct {
	app         *fiber.App
	authService *services.AuthService
	productRepo repositories.ProductRepository
}

// setupApp builds a full Fiber app against an in-memory SQLite database.
// The inventory client talks to a local HTTP stub backed by the same
// product repository, mirroring the deployed topology.
func setupApp(t *testing.T) *testEnv {
	t.Helper()

	viper.SetDefault("JWT_SECRET", "test_jwt_secret")
	viper.AutomaticEnv()
	jwtSecret := viper.GetString("JWT_SECRET")

	// Each test gets its own named in-memory database so state never
	// leaks between tests.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to connect to in-memory database: %v", err)
	}

	err = db.AutoMigrate(&models.Product{}, &models.User{}, &models.Order{}, &models.OrderItem{}, &outbox.Event{})
	if err != nil {
		t.Fatalf("failed to auto-migrate database: %v", err)
	}

	productRepo := repositories.NewGORMProductRepository(db)
	userRepo := repositories.NewGORMUserRepository(db)
	orderRepo := repositories.NewGORMOrderRepository(db)

	productService := services.NewProductService(productRepo, nil)
	authService := services.NewAuthService(userRepo, jwtSecret)

	// Stand-in for the inventory service: the same stock endpoints,
	// served over a real HTTP hop.
	invSrv := httptest.NewServer(stubInventoryHandler(productService))
	t.Cleanup(invSrv.Close)
	invClient := inventory.NewClient(inventory.Config{BaseURL: invSrv.URL})

	orderService := services.NewOrderService(orderRepo, invClient, nil, services.OrderServiceConfig{})

	productHandler := handlers.NewProductHandler(productService)
	orderHandler := handlers.NewOrderHandler(orderService)
	authHandler := handlers.NewAuthHandler(authService)

	app := fiber.New()
	apiV1 := app.Group("/api/v1")
	authHandler.RegisterRoutes(apiV1)

	authRequired := middleware.AuthRequired(authService)
	productHandler.RegisterRoutes(apiV1, authRequired)

	protectedRoutes := apiV1.Group("", authRequired)
	orderHandler.RegisterRoutes(protectedRoutes)

	seedUsersForTest(t, userRepo)

	return &testEnv{app: app, authService: authService, productRepo: productRepo}
}

// stubInventoryHandler serves the product lookup and reserve/release
// endpoints the order coordinator calls.
func stubInventoryHandler(productService *services.ProductService) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		if len(parts) < 2 || parts[0] != "products" {
			http.NotFound(w, r)
			return
		}
		id := parts[1]

		if len(parts) == 2 {
			product, err := productService.GetProductByID(id)
			if err != nil {
				http.NotFound(w, r)
				return
			}
			json.NewEncoder(w).Encode(product)
			return
		}

		var req struct {
			Quantity int `json:"quantity"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		var err error
		switch parts[2] {
		case "reserve":
			err = productService.ReserveStock(id, req.Quantity)
		case "release":
			err = productService.ReleaseStock(id, req.Quantity)
		default:
			http.NotFound(w, r)
			return
		}
		if err != nil {
			w.WriteHeader(http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
}

// seedUsersForTest creates one user per role with a known password.
func seedUsersForTest(t *testing.T, repo repositories.UserRepository) {
	t.Helper()
	users := []models.User{
		{ID: "admin-1", Username: "admin", Email: "admin@example.com", Password: "admin123", Role: models.RoleAdmin},
		{ID: "cust-1", Username: "alice", Email: "alice@example.com", Password: "alice123", Role: models.RoleCustomer},
		{ID: "cust-2", Username: "bob", Email: "bob@example.com", Password: "bob123", Role: models.RoleCustomer},
	}
	for i := range users {
		hashed, err := bcrypt.GenerateFromPassword([]byte(users[i].Password), bcrypt.MinCost)
		if err != nil {
			t.Fatalf("failed to hash seed password: %v", err)
		}
		users[i].Password = string(hashed)
		if err := repo.Create(&users[i]); err != nil {
			t.Fatalf("failed to seed user %s: %v", users[i].Username, err)
		}
	}
}

// doJSON issues a request against the app and returns the response.
func doJSON(t *testing.T, app *fiber.App, method, path, token string, body interface{}) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reader = bytes.NewReader(jsonBody)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("request %s %s failed: %v", method, path, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
}

// login returns a JWT for one of the seeded users.
func login(t *testing.T, app *fiber.App, username, password string) string {
	t.Helper()
	resp := doJSON(t, app, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"username": username,
		"password": password,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login for %s returned status %d", username, resp.StatusCode)
	}
	var loginResp map[string]string
	decodeBody(t, resp, &loginResp)
	return loginResp["token"]
}

// createProduct creates a catalog entry as admin and returns it.
func createProduct(t *testing.T, env *testEnv, adminToken string, name string, price float64, stock int) models.Product {
	t.Helper()
	resp := doJSON(t, env.app, http.MethodPost, "/api/v1/products", adminToken, map[string]interface{}{
		"name":        name,
		"description": "integration test item",
		"price":       price,
		"stock":       stock,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create product returned status %d", resp.StatusCode)
	}
	var product models.Product
	decodeBody(t, resp, &product)
	return product
}

func stockOf(t *testing.T, env *testEnv, productID string) int {
	t.Helper()
	product, err := env.productRepo.GetByID(productID)
	if err != nil {
		t.Fatalf("failed to load product %s: %v", productID, err)
	}
	return product.Stock
}

// TestMain runs setup and teardown for all tests
func TestMain(m *testing.M) {
	// Suppress logging during tests for cleaner output
	log.SetOutput(io.Discard)
	code := m.Run()
	os.Exit(code)
}

func TestAuthRegisterAndLogin(t *testing.T) {
	env := setupApp(t)

	userToRegister := map[string]string{
		"username": "testuser",
		"email":    "test@example.com",
		"password": "password123",
	}
	resp := doJSON(t, env.app, http.MethodPost, "/api/v1/auth/register", "", userToRegister)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	var registerResp map[string]interface{}
	decodeBody(t, resp, &registerResp)
	assert.Equal(t, "User registered successfully", registerResp["message"])

	// Duplicate registration is rejected
	resp = doJSON(t, env.app, http.MethodPost, "/api/v1/auth/register", "", userToRegister)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	token := login(t, env.app, "testuser", "password123")
	assert.NotEmpty(t, token)

	claims, err := env.authService.ValidateToken(token)
	assert.NoError(t, err)
	assert.Equal(t, "testuser", claims["username"])
	// Self-registered users are always customers
	assert.Equal(t, models.RoleCustomer, claims["role"])

	// /auth/me returns the profile without the password hash
	resp = doJSON(t, env.app, http.MethodGet, "/api/v1/auth/me", token, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var me models.User
	decodeBody(t, resp, &me)
	assert.Equal(t, "testuser", me.Username)
	assert.Empty(t, me.Password)
}

func TestProductEndpoints(t *testing.T) {
	env := setupApp(t)
	adminToken := login(t, env.app, "admin", "admin123")
	customerToken := login(t, env.app, "alice", "alice123")

	created := createProduct(t, env, adminToken, "Test Laptop", 1000.00, 5)
	assert.NotEmpty(t, created.ID)

	// Reads are open so the order coordinator can call them unauthenticated
	resp := doJSON(t, env.app, http.MethodGet, "/api/v1/products", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var products []models.Product
	decodeBody(t, resp, &products)
	assert.Len(t, products, 1)

	resp = doJSON(t, env.app, http.MethodGet, "/api/v1/products/"+created.ID, "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var fetched models.Product
	decodeBody(t, resp, &fetched)
	assert.Equal(t, created.ID, fetched.ID)

	// Mutations require an authenticated admin or manager
	resp = doJSON(t, env.app, http.MethodPost, "/api/v1/products", "", map[string]interface{}{
		"name": "Unauthorized Product", "price": 100.0, "stock": 10,
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, env.app, http.MethodPost, "/api/v1/products", customerToken, map[string]interface{}{
		"name": "Customer Product", "price": 100.0, "stock": 10,
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, env.app, http.MethodPut, "/api/v1/products/"+created.ID, adminToken, map[string]interface{}{
		"name": "Test Laptop Pro", "description": "updated", "price": 1200.00, "stock": 4,
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var updated models.Product
	decodeBody(t, resp, &updated)
	assert.Equal(t, "Test Laptop Pro", updated.Name)

	// Deletion is admin only
	resp = doJSON(t, env.app, http.MethodDelete, "/api/v1/products/"+created.ID, customerToken, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, env.app, http.MethodDelete, "/api/v1/products/"+created.ID, adminToken, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, env.app, http.MethodGet, "/api/v1/products/"+created.ID, "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestStockEndpoints(t *testing.T) {
	env := setupApp(t)
	adminToken := login(t, env.app, "admin", "admin123")
	product := createProduct(t, env, adminToken, "Test Monitor", 200.00, 10)

	// Reserve within stock succeeds and decrements
	resp := doJSON(t, env.app, http.MethodPost, "/api/v1/products/"+product.ID+"/reserve", "", map[string]interface{}{
		"product_id": product.ID, "quantity": 4,
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	assert.Equal(t, 6, stockOf(t, env, product.ID))

	// Reserving more than remains is refused and leaves stock untouched
	resp = doJSON(t, env.app, http.MethodPost, "/api/v1/products/"+product.ID+"/reserve", "", map[string]interface{}{
		"product_id": product.ID, "quantity": 7,
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()
	assert.Equal(t, 6, stockOf(t, env, product.ID))

	// Release restores stock
	resp = doJSON(t, env.app, http.MethodPost, "/api/v1/products/"+product.ID+"/release", "", map[string]interface{}{
		"product_id": product.ID, "quantity": 4,
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	assert.Equal(t, 10, stockOf(t, env, product.ID))

	// Overwriting stock needs an admin or manager
	resp = doJSON(t, env.app, http.MethodPost, "/api/v1/products/"+product.ID+"/stock", "", map[string]interface{}{
		"quantity": 25,
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, env.app, http.MethodPost, "/api/v1/products/"+product.ID+"/stock", adminToken, map[string]interface{}{
		"quantity": 25,
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	assert.Equal(t, 25, stockOf(t, env, product.ID))

	// Unknown product
	resp = doJSON(t, env.app, http.MethodPost, "/api/v1/products/nope/reserve", "", map[string]interface{}{
		"quantity": 1,
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestOrderLifecycle(t *testing.T) {
	env := setupApp(t)
	adminToken := login(t, env.app, "admin", "admin123")
	customerToken := login(t, env.app, "alice", "alice123")

	product := createProduct(t, env, adminToken, "Test Widget", 99.99, 10)

	// Create: reserve succeeds, order comes back confirmed with the
	// snapshot pricing applied.
	resp := doJSON(t, env.app, http.MethodPost, "/api/v1/orders", customerToken, map[string]interface{}{
		"customer_id":    "cust-1",
		"customer_name":  "Alice Souza",
		"customer_email": "alice@example.com",
		"items": []map[string]interface{}{
			{"product_id": product.ID, "quantity": 2},
		},
	})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	var order models.Order
	decodeBody(t, resp, &order)
	assert.NotEmpty(t, order.ID)
	assert.Equal(t, models.OrderStatusConfirmed, order.Status)
	assert.InDelta(t, 199.98, order.TotalAmount, 0.0001)
	assert.Len(t, order.Items, 1)
	assert.Equal(t, "Test Widget", order.Items[0].ProductName)
	assert.InDelta(t, 99.99, order.Items[0].UnitPrice, 0.0001)
	assert.Equal(t, 8, stockOf(t, env, product.ID))

	// Fetch by ID and list by customer
	resp = doJSON(t, env.app, http.MethodGet, "/api/v1/orders/"+order.ID, customerToken, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var fetched models.Order
	decodeBody(t, resp, &fetched)
	assert.Equal(t, order.ID, fetched.ID)

	resp = doJSON(t, env.app, http.MethodGet, "/api/v1/orders/customer/cust-1", customerToken, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var orders []models.Order
	decodeBody(t, resp, &orders)
	assert.Len(t, orders, 1)

	// Cancel: the reservation is released and stock is restored
	resp = doJSON(t, env.app, http.MethodPost, "/api/v1/orders/"+order.ID+"/cancel", customerToken, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	assert.Equal(t, 10, stockOf(t, env, product.ID))

	resp = doJSON(t, env.app, http.MethodGet, "/api/v1/orders/"+order.ID, customerToken, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &fetched)
	assert.Equal(t, models.OrderStatusCancelled, fetched.Status)

	// Cancelling twice is an idempotent no-op and must not release again
	resp = doJSON(t, env.app, http.MethodPost, "/api/v1/orders/"+order.ID+"/cancel", customerToken, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	assert.Equal(t, 10, stockOf(t, env, product.ID))
}

func TestOrderInsufficientStock(t *testing.T) {
	env := setupApp(t)
	adminToken := login(t, env.app, "admin", "admin123")
	customerToken := login(t, env.app, "alice", "alice123")

	product := createProduct(t, env, adminToken, "Scarce Item", 10.00, 5)

	resp := doJSON(t, env.app, http.MethodPost, "/api/v1/orders", customerToken, map[string]interface{}{
		"customer_id":    "cust-1",
		"customer_name":  "Alice Souza",
		"customer_email": "alice@example.com",
		"items": []map[string]interface{}{
			{"product_id": product.ID, "quantity": 10},
		},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	resp.Body.Close()

	// Nothing was persisted and no stock moved
	assert.Equal(t, 5, stockOf(t, env, product.ID))
	resp = doJSON(t, env.app, http.MethodGet, "/api/v1/orders/customer/cust-1", customerToken, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var orders []models.Order
	decodeBody(t, resp, &orders)
	assert.Empty(t, orders)
}

func TestOrderStatusUpdate(t *testing.T) {
	env := setupApp(t)
	adminToken := login(t, env.app, "admin", "admin123")
	customerToken := login(t, env.app, "alice", "alice123")

	product := createProduct(t, env, adminToken, "Shippable Item", 20.00, 10)
	resp := doJSON(t, env.app, http.MethodPost, "/api/v1/orders", customerToken, map[string]interface{}{
		"customer_id":    "cust-1",
		"customer_name":  "Alice Souza",
		"customer_email": "alice@example.com",
		"items": []map[string]interface{}{
			{"product_id": product.ID, "quantity": 1},
		},
	})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	var order models.Order
	decodeBody(t, resp, &order)

	// Customers cannot drive the fulfillment pipeline
	resp = doJSON(t, env.app, http.MethodPut, "/api/v1/orders/"+order.ID+"/status", customerToken, map[string]string{
		"status": "processing",
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	// confirmed -> processing is legal
	resp = doJSON(t, env.app, http.MethodPut, "/api/v1/orders/"+order.ID+"/status", adminToken, map[string]string{
		"status": "processing",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var updated models.Order
	decodeBody(t, resp, &updated)
	assert.Equal(t, models.OrderStatusProcessing, updated.Status)
	// Items and total survive status updates untouched
	assert.Len(t, updated.Items, 1)
	assert.InDelta(t, 20.00, updated.TotalAmount, 0.0001)

	// processing -> delivered skips shipped and is rejected
	resp = doJSON(t, env.app, http.MethodPut, "/api/v1/orders/"+order.ID+"/status", adminToken, map[string]string{
		"status": "delivered",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	// Unknown status value
	resp = doJSON(t, env.app, http.MethodPut, "/api/v1/orders/"+order.ID+"/status", adminToken, map[string]string{
		"status": "refunded",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	// Unknown order
	resp = doJSON(t, env.app, http.MethodPut, "/api/v1/orders/does-not-exist/status", adminToken, map[string]string{
		"status": "processing",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestOrderAccessControl(t *testing.T) {
	env := setupApp(t)
	adminToken := login(t, env.app, "admin", "admin123")
	aliceToken := login(t, env.app, "alice", "alice123")
	bobToken := login(t, env.app, "bob", "bob123")

	product := createProduct(t, env, adminToken, "Private Item", 15.00, 10)
	resp := doJSON(t, env.app, http.MethodPost, "/api/v1/orders", aliceToken, map[string]interface{}{
		"customer_id":    "cust-1",
		"customer_name":  "Alice Souza",
		"customer_email": "alice@example.com",
		"items": []map[string]interface{}{
			{"product_id": product.ID, "quantity": 1},
		},
	})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	var order models.Order
	decodeBody(t, resp, &order)

	// A customer cannot order on someone else's behalf
	resp = doJSON(t, env.app, http.MethodPost, "/api/v1/orders", bobToken, map[string]interface{}{
		"customer_id":    "cust-1",
		"customer_name":  "Alice Souza",
		"customer_email": "alice@example.com",
		"items": []map[string]interface{}{
			{"product_id": product.ID, "quantity": 1},
		},
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	// Another customer cannot read or cancel the order; admins can read it
	resp = doJSON(t, env.app, http.MethodGet, "/api/v1/orders/"+order.ID, bobToken, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, env.app, http.MethodPost, "/api/v1/orders/"+order.ID+"/cancel", bobToken, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, env.app, http.MethodGet, "/api/v1/orders/"+order.ID, adminToken, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// Listing every order is admin/manager territory
	resp = doJSON(t, env.app, http.MethodGet, "/api/v1/orders", aliceToken, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, env.app, http.MethodGet, "/api/v1/orders", adminToken, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, env.app, http.MethodGet, "/api/v1/orders/customer/cust-1", bobToken, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	// No token at all
	resp = doJSON(t, env.app, http.MethodGet, "/api/v1/orders/"+order.ID, "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}
