package inventory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

// ProductInfo is the subset of the catalog record the coordinator needs:
// the name/price snapshot and the stock level for availability checks.
type ProductInfo struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Price float64 `json:"price"`
	Stock int     `json:"stock"`
}

// Config holds inventory service connection details.
type Config struct {
	BaseURL string // e.g. "http://localhost:8080/api/v1"
	Timeout time.Duration
}

// Client wraps the HTTP calls to the inventory service: availability
// lookup, price/name snapshot, reserve and release. It holds no state.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a new inventory client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// GetProduct fetches the product record. Order creation needs this to
// succeed for pricing snapshots; failure here is an operational error.
func (c *Client) GetProduct(ctx context.Context, productID string) (*ProductInfo, error) {
	url := fmt.Sprintf("%s/products/%s", c.baseURL, productID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build product request for %s: %w", productID, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch product %s: %w", productID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("product %s not found (status %d)", productID, resp.StatusCode)
	}

	var product ProductInfo
	if err := json.NewDecoder(resp.Body).Decode(&product); err != nil {
		return nil, fmt.Errorf("failed to decode product %s: %w", productID, err)
	}
	return &product, nil
}

// CheckAvailability reports whether the product exists with at least the
// requested quantity in stock. Any lookup or transport failure counts as
// unavailable.
func (c *Client) CheckAvailability(ctx context.Context, productID string, quantity int) bool {
	product, err := c.GetProduct(ctx, productID)
	if err != nil {
		log.Printf("Availability check failed for product %s: %v", productID, err)
		return false
	}
	return product.Stock >= quantity
}

// Reserve asks the inventory owner for a conditional decrement of stock.
// The call succeeds only if the full quantity was available.
func (c *Client) Reserve(ctx context.Context, productID string, quantity int) bool {
	return c.postStock(ctx, productID, quantity, "reserve")
}

// Release returns previously reserved stock.
func (c *Client) Release(ctx context.Context, productID string, quantity int) bool {
	return c.postStock(ctx, productID, quantity, "release")
}

func (c *Client) postStock(ctx context.Context, productID string, quantity int, action string) bool {
	payload := map[string]interface{}{
		"product_id": productID,
		"quantity":   quantity,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		log.Printf("Failed to marshal %s request for product %s: %v", action, productID, err)
		return false
	}

	url := fmt.Sprintf("%s/products/%s/%s", c.baseURL, productID, action)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		log.Printf("Failed to build %s request for product %s: %v", action, productID, err)
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		log.Printf("Failed to %s stock for product %s: %v", action, productID, err)
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
