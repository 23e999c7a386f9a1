package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/cardsync-backend/pkg/config"
)

const (
	defaultAPIVersion          = "2024-07"
	defaultTimeout             = 15 * time.Second
	callLimitHeader            = "X-Shopify-Shop-Api-Call-Limit"
	accessTokenHeader          = "X-Shopify-Access-Token"
	responseBodyReadLimit      = 2048
	ProductStatusActive        = "active"
	ProductStatusDraft         = "draft"
	inventoryManagementShopify = "shopify"
)

// CallLimitObserver receives the remote bucket usage reported on every response.
type CallLimitObserver interface {
	ObserveCallLimit(service string, used, limit int)
}

// Client talks to the Shopify Admin REST API for every configured shop.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiVersion string
	tokens     map[string]string
	observer   CallLimitObserver
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL sends every request to baseURL instead of https://{shop}.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	}
}

// WithCallLimitObserver wires the rate governor into every response.
func WithCallLimitObserver(observer CallLimitObserver) Option {
	return func(c *Client) {
		c.observer = observer
	}
}

// WithTokens replaces the shop access tokens.
func WithTokens(tokens map[string]string) Option {
	return func(c *Client) {
		c.tokens = map[string]string{}
		for domain, token := range tokens {
			c.tokens[strings.ToLower(domain)] = token
		}
	}
}

// NewClient builds the Admin API client from configuration.
func NewClient(cfg config.ShopifyConfig, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	version := strings.TrimSpace(cfg.APIVersion)
	if version == "" {
		version = defaultAPIVersion
	}
	client := &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiVersion: version,
		tokens:     cfg.Tokens(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client
}

// ProductInput is the listing state pushed for one inventory record.
type ProductInput struct {
	Title      string
	SKU        string
	Price      decimal.Decimal
	Status     string
	Quantity   int
	LocationID string
}

// ProductRef holds the remote identifiers assigned to a listing.
type ProductRef struct {
	ProductID       string
	VariantID       string
	InventoryItemID string
}

type variantBody struct {
	ID                  *int64 `json:"id,omitempty"`
	SKU                 string `json:"sku,omitempty"`
	Price               string `json:"price,omitempty"`
	InventoryManagement string `json:"inventory_management,omitempty"`
}

type productBody struct {
	ID       *int64        `json:"id,omitempty"`
	Title    string        `json:"title,omitempty"`
	Status   string        `json:"status,omitempty"`
	Variants []variantBody `json:"variants,omitempty"`
}

type productEnvelope struct {
	Product productBody `json:"product"`
}

type productResponse struct {
	Product struct {
		ID       int64 `json:"id"`
		Variants []struct {
			ID              int64 `json:"id"`
			InventoryItemID int64 `json:"inventory_item_id"`
		} `json:"variants"`
	} `json:"product"`
}

// CreateProduct creates a single-variant listing and returns its identifiers.
func (c *Client) CreateProduct(ctx context.Context, shop string, in ProductInput) (ProductRef, error) {
	status := in.Status
	if status == "" {
		status = ProductStatusActive
	}
	body := productEnvelope{Product: productBody{
		Title:  in.Title,
		Status: status,
		Variants: []variantBody{{
			SKU:                 in.SKU,
			Price:               in.Price.StringFixed(2),
			InventoryManagement: inventoryManagementShopify,
		}},
	}}
	var out productResponse
	if err := c.do(ctx, shop, http.MethodPost, "/products.json", body, &out); err != nil {
		return ProductRef{}, err
	}
	ref := ProductRef{ProductID: formatID(out.Product.ID)}
	if len(out.Product.Variants) > 0 {
		ref.VariantID = formatID(out.Product.Variants[0].ID)
		ref.InventoryItemID = formatID(out.Product.Variants[0].InventoryItemID)
	}
	return ref, nil
}

// UpdateProduct pushes title, price and SKU for an existing listing.
func (c *Client) UpdateProduct(ctx context.Context, shop string, ref ProductRef, in ProductInput) error {
	productID, err := parseID(ref.ProductID)
	if err != nil {
		return err
	}
	variant := variantBody{SKU: in.SKU, Price: in.Price.StringFixed(2)}
	if ref.VariantID != "" {
		variantID, err := parseID(ref.VariantID)
		if err != nil {
			return err
		}
		variant.ID = &variantID
	}
	body := productEnvelope{Product: productBody{
		ID:       &productID,
		Title:    in.Title,
		Status:   in.Status,
		Variants: []variantBody{variant},
	}}
	return c.do(ctx, shop, http.MethodPut, "/products/"+ref.ProductID+".json", body, nil)
}

// SetProductStatus flips a listing between active and draft.
func (c *Client) SetProductStatus(ctx context.Context, shop, productID, status string) error {
	id, err := parseID(productID)
	if err != nil {
		return err
	}
	body := productEnvelope{Product: productBody{ID: &id, Status: status}}
	return c.do(ctx, shop, http.MethodPut, "/products/"+productID+".json", body, nil)
}

// DeleteProduct removes a listing. A listing that is already gone counts as deleted.
func (c *Client) DeleteProduct(ctx context.Context, shop, productID string) error {
	if _, err := parseID(productID); err != nil {
		return err
	}
	err := c.do(ctx, shop, http.MethodDelete, "/products/"+productID+".json", nil, nil)
	if IsNotFound(err) {
		return nil
	}
	return err
}

// SetInventoryLevel sets the absolute available count at a location.
func (c *Client) SetInventoryLevel(ctx context.Context, shop, inventoryItemID, locationID string, available int) error {
	itemID, err := parseID(inventoryItemID)
	if err != nil {
		return err
	}
	locID, err := parseID(locationID)
	if err != nil {
		return err
	}
	body := map[string]any{
		"inventory_item_id": itemID,
		"location_id":       locID,
		"available":         available,
	}
	return c.do(ctx, shop, http.MethodPost, "/inventory_levels/set.json", body, nil)
}

// ConnectInventoryLevel stocks an inventory item at a location.
func (c *Client) ConnectInventoryLevel(ctx context.Context, shop, inventoryItemID, locationID string) error {
	itemID, err := parseID(inventoryItemID)
	if err != nil {
		return err
	}
	locID, err := parseID(locationID)
	if err != nil {
		return err
	}
	body := map[string]any{
		"inventory_item_id":     itemID,
		"location_id":           locID,
		"relocate_if_necessary": true,
	}
	return c.do(ctx, shop, http.MethodPost, "/inventory_levels/connect.json", body, nil)
}

func (c *Client) do(ctx context.Context, shop, method, path string, body any, out any) error {
	shop = strings.ToLower(strings.TrimSpace(shop))
	token, ok := c.tokens[shop]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownShop, shop)
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal shopify request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(shop, path), reader)
	if err != nil {
		return fmt.Errorf("build shopify request: %w", err)
	}
	req.Header.Set(accessTokenHeader, token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute shopify request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	c.observeCallLimit(shop, resp.Header.Get(callLimitHeader))

	if resp.StatusCode == http.StatusTooManyRequests {
		return &RateLimitError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode shopify response: %w", err)
	}
	return nil
}

func (c *Client) endpoint(shop, path string) string {
	base := c.baseURL
	if base == "" {
		base = "https://" + shop
	}
	return fmt.Sprintf("%s/admin/api/%s%s", base, c.apiVersion, path)
}

func (c *Client) observeCallLimit(shop, header string) {
	if c.observer == nil || header == "" {
		return
	}
	usedRaw, limitRaw, ok := strings.Cut(header, "/")
	if !ok {
		return
	}
	used, err := strconv.Atoi(strings.TrimSpace(usedRaw))
	if err != nil {
		return
	}
	limit, err := strconv.Atoi(strings.TrimSpace(limitRaw))
	if err != nil {
		return
	}
	c.observer.ObserveCallLimit(shop, used, limit)
}

func parseRetryAfter(value string) time.Duration {
	seconds, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || seconds <= 0 {
		return defaultRetryAfter
	}
	return time.Duration(seconds * float64(time.Second))
}

func parseID(value string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || id <= 0 {
		return 0, &APIError{StatusCode: http.StatusUnprocessableEntity, Body: fmt.Sprintf("invalid remote id %q", value)}
	}
	return id, nil
}

func formatID(id int64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatInt(id, 10)
}
