// Package posoffline is the offline resilience SDK for the POS dashboard.
//
// It pairs a response cache with a durable action queue so that order and
// draft mutations survive flaky connectivity and are replayed in order once
// the network returns.
//
// Example:
//
//	client := posoffline.NewClient("pos_live_...", posoffline.WithBaseURL("https://pos.example.com/api"))
//	storage, _ := posoffline.OpenSQLiteStorage("offline.db")
//
//	mgr := posoffline.NewOfflineManager(storage, client, nil)
//	mgr.Init(ctx)
//	defer mgr.Close(ctx)
//
//	res, _ := mgr.Dispatch(ctx, "/orders", "POST", posoffline.CreateOrderInput{...})
//	orders, _, _ := mgr.Loader().LoadOrders(ctx, nil)
package posoffline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ============================================================================
// Environment
// ============================================================================

const (
	DefaultBaseURL = "http://localhost:8080/api"
	DefaultTimeout = 15 * time.Second
)

// IdempotencyHeader carries the queued action's key on every replay.
const IdempotencyHeader = "Idempotency-Key"

// ============================================================================
// Client
// ============================================================================

// Client talks to the POS REST API. It implements Executor and Fetcher.
type Client struct {
	apiKey     string
	baseURL    string
	stationID  string
	httpClient *http.Client

	Customers *CustomersClient
	Services  *ServicesClient
	Discounts *DiscountsClient
	Stations  *StationsClient
	Orders    *OrdersClient
	Drafts    *DraftsClient
}

type ClientOption func(*Client)

func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithStationID tags every request with the register it originates from.
func WithStationID(id string) ClientOption {
	return func(c *Client) { c.stationID = id }
}

// NewClient creates a new POS API client.
// apiKey is optional; pass "" for an unauthenticated kiosk.
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		apiKey:  apiKey,
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	c.Customers = &CustomersClient{c: c}
	c.Services = &ServicesClient{c: c}
	c.Discounts = &DiscountsClient{c: c}
	c.Stations = &StationsClient{c: c}
	c.Orders = &OrdersClient{c: c}
	c.Drafts = &DraftsClient{c: c}
	return c
}

// BaseURL returns the configured API root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ============================================================================
// Executor / Fetcher
// ============================================================================

// Execute performs req and classifies failures into *ConnectivityError or *RejectedError.
func (c *Client) Execute(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		return nil, errors.New("posoffline: request is nil")
	}
	u := c.baseURL + "/" + strings.TrimLeft(req.Endpoint, "/")
	if len(req.Query) > 0 {
		u += "?" + req.Query.Encode()
	}

	var bodyReader io.Reader
	if len(req.Body) > 0 {
		bodyReader = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if bodyReader != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if c.stationID != "" {
		httpReq.Header.Set("X-Station-ID", c.stationID)
	}
	if req.IdempotencyKey != "" {
		httpReq.Header.Set(IdempotencyHeader, req.IdempotencyKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ctx.Err()
		}
		return nil, &ConnectivityError{Err: fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ConnectivityError{StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode >= 400 {
		return nil, classifyStatus(resp.StatusCode, data)
	}
	return &Response{StatusCode: resp.StatusCode, Body: data}, nil
}

// Fetch issues GET /<resource> and returns the unwrapped payload.
func (c *Client) Fetch(ctx context.Context, resource string, query url.Values) (json.RawMessage, error) {
	return ExecutorFetcher(c).Fetch(ctx, resource, query)
}

func classifyStatus(code int, body []byte) error {
	if retryableStatus(code) {
		return &ConnectivityError{StatusCode: code, Err: fmt.Errorf("server returned %s", http.StatusText(code))}
	}
	return &RejectedError{StatusCode: code, API: decodeAPIError(body), Body: body}
}

func decodeAPIError(body []byte) *APIError {
	var env Result
	if json.Unmarshal(body, &env) == nil && env.Error != nil {
		return env.Error
	}
	var bare APIError
	if json.Unmarshal(body, &bare) == nil && (bare.Code != "" || bare.Message != "") {
		return &bare
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body interface{}, query url.Values) (json.RawMessage, error) {
	req := &Request{Method: method, Endpoint: endpoint, Query: query}
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		req.Body = b
	}
	resp, err := c.Execute(ctx, req)
	if err != nil {
		return nil, err
	}
	return unwrapData(resp.Body), nil
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if len(data) == 0 {
		return &result, nil
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

func list[T any](ctx context.Context, c *Client, resource string, query url.Values) ([]T, error) {
	data, err := c.do(ctx, "GET", "/"+resource, nil, query)
	if err != nil {
		return nil, err
	}
	out, err := decodeJSON[[]T](data)
	if err != nil {
		return nil, err
	}
	return *out, nil
}

// ============================================================================
// Resource Sub-Clients
// ============================================================================

type CustomersClient struct{ c *Client }

func (r *CustomersClient) List(ctx context.Context, query url.Values) ([]Customer, error) {
	return list[Customer](ctx, r.c, ResourceCustomers, query)
}

func (r *CustomersClient) Create(ctx context.Context, in *Customer) (*Customer, error) {
	data, err := r.c.do(ctx, "POST", "/customers", in, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Customer](data)
}

type ServicesClient struct{ c *Client }

func (r *ServicesClient) List(ctx context.Context, query url.Values) ([]Service, error) {
	return list[Service](ctx, r.c, ResourceServices, query)
}

type DiscountsClient struct{ c *Client }

func (r *DiscountsClient) List(ctx context.Context, query url.Values) ([]Discount, error) {
	return list[Discount](ctx, r.c, ResourceDiscounts, query)
}

type StationsClient struct{ c *Client }

func (r *StationsClient) List(ctx context.Context, query url.Values) ([]Station, error) {
	return list[Station](ctx, r.c, ResourceStations, query)
}

type OrdersClient struct{ c *Client }

func (r *OrdersClient) List(ctx context.Context, query url.Values) ([]Order, error) {
	return list[Order](ctx, r.c, ResourceOrders, query)
}

func (r *OrdersClient) Create(ctx context.Context, in *CreateOrderInput) (*Order, error) {
	data, err := r.c.do(ctx, "POST", "/orders", in, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Order](data)
}

func (r *OrdersClient) Cancel(ctx context.Context, orderID string) error {
	_, err := r.c.do(ctx, "POST", "/orders/"+url.PathEscape(orderID)+"/cancel", nil, nil)
	return err
}

type DraftsClient struct{ c *Client }

func (r *DraftsClient) List(ctx context.Context, query url.Values) ([]Draft, error) {
	return list[Draft](ctx, r.c, ResourceDrafts, query)
}

func (r *DraftsClient) Save(ctx context.Context, d *Draft) (*Draft, error) {
	method, endpoint := "POST", "/drafts"
	if d.ID != "" {
		method, endpoint = "PUT", "/drafts/"+url.PathEscape(d.ID)
	}
	data, err := r.c.do(ctx, method, endpoint, d, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Draft](data)
}

func (r *DraftsClient) Delete(ctx context.Context, id string) error {
	_, err := r.c.do(ctx, "DELETE", "/drafts/"+url.PathEscape(id), nil, nil)
	return err
}
