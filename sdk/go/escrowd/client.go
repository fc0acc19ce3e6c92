package escrowd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the escrowd admin REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu          sync.RWMutex
	accessToken string
}

// Delivery is one recorded seller delivery notification.
type Delivery struct {
	ID            string          `json:"id"`
	TransactionID string          `json:"transaction_id"`
	ServiceID     string          `json:"service_id,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Verified      bool            `json:"verified"`
	DeliveredAt   int64           `json:"delivered_at"`
	Status        string          `json:"status"`
	Attempts      int             `json:"attempts"`
	MaxRetries    int             `json:"max_retries"`
	LastError     string          `json:"last_error,omitempty"`
	ErrorCode     string          `json:"error_code,omitempty"`
	Outcome       string          `json:"outcome,omitempty"`
	CreatedAt     int64           `json:"created_at"`
	UpdatedAt     int64           `json:"updated_at"`
}

// DeliveryFilter narrows ListDeliveries. Zero values are omitted.
type DeliveryFilter struct {
	Statuses      []string
	Verified      *bool
	TransactionID string
	Limit         int
	Offset        int
	// Ascending orders by update time, oldest first.
	Ascending bool
}

// DeliveryStats aggregates delivery states.
type DeliveryStats struct {
	Total           int   `json:"total"`
	Pending         int   `json:"pending"`
	Running         int   `json:"running"`
	Succeeded       int   `json:"succeeded"`
	Failed          int   `json:"failed"`
	OldestUpdatedAt int64 `json:"oldest_updated_at,omitempty"`
	NewestUpdatedAt int64 `json:"newest_updated_at,omitempty"`
}

// EscrowSnapshot compares the on-chain escrow with the backend record.
type EscrowSnapshot struct {
	EscrowID    string          `json:"escrowId"`
	ChainStatus string          `json:"chainStatus"`
	Buyer       string          `json:"buyer"`
	Seller      string          `json:"seller"`
	Token       string          `json:"token"`
	Locked      string          `json:"lockedAmount"`
	Fee         string          `json:"platformFee"`
	Deadline    time.Time       `json:"deadline"`
	DeliveredAt *time.Time      `json:"deliveredAt,omitempty"`
	Transaction json.RawMessage `json:"transaction"`
	Expected    []string        `json:"expectedBackendStatus"`
	InSync      bool            `json:"inSync"`
}

// FieldError points at an invalid query parameter.
type FieldError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string       `json:"code"`
	Message    string       `json:"error"`
	Details    []FieldError `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("escrowd api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("escrowd api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the escrowd admin API. When httpClient
// is nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// AccessToken returns the currently stored token string.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// SetAccessToken stores the bearer token sent with every request.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
}

// ListDeliveries returns recorded deliveries, newest first by default.
func (c *Client) ListDeliveries(ctx context.Context, filter DeliveryFilter) ([]Delivery, error) {
	var out struct {
		Deliveries []Delivery `json:"deliveries"`
	}
	if err := c.get(ctx, "/api/v1/deliveries", filter.query(), &out); err != nil {
		return nil, err
	}
	return out.Deliveries, nil
}

// GetDelivery fetches one delivery by id.
func (c *Client) GetDelivery(ctx context.Context, id string) (Delivery, error) {
	var d Delivery
	if err := c.get(ctx, "/api/v1/deliveries/"+url.PathEscape(id), nil, &d); err != nil {
		return Delivery{}, err
	}
	return d, nil
}

// DeliveryStats aggregates deliveries matching filter. Paging fields are ignored.
func (c *Client) DeliveryStats(ctx context.Context, filter DeliveryFilter) (DeliveryStats, error) {
	filter.Limit, filter.Offset = 0, 0
	var stats DeliveryStats
	if err := c.get(ctx, "/api/v1/deliveries/stats", filter.query(), &stats); err != nil {
		return DeliveryStats{}, err
	}
	return stats, nil
}

// EscrowSnapshot returns the reconciled view of a transaction's escrow.
func (c *Client) EscrowSnapshot(ctx context.Context, txID string) (EscrowSnapshot, error) {
	var snap EscrowSnapshot
	if err := c.get(ctx, "/api/v1/escrows/"+url.PathEscape(txID), nil, &snap); err != nil {
		return EscrowSnapshot{}, err
	}
	return snap, nil
}

func (f DeliveryFilter) query() url.Values {
	q := url.Values{}
	if len(f.Statuses) > 0 {
		q.Set("status", strings.Join(f.Statuses, ","))
	}
	if f.Verified != nil {
		q.Set("verified", strconv.FormatBool(*f.Verified))
	}
	if f.TransactionID != "" {
		q.Set("transaction", f.TransactionID)
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	if f.Offset > 0 {
		q.Set("offset", strconv.Itoa(f.Offset))
	}
	if f.Ascending {
		q.Set("order", "asc")
	}
	return q
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, query, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	u := c.baseURL.ResolveReference(rel)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	token := c.AccessToken()
	if token == "" {
		return nil, errors.New("escrowd: access token is not set")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
