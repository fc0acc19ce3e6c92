package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	xerrors "AgentEscrow/internal/errors"
)

const (
	// DefaultBaseURL is the production backend.
	DefaultBaseURL = "https://abbababa.com"
	// DefaultTimeout bounds every request made by clients created without a
	// custom http.Client.
	DefaultTimeout = 30 * time.Second
	// DefaultRetryAfter is assumed when a 429 response carries no usable
	// Retry-After header.
	DefaultRetryAfter = 60 * time.Second
)

// Config configures a Client.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// HTTPClient overrides the transport. Its Timeout wins over Timeout.
	HTTPClient *http.Client
}

// Client wraps the HTTP interactions with the escrow backend REST API.
type Client struct {
	baseURL    *url.URL
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
	now        func() time.Time
}

// NewClient instantiates a backend client. An API key is required.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "ledger api key is required")
	}
	return newClient(cfg)
}

func newClient(cfg Config) (*Client, error) {
	raw := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if raw == "" {
		raw = DefaultBaseURL
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("invalid ledger base url %q", cfg.BaseURL))
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	} else if httpClient.Timeout > 0 {
		timeout = httpClient.Timeout
	}
	return &Client{
		baseURL:    parsed,
		apiKey:     cfg.APIKey,
		timeout:    timeout,
		httpClient: httpClient,
		now:        time.Now,
	}, nil
}

// BaseURL returns the backend root the client talks to.
func (c *Client) BaseURL() string { return c.baseURL.String() }

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, query, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

// post sends payload as JSON. A nil payload sends no body.
func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode request")
		}
		body = bytes.NewReader(data)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, nil, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader) (*http.Request, error) {
	u := *c.baseURL
	u.Path = strings.TrimRight(c.baseURL.Path, "/") + endpoint
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "create request")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// do performs req and decodes the data member of the envelope into out.
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.transportError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return c.transportError(err)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return xerrors.Wrap(xerrors.CodeUnknown, err,
			fmt.Sprintf("invalid JSON response (HTTP %d)", resp.StatusCode),
			xerrors.WithMetadata("status", fmt.Sprint(resp.StatusCode)))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.statusError(resp, env)
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return xerrors.Wrap(xerrors.CodeUnknown, err, "decode response data")
	}
	return nil
}

func (c *Client) transportError(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return xerrors.Wrap(xerrors.CodeTimeout, err, fmt.Sprintf("request timed out after %s", c.timeout))
	}
	return xerrors.Wrap(xerrors.CodeNetworkError, err, "network error")
}

func (c *Client) statusError(resp *http.Response, env envelope) error {
	message := env.Error
	if message == "" {
		message = fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	status := xerrors.WithMetadata("status", fmt.Sprint(resp.StatusCode))
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return xerrors.New(xerrors.CodeUnauthenticated, message, status)
	case http.StatusPaymentRequired:
		opts := []xerrors.Option{status}
		if len(env.Details) > 0 {
			opts = append(opts, xerrors.WithMetadata("details", string(env.Details)))
		}
		return xerrors.New(xerrors.CodePaymentRequired, message, opts...)
	case http.StatusForbidden:
		return xerrors.New(xerrors.CodeForbidden, message, status)
	case http.StatusNotFound:
		return xerrors.New(xerrors.CodeNotFound, message, status)
	case http.StatusBadRequest:
		return xerrors.New(xerrors.CodeValidation, message, status, xerrors.WithFieldErrors(fieldErrors(env.Details)...))
	case http.StatusTooManyRequests:
		wait := xerrors.ParseRetryAfter(resp.Header.Get("Retry-After"), c.now(), DefaultRetryAfter)
		return xerrors.New(xerrors.CodeRateLimited, message, status, xerrors.WithRetryAfter(wait))
	default:
		return xerrors.New(xerrors.CodeUnknown, message, status)
	}
}

// fieldErrors flattens the backend's validation details. Unparseable details
// are ignored.
func fieldErrors(raw json.RawMessage) []xerrors.FieldError {
	if len(raw) == 0 {
		return nil
	}
	var details []detail
	if err := json.Unmarshal(raw, &details); err != nil {
		return nil
	}
	out := make([]xerrors.FieldError, 0, len(details))
	for _, d := range details {
		parts := make([]string, 0, len(d.Path))
		for _, p := range d.Path {
			parts = append(parts, fmt.Sprint(p))
		}
		path := strings.Join(parts, ".")
		if path == "" {
			path = "unknown"
		}
		msg := d.Message
		if msg == "" {
			msg = "invalid"
		}
		out = append(out, xerrors.FieldError{Path: path, Message: msg})
	}
	return out
}
