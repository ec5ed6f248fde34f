package wire

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"transparencyd/internal/identity"
)

// Default HTTP transport settings.
const (
	DefaultHTTPTimeout = 30 * time.Second
	defaultRetryAfter  = 30 * time.Second

	searchPath  = "/v1/kt/search"
	monitorPath = "/v1/kt/monitor"
)

// HTTPConfig configures the HTTP transport client.
type HTTPConfig struct {
	// BaseURL of the transparency frontend, without trailing slash.
	BaseURL string

	// Timeout for a single round trip.
	Timeout time.Duration

	// UserAgent sent with every request.
	UserAgent string
}

// HTTPClient is a thin transport implementation of Client against a
// transparency frontend that performs proof handling service-side. It maps
// transport conditions onto the wire error taxonomy and persists returned
// state through the LogStore; it contains no check-ordering logic of its
// own.
type HTTPClient struct {
	base      string
	userAgent string
	client    *http.Client
}

// NewHTTPClient creates an HTTP transport client.
func NewHTTPClient(cfg HTTPConfig) *HTTPClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultHTTPTimeout
	}
	return &HTTPClient{
		base:      cfg.BaseURL,
		userAgent: cfg.UserAgent,
		client:    &http.Client{Timeout: timeout},
	}
}

// callPayload is the JSON body for search and monitor calls.
type callPayload struct {
	AccountID    string `json:"account_id"`
	IdentityKey  []byte `json:"identity_key"`
	E164         string `json:"e164,omitempty"`
	AccessKey    []byte `json:"access_key,omitempty"`
	UsernameHash []byte `json:"username_hash,omitempty"`
	TreeHead     []byte `json:"distinguished_tree_head,omitempty"`
	AccountData  []byte `json:"account_data,omitempty"`
}

// callResult is the JSON body of a successful response.
type callResult struct {
	TreeHead    []byte `json:"distinguished_tree_head"`
	AccountData []byte `json:"account_data"`
}

// errorResult is the JSON body of a failed response.
type errorResult struct {
	Reason string `json:"reason"`
}

// Search implements Client.
func (c *HTTPClient) Search(ctx context.Context, req Request, store LogStore) error {
	return c.call(ctx, c.base+searchPath, req, store)
}

// Monitor implements Client.
func (c *HTTPClient) Monitor(ctx context.Context, mode MonitorMode, req Request, store LogStore) error {
	return c.call(ctx, c.base+monitorPath+"?mode="+mode.String(), req, store)
}

func (c *HTTPClient) call(ctx context.Context, url string, req Request, store LogStore) error {
	payload, err := c.buildPayload(ctx, req, store)
	if err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.userAgent != "" {
		httpReq.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &ConnectionError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &IOError{Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return c.persistResult(ctx, req.ACI, raw, store)
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitedError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	case resp.StatusCode == http.StatusConflict:
		return &VerificationError{Reason: errorReason(raw)}
	case resp.StatusCode >= 500:
		return &TransportError{Err: fmt.Errorf("status %d: %s", resp.StatusCode, errorReason(raw))}
	default:
		return &ProtocolError{Reason: fmt.Sprintf("status %d: %s", resp.StatusCode, errorReason(raw))}
	}
}

// buildPayload assembles a call body from the request and current durable
// state.
func (c *HTTPClient) buildPayload(ctx context.Context, req Request, store LogStore) (*callPayload, error) {
	head, err := store.LastDistinguishedTreeHead(ctx)
	if err != nil {
		return nil, fmt.Errorf("read tree head: %w", err)
	}
	data, err := store.AccountData(ctx, req.ACI)
	if err != nil {
		return nil, fmt.Errorf("read account data: %w", err)
	}

	p := &callPayload{
		AccountID:    req.ACI.String(),
		IdentityKey:  req.IdentityKey,
		UsernameHash: req.UsernameHash,
		TreeHead:     head,
		AccountData:  data,
	}
	if req.E164 != nil {
		p.E164 = string(req.E164.Number)
		p.AccessKey = req.E164.AccessKey[:]
	}
	return p, nil
}

// persistResult writes the returned tree head and account blob.
func (c *HTTPClient) persistResult(ctx context.Context, aci identity.ACI, raw []byte, store LogStore) error {
	var res callResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return &ProtocolError{Reason: fmt.Sprintf("malformed response body: %v", err)}
	}
	if len(res.TreeHead) == 0 || len(res.AccountData) == 0 {
		return &ProtocolError{Reason: "response missing tree head or account data"}
	}
	if err := store.SetLastDistinguishedTreeHead(ctx, res.TreeHead); err != nil {
		return fmt.Errorf("persist tree head: %w", err)
	}
	if err := store.SetAccountData(ctx, aci, res.AccountData); err != nil {
		return fmt.Errorf("persist account data: %w", err)
	}
	return nil
}

// parseRetryAfter interprets a Retry-After header value in seconds. Missing
// or malformed values fall back to a fixed delay rather than hammering the
// service.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return defaultRetryAfter
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return defaultRetryAfter
	}
	return time.Duration(secs) * time.Second
}

func errorReason(raw []byte) string {
	var e errorResult
	if err := json.Unmarshal(raw, &e); err == nil && e.Reason != "" {
		return e.Reason
	}
	return string(bytes.TrimSpace(raw))
}
