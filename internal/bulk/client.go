// Package bulk sends signed bulk requests and classifies the per-item
// outcome.
package bulk

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"

	"github.com/Nao-Mk2/cwl-shipper/internal/model"
)

// DefaultTimeout bounds a single bulk round trip when the caller's context
// has no deadline.
const DefaultTimeout = 30 * time.Second

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithScheme overrides the URL scheme. Only tests should need "http".
func WithScheme(scheme string) Option {
	return func(c *Client) { c.scheme = scheme }
}

// Client performs exactly one HTTP round trip per Send; it never retries.
type Client struct {
	http   *http.Client
	scheme string
}

// New creates a Client.
func New(opts ...Option) *Client {
	c := &Client{
		http:   &http.Client{Timeout: DefaultTimeout},
		scheme: "https",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type bulkResponse struct {
	Took   int              `json:"took"`
	Errors bool             `json:"errors"`
	Items  []model.BulkItem `json:"items"`
}

// Send posts req and returns the classified result with the HTTP status.
func (c *Client) Send(ctx context.Context, req *model.SignedRequest) (*model.BulkResult, int, error) {
	if req == nil {
		return nil, 0, errors.New("nil signed request")
	}
	url := fmt.Sprintf("%s://%s%s", c.scheme, req.Host, req.Path)
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, url, bytes.NewReader(req.Body))
	if err != nil {
		return nil, 0, &TransportError{Host: req.Host, Err: fmt.Errorf("create request: %w", err)}
	}
	for _, h := range req.Headers {
		switch h.Name {
		case "Host":
			httpReq.Host = h.Value
		case "Content-Length":
			// Derived from the body by net/http.
		default:
			httpReq.Header.Set(h.Name, h.Value)
		}
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, 0, &TransportError{Host: req.Host, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, &TransportError{Host: req.Host, Err: fmt.Errorf("read response: %w", err)}
	}

	var parsed bulkResponse
	if err := sonic.ConfigStd.Unmarshal(body, &parsed); err != nil {
		return nil, resp.StatusCode, &RequestError{
			StatusCode: resp.StatusCode,
			Body:       string(body),
			Err:        fmt.Errorf("parse response: %w", err),
		}
	}

	result := Classify(parsed.Items)
	if resp.StatusCode != http.StatusOK || parsed.Errors {
		return nil, resp.StatusCode, &RequestError{
			StatusCode: resp.StatusCode,
			Body:       string(body),
			Result:     result,
		}
	}
	return result, resp.StatusCode, nil
}

// Classify counts items and collects those whose status is 300 or more.
func Classify(items []model.BulkItem) *model.BulkResult {
	res := &model.BulkResult{
		AttemptedItems: len(items),
		FailedItems:    []model.BulkItem{},
	}
	for _, it := range items {
		if _, out := it.Outcome(); out.Status >= 300 {
			res.FailedItems = append(res.FailedItems, it)
		}
	}
	res.SuccessfulItems = res.AttemptedItems - len(res.FailedItems)
	return res
}
