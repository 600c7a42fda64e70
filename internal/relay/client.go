package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// maxErrorBody caps how much of a failed backend response is read for logging.
const maxErrorBody = 64 << 10

// invokeRequest is the body the backend expects.
type invokeRequest struct {
	Input string `json:"input"`
}

// Client calls the text-generation backend.
type Client struct {
	url        string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// ClientOptions configures a Client.
type ClientOptions struct {
	Timeout time.Duration // 0 means no client-side timeout
	// RateLimit is the number of calls per second, 0 means unlimited.
	RateLimit  float64
	HTTPClient *http.Client // Optional, overrides Timeout
}

// NewClient creates a backend client for rawURL. The URL is normalized once here.
func NewClient(rawURL string, opts ClientOptions, logger *zap.Logger) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	}

	return &Client{
		url:        NormalizeURL(rawURL),
		httpClient: httpClient,
		limiter:    limiter,
		logger:     logger.Named("backend"),
	}
}

// URL returns the normalized backend address.
func (c *Client) URL() string {
	return c.url
}

// Invoke posts input to the backend. On success the caller owns the response
// body. A non-2xx status yields ErrBackend; the body is logged, not returned.
func (c *Client) Invoke(ctx context.Context, input string) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for backend rate limiter: %w", err)
	}

	jsonData, err := json.Marshal(invokeRequest{Input: input})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request to backend failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.logger.Error("Backend API error",
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(body)),
			zap.Duration("elapsed", time.Since(start)),
		)
		return nil, fmt.Errorf("%w: %s", ErrBackend, statusText(resp))
	}

	c.logger.Debug("Backend responded",
		zap.Int("status", resp.StatusCode),
		zap.String("content_type", resp.Header.Get("Content-Type")),
		zap.Duration("elapsed", time.Since(start)),
	)
	return resp, nil
}

func statusText(resp *http.Response) string {
	if text := http.StatusText(resp.StatusCode); text != "" {
		return text
	}
	return resp.Status
}
