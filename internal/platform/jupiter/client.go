// Package jupiter is the Solana quote source backed by the Jupiter swap API.
package jupiter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

const (
	// DefaultBaseURL is the Jupiter Lite API endpoint.
	DefaultBaseURL = "https://lite-api.jup.ag/swap/v1"

	defaultTimeout      = 10 * time.Second
	defaultMaxRetries   = 2
	defaultRetryBackoff = 500 * time.Millisecond
)

// Error codes Jupiter uses for "no path" answers.
var noRouteCodes = map[string]bool{
	"COULD_NOT_FIND_ANY_ROUTE": true,
	"NO_ROUTES_FOUND":          true,
	"TOKEN_NOT_TRADABLE":       true,
}

// errNoRoute marks a successful answer that carries no route.
var errNoRoute = errors.New("jupiter: no route")

// Client is the REST client for the Jupiter swap API.
type Client struct {
	baseURL      string
	apiKey       string
	httpClient   *http.Client
	maxRetries   int
	retryBackoff time.Duration
}

// ClientConfig configures a Client. Zero values select defaults.
type ClientConfig struct {
	BaseURL      string
	APIKey       string
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
	HTTPClient   *http.Client
}

// NewClient creates a Jupiter API client.
func NewClient(cfg ClientConfig) *Client {
	c := &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       cfg.APIKey,
		httpClient:   cfg.HTTPClient,
		maxRetries:   cfg.MaxRetries,
		retryBackoff: cfg.RetryBackoff,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		c.httpClient = &http.Client{Timeout: timeout}
	}
	// A negative MaxRetries disables retries.
	switch {
	case cfg.MaxRetries < 0:
		c.maxRetries = 0
	case cfg.MaxRetries == 0:
		c.maxRetries = defaultMaxRetries
	}
	if c.retryBackoff <= 0 {
		c.retryBackoff = defaultRetryBackoff
	}
	return c
}

// GetQuote fetches a quote. A "no route" answer returns errNoRoute; transport
// and parse failures return *domain.QuoteError.
func (c *Client) GetQuote(ctx context.Context, p QuoteParams) (*QuoteResponse, error) {
	q := url.Values{}
	q.Set("inputMint", p.InputMint)
	q.Set("outputMint", p.OutputMint)
	q.Set("amount", p.Amount)
	q.Set("swapMode", "ExactIn")
	if p.SlippageBps > 0 {
		q.Set("slippageBps", strconv.Itoa(p.SlippageBps))
	}
	if len(p.Dexes) > 0 {
		q.Set("dexes", strings.Join(p.Dexes, ","))
	}

	body, err := c.do(ctx, "quote", http.MethodGet, "/quote?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var resp QuoteResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &domain.QuoteError{Op: "quote", Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(resp.RoutePlan) == 0 || resp.OutAmount == "" || resp.OutAmount == "0" {
		return nil, errNoRoute
	}
	resp.Raw = json.RawMessage(body)
	return &resp, nil
}

// GetSwapInstructions fetches the instructions that execute a quote.
func (c *Client) GetSwapInstructions(ctx context.Context, req SwapInstructionsRequest) (*SwapInstructionsResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, &domain.QuoteError{Op: "swap-instructions", Err: fmt.Errorf("encode request: %w", err)}
	}
	body, err := c.do(ctx, "swap-instructions", http.MethodPost, "/swap-instructions", payload)
	if err != nil {
		return nil, err
	}
	var resp SwapInstructionsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &domain.QuoteError{Op: "swap-instructions", Err: fmt.Errorf("decode response: %w", err)}
	}
	return &resp, nil
}

// do runs a request with bounded retries on transient failures.
func (c *Client) do(ctx context.Context, op, method, path string, payload []byte) ([]byte, error) {
	var lastErr error
	backoff := c.retryBackoff
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, &domain.QuoteError{Op: op, Transient: true, Err: ctx.Err()}
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		body, err := c.doOnce(ctx, op, method, path, payload)
		if err == nil {
			return body, nil
		}
		var qe *domain.QuoteError
		if !errors.As(err, &qe) || !qe.Transient {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (c *Client) doOnce(ctx context.Context, op, method, path string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, &domain.QuoteError{Op: op, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &domain.QuoteError{Op: op, Transient: true, Err: fmt.Errorf("http request: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.QuoteError{Op: op, Transient: true, Err: fmt.Errorf("read response: %w", err)}
	}
	if err := checkHTTPStatus(op, resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

func checkHTTPStatus(op string, statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	bodyStr := string(body)
	switch {
	case statusCode == http.StatusTooManyRequests:
		return &domain.QuoteError{Op: op, Transient: true, Err: fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)}
	case statusCode >= 500:
		return &domain.QuoteError{Op: op, Transient: true, Err: fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)}
	}

	var apiErr errorResponse
	if json.Unmarshal(body, &apiErr) == nil && noRouteCodes[apiErr.ErrorCode] {
		return errNoRoute
	}
	if statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden {
		return &domain.QuoteError{Op: op, Err: fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)}
	}
	return &domain.QuoteError{Op: op, Err: fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)}
}
