package tickets

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/threadscribe/internal/retry"
)

var ErrCreateFailed = errors.New("ticket creation failed")

// Client is the boundary to the external ticket system. CreateBatch must be
// retry-safe: the idempotency key in the request guarantees the target does
// not double-create when a retry follows a timeout.
type Client interface {
	CreateBatch(ctx context.Context, req CreateRequest) (*CreateResult, error)
}

// HTTPClient talks to the ticket system's REST API. Requests are rate
// limited client-side; the target throttles hard above 5 rps.
type HTTPClient struct {
	baseURL     string
	token       string
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	retryConfig retry.Config
}

func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL:     baseURL,
		token:       token,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		rateLimiter: rate.NewLimiter(rate.Every(1*time.Second), 5), // 5 requests per second
		retryConfig: retry.DefaultConfig(),
	}
}

func (c *HTTPClient) CreateBatch(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode create request: %w", err)
	}

	var result CreateResult
	res := retry.Do(ctx, c.retryConfig, func() error {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return err
		}
		return c.post(ctx, "/rest/api/batch", body, &result)
	})
	if !res.Success {
		return nil, fmt.Errorf("%w: %v", ErrCreateFailed, res.LastError)
	}

	log.Info().
		Str("tenant_id", req.TenantID).
		Int("items", len(req.Items)).
		Str("idempotency_key", req.IdempotencyKey[:12]).
		Msg("batch created")
	return &result, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, body []byte, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ticket API returned %d: %s", resp.StatusCode, string(payload))
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
