package llm

import (
	"context"
	"time"

	"github.com/threadscribe/internal/retry"
)

// Resilient wraps a Client with retry and timeout handling. Provider calls
// fail transiently often enough (rate limits, gateway errors) that every
// call site going through this wrapper is the default, not the exception.
type Resilient struct {
	client  Client
	config  retry.Config
	timeout time.Duration
}

func NewResilient(client Client) *Resilient {
	return &Resilient{
		client:  client,
		config:  retry.LLMConfig(),
		timeout: 45 * time.Second,
	}
}

func NewResilientWithConfig(client Client, config retry.Config, timeout time.Duration) *Resilient {
	return &Resilient{client: client, config: config, timeout: timeout}
}

func (r *Resilient) Complete(ctx context.Context, prompt string) (string, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	var out string
	result := retry.Do(ctx, r.config, func() error {
		resp, err := r.client.Complete(ctx, prompt)
		if err != nil {
			return err
		}
		out = resp
		return nil
	})
	if !result.Success {
		return "", result.LastError
	}
	return out, nil
}
