// Package webfetch implements the web.fetch tool: an HTTP GET bounded by a
// 30s timeout and a per-process rate limit.
package webfetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/quietloop/agentd/internal/toolregistry"
	"golang.org/x/time/rate"
)

// DefaultTimeout is the web fetch timeout per the concurrency model.
const DefaultTimeout = 30 * time.Second

// MaxBodyBytes caps how much of a response is read back to the model.
const MaxBodyBytes = 512 * 1024

var schema = json.RawMessage(`{
	"type": "object",
	"properties": {"url": {"type": "string"}},
	"required": ["url"]
}`)

// Register adds web.fetch to reg, rate-limited to limit requests per
// second with the given burst.
func Register(reg *toolregistry.Registry, limit rate.Limit, burst int) {
	limiter := rate.NewLimiter(limit, burst)
	client := &http.Client{Timeout: DefaultTimeout}

	reg.Register(toolregistry.Descriptor{
		Name:            "web.fetch",
		Description:     "Fetch a URL over HTTP and return its body as text.",
		ParameterSchema: schema,
		Handler:         handler(client, limiter),
	})
}

func handler(client *http.Client, limiter *rate.Limiter) toolregistry.Handler {
	return func(ctx context.Context, args map[string]any) (any, error) {
		url, ok := args["url"].(string)
		if !ok || url == "" {
			return nil, fmt.Errorf("web.fetch: missing required argument \"url\"")
		}

		if err := limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("web.fetch: rate limited: %w", err)
		}

		fetchCtx, cancel := context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("web.fetch: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			if fetchCtx.Err() == context.DeadlineExceeded {
				return nil, fmt.Errorf("web.fetch: timed out after %s", DefaultTimeout)
			}
			return nil, fmt.Errorf("web.fetch: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodyBytes))
		if err != nil {
			return nil, fmt.Errorf("web.fetch: read body: %w", err)
		}

		return map[string]any{
			"status": resp.StatusCode,
			"body":   string(body),
		}, nil
	}
}
