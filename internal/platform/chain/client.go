package chain

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// ClientConfig configures the HTTP JSON-RPC client.
type ClientConfig struct {
	URL string
	// MaxRetries is the number of extra attempts for a request that failed
	// at the transport or with a retryable status.
	MaxRetries int
	// RequestTimeout bounds one call including its retries.
	RequestTimeout time.Duration
}

// Dial connects an ethclient over HTTP. Transient failures are retried
// inside the transport, so callers see one call succeed or fail.
func Dial(ctx context.Context, cfg ClientConfig, logger *slog.Logger) (*ethclient.Client, error) {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	httpClient := &http.Client{
		Timeout: cfg.RequestTimeout,
		Transport: &retryTransport{
			base:       http.DefaultTransport,
			maxRetries: cfg.MaxRetries,
			backoff:    250 * time.Millisecond,
			logger:     logger.With(slog.String("component", "rpc")),
		},
	}

	rc, err := rpc.DialOptions(ctx, cfg.URL, rpc.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", cfg.URL, err)
	}
	return ethclient.NewClient(rc), nil
}

// retryTransport retries requests that failed before a usable response
// arrived: network errors, 429 and 5xx. The request body is replayed from
// GetBody.
type retryTransport struct {
	base       http.RoundTripper
	maxRetries int
	backoff    time.Duration
	logger     *slog.Logger
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil && req.GetBody == nil {
		b, err := io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, err
		}
		body = b
	}

	delay := t.backoff
	for attempt := 0; ; attempt++ {
		r := req
		if attempt > 0 || body != nil {
			r = req.Clone(req.Context())
			switch {
			case body != nil:
				r.Body = io.NopCloser(bytes.NewReader(body))
			case req.GetBody != nil:
				b, err := req.GetBody()
				if err != nil {
					return nil, err
				}
				r.Body = b
			}
		}

		resp, err := t.base.RoundTrip(r)
		if !retryable(resp, err) || attempt >= t.maxRetries {
			return resp, err
		}

		reason := ""
		if err != nil {
			reason = err.Error()
		} else {
			reason = resp.Status
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
		t.logger.Warn("rpc request failed, retrying",
			slog.Int("attempt", attempt+1),
			slog.Int("max_retries", t.maxRetries),
			slog.String("reason", reason),
		)

		select {
		case <-req.Context().Done():
			return nil, req.Context().Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
}

func retryable(resp *http.Response, err error) bool {
	if err != nil {
		return true
	}
	return resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
}
