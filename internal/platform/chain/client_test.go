package chain

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRetryClient(maxRetries int) *http.Client {
	return &http.Client{
		Timeout: 5 * time.Second,
		Transport: &retryTransport{
			base:       http.DefaultTransport,
			maxRetries: maxRetries,
			backoff:    time.Millisecond,
			logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		},
	}
}

func TestRetryTransport_RetriesServerErrorsWithBody(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, `{"method":"eth_chainId"}`, string(body), "body replayed on every attempt")
		if attempts.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `{"result":"0x89"}`)
	}))
	t.Cleanup(srv.Close)

	resp, err := newRetryClient(3).Post(srv.URL, "application/json", strings.NewReader(`{"method":"eth_chainId"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestRetryTransport_GivesUpAfterMaxRetries(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)

	resp, err := newRetryClient(2).Post(srv.URL, "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, int32(3), attempts.Load(), "one attempt plus two retries")
}

func TestRetryTransport_ClientErrorsAreFinal(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	t.Cleanup(srv.Close)

	resp, err := newRetryClient(3).Post(srv.URL, "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, int32(1), attempts.Load())
}
