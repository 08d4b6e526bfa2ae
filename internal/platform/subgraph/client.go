package subgraph

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sugawarayuuta/sonnet"
)

// Client is a GraphQL client for a Messari uniswap-v3-forks subgraph. One
// client serves one venue.
type Client struct {
	graphqlURL string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new subgraph client.
//
// graphqlURL is the subgraph endpoint, e.g.
// "https://api.thegraph.com/subgraphs/name/messari/uniswap-v3-polygon".
func NewClient(graphqlURL, apiKey string, logger *slog.Logger) *Client {
	return &Client{
		graphqlURL: graphqlURL,
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger.With(slog.String("component", "subgraph")),
	}
}

// URL returns the endpoint the client queries.
func (c *Client) URL() string {
	return c.graphqlURL
}

// graphqlRequest is the standard GraphQL request envelope.
type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// graphqlResponse is the standard GraphQL response envelope with a typed
// data field.
type graphqlResponse[T any] struct {
	Data   *T `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// Ping checks that the endpoint answers and returns the latest block the
// subgraph has indexed.
func (c *Client) Ping(ctx context.Context) (int64, error) {
	const query = `
		query LatestBlock {
			_meta {
				block {
					number
				}
			}
		}
	`

	var result struct {
		Meta struct {
			Block struct {
				Number int64 `json:"number"`
			} `json:"block"`
		} `json:"_meta"`
	}
	if err := doQuery(ctx, c, query, nil, &result); err != nil {
		return 0, fmt.Errorf("subgraph: fetch latest block: %w", err)
	}
	return result.Meta.Block.Number, nil
}

// doQuery executes a GraphQL query and decodes the "data" field into out.
func doQuery[T any](ctx context.Context, c *Client, query string, variables map[string]any, out *T) error {
	jsonBody, err := sonnet.Marshal(graphqlRequest{
		Query:     query,
		Variables: variables,
	})
	if err != nil {
		return fmt.Errorf("marshal graphql request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.graphqlURL, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	gqlResp := graphqlResponse[T]{Data: out}
	if err := sonnet.Unmarshal(body, &gqlResp); err != nil {
		return fmt.Errorf("decode graphql response: %w", err)
	}

	if len(gqlResp.Errors) > 0 {
		return fmt.Errorf("graphql error: %s", gqlResp.Errors[0].Message)
	}
	if gqlResp.Data == nil {
		return fmt.Errorf("graphql response without data")
	}

	return nil
}
