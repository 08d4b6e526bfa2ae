package postgres

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// setupTestDB starts a PostgreSQL container and applies the embedded
// migrations. It skips when -short is set or no container runtime is
// available.
func setupTestDB(t *testing.T) *Client {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres container tests skipped in -short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("flasharb"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	c, err := New(ctx, ClientConfig{DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(c.Close)

	require.NoError(t, c.RunMigrations(ctx))
	require.NoError(t, c.RunMigrations(ctx), "migrations are idempotent")
	return c
}

var (
	weth = domain.Token{ID: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", Symbol: "WETH", Decimals: 18}
	wbtc = domain.Token{ID: "0x2260FAC5E5542a773Aa44fBCfeDf7C193bc2C599", Symbol: "WBTC", Decimals: 8}
	usdc = domain.Token{ID: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Symbol: "USDC", Decimals: 6}
)

func testPool(id string, a, b domain.Token, feePct string) domain.Pool {
	return domain.Pool{
		ID:          id,
		Name:        a.Symbol + "/" + b.Symbol,
		Symbol:      a.Symbol + "-" + b.Symbol,
		InputTokens: []domain.Token{a, b},
		Fees: []domain.Fee{{
			FeePercentage: decimal.RequireFromString(feePct),
			FeeType:       domain.FeeTypeTrading,
		}},
	}
}

func testOpportunity(logIndex uint) domain.Opportunity {
	profit := decimal.RequireFromString("12345.6789")
	return domain.Opportunity{
		Venue:          "uniswap_v3",
		TokenAIn:       decimal.RequireFromString("1000000000000000000000"),
		PriceState:     decimal.RequireFromString("1.0005"),
		PriceImpactBps: decimal.RequireFromString("63.5"),
		Trigger: domain.SwapEvent{
			Pool:        common.HexToAddress("0x00000000000000000000000000000000000000aa"),
			TxHash:      common.HexToHash("0xfeed"),
			LogIndex:    logIndex,
			BlockNumber: 19_000_000,
		},
		Plan: domain.ArbitragePlan{
			Swap1: domain.SwapLeg{TokenIn: weth, TokenOut: wbtc, Pool: "0xAA", FeeTier: 3000},
			Swap2: domain.SwapLeg{TokenIn: wbtc, TokenOut: usdc, Pool: "0xBB", FeeTier: 500},
			Swap3: domain.SwapLeg{TokenIn: usdc, TokenOut: weth, Pool: "0xCC", FeeTier: 100},
		},
		ExpectedProfit: &profit,
	}
}

func TestStores(t *testing.T) {
	c := setupTestDB(t)
	ctx := t.Context()

	t.Run("pools upsert and list", func(t *testing.T) {
		s := NewPoolStore(c.Pool())
		require.NoError(t, s.UpsertBatch(ctx, "uniswap_v3", nil))

		pools := []domain.Pool{
			testPool("0xBB", wbtc, usdc, "0.05"),
			testPool("0xAA", weth, wbtc, "0.3"),
		}
		require.NoError(t, s.UpsertBatch(ctx, "uniswap_v3", pools))

		pools[1].Name = "renamed"
		require.NoError(t, s.UpsertBatch(ctx, "uniswap_v3", pools[1:]))

		got, err := s.ListByVenue(ctx, "uniswap_v3")
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "0xaa", got[0].ID)
		assert.Equal(t, "renamed", got[0].Name)
		assert.Equal(t, uint32(3000), got[0].FeeTier())
		assert.Equal(t, "WBTC", got[1].InputTokens[0].Symbol)

		other, err := s.ListByVenue(ctx, "pancakeswap_v3")
		require.NoError(t, err)
		assert.Empty(t, other)
	})

	t.Run("opportunities insert once", func(t *testing.T) {
		s := NewOpportunityStore(c.Pool())
		first := testOpportunity(1)
		require.NoError(t, s.Insert(ctx, first))
		require.NoError(t, s.Insert(ctx, first))

		noProfit := testOpportunity(2)
		noProfit.ExpectedProfit = nil
		require.NoError(t, s.Insert(ctx, noProfit))

		got, err := s.ListRecent(ctx, 10)
		require.NoError(t, err)
		require.Len(t, got, 2)

		byID := map[string]domain.OpportunitySummary{}
		for _, o := range got {
			byID[o.ID] = o
		}
		o := byID[first.ID()]
		assert.Equal(t, "WETH -> WBTC -> USDC -> WETH", o.Cycle)
		assert.Equal(t, "1000000000000000000000", o.TokenAIn)
		assert.Equal(t, "63.5", o.PriceImpactBps)
		assert.Equal(t, "12345.6789", o.ExpectedProfit)
		assert.Empty(t, byID[noProfit.ID()].ExpectedProfit)

		var legs int
		require.NoError(t, c.Pool().QueryRow(ctx,
			"SELECT COUNT(*) FROM opportunity_legs WHERE opportunity_id = $1", first.ID()).Scan(&legs))
		assert.Equal(t, 3, legs)
	})

	t.Run("executions and confirmations", func(t *testing.T) {
		s := NewExecutionStore(c.Pool())
		base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		txHash := common.HexToHash("0xabc1")

		require.NoError(t, s.Create(ctx, domain.ExecutionRecord{
			ID: "exec-1", OpportunityID: "opp-1", Venue: "uniswap_v3",
			TxHash: txHash.Hex(), Nonce: 7, Status: domain.ExecSubmitted, SubmittedAt: base,
		}))
		require.NoError(t, s.Create(ctx, domain.ExecutionRecord{
			ID: "exec-2", OpportunityID: "opp-2", Venue: "uniswap_v3",
			Status: domain.ExecFailed, Error: "execution failed at send: nonce too low",
			SubmittedAt: base.Add(time.Minute),
		}))

		require.NoError(t, s.RecordConfirmation(ctx, domain.Confirmation{
			Kind: domain.ConfirmFlashLoanSuccess, ExecutionID: 1, Amount: big.NewInt(1000),
			TxHash: txHash, BlockNumber: 10,
		}))
		list, err := s.ListRecent(ctx, domain.ListOpts{})
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "exec-2", list[0].ID)
		assert.Equal(t, domain.ExecSubmitted, list[1].Status, "success event is not terminal")
		assert.Equal(t, uint64(7), list[1].Nonce)

		profit, _ := new(big.Int).SetString("123456789012345678901234567890", 10)
		require.NoError(t, s.RecordConfirmation(ctx, domain.Confirmation{
			Kind: domain.ConfirmArbitrageConcluded, ExecutionID: 1,
			InputAmount: big.NewInt(1000), Swap1AmountOut: big.NewInt(1), Swap2AmountOut: big.NewInt(2),
			Swap3AmountOut: big.NewInt(1010), Profit: profit, TxHash: txHash, BlockNumber: 10,
		}))

		since := base.Add(-time.Second)
		list, err = s.ListRecent(ctx, domain.ListOpts{Limit: 1, Offset: 1, Since: &since})
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, domain.ExecConcluded, list[0].Status)

		later := base.Add(30 * time.Second)
		list, err = s.ListRecent(ctx, domain.ListOpts{Since: &later})
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, domain.ExecFailed, list[0].Status)
		assert.Empty(t, list[0].TxHash)

		var stored string
		require.NoError(t, c.Pool().QueryRow(ctx,
			"SELECT profit::text FROM execution_events WHERE kind = $1", string(domain.ConfirmArbitrageConcluded)).Scan(&stored))
		assert.Equal(t, profit.String(), stored)
	})
}

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/flasharb?sslmode=disable",
		DSN(ClientConfig{Host: "db", User: "u", Password: "p", Database: "flasharb"}))
	assert.Equal(t, "postgres://x", DSN(ClientConfig{DSN: "postgres://x", Host: "ignored"}))
}
