// Package detector turns a pool swap into a ranked triangular-arbitrage
// plan. It is pure computation: every input is passed in and no call
// blocks, so one Engine can serve all pools of a venue concurrently.
//
// All amounts and prices are shopspring decimals. Raw swap input amounts
// are divided once by Config.InputScale before any pool math; the scaled
// value is the flash-loan size placed in the opportunity.
package detector

import (
	"fmt"
	"log/slog"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

const (
	// DefaultImpactThresholdBps is the minimum price impact that triggers
	// a candidate search.
	DefaultImpactThresholdBps = 10

	// DefaultInputScale divides raw swap amounts before pool math.
	DefaultInputScale = 10
)

// Config tunes the engine.
type Config struct {
	// ImpactThresholdBps must be strictly exceeded to investigate a swap.
	ImpactThresholdBps decimal.Decimal
	// EstimatedGasCost is subtracted from every candidate's profit, in
	// whole units of the cycle's starting token.
	EstimatedGasCost decimal.Decimal
	// InputScale divides the raw swap input amount.
	InputScale decimal.Decimal
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		ImpactThresholdBps: decimal.NewFromInt(DefaultImpactThresholdBps),
		EstimatedGasCost:   decimal.Zero,
		InputScale:         decimal.NewFromInt(DefaultInputScale),
	}
}

// Engine evaluates swap events.
type Engine struct {
	cfg    Config
	logger *slog.Logger
}

// NewEngine creates an Engine. A non-positive InputScale falls back to the
// default.
func NewEngine(cfg Config, logger *slog.Logger) *Engine {
	if !cfg.InputScale.IsPositive() {
		cfg.InputScale = decimal.NewFromInt(DefaultInputScale)
	}
	return &Engine{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "detector")),
	}
}

// Config returns the active configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// ScaleAmount applies the input scale to a raw amount.
func (e *Engine) ScaleAmount(raw *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(raw, 0).Div(e.cfg.InputScale)
}

// Evaluate runs the detection algorithm for one swap on pool. priceState
// is the pool's last-known sqrtPriceX96 before the swap. A nil opportunity
// comes with one of domain.ErrInvalidPriceState, ErrImpactTooSmall,
// ErrNoCandidate or ErrUnprofitable, or with a wrapped decoding error.
func (e *Engine) Evaluate(
	ev domain.SwapEvent,
	priceState *big.Int,
	pool domain.Pool,
	idx *TokenIndex,
	prices PriceBook,
) (*domain.Opportunity, error) {
	if priceState == nil || priceState.Sign() <= 0 {
		return nil, domain.ErrInvalidPriceState
	}

	token0, token1, ok := pool.Tokens()
	if !ok {
		return nil, fmt.Errorf("detector: pool %s: expected 2 input tokens, got %d", pool.ID, len(pool.InputTokens))
	}
	if ev.Amount0 == nil || ev.Amount1 == nil {
		return nil, fmt.Errorf("detector: pool %s: swap without amounts", pool.ID)
	}

	tokenA, tokenC, amountIn := token1, token0, ev.Amount1
	if ev.ZeroForOne() {
		tokenA, tokenC, amountIn = token0, token1, ev.Amount0
	}
	if amountIn.Sign() <= 0 {
		return nil, fmt.Errorf("detector: pool %s: swap has no positive input leg", pool.ID)
	}
	swapName := tokenA.Symbol + " -> " + tokenC.Symbol

	impact, err := PriceImpactBps(ev.Amount0, ev.Amount1, token0.Decimals, token1.Decimals, priceState)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("price impact computed",
		slog.String("swap", swapName),
		slog.String("pool", pool.ID),
		slog.String("impact_bps", impact.String()),
	)
	if !impact.GreaterThan(e.cfg.ImpactThresholdBps) {
		return nil, domain.ErrImpactTooSmall
	}

	candidates := idx.Intermediaries(tokenA.Symbol, tokenC.Symbol)
	if len(candidates) == 0 {
		return nil, domain.ErrNoCandidate
	}
	e.logger.Debug("intermediary candidates found",
		slog.String("swap", swapName),
		slog.Int("count", len(candidates)),
	)

	triggerSqrt := ev.SqrtPriceX96
	if triggerSqrt == nil || triggerSqrt.Sign() <= 0 {
		triggerSqrt = priceState
	}

	tokenAIn := e.ScaleAmount(amountIn)
	amountA := ToUnits(tokenAIn, tokenA.Decimals)

	best, ok := pickTokenB(idx, prices, tokenA, tokenC, candidates, amountA, pool, triggerSqrt, e.cfg.EstimatedGasCost)
	if !ok || !best.profit.IsPositive() {
		return nil, domain.ErrUnprofitable
	}

	plan := domain.ArbitragePlan{
		Swap1: domain.SwapLeg{
			TokenIn:          tokenA,
			TokenOut:         best.token,
			Pool:             best.leg1.pool.ID,
			FeeTier:          best.leg1.pool.FeeTier(),
			MinimumAmountOut: decimal.Zero,
		},
		Swap2: domain.SwapLeg{
			TokenIn:          best.token,
			TokenOut:         tokenC,
			Pool:             best.leg2.pool.ID,
			FeeTier:          best.leg2.pool.FeeTier(),
			MinimumAmountOut: decimal.Zero,
		},
		Swap3: domain.SwapLeg{
			TokenIn:          tokenC,
			TokenOut:         tokenA,
			Pool:             pool.ID,
			FeeTier:          pool.FeeTier(),
			MinimumAmountOut: decimal.Zero,
		},
		EstimatedGasCost: FromUnits(e.cfg.EstimatedGasCost, tokenA.Decimals),
	}
	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("detector: %w", err)
	}

	profit := best.profit
	return &domain.Opportunity{
		Venue:          ev.Venue,
		TokenAIn:       tokenAIn,
		PriceState:     decimal.NewFromBigInt(priceState, 0),
		Trigger:        ev,
		PriceImpactBps: impact,
		Plan:           plan,
		ExpectedProfit: &profit,
	}, nil
}
