package detector

import (
	"io"
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

var (
	tokA  = domain.Token{ID: "0x000000000000000000000000000000000000000a", Symbol: "AAA", Decimals: 18}
	tokC  = domain.Token{ID: "0x000000000000000000000000000000000000000c", Symbol: "CCC", Decimals: 18}
	tokB1 = domain.Token{ID: "0x00000000000000000000000000000000000000b1", Symbol: "BB1", Decimals: 18}
	tokB2 = domain.Token{ID: "0x00000000000000000000000000000000000000b2", Symbol: "BB2", Decimals: 18}
)

type priceMap map[string]*big.Int

func (m priceMap) SqrtPrice(pool string) (*big.Int, bool) {
	p, ok := m[pool]
	return p, ok
}

func q96() *big.Int { return new(big.Int).Lsh(big.NewInt(1), 96) }

// sqrtX96 returns num/den * 2^96.
func sqrtX96(num, den int64) *big.Int {
	v := new(big.Int).Mul(q96(), big.NewInt(num))
	return v.Div(v, big.NewInt(den))
}

func e18(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func newPool(id string, a, b domain.Token) domain.Pool {
	return domain.Pool{ID: id, Name: a.Symbol + "/" + b.Symbol, InputTokens: []domain.Token{a, b}}
}

func testEngine() *Engine {
	return NewEngine(DefaultConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func triggerEvent() domain.SwapEvent {
	return domain.SwapEvent{
		Venue:        "uniswap_v3",
		Pool:         common.HexToAddress("0xac"),
		Amount0:      e18(1000),
		Amount1:      new(big.Int).Neg(e18(995)),
		SqrtPriceX96: q96(),
		TxHash:       common.HexToHash("0x01"),
	}
}

type fixture struct {
	trigger domain.Pool
	idx     *TokenIndex
	prices  priceMap
}

// newFixture builds A/C plus, for each intermediary, an A/B pool and a B/C
// pool with the given sqrt prices (as num/den of 2^96).
func newFixture(routes ...route) fixture {
	trigger := newPool("0xac", tokA, tokC)
	b := NewIndexBuilder()
	b.Add(trigger)
	prices := priceMap{trigger.ID: q96()}
	for _, r := range routes {
		ab := newPool("0xa"+r.token.Symbol, tokA, r.token)
		bc := newPool("0xc"+r.token.Symbol, r.token, tokC)
		b.Add(ab)
		b.Add(bc)
		prices[ab.ID] = sqrtX96(r.abNum, r.abDen)
		prices[bc.ID] = sqrtX96(r.bcNum, r.bcDen)
	}
	return fixture{trigger: trigger, idx: b.Freeze(), prices: prices}
}

type route struct {
	token        domain.Token
	abNum, abDen int64
	bcNum, bcDen int64
}

func TestPriceImpactBps_UnitPriceScenario(t *testing.T) {
	impact, err := PriceImpactBps(e18(1000), new(big.Int).Neg(e18(995)), 18, 18, q96())
	require.NoError(t, err)
	assert.True(t, impact.Equal(decimal.NewFromInt(50)), "impact = %s, want 50", impact)
	assert.True(t, impact.GreaterThan(decimal.NewFromInt(DefaultImpactThresholdBps)))
}

func TestPriceImpactBps_DirectionInvariant(t *testing.T) {
	sqrt := sqrtX96(3, 2)
	a, err := PriceImpactBps(e18(1000), new(big.Int).Neg(e18(2100)), 18, 18, sqrt)
	require.NoError(t, err)
	b, err := PriceImpactBps(new(big.Int).Neg(e18(1000)), e18(2100), 18, 18, sqrt)
	require.NoError(t, err)
	assert.True(t, a.Equal(b), "%s != %s", a, b)
}

func TestPriceImpactBps_DecimalNormalized(t *testing.T) {
	// 1 WETH (18) for 2000 USDC (6) at a reference price of 2000.
	sqrt, ok := new(big.Int).SetString("3543191142285914205922034", 10)
	require.True(t, ok)
	impact, err := PriceImpactBps(e18(1), big.NewInt(-2000_000000), 18, 6, sqrt)
	require.NoError(t, err)
	assert.True(t, impact.LessThan(decimal.NewFromInt(1)), "impact = %s", impact)
}

func TestPriceImpactBps_RejectsNonPositiveState(t *testing.T) {
	for _, state := range []*big.Int{nil, big.NewInt(0), big.NewInt(-5)} {
		_, err := PriceImpactBps(e18(1), e18(-1), 18, 18, state)
		assert.ErrorIs(t, err, domain.ErrInvalidPriceState)
	}
}

func TestEvaluate_NonPositivePriceState(t *testing.T) {
	f := newFixture(route{tokB1, 2, 1, 3, 2})
	for _, state := range []*big.Int{nil, big.NewInt(0), big.NewInt(-1)} {
		opp, err := testEngine().Evaluate(triggerEvent(), state, f.trigger, f.idx, f.prices)
		assert.Nil(t, opp)
		assert.ErrorIs(t, err, domain.ErrInvalidPriceState)
	}
}

func TestEvaluate_ImpactBelowThreshold(t *testing.T) {
	f := newFixture(route{tokB1, 2, 1, 3, 2})
	ev := triggerEvent()
	ev.Amount1 = new(big.Int).Neg(e18(1000)) // execution at the reference price

	opp, err := testEngine().Evaluate(ev, q96(), f.trigger, f.idx, f.prices)
	assert.Nil(t, opp)
	assert.ErrorIs(t, err, domain.ErrImpactTooSmall)
}

func TestEvaluate_EmptyIndex(t *testing.T) {
	f := newFixture()
	opp, err := testEngine().Evaluate(triggerEvent(), q96(), f.trigger, f.idx, f.prices)
	assert.Nil(t, opp)
	assert.ErrorIs(t, err, domain.ErrNoCandidate)

	opp, err = testEngine().Evaluate(triggerEvent(), q96(), f.trigger, NewIndexBuilder().Freeze(), f.prices)
	assert.Nil(t, opp)
	assert.ErrorIs(t, err, domain.ErrNoCandidate)
}

func TestEvaluate_PicksMostProfitableCandidate(t *testing.T) {
	// BB1: 100 A -> 400 B -> 177.7 C -> 177.7 A
	// BB2: 100 A -> 100 B -> 400 C -> 400 A
	f := newFixture(
		route{tokB1, 2, 1, 3, 2},
		route{tokB2, 1, 1, 1, 2},
	)

	opp, err := testEngine().Evaluate(triggerEvent(), q96(), f.trigger, f.idx, f.prices)
	require.NoError(t, err)
	require.NotNil(t, opp)

	assert.Equal(t, tokB2.Symbol, opp.Plan.Swap1.TokenOut.Symbol)
	require.NotNil(t, opp.ExpectedProfit)
	assert.True(t, opp.ExpectedProfit.Equal(decimal.NewFromInt(300)), "profit = %s", opp.ExpectedProfit)
	assert.True(t, opp.TokenAIn.Equal(decimal.NewFromBigInt(e18(100), 0)), "tokenAIn = %s", opp.TokenAIn)
	assert.True(t, opp.PriceImpactBps.Equal(decimal.NewFromInt(50)))
}

func TestEvaluate_PlanIsClosedCycle(t *testing.T) {
	f := newFixture(route{tokB1, 2, 1, 3, 2})

	opp, err := testEngine().Evaluate(triggerEvent(), q96(), f.trigger, f.idx, f.prices)
	require.NoError(t, err)

	p := opp.Plan
	assert.NoError(t, p.Validate())
	assert.Equal(t, p.Swap1.TokenOut.ID, p.Swap2.TokenIn.ID)
	assert.Equal(t, p.Swap2.TokenOut.ID, p.Swap3.TokenIn.ID)
	assert.Equal(t, p.Swap3.TokenOut.ID, p.Swap1.TokenIn.ID)
	assert.Equal(t, tokA.ID, p.Swap1.TokenIn.ID)
	assert.Equal(t, tokC.ID, p.Swap2.TokenOut.ID)
	assert.Equal(t, f.trigger.ID, p.Swap3.Pool)
	for _, leg := range p.Legs() {
		assert.True(t, leg.MinimumAmountOut.IsZero())
	}
}

func TestEvaluate_TieKeepsFirstCandidate(t *testing.T) {
	f := newFixture(
		route{tokB1, 2, 1, 3, 2},
		route{tokB2, 2, 1, 3, 2},
	)
	opp, err := testEngine().Evaluate(triggerEvent(), q96(), f.trigger, f.idx, f.prices)
	require.NoError(t, err)
	assert.Equal(t, tokB1.Symbol, opp.Plan.Swap2.TokenIn.Symbol)
}

func TestEvaluate_UnprofitableAfterSignificantImpact(t *testing.T) {
	// 100 A -> 400 B -> 25 C -> 25 A
	f := newFixture(route{tokB1, 2, 1, 4, 1})
	opp, err := testEngine().Evaluate(triggerEvent(), q96(), f.trigger, f.idx, f.prices)
	assert.Nil(t, opp)
	assert.ErrorIs(t, err, domain.ErrUnprofitable)
}

func TestEvaluate_GasCostCanRemoveProfit(t *testing.T) {
	f := newFixture(route{tokB1, 2, 1, 3, 2})
	cfg := DefaultConfig()
	cfg.EstimatedGasCost = decimal.NewFromInt(1000)
	e := NewEngine(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))

	opp, err := e.Evaluate(triggerEvent(), q96(), f.trigger, f.idx, f.prices)
	assert.Nil(t, opp)
	assert.ErrorIs(t, err, domain.ErrUnprofitable)
}

func TestEvaluate_FeesReduceEachLeg(t *testing.T) {
	f := newFixture(route{tokB2, 1, 1, 1, 2})
	withFees := NewIndexBuilder()
	for _, sym := range f.idx.Symbols() {
		for _, p := range f.idx.Pools(sym) {
			if sym != p.InputTokens[0].Symbol {
				continue
			}
			p.Fees = []domain.Fee{{FeePercentage: decimal.NewFromInt(1), FeeType: domain.FeeTypeTrading}}
			withFees.Add(p)
		}
	}
	trigger := f.trigger
	trigger.Fees = []domain.Fee{{FeePercentage: decimal.NewFromInt(1), FeeType: domain.FeeTypeTrading}}

	opp, err := testEngine().Evaluate(triggerEvent(), q96(), trigger, withFees.Freeze(), f.prices)
	require.NoError(t, err)
	// 400 * 0.99^3 - 100
	want := decimal.NewFromInt(400).Mul(decimal.RequireFromString("0.970299")).Sub(decimal.NewFromInt(100))
	assert.True(t, opp.ExpectedProfit.Sub(want).Abs().LessThan(decimal.New(1, -18)), "profit = %s, want %s", opp.ExpectedProfit, want)
	assert.Equal(t, uint32(10_000), opp.Plan.Swap1.FeeTier)
}

func TestScaleAmount(t *testing.T) {
	e := testEngine()
	raw := e18(1234)
	scaled := e.ScaleAmount(raw)
	assert.True(t, scaled.Equal(decimal.NewFromBigInt(raw, -1)))
	assert.True(t, scaled.Mul(e.Config().InputScale).Equal(decimal.NewFromBigInt(raw, 0)))
}
