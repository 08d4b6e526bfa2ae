package detector

import (
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// PriceBook exposes the last-known sqrtPriceX96 of every bound pool.
type PriceBook interface {
	SqrtPrice(pool string) (*big.Int, bool)
}

// hop is the best pool found for one leg.
type hop struct {
	pool domain.Pool
	out  decimal.Decimal
}

// candidate is one evaluated tokenB.
type candidate struct {
	token  domain.Token
	leg1   hop
	leg2   hop
	leg3   hop
	profit decimal.Decimal
}

// bestHop picks, among pools holding both tokenIn and tokenOut, the one
// that yields the largest output. Pools without a known price are skipped.
// Ties keep the earlier pool.
func bestHop(idx *TokenIndex, prices PriceBook, tokenIn, tokenOut string, amountIn decimal.Decimal) (hop, bool) {
	var best hop
	found := false
	for _, p := range idx.PoolsBetween(tokenIn, tokenOut) {
		sqrt, ok := prices.SqrtPrice(p.ID)
		if !ok {
			continue
		}
		out, ok := quote(p, tokenIn, amountIn, sqrt)
		if !ok {
			continue
		}
		if !found || out.GreaterThan(best.out) {
			best = hop{pool: p, out: out}
			found = true
		}
	}
	return best, found
}

// pickTokenB evaluates every candidate and returns the most profitable
// one. The comparison is strict, so on equal profit the candidate seen
// first wins. The returned profit may be negative; the caller decides.
func pickTokenB(
	idx *TokenIndex,
	prices PriceBook,
	tokenA, tokenC domain.Token,
	candidates []domain.Token,
	amountA decimal.Decimal,
	trigger domain.Pool,
	triggerSqrt *big.Int,
	gasCost decimal.Decimal,
) (candidate, bool) {
	var best candidate
	found := false

	for _, tokenB := range candidates {
		h1, ok := bestHop(idx, prices, tokenA.Symbol, tokenB.Symbol, amountA)
		if !ok {
			continue
		}
		h2, ok := bestHop(idx, prices, tokenB.Symbol, tokenC.Symbol, h1.out)
		if !ok {
			continue
		}
		out3, ok := quote(trigger, tokenC.Symbol, h2.out, triggerSqrt)
		if !ok {
			continue
		}
		profit := out3.Sub(amountA).Sub(gasCost)

		if !found || profit.GreaterThan(best.profit) {
			best = candidate{
				token:  tokenB,
				leg1:   h1,
				leg2:   h2,
				leg3:   hop{pool: trigger, out: out3},
				profit: profit,
			}
			found = true
		}
	}
	return best, found
}
