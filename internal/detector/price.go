package detector

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// pricePrecision is the number of decimal places kept when dividing prices.
const pricePrecision = 36

var (
	q192     = decimal.NewFromBigInt(new(big.Int).Lsh(big.NewInt(1), 192), 0)
	bpsScale = decimal.NewFromInt(10_000)
)

// PriceFromSqrtX96 converts a Q64.96 square-root price into the price of
// token0 denominated in token1, normalized by both tokens' decimals.
func PriceFromSqrtX96(sqrtPriceX96 *big.Int, decimals0, decimals1 int32) decimal.Decimal {
	sq := new(big.Int).Mul(sqrtPriceX96, sqrtPriceX96)
	return decimal.NewFromBigInt(sq, 0).Shift(decimals0 - decimals1).DivRound(q192, pricePrecision)
}

// ToUnits converts a base-unit amount into whole-token units.
func ToUnits(amount decimal.Decimal, decimals int32) decimal.Decimal {
	return amount.Shift(-decimals)
}

// FromUnits converts a whole-token amount into base units.
func FromUnits(amount decimal.Decimal, decimals int32) decimal.Decimal {
	return amount.Shift(decimals)
}

// PriceImpactBps measures how far a swap's execution price deviated from
// the reference price implied by sqrtPriceX96, in basis points. Both
// prices are expressed as token1 per token0, so the result does not depend
// on the swap's direction.
func PriceImpactBps(amount0, amount1 *big.Int, decimals0, decimals1 int32, sqrtPriceX96 *big.Int) (decimal.Decimal, error) {
	if sqrtPriceX96 == nil || sqrtPriceX96.Sign() <= 0 {
		return decimal.Zero, domain.ErrInvalidPriceState
	}
	if amount0 == nil || amount1 == nil || amount0.Sign() == 0 || amount1.Sign() == 0 {
		return decimal.Zero, fmt.Errorf("detector: swap has a zero leg")
	}

	in0 := ToUnits(decimal.NewFromBigInt(new(big.Int).Abs(amount0), 0), decimals0)
	in1 := ToUnits(decimal.NewFromBigInt(new(big.Int).Abs(amount1), 0), decimals1)
	execution := in1.DivRound(in0, pricePrecision)

	reference := PriceFromSqrtX96(sqrtPriceX96, decimals0, decimals1)
	if !reference.IsPositive() {
		return decimal.Zero, domain.ErrInvalidPriceState
	}

	return execution.Sub(reference).Abs().DivRound(reference, pricePrecision).Mul(bpsScale).Round(4), nil
}

// quote estimates the output of swapping amountIn (whole units) of tokenIn
// through pool at the constant price sqrtPriceX96, net of the pool fee.
func quote(pool domain.Pool, tokenIn string, amountIn decimal.Decimal, sqrtPriceX96 *big.Int) (decimal.Decimal, bool) {
	if sqrtPriceX96 == nil || sqrtPriceX96.Sign() <= 0 {
		return decimal.Zero, false
	}
	t0, t1, ok := pool.Tokens()
	if !ok {
		return decimal.Zero, false
	}
	price := PriceFromSqrtX96(sqrtPriceX96, t0.Decimals, t1.Decimals)
	if !price.IsPositive() {
		return decimal.Zero, false
	}

	var gross decimal.Decimal
	switch tokenIn {
	case t0.Symbol:
		gross = amountIn.Mul(price)
	case t1.Symbol:
		gross = amountIn.DivRound(price, pricePrecision)
	default:
		return decimal.Zero, false
	}
	return gross.Mul(decimal.NewFromInt(1).Sub(pool.FeeFraction())), true
}
