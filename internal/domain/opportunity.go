package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// SwapLeg is one hop of a planned arbitrage. MinimumAmountOut is left at
// zero; slippage protection is enforced by the executing contract.
type SwapLeg struct {
	TokenIn          Token
	TokenOut         Token
	Pool             string
	FeeTier          uint32
	MinimumAmountOut decimal.Decimal
}

// ArbitragePlan is a three-leg cycle A -> B -> C -> A.
type ArbitragePlan struct {
	Swap1            SwapLeg
	Swap2            SwapLeg
	Swap3            SwapLeg
	EstimatedGasCost decimal.Decimal
}

// Legs returns the legs in execution order.
func (p ArbitragePlan) Legs() [3]SwapLeg {
	return [3]SwapLeg{p.Swap1, p.Swap2, p.Swap3}
}

// Validate checks that the plan forms a closed three-token cycle.
func (p ArbitragePlan) Validate() error {
	if p.Swap1.TokenOut.ID != p.Swap2.TokenIn.ID {
		return fmt.Errorf("plan: leg1 out %s != leg2 in %s", p.Swap1.TokenOut.Symbol, p.Swap2.TokenIn.Symbol)
	}
	if p.Swap2.TokenOut.ID != p.Swap3.TokenIn.ID {
		return fmt.Errorf("plan: leg2 out %s != leg3 in %s", p.Swap2.TokenOut.Symbol, p.Swap3.TokenIn.Symbol)
	}
	if p.Swap3.TokenOut.ID != p.Swap1.TokenIn.ID {
		return fmt.Errorf("plan: leg3 out %s != leg1 in %s", p.Swap3.TokenOut.Symbol, p.Swap1.TokenIn.Symbol)
	}
	if p.Swap1.TokenIn.ID == p.Swap1.TokenOut.ID || p.Swap2.TokenIn.ID == p.Swap2.TokenOut.ID {
		return fmt.Errorf("plan: degenerate leg")
	}
	return nil
}

// String renders the cycle as "A -> B -> C -> A".
func (p ArbitragePlan) String() string {
	return fmt.Sprintf("%s -> %s -> %s -> %s",
		p.Swap1.TokenIn.Symbol, p.Swap2.TokenIn.Symbol, p.Swap3.TokenIn.Symbol, p.Swap3.TokenOut.Symbol)
}

// Opportunity is a profitable plan derived from one swap event.
// TokenAIn is the cycle's starting amount in token-A base units, already
// divided by the detector's input scale. ExpectedProfit is nil until the
// candidate search has evaluated it.
type Opportunity struct {
	Venue          string
	TokenAIn       decimal.Decimal
	PriceState     decimal.Decimal
	Trigger        SwapEvent
	PriceImpactBps decimal.Decimal
	Plan           ArbitragePlan
	ExpectedProfit *decimal.Decimal
}

// ID is the trigger key; one opportunity exists per swap event.
func (o Opportunity) ID() string {
	return o.Trigger.Key()
}
