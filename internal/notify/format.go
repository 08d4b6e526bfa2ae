package notify

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// FormatOpportunity renders the cycle, pools and expected profit of opp.
func FormatOpportunity(opp domain.Opportunity) string {
	var b strings.Builder
	fmt.Fprintf(&b, "venue: %s\n", opp.Venue)
	fmt.Fprintf(&b, "cycle: %s\n", opp.Plan.String())
	for i, leg := range opp.Plan.Legs() {
		fmt.Fprintf(&b, "leg %d: %s -> %s via %s (fee %d)\n", i+1, leg.TokenIn.Symbol, leg.TokenOut.Symbol, leg.Pool, leg.FeeTier)
	}
	fmt.Fprintf(&b, "impact: %s bps\n", opp.PriceImpactBps.StringFixed(2))
	fmt.Fprintf(&b, "input: %s\n", opp.TokenAIn.String())
	if opp.ExpectedProfit != nil {
		fmt.Fprintf(&b, "expected profit: %s\n", opp.ExpectedProfit.String())
	}
	fmt.Fprintf(&b, "trigger: %s", opp.Trigger.TxHash.Hex())
	return b.String()
}

// FormatExecution renders a submission outcome.
func FormatExecution(rec domain.ExecutionRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "venue: %s\n", rec.Venue)
	fmt.Fprintf(&b, "status: %s\n", rec.Status)
	if rec.TxHash != "" {
		fmt.Fprintf(&b, "tx: %s\n", rec.TxHash)
		fmt.Fprintf(&b, "nonce: %d\n", rec.Nonce)
	}
	if rec.Error != "" {
		fmt.Fprintf(&b, "error: %s\n", rec.Error)
	}
	fmt.Fprintf(&b, "opportunity: %s", rec.OpportunityID)
	return b.String()
}

// FormatConfirmation renders a decoded contract event.
func FormatConfirmation(c domain.Confirmation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "execution: %d\n", c.ExecutionID)
	switch c.Kind {
	case domain.ConfirmArbitrageConcluded:
		fmt.Fprintf(&b, "input: %s\n", bigString(c.InputAmount))
		fmt.Fprintf(&b, "outs: %s / %s / %s\n", bigString(c.Swap1AmountOut), bigString(c.Swap2AmountOut), bigString(c.Swap3AmountOut))
		fmt.Fprintf(&b, "profit: %s\n", bigString(c.Profit))
	case domain.ConfirmFlashLoanSuccess:
		fmt.Fprintf(&b, "amount: %s\n", bigString(c.Amount))
	case domain.ConfirmFlashLoanError:
		fmt.Fprintf(&b, "message: %s\n", c.Message)
	}
	fmt.Fprintf(&b, "tx: %s", c.TxHash.Hex())
	return b.String()
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
