package domain

import (
	"bytes"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// FeeTypeTrading is the Messari fee type that carries the swap fee charged
// to traders.
const FeeTypeTrading = "FIXED_TRADING_FEE"

// Token is an ERC-20 token as indexed by the subgraph.
type Token struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals int32  `json:"decimals"`
}

// Address returns the token's chain address.
func (t Token) Address() common.Address {
	return common.HexToAddress(t.ID)
}

// Fee is one fee entry of a pool. FeePercentage is a percent value, so
// 0.05 means 0.05%.
type Fee struct {
	FeePercentage decimal.Decimal `json:"feePercentage"`
	FeeType       string          `json:"feeType"`
}

// Pool is a liquidity pool. It is immutable after discovery.
type Pool struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Symbol      string  `json:"symbol"`
	InputTokens []Token `json:"inputTokens"`
	Fees        []Fee   `json:"fees"`
}

// Address returns the pool contract address.
func (p Pool) Address() common.Address {
	return common.HexToAddress(p.ID)
}

// TradingFee returns the trading fee entry, falling back to the first fee
// when none is typed as a trading fee. It returns a zero fee when the pool
// carries no fee metadata.
func (p Pool) TradingFee() Fee {
	for _, f := range p.Fees {
		if strings.EqualFold(f.FeeType, FeeTypeTrading) {
			return f
		}
	}
	if len(p.Fees) > 0 {
		return p.Fees[0]
	}
	return Fee{FeePercentage: decimal.Zero, FeeType: FeeTypeTrading}
}

// FeeFraction is the trading fee as a fraction (0.0005 for a 0.05% pool).
func (p Pool) FeeFraction() decimal.Decimal {
	return p.TradingFee().FeePercentage.Div(decimal.NewFromInt(100))
}

// FeeTier is the on-chain uint24 fee tier in hundredths of a basis point
// (500 for a 0.05% pool).
func (p Pool) FeeTier() uint32 {
	return uint32(p.TradingFee().FeePercentage.Mul(decimal.NewFromInt(10_000)).IntPart())
}

// Tokens returns the pool's pair ordered the way the pool contract orders
// them: token0 has the lower address.
func (p Pool) Tokens() (token0, token1 Token, ok bool) {
	if len(p.InputTokens) != 2 {
		return Token{}, Token{}, false
	}
	a, b := p.InputTokens[0], p.InputTokens[1]
	if bytes.Compare(a.Address().Bytes(), b.Address().Bytes()) > 0 {
		a, b = b, a
	}
	return a, b, true
}

// HasToken reports whether symbol is one of the pool's input tokens.
func (p Pool) HasToken(symbol string) bool {
	_, ok := p.Token(symbol)
	return ok
}

// Token returns the input token with the given symbol.
func (p Pool) Token(symbol string) (Token, bool) {
	for _, t := range p.InputTokens {
		if t.Symbol == symbol {
			return t, true
		}
	}
	return Token{}, false
}

// Other returns the token paired with symbol in a two-token pool.
func (p Pool) Other(symbol string) (Token, bool) {
	if len(p.InputTokens) != 2 {
		return Token{}, false
	}
	switch symbol {
	case p.InputTokens[0].Symbol:
		return p.InputTokens[1], true
	case p.InputTokens[1].Symbol:
		return p.InputTokens[0], true
	}
	return Token{}, false
}
