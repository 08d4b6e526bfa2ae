package domain

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// SwapEvent is a decoded pool swap. Amount0 and Amount1 are signed deltas
// from the pool's point of view: positive means the token flowed into the
// pool. SqrtPriceX96 is the pool price after the swap.
type SwapEvent struct {
	Venue        string
	Pool         common.Address
	Amount0      *big.Int
	Amount1      *big.Int
	SqrtPriceX96 *big.Int
	Liquidity    *big.Int
	Tick         int32
	BlockNumber  uint64
	TxHash       common.Hash
	LogIndex     uint
	ObservedAt   time.Time
}

// Key identifies the event across stream reconnects.
func (e SwapEvent) Key() string {
	return fmt.Sprintf("%s:%d", e.TxHash.Hex(), e.LogIndex)
}

// ZeroForOne reports whether token0 was the swap input.
func (e SwapEvent) ZeroForOne() bool {
	return e.Amount0 != nil && e.Amount0.Sign() > 0
}
