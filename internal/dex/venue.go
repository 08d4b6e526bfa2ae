package dex

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// Kind names a supported DEX family.
type Kind string

const (
	KindUniswapV3     Kind = "uniswap_v3"
	KindPancakeSwapV3 Kind = "pancakeswap_v3"
)

// Venue decodes one DEX family's pool contract: its Swap event and its
// slot0 price state. The orchestrator is shared; only this part differs.
type Venue interface {
	Kind() Kind
	SwapTopic() common.Hash
	DecodeSwap(lg types.Log) (domain.SwapEvent, error)
	Slot0(ctx context.Context, caller ethereum.ContractCaller, pool common.Address) (*big.Int, error)
}

const uniswapV3PoolABI = `[
  {"type":"event","name":"Swap","anonymous":false,"inputs":[
    {"name":"sender","type":"address","indexed":true},
    {"name":"recipient","type":"address","indexed":true},
    {"name":"amount0","type":"int256","indexed":false},
    {"name":"amount1","type":"int256","indexed":false},
    {"name":"sqrtPriceX96","type":"uint160","indexed":false},
    {"name":"liquidity","type":"uint128","indexed":false},
    {"name":"tick","type":"int24","indexed":false}]},
  {"type":"function","name":"slot0","stateMutability":"view","inputs":[],"outputs":[
    {"name":"sqrtPriceX96","type":"uint160"},
    {"name":"tick","type":"int24"},
    {"name":"observationIndex","type":"uint16"},
    {"name":"observationCardinality","type":"uint16"},
    {"name":"observationCardinalityNext","type":"uint16"},
    {"name":"feeProtocol","type":"uint8"},
    {"name":"unlocked","type":"bool"}]}
]`

// PancakeSwap V3 pools append the protocol fees to Swap and widen
// feeProtocol in slot0.
const pancakeV3PoolABI = `[
  {"type":"event","name":"Swap","anonymous":false,"inputs":[
    {"name":"sender","type":"address","indexed":true},
    {"name":"recipient","type":"address","indexed":true},
    {"name":"amount0","type":"int256","indexed":false},
    {"name":"amount1","type":"int256","indexed":false},
    {"name":"sqrtPriceX96","type":"uint160","indexed":false},
    {"name":"liquidity","type":"uint128","indexed":false},
    {"name":"tick","type":"int24","indexed":false},
    {"name":"protocolFeesToken0","type":"uint128","indexed":false},
    {"name":"protocolFeesToken1","type":"uint128","indexed":false}]},
  {"type":"function","name":"slot0","stateMutability":"view","inputs":[],"outputs":[
    {"name":"sqrtPriceX96","type":"uint160"},
    {"name":"tick","type":"int24"},
    {"name":"observationIndex","type":"uint16"},
    {"name":"observationCardinality","type":"uint16"},
    {"name":"observationCardinalityNext","type":"uint16"},
    {"name":"feeProtocol","type":"uint32"},
    {"name":"unlocked","type":"bool"}]}
]`

// v3Pool implements Venue for concentrated-liquidity pools that share the
// Uniswap V3 Swap layout prefix.
type v3Pool struct {
	kind   Kind
	abi    abi.ABI
	fields int
}

// UniswapV3 returns the Uniswap V3 decoder.
func UniswapV3() Venue {
	return &v3Pool{kind: KindUniswapV3, abi: mustParse(uniswapV3PoolABI), fields: 5}
}

// PancakeSwapV3 returns the PancakeSwap V3 decoder.
func PancakeSwapV3() Venue {
	return &v3Pool{kind: KindPancakeSwapV3, abi: mustParse(pancakeV3PoolABI), fields: 7}
}

// VenueFor returns the decoder for kind.
func VenueFor(kind Kind) (Venue, error) {
	switch kind {
	case KindUniswapV3:
		return UniswapV3(), nil
	case KindPancakeSwapV3:
		return PancakeSwapV3(), nil
	}
	return nil, fmt.Errorf("dex: unknown venue kind %q", kind)
}

func mustParse(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("dex: parse pool abi: %v", err))
	}
	return parsed
}

func (v *v3Pool) Kind() Kind {
	return v.kind
}

func (v *v3Pool) SwapTopic() common.Hash {
	return v.abi.Events["Swap"].ID
}

func (v *v3Pool) DecodeSwap(lg types.Log) (domain.SwapEvent, error) {
	if len(lg.Topics) == 0 || lg.Topics[0] != v.SwapTopic() {
		return domain.SwapEvent{}, fmt.Errorf("dex: %s: not a swap log", v.kind)
	}
	values, err := v.abi.Unpack("Swap", lg.Data)
	if err != nil {
		return domain.SwapEvent{}, fmt.Errorf("dex: %s: decode swap: %w", v.kind, err)
	}
	if len(values) != v.fields {
		return domain.SwapEvent{}, fmt.Errorf("dex: %s: swap has %d fields, want %d", v.kind, len(values), v.fields)
	}
	ints := make([]*big.Int, 5)
	for i := range ints {
		b, ok := values[i].(*big.Int)
		if !ok {
			return domain.SwapEvent{}, fmt.Errorf("dex: %s: swap field %d is %T", v.kind, i, values[i])
		}
		ints[i] = b
	}
	return domain.SwapEvent{
		Venue:        string(v.kind),
		Pool:         lg.Address,
		Amount0:      ints[0],
		Amount1:      ints[1],
		SqrtPriceX96: ints[2],
		Liquidity:    ints[3],
		Tick:         int32(ints[4].Int64()),
		BlockNumber:  lg.BlockNumber,
		TxHash:       lg.TxHash,
		LogIndex:     lg.Index,
		ObservedAt:   time.Now().UTC(),
	}, nil
}

func (v *v3Pool) Slot0(ctx context.Context, caller ethereum.ContractCaller, pool common.Address) (*big.Int, error) {
	data, err := v.abi.Pack("slot0")
	if err != nil {
		return nil, fmt.Errorf("dex: %s: pack slot0: %w", v.kind, err)
	}
	out, err := caller.CallContract(ctx, ethereum.CallMsg{To: &pool, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("dex: %s: slot0 %s: %w", v.kind, pool.Hex(), err)
	}
	values, err := v.abi.Unpack("slot0", out)
	if err != nil {
		return nil, fmt.Errorf("dex: %s: decode slot0 %s: %w", v.kind, pool.Hex(), err)
	}
	sqrt, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("dex: %s: slot0 sqrtPriceX96 is %T", v.kind, values[0])
	}
	return sqrt, nil
}
