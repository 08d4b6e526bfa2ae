package executor

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// flashLoanABI is the part of the arbitrage contract the bot calls and
// listens to.
const flashLoanABI = `[
  {"type":"function","name":"initiateFlashLoan","stateMutability":"payable","outputs":[],"inputs":[
    {"name":"data","type":"tuple","components":[
      {"name":"swap1","type":"tuple","components":[
        {"name":"tokenIn","type":"address"},{"name":"tokenOut","type":"address"},
        {"name":"poolFee","type":"uint24"},{"name":"amountOutMinimum","type":"uint256"}]},
      {"name":"swap2","type":"tuple","components":[
        {"name":"tokenIn","type":"address"},{"name":"tokenOut","type":"address"},
        {"name":"poolFee","type":"uint24"},{"name":"amountOutMinimum","type":"uint256"}]},
      {"name":"swap3","type":"tuple","components":[
        {"name":"tokenIn","type":"address"},{"name":"tokenOut","type":"address"},
        {"name":"poolFee","type":"uint24"},{"name":"amountOutMinimum","type":"uint256"}]},
      {"name":"extraCost","type":"uint256"}]},
    {"name":"tokenAIn","type":"uint256"}]},
  {"type":"event","name":"ArbitrageConcluded","anonymous":false,"inputs":[
    {"name":"executionId","type":"uint32","indexed":true},
    {"name":"inputAmount","type":"uint256","indexed":false},
    {"name":"swap1AmountOut","type":"uint256","indexed":false},
    {"name":"swap2AmountOut","type":"uint256","indexed":false},
    {"name":"swap3AmountOut","type":"uint256","indexed":false},
    {"name":"profit","type":"uint256","indexed":false}]},
  {"type":"event","name":"FlashLoanSuccess","anonymous":false,"inputs":[
    {"name":"executionId","type":"uint32","indexed":true},
    {"name":"amount","type":"uint256","indexed":false}]},
  {"type":"event","name":"FlashloanError","anonymous":false,"inputs":[
    {"name":"executionId","type":"uint32","indexed":true},
    {"name":"message","type":"string","indexed":false}]}
]`

var contractABI = mustParseABI(flashLoanABI)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("executor: parse contract abi: %v", err))
	}
	return parsed
}

// swapInfo mirrors the contract's SwapInfo struct.
type swapInfo struct {
	TokenIn          common.Address
	TokenOut         common.Address
	PoolFee          *big.Int
	AmountOutMinimum *big.Int
}

// arbitInfo mirrors the contract's ArbitInfo struct.
type arbitInfo struct {
	Swap1     swapInfo
	Swap2     swapInfo
	Swap3     swapInfo
	ExtraCost *big.Int
}

func toSwapInfo(leg domain.SwapLeg) swapInfo {
	return swapInfo{
		TokenIn:          leg.TokenIn.Address(),
		TokenOut:         leg.TokenOut.Address(),
		PoolFee:          new(big.Int).SetUint64(uint64(leg.FeeTier)),
		AmountOutMinimum: leg.MinimumAmountOut.BigInt(),
	}
}

// packInitiateFlashLoan encodes the initiateFlashLoan call for plan with
// tokenAIn base units of the cycle's first token.
func packInitiateFlashLoan(plan domain.ArbitragePlan, tokenAIn *big.Int) ([]byte, error) {
	if plan.Swap1.FeeTier >= 1<<24 || plan.Swap2.FeeTier >= 1<<24 || plan.Swap3.FeeTier >= 1<<24 {
		return nil, fmt.Errorf("fee tier overflows uint24")
	}
	extra := plan.EstimatedGasCost.BigInt()
	if extra.Sign() < 0 {
		extra = new(big.Int)
	}
	data := arbitInfo{
		Swap1:     toSwapInfo(plan.Swap1),
		Swap2:     toSwapInfo(plan.Swap2),
		Swap3:     toSwapInfo(plan.Swap3),
		ExtraCost: extra,
	}
	return contractABI.Pack("initiateFlashLoan", data, tokenAIn)
}
