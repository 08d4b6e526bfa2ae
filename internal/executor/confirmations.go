package executor

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

var confirmationEvents = map[common.Hash]domain.ConfirmationKind{
	contractABI.Events[string(domain.ConfirmArbitrageConcluded)].ID: domain.ConfirmArbitrageConcluded,
	contractABI.Events[string(domain.ConfirmFlashLoanSuccess)].ID:   domain.ConfirmFlashLoanSuccess,
	contractABI.Events[string(domain.ConfirmFlashLoanError)].ID:     domain.ConfirmFlashLoanError,
}

// ConfirmationQuery selects the contract's confirmation events.
func ConfirmationQuery(contract common.Address) ethereum.FilterQuery {
	ids := make([]common.Hash, 0, len(confirmationEvents))
	for _, kind := range []domain.ConfirmationKind{
		domain.ConfirmArbitrageConcluded,
		domain.ConfirmFlashLoanSuccess,
		domain.ConfirmFlashLoanError,
	} {
		ids = append(ids, contractABI.Events[string(kind)].ID)
	}
	return ethereum.FilterQuery{
		Addresses: []common.Address{contract},
		Topics:    [][]common.Hash{ids},
	}
}

// DecodeConfirmation decodes one of the contract's confirmation events.
func DecodeConfirmation(lg types.Log) (domain.Confirmation, error) {
	if len(lg.Topics) < 2 {
		return domain.Confirmation{}, fmt.Errorf("executor: confirmation log has %d topics", len(lg.Topics))
	}
	kind, ok := confirmationEvents[lg.Topics[0]]
	if !ok {
		return domain.Confirmation{}, fmt.Errorf("executor: unknown event %s", lg.Topics[0].Hex())
	}

	values, err := contractABI.Unpack(string(kind), lg.Data)
	if err != nil {
		return domain.Confirmation{}, fmt.Errorf("executor: decode %s: %w", kind, err)
	}

	c := domain.Confirmation{
		Kind:        kind,
		ExecutionID: uint32(new(big.Int).SetBytes(lg.Topics[1].Bytes()).Uint64()),
		TxHash:      lg.TxHash,
		BlockNumber: lg.BlockNumber,
	}

	switch kind {
	case domain.ConfirmArbitrageConcluded:
		if len(values) != 5 {
			return domain.Confirmation{}, fmt.Errorf("executor: %s: got %d values", kind, len(values))
		}
		ints, err := bigInts(values)
		if err != nil {
			return domain.Confirmation{}, fmt.Errorf("executor: %s: %w", kind, err)
		}
		c.InputAmount, c.Swap1AmountOut, c.Swap2AmountOut, c.Swap3AmountOut, c.Profit = ints[0], ints[1], ints[2], ints[3], ints[4]
	case domain.ConfirmFlashLoanSuccess:
		ints, err := bigInts(values)
		if err != nil || len(ints) != 1 {
			return domain.Confirmation{}, fmt.Errorf("executor: %s: unexpected values %v", kind, values)
		}
		c.Amount = ints[0]
	case domain.ConfirmFlashLoanError:
		if len(values) != 1 {
			return domain.Confirmation{}, fmt.Errorf("executor: %s: got %d values", kind, len(values))
		}
		msg, ok := values[0].(string)
		if !ok {
			return domain.Confirmation{}, fmt.Errorf("executor: %s: unexpected values %v", kind, values)
		}
		c.Message = msg
	}
	return c, nil
}

func bigInts(values []any) ([]*big.Int, error) {
	out := make([]*big.Int, len(values))
	for i, v := range values {
		b, ok := v.(*big.Int)
		if !ok {
			return nil, fmt.Errorf("value %d is %T, want *big.Int", i, v)
		}
		out[i] = b
	}
	return out, nil
}
