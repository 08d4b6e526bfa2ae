package executor

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

func confirmationLog(t *testing.T, kind domain.ConfirmationKind, executionID uint32, values ...any) types.Log {
	t.Helper()
	ev := contractABI.Events[string(kind)]
	data, err := ev.Inputs.NonIndexed().Pack(values...)
	require.NoError(t, err)
	return types.Log{
		Address:     contractAddr,
		Topics:      []common.Hash{ev.ID, common.BigToHash(big.NewInt(int64(executionID)))},
		Data:        data,
		TxHash:      common.HexToHash("0xfeed"),
		BlockNumber: 19_000_000,
	}
}

func TestDecodeConfirmation_ArbitrageConcluded(t *testing.T) {
	lg := confirmationLog(t, domain.ConfirmArbitrageConcluded, 42,
		big.NewInt(1000), big.NewInt(2000), big.NewInt(3000), big.NewInt(1100), big.NewInt(100))

	c, err := DecodeConfirmation(lg)
	require.NoError(t, err)
	assert.Equal(t, domain.ConfirmArbitrageConcluded, c.Kind)
	assert.Equal(t, uint32(42), c.ExecutionID)
	assert.Equal(t, int64(1000), c.InputAmount.Int64())
	assert.Equal(t, int64(1100), c.Swap3AmountOut.Int64())
	assert.Equal(t, int64(100), c.Profit.Int64())
	assert.Equal(t, lg.TxHash, c.TxHash)
	assert.Equal(t, uint64(19_000_000), c.BlockNumber)
}

func TestDecodeConfirmation_FlashLoanSuccess(t *testing.T) {
	c, err := DecodeConfirmation(confirmationLog(t, domain.ConfirmFlashLoanSuccess, 3, big.NewInt(55)))
	require.NoError(t, err)
	assert.Equal(t, domain.ConfirmFlashLoanSuccess, c.Kind)
	assert.Equal(t, int64(55), c.Amount.Int64())
}

func TestDecodeConfirmation_FlashloanError(t *testing.T) {
	c, err := DecodeConfirmation(confirmationLog(t, domain.ConfirmFlashLoanError, 9, "Too little received"))
	require.NoError(t, err)
	assert.Equal(t, domain.ConfirmFlashLoanError, c.Kind)
	assert.Equal(t, uint32(9), c.ExecutionID)
	assert.Equal(t, "Too little received", c.Message)
}

func TestDecodeConfirmation_Rejects(t *testing.T) {
	_, err := DecodeConfirmation(types.Log{Topics: []common.Hash{{}}})
	assert.Error(t, err, "missing execution id topic")

	_, err = DecodeConfirmation(types.Log{Topics: []common.Hash{common.HexToHash("0xbad"), {}}})
	assert.Error(t, err, "unknown event")

	lg := confirmationLog(t, domain.ConfirmFlashLoanSuccess, 1, big.NewInt(1))
	lg.Data = lg.Data[:10]
	_, err = DecodeConfirmation(lg)
	assert.Error(t, err, "truncated data")
}

func TestConfirmationQuery(t *testing.T) {
	q := ConfirmationQuery(contractAddr)
	assert.Equal(t, []common.Address{contractAddr}, q.Addresses)
	require.Len(t, q.Topics, 1)
	assert.Len(t, q.Topics[0], 3)
	assert.Contains(t, q.Topics[0], contractABI.Events["FlashloanError"].ID)
}
