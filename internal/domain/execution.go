package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ExecStatus is the lifecycle state of a submitted flash-loan transaction.
type ExecStatus string

const (
	ExecSubmitted      ExecStatus = "submitted"
	ExecFailed         ExecStatus = "failed"
	ExecConcluded      ExecStatus = "concluded"
	ExecFlashLoanError ExecStatus = "flashloan_error"
)

// ExecutionRecord is the persisted outcome of one submission attempt.
type ExecutionRecord struct {
	ID            string
	OpportunityID string
	Venue         string
	TxHash        string
	Nonce         uint64
	Status        ExecStatus
	Error         string
	SubmittedAt   time.Time
}

// ConfirmationKind names a contract event emitted by the flash-loan
// contract.
type ConfirmationKind string

const (
	ConfirmArbitrageConcluded ConfirmationKind = "ArbitrageConcluded"
	ConfirmFlashLoanSuccess   ConfirmationKind = "FlashLoanSuccess"
	ConfirmFlashLoanError     ConfirmationKind = "FlashloanError"
)

// Confirmation is a decoded contract event. Only the fields relevant to
// Kind are set.
type Confirmation struct {
	Kind           ConfirmationKind
	ExecutionID    uint32
	InputAmount    *big.Int
	Swap1AmountOut *big.Int
	Swap2AmountOut *big.Int
	Swap3AmountOut *big.Int
	Profit         *big.Int
	Amount         *big.Int
	Message        string
	TxHash         common.Hash
	BlockNumber    uint64
}
