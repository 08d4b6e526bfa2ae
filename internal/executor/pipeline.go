package executor

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync/atomic"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// ChainClient is the subset of an Ethereum RPC client the pipeline uses.
type ChainClient interface {
	NonceSource
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// TxSigner signs transactions for one wallet.
type TxSigner interface {
	Address() common.Address
	SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// PipelineConfig configures transaction construction.
type PipelineConfig struct {
	Contract common.Address
	ChainID  *big.Int
	// GasLimit fixes the gas limit; zero estimates it per transaction.
	GasLimit uint64
	// GasMarginPct is added on top of an estimated gas limit.
	GasMarginPct int
}

// Result is the single outcome of one submission.
type Result struct {
	Tx    *types.Transaction
	Nonce uint64
	Err   error
}

// Pipeline signs and submits flash-loan transactions. Nonce allocation,
// signing and sending happen under the shared NonceAllocator. Failures are
// terminal for the opportunity; retries only happen inside the RPC
// transport.
type Pipeline struct {
	client ChainClient
	signer TxSigner
	nonces *NonceAllocator
	cfg    PipelineConfig
	logger *slog.Logger

	initialized atomic.Bool
}

// NewPipeline creates a pipeline. nonces must be shared by every pipeline
// signing with the same wallet; nil creates a private allocator.
func NewPipeline(client ChainClient, signer TxSigner, nonces *NonceAllocator, cfg PipelineConfig, logger *slog.Logger) *Pipeline {
	if nonces == nil {
		nonces = NewNonceAllocator(client, signer.Address())
	}
	if cfg.GasMarginPct < 0 {
		cfg.GasMarginPct = 0
	}
	return &Pipeline{
		client: client,
		signer: signer,
		nonces: nonces,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "pipeline")),
	}
}

// Init checks that the wallet's nonce can be read. A second call is a
// no-op.
func (p *Pipeline) Init(ctx context.Context) error {
	if p.initialized.Load() {
		return nil
	}
	if p.cfg.ChainID == nil || p.cfg.ChainID.Sign() <= 0 {
		return fmt.Errorf("executor: init: chain id is required")
	}
	nonce, err := p.client.PendingNonceAt(ctx, p.signer.Address())
	if err != nil {
		return fmt.Errorf("executor: init: %w: %w", domain.ErrNonceUnavailable, err)
	}
	p.initialized.Store(true)
	p.logger.Info("execution pipeline ready",
		slog.String("wallet", p.signer.Address().Hex()),
		slog.String("contract", p.cfg.Contract.Hex()),
		slog.Uint64("pending_nonce", nonce),
	)
	return nil
}

// Nonces returns the allocator the pipeline draws from.
func (p *Pipeline) Nonces() *NonceAllocator {
	return p.nonces
}

// Submit runs Execute in the background and delivers its outcome on the
// returned channel exactly once. The channel is closed afterwards.
func (p *Pipeline) Submit(ctx context.Context, plan domain.ArbitragePlan, tokenAIn decimal.Decimal) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		defer close(out)
		out <- p.Execute(ctx, plan, tokenAIn)
	}()
	return out
}

// Execute builds, signs and sends the flash-loan transaction for plan.
// Result.Err is a *domain.ExecutionError on failure.
func (p *Pipeline) Execute(ctx context.Context, plan domain.ArbitragePlan, tokenAIn decimal.Decimal) Result {
	amount := tokenAIn.BigInt()
	if amount.Sign() <= 0 {
		return Result{Err: &domain.ExecutionError{Stage: domain.StageBuild, Err: fmt.Errorf("non-positive input amount %s", tokenAIn)}}
	}
	data, err := packInitiateFlashLoan(plan, amount)
	if err != nil {
		return Result{Err: &domain.ExecutionError{Stage: domain.StageBuild, Err: err}}
	}

	var res Result
	err = p.nonces.With(ctx, func(nonce uint64) error {
		tx, err := p.buildTx(ctx, nonce, data)
		if err != nil {
			return &domain.ExecutionError{Stage: domain.StageBuild, Err: err}
		}

		signed, err := p.signer.SignTx(tx, p.cfg.ChainID)
		if err != nil {
			return &domain.ExecutionError{Stage: domain.StageSign, Err: fmt.Errorf("%w: %w", domain.ErrSigningFailed, err)}
		}

		if err := p.client.SendTransaction(ctx, signed); err != nil {
			return &domain.ExecutionError{Stage: domain.StageSend, Err: err}
		}

		res = Result{Tx: signed, Nonce: nonce}
		return nil
	})
	if err != nil {
		p.logger.Error("flash loan submission failed",
			slog.String("cycle", plan.String()),
			slog.String("error", err.Error()),
		)
		return Result{Err: err}
	}

	p.logger.Info("flash loan submitted",
		slog.String("cycle", plan.String()),
		slog.String("tx", res.Tx.Hash().Hex()),
		slog.Uint64("nonce", res.Nonce),
	)
	return res
}

func (p *Pipeline) buildTx(ctx context.Context, nonce uint64, data []byte) (*types.Transaction, error) {
	gasPrice, err := p.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas price: %w", err)
	}

	gas := p.cfg.GasLimit
	if gas == 0 {
		estimated, err := p.client.EstimateGas(ctx, ethereum.CallMsg{
			From:     p.signer.Address(),
			To:       &p.cfg.Contract,
			GasPrice: gasPrice,
			Data:     data,
		})
		if err != nil {
			return nil, fmt.Errorf("estimate gas: %w", err)
		}
		gas = estimated + estimated*uint64(p.cfg.GasMarginPct)/100
	}

	return types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &p.cfg.Contract,
		Value:    new(big.Int),
		Data:     data,
	}), nil
}
