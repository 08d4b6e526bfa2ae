package executor

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

var (
	weth = domain.Token{ID: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", Symbol: "WETH", Decimals: 18}
	usdc = domain.Token{ID: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Symbol: "USDC", Decimals: 6}
	wbtc = domain.Token{ID: "0x2260FAC5E5542a773Aa44fBCfeDf7C193bc2C599", Symbol: "WBTC", Decimals: 8}

	contractAddr = common.HexToAddress("0x00000000000000000000000000000000000f1a54")
)

func testPlan() domain.ArbitragePlan {
	return domain.ArbitragePlan{
		Swap1:            domain.SwapLeg{TokenIn: weth, TokenOut: wbtc, Pool: "0x01", FeeTier: 3000},
		Swap2:            domain.SwapLeg{TokenIn: wbtc, TokenOut: usdc, Pool: "0x02", FeeTier: 500},
		Swap3:            domain.SwapLeg{TokenIn: usdc, TokenOut: weth, Pool: "0x03", FeeTier: 100},
		EstimatedGasCost: decimal.NewFromInt(21000),
	}
}

type keySigner struct {
	key *ecdsa.PrivateKey
	err error
}

func newKeySigner(t *testing.T) *keySigner {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return &keySigner{key: key}
}

func (s *keySigner) Address() common.Address {
	return crypto.PubkeyToAddress(s.key.PublicKey)
}

func (s *keySigner) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	if s.err != nil {
		return nil, s.err
	}
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), s.key)
}

// fakeChain records sent transactions and serves a pending nonce that only
// advances when told to.
type fakeChain struct {
	mu       sync.Mutex
	pending  uint64
	sent     []*types.Transaction
	nonceErr error
	gasErr   error
	sendErr  error
	estimate uint64
}

func (c *fakeChain) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending, c.nonceErr
}

func (c *fakeChain) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(30_000_000_000), nil
}

func (c *fakeChain) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	if c.gasErr != nil {
		return 0, c.gasErr
	}
	if c.estimate == 0 {
		return 400_000, nil
	}
	return c.estimate, nil
}

func (c *fakeChain) SendTransaction(_ context.Context, tx *types.Transaction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, tx)
	return nil
}

func (c *fakeChain) sentTxs() []*types.Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*types.Transaction(nil), c.sent...)
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestPipeline(t *testing.T, chain *fakeChain, signer TxSigner) *Pipeline {
	t.Helper()
	return NewPipeline(chain, signer, nil, PipelineConfig{
		Contract:     contractAddr,
		ChainID:      big.NewInt(1),
		GasMarginPct: 20,
	}, discard())
}

func TestPipeline_InitRequiresChainIDAndNonce(t *testing.T) {
	chain := &fakeChain{}
	signer := newKeySigner(t)

	p := NewPipeline(chain, signer, nil, PipelineConfig{Contract: contractAddr}, discard())
	assert.Error(t, p.Init(t.Context()))

	chain.nonceErr = errors.New("node down")
	p = newTestPipeline(t, chain, signer)
	assert.ErrorIs(t, p.Init(t.Context()), domain.ErrNonceUnavailable)

	chain.nonceErr = nil
	require.NoError(t, p.Init(t.Context()))
	chain.nonceErr = errors.New("ignored")
	assert.NoError(t, p.Init(t.Context()), "second init is a no-op")
}

func TestPipeline_SubmitEncodesFlashLoanCall(t *testing.T) {
	chain := &fakeChain{pending: 12}
	signer := newKeySigner(t)
	p := newTestPipeline(t, chain, signer)

	tokenAIn := decimal.NewFromInt(5_000_000_000_000_000)
	res := <-p.Submit(t.Context(), testPlan(), tokenAIn)
	require.NoError(t, res.Err)
	assert.Equal(t, uint64(12), res.Nonce)

	sent := chain.sentTxs()
	require.Len(t, sent, 1)
	tx := sent[0]
	assert.Equal(t, contractAddr, *tx.To())
	assert.Equal(t, uint64(480_000), tx.Gas(), "estimate plus 20%")

	from, err := types.Sender(types.LatestSignerForChainID(big.NewInt(1)), tx)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), from)

	method := contractABI.Methods["initiateFlashLoan"]
	assert.Equal(t, method.ID, tx.Data()[:4])
	args, err := method.Inputs.Unpack(tx.Data()[4:])
	require.NoError(t, err)
	require.Len(t, args, 2)

	info := *abi.ConvertType(args[0], new(arbitInfo)).(*arbitInfo)
	assert.Equal(t, weth.Address(), info.Swap1.TokenIn)
	assert.Equal(t, wbtc.Address(), info.Swap1.TokenOut)
	assert.Equal(t, int64(3000), info.Swap1.PoolFee.Int64())
	assert.Equal(t, int64(500), info.Swap2.PoolFee.Int64())
	assert.Equal(t, usdc.Address(), info.Swap3.TokenIn)
	assert.Equal(t, weth.Address(), info.Swap3.TokenOut)
	assert.Zero(t, info.Swap3.AmountOutMinimum.Sign())
	assert.Equal(t, int64(21000), info.ExtraCost.Int64())
	assert.Zero(t, tokenAIn.BigInt().Cmp(args[1].(*big.Int)))
}

func TestPipeline_SubmitDeliversOnce(t *testing.T) {
	p := newTestPipeline(t, &fakeChain{}, newKeySigner(t))
	ch := p.Submit(t.Context(), testPlan(), decimal.NewFromInt(1))
	_, ok := <-ch
	assert.True(t, ok)
	_, ok = <-ch
	assert.False(t, ok, "channel is closed after the single result")
}

func TestPipeline_StageErrors(t *testing.T) {
	tests := []struct {
		name   string
		chain  *fakeChain
		signer func(*keySigner)
		amount decimal.Decimal
		stage  domain.ExecutionStage
	}{
		{name: "non-positive amount", chain: &fakeChain{}, amount: decimal.Zero, stage: domain.StageBuild},
		{name: "nonce", chain: &fakeChain{nonceErr: errors.New("rpc")}, amount: decimal.NewFromInt(1), stage: domain.StageNonce},
		{name: "estimate", chain: &fakeChain{gasErr: errors.New("revert")}, amount: decimal.NewFromInt(1), stage: domain.StageBuild},
		{name: "sign", chain: &fakeChain{}, signer: func(s *keySigner) { s.err = errors.New("locked") }, amount: decimal.NewFromInt(1), stage: domain.StageSign},
		{name: "send", chain: &fakeChain{sendErr: errors.New("underpriced")}, amount: decimal.NewFromInt(1), stage: domain.StageSend},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signer := newKeySigner(t)
			if tt.signer != nil {
				tt.signer(signer)
			}
			res := newTestPipeline(t, tt.chain, signer).Execute(t.Context(), testPlan(), tt.amount)
			require.Error(t, res.Err)
			assert.ErrorIs(t, res.Err, domain.ErrExecutionFailed)

			var execErr *domain.ExecutionError
			require.ErrorAs(t, res.Err, &execErr)
			assert.Equal(t, tt.stage, execErr.Stage)
			assert.Empty(t, tt.chain.sentTxs())
		})
	}
}

func TestPipeline_FeeTierOverflowIsBuildError(t *testing.T) {
	plan := testPlan()
	plan.Swap2.FeeTier = 1 << 24
	res := newTestPipeline(t, &fakeChain{}, newKeySigner(t)).Execute(t.Context(), plan, decimal.NewFromInt(1))
	var execErr *domain.ExecutionError
	require.ErrorAs(t, res.Err, &execErr)
	assert.Equal(t, domain.StageBuild, execErr.Stage)
}

func TestPipelines_ShareNonceAllocator(t *testing.T) {
	chain := &fakeChain{pending: 3}
	signer := newKeySigner(t)
	shared := NewNonceAllocator(chain, signer.Address())
	cfg := PipelineConfig{Contract: contractAddr, ChainID: big.NewInt(1), GasLimit: 500_000}
	uni := NewPipeline(chain, signer, shared, cfg, discard())
	cake := NewPipeline(chain, signer, shared, cfg, discard())

	var wg sync.WaitGroup
	results := make(chan Result, 10)
	for i := range 10 {
		p := uni
		if i%2 == 1 {
			p = cake
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- <-p.Submit(context.Background(), testPlan(), decimal.NewFromInt(1))
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[uint64]bool)
	for res := range results {
		require.NoError(t, res.Err)
		assert.False(t, seen[res.Nonce], "nonce %d reused", res.Nonce)
		seen[res.Nonce] = true
		assert.Equal(t, uint64(500_000), res.Tx.Gas())
	}
	for n := uint64(3); n < 13; n++ {
		assert.True(t, seen[n], "nonce %d missing", n)
	}
}
