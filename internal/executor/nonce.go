package executor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// NonceSource reports the next nonce of an account, counting pending
// transactions.
type NonceSource interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// NonceAllocator hands out wallet nonces one submission at a time. The
// nonce is held from the pending-nonce read until the signed transaction
// has been sent, so two concurrent submissions never share a nonce. One
// allocator must serve every venue that uses the wallet.
type NonceAllocator struct {
	source  NonceSource
	account common.Address

	mu       sync.Mutex
	next     uint64
	hasLocal bool

	// snapshot mirrors next+1 for readers that must not wait on mu; zero
	// means no local nonce.
	snapshot atomic.Uint64
	inFlight atomic.Int32
}

// NewNonceAllocator creates an allocator for account.
func NewNonceAllocator(source NonceSource, account common.Address) *NonceAllocator {
	return &NonceAllocator{source: source, account: account}
}

// With runs fn with the next nonce while holding the allocator. The nonce
// is consumed only when fn returns nil; on failure the local counter is
// dropped and the next call resynchronizes from the node.
func (a *NonceAllocator) With(ctx context.Context, fn func(nonce uint64) error) error {
	a.inFlight.Add(1)
	defer a.inFlight.Add(-1)

	a.mu.Lock()
	defer a.mu.Unlock()

	pending, err := a.source.PendingNonceAt(ctx, a.account)
	if err != nil {
		return &domain.ExecutionError{
			Stage: domain.StageNonce,
			Err:   fmt.Errorf("%w: %w", domain.ErrNonceUnavailable, err),
		}
	}

	nonce := pending
	if a.hasLocal && a.next > nonce {
		nonce = a.next
	}

	if err := fn(nonce); err != nil {
		a.hasLocal = false
		a.snapshot.Store(0)
		return err
	}

	a.next = nonce + 1
	a.hasLocal = true
	a.snapshot.Store(a.next + 1)
	return nil
}

// Next returns the nonce the next submission will use at least, and
// whether the allocator holds a local nonce. It never waits on a
// submission in progress.
func (a *NonceAllocator) Next() (uint64, bool) {
	v := a.snapshot.Load()
	if v == 0 {
		return 0, false
	}
	return v - 1, true
}

// InFlight is the number of submissions holding or waiting for a nonce.
func (a *NonceAllocator) InFlight() int {
	return int(a.inFlight.Load())
}

// Account is the wallet the allocator serves.
func (a *NonceAllocator) Account() common.Address {
	return a.account
}
