package detector

import (
	"github.com/alanyoungcy/flasharb/internal/domain"
)

// IndexBuilder accumulates pools per token symbol while a venue is
// initializing. Freeze produces the read-only TokenIndex used afterwards.
type IndexBuilder struct {
	pools   map[string][]domain.Pool
	symbols []string
}

// NewIndexBuilder returns an empty builder.
func NewIndexBuilder() *IndexBuilder {
	return &IndexBuilder{pools: make(map[string][]domain.Pool)}
}

// Add records pool under every one of its input token symbols.
func (b *IndexBuilder) Add(pool domain.Pool) {
	for _, t := range pool.InputTokens {
		if _, ok := b.pools[t.Symbol]; !ok {
			b.symbols = append(b.symbols, t.Symbol)
		}
		b.pools[t.Symbol] = append(b.pools[t.Symbol], pool)
	}
}

// Freeze returns an immutable snapshot of the pools added so far. Later
// calls to Add do not affect the snapshot.
func (b *IndexBuilder) Freeze() *TokenIndex {
	idx := &TokenIndex{
		pools:   make(map[string][]domain.Pool, len(b.pools)),
		symbols: append([]string(nil), b.symbols...),
	}
	for sym, pools := range b.pools {
		idx.pools[sym] = append([]domain.Pool(nil), pools...)
	}
	return idx
}

// TokenIndex maps a token symbol to the pools containing it. It is never
// mutated after Freeze and is safe for concurrent readers.
type TokenIndex struct {
	pools   map[string][]domain.Pool
	symbols []string
}

// Pools returns the pools that contain symbol, in insertion order. The
// returned slice must not be modified.
func (x *TokenIndex) Pools(symbol string) []domain.Pool {
	if x == nil {
		return nil
	}
	return x.pools[symbol]
}

// Symbols returns the indexed symbols in the order they were first seen.
func (x *TokenIndex) Symbols() []string {
	if x == nil {
		return nil
	}
	return x.symbols
}

// Len is the number of indexed symbols.
func (x *TokenIndex) Len() int {
	if x == nil {
		return 0
	}
	return len(x.symbols)
}

// PoolsBetween returns the pools that contain both a and b.
func (x *TokenIndex) PoolsBetween(a, b string) []domain.Pool {
	var out []domain.Pool
	for _, p := range x.Pools(a) {
		if p.HasToken(b) {
			out = append(out, p)
		}
	}
	return out
}

// Intermediaries returns every token that shares a pool with a and a pool
// with c, excluding a and c. Order follows a's pools in insertion order,
// which makes candidate evaluation deterministic.
func (x *TokenIndex) Intermediaries(a, c string) []domain.Token {
	withC := make(map[string]bool)
	for _, p := range x.Pools(c) {
		for _, t := range p.InputTokens {
			withC[t.Symbol] = true
		}
	}

	seen := make(map[string]bool)
	var out []domain.Token
	for _, p := range x.Pools(a) {
		for _, t := range p.InputTokens {
			if t.Symbol == a || t.Symbol == c || seen[t.Symbol] || !withC[t.Symbol] {
				continue
			}
			seen[t.Symbol] = true
			out = append(out, t)
		}
	}
	return out
}
