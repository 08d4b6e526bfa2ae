package app

import (
	"context"
	"time"

	"github.com/alanyoungcy/flasharb/internal/dex"
	"github.com/alanyoungcy/flasharb/internal/server/handler"
)

// statusProvider reports venue, stream and nonce state for /api/status.
type statusProvider struct {
	mode      string
	startedAt time.Time
	deps      *Dependencies
}

func newStatusProvider(mode string, deps *Dependencies) *statusProvider {
	return &statusProvider{mode: mode, startedAt: time.Now().UTC(), deps: deps}
}

func (p *statusProvider) Status(context.Context) handler.StatusReport {
	r := handler.StatusReport{
		Mode:      p.mode,
		StartedAt: p.startedAt,
		Venues:    make([]dex.Status, 0, len(p.deps.Venues)),
	}
	for _, d := range p.deps.Venues {
		r.Venues = append(r.Venues, d.Status())
	}
	if s := p.deps.Stream; s != nil {
		r.Subscriptions = s.SubscriptionCount()
		r.StreamConnected = s.Connected()
	}
	if p.deps.Wallet != nil {
		r.Wallet = p.deps.Wallet.Address().Hex()
	}
	if p.deps.Pipeline != nil {
		nonces := p.deps.Pipeline.Nonces()
		if n, ok := nonces.Next(); ok {
			r.NextNonce = &n
		}
		r.InFlight = nonces.InFlight()
	}
	return r
}
