// Package feed fans opportunity and execution events out over the Redis
// signal bus so dashboards and other replicas can follow the pipeline.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

const (
	// Channel carries live events over pub/sub.
	Channel = "ch:arb"
	// Stream keeps a replayable history of the same events.
	Stream = "stream:arb"
)

// Event types.
const (
	TypeOpportunity  = "opportunity"
	TypeExecution    = "execution"
	TypeConfirmation = "confirmation"
)

// Publisher implements executor.Publisher on a domain.SignalBus. Payloads
// are protobuf-encoded structpb.Struct values with a "type" field.
type Publisher struct {
	bus    domain.SignalBus
	now    func() time.Time
	logger *slog.Logger
}

// NewPublisher creates a Publisher.
func NewPublisher(bus domain.SignalBus, logger *slog.Logger) *Publisher {
	return &Publisher{
		bus:    bus,
		now:    time.Now,
		logger: logger.With(slog.String("component", "feed")),
	}
}

// PublishOpportunity publishes an assembled opportunity.
func (p *Publisher) PublishOpportunity(ctx context.Context, opp domain.Opportunity) error {
	fields := map[string]any{
		"id":               opp.ID(),
		"venue":            opp.Venue,
		"cycle":            opp.Plan.String(),
		"token_a_in":       opp.TokenAIn.String(),
		"price_impact_bps": opp.PriceImpactBps.String(),
		"trigger_pool":     opp.Trigger.Pool.Hex(),
		"block":            float64(opp.Trigger.BlockNumber),
	}
	if opp.ExpectedProfit != nil {
		fields["expected_profit"] = opp.ExpectedProfit.String()
	}
	return p.publish(ctx, TypeOpportunity, fields)
}

// PublishExecution publishes a submission outcome.
func (p *Publisher) PublishExecution(ctx context.Context, rec domain.ExecutionRecord) error {
	return p.publish(ctx, TypeExecution, map[string]any{
		"id":             rec.ID,
		"opportunity_id": rec.OpportunityID,
		"venue":          rec.Venue,
		"tx_hash":        rec.TxHash,
		"nonce":          float64(rec.Nonce),
		"status":         string(rec.Status),
		"error":          rec.Error,
	})
}

// PublishConfirmation publishes a decoded contract event.
func (p *Publisher) PublishConfirmation(ctx context.Context, c domain.Confirmation) error {
	fields := map[string]any{
		"kind":         string(c.Kind),
		"execution_id": float64(c.ExecutionID),
		"tx_hash":      c.TxHash.Hex(),
		"block":        float64(c.BlockNumber),
	}
	if c.Profit != nil {
		fields["profit"] = c.Profit.String()
	}
	if c.Amount != nil {
		fields["amount"] = c.Amount.String()
	}
	if c.Message != "" {
		fields["message"] = c.Message
	}
	return p.publish(ctx, TypeConfirmation, fields)
}

func (p *Publisher) publish(ctx context.Context, eventType string, fields map[string]any) error {
	fields["type"] = eventType
	fields["ts"] = p.now().UTC().Format(time.RFC3339Nano)

	payload, err := Encode(fields)
	if err != nil {
		return fmt.Errorf("feed: encode %s: %w", eventType, err)
	}

	// The stream is the durable copy; a pub/sub failure still leaves it.
	errPub := p.bus.Publish(ctx, Channel, payload)
	errStream := p.bus.StreamAppend(ctx, Stream, payload)
	if err := errors.Join(errPub, errStream); err != nil {
		return fmt.Errorf("feed: publish %s: %w", eventType, err)
	}
	p.logger.Debug("event published", slog.String("type", eventType), slog.Int("bytes", len(payload)))
	return nil
}

// Encode marshals fields as a protobuf Struct.
func Encode(fields map[string]any) ([]byte, error) {
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(s)
}

// Decode is the inverse of Encode.
func Decode(payload []byte) (map[string]any, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(payload, &s); err != nil {
		return nil, fmt.Errorf("feed: decode: %w", err)
	}
	return s.AsMap(), nil
}

// Entry is one replayed stream event.
type Entry struct {
	ID    string         `json:"id"`
	Event map[string]any `json:"event"`
}

// Tail reads up to count events after lastID ("0" for the oldest).
// Undecodable entries are skipped.
func Tail(ctx context.Context, bus domain.SignalBus, lastID string, count int) ([]Entry, error) {
	if lastID == "" {
		lastID = "0"
	}
	msgs, err := bus.StreamRead(ctx, Stream, lastID, count)
	if err != nil {
		return nil, fmt.Errorf("feed: tail: %w", err)
	}
	entries := make([]Entry, 0, len(msgs))
	for _, m := range msgs {
		ev, err := Decode(m.Payload)
		if err != nil {
			continue
		}
		entries = append(entries, Entry{ID: m.ID, Event: ev})
	}
	return entries, nil
}
