// Package notify delivers operator alerts about opportunities, submissions
// and on-chain confirmations to chat channels. Alerts are filtered by event
// type so operators can mute the noisy ones (every detected opportunity) and
// keep the important ones (flash-loan errors).
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Event types accepted by Notify.
const (
	EventOpportunity    = "opportunity"
	EventSubmitted      = "submitted"
	EventError          = "error"
	EventConcluded      = "concluded"
	EventFlashLoanError = "flashloan_error"
)

// Alert is one notification.
type Alert struct {
	Event   string
	Title   string
	Message string
}

// Severe reports whether the alert is about a failure.
func (a Alert) Severe() bool {
	return a.Event == EventError || a.Event == EventFlashLoanError
}

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, alert Alert) error
	Name() string
}

// Notifier fans an alert out to every Sender whose event type is enabled.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier for senders. Only event types listed in
// events are forwarded; an empty list forwards everything.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether event would be forwarded.
func (n *Notifier) Enabled(event string) bool {
	return len(n.senders) > 0 && (len(n.events) == 0 || n.events[event])
}

// Notify sends the alert to all senders if event is enabled. A failing sender
// does not stop delivery to the others; all failures are joined.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if !n.Enabled(event) {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}

	alert := Alert{Event: event, Title: title, Message: message}
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, alert); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("event", event),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %w", errors.Join(errs...))
	}
	return nil
}
