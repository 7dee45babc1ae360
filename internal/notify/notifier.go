// Package notify pushes operator alerts for notable engine events. Events
// are formatted into short human-readable messages and fanned out to every
// configured channel (Telegram, Discord); a kind filter keeps the noise down
// so operators only hear about the events they asked for.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ashwalker/pairbot/internal/domain"
)

// Sender is one delivery channel.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a short identifier for the channel (e.g. "telegram").
	Name() string
}

// Notifier formats telemetry events and dispatches them to all senders.
type Notifier struct {
	senders []Sender
	kinds   map[domain.TelemetryKind]bool
	logger  *slog.Logger
}

// New creates a Notifier delivering to the given senders. kinds lists the
// telemetry kinds to forward; when empty, terminal orders and risk
// rejections are forwarded.
func New(senders []Sender, kinds []string, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.TelemetryKind]bool, len(kinds))
	for _, k := range kinds {
		allowed[domain.TelemetryKind(strings.TrimSpace(k))] = true
	}
	if len(allowed) == 0 {
		allowed[domain.TelemetryOrderTerminal] = true
		allowed[domain.TelemetryRiskRejected] = true
	}
	return &Notifier{
		senders: senders,
		kinds:   allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Wants reports whether events of this kind pass the filter.
func (n *Notifier) Wants(kind domain.TelemetryKind) bool {
	return n.kinds[kind]
}

// Notify formats one event and dispatches it. Filtered kinds are dropped
// silently. A failing sender does not prevent delivery to the rest.
func (n *Notifier) Notify(ctx context.Context, ev domain.TelemetryEvent) error {
	if !n.kinds[ev.Kind] || len(n.senders) == 0 {
		return nil
	}
	title, message := formatEvent(ev)

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

// formatEvent renders a telemetry event into a title and body suitable for
// a chat message.
func formatEvent(ev domain.TelemetryEvent) (title, message string) {
	switch ev.Kind {
	case domain.TelemetryOrderTerminal:
		title = fmt.Sprintf("Order %s", ev.State)
		message = fmt.Sprintf("%s %s %.6f @ %.6f (group %s, order %s)",
			ev.Side, ev.Instrument, ev.Size, ev.Price, ev.GroupID, ev.OrderID)
		if ev.Detail != "" {
			message += "\n" + ev.Detail
		}
	case domain.TelemetryRiskRejected:
		title = "Risk check rejected opportunity"
		message = fmt.Sprintf("group %s, edge %.6f: %s", ev.GroupID, ev.Edge, ev.Detail)
	case domain.TelemetryOpportunity:
		title = "Opportunity detected"
		message = fmt.Sprintf("group %s: buy %s, edge %.6f, size %.6f",
			ev.GroupID, ev.Instrument, ev.Edge, ev.Size)
	case domain.TelemetryModelDegraded:
		title = "Model degraded"
		message = fmt.Sprintf("group %s: %s", ev.GroupID, ev.Detail)
	default:
		title = string(ev.Kind)
		message = fmt.Sprintf("group %s %s: %s", ev.GroupID, ev.Instrument, ev.Detail)
	}
	return title, message
}
