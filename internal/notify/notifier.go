// Package notify fans operator alerts (trades, aborts, fatal halts) out to
// the configured chat channels, filtered by event name.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sourcegraph/conc/pool"

	"github.com/alanyoungcy/xarb/internal/config"
)

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier delivers alerts to every sender. Notify forwards only the
// configured events; an empty event list lets everything through.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier over explicit senders.
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

// FromConfig builds the senders cfg has credentials for. It returns nil
// when no channel is configured.
func FromConfig(cfg config.NotifyConfig, logger *slog.Logger) *Notifier {
	var senders []Sender
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		senders = append(senders, NewTelegramSender(cfg.TelegramToken, cfg.TelegramChatID))
	}
	if cfg.DiscordWebhookURL != "" {
		senders = append(senders, NewDiscordSender(cfg.DiscordWebhookURL))
	}
	if len(senders) == 0 {
		return nil
	}
	return NewNotifier(senders, cfg.Events, logger)
}

// Senders lists the sender names, for startup logging.
func (n *Notifier) Senders() []string {
	out := make([]string, len(n.senders))
	for i, s := range n.senders {
		out[i] = s.Name()
	}
	return out
}

// Notify sends title and message for event if the event is enabled.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "notify: event filtered out", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// NotifyAll sends regardless of the event filter.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

// dispatch sends to every sender concurrently. One failing sender does not
// stop the others; all failures are returned together.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	p := pool.New().WithErrors()
	for _, s := range n.senders {
		p.Go(func() error {
			if err := s.Send(ctx, title, message); err != nil {
				n.logger.ErrorContext(ctx, "notify: sender failed",
					slog.String("sender", s.Name()),
					slog.String("error", err.Error()),
				)
				return fmt.Errorf("%s: %w", s.Name(), err)
			}
			n.logger.DebugContext(ctx, "notify: sent",
				slog.String("sender", s.Name()),
				slog.String("title", title),
			)
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	return nil
}
