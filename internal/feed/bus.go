package feed

import (
	"context"
	"log/slog"

	"github.com/alanyoungcy/xarb/internal/domain"
)

// BusFeeder applies depth frames published on a signal bus channel, for
// deployments where another process owns the venue connections.
type BusFeeder struct {
	bus     domain.SignalBus
	channel string
	applier *Applier
	logger  *slog.Logger
}

// NewBusFeeder creates a BusFeeder.
func NewBusFeeder(bus domain.SignalBus, channel string, applier *Applier, logger *slog.Logger) *BusFeeder {
	return &BusFeeder{
		bus:     bus,
		channel: channel,
		applier: applier,
		logger:  logger.With(slog.String("component", "bus_feeder")),
	}
}

// Run subscribes to the channel and applies every message until ctx is
// cancelled or the subscription closes. The books are emptied on exit.
func (f *BusFeeder) Run(ctx context.Context) error {
	ch, err := f.bus.Subscribe(ctx, f.channel)
	if err != nil {
		return err
	}
	f.logger.Info("feed: bus feeder started", slog.String("channel", f.channel))
	defer f.logger.Info("feed: bus feeder stopped")
	defer f.applier.Reset()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-ch:
			if !ok {
				return nil
			}
			if err := f.applier.Handle(data); err != nil {
				f.logger.Debug("feed: frame rejected",
					slog.String("error", err.Error()),
					slog.Int("payload_len", len(data)),
				)
			}
		}
	}
}
