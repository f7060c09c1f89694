package controller

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/alanyoungcy/xarb/internal/domain"
)

const (
	reconnectTries       = 4
	reconnectMaxInterval = 5 * time.Second
)

// restartExchange runs the stop, start, reconnect sequence with exponential
// backoff between attempts.
func restartExchange(ctx context.Context, xchg domain.Exchange, timeout time.Duration) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = reconnectMaxInterval

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		cctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		// A failed Stop is expected when the session is already gone.
		_ = xchg.Stop(cctx)
		if err := xchg.Start(cctx); err != nil {
			return struct{}{}, fmt.Errorf("start: %w", err)
		}
		if err := xchg.Reconnect(cctx); err != nil {
			return struct{}{}, fmt.Errorf("reconnect: %w", err)
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(reconnectTries))
	if err != nil {
		return fmt.Errorf("controller: restart %s: %w", xchg.Name(), err)
	}
	return nil
}
