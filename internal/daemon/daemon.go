package daemon

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/basecamp/daemon-console/internal/observability"
	"github.com/basecamp/daemon-console/internal/poll"
)

// Daemon runs the scheduler until a key is pressed or ctx is cancelled,
// with the metrics server alongside when one is configured.
type Daemon struct {
	Scheduler *poll.Scheduler
	Server    *observability.Server
	// Rotation, when set, reloads the credential as its files change.
	Rotation *Rotator
	// WaitForKey returns when the user asks to stop. Nil waits for ctx only.
	WaitForKey func(ctx context.Context) error
	Logger     *slog.Logger
}

// Run blocks until the daemon stops. A keypress or cancelled ctx is a
// normal stop and returns nil.
func (d *Daemon) Run(ctx context.Context) error {
	logger := d.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		return d.Scheduler.Run(gctx)
	})

	if d.Server != nil {
		g.Go(func() error { return d.Server.Run(gctx) })
	}

	if d.Rotation != nil {
		g.Go(func() error {
			if err := d.Rotation.Watch(gctx); err != nil {
				logger.Warn("credential rotation disabled", "error", err)
			}
			return nil
		})
	}

	if d.WaitForKey != nil {
		g.Go(func() error {
			err := d.WaitForKey(gctx)
			if gctx.Err() == nil {
				logger.Debug("key pressed, stopping")
			}
			cancel()
			return err
		})
	}

	return g.Wait()
}
