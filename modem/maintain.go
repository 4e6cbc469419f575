package modem

import (
	"context"
	"errors"
	"fmt"
	"time"

	"i4.energy/across/cellmux/internal/obs"
)

// maintainClearWindow is the quiet period Maintain waits for while
// draining stray bytes.
const maintainClearWindow = 15 * time.Millisecond

// Maintain is the periodic housekeeping pass. When notifications flagged
// any socket since the last pass it refreshes availability of all slots
// once, then consumes stray channel bytes so pending notifications get
// dispatched. It must be called regularly, directly or through Run.
//
// It returns ErrUnexpectedReset once the modem announced a restart; the
// caller is expected to Reinit.
func (m *Modem) Maintain(ctx context.Context) error {
	if m.closed.Load() {
		return ErrAlreadyClosed
	}
	release, err := m.lock.acquire(ctx, "maintain")
	if err != nil {
		return err
	}
	defer release()

	start := time.Now()
	defer func() { obs.MaintenanceDuration.Observe(time.Since(start).Seconds()) }()

	flagged := false
	m.sockets.each(All, func(_ int, s *Socket) {
		if s.pending.Swap(false) {
			flagged = true
		}
	})
	if flagged {
		if _, err := m.pollAvailableLocked(All); err != nil {
			m.logger.Debug("maintenance poll incomplete", "error", err)
		}
	}

	m.discardLocked(maintainClearWindow)

	if m.resetDetected.Load() {
		return ErrUnexpectedReset
	}
	if err := m.ch.closedErr(); err != nil {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return nil
}

// Run calls Maintain every interval until ctx is cancelled, the channel
// closes or the modem restarts. Only one Run may be active per Modem.
//
// Usage:
//
//	m, err := modem.New(ctx, config)
//	if err != nil { return err }
//	go m.Run(ctx, 100*time.Millisecond)
func (m *Modem) Run(ctx context.Context, interval time.Duration) error {
	if !m.loopRunning.CompareAndSwap(false, true) {
		return ErrLoopRunning
	}
	defer m.loopRunning.Store(false)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		err := m.Maintain(ctx)
		switch {
		case err == nil:
		case errors.Is(err, ErrUnexpectedReset),
			errors.Is(err, ErrClosed),
			errors.Is(err, ErrAlreadyClosed):
			return err
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			m.logger.Warn("maintenance failed", "error", err)
		}
	}
}
