package modem

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"i4.energy/across/cellmux/internal/obs"
)

// exclusion serializes every sequence of AT transactions on the channel.
// It is not reentrant: code already holding it calls the *Locked helpers.
type exclusion struct {
	sem    chan struct{}
	logger *slog.Logger

	mu     sync.Mutex
	holder string
}

func newExclusion(logger *slog.Logger) *exclusion {
	return &exclusion{sem: make(chan struct{}, 1), logger: logger}
}

// acquire blocks until the lock is free or ctx is done. label names the
// operation for diagnostics only. The returned func releases the lock.
func (e *exclusion) acquire(ctx context.Context, label string) (func(), error) {
	select {
	case e.sem <- struct{}{}:
	default:
		obs.LockContention.Inc()
		e.logger.Debug("channel busy, waiting", "operation", label, "held_by", e.heldBy())
		select {
		case e.sem <- struct{}{}:
		case <-ctx.Done():
			return nil, fmt.Errorf("acquire channel for %s: %w", label, ctx.Err())
		}
	}
	e.setHolder(label)
	return func() {
		e.setHolder("")
		<-e.sem
	}, nil
}

// heldBy returns the label of the current holder, empty when free.
func (e *exclusion) heldBy() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.holder
}

func (e *exclusion) setHolder(label string) {
	e.mu.Lock()
	e.holder = label
	e.mu.Unlock()
}
