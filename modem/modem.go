package modem

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"i4.energy/across/cellmux/at"
)

// probeTimeout is the answer budget of each wake-up AT.
const probeTimeout = 200 * time.Millisecond

// localTimeTimeout covers AT+CLTS, which the module is slow to answer.
const localTimeTimeout = 10 * time.Second

// Modem drives a SIM7080 family module over a single byte channel and
// multiplexes it into MuxCount virtual sockets. All exchanges with the
// module are serialized by one channel lock shared by socket calls and the
// maintenance pass.
type Modem struct {
	transport Transport
	ch        *channel
	config    Config
	logger    *slog.Logger
	lock      *exclusion
	sockets   muxTable
	clock     clock
	events    chan Event

	certMu       sync.RWMutex
	certificates [MuxCount]string

	resetDetected atomic.Bool
	closed        atomic.Bool
	loopRunning   atomic.Bool
}

// SocketStatus is a point-in-time view of one bound slot.
type SocketStatus struct {
	Mux         int    `json:"mux"`
	Connected   bool   `json:"connected"`
	Available   int    `json:"available"`
	Pending     bool   `json:"pending"`
	Certificate string `json:"certificate,omitempty"`
}

// New dials the modem, starts reading from it and runs the initialization
// sequence. The returned Modem is ready for sockets; Maintain has to be
// called periodically from then on.
func New(ctx context.Context, config Config) (*Modem, error) {
	config.setDefaults()
	if err := config.validate(); err != nil {
		return nil, err
	}

	transport, err := config.Dialer.Dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("dial modem: %w", err)
	}
	if transport == nil {
		return nil, ErrNotInitialized
	}

	logger := config.Logger.With("component", "modem")
	m := &Modem{
		transport: transport,
		ch:        newChannel(transport),
		config:    config,
		logger:    logger,
		lock:      newExclusion(logger),
		events:    make(chan Event, config.EventBuffer),
	}

	initCtx, cancel := context.WithTimeout(ctx, config.InitTimeout)
	defer cancel()
	if err := m.Reinit(initCtx); err != nil {
		m.closed.Store(true)
		transport.Close()
		return nil, fmt.Errorf("initialize modem: %w", err)
	}
	return m, nil
}

// Reinit repeats the initialization sequence, for instance after
// Maintain reported ErrUnexpectedReset. A restarted module has dropped all
// connections, so every socket is marked disconnected.
func (m *Modem) Reinit(ctx context.Context) error {
	if m.closed.Load() {
		return ErrAlreadyClosed
	}
	release, err := m.lock.acquire(ctx, "init")
	if err != nil {
		return err
	}
	defer release()

	if err := m.initLocked(ctx); err != nil {
		return err
	}
	m.resetDetected.Store(false)
	m.sockets.each(All, func(_ int, s *Socket) {
		s.connected.Store(false)
		s.available.Store(0)
	})
	m.updateConnectedGauge()
	m.logger.Info("modem initialized")
	return nil
}

func (m *Modem) initLocked(ctx context.Context) error {
	if err := m.probe(ctx); err != nil {
		return fmt.Errorf("modem not responding: %w", err)
	}
	if err := m.expectOK(at.CmdEchoOff, m.config.ATTimeout); err != nil {
		return fmt.Errorf("could not disable echo: %w", err)
	}
	m.bestEffort(at.CmdVerboseErrors)

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.expectOK(at.CmdLocalTime, localTimeTimeout); err != nil {
		return fmt.Errorf("enable network time: %w", err)
	}
	if err := m.expectOK(at.CmdBatteryChkOff, m.config.ATTimeout); err != nil {
		return fmt.Errorf("disable battery check: %w", err)
	}
	return nil
}

// probe sends AT until the module answers OK.
func (m *Modem) probe(ctx context.Context) error {
	var err error
	for attempt := 1; attempt <= m.config.MaxRetries; attempt++ {
		if err = m.expectOK(at.CmdAt, probeTimeout); err == nil {
			return nil
		}
		m.logger.Debug("no answer to AT", "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(probeTimeout):
		}
	}
	return fmt.Errorf("after %d attempts: %w", m.config.MaxRetries, err)
}

// Close closes the transport. Sockets stay bound but every further
// exchange fails. A second Close returns ErrAlreadyClosed.
func (m *Modem) Close() error {
	if m.closed.Swap(true) {
		return ErrAlreadyClosed
	}
	m.sockets.each(All, func(_ int, s *Socket) {
		s.connected.Store(false)
	})
	m.updateConnectedGauge()
	return m.transport.Close()
}

// Events returns notifications the modem pushed. The channel is buffered;
// events are dropped when it is full.
func (m *Modem) Events() <-chan Event {
	return m.events
}

// ResetDetected reports whether the module announced a restart since the
// last successful initialization.
func (m *Modem) ResetDetected() bool {
	return m.resetDetected.Load()
}

// NetworkClock returns the latest network name and time the module pushed.
func (m *Modem) NetworkClock() NetworkClock {
	return m.clock.snapshot()
}

// SetCertificate binds a certificate provisioned on the module to mux. The
// binding outlives sockets and is only consulted by TLS connects. An empty
// name removes it.
func (m *Modem) SetCertificate(mux int, name string) error {
	if !validMux(mux) {
		return fmt.Errorf("mux %d: %w", mux, ErrInvalidMux)
	}
	if err := CheckParameter(name); err != nil {
		return fmt.Errorf("certificate: %w", err)
	}
	m.certMu.Lock()
	m.certificates[mux] = name
	m.certMu.Unlock()
	return nil
}

func (m *Modem) Certificate(mux int) string {
	if !validMux(mux) {
		return ""
	}
	m.certMu.RLock()
	defer m.certMu.RUnlock()
	return m.certificates[mux]
}

// Socket returns the socket bound to mux, or nil.
func (m *Modem) Socket(mux int) *Socket {
	return m.sockets.lookup(mux)
}

// Status lists every bound socket in mux order.
func (m *Modem) Status() []SocketStatus {
	var out []SocketStatus
	m.sockets.each(All, func(mux int, s *Socket) {
		out = append(out, SocketStatus{
			Mux:         mux,
			Connected:   s.Connected(),
			Available:   s.Available(),
			Pending:     s.Pending(),
			Certificate: m.Certificate(mux),
		})
	})
	return out
}
