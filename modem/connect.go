package modem

import (
	"context"
	"errors"
	"fmt"
	"time"

	"i4.energy/across/cellmux/at"
	"i4.energy/across/cellmux/internal/obs"
)

const (
	sslConfigTimeout = 5 * time.Second
	closeTimeout     = 3 * time.Second
	// clearWindow is how long the channel has to stay quiet while stray
	// bytes are discarded.
	clearWindow = 50 * time.Millisecond
)

type connectOptions struct {
	tls     bool
	timeout time.Duration
}

// ConnectOption tunes a single Connect call.
type ConnectOption func(*connectOptions)

// WithTLS makes the modem wrap the connection in TLS, presenting the host
// as server name.
func WithTLS() ConnectOption {
	return func(o *connectOptions) { o.tls = true }
}

// WithConnectTimeout bounds the wait for the open result.
func WithConnectTimeout(d time.Duration) ConnectOption {
	return func(o *connectOptions) { o.timeout = d }
}

// CheckParameter reports whether value can be quoted into an AT command
// line. Double quotes and control bytes would end the argument or the
// command early.
func CheckParameter(value string) error {
	for i := 0; i < len(value); i++ {
		if c := value[i]; c == '"' || c < 0x20 || c == 0x7f {
			return fmt.Errorf("%q: byte 0x%02x at %d: %w", value, c, i, ErrInvalidParameter)
		}
	}
	return nil
}

// Connect closes whatever the slot had open and opens a new connection to
// host:port. A rejection by the modem is reported as *OpenError carrying
// the modem's result code.
func (s *Socket) Connect(ctx context.Context, host string, port uint16, opts ...ConnectOption) error {
	if !s.bound.Load() {
		return ErrUnbound
	}
	if host == "" {
		return fmt.Errorf("empty host: %w", ErrInvalidParameter)
	}
	if err := CheckParameter(host); err != nil {
		return fmt.Errorf("host: %w", err)
	}
	m := s.modem
	o := connectOptions{timeout: m.config.ConnectTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	release, err := m.lock.acquire(ctx, "connect")
	if err != nil {
		return err
	}
	defer release()

	_ = m.stopLocked(s, 0)
	s.rx.clear()
	s.available.Store(0)

	err = m.openLocked(s.mux, host, port, o)
	s.connected.Store(err == nil)
	m.updateConnectedGauge()

	var openErr *OpenError
	switch {
	case err == nil:
		m.logger.Info("socket connected", "mux", s.mux, "host", host, "port", port, "tls", o.tls)
	case errors.As(err, &openErr):
		obs.OpenFailures.WithLabelValues(openErr.Code.String()).Inc()
		m.logger.Warn("modem rejected connect", "mux", s.mux, "host", host, "port", port, "code", int(openErr.Code), "reason", openErr.Code.String())
	default:
		obs.OpenFailures.WithLabelValues("transaction").Inc()
		m.logger.Warn("connect failed", "mux", s.mux, "host", host, "port", port, "error", err)
	}
	return err
}

// openLocked runs the ordered open sequence. TLS setup has to be complete
// before AT+CAOPEN, and SNI is only set once TLS is enabled.
func (m *Modem) openLocked(mux int, host string, port uint16, o connectOptions) error {
	if err := m.expectOK(at.SetMux(mux), m.config.ATTimeout); err != nil {
		return fmt.Errorf("select mux %d: %w", mux, err)
	}

	if o.tls {
		if err := m.expectOK(at.SSLVersion(mux, at.TLSVersion12), sslConfigTimeout); err != nil {
			return fmt.Errorf("set TLS version: %w", err)
		}
	}
	m.bestEffort(at.EnableSSL(mux, o.tls))

	if o.tls {
		m.bestEffort(at.BindSSLContext(mux))

		m.writeCommand(at.SSLContextIndex(mux))
		index, _ := m.waitResponse(sslConfigTimeout, at.SSLConfig, at.ERROR, at.CmeError, at.CmsError)
		if err := result(index); err != nil {
			return fmt.Errorf("select SSL context: %w", err)
		}
		m.skipUntil(at.LineFeed)
		m.waitResponse(m.config.ATTimeout)

		if name := m.Certificate(mux); name != "" {
			if err := m.expectOK(at.CACert(mux, name), m.config.ATTimeout); err != nil {
				// Only names already provisioned on the module can be referenced.
				m.logger.Warn("certificate not applied", "mux", mux, "certificate", name, "error", err)
			}
		}
		m.bestEffort(at.SNI(mux, host))
	}

	m.writeCommand(at.Open(mux, at.PDPIndex, host, port))
	index, _ := m.waitResponse(o.timeout, at.OpenResult, at.ERROR, at.CmeError, at.CmsError)
	if err := result(index); err != nil {
		return fmt.Errorf("open mux %d: %w", mux, err)
	}
	m.skipUntil(at.FieldDivider)
	code, ok := m.readIntBefore(at.LineFeed)
	m.waitResponse(m.config.ATTimeout)
	if !ok {
		return &OpenError{Mux: mux, Code: OpenNoResult}
	}
	if OpenResult(code) != OpenSuccess {
		return &OpenError{Mux: mux, Code: OpenResult(code)}
	}
	return nil
}

// stopLocked drains data already on its way for up to maxWait, discards
// stray channel bytes and closes the connection. The socket counts as
// disconnected afterwards whatever the modem answers.
func (m *Modem) stopLocked(s *Socket, maxWait time.Duration) error {
	deadline := time.Now().Add(maxWait)
	for s.available.Load() > 0 && time.Now().Before(deadline) {
		s.rx.clear()
		m.recvLocked(s, min(s.rx.free(), int(s.available.Load())))
	}
	s.rx.clear()
	m.clearLocked()

	m.writeCommand(at.Close(s.mux))
	s.connected.Store(false)
	m.updateConnectedGauge()
	index, _ := m.waitResponse(closeTimeout)
	if err := result(index); err != nil {
		return fmt.Errorf("close mux %d: %w", s.mux, err)
	}
	return nil
}

// maxClearRounds bounds how many quiet windows a clear may spend on a
// modem that keeps talking.
const maxClearRounds = 8

// clearLocked consumes whatever is buffered on the channel, dispatching
// notifications found in it.
func (m *Modem) clearLocked() {
	m.discardLocked(clearWindow)
}

// discardLocked idles in windows while bytes are buffered, giving up after
// maxClearRounds windows.
func (m *Modem) discardLocked(window time.Duration) {
	deadline := time.Now().Add(maxClearRounds * window)
	for m.ch.available() > 0 && time.Now().Before(deadline) {
		m.idle(window)
	}
	if left := m.ch.available(); left > 0 {
		m.logger.Debug("channel still busy after clearing", "buffered", left)
	}
}

// expectOK runs cmd and waits for a plain final result.
func (m *Modem) expectOK(cmd string, timeout time.Duration) error {
	if !m.writeCommand(cmd) {
		return ErrClosed
	}
	index, _ := m.waitResponse(timeout)
	return result(index)
}

func (m *Modem) bestEffort(cmd string) {
	if err := m.expectOK(cmd, m.config.ATTimeout); err != nil {
		m.logger.Debug("command not acknowledged", "cmd", cmd, "error", err)
	}
}

func (m *Modem) updateConnectedGauge() {
	n := 0
	m.sockets.each(All, func(_ int, s *Socket) {
		if s.connected.Load() {
			n++
		}
	})
	obs.ConnectedSockets.Set(float64(n))
}
