package modem

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"
)

// stopWait is how long Close lets in-flight data drain before closing.
const stopWait = 300 * time.Millisecond

// Socket is one virtual TCP/TLS connection riding on a mux slot of the
// modem. It is safe for use by one reader and one writer at a time; every
// exchange with the modem goes through the shared channel lock.
type Socket struct {
	modem *Modem
	mux   int

	bound       atomic.Bool
	connected   atomic.Bool
	pending     atomic.Bool
	available   atomic.Int32
	readTimeout atomic.Int64

	rx *rxBuffer
}

var _ io.ReadWriteCloser = (*Socket)(nil)

// SocketOption configures a Socket at construction.
type SocketOption func(*Socket)

// WithReadTimeout sets the per-byte receive timeout and the time a Read
// waits for data to arrive.
func WithReadTimeout(d time.Duration) SocketOption {
	return func(s *Socket) { s.readTimeout.Store(int64(d)) }
}

// NewSocket binds a socket to mux modulo MuxCount. It fails with
// ErrMuxInUse when another socket owns the slot.
func (m *Modem) NewSocket(mux int, opts ...SocketOption) (*Socket, error) {
	s := &Socket{modem: m, mux: normalizeMux(mux), rx: newRxBuffer(m.config.RxBufferSize)}
	s.readTimeout.Store(int64(m.config.ReadTimeout))
	for _, opt := range opts {
		opt(s)
	}
	s.bound.Store(true)
	if _, err := m.sockets.bind(s, mux); err != nil {
		return nil, err
	}
	m.logger.Debug("socket bound", "mux", s.mux, "requested", mux)
	return s, nil
}

// Mux returns the slot the socket is bound to.
func (s *Socket) Mux() int { return s.mux }

// Bound reports whether the socket still owns its slot.
func (s *Socket) Bound() bool { return s.bound.Load() }

// Connected reports the last known connection state. It is refreshed by
// notifications and pollers, so it may lag the modem.
func (s *Socket) Connected() bool { return s.connected.Load() }

// Available returns the bytes buffered locally plus the last count the
// modem reported as waiting.
func (s *Socket) Available() int {
	return s.rx.len() + int(s.available.Load())
}

// Pending reports whether a data notification arrived since the last
// maintenance pass.
func (s *Socket) Pending() bool { return s.pending.Load() }

func (s *Socket) ReadTimeout() time.Duration {
	return time.Duration(s.readTimeout.Load())
}

func (s *Socket) SetReadTimeout(d time.Duration) {
	s.readTimeout.Store(int64(d))
}

// SetCertificate binds a certificate name provisioned on the modem to this
// socket's slot. It is used by the next TLS connect.
func (s *Socket) SetCertificate(name string) error {
	if !s.bound.Load() {
		return ErrUnbound
	}
	return s.modem.SetCertificate(s.mux, name)
}

// Certificate returns the certificate name bound to the socket's slot.
func (s *Socket) Certificate() string {
	return s.modem.Certificate(s.mux)
}

// Send writes p as one or more AT+CASEND transactions of at most
// MaxSendChunk bytes. It returns the bytes the modem acknowledged.
//
// Each transaction is all or nothing, but p spans several of them when it
// is larger than MaxSendChunk. If a later chunk fails, Send returns the
// count of the chunks already accepted together with the error, so a
// partial write is possible only for such payloads.
func (s *Socket) Send(ctx context.Context, p []byte) (int, error) {
	if !s.bound.Load() {
		return 0, ErrUnbound
	}
	m := s.modem
	chunk := m.config.MaxSendChunk
	sent := 0
	for sent < len(p) {
		end := min(sent+chunk, len(p))
		release, err := m.lock.acquire(ctx, "send")
		if err != nil {
			return sent, err
		}
		err = m.sendLocked(s.mux, p[sent:end])
		release()
		if err != nil {
			return sent, err
		}
		sent = end
	}
	return sent, nil
}

// Write implements io.Writer on top of Send. Like Send, it reports a
// partial count only when p needed more than one chunk.
func (s *Socket) Write(p []byte) (int, error) {
	return s.Send(context.Background(), p)
}

// Receive asks the modem for up to size bytes and queues what arrives in
// the socket buffer. A short count is not an error.
func (s *Socket) Receive(ctx context.Context, size int) (int, error) {
	if !s.bound.Load() {
		return 0, ErrUnbound
	}
	size = min(size, s.rx.free())
	if size <= 0 {
		return 0, nil
	}
	release, err := s.modem.lock.acquire(ctx, "receive")
	if err != nil {
		return 0, err
	}
	defer release()
	return s.modem.recvLocked(s, size), nil
}

// ReadContext copies buffered bytes into p. With nothing buffered it pulls
// from the modem, polling until data arrives or the read timeout elapses.
// It returns io.EOF once the connection is closed and fully drained.
func (s *Socket) ReadContext(ctx context.Context, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if !s.bound.Load() {
		return 0, ErrUnbound
	}
	m := s.modem
	deadline := time.Now().Add(s.ReadTimeout())
	for {
		if n := s.rx.read(p); n > 0 {
			return n, nil
		}
		if !s.connected.Load() && s.available.Load() <= 0 {
			return 0, io.EOF
		}
		if err := s.pull(ctx, len(p)); err != nil {
			return 0, err
		}
		if n := s.rx.read(p); n > 0 {
			return n, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return 0, fmt.Errorf("read mux %d: %w", s.mux, ErrTimeout)
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(min(remaining, m.config.PollInterval)):
		}
	}
}

// Read implements io.Reader.
func (s *Socket) Read(p []byte) (int, error) {
	return s.ReadContext(context.Background(), p)
}

// pull receives what the modem last reported, or refreshes that report
// when it was zero.
func (s *Socket) pull(ctx context.Context, want int) error {
	m := s.modem
	release, err := m.lock.acquire(ctx, "read")
	if err != nil {
		return err
	}
	defer release()
	if avail := int(s.available.Load()); avail > 0 {
		size := min(want, avail, s.rx.free())
		if size > 0 {
			m.recvLocked(s, size)
		}
		return nil
	}
	m.pollAvailableLocked(One(s.mux))
	return nil
}

// Stop drains data still in flight for up to maxWait and closes the
// connection. The socket is marked disconnected even when the modem does
// not acknowledge the close.
func (s *Socket) Stop(ctx context.Context, maxWait time.Duration) error {
	if !s.bound.Load() {
		return ErrUnbound
	}
	release, err := s.modem.lock.acquire(ctx, "stop")
	if err != nil {
		return err
	}
	defer release()
	return s.modem.stopLocked(s, maxWait)
}

// Close stops a connected socket and releases its slot. Closing an
// unbound socket does nothing.
func (s *Socket) Close() error {
	if !s.bound.Swap(false) {
		return nil
	}
	m := s.modem
	var err error
	if s.connected.Load() && !m.closed.Load() {
		release, aerr := m.lock.acquire(context.Background(), "close")
		if aerr == nil {
			err = m.stopLocked(s, stopWait)
			release()
		}
	}
	m.sockets.unbind(s.mux, s)
	s.rx.clear()
	m.logger.Debug("socket unbound", "mux", s.mux)
	return err
}
