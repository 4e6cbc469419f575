package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"i4.energy/across/cellmux/modem"
)

// Publisher receives socket data and modem notifications as they arrive.
type Publisher interface {
	PublishData(mux int, p []byte) error
	PublishEvent(ev modem.Event) error
}

// Gateway owns the sockets opened on behalf of HTTP and MQTT clients and
// remembers them in a SessionStore so they can be reopened.
type Gateway struct {
	Logger    *slog.Logger
	Modem     *modem.Modem
	Store     SessionStore
	Publisher Publisher
}

// ErrNotOpen is returned for operations on a mux no session was opened on.
var ErrNotOpen = errors.New("no session on mux")

// Open connects mux to the session's endpoint, replacing whatever the
// slot was connected to before.
func (g *Gateway) Open(ctx context.Context, s Session) error {
	if err := validateSession(s); err != nil {
		return err
	}
	sock := g.Modem.Socket(s.Mux)
	if sock == nil {
		var err error
		if sock, err = g.Modem.NewSocket(s.Mux); err != nil {
			return err
		}
	}
	if err := sock.SetCertificate(s.Certificate); err != nil {
		return err
	}

	var opts []modem.ConnectOption
	if s.TLS {
		opts = append(opts, modem.WithTLS())
	}
	if err := sock.Connect(ctx, s.Host, s.Port, opts...); err != nil {
		return err
	}

	s.OpenedAt = time.Now().UTC()
	if err := g.Store.Save(ctx, s); err != nil {
		g.Logger.Warn("session not persisted", "mux", s.Mux, "error", err)
	}
	g.Logger.Info("session opened", "mux", s.Mux, "host", s.Host, "port", s.Port, "tls", s.TLS)
	return nil
}

// validateSession rejects endpoints that cannot be passed to the modem,
// before a slot is taken for them.
func validateSession(s Session) error {
	if err := modem.CheckParameter(s.Host); err != nil {
		return fmt.Errorf("host: %w", err)
	}
	if err := modem.CheckParameter(s.Certificate); err != nil {
		return fmt.Errorf("certificate: %w", err)
	}
	return nil
}

func (g *Gateway) socket(mux int) (*modem.Socket, error) {
	sock := g.Modem.Socket(mux)
	if sock == nil {
		return nil, fmt.Errorf("mux %d: %w", mux, ErrNotOpen)
	}
	return sock, nil
}

// Send writes p to the session on mux.
func (g *Gateway) Send(ctx context.Context, mux int, p []byte) (int, error) {
	sock, err := g.socket(mux)
	if err != nil {
		return 0, err
	}
	return sock.Send(ctx, p)
}

// Receive returns up to size bytes from the session on mux, waiting at most
// the socket read timeout for data.
func (g *Gateway) Receive(ctx context.Context, mux, size int) ([]byte, error) {
	sock, err := g.socket(mux)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	n, err := sock.ReadContext(ctx, buf)
	if errors.Is(err, modem.ErrTimeout) {
		err = nil
	}
	return buf[:n], err
}

// Close stops the session on mux and forgets it.
func (g *Gateway) Close(ctx context.Context, mux int) error {
	sock, err := g.socket(mux)
	if err != nil {
		return err
	}
	if err := g.Store.Delete(ctx, mux); err != nil {
		g.Logger.Warn("session not removed from store", "mux", mux, "error", err)
	}
	return sock.Close()
}

// Restore reopens every stored session.
func (g *Gateway) Restore(ctx context.Context) error {
	sessions, err := g.Store.List(ctx)
	if err != nil {
		return err
	}
	for _, s := range sessions {
		if err := g.Open(ctx, s); err != nil {
			g.Logger.Warn("session not restored", "mux", s.Mux, "host", s.Host, "error", err)
		}
	}
	return nil
}

// Run keeps the modem maintained. After an unexpected module restart it
// reinitializes the modem and reopens the stored sessions.
func (g *Gateway) Run(ctx context.Context, interval time.Duration) error {
	for {
		err := g.Modem.Run(ctx, interval)
		if !errors.Is(err, modem.ErrUnexpectedReset) {
			return err
		}
		g.Logger.Error("modem restarted unexpectedly, reinitializing")
		if err := g.Modem.Reinit(ctx); err != nil {
			return fmt.Errorf("reinitialize modem: %w", err)
		}
		if err := g.Restore(ctx); err != nil {
			g.Logger.Warn("restore sessions failed", "error", err)
		}
	}
}

// Forward hands modem notifications to the Publisher. Data notifications
// make it drain the socket and publish what arrived.
func (g *Gateway) Forward(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-g.Modem.Events():
			if g.Publisher == nil {
				continue
			}
			if err := g.Publisher.PublishEvent(ev); err != nil {
				g.Logger.Warn("publish event failed", "kind", ev.Kind.String(), "error", err)
			}
			if ev.Kind == modem.EventDataReady || ev.Kind == modem.EventDataIndication {
				g.drain(ctx, ev.Mux)
			}
		}
	}
}

func (g *Gateway) drain(ctx context.Context, mux int) {
	sock := g.Modem.Socket(mux)
	if sock == nil {
		return
	}
	if _, err := g.Modem.PollAvailable(ctx, modem.One(mux)); err != nil {
		g.Logger.Debug("availability poll failed", "mux", mux, "error", err)
	}
	buf := make([]byte, 1024)
	for sock.Available() > 0 {
		n, err := sock.ReadContext(ctx, buf)
		if n > 0 {
			if perr := g.Publisher.PublishData(mux, buf[:n]); perr != nil {
				g.Logger.Warn("publish data failed", "mux", mux, "error", perr)
			}
		}
		if err != nil {
			return
		}
	}
}
