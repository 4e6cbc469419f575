package modem

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMaintain(t *testing.T) {
	t.Run("Polls once when a socket was flagged", func(t *testing.T) {
		m, transport := newTestModem(t)
		s2 := mustSocket(t, m, 2)
		s5 := mustSocket(t, m, 5)
		s2.pending.Store(true)
		s5.pending.Store(true)

		transport.
			Expect("AT+CARECV?", "\r\n+CARECV: 2,6\r\n+CARECV: 5,1\r\n\r\nOK\r\n").
			Expect("AT+CASTATE?", "\r\n+CASTATE: 2,1\r\n+CASTATE: 5,1\r\n\r\nOK\r\n")

		if err := m.Maintain(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := transport.Count("AT+CARECV?"); got != 1 {
			t.Errorf("expected one availability poll, got %d", got)
		}
		if s2.Pending() || s5.Pending() {
			t.Error("pending flags should be cleared")
		}
		if s2.Available() != 6 || s5.Available() != 1 {
			t.Errorf("unexpected availability %d %d", s2.Available(), s5.Available())
		}
		assertDone(t, transport)
	})

	t.Run("Quiet pass sends nothing", func(t *testing.T) {
		m, transport := newTestModem(t)
		mustSocket(t, m, 0)

		if err := m.Maintain(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := len(transport.Writes()); got != 0 {
			t.Errorf("expected no commands, got %d", got)
		}
	})

	t.Run("Dispatches notifications waiting on the channel", func(t *testing.T) {
		m, transport := newTestModem(t)
		s := mustSocket(t, m, 8)
		s.connected.Store(true)
		transport.SendData("\r\n+CASTATE: 8,0\r\n")
		time.Sleep(20 * time.Millisecond)

		if err := m.Maintain(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if s.Connected() {
			t.Error("socket 8 should be disconnected")
		}
	})

	t.Run("Reports a module reset", func(t *testing.T) {
		m, transport := newTestModem(t)
		transport.SendData("\r\nSMS Ready\r\n")
		time.Sleep(20 * time.Millisecond)

		if err := m.Maintain(context.Background()); !errors.Is(err, ErrUnexpectedReset) {
			t.Errorf("expected ErrUnexpectedReset, got: %v", err)
		}

		transport.
			Expect("AT", "\r\nOK\r\n").
			Expect("ATE0", "\r\nOK\r\n").
			Expect("AT+CMEE=2", "\r\nOK\r\n").
			Expect("AT+CLTS=1", "\r\nOK\r\n").
			Expect("AT+CBATCHK=0", "\r\nOK\r\n")
		if err := m.Reinit(context.Background()); err != nil {
			t.Fatalf("unexpected error from Reinit(): %v", err)
		}
		if m.ResetDetected() {
			t.Error("Reinit should clear the reset flag")
		}
		if err := m.Maintain(context.Background()); err != nil {
			t.Errorf("unexpected error after Reinit(): %v", err)
		}
	})
}

func TestRun(t *testing.T) {
	t.Run("Stops with the context", func(t *testing.T) {
		m, _ := newTestModem(t)
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		if err := m.Run(ctx, 5*time.Millisecond); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected DeadlineExceeded, got: %v", err)
		}
	})

	t.Run("ErrLoopRunning for a second loop", func(t *testing.T) {
		m, _ := newTestModem(t)
		ctx, cancel := context.WithCancel(context.Background())

		done := make(chan error, 1)
		go func() { done <- m.Run(ctx, 5*time.Millisecond) }()
		time.Sleep(20 * time.Millisecond)

		if err := m.Run(ctx, 5*time.Millisecond); !errors.Is(err, ErrLoopRunning) {
			t.Errorf("expected ErrLoopRunning, got: %v", err)
		}
		cancel()
		<-done
	})

	t.Run("Returns on module reset", func(t *testing.T) {
		m, transport := newTestModem(t)
		transport.SendData("\r\nSMS Ready\r\n")

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := m.Run(ctx, 5*time.Millisecond); !errors.Is(err, ErrUnexpectedReset) {
			t.Errorf("expected ErrUnexpectedReset, got: %v", err)
		}
	})
}

// chatter feeds the channel a byte every couple of milliseconds until the
// returned stop function is called.
func chatter(transport *TestTransport) (stop func()) {
	quit := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(2 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-quit:
				return
			case <-ticker.C:
				transport.SendData("x")
			}
		}
	}()
	return func() {
		close(quit)
		<-done
	}
}

func TestClearingIsBounded(t *testing.T) {
	t.Run("Maintain", func(t *testing.T) {
		m, transport := newTestModem(t)
		stop := chatter(transport)
		defer stop()

		done := make(chan error, 1)
		go func() { done <- m.Maintain(context.Background()) }()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("Maintain kept clearing a modem that never goes quiet")
		}
	})

	t.Run("Stop", func(t *testing.T) {
		m, transport := newTestModem(t)
		s := mustSocket(t, m, 1)
		stop := chatter(transport)
		defer stop()
		transport.Expect("AT+CACLOSE=1", "\r\nOK\r\n")

		done := make(chan struct{})
		go func() {
			defer close(done)
			s.Stop(context.Background(), 0)
		}()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("Stop kept clearing a modem that never goes quiet")
		}
		if s.Connected() {
			t.Error("socket should be disconnected")
		}
	})
}
