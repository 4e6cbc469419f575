package modem

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestPollAvailable_GapInference(t *testing.T) {
	m, transport := newTestModem(t)
	s0 := mustSocket(t, m, 0)
	s1 := mustSocket(t, m, 1)
	s2 := mustSocket(t, m, 2)
	s9 := mustSocket(t, m, 9)
	s1.available.Store(9)
	s9.available.Store(3)
	s1.connected.Store(true)

	transport.
		Expect("AT+CARECV?", "\r\n+CARECV: 0,5\r\n+CARECV: 2,0\r\n\r\nOK\r\n").
		Expect("AT+CASTATE?", "\r\n+CASTATE: 0,1\r\n+CASTATE: 2,1\r\n\r\nOK\r\n")

	total, err := m.pollAvailableLocked(All)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 5 {
		t.Errorf("expected total 5, got %d", total)
	}
	for _, c := range []struct {
		s         *Socket
		available int32
		connected bool
	}{
		{s0, 5, true},
		{s1, 0, false},
		{s2, 0, true},
		{s9, 0, false},
	} {
		if got := c.s.available.Load(); got != c.available {
			t.Errorf("mux %d: expected available %d, got %d", c.s.mux, c.available, got)
		}
		if got := c.s.Connected(); got != c.connected {
			t.Errorf("mux %d: expected connected %v, got %v", c.s.mux, c.connected, got)
		}
	}
	assertDone(t, transport)
}

func TestPollAvailable_CountsUnboundSlots(t *testing.T) {
	m, transport := newTestModem(t)
	s0 := mustSocket(t, m, 0)

	transport.
		Expect("AT+CARECV?", "\r\n+CARECV: 0,5\r\n+CARECV: 1,7\r\n\r\nOK\r\n").
		Expect("AT+CASTATE?", "\r\n+CASTATE: 0,1\r\n+CASTATE: 1,1\r\n\r\nOK\r\n").
		Expect("AT+CARECV?", "\r\n+CARECV: 0,5\r\n+CARECV: 1,7\r\n\r\nOK\r\n").
		Expect("AT+CASTATE?", "\r\n+CASTATE: 0,1\r\n+CASTATE: 1,1\r\n\r\nOK\r\n")

	total, err := m.pollAvailableLocked(All)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 12 {
		t.Errorf("expected the sum of all reported counts (12), got %d", total)
	}
	if s0.available.Load() != 5 {
		t.Errorf("expected 5 bytes on mux 0, got %d", s0.available.Load())
	}

	n, err := m.PollAvailable(context.Background(), One(1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 7 {
		t.Errorf("expected the reported 7 bytes for unbound mux 1, got %d", n)
	}
	assertDone(t, transport)
}

func TestPollAvailable_SingleTarget(t *testing.T) {
	m, transport := newTestModem(t)
	mustSocket(t, m, 0)
	mustSocket(t, m, 4)

	transport.
		Expect("AT+CARECV?", "\r\n+CARECV: 0,5\r\n+CARECV: 4,11\r\n\r\nOK\r\n").
		Expect("AT+CASTATE?", "\r\nOK\r\n")

	n, err := m.PollAvailable(context.Background(), One(4))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 11 {
		t.Errorf("expected 11 bytes on mux 4, got %d", n)
	}
	if _, err := m.PollAvailable(context.Background(), One(MuxCount)); !errors.Is(err, ErrInvalidMux) {
		t.Errorf("expected ErrInvalidMux, got: %v", err)
	}
}

func TestPollConnected_AllSlotsReported(t *testing.T) {
	m, transport := newTestModem(t)
	s11 := mustSocket(t, m, 11)

	var lines strings.Builder
	lines.WriteString("\r\n")
	for mux := range MuxCount {
		fmt.Fprintf(&lines, "+CASTATE: %d,1\r\n", mux)
	}
	lines.WriteString("\r\nOK\r\n")
	transport.Expect("AT+CASTATE?", lines.String())

	n, err := m.PollConnected(context.Background(), All)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 || !s11.Connected() {
		t.Errorf("expected socket 11 connected, count %d", n)
	}
	if left := m.ch.available(); left != 0 {
		t.Errorf("the final OK should be consumed, %d bytes left", left)
	}
}

func TestPollConnected_Error(t *testing.T) {
	m, transport := newTestModem(t)
	s := mustSocket(t, m, 0)
	s.connected.Store(true)
	transport.Expect("AT+CASTATE?", "\r\nERROR\r\n")

	if _, err := m.PollConnected(context.Background(), All); !errors.Is(err, ErrProtocol) {
		t.Errorf("expected ErrProtocol, got: %v", err)
	}
	if !s.Connected() {
		t.Error("a failed poll must not change connection state")
	}
}

func TestPoll_NotificationInterleaved(t *testing.T) {
	m, transport := newTestModem(t)
	s0 := mustSocket(t, m, 0)
	s3 := mustSocket(t, m, 3)

	transport.
		Expect("AT+CARECV?", "\r\n+CARECV: 0,2\r\n+CADATAIND: 3\r\n\r\nOK\r\n").
		Expect("AT+CASTATE?", "\r\n+CASTATE: 0,1\r\n\r\nOK\r\n")

	if _, err := m.PollAvailable(context.Background(), All); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s0.available.Load() != 2 {
		t.Errorf("expected 2 bytes on mux 0, got %d", s0.available.Load())
	}
	if !s3.Pending() {
		t.Error("interleaved notification should flag mux 3")
	}
}

func assertDone(t *testing.T, transport *TestTransport) {
	t.Helper()
	if u := transport.Unexpected(); len(u) > 0 {
		t.Errorf("unexpected writes: %q", u)
	}
	if r := transport.Remaining(); len(r) > 0 {
		t.Errorf("commands never sent: %q", r)
	}
}
