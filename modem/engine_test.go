package modem

import (
	"io"
	"log/slog"
	"slices"
	"strings"
	"testing"
	"time"

	"i4.energy/across/cellmux/at"
)

// newTestModem wires a Modem straight onto a TestTransport, skipping the
// initialization sequence.
func newTestModem(t *testing.T) (*Modem, *TestTransport) {
	t.Helper()
	transport := NewTestTransport()
	config := Config{
		Dialer:       nil,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		ATTimeout:    300 * time.Millisecond,
		FieldTimeout: 200 * time.Millisecond,
		ReadTimeout:  100 * time.Millisecond,
		PollInterval: 10 * time.Millisecond,
	}
	config.setDefaults()
	m := &Modem{
		transport: transport,
		ch:        newChannel(transport),
		config:    config,
		logger:    config.Logger,
		lock:      newExclusion(config.Logger),
		events:    make(chan Event, config.EventBuffer),
	}
	t.Cleanup(func() { m.Close() })
	return m, transport
}

func mustSocket(t *testing.T, m *Modem, mux int) *Socket {
	t.Helper()
	s, err := m.NewSocket(mux)
	if err != nil {
		t.Fatalf("unexpected error from NewSocket(%d): %v", mux, err)
	}
	return s
}

func TestWaitResponse(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		terms     []string
		wantIndex int
		wantText  string
	}{
		{
			name:      "OK with default terminators",
			input:     "\r\nOK\r\n",
			wantIndex: 1,
		},
		{
			name:      "ERROR with default terminators",
			input:     "\r\nERROR\r\n",
			wantIndex: 2,
		},
		{
			name:      "CME error reads the whole line",
			input:     "\r\n+CME ERROR: SIM not inserted\r\n",
			wantIndex: 3,
			wantText:  "SIM not inserted",
		},
		{
			name:      "CMS error",
			input:     "\r\n+CMS ERROR: 500\r\n",
			wantIndex: 4,
			wantText:  "500",
		},
		{
			name:      "Custom terminator in priority order",
			input:     "\r\n> ",
			terms:     []string{at.Prompt, at.ERROR},
			wantIndex: 1,
		},
		{
			name:      "Null bytes are skipped",
			input:     "\r\nO\x00K\r\n",
			wantIndex: 1,
		},
		{
			name:      "Intermediate lines are kept",
			input:     "\r\n+CSQ: 20,99\r\n\r\nOK\r\n",
			wantIndex: 1,
			wantText:  "+CSQ: 20,99",
		},
		{
			name:      "Payload containing OK without line break does not match",
			input:     "\r\nOKAY",
			wantIndex: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, transport := newTestModem(t)
			transport.SendData(tt.input)

			index, text := m.waitResponse(200*time.Millisecond, tt.terms...)
			if index != tt.wantIndex {
				t.Errorf("expected index %d, got %d (text %q)", tt.wantIndex, index, text)
			}
			if tt.wantText != "" && !strings.Contains(text, tt.wantText) {
				t.Errorf("expected text to contain %q, got %q", tt.wantText, text)
			}
		})
	}
}

func TestWaitResponse_Timeout(t *testing.T) {
	m, _ := newTestModem(t)

	start := time.Now()
	index, text := m.waitResponse(50 * time.Millisecond)
	if index != 0 || text != "" {
		t.Errorf("expected (0, \"\") on timeout, got (%d, %q)", index, text)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("returned before the timeout elapsed: %v", elapsed)
	}
}

func TestWaitResponse_TooManyTerminators(t *testing.T) {
	m, transport := newTestModem(t)
	transport.SendData("SIXTH")

	index, _ := m.waitResponse(50*time.Millisecond, "A", "B", "C", "D", "E", "SIXTH")
	if index != 0 {
		t.Errorf("a sixth terminator must be ignored, got index %d", index)
	}
}

func TestWaitResponse_NotificationMidTransaction(t *testing.T) {
	m, transport := newTestModem(t)
	s := mustSocket(t, m, 3)

	transport.SendData("+CADATAIND: 3\r\nsomething\r\nOK\r\n")
	index, _ := m.waitResponse(time.Second, at.OK, at.ERROR)

	if index != 1 {
		t.Errorf("expected the OK match, got index %d", index)
	}
	if !s.Pending() {
		t.Error("socket 3 should have a pending notification")
	}
}

func TestWaitResponse_AwaitedPrefixIsNotDispatched(t *testing.T) {
	m, transport := newTestModem(t)
	s := mustSocket(t, m, 5)

	transport.SendData("\r\n+CARECV: 5,hello")
	index, _ := m.waitResponse(200*time.Millisecond, at.RecvData, at.OK)

	if index != 1 {
		t.Fatalf("expected the +CARECV: terminator, got index %d", index)
	}
	if s.Pending() {
		t.Error("an awaited prefix must not be dispatched as a notification")
	}
	if mux, ok := m.readIntBefore(at.FieldDivider); !ok || mux != 5 {
		t.Errorf("expected the field after the prefix to be left unread, got %d %v", mux, ok)
	}
}

func TestReadUntilAny(t *testing.T) {
	m, transport := newTestModem(t)
	transport.SendData(" 12\r\nrest")

	field, delim, ok := m.readUntilAny(",\n")
	if !ok || delim != '\n' || strings.TrimSpace(field) != "12" {
		t.Errorf("unexpected result (%q, %q, %v)", field, delim, ok)
	}

	if _, ok := m.readUntil(','); ok {
		t.Error("readUntil should fail when the delimiter never arrives")
	}
}

func TestDescribeLines(t *testing.T) {
	got := describeLines("+CASTATE: 0,1\r\n\r\nOK\r\n+CADATAIND: 2")
	want := []string{"data +CASTATE: 0,1", "final OK", "urc +CADATAIND: 2"}
	if !slices.Equal(got, want) {
		t.Errorf("describeLines() = %q, want %q", got, want)
	}
}
