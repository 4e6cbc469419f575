package modem

import (
	"io"
	"strings"
	"sync"
)

// TestTransport is a test helper that simulates a blocking modem transport.
// Reads block until scripted or injected data is available, like a real
// serial port would. Every write is recorded; when it matches the next
// scripted expectation the corresponding reply is queued for reading.
type TestTransport struct {
	mu         sync.Mutex
	readChan   chan []byte
	pending    []byte
	closed     bool
	writes     []string
	script     []expectation
	unexpected []string
}

type expectation struct {
	match string
	reply func(written string) string
}

// NewTestTransport creates a new test transport for testing.
// Exported for use in tests.
func NewTestTransport() *TestTransport {
	return &TestTransport{
		readChan: make(chan []byte, 256),
	}
}

// Expect scripts reply as the answer to the next write equal to cmd.
// A trailing CRLF on the written command is ignored when matching.
func (t *TestTransport) Expect(cmd, reply string) *TestTransport {
	return t.ExpectFunc(cmd, func(string) string { return reply })
}

// ExpectFunc is Expect with a reply computed from the written data.
func (t *TestTransport) ExpectFunc(cmd string, reply func(written string) string) *TestTransport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.script = append(t.script, expectation{match: cmd, reply: reply})
	return t
}

func (t *TestTransport) Write(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, io.ErrClosedPipe
	}
	written := string(p)
	t.writes = append(t.writes, written)
	key := strings.TrimSuffix(written, "\r\n")
	if len(t.script) > 0 && t.script[0].match == key {
		next := t.script[0]
		t.script = t.script[1:]
		if reply := next.reply(written); reply != "" {
			t.readChan <- []byte(reply)
		}
	} else {
		t.unexpected = append(t.unexpected, key)
	}
	return len(p), nil
}

func (t *TestTransport) Read(p []byte) (n int, err error) {
	t.mu.Lock()
	if len(t.pending) > 0 {
		n = copy(p, t.pending)
		t.pending = t.pending[n:]
		t.mu.Unlock()
		return n, nil
	}
	t.mu.Unlock()

	data, ok := <-t.readChan
	if !ok {
		return 0, io.EOF
	}
	n = copy(p, data)
	if n < len(data) {
		t.mu.Lock()
		t.pending = append(t.pending, data[n:]...)
		t.mu.Unlock()
	}
	return n, nil
}

func (t *TestTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.readChan)
	return nil
}

// SendData queues data to be read by the transport.
// This simulates receiving unsolicited data from the modem.
func (t *TestTransport) SendData(data string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.readChan <- []byte(data)
	}
}

// Writes returns everything written so far, one entry per Write call.
func (t *TestTransport) Writes() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.writes...)
}

// Count returns how many writes equal cmd, ignoring a trailing CRLF.
func (t *TestTransport) Count(cmd string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, w := range t.writes {
		if strings.TrimSuffix(w, "\r\n") == cmd {
			n++
		}
	}
	return n
}

// Unexpected returns the writes that did not match the script.
func (t *TestTransport) Unexpected() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.unexpected...)
}

// Remaining returns the scripted commands that were never written.
func (t *TestTransport) Remaining() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var cmds []string
	for _, e := range t.script {
		cmds = append(cmds, e.match)
	}
	return cmds
}
