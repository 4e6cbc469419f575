package modem_test

import (
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

var (
	sendCmd  = regexp.MustCompile(`^AT\+CASEND=(\d+),(\d+)$`)
	recvCmd  = regexp.MustCompile(`^AT\+CARECV=(\d+),(\d+)$`)
	openCmd  = regexp.MustCompile(`^AT\+CAOPEN=(\d+),`)
	closeCmd = regexp.MustCompile(`^AT\+CACLOSE=(\d+)$`)
)

// echoModem emulates the socket commands of the module against a peer
// that echoes every payload back on the same connection.
type echoModem struct {
	mu      sync.Mutex
	out     chan []byte
	closed  bool
	open    map[int]bool
	queued  map[int][]byte
	payload struct {
		mux  int
		want int
		buf  []byte
	}
}

func newEchoModem() *echoModem {
	e := &echoModem{
		out:    make(chan []byte, 256),
		open:   map[int]bool{},
		queued: map[int][]byte{},
	}
	e.payload.want = -1
	return e
}

func (e *echoModem) Read(p []byte) (int, error) {
	data, ok := <-e.out
	if !ok {
		return 0, io.EOF
	}
	// Replies fit the channel's read buffer; larger ones are split on write.
	return copy(p, data), nil
}

func (e *echoModem) reply(s string) {
	for len(s) > 0 {
		n := min(len(s), 256)
		e.out <- []byte(s[:n])
		s = s[n:]
	}
}

func (e *echoModem) Write(p []byte) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return 0, io.ErrClosedPipe
	}

	if e.payload.want >= 0 {
		e.payload.buf = append(e.payload.buf, p...)
		if len(e.payload.buf) >= e.payload.want {
			mux := e.payload.mux
			e.queued[mux] = append(e.queued[mux], e.payload.buf...)
			e.payload.want, e.payload.buf = -1, nil
			e.reply("\r\nOK\r\n")
			e.reply(fmt.Sprintf("\r\n+CADATAIND: %d\r\n", mux))
		}
		return len(p), nil
	}

	cmd := strings.TrimSuffix(string(p), "\r\n")
	switch {
	case sendCmd.MatchString(cmd):
		m := sendCmd.FindStringSubmatch(cmd)
		e.payload.mux, _ = strconv.Atoi(m[1])
		e.payload.want, _ = strconv.Atoi(m[2])
		e.reply("\r\n> ")

	case recvCmd.MatchString(cmd):
		m := recvCmd.FindStringSubmatch(cmd)
		mux, _ := strconv.Atoi(m[1])
		size, _ := strconv.Atoi(m[2])
		n := min(size, len(e.queued[mux]))
		if n == 0 {
			e.reply("\r\n+CARECV: 0\r\n\r\nOK\r\n")
			break
		}
		chunk := e.queued[mux][:n]
		e.queued[mux] = e.queued[mux][n:]
		e.reply(fmt.Sprintf("\r\n+CARECV: %d,%s\r\nOK\r\n", n, chunk))

	case cmd == "AT+CARECV?":
		var b strings.Builder
		b.WriteString("\r\n")
		for mux := range 12 {
			if len(e.queued[mux]) > 0 {
				fmt.Fprintf(&b, "+CARECV: %d,%d\r\n", mux, len(e.queued[mux]))
			}
		}
		b.WriteString("\r\nOK\r\n")
		e.reply(b.String())

	case cmd == "AT+CASTATE?":
		var b strings.Builder
		b.WriteString("\r\n")
		for mux := range 12 {
			if e.open[mux] {
				fmt.Fprintf(&b, "+CASTATE: %d,1\r\n", mux)
			}
		}
		b.WriteString("\r\nOK\r\n")
		e.reply(b.String())

	case openCmd.MatchString(cmd):
		mux, _ := strconv.Atoi(openCmd.FindStringSubmatch(cmd)[1])
		e.open[mux] = true
		e.reply(fmt.Sprintf("\r\n+CAOPEN: %d,0\r\n\r\nOK\r\n", mux))

	case closeCmd.MatchString(cmd):
		mux, _ := strconv.Atoi(closeCmd.FindStringSubmatch(cmd)[1])
		if !e.open[mux] {
			e.reply("\r\nERROR\r\n")
			break
		}
		delete(e.open, mux)
		delete(e.queued, mux)
		e.reply("\r\nOK\r\n")

	default:
		e.reply("\r\nOK\r\n")
	}
	return len(p), nil
}

func (e *echoModem) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.out)
	}
	return nil
}
