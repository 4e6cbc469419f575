package modem

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"i4.energy/across/cellmux/at"
	"i4.energy/across/cellmux/internal/obs"
)

// maxTerminators is how many terminator patterns one transaction may await.
const maxTerminators = 5

// maxFieldLen bounds a single field read after a matched prefix.
const maxFieldLen = 256

var defaultTerminators = []string{at.OK, at.ERROR, at.CmeError, at.CmsError}

// writeCommand sends one command line to the modem. The caller must hold
// the channel lock.
func (m *Modem) writeCommand(cmd string) bool {
	m.logger.Debug("at command", "cmd", cmd)
	if _, err := m.ch.write([]byte(cmd + at.CRLF)); err != nil {
		m.logger.Warn("write command failed", "cmd", cmd, "error", err)
		return false
	}
	return true
}

// waitResponse scans the channel until the accumulated text ends with one
// of terms, checked in priority order, or timeout elapses. It returns the
// 1-based index of the matched terminator and the text consumed, or 0 on
// timeout. Without terms it waits for OK, ERROR, +CME ERROR or +CMS ERROR.
//
// Notifications recognized along the way are dispatched and dropped from
// the text; they never end the scan.
func (m *Modem) waitResponse(timeout time.Duration, terms ...string) (int, string) {
	if len(terms) == 0 {
		terms = defaultTerminators
	}
	if len(terms) > maxTerminators {
		terms = terms[:maxTerminators]
	}
	return m.scan(timeout, terms)
}

// idle scans for notifications only, returning once the channel stayed
// silent for timeout.
func (m *Modem) idle(timeout time.Duration) {
	m.scan(timeout, nil)
}

func (m *Modem) scan(timeout time.Duration, terms []string) (int, string) {
	deadline := time.Now().Add(timeout)
	var data []byte
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		b, err := m.ch.readByte(remaining)
		if err != nil {
			if errors.Is(err, ErrClosed) {
				m.logger.Warn("channel closed while waiting for response", "error", err)
			}
			break
		}
		if b == at.NullByte {
			continue
		}
		data = append(data, b)

		if n := matchNotification(data, terms); n != nil {
			m.dispatch(n)
			data = data[:0]
			continue
		}

		for i, t := range terms {
			if t == "" || !bytes.HasSuffix(data, []byte(t)) {
				continue
			}
			if t == at.CmeError || t == at.CmsError {
				rest, _ := m.readUntil(at.LineFeed)
				data = append(data, rest...)
			}
			obs.Transactions.WithLabelValues("matched").Inc()
			return i + 1, string(data)
		}
	}

	if len(terms) == 0 {
		obs.Transactions.WithLabelValues("idle").Inc()
	} else {
		obs.Transactions.WithLabelValues("timeout").Inc()
	}
	if residual := strings.TrimSpace(string(data)); residual != "" {
		m.logger.Debug("unhandled modem output", "data", residual, "lines", describeLines(residual))
	}
	return 0, ""
}

// describeLines tags every line of residual output with its response type.
func describeLines(text string) []string {
	lines := at.Lines(text)
	for i, line := range lines {
		lines[i] = at.Classify(line).String() + " " + line
	}
	return lines
}

// readUntilAny reads bytes up to, and consuming, the first byte in delims.
// It returns the text before the delimiter and the delimiter found.
func (m *Modem) readUntilAny(delims string) (string, byte, bool) {
	var field []byte
	for len(field) < maxFieldLen {
		b, err := m.ch.readByte(m.config.FieldTimeout)
		if err != nil {
			return string(field), 0, false
		}
		if strings.IndexByte(delims, b) >= 0 {
			return string(field), b, true
		}
		field = append(field, b)
	}
	return string(field), 0, false
}

func (m *Modem) readUntil(delim byte) (string, bool) {
	s, _, ok := m.readUntilAny(string(delim))
	return s, ok
}

// readIntBefore reads an integer field terminated by delim.
func (m *Modem) readIntBefore(delim byte) (int, bool) {
	s, ok := m.readUntil(delim)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, false
	}
	return n, true
}

// skipUntil discards input up to and including delim.
func (m *Modem) skipUntil(delim byte) bool {
	_, ok := m.readUntil(delim)
	return ok
}

// Exec runs a single command and waits for its final result. It is meant
// for feature modules outside the socket layer (network, GNSS, time) that
// only need a plain command/response exchange on the shared channel.
func (m *Modem) Exec(ctx context.Context, cmd string) (string, error) {
	if m.closed.Load() {
		return "", ErrAlreadyClosed
	}
	release, err := m.lock.acquire(ctx, "exec")
	if err != nil {
		return "", err
	}
	defer release()

	if !m.writeCommand(cmd) {
		return "", fmt.Errorf("%s: %w", cmd, ErrClosed)
	}
	index, text := m.waitResponse(m.config.ATTimeout)
	if err := result(index); err != nil {
		return text, fmt.Errorf("%s: %w", cmd, err)
	}
	return text, nil
}
