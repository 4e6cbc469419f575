package modem

import (
	"fmt"
	"strconv"
	"strings"

	"i4.energy/across/cellmux/at"
	"i4.energy/across/cellmux/internal/obs"
)

// sendLocked hands p to the modem as one AT+CASEND payload. Either all of
// p is acknowledged or the send failed.
func (m *Modem) sendLocked(mux int, p []byte) error {
	if !m.writeCommand(at.Send(mux, len(p))) {
		return fmt.Errorf("send mux %d: %w", mux, ErrClosed)
	}
	index, _ := m.waitResponse(m.config.ATTimeout, at.Prompt, at.ERROR, at.CmeError, at.CmsError)
	if index != 1 {
		return fmt.Errorf("send mux %d: no prompt: %w", mux, ErrSendFailed)
	}
	if _, err := m.ch.write(p); err != nil {
		return fmt.Errorf("send mux %d: %w", mux, err)
	}
	if err := m.ch.flush(); err != nil {
		m.logger.Warn("flush failed", "mux", mux, "error", err)
	}
	index, _ = m.waitResponse(m.config.ATTimeout)
	if index != 1 {
		return fmt.Errorf("send mux %d: %w", mux, ErrSendFailed)
	}
	obs.BytesSent.Add(float64(len(p)))
	return nil
}

// recvLocked pulls up to size bytes of mux into the socket buffer and
// returns how many were queued. The count may fall short of what the
// modem confirmed when a byte does not arrive in time.
func (m *Modem) recvLocked(s *Socket, size int) int {
	mux := s.mux
	m.writeCommand(at.Recv(mux, size))
	index, _ := m.waitResponse(m.config.ATTimeout, at.RecvData, at.ERROR, at.CmeError, at.CmsError)
	if index != 1 {
		s.available.Store(0)
		return 0
	}

	field, delim, ok := m.readUntilAny(string([]byte{at.FieldDivider, at.LineFeed}))
	confirmed, err := strconv.Atoi(strings.TrimSpace(field))
	if !ok || err != nil || confirmed <= 0 {
		if delim != at.LineFeed {
			m.skipUntil(at.LineFeed)
		}
		m.waitResponse(m.config.ATTimeout)
		m.pollAvailableLocked(One(mux))
		return 0
	}

	timeout := s.ReadTimeout()
	data := make([]byte, 0, confirmed)
	for len(data) < confirmed {
		b, err := m.ch.readByte(timeout)
		if err != nil {
			break
		}
		data = append(data, b)
	}
	if len(data) < confirmed {
		obs.ShortReads.Inc()
		m.logger.Warn("short read", "mux", mux, "confirmed", confirmed, "received", len(data))
	}
	queued := s.rx.write(data)
	if queued < len(data) {
		m.logger.Warn("receive buffer full, bytes dropped", "mux", mux, "dropped", len(data)-queued)
	}
	obs.BytesReceived.Add(float64(queued))

	m.waitResponse(m.config.ATTimeout)
	m.pollAvailableLocked(One(mux))
	return queued
}
