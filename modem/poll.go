package modem

import (
	"context"
	"time"

	"i4.energy/across/cellmux/at"
)

const pollLineTimeout = 3 * time.Second

// pollStatusLocked issues query and reconciles every slot from the report
// lines introduced by prefix. The modem only reports slots of interest, so
// slots skipped between two reported ones, or after the last, get value 0.
// The values are returned for every slot, bound or not.
func (m *Modem) pollStatusLocked(query, prefix string, apply func(s *Socket, value int)) ([MuxCount]int, error) {
	var values [MuxCount]int
	set := func(mux, value int) {
		values[mux] = value
		if s := m.sockets.lookup(mux); s != nil {
			apply(s, value)
		}
	}

	if !m.writeCommand(query) {
		return values, ErrClosed
	}
	next := 0
	for range MuxCount {
		index, _ := m.waitResponse(pollLineTimeout, prefix, at.OK, at.ERROR)
		switch index {
		case 1:
			mux, ok := m.readIntBefore(at.FieldDivider)
			if !ok {
				m.skipUntil(at.LineFeed)
				m.logger.Warn("unparsable status line", "query", query)
				continue
			}
			value, ok := m.readIntBefore(at.LineFeed)
			if !ok || !validMux(mux) {
				m.logger.Warn("unparsable status line", "query", query, "mux", mux)
				continue
			}
			for gap := next; gap < mux; gap++ {
				set(gap, 0)
			}
			set(mux, value)
			next = max(next, mux+1)
			if next == MuxCount {
				m.waitResponse(m.config.ATTimeout)
				return values, nil
			}
		case 2:
			for gap := next; gap < MuxCount; gap++ {
				set(gap, 0)
			}
			return values, nil
		case 3:
			return values, ErrProtocol
		default:
			return values, ErrTimeout
		}
	}
	return values, nil
}

// pollAvailableLocked refreshes the unread counts and then the connection
// states. It returns the count the modem reported for the target, summed
// over every slot for All.
func (m *Modem) pollAvailableLocked(target Target) (int, error) {
	values, err := m.pollStatusLocked(at.CmdRecvQuery, at.RecvData, func(s *Socket, value int) {
		s.available.Store(int32(max(value, 0)))
	})
	if err != nil {
		m.logger.Debug("available poll incomplete", "target", target.String(), "error", err)
	}
	if _, cerr := m.pollConnectedLocked(target); err == nil {
		err = cerr
	}

	total := 0
	for mux, value := range values {
		if target.includes(mux) {
			total += max(value, 0)
		}
	}
	return total, err
}

// pollConnectedLocked refreshes connection states and returns how many
// target sockets are connected.
func (m *Modem) pollConnectedLocked(target Target) (int, error) {
	_, err := m.pollStatusLocked(at.CmdStateQuery, at.SocketState, func(s *Socket, value int) {
		s.connected.Store(value == 1)
	})
	if err != nil {
		m.logger.Debug("state poll incomplete", "target", target.String(), "error", err)
	}
	m.updateConnectedGauge()

	n := 0
	m.sockets.each(target, func(_ int, s *Socket) {
		if s.connected.Load() {
			n++
		}
	})
	return n, err
}

// PollAvailable asks the modem how many unread bytes every slot holds and
// returns the count for target, summed over all slots for All. Connection
// states are refreshed as well.
func (m *Modem) PollAvailable(ctx context.Context, target Target) (int, error) {
	if err := target.validate(); err != nil {
		return 0, err
	}
	release, err := m.lock.acquire(ctx, "poll available")
	if err != nil {
		return 0, err
	}
	defer release()
	return m.pollAvailableLocked(target)
}

// PollConnected refreshes connection states of every slot and returns how
// many target sockets are connected.
func (m *Modem) PollConnected(ctx context.Context, target Target) (int, error) {
	if err := target.validate(); err != nil {
		return 0, err
	}
	release, err := m.lock.acquire(ctx, "poll connected")
	if err != nil {
		return 0, err
	}
	defer release()
	return m.pollConnectedLocked(target)
}
