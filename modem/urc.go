package modem

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"i4.energy/across/cellmux/at"
	"i4.energy/across/cellmux/internal/obs"
)

// EventKind identifies the notification an Event was produced from.
type EventKind int

const (
	EventDataReady EventKind = iota
	EventDataIndication
	EventStateChanged
	EventNetworkName
	EventNetworkTime
	EventTimeZone
	EventDaylightSaving
	EventModuleReset
)

func (k EventKind) String() string {
	switch k {
	case EventDataReady:
		return "data_ready"
	case EventDataIndication:
		return "data_indication"
	case EventStateChanged:
		return "state_changed"
	case EventNetworkName:
		return "network_name"
	case EventNetworkTime:
		return "network_time"
	case EventTimeZone:
		return "time_zone"
	case EventDaylightSaving:
		return "daylight_saving"
	case EventModuleReset:
		return "module_reset"
	default:
		return "unknown"
	}
}

// Event is a notification the modem pushed between or during transactions.
// Mux is -1 for notifications not tied to a socket.
type Event struct {
	Kind  EventKind
	Mux   int
	Value string
	Time  time.Time
}

// notification binds an unsolicited prefix to the state change it causes.
// handle runs inside the scan loop and may only read up to the end of the
// notification's line.
type notification struct {
	prefix string
	kind   EventKind
	handle func(m *Modem) Event
}

var notifications = []notification{
	{prefix: at.UrcRecv, kind: EventDataReady, handle: (*Modem).onDataReady},
	{prefix: at.UrcDataInd, kind: EventDataIndication, handle: (*Modem).onDataIndication},
	{prefix: at.UrcState, kind: EventStateChanged, handle: (*Modem).onStateChanged},
	{prefix: at.UrcNetworkName, kind: EventNetworkName, handle: (*Modem).onNetworkName},
	{prefix: at.UrcNetworkTime, kind: EventNetworkTime, handle: (*Modem).onNetworkTime},
	{prefix: at.UrcTimeZone, kind: EventTimeZone, handle: (*Modem).onTimeZone},
	{prefix: at.UrcDST, kind: EventDaylightSaving, handle: (*Modem).onDaylightSaving},
	{prefix: at.ResetMarker, kind: EventModuleReset, handle: (*Modem).onModuleReset},
}

// matchNotification returns the notification data ends with, unless that
// prefix is what the running transaction itself waits for.
func matchNotification(data []byte, terms []string) *notification {
	for i := range notifications {
		n := &notifications[i]
		if !bytes.HasSuffix(data, []byte(n.prefix)) || awaited(n.prefix, terms) {
			continue
		}
		return n
	}
	return nil
}

func awaited(prefix string, terms []string) bool {
	for _, t := range terms {
		if t != "" && strings.HasSuffix(t, prefix) {
			return true
		}
	}
	return false
}

func (m *Modem) dispatch(n *notification) {
	ev := n.handle(m)
	ev.Kind = n.kind
	ev.Time = time.Now()
	obs.Notifications.WithLabelValues(n.kind.String()).Inc()
	m.logger.Debug("notification", "kind", n.kind.String(), "mux", ev.Mux, "value", ev.Value)

	select {
	case m.events <- ev:
	default:
		m.logger.Debug("event buffer full, dropping", "kind", n.kind.String())
	}
}

// onDataReady handles "+CARECV: <mux>,<len>".
func (m *Modem) onDataReady() Event {
	mux, ok := m.readIntBefore(at.FieldDivider)
	if !ok {
		m.skipUntil(at.LineFeed)
		return Event{Mux: -1}
	}
	length, ok := m.readIntBefore(at.LineFeed)
	ev := Event{Mux: mux, Value: fmt.Sprint(length)}

	s := m.sockets.lookup(mux)
	if s == nil {
		return ev
	}
	s.pending.Store(true)
	if !ok || length < 0 || length > m.config.RxBufferSize {
		obs.MalformedNotifications.Inc()
		m.logger.Warn("ignoring data length",
			"mux", mux, "length", length, "limit", m.config.RxBufferSize,
			"error", ErrMalformedNotification)
		return ev
	}
	s.available.Store(int32(length))
	return ev
}

// onDataIndication handles "+CADATAIND: <mux>".
func (m *Modem) onDataIndication() Event {
	mux, ok := m.readIntBefore(at.LineFeed)
	if !ok {
		return Event{Mux: -1}
	}
	if s := m.sockets.lookup(mux); s != nil {
		s.pending.Store(true)
	}
	return Event{Mux: mux}
}

// onStateChanged handles "+CASTATE: <mux>,<state>".
func (m *Modem) onStateChanged() Event {
	mux, ok := m.readIntBefore(at.FieldDivider)
	if !ok {
		m.skipUntil(at.LineFeed)
		return Event{Mux: -1}
	}
	state, ok := m.readIntBefore(at.LineFeed)
	if !ok {
		return Event{Mux: mux}
	}
	if s := m.sockets.lookup(mux); s != nil && state != 1 {
		s.connected.Store(false)
		m.logger.Info("socket closed by modem", "mux", mux, "state", state)
	}
	return Event{Mux: mux, Value: fmt.Sprint(state)}
}

func (m *Modem) onNetworkName() Event {
	line, _ := m.readUntil(at.LineFeed)
	m.clock.setNetworkName(line)
	return Event{Mux: -1, Value: strings.TrimSpace(line)}
}

func (m *Modem) onNetworkTime() Event {
	line, _ := m.readUntil(at.LineFeed)
	if err := m.clock.setNetworkTime(line); err != nil {
		m.logger.Debug("unparsable network time", "line", strings.TrimSpace(line), "error", err)
	}
	return Event{Mux: -1, Value: strings.TrimSpace(line)}
}

func (m *Modem) onTimeZone() Event {
	line, _ := m.readUntil(at.LineFeed)
	if err := m.clock.setZone(line); err != nil {
		m.logger.Debug("unparsable time zone", "line", strings.TrimSpace(line), "error", err)
	}
	return Event{Mux: -1, Value: strings.TrimSpace(line)}
}

func (m *Modem) onDaylightSaving() Event {
	line, _ := m.readUntil(at.LineFeed)
	if err := m.clock.setDST(line); err != nil {
		m.logger.Debug("unparsable daylight saving state", "line", strings.TrimSpace(line), "error", err)
	}
	return Event{Mux: -1, Value: strings.TrimSpace(line)}
}

// onModuleReset only flags the restart; recovery is up to the owner.
func (m *Modem) onModuleReset() Event {
	m.resetDetected.Store(true)
	obs.ModuleResets.Inc()
	m.logger.Error("unexpected module reset")
	return Event{Mux: -1}
}
