package modem

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// NetworkClock is the last network identity and time the modem pushed.
// Zero values mean the network never reported that field.
type NetworkClock struct {
	NetworkName string
	// Time is the network UTC time at the moment UpdatedAt was taken.
	Time time.Time
	// ZoneQuarters is the local offset from UTC in quarter hours.
	ZoneQuarters int
	DST          bool
	UpdatedAt    time.Time
}

// Location returns the zone the network reported as a fixed offset.
func (c NetworkClock) Location() *time.Location {
	sign, q := '+', c.ZoneQuarters
	if q < 0 {
		sign, q = '-', -q
	}
	name := fmt.Sprintf("UTC%c%02d:%02d", sign, q/4, q%4*15)
	return time.FixedZone(name, c.ZoneQuarters*15*60)
}

type clock struct {
	mu    sync.Mutex
	state NetworkClock
}

func (c *clock) snapshot() NetworkClock {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *clock) update(f func(*NetworkClock)) {
	c.mu.Lock()
	f(&c.state)
	c.state.UpdatedAt = time.Now()
	c.mu.Unlock()
}

// setNetworkName takes the rest of a "*PSNWID:" line, e.g.
// ` "262","01","Telekom.de","Telekom.de",0`.
func (c *clock) setNetworkName(line string) {
	fields := splitFields(line)
	name := ""
	switch {
	case len(fields) >= 3:
		name = fields[2]
	case len(fields) > 0:
		name = fields[len(fields)-1]
	}
	c.update(func(s *NetworkClock) { s.NetworkName = name })
}

// setNetworkTime takes the rest of a "*PSUTTZ:" line,
// ` 2024,5,17,9,41,12,"+8",1`.
func (c *clock) setNetworkTime(line string) error {
	fields := splitFields(line)
	if len(fields) < 6 {
		return fmt.Errorf("network time %q: %w", line, ErrMalformedNotification)
	}
	var v [6]int
	for i := range v {
		n, err := strconv.Atoi(fields[i])
		if err != nil {
			return fmt.Errorf("network time field %d: %w", i, err)
		}
		v[i] = n
	}
	if v[0] < 100 {
		v[0] += 2000
	}
	t := time.Date(v[0], time.Month(v[1]), v[2], v[3], v[4], v[5], 0, time.UTC)

	zone, hasZone := 0, false
	if len(fields) > 6 {
		if n, err := strconv.Atoi(fields[6]); err == nil {
			zone, hasZone = n, true
		}
	}
	dst, hasDST := false, false
	if len(fields) > 7 {
		dst, hasDST = fields[7] == "1", true
	}
	c.update(func(s *NetworkClock) {
		s.Time = t
		if hasZone {
			s.ZoneQuarters = zone
		}
		if hasDST {
			s.DST = dst
		}
	})
	return nil
}

// setZone takes the rest of a "+CTZV:" line, ` "+8"` or ` +8,1`.
func (c *clock) setZone(line string) error {
	fields := splitFields(line)
	if len(fields) == 0 {
		return fmt.Errorf("time zone %q: %w", line, ErrMalformedNotification)
	}
	zone, err := strconv.Atoi(fields[0])
	if err != nil {
		return fmt.Errorf("time zone: %w", err)
	}
	c.update(func(s *NetworkClock) { s.ZoneQuarters = zone })
	return nil
}

// setDST takes the rest of a "DST: " line.
func (c *clock) setDST(line string) error {
	n, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil {
		return fmt.Errorf("daylight saving: %w", err)
	}
	c.update(func(s *NetworkClock) { s.DST = n != 0 })
	return nil
}

func splitFields(line string) []string {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	parts := strings.Split(line, ",")
	for i, p := range parts {
		parts[i] = strings.Trim(strings.TrimSpace(p), `"`)
	}
	return parts
}
