package modem

import (
	"fmt"
	"sync"
)

// MuxCount is the number of virtual sockets the modem multiplexes.
const MuxCount = 12

// Target selects either one mux slot or every slot for the bulk pollers.
type Target struct {
	mux int
	all bool
}

// All targets every mux slot.
var All = Target{all: true}

// One targets a single mux slot.
func One(mux int) Target { return Target{mux: mux} }

// IsAll reports whether t addresses every slot.
func (t Target) IsAll() bool { return t.all }

// Mux returns the targeted slot; it is meaningless when IsAll is true.
func (t Target) Mux() int { return t.mux }

func (t Target) String() string {
	if t.all {
		return "all"
	}
	return fmt.Sprintf("mux %d", t.mux)
}

func (t Target) includes(mux int) bool {
	return t.all || t.mux == mux
}

func (t Target) validate() error {
	if t.all || validMux(t.mux) {
		return nil
	}
	return fmt.Errorf("%s: %w", t, ErrInvalidMux)
}

func validMux(mux int) bool {
	return mux >= 0 && mux < MuxCount
}

// normalizeMux folds any requested slot into [0, MuxCount).
func normalizeMux(mux int) int {
	mux %= MuxCount
	if mux < 0 {
		mux += MuxCount
	}
	return mux
}

// muxTable holds borrowed references to bound sockets. It never closes a
// socket; sockets clear their own slot on Close.
type muxTable struct {
	mu    sync.RWMutex
	slots [MuxCount]*Socket
}

func (t *muxTable) bind(s *Socket, requested int) (int, error) {
	mux := normalizeMux(requested)
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.slots[mux] != nil {
		return mux, fmt.Errorf("mux %d: %w", mux, ErrMuxInUse)
	}
	t.slots[mux] = s
	return mux, nil
}

// unbind clears mux only while it still belongs to s.
func (t *muxTable) unbind(mux int, s *Socket) {
	if !validMux(mux) {
		return
	}
	t.mu.Lock()
	if t.slots[mux] == s {
		t.slots[mux] = nil
	}
	t.mu.Unlock()
}

func (t *muxTable) lookup(mux int) *Socket {
	if !validMux(mux) {
		return nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.slots[mux]
}

// each calls f for every bound socket the target includes.
func (t *muxTable) each(target Target, f func(mux int, s *Socket)) {
	t.mu.RLock()
	slots := t.slots
	t.mu.RUnlock()
	for mux, s := range slots {
		if s != nil && target.includes(mux) {
			f(mux, s)
		}
	}
}
