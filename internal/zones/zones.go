package zones

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/technosupport/falcon/internal/metrics"
	"github.com/technosupport/falcon/internal/protocol"
)

// State is a zone's occupancy state.
type State int

const (
	StateNormal State = iota
	StateHazard
)

func (s State) String() string {
	if s == StateHazard {
		return "HAZARD"
	}
	return "NORMAL"
}

// TransitionFunc is invoked on every state change, before the triggering
// detection's own events go out.
type TransitionFunc func(zoneID int, zoneName string, hazard bool)

type zoneState struct {
	state    State
	deadline time.Time // valid while state == StateHazard
}

// Manager tracks the NORMAL/HAZARD state of all zones. A zone enters HAZARD
// on the first event inside it and returns to NORMAL once no event has been
// seen for the clear interval. The clear timer is re-armed by every event, so
// a persistent hazard holds the zone indefinitely.
type Manager struct {
	clear        time.Duration
	granularity  time.Duration
	names        [protocol.ZoneCount]string
	onTransition TransitionFunc

	mu    sync.Mutex
	zones [protocol.ZoneCount]zoneState
}

type Config struct {
	ClearAfter  time.Duration // default 2s
	Granularity time.Duration // sweep interval, default 50ms
}

func NewManager(cfg Config, names [protocol.ZoneCount]string, onTransition TransitionFunc) *Manager {
	if cfg.ClearAfter <= 0 {
		cfg.ClearAfter = 2 * time.Second
	}
	if cfg.Granularity <= 0 || cfg.Granularity > 50*time.Millisecond {
		cfg.Granularity = 50 * time.Millisecond
	}
	return &Manager{
		clear:        cfg.ClearAfter,
		granularity:  cfg.Granularity,
		names:        names,
		onTransition: onTransition,
	}
}

// SetClearAfter applies a reloaded hysteresis interval. Zones already in
// HAZARD keep their armed deadline; the next event re-arms with the new value.
func (m *Manager) SetClearAfter(d time.Duration) {
	if d <= 0 {
		return
	}
	m.mu.Lock()
	m.clear = d
	m.mu.Unlock()
	log.Printf("[INFO] Zones: hazard clear interval set to %s", d)
}

// Mark records an event in a zone at the given time. The NORMAL to HAZARD
// transition fires synchronously so callers can order the status message ahead
// of the detection messages.
func (m *Manager) Mark(zoneID int, now time.Time) {
	if zoneID < 1 || zoneID > protocol.ZoneCount {
		return
	}

	m.mu.Lock()
	z := &m.zones[zoneID-1]
	entered := z.state == StateNormal
	z.state = StateHazard
	z.deadline = now.Add(m.clear)
	m.mu.Unlock()

	if entered {
		m.transition(zoneID, StateHazard)
	}
}

// Run sweeps expired hazard deadlines until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.granularity)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.sweep(now)
		}
	}
}

func (m *Manager) sweep(now time.Time) {
	var cleared []int
	m.mu.Lock()
	for i := range m.zones {
		z := &m.zones[i]
		if z.state == StateHazard && !now.Before(z.deadline) {
			z.state = StateNormal
			cleared = append(cleared, i+1)
		}
	}
	m.mu.Unlock()

	for _, id := range cleared {
		m.transition(id, StateNormal)
	}
}

func (m *Manager) transition(zoneID int, to State) {
	name := m.names[zoneID-1]
	metrics.ZoneTransitionsTotal.WithLabelValues(name, to.String()).Inc()
	log.Printf("[INFO] Zones: %s -> %s", name, to)
	if m.onTransition != nil {
		m.onTransition(zoneID, name, to == StateHazard)
	}
}

// Hazard reports whether a zone is currently in HAZARD.
func (m *Manager) Hazard(zoneID int) bool {
	if zoneID < 1 || zoneID > protocol.ZoneCount {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.zones[zoneID-1].state == StateHazard
}

// HazardByName reports the state of the zone with the given name.
func (m *Manager) HazardByName(name string) bool {
	for i, n := range m.names {
		if n == name {
			return m.Hazard(i + 1)
		}
	}
	return false
}

// Snapshot returns the state of every zone in zone-id order.
func (m *Manager) Snapshot() [protocol.ZoneCount]State {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out [protocol.ZoneCount]State
	for i := range m.zones {
		out[i] = m.zones[i].state
	}
	return out
}
