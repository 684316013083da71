package pipeline

import "sync"

// alertedSet remembers which object ids already produced a first-detection
// event. Tracker ids increase monotonically, so seeding with the highest
// persisted id covers everything recorded before a restart without loading
// the whole table.
type alertedSet struct {
	mu      sync.Mutex
	seeded  int64
	current map[int64]struct{}
}

func newAlertedSet(seed int64) *alertedSet {
	return &alertedSet{
		seeded:  seed,
		current: make(map[int64]struct{}),
	}
}

// firstSeen marks the id and reports whether this was its first appearance.
func (a *alertedSet) firstSeen(id int64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if id <= a.seeded {
		return false
	}
	if _, ok := a.current[id]; ok {
		return false
	}
	a.current[id] = struct{}{}
	return true
}

func (a *alertedSet) size() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.current)
}
