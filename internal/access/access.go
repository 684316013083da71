package access

import (
	"log"
	"sync"

	"github.com/technosupport/falcon/internal/protocol"
)

// Cache holds the in-memory authority level of each zone. It is the read path
// for every detection; the database copy is authoritative across restarts and
// the cache is replaced atomically after a successful AC_UA write.
type Cache struct {
	mu     sync.RWMutex
	levels [protocol.ZoneCount]protocol.AuthorityLevel
}

// NewCache starts every zone at AUTH_ONLY, the safe default until the stored
// conditions are loaded.
func NewCache() *Cache {
	c := &Cache{}
	for i := range c.levels {
		c.levels[i] = protocol.AuthorityAuthOnly
	}
	return c
}

// Level returns the authority of a 1-based zone id. Out-of-range ids get
// AUTH_ONLY so an unmapped detection never bypasses access control.
func (c *Cache) Level(zoneID int) protocol.AuthorityLevel {
	if zoneID < 1 || zoneID > protocol.ZoneCount {
		return protocol.AuthorityAuthOnly
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.levels[zoneID-1]
}

// Levels returns a snapshot of all zone authorities in zone-id order.
func (c *Cache) Levels() [protocol.ZoneCount]protocol.AuthorityLevel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.levels
}

// Replace installs a full set of levels.
func (c *Cache) Replace(levels [protocol.ZoneCount]protocol.AuthorityLevel) {
	c.mu.Lock()
	c.levels = levels
	c.mu.Unlock()
	log.Printf("[INFO] Access: zone authorities updated to %v", levels)
}

// Verdict is the outcome of classifying one detection against the zone it
// occupies.
type Verdict struct {
	Drop        bool
	EventType   protocol.EventType
	RescueLevel int  // meaningful only for PERSON
	HasRescue   bool // set iff Class == PERSON
}

// Rescue levels carried in PERSON events.
const (
	RescueNone   = 0
	RescueFallen = 1
)

// Classify decides whether a detection becomes an event. Aircraft never enter
// the pipeline. Hazard classes are events everywhere, including outside the
// mapped areas. A fallen person is a rescue event regardless of authority.
// Other subjects are checked against the zone authority; a subject outside
// every mapped zone is an unauthorized entry, not a free pass.
func Classify(d protocol.Detection, zoneID int, level protocol.AuthorityLevel) Verdict {
	switch {
	case d.Class.IsAircraft():
		return Verdict{Drop: true}

	case d.Class.IsHazard():
		return Verdict{EventType: protocol.EventHazard}

	case d.Class == protocol.ClassPerson:
		if d.Pose == protocol.PoseFallen {
			return Verdict{EventType: protocol.EventRescue, RescueLevel: RescueFallen, HasRescue: true}
		}
		if zoneID != 0 && level == protocol.AuthorityOpen {
			return Verdict{Drop: true}
		}
		return Verdict{EventType: protocol.EventUnauth, RescueLevel: RescueNone, HasRescue: true}

	case d.Class == protocol.ClassVehicle:
		if zoneID != 0 && level == protocol.AuthorityOpen {
			return Verdict{Drop: true}
		}
		return Verdict{EventType: protocol.EventUnauth}

	case d.Class.IsWorker():
		if zoneID != 0 && level != protocol.AuthorityNoEntry {
			return Verdict{Drop: true}
		}
		return Verdict{EventType: protocol.EventUnauth}
	}

	// Unknown classes never reach here (ParseClass rejects them), but a
	// silent drop is the safe answer if the vocabulary ever grows.
	return Verdict{Drop: true}
}
