package live

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/technosupport/falcon/internal/data"
	"github.com/technosupport/falcon/internal/protocol"
)

// Key layout. Detections expire quickly: a stale snapshot is worse than none.
const (
	keyDetections = "falcon:live:detections"
	keyBirdRisk   = "falcon:live:bird_risk"
	keyZonePrefix = "falcon:live:zone:"

	detectionsTTL = 2 * time.Second
	opTimeout     = 250 * time.Millisecond
)

// Cache mirrors the latest pipeline output into Redis so dashboards can poll
// it without touching the server's hot path. Implements pipeline.Sink; every
// write happens off the caller's goroutine.
type Cache struct {
	rdb *redis.Client
}

func New(addr string) (*Cache, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, err
	}
	return &Cache{rdb: rdb}, nil
}

func (c *Cache) Close() error { return c.rdb.Close() }

type liveDetection struct {
	EventType   int    `json:"event_type"`
	ObjectID    int64  `json:"object_id"`
	Class       string `json:"class"`
	MapX        int    `json:"map_x"`
	MapY        int    `json:"map_y"`
	Area        string `json:"area"`
	RescueLevel *int   `json:"rescue_level,omitempty"`
}

type liveSnapshot struct {
	Timestamp  time.Time       `json:"timestamp"`
	Detections []liveDetection `json:"detections"`
}

// DetectionEvents caches the latest tick's detections.
func (c *Cache) DetectionEvents(events []protocol.ObjectEvent, ts time.Time) {
	snap := liveSnapshot{Timestamp: ts.UTC()}
	for _, e := range events {
		d := liveDetection{
			EventType: int(e.EventType),
			ObjectID:  e.ObjectID,
			Class:     string(e.Class),
			MapX:      e.MapX,
			MapY:      e.MapY,
			Area:      e.AreaName,
		}
		if e.HasRescue {
			level := e.RescueLevel
			d.RescueLevel = &level
		}
		snap.Detections = append(snap.Detections, d)
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return
	}
	c.set(keyDetections, payload, detectionsTTL)
}

// FirstDetection is covered by the history API; nothing to cache.
func (c *Cache) FirstDetection(data.DetectEvent) {}

// BirdRisk caches the current level.
func (c *Cache) BirdRisk(level protocol.BirdRisk, ts time.Time) {
	payload, _ := json.Marshal(map[string]any{
		"level":      int(level),
		"code":       level.Code(),
		"changed_at": ts.UTC(),
	})
	c.set(keyBirdRisk, payload, 0)
}

// ZoneStatus caches a zone's state.
func (c *Cache) ZoneStatus(zone string, hazard bool) {
	state := "NORMAL"
	if hazard {
		state = "HAZARD"
	}
	c.set(keyZonePrefix+zone, []byte(state), 0)
}

func (c *Cache) set(key string, value []byte, ttl time.Duration) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		if err := c.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
			log.Printf("[WARNING] Live: set %s: %v", key, err)
		}
	}()
}

// Detections returns the cached snapshot, empty when expired or absent.
func (c *Cache) Detections(ctx context.Context) ([]byte, error) {
	val, err := c.rdb.Get(ctx, keyDetections).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	return val, err
}

// CurrentBirdRisk returns the cached bird-risk JSON, nil when absent.
func (c *Cache) CurrentBirdRisk(ctx context.Context) ([]byte, error) {
	val, err := c.rdb.Get(ctx, keyBirdRisk).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	return val, err
}

// Zone returns a zone's cached state, "NORMAL" when absent.
func (c *Cache) Zone(ctx context.Context, zone string) (string, error) {
	val, err := c.rdb.Get(ctx, keyZonePrefix+zone).Result()
	if err == redis.Nil {
		return "NORMAL", nil
	}
	return val, err
}
