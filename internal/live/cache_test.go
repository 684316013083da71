package live

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/falcon/internal/protocol"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := New(mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func waitForKey(t *testing.T, mr *miniredis.Miniredis, key string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if mr.Exists(key) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("key %s never appeared", key)
}

func TestDetectionSnapshot(t *testing.T) {
	c, mr := newTestCache(t)

	events := []protocol.ObjectEvent{
		{EventType: protocol.EventHazard, ObjectID: 7, Class: protocol.ClassBird, MapX: 12, MapY: 34, AreaName: "RWY_A"},
	}
	c.DetectionEvents(events, time.Now())
	waitForKey(t, mr, keyDetections)

	raw, err := c.Detections(context.Background())
	require.NoError(t, err)

	var snap liveSnapshot
	require.NoError(t, json.Unmarshal(raw, &snap))
	require.Len(t, snap.Detections, 1)
	assert.Equal(t, int64(7), snap.Detections[0].ObjectID)
	assert.Equal(t, "RWY_A", snap.Detections[0].Area)

	// Snapshots expire so dashboards never render stale positions.
	mr.FastForward(detectionsTTL + time.Second)
	raw, err = c.Detections(context.Background())
	require.NoError(t, err)
	assert.Nil(t, raw)
}

func TestBirdRiskPersistsWithoutTTL(t *testing.T) {
	c, mr := newTestCache(t)

	c.BirdRisk(protocol.BirdRiskHigh, time.Now())
	waitForKey(t, mr, keyBirdRisk)

	mr.FastForward(time.Hour)
	raw, err := c.CurrentBirdRisk(context.Background())
	require.NoError(t, err)
	require.NotNil(t, raw)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(raw, &payload))
	assert.Equal(t, "BR_HIGH", payload["code"])
}

func TestZoneStatus(t *testing.T) {
	c, mr := newTestCache(t)

	c.ZoneStatus("RWY_A", true)
	waitForKey(t, mr, keyZonePrefix+"RWY_A")

	state, err := c.Zone(context.Background(), "RWY_A")
	require.NoError(t, err)
	assert.Equal(t, "HAZARD", state)

	state, err = c.Zone(context.Background(), "RWY_B")
	require.NoError(t, err)
	assert.Equal(t, "NORMAL", state, "absent zone reads as NORMAL")
}
