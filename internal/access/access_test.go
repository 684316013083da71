package access

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/technosupport/falcon/internal/protocol"
)

func TestCacheDefaults(t *testing.T) {
	c := NewCache()
	for zone := 1; zone <= protocol.ZoneCount; zone++ {
		assert.Equal(t, protocol.AuthorityAuthOnly, c.Level(zone))
	}
	assert.Equal(t, protocol.AuthorityAuthOnly, c.Level(0), "out of range stays restrictive")
	assert.Equal(t, protocol.AuthorityAuthOnly, c.Level(99))
}

func TestCacheReplace(t *testing.T) {
	c := NewCache()
	levels := [protocol.ZoneCount]protocol.AuthorityLevel{1, 2, 3, 1, 2, 3, 1, 2}
	c.Replace(levels)
	assert.Equal(t, protocol.AuthorityOpen, c.Level(1))
	assert.Equal(t, protocol.AuthorityNoEntry, c.Level(3))
	assert.Equal(t, levels, c.Levels())
}

func TestClassify(t *testing.T) {
	det := func(class protocol.Class, pose string) protocol.Detection {
		return protocol.Detection{ObjectID: 1, Class: class, Pose: pose}
	}

	tests := []struct {
		name      string
		det       protocol.Detection
		zoneID    int
		level     protocol.AuthorityLevel
		wantDrop  bool
		wantEvent protocol.EventType
		wantResc  int
	}{
		{name: "airplane always dropped", det: det(protocol.ClassAirplane, ""), zoneID: 5, level: protocol.AuthorityNoEntry, wantDrop: true},
		{name: "bird is hazard in open zone", det: det(protocol.ClassBird, ""), zoneID: 1, level: protocol.AuthorityOpen, wantEvent: protocol.EventHazard},
		{name: "fod is hazard outside zones", det: det(protocol.ClassFOD, ""), zoneID: 0, level: protocol.AuthorityOpen, wantEvent: protocol.EventHazard},
		{name: "animal is hazard", det: det(protocol.ClassAnimal, ""), zoneID: 6, level: protocol.AuthorityAuthOnly, wantEvent: protocol.EventHazard},

		{name: "fallen person is rescue even in open", det: det(protocol.ClassPerson, protocol.PoseFallen), zoneID: 1, level: protocol.AuthorityOpen, wantEvent: protocol.EventRescue, wantResc: RescueFallen},
		{name: "standing person allowed in open", det: det(protocol.ClassPerson, protocol.PoseStand), zoneID: 1, level: protocol.AuthorityOpen, wantDrop: true},
		{name: "standing person unauth in auth-only", det: det(protocol.ClassPerson, protocol.PoseStand), zoneID: 5, level: protocol.AuthorityAuthOnly, wantEvent: protocol.EventUnauth},
		{name: "standing person unauth in no-entry", det: det(protocol.ClassPerson, protocol.PoseStand), zoneID: 5, level: protocol.AuthorityNoEntry, wantEvent: protocol.EventUnauth},
		{name: "person outside zones is unauth", det: det(protocol.ClassPerson, protocol.PoseStand), zoneID: 0, level: protocol.AuthorityAuthOnly, wantEvent: protocol.EventUnauth},

		{name: "vehicle allowed in open", det: det(protocol.ClassVehicle, ""), zoneID: 1, level: protocol.AuthorityOpen, wantDrop: true},
		{name: "vehicle unauth in auth-only", det: det(protocol.ClassVehicle, ""), zoneID: 5, level: protocol.AuthorityAuthOnly, wantEvent: protocol.EventUnauth},
		{name: "vehicle outside zones is unauth", det: det(protocol.ClassVehicle, ""), zoneID: 0, level: protocol.AuthorityOpen, wantEvent: protocol.EventUnauth},

		{name: "worker allowed in auth-only", det: det(protocol.ClassWorkPerson, ""), zoneID: 5, level: protocol.AuthorityAuthOnly, wantDrop: true},
		{name: "worker allowed in open", det: det(protocol.ClassWorkVehicle, ""), zoneID: 1, level: protocol.AuthorityOpen, wantDrop: true},
		{name: "worker unauth in no-entry", det: det(protocol.ClassWorkVehicle, ""), zoneID: 6, level: protocol.AuthorityNoEntry, wantEvent: protocol.EventUnauth},
		{name: "worker outside zones is unauth", det: det(protocol.ClassWorkPerson, ""), zoneID: 0, level: protocol.AuthorityAuthOnly, wantEvent: protocol.EventUnauth},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Classify(tt.det, tt.zoneID, tt.level)
			assert.Equal(t, tt.wantDrop, v.Drop)
			if !tt.wantDrop {
				assert.Equal(t, tt.wantEvent, v.EventType)
				assert.Equal(t, tt.wantResc, v.RescueLevel)
			}
		})
	}
}

func TestClassifyPersonCarriesRescueFlag(t *testing.T) {
	v := Classify(protocol.Detection{Class: protocol.ClassPerson, Pose: protocol.PoseStand}, 5, protocol.AuthorityAuthOnly)
	assert.True(t, v.HasRescue)

	v = Classify(protocol.Detection{Class: protocol.ClassVehicle}, 5, protocol.AuthorityAuthOnly)
	assert.False(t, v.HasRescue)
}
