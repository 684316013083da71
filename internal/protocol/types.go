package protocol

import (
	"fmt"
	"strings"
)

// Class is the object class vocabulary shared with the inference worker.
type Class string

const (
	ClassBird        Class = "BIRD"
	ClassFOD         Class = "FOD"
	ClassAnimal      Class = "ANIMAL"
	ClassPerson      Class = "PERSON"
	ClassVehicle     Class = "VEHICLE"
	ClassWorkPerson  Class = "WORK_PERSON"
	ClassWorkVehicle Class = "WORK_VEHICLE"
	ClassAirplane    Class = "AIRPLANE"
	ClassAircraft    Class = "AIRCRAFT"
)

var validClasses = map[Class]bool{
	ClassBird: true, ClassFOD: true, ClassAnimal: true, ClassPerson: true,
	ClassVehicle: true, ClassWorkPerson: true, ClassWorkVehicle: true,
	ClassAirplane: true, ClassAircraft: true,
}

// ParseClass normalizes a wire class name. The worker sends lowercase.
func ParseClass(s string) (Class, error) {
	c := Class(strings.ToUpper(strings.TrimSpace(s)))
	if !validClasses[c] {
		return "", fmt.Errorf("unknown object class %q", s)
	}
	return c, nil
}

// IsAircraft reports whether the class is excluded from the whole pipeline.
func (c Class) IsAircraft() bool {
	return c == ClassAirplane || c == ClassAircraft
}

// IsHazard reports whether the class is an unconditional hazard.
func (c Class) IsHazard() bool {
	return c == ClassBird || c == ClassFOD || c == ClassAnimal
}

// IsWorker reports whether the class is authorized in AUTH_ONLY zones.
func (c Class) IsWorker() bool {
	return c == ClassWorkPerson || c == ClassWorkVehicle
}

// EventType classifies a detection for fan-out and persistence.
type EventType int

const (
	EventHazard EventType = 1
	EventUnauth EventType = 2
	EventRescue EventType = 3
)

// AuthorityLevel controls who may enter a zone.
type AuthorityLevel int

const (
	AuthorityOpen     AuthorityLevel = 1
	AuthorityAuthOnly AuthorityLevel = 2
	AuthorityNoEntry  AuthorityLevel = 3
)

// Valid reports whether l is one of the three defined levels.
func (l AuthorityLevel) Valid() bool {
	return l >= AuthorityOpen && l <= AuthorityNoEntry
}

// BirdRisk is the qualitative level published by the bird-risk estimator.
// Wire encoding on ME_BR: 1=HIGH, 2=MEDIUM, 3=LOW.
type BirdRisk int

const (
	BirdRiskHigh   BirdRisk = 1
	BirdRiskMedium BirdRisk = 2
	BirdRiskLow    BirdRisk = 3
)

// ParseBirdRisk maps the estimator's result string to a level.
func ParseBirdRisk(s string) (BirdRisk, error) {
	switch strings.TrimSpace(s) {
	case "BR_HIGH":
		return BirdRiskHigh, nil
	case "BR_MEDIUM":
		return BirdRiskMedium, nil
	case "BR_LOW":
		return BirdRiskLow, nil
	}
	return 0, fmt.Errorf("unknown bird risk %q", s)
}

// Code returns the pilot-protocol response code for the level.
func (r BirdRisk) Code() string {
	switch r {
	case BirdRiskHigh:
		return "BR_HIGH"
	case BirdRiskMedium:
		return "BR_MEDIUM"
	case BirdRiskLow:
		return "BR_LOW"
	}
	return "BR_LOW"
}

// Pose is the optional PERSON posture reported by the worker.
const (
	PoseStand  = "stand"
	PoseFallen = "fallen"
)

// Detection is a single object as reported by the inference worker.
// BBox is [x1,y1,x2,y2] in frame pixels.
type Detection struct {
	ObjectID   int64      `json:"object_id"`
	Class      Class      `json:"class"`
	BBox       [4]float64 `json:"bbox"`
	Confidence float64    `json:"confidence"`
	Pose       string     `json:"pose,omitempty"`
}

// Centroid returns the bbox center in frame pixels.
func (d Detection) Centroid() (float64, float64) {
	return (d.BBox[0] + d.BBox[2]) / 2, (d.BBox[1] + d.BBox[3]) / 2
}
