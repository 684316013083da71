package protocol

import (
	"encoding/json"
	"fmt"
)

// The inference channel speaks JSON lines. Every line decodes into exactly one
// of the variants below; DecodeInference is the single entry point so readers
// never touch raw maps.

type InferenceMessage interface {
	inferenceMessage()
}

// ObjectDetected carries one frame's detections.
type ObjectDetected struct {
	CameraID   string
	ImgID      int64
	Detections []Detection
}

// MarkerDetected is reported during calibration; ignored at steady state.
type MarkerDetected struct {
	CameraID string
	Markers  json.RawMessage
}

// MapCalibration delivers the per-camera homography and scale.
type MapCalibration struct {
	CameraID string
	Matrix   [3][3]float64
	Scale    float64
}

// InferenceResponse acknowledges a command previously sent to the worker.
type InferenceResponse struct {
	Command string
	Result  string
}

func (ObjectDetected) inferenceMessage()    {}
func (MarkerDetected) inferenceMessage()    {}
func (MapCalibration) inferenceMessage()    {}
func (InferenceResponse) inferenceMessage() {}

// rawInference is the wire envelope; only the fields for the identified
// variant are read.
type rawInference struct {
	Type       string          `json:"type"`
	Event      string          `json:"event"`
	Command    string          `json:"command"`
	Result     string          `json:"result"`
	CameraID   string          `json:"camera_id"`
	ImgID      int64           `json:"img_id"`
	Detections []rawDetection  `json:"detections"`
	Markers    json.RawMessage `json:"markers"`
	Matrix     [][]float64     `json:"matrix"`
	Scale      float64         `json:"scale"`
}

type rawDetection struct {
	ObjectID   int64      `json:"object_id"`
	Class      string     `json:"class"`
	BBox       []float64  `json:"bbox"`
	Confidence float64    `json:"confidence"`
	Pose       string     `json:"pose"`
}

// DecodeInference parses one JSON line from the inference worker.
func DecodeInference(line []byte) (InferenceMessage, error) {
	var raw rawInference
	if err := json.Unmarshal(line, &raw); err != nil {
		return nil, fmt.Errorf("inference json: %w", err)
	}

	switch raw.Type {
	case "event":
		switch raw.Event {
		case "object_detected":
			return decodeObjectDetected(&raw)
		case "marker_detected":
			return MarkerDetected{CameraID: raw.CameraID, Markers: raw.Markers}, nil
		case "map_calibration":
			return decodeMapCalibration(&raw)
		default:
			return nil, fmt.Errorf("unknown inference event %q", raw.Event)
		}
	case "response":
		return InferenceResponse{Command: raw.Command, Result: raw.Result}, nil
	}
	return nil, fmt.Errorf("unknown inference message type %q", raw.Type)
}

func decodeObjectDetected(raw *rawInference) (InferenceMessage, error) {
	if raw.CameraID == "" {
		return nil, fmt.Errorf("object_detected: missing camera_id")
	}
	if raw.ImgID == 0 {
		return nil, fmt.Errorf("object_detected: missing img_id")
	}

	msg := ObjectDetected{CameraID: raw.CameraID, ImgID: raw.ImgID}
	for i, rd := range raw.Detections {
		cls, err := ParseClass(rd.Class)
		if err != nil {
			return nil, fmt.Errorf("detection %d: %w", i, err)
		}
		if len(rd.BBox) != 4 {
			return nil, fmt.Errorf("detection %d: bbox must have 4 elements, got %d", i, len(rd.BBox))
		}
		d := Detection{
			ObjectID:   rd.ObjectID,
			Class:      cls,
			Confidence: rd.Confidence,
			Pose:       rd.Pose,
		}
		copy(d.BBox[:], rd.BBox)
		msg.Detections = append(msg.Detections, d)
	}
	return msg, nil
}

func decodeMapCalibration(raw *rawInference) (InferenceMessage, error) {
	if raw.CameraID == "" {
		return nil, fmt.Errorf("map_calibration: missing camera_id")
	}
	if len(raw.Matrix) != 3 {
		return nil, fmt.Errorf("map_calibration: matrix must be 3x3, got %d rows", len(raw.Matrix))
	}
	msg := MapCalibration{CameraID: raw.CameraID, Scale: raw.Scale}
	for i, row := range raw.Matrix {
		if len(row) != 3 {
			return nil, fmt.Errorf("map_calibration: row %d has %d elements", i, len(row))
		}
		copy(msg.Matrix[i][:], row)
	}
	return msg, nil
}

// EncodeCommand builds a JSON-line command for the inference worker.
func EncodeCommand(command string) []byte {
	b, _ := json.Marshal(struct {
		Type    string `json:"type"`
		Command string `json:"command"`
	}{Type: "command", Command: command})
	return append(b, '\n')
}

// CommandSetModeObject switches the worker from calibration to detection.
const CommandSetModeObject = "set_mode_object"

// BirdEvent is the only message on the bird-risk channel.
type BirdEvent struct {
	Level BirdRisk
}

// DecodeBirdEvent parses one JSON line from the bird-risk estimator.
func DecodeBirdEvent(line []byte) (BirdEvent, error) {
	var raw struct {
		Type   string `json:"type"`
		Event  string `json:"event"`
		Result string `json:"result"`
	}
	if err := json.Unmarshal(line, &raw); err != nil {
		return BirdEvent{}, fmt.Errorf("bird json: %w", err)
	}
	if raw.Type != "event" || raw.Event != "BR_CHANGED" {
		return BirdEvent{}, fmt.Errorf("unknown bird message %q/%q", raw.Type, raw.Event)
	}
	level, err := ParseBirdRisk(raw.Result)
	if err != nil {
		return BirdEvent{}, err
	}
	return BirdEvent{Level: level}, nil
}
