package transform

import (
	"log"
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/mat"
)

// Area is one fixed rectangular region of the airfield map, in normalized
// coordinates. Loaded once at startup; static afterwards.
type Area struct {
	ID   int
	Name string
	X1   float64
	Y1   float64
	X2   float64
	Y2   float64
}

// Contains reports whether the normalized point lies inside the rectangle.
func (a Area) Contains(nx, ny float64) bool {
	return a.X1 <= nx && nx <= a.X2 && a.Y1 <= ny && ny <= a.Y2
}

// Calibration is the per-camera homography and scale delivered by the
// inference worker during startup.
type Calibration struct {
	Homography *mat.Dense // 3x3
	Scale      float64
	ReceivedAt time.Time
}

// Point is a transformed detection centroid.
type Point struct {
	NormX  float64
	NormY  float64
	MapX   float64
	MapY   float64
	AreaID int // 0 when outside every area
}

// Config fixes the logical and physical planes.
type Config struct {
	MapWidth   float64 // logical plane px (960)
	MapHeight  float64 // logical plane px (720)
	RealWidth  float64 // physical plane mm (1800)
	RealHeight float64 // physical plane mm (1350)
}

// Transformer converts bbox centroids into normalized, map, and zone
// coordinates. Calibration writes are rare (one per camera per worker
// session); reads happen on every detection.
type Transformer struct {
	cfg   Config
	areas []Area

	mu           sync.RWMutex
	calibrations map[string]Calibration
}

func New(cfg Config, areas []Area) *Transformer {
	if cfg.MapWidth == 0 {
		cfg.MapWidth = 960
	}
	if cfg.MapHeight == 0 {
		cfg.MapHeight = 720
	}
	if cfg.RealWidth == 0 {
		cfg.RealWidth = 1800
	}
	if cfg.RealHeight == 0 {
		cfg.RealHeight = 1350
	}
	return &Transformer{
		cfg:          cfg,
		areas:        areas,
		calibrations: make(map[string]Calibration),
	}
}

// SetCalibration stores a camera's homography. A singular matrix is rejected
// and the camera stays on the identity fallback.
func (t *Transformer) SetCalibration(camera string, matrix [3][3]float64, scale float64) bool {
	h := mat.NewDense(3, 3, []float64{
		matrix[0][0], matrix[0][1], matrix[0][2],
		matrix[1][0], matrix[1][1], matrix[1][2],
		matrix[2][0], matrix[2][1], matrix[2][2],
	})
	if det := mat.Det(h); math.Abs(det) < 1e-12 {
		log.Printf("[WARNING] Transform: singular homography for camera %s (det=%g), keeping identity fallback", camera, det)
		return false
	}
	if scale == 0 {
		scale = 1
	}

	t.mu.Lock()
	t.calibrations[camera] = Calibration{Homography: h, Scale: scale, ReceivedAt: time.Now()}
	t.mu.Unlock()
	log.Printf("[INFO] Transform: calibration stored for camera %s (scale=%g)", camera, scale)
	return true
}

// Calibrated reports whether a camera has a stored homography.
func (t *Transformer) Calibrated(camera string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.calibrations[camera]
	return ok
}

// ClearCalibrations drops all stored homographies (worker reconnect).
func (t *Transformer) ClearCalibrations() {
	t.mu.Lock()
	t.calibrations = make(map[string]Calibration)
	t.mu.Unlock()
}

// Apply transforms a bbox centroid. With calibration the point goes through
// the homography (perspective divide) onto the physical plane and is then
// normalized; without it the pixel position is normalized directly against
// the frame size.
func (t *Transformer) Apply(camera string, cx, cy, frameW, frameH float64) Point {
	t.mu.RLock()
	cal, ok := t.calibrations[camera]
	t.mu.RUnlock()

	var nx, ny float64
	if ok {
		src := mat.NewVecDense(3, []float64{cx, cy, 1})
		var dst mat.VecDense
		dst.MulVec(cal.Homography, src)
		w := dst.AtVec(2)
		if w == 0 {
			// Degenerate point; fall through to the identity path.
			nx, ny = cx/frameW, cy/frameH
		} else {
			wx := dst.AtVec(0) / w * cal.Scale
			wy := dst.AtVec(1) / w * cal.Scale
			nx = wx / t.cfg.RealWidth
			ny = wy / t.cfg.RealHeight
		}
	} else {
		nx, ny = cx/frameW, cy/frameH
	}

	p := Point{
		NormX: nx,
		NormY: ny,
		MapX:  nx * t.cfg.MapWidth,
		MapY:  ny * t.cfg.MapHeight,
	}
	if area, ok := t.LookupArea(nx, ny); ok {
		p.AreaID = area.ID
	}
	return p
}

// LookupArea returns the first area containing the point, in table order.
// Overlaps are resolved by that order and logged once per call.
func (t *Transformer) LookupArea(nx, ny float64) (Area, bool) {
	var found *Area
	for i := range t.areas {
		if t.areas[i].Contains(nx, ny) {
			if found == nil {
				found = &t.areas[i]
			} else {
				log.Printf("[WARNING] Transform: point (%.3f,%.3f) inside both %s and %s, using %s",
					nx, ny, found.Name, t.areas[i].Name, found.Name)
			}
		}
	}
	if found == nil {
		return Area{}, false
	}
	return *found, true
}

// AreaByID returns the area with the given id.
func (t *Transformer) AreaByID(id int) (Area, bool) {
	for _, a := range t.areas {
		if a.ID == id {
			return a, true
		}
	}
	return Area{}, false
}

// AreaName resolves an id to its name, "UNKNOWN" when absent or zero.
func (t *Transformer) AreaName(id int) string {
	if a, ok := t.AreaByID(id); ok {
		return a.Name
	}
	return "UNKNOWN"
}

// Areas returns the static area table.
func (t *Transformer) Areas() []Area {
	return t.areas
}
