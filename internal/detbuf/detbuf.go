package detbuf

import (
	"sort"
	"sync"
	"time"

	"github.com/technosupport/falcon/internal/protocol"
)

// Buffer aligns 5 fps inference results with 30 fps video. Per camera it keeps
// the detection lists of the last window (200 ms by default), keyed by frame
// id (nanosecond timestamp). Lookup returns the exact frame's detections, or
// the newest strictly older entry inside the window.
type Buffer struct {
	mu      sync.RWMutex
	window  time.Duration
	cameras map[string]*entries
}

type entries struct {
	ids  []int64 // ascending
	dets map[int64][]protocol.Detection
}

func New(window time.Duration) *Buffer {
	if window <= 0 {
		window = 200 * time.Millisecond
	}
	return &Buffer{
		window:  window,
		cameras: make(map[string]*entries),
	}
}

// SetWindow applies a reloaded lookup window.
func (b *Buffer) SetWindow(window time.Duration) {
	if window <= 0 {
		return
	}
	b.mu.Lock()
	b.window = window
	b.mu.Unlock()
}

// Put stores a frame's detections and trims entries outside the window.
func (b *Buffer) Put(camera string, frameID int64, dets []protocol.Detection) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.cameras[camera]
	if !ok {
		e = &entries{dets: make(map[int64][]protocol.Detection)}
		b.cameras[camera] = e
	}

	if _, exists := e.dets[frameID]; !exists {
		i := sort.Search(len(e.ids), func(i int) bool { return e.ids[i] >= frameID })
		e.ids = append(e.ids, 0)
		copy(e.ids[i+1:], e.ids[i:])
		e.ids[i] = frameID
	}
	e.dets[frameID] = dets

	cutoff := frameID - b.window.Nanoseconds()
	e.trim(cutoff)
}

func (e *entries) trim(cutoff int64) {
	i := sort.Search(len(e.ids), func(i int) bool { return e.ids[i] >= cutoff })
	for _, id := range e.ids[:i] {
		delete(e.dets, id)
	}
	e.ids = append([]int64(nil), e.ids[i:]...)
}

// Lookup returns the detections applicable to frameID: exact match if present,
// otherwise the largest buffered id strictly below it within the window. The
// returned slice is shared and must not be mutated.
func (b *Buffer) Lookup(camera string, frameID int64) []protocol.Detection {
	b.mu.RLock()
	defer b.mu.RUnlock()

	e, ok := b.cameras[camera]
	if !ok {
		return nil
	}
	if dets, ok := e.dets[frameID]; ok {
		return dets
	}

	// Largest id strictly less than frameID.
	i := sort.Search(len(e.ids), func(i int) bool { return e.ids[i] >= frameID })
	if i == 0 {
		return nil
	}
	prior := e.ids[i-1]
	if frameID-prior > b.window.Nanoseconds() {
		return nil
	}
	return e.dets[prior]
}

// Len reports the number of buffered frames for a camera.
func (b *Buffer) Len(camera string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.cameras[camera]
	if !ok {
		return 0
	}
	return len(e.ids)
}
