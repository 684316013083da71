package framebus

import (
	"sort"
	"sync"
)

// Frame is one JPEG camera frame. ID is the capture timestamp in nanoseconds
// and is strictly increasing per camera.
type Frame struct {
	Camera string
	ID     int64
	JPEG   []byte
}

// ring buffers the most recent frames of one camera, ordered by frame id.
// Single writer (the UDP reader), multiple readers (relay, pipeline crop).
type ring struct {
	mu      sync.RWMutex
	frames  []Frame // ascending by ID
	maxSize int
}

func newRing(maxSize int) *ring {
	return &ring{maxSize: maxSize}
}

// insert adds a frame, rejecting duplicates and out-of-order ids. The oldest
// frame is dropped when the buffer is full.
func (r *ring) insert(f Frame) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n := len(r.frames); n > 0 && f.ID <= r.frames[n-1].ID {
		return false
	}
	r.frames = append(r.frames, f)
	if len(r.frames) > r.maxSize {
		r.frames = r.frames[1:]
	}
	return true
}

// latest returns the newest frame, if any.
func (r *ring) latest() (Frame, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.frames) == 0 {
		return Frame{}, false
	}
	return r.frames[len(r.frames)-1], true
}

// get returns the frame with the exact id.
func (r *ring) get(id int64) (Frame, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i := sort.Search(len(r.frames), func(i int) bool { return r.frames[i].ID >= id })
	if i < len(r.frames) && r.frames[i].ID == id {
		return r.frames[i], true
	}
	return Frame{}, false
}

// ageOut drops every frame with id <= cutoff (a frame aged exactly the cap is
// evicted) and returns how many were dropped.
func (r *ring) ageOut(cutoff int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := sort.Search(len(r.frames), func(i int) bool { return r.frames[i].ID > cutoff })
	if i == 0 {
		return 0
	}
	r.frames = append([]Frame(nil), r.frames[i:]...)
	return i
}

func (r *ring) size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.frames)
}
