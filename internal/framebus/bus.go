package framebus

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/technosupport/falcon/internal/metrics"
)

// Bus ingests raw camera frames from the IDS UDP port and buffers them per
// camera. Datagram layout: `{camera_id}:{frame_id}:{jpeg_bytes}` with an ASCII
// header up to the second colon.
type Bus struct {
	bufferSize int           // frames kept per camera
	ageCap     time.Duration // frames older than this are evicted
	readBuf    int

	mu      sync.RWMutex
	cameras map[string]*ring

	watchMu  sync.Mutex
	watchers []chan Frame
}

type Config struct {
	BufferSize int
	AgeCap     time.Duration
	ReadBuffer int
}

func New(cfg Config) *Bus {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 60
	}
	if cfg.AgeCap <= 0 {
		cfg.AgeCap = 2 * time.Second
	}
	if cfg.ReadBuffer <= 0 {
		cfg.ReadBuffer = 131072
	}
	return &Bus{
		bufferSize: cfg.BufferSize,
		ageCap:     cfg.AgeCap,
		readBuf:    cfg.ReadBuffer,
		cameras:    make(map[string]*ring),
	}
}

// Serve reads datagrams until ctx is cancelled. Malformed datagrams are
// counted and dropped; no error escapes the loop except a closed socket.
func (b *Bus) Serve(ctx context.Context, conn *net.UDPConn) error {
	if err := conn.SetReadBuffer(b.readBuf); err != nil {
		log.Printf("[WARNING] Frame bus: set read buffer: %v", err)
	}

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, b.readBuf)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("frame bus read: %w", err)
		}

		frame, err := parseDatagram(buf[:n])
		if err != nil {
			metrics.FramesDroppedTotal.WithLabelValues("malformed").Inc()
			continue
		}
		b.Put(frame)
	}
}

// parseDatagram splits the ASCII header from the JPEG payload. The payload is
// copied because the read buffer is reused.
func parseDatagram(data []byte) (Frame, error) {
	sep1 := bytes.IndexByte(data, ':')
	if sep1 <= 0 {
		return Frame{}, fmt.Errorf("missing camera separator")
	}
	sep2 := bytes.IndexByte(data[sep1+1:], ':')
	if sep2 < 0 {
		return Frame{}, fmt.Errorf("missing frame-id separator")
	}
	sep2 += sep1 + 1

	id, err := strconv.ParseInt(string(data[sep1+1:sep2]), 10, 64)
	if err != nil {
		return Frame{}, fmt.Errorf("frame id: %w", err)
	}
	if sep2+1 >= len(data) {
		return Frame{}, fmt.Errorf("empty payload")
	}

	jpeg := make([]byte, len(data)-sep2-1)
	copy(jpeg, data[sep2+1:])
	return Frame{Camera: string(data[:sep1]), ID: id, JPEG: jpeg}, nil
}

// Put inserts a frame, enforcing the duplicate guard and the age cap.
func (b *Bus) Put(f Frame) {
	r := b.cameraRing(f.Camera)
	if !r.insert(f) {
		metrics.FramesDroppedTotal.WithLabelValues("duplicate").Inc()
		return
	}
	metrics.FramesReceivedTotal.WithLabelValues(f.Camera).Inc()

	// Frame ids are nanosecond timestamps, so the age cap is a cutoff id.
	cutoff := f.ID - b.ageCap.Nanoseconds()
	if evicted := r.ageOut(cutoff); evicted > 0 {
		metrics.FramesDroppedTotal.WithLabelValues("stale").Add(float64(evicted))
	}

	b.notify(f)
}

func (b *Bus) cameraRing(camera string) *ring {
	b.mu.RLock()
	r, ok := b.cameras[camera]
	b.mu.RUnlock()
	if ok {
		return r
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if r, ok = b.cameras[camera]; ok {
		return r
	}
	r = newRing(b.bufferSize)
	b.cameras[camera] = r
	return r
}

// Latest returns the newest frame for a camera.
func (b *Bus) Latest(camera string) (Frame, bool) {
	b.mu.RLock()
	r, ok := b.cameras[camera]
	b.mu.RUnlock()
	if !ok {
		return Frame{}, false
	}
	return r.latest()
}

// Get returns the frame with the exact id, used by the pipeline to crop
// first-detection images.
func (b *Bus) Get(camera string, id int64) (Frame, bool) {
	b.mu.RLock()
	r, ok := b.cameras[camera]
	b.mu.RUnlock()
	if !ok {
		return Frame{}, false
	}
	return r.get(id)
}

// AgeOut evicts frames older than the cutoff id across all cameras.
func (b *Bus) AgeOut(cutoff int64) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, r := range b.cameras {
		if evicted := r.ageOut(cutoff); evicted > 0 {
			metrics.FramesDroppedTotal.WithLabelValues("stale").Add(float64(evicted))
		}
	}
}

// Watch registers a frame listener. Delivery is best-effort: when the
// listener's channel is full the frame is skipped, never blocking ingestion.
func (b *Bus) Watch(buffer int) (<-chan Frame, func()) {
	ch := make(chan Frame, buffer)
	b.watchMu.Lock()
	b.watchers = append(b.watchers, ch)
	b.watchMu.Unlock()

	cancel := func() {
		b.watchMu.Lock()
		defer b.watchMu.Unlock()
		for i, w := range b.watchers {
			if w == ch {
				b.watchers = append(b.watchers[:i], b.watchers[i+1:]...)
				break
			}
		}
	}
	return ch, cancel
}

func (b *Bus) notify(f Frame) {
	b.watchMu.Lock()
	defer b.watchMu.Unlock()
	for _, w := range b.watchers {
		select {
		case w <- f:
		default:
		}
	}
}

// BufferedFrames reports the current frame count for a camera (health surface).
func (b *Bus) BufferedFrames(camera string) int {
	b.mu.RLock()
	r, ok := b.cameras[camera]
	b.mu.RUnlock()
	if !ok {
		return 0
	}
	return r.size()
}
