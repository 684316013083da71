package relay

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/technosupport/falcon/internal/framebus"
	"github.com/technosupport/falcon/internal/metrics"
)

// Relay forwards live camera frames over UDP to subscribed display clients as
// `{camera_id}:{jpeg_bytes}` datagrams. Subscriptions are keyed by the
// client's TCP address paired with a camera; frames go to the client's host on
// the fixed video port.
type Relay struct {
	conn       *net.UDPConn
	clientPort int
	queueDepth int

	mu   sync.Mutex
	subs map[subKey]*subscriber
}

type subKey struct {
	host   string
	camera string
}

type subscriber struct {
	addr  *net.UDPAddr
	queue chan framebus.Frame
	done  chan struct{}
}

type Config struct {
	ClientPort int // UDP port clients listen on, default 4100
	QueueDepth int // per-subscriber frame queue, default 5
}

func New(cfg Config) (*Relay, error) {
	if cfg.ClientPort <= 0 {
		cfg.ClientPort = 4100
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 5
	}
	conn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		return nil, fmt.Errorf("relay socket: %w", err)
	}
	return &Relay{
		conn:       conn,
		clientPort: cfg.ClientPort,
		queueDepth: cfg.QueueDepth,
		subs:       make(map[subKey]*subscriber),
	}, nil
}

// Subscribe starts frame delivery of one camera to the client host. The host
// is taken from the client's TCP remote address.
func (r *Relay) Subscribe(remoteAddr, camera string) error {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, fmt.Sprint(r.clientPort)))
	if err != nil {
		return fmt.Errorf("relay target %s: %w", host, err)
	}

	key := subKey{host: host, camera: camera}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[key]; ok {
		return nil
	}
	sub := &subscriber{
		addr:  addr,
		queue: make(chan framebus.Frame, r.queueDepth),
		done:  make(chan struct{}),
	}
	r.subs[key] = sub
	go r.sendLoop(sub)
	log.Printf("[INFO] Relay: %s subscribed to camera %s", host, camera)
	return nil
}

// Unsubscribe stops delivery of one camera to the client host.
func (r *Relay) Unsubscribe(remoteAddr, camera string) {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	key := subKey{host: host, camera: camera}
	r.mu.Lock()
	sub, ok := r.subs[key]
	if ok {
		delete(r.subs, key)
	}
	r.mu.Unlock()
	if ok {
		close(sub.done)
		log.Printf("[INFO] Relay: %s unsubscribed from camera %s", host, camera)
	}
}

// Subscribed reports whether the client host currently receives a camera.
func (r *Relay) Subscribed(remoteAddr, camera string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.subs[subKey{host: host, camera: camera}]
	return ok
}

// SetQueueDepth applies a reloaded queue depth to future subscriptions.
func (r *Relay) SetQueueDepth(depth int) {
	if depth <= 0 {
		return
	}
	r.mu.Lock()
	r.queueDepth = depth
	r.mu.Unlock()
}

// UnsubscribeAll drops every subscription of the client host, used when its
// control session disconnects.
func (r *Relay) UnsubscribeAll(remoteAddr string) {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	r.mu.Lock()
	var dropped []*subscriber
	for key, sub := range r.subs {
		if key.host == host {
			delete(r.subs, key)
			dropped = append(dropped, sub)
		}
	}
	r.mu.Unlock()
	for _, sub := range dropped {
		close(sub.done)
	}
}

// Run consumes the frame stream until ctx is cancelled. Frame queues drop the
// oldest frame on overflow so subscribers always converge on live video.
func (r *Relay) Run(ctx context.Context, frames <-chan framebus.Frame) {
	defer r.conn.Close()
	for {
		select {
		case <-ctx.Done():
			r.mu.Lock()
			for key, sub := range r.subs {
				delete(r.subs, key)
				close(sub.done)
			}
			r.mu.Unlock()
			return
		case f := <-frames:
			r.dispatch(f)
		}
	}
}

func (r *Relay) dispatch(f framebus.Frame) {
	r.mu.Lock()
	var targets []*subscriber
	for key, sub := range r.subs {
		if key.camera == f.Camera {
			targets = append(targets, sub)
		}
	}
	r.mu.Unlock()

	for _, sub := range targets {
		for {
			select {
			case sub.queue <- f:
			default:
				select {
				case <-sub.queue:
					metrics.RelayDatagramsTotal.WithLabelValues("dropped").Inc()
				default:
				}
				continue
			}
			break
		}
	}
}

func (r *Relay) sendLoop(sub *subscriber) {
	for {
		select {
		case <-sub.done:
			return
		case f := <-sub.queue:
			datagram := make([]byte, 0, len(f.Camera)+1+len(f.JPEG))
			datagram = append(datagram, f.Camera...)
			datagram = append(datagram, ':')
			datagram = append(datagram, f.JPEG...)

			r.conn.SetWriteDeadline(time.Now().Add(time.Second))
			if _, err := r.conn.WriteToUDP(datagram, sub.addr); err != nil {
				metrics.RelayDatagramsTotal.WithLabelValues("error").Inc()
				log.Printf("[WARNING] Relay: send to %s: %v", sub.addr, err)
				continue
			}
			metrics.RelayDatagramsTotal.WithLabelValues("sent").Inc()
		}
	}
}
