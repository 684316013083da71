package fanout

import (
	"bufio"
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T, cfg Config) (*Hub, string, context.CancelFunc) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	h := NewHub(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	go h.Serve(ctx, ln)
	t.Cleanup(cancel)
	return h, ln.Addr().String(), cancel
}

func waitForSessions(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.Count() == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("hub never reached %d sessions (have %d)", n, h.Count())
}

func TestHubBroadcast(t *testing.T) {
	h, addr, _ := startHub(t, Config{Name: "test"})

	c1, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer c1.Close()
	c2, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer c2.Close()
	waitForSessions(t, h, 2)

	h.Broadcast([]byte("ME_BR:1\n"))

	for _, c := range []net.Conn{c1, c2} {
		c.SetReadDeadline(time.Now().Add(2 * time.Second))
		line, err := bufio.NewReader(c).ReadString('\n')
		require.NoError(t, err)
		assert.Equal(t, "ME_BR:1\n", line)
	}
}

func TestHubLineHandler(t *testing.T) {
	var mu sync.Mutex
	var lines []string
	h, addr, _ := startHub(t, Config{
		Name: "test",
		OnLine: func(s *Session, line []byte) {
			mu.Lock()
			lines = append(lines, string(line))
			mu.Unlock()
			s.Send([]byte("MR_CA:OK\n"))
		},
	})

	c, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer c.Close()
	waitForSessions(t, h, 1)

	_, err = c.Write([]byte("MC_CA:1\n"))
	require.NoError(t, err)

	c.SetReadDeadline(time.Now().Add(2 * time.Second))
	reply, err := bufio.NewReader(c).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "MR_CA:OK\n", reply)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, lines, 1)
	assert.Equal(t, "MC_CA:1", lines[0])
}

func TestEachVisitsConnectedSessions(t *testing.T) {
	h, addr, _ := startHub(t, Config{Name: "test"})

	c1, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer c1.Close()
	c2, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer c2.Close()
	waitForSessions(t, h, 2)

	var remotes []string
	h.Each(func(s *Session) { remotes = append(remotes, s.RemoteAddr()) })
	assert.Len(t, remotes, 2)
	assert.Contains(t, remotes, c1.LocalAddr().String())
	assert.Contains(t, remotes, c2.LocalAddr().String())
}

func TestSessionQueueOverflowClosesSession(t *testing.T) {
	h, addr, _ := startHub(t, Config{Name: "test", QueueDepth: 2})

	// Client that never reads.
	c, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer c.Close()
	waitForSessions(t, h, 1)

	// Flood until the per-session queue overflows.
	payload := make([]byte, 32*1024)
	for i := 0; i < 64; i++ {
		h.Broadcast(payload)
	}
	waitForSessions(t, h, 0)
}

func TestHubDisconnectCallback(t *testing.T) {
	done := make(chan struct{})
	h, addr, _ := startHub(t, Config{
		Name:         "test",
		OnDisconnect: func(*Session) { close(done) },
	})

	c, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	waitForSessions(t, h, 1)
	c.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect callback never fired")
	}
}
