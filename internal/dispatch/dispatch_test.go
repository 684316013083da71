package dispatch

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/falcon/internal/access"
	"github.com/technosupport/falcon/internal/data"
	"github.com/technosupport/falcon/internal/detbuf"
	"github.com/technosupport/falcon/internal/fanout"
	"github.com/technosupport/falcon/internal/framebus"
	"github.com/technosupport/falcon/internal/pipeline"
	"github.com/technosupport/falcon/internal/protocol"
	"github.com/technosupport/falcon/internal/relay"
	"github.com/technosupport/falcon/internal/transform"
	"github.com/technosupport/falcon/internal/zones"
)

var testZoneNames = [protocol.ZoneCount]string{
	"TWY_A", "TWY_B", "TWY_C", "TWY_D", "RWY_A", "RWY_B", "GRASS_A", "GRASS_B",
}

type testEnv struct {
	d           *Dispatcher
	mock        sqlmock.Sqlmock
	accessCache *access.Cache
	videoRelay  *relay.Relay

	controllerHub *fanout.Hub
	inferenceHub  *fanout.Hub
	controlAddr   string
	inferAddr     string
}

func newTestEnv(t *testing.T, commandTimeout time.Duration) *testEnv {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	// Interaction-log writes run on their own goroutines and are tolerated to
	// fail; unordered matching keeps them from stealing expectations.
	mock.MatchExpectationsInOrder(false)
	mock.ExpectQuery("SELECT COALESCE").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(0))
	mock.ExpectQuery("SELECT id, prev_level").
		WillReturnRows(sqlmock.NewRows([]string{"id", "prev_level", "level", "changed_at"}))

	models := data.NewModels(db)
	frames := framebus.New(framebus.Config{})
	detections := detbuf.New(200 * time.Millisecond)
	transformer := transform.New(transform.Config{}, nil)
	accessCache := access.NewCache()
	zoneMgr := zones.NewManager(zones.Config{ClearAfter: 2 * time.Second}, testZoneNames, nil)
	images, err := data.NewImageStore(t.TempDir())
	require.NoError(t, err)
	videoRelay, err := relay.New(relay.Config{})
	require.NoError(t, err)

	var d *Dispatcher
	controllerHub := fanout.NewHub(fanout.Config{
		Name:         "control",
		OnLine:       func(s *fanout.Session, l []byte) { d.OnControllerLine(s, l) },
		OnDisconnect: func(s *fanout.Session) { d.OnControllerDisconnect(s) },
	})
	inferenceHub := fanout.NewHub(fanout.Config{
		Name:         "inference",
		OnConnect:    func(s *fanout.Session) { d.OnInferenceConnect(s) },
		OnLine:       func(s *fanout.Session, l []byte) { d.OnInferenceLine(s, l) },
		OnDisconnect: func(s *fanout.Session) { d.OnInferenceDisconnect(s) },
	})
	pilotHub := fanout.NewHub(fanout.Config{
		Name:   "pilot",
		OnLine: func(s *fanout.Session, l []byte) { d.OnPilotLine(s, l) },
	})

	pipe, err := pipeline.New(pipeline.Config{}, frames, detections, transformer,
		accessCache, zoneMgr, models, images, controllerHub)
	require.NoError(t, err)

	d = New(Config{
		Cameras:        []string{"A", "B"},
		CommandTimeout: commandTimeout,
	}, videoRelay, zoneMgr, accessCache, transformer, models, images, pipe)
	d.SetHubs(controllerHub, pilotHub)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	controlLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	inferLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go controllerHub.Serve(ctx, controlLn)
	go inferenceHub.Serve(ctx, inferLn)

	return &testEnv{
		d:             d,
		mock:          mock,
		accessCache:   accessCache,
		videoRelay:    videoRelay,
		controllerHub: controllerHub,
		inferenceHub:  inferenceHub,
		controlAddr:   controlLn.Addr().String(),
		inferAddr:     inferLn.Addr().String(),
	}
}

func dialAndWait(t *testing.T, addr string, h *fanout.Hub, want int) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.Count() == want {
			return conn
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("hub never reached %d sessions (have %d)", want, h.Count())
	return nil
}

func readLine(t *testing.T, r *bufio.Reader, conn net.Conn) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	return line
}

const (
	calibrationA = `{"type":"event","event":"map_calibration","camera_id":"A","matrix":[[1,0,0],[0,1,0],[0,0,1]],"scale":1.0}` + "\n"
	calibrationB = `{"type":"event","event":"map_calibration","camera_id":"B","matrix":[[1,0,0],[0,1,0],[0,0,1]],"scale":1.0}` + "\n"
	modeObjectOK = `{"type":"response","command":"set_mode_object","result":"ok"}` + "\n"
)

func TestInferenceLifecycle(t *testing.T) {
	env := newTestEnv(t, 5*time.Second)

	control := dialAndWait(t, env.controlAddr, env.controllerHub, 1)
	controlR := bufio.NewReader(control)

	worker := dialAndWait(t, env.inferAddr, env.inferenceHub, 1)
	workerR := bufio.NewReader(worker)

	// One calibrated camera is not enough to leave Calibrating.
	_, err := worker.Write([]byte(calibrationA))
	require.NoError(t, err)
	worker.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, err = workerR.ReadString('\n')
	assert.Error(t, err, "no mode switch before every camera is calibrated")

	_, err = worker.Write([]byte(calibrationB))
	require.NoError(t, err)
	cmd := readLine(t, workerR, worker)
	assert.Contains(t, cmd, protocol.CommandSetModeObject)

	_, err = worker.Write([]byte(modeObjectOK))
	require.NoError(t, err)

	// The worker ack reaches the controllers as ME_MC.
	assert.Equal(t, "ME_MC\n", readLine(t, controlR, control))
}

func TestInferenceAckTimeoutClosesWorker(t *testing.T) {
	env := newTestEnv(t, 150*time.Millisecond)

	worker := dialAndWait(t, env.inferAddr, env.inferenceHub, 1)
	workerR := bufio.NewReader(worker)

	_, err := worker.Write([]byte(calibrationA))
	require.NoError(t, err)
	_, err = worker.Write([]byte(calibrationB))
	require.NoError(t, err)
	readLine(t, workerR, worker)

	// Never acknowledge; the server hangs up so the worker recalibrates.
	worker.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = workerR.ReadString('\n')
	assert.Error(t, err, "unacknowledged mode switch closes the session")
}

func TestWorkerReconnectRestartsCalibration(t *testing.T) {
	env := newTestEnv(t, 5*time.Second)

	first := dialAndWait(t, env.inferAddr, env.inferenceHub, 1)
	_, err := first.Write([]byte(calibrationA))
	require.NoError(t, err)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		env.d.workerMu.Lock()
		done := env.d.calibrated["A"]
		env.d.workerMu.Unlock()
		if done {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	// A replacement worker bumps the old session and starts fresh; camera A's
	// earlier calibration does not carry over.
	second, err := net.Dial("tcp", env.inferAddr)
	require.NoError(t, err)
	defer second.Close()
	secondR := bufio.NewReader(second)

	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		env.d.workerMu.Lock()
		replaced := env.d.worker != nil && env.d.state == stateCalibrating && len(env.d.calibrated) == 0
		env.d.workerMu.Unlock()
		if replaced {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	_, err = second.Write([]byte(calibrationB))
	require.NoError(t, err)
	second.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, err = secondR.ReadString('\n')
	assert.Error(t, err, "camera A still uncalibrated after the reconnect")

	_, err = second.Write([]byte(calibrationA))
	require.NoError(t, err)
	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	cmd, err := secondR.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, cmd, protocol.CommandSetModeObject)
}

func TestVideoToggleSwitchesCameras(t *testing.T) {
	env := newTestEnv(t, 5*time.Second)

	control := dialAndWait(t, env.controlAddr, env.controllerHub, 1)
	controlR := bufio.NewReader(control)
	remote := control.LocalAddr().String()

	_, err := control.Write([]byte("MC_CA:1\n"))
	require.NoError(t, err)
	assert.Equal(t, "MR_CA:OK\n", readLine(t, controlR, control))
	assert.True(t, env.videoRelay.Subscribed(remote, "A"))

	// Switching to camera B drops camera A.
	_, err = control.Write([]byte("MC_CB:1\n"))
	require.NoError(t, err)
	assert.Equal(t, "MR_CB:OK\n", readLine(t, controlR, control))
	assert.True(t, env.videoRelay.Subscribed(remote, "B"))
	assert.False(t, env.videoRelay.Subscribed(remote, "A"), "camera A toggled off by MC_CB")

	_, err = control.Write([]byte("MC_CB:0\n"))
	require.NoError(t, err)
	assert.Equal(t, "MR_CB:OK\n", readLine(t, controlR, control))
	assert.False(t, env.videoRelay.Subscribed(remote, "B"))
}

func TestAccessUpdateRejectedLeavesCache(t *testing.T) {
	env := newTestEnv(t, 5*time.Second)

	control := dialAndWait(t, env.controlAddr, env.controllerHub, 1)
	controlR := bufio.NewReader(control)

	before := env.accessCache.Levels()
	_, err := control.Write([]byte("AC_UA:1,2,9,1,2,3,1,2\n"))
	require.NoError(t, err)
	assert.Equal(t, "AH_UA:ERROR\n", readLine(t, controlR, control))
	assert.Equal(t, before, env.accessCache.Levels(), "rejected update leaves the cache unchanged")
}

func TestAccessUpdatePersistsAndBroadcasts(t *testing.T) {
	env := newTestEnv(t, 5*time.Second)

	control := dialAndWait(t, env.controlAddr, env.controllerHub, 1)
	controlR := bufio.NewReader(control)

	env.mock.ExpectBegin()
	for i := 1; i <= protocol.ZoneCount; i++ {
		env.mock.ExpectExec("INSERT INTO access_conditions").
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	env.mock.ExpectCommit()

	_, err := control.Write([]byte("AC_UA:1,1,1,1,1,1,1,1\n"))
	require.NoError(t, err)
	assert.Equal(t, "AH_UA:OK\n", readLine(t, controlR, control))
	assert.Equal(t, "AH_AC:1,1,1,1,1,1,1,1\n", readLine(t, controlR, control))
	assert.Equal(t, protocol.AuthorityOpen, env.accessCache.Level(5))
}

func TestObjectDetailErrorCodes(t *testing.T) {
	env := newTestEnv(t, 5*time.Second)

	control := dialAndWait(t, env.controlAddr, env.controllerHub, 1)
	controlR := bufio.NewReader(control)

	_, err := control.Write([]byte("MC_OD:abc\n"))
	require.NoError(t, err)
	assert.Equal(t, "MR_OD:ERR,1\n", readLine(t, controlR, control))

	env.mock.ExpectQuery("SELECT e.object_id").
		WillReturnRows(sqlmock.NewRows([]string{"object_id"}))
	_, err = control.Write([]byte("MC_OD:77\n"))
	require.NoError(t, err)
	assert.Equal(t, "MR_OD:ERR,3\n", readLine(t, controlR, control))
}
