package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testAreas = []Area{
	{ID: 1, Name: "TWY_A", X1: 0.00, Y1: 0.22, X2: 0.19, Y2: 0.52},
	{ID: 5, Name: "RWY_A", X1: 0.00, Y1: 0.00, X2: 1.00, Y2: 0.22},
	{ID: 6, Name: "RWY_B", X1: 0.00, Y1: 0.52, X2: 1.00, Y2: 0.70},
}

func TestApplyIdentityFallback(t *testing.T) {
	tr := New(Config{}, testAreas)

	// No calibration: pixel position over frame size.
	p := tr.Apply("CCTV_A", 480, 72, 960, 720)
	assert.InDelta(t, 0.5, p.NormX, 1e-9)
	assert.InDelta(t, 0.1, p.NormY, 1e-9)
	assert.InDelta(t, 480, p.MapX, 1e-9)
	assert.InDelta(t, 72, p.MapY, 1e-9)
	assert.Equal(t, 5, p.AreaID, "lands on RWY_A")
}

func TestApplyWithHomography(t *testing.T) {
	tr := New(Config{}, testAreas)

	// Pure scaling homography: world = 2 * pixel, scale brings it to mm.
	ok := tr.SetCalibration("CCTV_A", [3][3]float64{{2, 0, 0}, {0, 2, 0}, {0, 0, 1}}, 1)
	require.True(t, ok)
	require.True(t, tr.Calibrated("CCTV_A"))

	p := tr.Apply("CCTV_A", 450, 67.5, 960, 720)
	// (450,67.5) -> (900,135) mm -> (0.5, 0.1) normalized.
	assert.InDelta(t, 0.5, p.NormX, 1e-9)
	assert.InDelta(t, 0.1, p.NormY, 1e-9)
	assert.Equal(t, 5, p.AreaID)
}

func TestApplyPerspectiveDivide(t *testing.T) {
	tr := New(Config{}, testAreas)
	// Bottom row scales w by 2: effective world point is halved.
	ok := tr.SetCalibration("CCTV_A", [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 2}}, 1)
	require.True(t, ok)

	p := tr.Apply("CCTV_A", 1800, 1350, 960, 720)
	assert.InDelta(t, 0.5, p.NormX, 1e-9)
	assert.InDelta(t, 0.5, p.NormY, 1e-9)
}

func TestSetCalibrationRejectsSingular(t *testing.T) {
	tr := New(Config{}, testAreas)
	ok := tr.SetCalibration("CCTV_A", [3][3]float64{{1, 2, 3}, {2, 4, 6}, {0, 0, 1}}, 1)
	assert.False(t, ok)
	assert.False(t, tr.Calibrated("CCTV_A"))
}

func TestClearCalibrations(t *testing.T) {
	tr := New(Config{}, testAreas)
	require.True(t, tr.SetCalibration("CCTV_A", [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}, 1))
	tr.ClearCalibrations()
	assert.False(t, tr.Calibrated("CCTV_A"))
}

func TestLookupArea(t *testing.T) {
	tr := New(Config{}, testAreas)

	area, ok := tr.LookupArea(0.1, 0.3)
	require.True(t, ok)
	assert.Equal(t, "TWY_A", area.Name)

	_, ok = tr.LookupArea(0.5, 0.9)
	assert.False(t, ok, "outside every area")

	assert.Equal(t, "RWY_B", tr.AreaName(6))
	assert.Equal(t, "UNKNOWN", tr.AreaName(99))
}
