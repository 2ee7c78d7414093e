package calibration

import (
	"context"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/inertial_stylus/internal/imu"
	"github.com/relabs-tech/inertial_stylus/internal/sensors"
	"github.com/relabs-tech/inertial_stylus/internal/transport"
)

func mappers(t *testing.T) (*sensors.Mapper, *sensors.Mapper) {
	t.Helper()
	a, err := sensors.NewMapper(sensors.DefaultAccelRange())
	require.NoError(t, err)
	g, err := sensors.NewMapper(sensors.DefaultGyroRange())
	require.NoError(t, err)
	return a, g
}

func TestCaptureStillDevice(t *testing.T) {
	t.Parallel()

	var lines strings.Builder
	lines.WriteString("NTF>00\n") // too short, skipped
	for i := 0; i < 50; i++ {
		f := imu.Frame{
			Accel: imu.Triple{Z: 2048},
			Gyro:  imu.Triple{X: 16, Y: -8, Z: int16(4 + i%2)},
		}
		lines.WriteString("NTF>" + hex.EncodeToString(imu.Encode(f)) + "\n")
	}
	src := transport.NewLineSource("test", io.NopCloser(strings.NewReader(lines.String())))

	accel, gyro := mappers(t)
	res, err := Capture(context.Background(), "pen", src, accel, gyro, 50)
	require.NoError(t, err)

	perCount := 2000.0 / 32768
	assert.Equal(t, 50, res.GyroStats.Samples)
	assert.InDelta(t, 16*perCount, res.GyroBias.X, 1e-9)
	assert.InDelta(t, -8*perCount, res.GyroBias.Y, 1e-9)
	assert.InDelta(t, 4.5*perCount, res.GyroBias.Z, 1e-9)
	assert.InDelta(t, 0.5*perCount, res.GyroStats.StdDev.Z, 1e-9)
	assert.Equal(t, 1.0, res.Confidence.GyroStatic)
	assert.Equal(t, 1.0, res.Confidence.Gravity)
	assert.InDelta(t, 1.0, res.Confidence.Overall, 1e-12)
	assert.Contains(t, res.Notes, "skipped 1 undecodable frames")
}

func TestCaptureFailsOnShortStream(t *testing.T) {
	t.Parallel()

	src := transport.NewLineSource("test", io.NopCloser(strings.NewReader("")))
	accel, gyro := mappers(t)
	_, err := Capture(context.Background(), "pen", src, accel, gyro, 10)
	assert.ErrorIs(t, err, io.EOF)

	_, err = Capture(context.Background(), "pen", src, accel, gyro, 1)
	assert.Error(t, err)
}

func TestStillnessConfidence(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1.0, StillnessConfidence(sensors.Vector{X: 0.1, Y: 0.1, Z: 0.1}))
	assert.Equal(t, confFloor, StillnessConfidence(sensors.Vector{X: 5, Y: 5, Z: 5}))

	mid := StillnessConfidence(sensors.Vector{X: 0.6, Y: 0.6, Z: 0.6})
	assert.Greater(t, mid, confFloor)
	assert.Less(t, mid, 1.0)
}

func TestComputeFlagsMotion(t *testing.T) {
	t.Parallel()

	gyros := []sensors.Vector{{X: -20}, {X: 20}, {X: -20}, {X: 20}}
	accels := []sensors.Vector{{Z: 0.5}, {Z: 0.5}, {Z: 0.5}, {Z: 0.5}}

	res := Compute("pen", accels, gyros, time.Second)
	assert.InDelta(t, 0.0, res.GyroBias.X, 1e-12)
	assert.Equal(t, confFloor, res.Confidence.GyroStatic)
	assert.Equal(t, confFloor, res.Confidence.Gravity)
	assert.Len(t, res.Notes, 2)
}

func TestComputeAccelBiasAgainstRestGravity(t *testing.T) {
	t.Parallel()

	accels := []sensors.Vector{{X: 0.1, Y: -0.05, Z: 1.0}, {X: 0.1, Y: -0.05, Z: 1.0}}
	gyros := []sensors.Vector{{X: 1}, {X: 1}}

	res := Compute("pen", accels, gyros, time.Second)
	assert.InDelta(t, 0.1, res.AccelBias.X, 1e-12)
	assert.InDelta(t, -0.05, res.AccelBias.Y, 1e-12)
	assert.InDelta(t, 0.0, res.AccelBias.Z, 1e-12)
	assert.Equal(t, sensors.Vector{X: 1}, res.GyroBias)

	tilted := Compute("pen", []sensors.Vector{{Z: 0.98}, {Z: 0.98}}, gyros, time.Second)
	assert.InDelta(t, -0.02, tilted.AccelBias.Z, 1e-12)
}

func TestComputeStatsEmpty(t *testing.T) {
	t.Parallel()

	st := ComputeStats(nil, 2*time.Second)
	assert.Zero(t, st.Samples)
	assert.Equal(t, 2.0, st.DurationSec)
}

func TestSaveLoad(t *testing.T) {
	t.Parallel()

	res := Compute("pen",
		[]sensors.Vector{{X: 0.125, Z: 1}, {X: 0.125, Z: 1}},
		[]sensors.Vector{{X: 0.25, Y: -0.5, Z: 1}, {X: 0.25, Y: -0.5, Z: 1}},
		time.Second)

	path := filepath.Join(t.TempDir(), "calibration.yaml")
	require.NoError(t, Save(path, res))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, res.GyroBias, got.GyroBias)
	assert.Equal(t, sensors.Vector{X: 0.125}, got.AccelBias)
	assert.Equal(t, res.Confidence, got.Confidence)
	assert.Equal(t, "pen", got.Device)
	assert.True(t, res.CalibratedAt.Equal(got.CalibratedAt))
}

func TestLoadRejectsUnknownSchema(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "calibration.yaml")
	require.NoError(t, os.WriteFile(path, []byte("schema_version: 9\n"), 0o644))

	_, err := Load(path)
	assert.ErrorIs(t, err, ErrSchema)
}
