package app

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"image"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/devices/v3/ssd1306/image1bit"

	"github.com/relabs-tech/inertial_stylus/internal/calibration"
	"github.com/relabs-tech/inertial_stylus/internal/config"
	"github.com/relabs-tech/inertial_stylus/internal/imu"
	"github.com/relabs-tech/inertial_stylus/internal/orientation"
	"github.com/relabs-tech/inertial_stylus/internal/pipeline"
	"github.com/relabs-tech/inertial_stylus/internal/sensors"
	"github.com/relabs-tech/inertial_stylus/internal/target"
	"github.com/relabs-tech/inertial_stylus/internal/transport"
)

type published struct {
	topic   string
	payload []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
}

func (f *fakePublisher) Publish(topic string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.msgs = append(f.msgs, published{topic: topic, payload: b})
	f.mu.Unlock()
	return nil
}

func levelFrame() []byte {
	return imu.Encode(imu.Frame{
		Telemetry: imu.Telemetry{RSSI: -95, BatteryVoltage: 3.9},
		Accel:     imu.Triple{Z: 2048},
	})
}

func TestProducerPublishesAllTopics(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	pipe, err := pipeline.New("pen", cfg.Pipeline())
	require.NoError(t, err)
	pub := &fakePublisher{}
	prod := NewProducer(pipe, pub, cfg.Topics, cfg.Targets)

	frames := make(chan []byte, 3)
	frames <- levelFrame()
	frames <- []byte{1, 2, 3}
	frames <- levelFrame()
	close(frames)

	require.NoError(t, prod.Run(context.Background(), frames))
	assert.Equal(t, uint64(1), prod.Failed())
	require.Len(t, pub.msgs, 6)

	assert.Equal(t, cfg.Topics.Pose, pub.msgs[3].topic)
	var pose PoseMessage
	require.NoError(t, json.Unmarshal(pub.msgs[3].payload, &pose))
	assert.Equal(t, uint64(2), pose.Seq)
	assert.InDelta(t, 0.0, pose.Roll, 1e-9)

	assert.Equal(t, cfg.Topics.Telemetry, pub.msgs[4].topic)
	var tm TelemetryMessage
	require.NoError(t, json.Unmarshal(pub.msgs[4].payload, &tm))
	assert.Equal(t, -95, tm.Telemetry.RSSI)
	assert.Equal(t, target.LevelFail, tm.Report.RSSI.Level)
	assert.False(t, tm.Report.OK)

	assert.Equal(t, cfg.Topics.IMU, pub.msgs[5].topic)
	var raw imu.IMURaw
	require.NoError(t, json.Unmarshal(pub.msgs[5].payload, &raw))
	assert.Equal(t, "pen", raw.Source)
	assert.Equal(t, int16(2048), raw.Az)
}

func TestPoseMessageFlattensPose(t *testing.T) {
	t.Parallel()

	b, err := json.Marshal(PoseMessage{Seq: 3, Pose: orientation.PoseFromQuaternion(orientation.Identity())})
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Contains(t, m, "roll")
	assert.Contains(t, m, "quat")
	assert.EqualValues(t, 3, m["seq"])
}

func TestWebAPIServiceUnavailableUntilData(t *testing.T) {
	t.Parallel()

	srv := NewWebServer("")
	h := srv.Handler()

	for _, path := range []string{"/api/orientation", "/api/telemetry"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
	}

	require.NoError(t, srv.Ingest(KindPose, []byte(`{"roll":1.5,"pitch":0,"yaw":0}`)))
	assert.Error(t, srv.Ingest(KindTelemetry, []byte(`not json`)))
	assert.Error(t, srv.Ingest("gps", []byte(`{}`)))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/orientation", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"roll":1.5,"pitch":0,"yaw":0}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/telemetry", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestWebSocketBroadcast(t *testing.T) {
	t.Parallel()

	srv := NewWebServer("")
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return srv.Hub().Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, srv.Ingest(KindTelemetry, []byte(`{"seq":7}`)))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env Envelope
	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, KindTelemetry, env.Type)
	assert.JSONEq(t, `{"seq":7}`, string(env.Data))

	conn.Close()
	require.Eventually(t, func() bool { return srv.Hub().Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestConsoleLoopPrintsPose(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	pipe, err := pipeline.New("pen", cfg.Pipeline())
	require.NoError(t, err)

	lines := "NTF>" + hexFrame(levelFrame()) + "\n"
	src := transport.NewLineSource("test", io.NopCloser(strings.NewReader(lines)))

	var out bytes.Buffer
	err = consoleLoop(context.Background(), &out, pipe, src, cfg.Targets, time.Millisecond)
	assert.ErrorIs(t, err, io.EOF)
	assert.Contains(t, out.String(), "[POSE] ROLL=   0.00  PITCH=   0.00  YAW=   0.00")
	assert.Contains(t, out.String(), "CHECK DEVICE")
}

func TestDescribeFrame(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	out, err := DescribeFrame("NTF>"+hexFrame(levelFrame()), &cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "rssi        -95 dBm")
	assert.Contains(t, out, "battery     3.900 V")
	assert.Contains(t, out, "accel g       0.0000   0.0000   1.0000")

	_, err = DescribeFrame("NTF>0001", &cfg)
	assert.Error(t, err)
}

func TestRenderStatusLightsPixels(t *testing.T) {
	t.Parallel()

	lit := func(img *image1bit.VerticalLSB) int {
		n := 0
		for _, b := range img.Pix {
			for ; b != 0; b &= b - 1 {
				n++
			}
		}
		return n
	}

	waiting := renderStatus(displaySnapshot{})
	assert.Positive(t, lit(waiting))

	st := &displayState{}
	require.NoError(t, st.setPose([]byte(`{"roll":12.5,"pitch":-3,"yaw":270}`)))
	require.NoError(t, st.setTelemetry([]byte(`{"telemetry":{"battery_v":3.95,"rssi":-60},"report":{"ok":true}}`)))
	assert.Error(t, st.setPose([]byte(`{`)))

	snap := st.snapshot()
	require.True(t, snap.havePose)
	assert.Equal(t, 12.5, snap.pose.Roll)

	full := renderStatus(snap)
	assert.Equal(t, image.Rect(0, 0, displayW, displayH), full.Bounds())
	assert.Greater(t, lit(full), lit(waiting))
}

func hexFrame(b []byte) string {
	return hex.EncodeToString(b)
}

func TestCalibrateWritesGyroBias(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Calibration.Samples = 3

	frame := hexFrame(imu.Encode(imu.Frame{
		Telemetry: imu.Telemetry{BatteryVoltage: 4.0},
		Accel:     imu.Triple{Z: 2048},
		Gyro:      imu.Triple{X: 164, Y: -164},
	}))
	lines := "# bridge up\n" + strings.Repeat("NTF>"+frame+"\n", 3)
	src := transport.NewLineSource("test", io.NopCloser(strings.NewReader(lines)))

	path := filepath.Join(t.TempDir(), "cal.yaml")
	var out bytes.Buffer
	require.NoError(t, calibrate(context.Background(), &cfg, src, strings.NewReader("\n"), &out, path))
	assert.Contains(t, out.String(), "Press ENTER")
	assert.Contains(t, out.String(), "Saved to "+path)

	res, err := calibration.Load(path)
	require.NoError(t, err)
	want := 164 * 2000.0 / 32768
	assert.InDelta(t, want, res.GyroBias.X, 1e-9)
	assert.InDelta(t, -want, res.GyroBias.Y, 1e-9)
	assert.InDelta(t, 0.0, res.GyroBias.Z, 1e-9)
	assert.Equal(t, "pen", res.Device)
}

func TestCalibrateSourceEndsEarly(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	src := transport.NewLineSource("test", io.NopCloser(strings.NewReader("NTF>"+hexFrame(levelFrame())+"\n")))

	err := calibrate(context.Background(), &cfg, src, strings.NewReader(""), io.Discard, filepath.Join(t.TempDir(), "cal.yaml"))
	assert.ErrorIs(t, err, io.EOF)
}

func TestNewPipelineAppliesCalibrationFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "cal.yaml")
	res := calibration.Compute("pen",
		[]sensors.Vector{{X: 0.125, Z: 1}, {X: 0.125, Z: 1}},
		[]sensors.Vector{{Z: 2}, {Z: 2}},
		time.Second)
	require.NoError(t, calibration.Save(path, res))

	cfg := config.Default()
	cfg.Filter.Conditioning = false
	cfg.Calibration.File = path
	pipe, err := newPipeline(&cfg)
	require.NoError(t, err)

	r, err := pipe.ProcessFrame(imu.Frame{Accel: imu.Triple{X: 256, Z: 2048}})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, r.AccelG.X, 1e-9)
	assert.InDelta(t, 1.0, r.AccelG.Z, 1e-9)
	assert.InDelta(t, -2.0, r.GyroDPS.Z, 1e-9)
}
