package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/inertial_stylus/internal/config"
	"github.com/relabs-tech/inertial_stylus/internal/imu"
	"github.com/relabs-tech/inertial_stylus/internal/orientation"
	"github.com/relabs-tech/inertial_stylus/internal/pipeline"
	"github.com/relabs-tech/inertial_stylus/internal/target"
	"github.com/relabs-tech/inertial_stylus/internal/transport"
)

func formatPose(p orientation.Pose) string {
	s := fmt.Sprintf("[POSE] ROLL=%7.2f  PITCH=%7.2f  YAW=%7.2f", p.Roll, p.Pitch, p.Yaw)
	if p.GyroOnly {
		s += "  (gyro only)"
	}
	return s
}

func formatTelemetry(t imu.Telemetry, r target.Report) string {
	return fmt.Sprintf("[TELE] %s  charge=%d pwr_in=%d boot=%d pwr=%d r_vcc=%d",
		r, t.Charge, t.PowerIn, t.BootButton, t.PowerButton, t.ResistorVoltage)
}

func formatRaw(s imu.IMURaw) string {
	return fmt.Sprintf("[IMU ] ax=%6d ay=%6d az=%6d  gx=%6d gy=%6d gz=%6d",
		s.Ax, s.Ay, s.Az, s.Gx, s.Gy, s.Gz)
}

// RunConsoleMQTT prints every pose, telemetry and raw message until ctx is
// cancelled.
func RunConsoleMQTT(ctx context.Context, cfg *config.Config) error {
	client, err := connectMQTT(cfg.MQTT.Broker, cfg.MQTT.ClientIDConsole)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	if err := subscribe(client, cfg.Topics.Pose, func(payload []byte) {
		var m PoseMessage
		if err := json.Unmarshal(payload, &m); err != nil {
			log.Warnf("console: pose unmarshal error: %v", err)
			return
		}
		fmt.Println(formatPose(m.Pose))
	}); err != nil {
		return err
	}

	if err := subscribe(client, cfg.Topics.Telemetry, func(payload []byte) {
		var m TelemetryMessage
		if err := json.Unmarshal(payload, &m); err != nil {
			log.Warnf("console: telemetry unmarshal error: %v", err)
			return
		}
		fmt.Println(formatTelemetry(m.Telemetry, m.Report))
	}); err != nil {
		return err
	}

	if err := subscribe(client, cfg.Topics.IMU, func(payload []byte) {
		var s imu.IMURaw
		if err := json.Unmarshal(payload, &s); err != nil {
			log.Warnf("console: imu unmarshal error: %v", err)
			return
		}
		fmt.Println(formatRaw(s))
	}); err != nil {
		return err
	}

	<-ctx.Done()
	log.Info("console: shutting down")
	return nil
}

// RunMockConsole runs the pipeline on synthetic frames without a broker and
// prints the pose at the console interval.
func RunMockConsole(ctx context.Context, cfg *config.Config) error {
	pipe, err := newPipeline(cfg)
	if err != nil {
		return err
	}
	src := transport.NewMockSource(cfg.MockSource())
	defer src.Close()

	return consoleLoop(ctx, os.Stdout, pipe, src, cfg.Targets, cfg.ConsoleInterval())
}

func consoleLoop(ctx context.Context, w io.Writer, pipe *pipeline.Pipeline, src transport.Source, tg target.Targets, every time.Duration) error {
	var lastPrint time.Time
	for {
		buf, err := src.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		r, err := pipe.Process(buf)
		if err != nil {
			log.Warnf("console: %v", err)
			continue
		}
		if r.Time.Sub(lastPrint) < every {
			continue
		}
		lastPrint = r.Time
		fmt.Fprintln(w, formatPose(r.Pose))
		fmt.Fprintln(w, formatTelemetry(r.Telemetry, target.Check(r.Telemetry, tg)))
	}
}
