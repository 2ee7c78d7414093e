// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/inertial_stylus/internal/calibration"
	"github.com/relabs-tech/inertial_stylus/internal/config"
	"github.com/relabs-tech/inertial_stylus/internal/imu"
	"github.com/relabs-tech/inertial_stylus/internal/orientation"
	"github.com/relabs-tech/inertial_stylus/internal/pipeline"
	"github.com/relabs-tech/inertial_stylus/internal/target"
	"github.com/relabs-tech/inertial_stylus/internal/transport"
)

// PoseMessage is published on the pose topic.
type PoseMessage struct {
	Seq  uint64    `json:"seq"`
	Time time.Time `json:"time"`
	orientation.Pose
}

// TelemetryMessage is published on the telemetry topic.
type TelemetryMessage struct {
	Seq       uint64        `json:"seq"`
	Time      time.Time     `json:"time"`
	Telemetry imu.Telemetry `json:"telemetry"`
	Report    target.Report `json:"report"`
}

// Producer turns frames into published readings.
type Producer struct {
	pipe    *pipeline.Pipeline
	pub     Publisher
	topics  config.TopicsOpt
	targets target.Targets
	logger  *log.Entry

	failed uint64
}

// NewProducer wires a pipeline to a publisher.
func NewProducer(pipe *pipeline.Pipeline, pub Publisher, topics config.TopicsOpt, targets target.Targets) *Producer {
	return &Producer{
		pipe:    pipe,
		pub:     pub,
		topics:  topics,
		targets: targets,
		logger:  log.WithField("component", "producer"),
	}
}

// Handle processes one frame and publishes pose, telemetry and raw counts.
func (p *Producer) Handle(buf []byte) (pipeline.Reading, error) {
	r, err := p.pipe.Process(buf)
	if err != nil {
		return pipeline.Reading{}, err
	}

	if err := p.pub.Publish(p.topics.Pose, PoseMessage{Seq: r.Seq, Time: r.Time, Pose: r.Pose}); err != nil {
		return r, err
	}
	tm := TelemetryMessage{
		Seq:       r.Seq,
		Time:      r.Time,
		Telemetry: r.Telemetry,
		Report:    target.Check(r.Telemetry, p.targets),
	}
	if err := p.pub.Publish(p.topics.Telemetry, tm); err != nil {
		return r, err
	}
	if err := p.pub.Publish(p.topics.IMU, r.Raw); err != nil {
		return r, err
	}
	return r, nil
}

// Run handles frames until the channel closes or ctx is done. Per-frame
// failures are logged and skipped.
func (p *Producer) Run(ctx context.Context, frames <-chan []byte) error {
	var last time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case buf, ok := <-frames:
			if !ok {
				return nil
			}
			r, err := p.Handle(buf)
			if err != nil {
				p.failed++
				p.logger.WithField("failed", p.failed).Warnf("frame dropped: %v", err)
				continue
			}
			if !last.IsZero() {
				p.logger.WithFields(log.Fields{
					"seq": r.Seq,
					"gap": r.Time.Sub(last),
				}).Debugf("pose R=%.2f P=%.2f Y=%.2f", r.Pose.Roll, r.Pose.Pitch, r.Pose.Yaw)
			}
			last = r.Time
		}
	}
}

// Failed counts frames that could not be processed or published.
func (p *Producer) Failed() uint64 { return p.failed }

// RunProducer reads the configured source and publishes to MQTT until ctx is
// cancelled.
func RunProducer(ctx context.Context, cfg *config.Config) error {
	log.Infof("starting stylus producer (source=%s, device=%s)", cfg.Source, cfg.Device)

	pipe, err := newPipeline(cfg)
	if err != nil {
		return err
	}

	policy, err := cfg.IngestPolicy()
	if err != nil {
		return err
	}

	src, err := openSource(cfg)
	if err != nil {
		return err
	}

	client, err := connectMQTT(cfg.MQTT.Broker, cfg.MQTT.ClientIDProducer)
	if err != nil {
		src.Close()
		return err
	}
	defer client.Disconnect(250)

	prod := NewProducer(pipe, mqttPublisher{client: client}, cfg.Topics, cfg.Targets)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pump := transport.NewPump(policy)
	pumpErr := make(chan error, 1)
	go func() { pumpErr <- pump.Run(ctx, src) }()

	log.WithField("policy", policy.Name).Info("producer running")
	runErr := prod.Run(ctx, pump.Frames())
	cancel()
	perr := <-pumpErr

	log.WithFields(log.Fields{
		"dropped": pump.Dropped(),
		"failed":  prod.Failed(),
	}).Info("producer stopped")

	if perr != nil && !errors.Is(perr, context.Canceled) {
		return perr
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

// newPipeline builds the frame pipeline and applies a stored calibration.
func newPipeline(cfg *config.Config) (*pipeline.Pipeline, error) {
	pipe, err := pipeline.New(cfg.Device, cfg.Pipeline())
	if err != nil {
		return nil, err
	}
	if cfg.Calibration.File == "" {
		return pipe, nil
	}

	res, err := calibration.Load(cfg.Calibration.File)
	if err != nil {
		return nil, err
	}
	if err := pipe.SetGyroBias(res.GyroBias); err != nil {
		return nil, err
	}
	if err := pipe.SetAccelBias(res.AccelBias); err != nil {
		return nil, err
	}
	fields := log.Fields{
		"file":       cfg.Calibration.File,
		"confidence": res.Confidence.Overall,
	}
	log.WithFields(fields).Infof("gyro bias applied: X=%.3f Y=%.3f Z=%.3f °/s", res.GyroBias.X, res.GyroBias.Y, res.GyroBias.Z)
	log.WithFields(fields).Infof("accel bias applied: X=%.4f Y=%.4f Z=%.4f g", res.AccelBias.X, res.AccelBias.Y, res.AccelBias.Z)
	return pipe, nil
}

// openSource returns the frame source selected by cfg.Source.
func openSource(cfg *config.Config) (transport.Source, error) {
	switch cfg.Source {
	case config.SourceMock:
		log.Info("using mock stylus source")
		return transport.NewMockSource(cfg.MockSource()), nil
	case config.SourceSerial:
		return transport.OpenSerial(cfg.Serial)
	default:
		return nil, fmt.Errorf("unknown source %q", cfg.Source)
	}
}
