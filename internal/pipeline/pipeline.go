// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package pipeline runs one stylus frame through decode, mapping, bias
// correction, optional conditioning and the attitude filter.
package pipeline

import (
	"fmt"
	"math"
	"time"

	"github.com/relabs-tech/inertial_stylus/internal/fault"
	"github.com/relabs-tech/inertial_stylus/internal/filter"
	"github.com/relabs-tech/inertial_stylus/internal/imu"
	"github.com/relabs-tech/inertial_stylus/internal/orientation"
	"github.com/relabs-tech/inertial_stylus/internal/sensors"
)

const degToRad = math.Pi / 180.0

// Config wires every stage. Gyro ranges are in °/s; the pipeline converts to
// rad/s before the estimator.
type Config struct {
	Accel sensors.Range
	Gyro  sensors.Range

	Conditioning bool
	AccelFilter  filter.Config
	GyroFilter   filter.Config

	AHRS orientation.Config
	DT   float64 // fixed fusion step, seconds

	AccelBias sensors.Vector // g, subtracted after mapping
	GyroBias  sensors.Vector // °/s, subtracted after mapping
}

// DefaultConfig returns the stock stylus ranges, gains and a 10 ms step.
func DefaultConfig() Config {
	return Config{
		Accel:        sensors.DefaultAccelRange(),
		Gyro:         sensors.DefaultGyroRange(),
		Conditioning: true,
		AccelFilter:  filter.DefaultConfig(),
		GyroFilter:   filter.DefaultConfig(),
		AHRS:         orientation.DefaultConfig(),
		DT:           0.01,
	}
}

// Reading is the immutable result of one processed frame.
type Reading struct {
	Seq       uint64           `json:"seq"`
	Time      time.Time        `json:"time"`
	Telemetry imu.Telemetry    `json:"telemetry"`
	Raw       imu.IMURaw       `json:"raw"`
	AccelG    sensors.Vector   `json:"accel_g"`
	GyroDPS   sensors.Vector   `json:"gyro_dps"`
	Pose      orientation.Pose `json:"pose"`
}

// Pipeline owns one mapper, conditioner and estimator set. It is not safe for
// concurrent use.
type Pipeline struct {
	cfg    Config
	source string

	accel *sensors.Mapper
	gyro  *sensors.Mapper
	cond  *filter.Conditioner
	est   *orientation.Estimator

	seq uint64
	now func() time.Time
}

// New validates cfg and builds every stage. source tags raw readings.
func New(source string, cfg Config) (*Pipeline, error) {
	if !fault.Finite(cfg.DT) || cfg.DT <= 0 {
		return nil, fmt.Errorf("pipeline: dt %g must be a positive number: %w", cfg.DT, fault.ErrConfigOutOfRange)
	}
	if !fault.Finite(cfg.AccelBias.X, cfg.AccelBias.Y, cfg.AccelBias.Z, cfg.GyroBias.X, cfg.GyroBias.Y, cfg.GyroBias.Z) {
		return nil, fmt.Errorf("pipeline: bias: %w", fault.ErrConfigOutOfRange)
	}

	accel, err := sensors.NewMapper(cfg.Accel)
	if err != nil {
		return nil, fmt.Errorf("pipeline: accel %w", err)
	}
	gyro, err := sensors.NewMapper(cfg.Gyro)
	if err != nil {
		return nil, fmt.Errorf("pipeline: gyro %w", err)
	}

	p := &Pipeline{cfg: cfg, source: source, accel: accel, gyro: gyro, now: time.Now}

	if cfg.Conditioning {
		if p.cond, err = filter.NewConditioner(cfg.AccelFilter, cfg.GyroFilter); err != nil {
			return nil, fmt.Errorf("pipeline: %w", err)
		}
	}
	if p.est, err = orientation.NewEstimator(cfg.AHRS); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	return p, nil
}

// Process decodes buf and runs it through every stage. A failed frame leaves
// all state untouched.
func (p *Pipeline) Process(buf []byte) (Reading, error) {
	f, err := imu.Decode(buf)
	if err != nil {
		return Reading{}, err
	}
	return p.ProcessFrame(f)
}

// ProcessFrame runs an already decoded frame.
func (p *Pipeline) ProcessFrame(f imu.Frame) (Reading, error) {
	accel := p.accel.MapTriple(f.Accel).Sub(p.cfg.AccelBias)
	gyro := p.gyro.MapTriple(f.Gyro).Sub(p.cfg.GyroBias)
	if !fault.Finite(accel.X, accel.Y, accel.Z, gyro.X, gyro.Y, gyro.Z) {
		return Reading{}, fmt.Errorf("pipeline: mapped sample: %w", fault.ErrInvalidNumeric)
	}

	if p.cond != nil {
		var err error
		if accel, err = p.cond.Accel(accel); err != nil {
			return Reading{}, err
		}
		if gyro, err = p.cond.Gyro(gyro); err != nil {
			return Reading{}, err
		}
	}

	pose, err := p.est.Update(accel.Array(), gyro.Scale(degToRad).Array(), p.cfg.DT)
	if err != nil {
		return Reading{}, err
	}

	p.seq++
	return Reading{
		Seq:       p.seq,
		Time:      p.now(),
		Telemetry: f.Telemetry,
		Raw:       f.Raw(p.source, p.seq),
		AccelG:    accel,
		GyroDPS:   gyro,
		Pose:      pose,
	}, nil
}

// SetAccelBias replaces the accelerometer bias in g.
func (p *Pipeline) SetAccelBias(b sensors.Vector) error {
	if !fault.Finite(b.X, b.Y, b.Z) {
		return fmt.Errorf("pipeline: accel bias %+v: %w", b, fault.ErrInvalidNumeric)
	}
	p.cfg.AccelBias = b
	return nil
}

// SetGyroBias replaces the gyro bias, typically after a calibration run.
func (p *Pipeline) SetGyroBias(b sensors.Vector) error {
	if !fault.Finite(b.X, b.Y, b.Z) {
		return fmt.Errorf("pipeline: gyro bias %+v: %w", b, fault.ErrInvalidNumeric)
	}
	p.cfg.GyroBias = b
	return nil
}

// Reset returns the estimator and conditioner to their initial state. The
// sequence counter keeps running.
func (p *Pipeline) Reset() {
	p.est.Reset()
	if p.cond != nil {
		p.cond.Reset()
	}
}

// Estimator exposes the attitude filter for inspection.
func (p *Pipeline) Estimator() *orientation.Estimator { return p.est }
