// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package filter conditions mapped sensor axes before fusion: an exponential
// low-pass stage followed by a scalar Kalman stage, each with per-axis state.
package filter

import (
	"fmt"

	"github.com/relabs-tech/inertial_stylus/internal/fault"
	"github.com/relabs-tech/inertial_stylus/internal/sensors"
)

// Config holds the gains for one sensor type.
type Config struct {
	Alpha float64 `mapstructure:"alpha" yaml:"alpha"` // low-pass weight of the new sample
	Q     float64 `mapstructure:"q" yaml:"q"`         // Kalman process noise
	R     float64 `mapstructure:"r" yaml:"r"`         // Kalman measurement noise
}

// DefaultConfig returns alpha 0.1, Q 0.001, R 0.1.
func DefaultConfig() Config {
	return Config{Alpha: 0.1, Q: 0.001, R: 0.1}
}

// Validate rejects alpha outside [0,1], negative Q, non-positive R and
// non-finite values.
func (c Config) Validate() error {
	if !fault.Finite(c.Alpha, c.Q, c.R) {
		return fmt.Errorf("filter config %+v: non-finite value: %w", c, fault.ErrConfigOutOfRange)
	}
	if c.Alpha < 0 || c.Alpha > 1 {
		return fmt.Errorf("filter config: alpha %g outside [0,1]: %w", c.Alpha, fault.ErrConfigOutOfRange)
	}
	if c.Q < 0 {
		return fmt.Errorf("filter config: q %g is negative: %w", c.Q, fault.ErrConfigOutOfRange)
	}
	if c.R <= 0 {
		return fmt.Errorf("filter config: r %g must be positive: %w", c.R, fault.ErrConfigOutOfRange)
	}
	return nil
}

// LowPass blends newValue into previous with weight alpha.
func LowPass(newValue, previous, alpha float64) float64 {
	return alpha*newValue + (1-alpha)*previous
}

// KalmanStep runs one scalar Kalman update and returns the new estimate and
// error covariance.
func KalmanStep(measurement, value, errCov, q, r float64) (float64, float64) {
	predicted := errCov + q
	gain := predicted / (predicted + r)
	value += gain * (measurement - value)
	return value, (1 - gain) * predicted
}

// AxisState is the persistent state of one axis.
type AxisState struct {
	LPF     float64 `json:"lpf"`
	KF      float64 `json:"kf"`
	KFError float64 `json:"kf_error"`

	initialized bool
}

func (s *AxisState) step(x float64, c Config) float64 {
	if !s.initialized {
		s.LPF = x
		s.KF = x
		s.KFError = 1.0
		s.initialized = true
	} else {
		s.LPF = LowPass(x, s.LPF, c.Alpha)
	}
	s.KF, s.KFError = KalmanStep(s.LPF, s.KF, s.KFError, c.Q, c.R)
	return s.KF
}

// State is a snapshot of every axis of a Conditioner.
type State struct {
	Accel [3]AxisState `json:"accel"`
	Gyro  [3]AxisState `json:"gyro"`
}

// Conditioner filters accelerometer and gyroscope triples with independent
// state and gains. It is not safe for concurrent use.
type Conditioner struct {
	accelCfg Config
	gyroCfg  Config
	st       State
}

// NewConditioner validates both configs.
func NewConditioner(accel, gyro Config) (*Conditioner, error) {
	if err := accel.Validate(); err != nil {
		return nil, fmt.Errorf("accel: %w", err)
	}
	if err := gyro.Validate(); err != nil {
		return nil, fmt.Errorf("gyro: %w", err)
	}
	return &Conditioner{accelCfg: accel, gyroCfg: gyro}, nil
}

// Accel conditions one accelerometer sample.
func (c *Conditioner) Accel(v sensors.Vector) (sensors.Vector, error) {
	return apply(&c.st.Accel, c.accelCfg, v, "accel")
}

// Gyro conditions one gyroscope sample.
func (c *Conditioner) Gyro(v sensors.Vector) (sensors.Vector, error) {
	return apply(&c.st.Gyro, c.gyroCfg, v, "gyro")
}

// Reset drops all state; the next sample re-initialises each axis.
func (c *Conditioner) Reset() {
	c.st = State{}
}

// State returns a copy of the current per-axis state.
func (c *Conditioner) State() State {
	return c.st
}

func apply(axes *[3]AxisState, cfg Config, v sensors.Vector, kind string) (sensors.Vector, error) {
	if !fault.Finite(v.X, v.Y, v.Z) {
		return sensors.Vector{}, fmt.Errorf("condition %s %+v: %w", kind, v, fault.ErrInvalidNumeric)
	}
	return sensors.Vector{
		X: axes[0].step(v.X, cfg),
		Y: axes[1].step(v.Y, cfg),
		Z: axes[2].step(v.Z, cfg),
	}, nil
}
