// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orientation

import (
	"fmt"
	"math"

	"github.com/relabs-tech/inertial_stylus/internal/fault"
)

// Config holds the Mahony filter gains.
type Config struct {
	Kp float64 `mapstructure:"kp" yaml:"kp"`
	Ki float64 `mapstructure:"ki" yaml:"ki"`

	// IntegralLimit caps the norm of the integral feedback vector. Zero
	// leaves it unbounded.
	IntegralLimit float64 `mapstructure:"integral_limit" yaml:"integral_limit"`
}

// DefaultConfig returns the gains the stylus firmware was tuned with.
func DefaultConfig() Config {
	return Config{Kp: 2.0, Ki: 0.005}
}

// Validate rejects negative or non-finite gains.
func (c Config) Validate() error {
	if !fault.Finite(c.Kp, c.Ki, c.IntegralLimit) {
		return fmt.Errorf("ahrs gains kp=%g ki=%g limit=%g: non-finite: %w", c.Kp, c.Ki, c.IntegralLimit, fault.ErrConfigOutOfRange)
	}
	if c.Kp < 0 || c.Ki < 0 || c.IntegralLimit < 0 {
		return fmt.Errorf("ahrs gains kp=%g ki=%g limit=%g must be >= 0: %w",
			c.Kp, c.Ki, c.IntegralLimit, fault.ErrConfigOutOfRange)
	}
	return nil
}

// Estimator is a Mahony attitude filter. It owns the quaternion and the
// integral feedback; both persist across Update calls until Reset.
// An Estimator must not be shared between goroutines.
type Estimator struct {
	cfg Config

	q  Quaternion
	ix float64 // integral feedback
	iy float64
	iz float64
}

// NewEstimator returns an estimator at the identity orientation.
func NewEstimator(cfg Config) (*Estimator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Estimator{cfg: cfg, q: Identity()}, nil
}

// Reset returns to the identity quaternion with zero integral feedback.
func (e *Estimator) Reset() {
	e.q = Identity()
	e.ix, e.iy, e.iz = 0, 0, 0
}

// Quaternion returns the current attitude.
func (e *Estimator) Quaternion() Quaternion {
	return e.q
}

// Integral returns the integral feedback vector.
func (e *Estimator) Integral() [3]float64 {
	return [3]float64{e.ix, e.iy, e.iz}
}

// Update runs one correction and integration step.
// accel may be in any unit (only its direction is used), gyro is in rad/s and
// dt in seconds. Non-finite input and negative dt are rejected before any
// state changes; dt == 0 leaves the attitude and integral as they are.
func (e *Estimator) Update(accel, gyro [3]float64, dt float64) (Pose, error) {
	if !fault.Finite(accel[0], accel[1], accel[2], gyro[0], gyro[1], gyro[2], dt) {
		return Pose{}, fmt.Errorf("ahrs update: %w", fault.ErrInvalidNumeric)
	}
	if dt < 0 {
		return Pose{}, fmt.Errorf("ahrs update: dt %g must not be negative: %w", dt, fault.ErrConfigOutOfRange)
	}

	q := e.q
	gx, gy, gz := gyro[0], gyro[1], gyro[2]

	norm := math.Sqrt(accel[0]*accel[0] + accel[1]*accel[1] + accel[2]*accel[2])
	gyroOnly := norm < epsilon
	if dt == 0 {
		pose := PoseFromQuaternion(q)
		pose.GyroOnly = gyroOnly
		return pose, nil
	}
	if !gyroOnly {
		ax, ay, az := accel[0]/norm, accel[1]/norm, accel[2]/norm

		// Gravity direction implied by the current attitude.
		vx := 2 * (q.X*q.Z - q.W*q.Y)
		vy := 2 * (q.W*q.X + q.Y*q.Z)
		vz := q.W*q.W - q.X*q.X - q.Y*q.Y + q.Z*q.Z

		// measured × estimated
		ex := ay*vz - az*vy
		ey := az*vx - ax*vz
		ez := ax*vy - ay*vx

		e.ix += ex * e.cfg.Ki * dt
		e.iy += ey * e.cfg.Ki * dt
		e.iz += ez * e.cfg.Ki * dt
		e.clampIntegral()

		gx += e.cfg.Kp*ex + e.ix
		gy += e.cfg.Kp*ey + e.iy
		gz += e.cfg.Kp*ez + e.iz
	}

	e.q = integrate(q, gx, gy, gz, dt)

	pose := PoseFromQuaternion(e.q)
	pose.GyroOnly = gyroOnly
	return pose, nil
}

func (e *Estimator) clampIntegral() {
	if e.cfg.IntegralLimit <= 0 {
		return
	}
	n := math.Sqrt(e.ix*e.ix + e.iy*e.iy + e.iz*e.iz)
	if n > e.cfg.IntegralLimit {
		s := e.cfg.IntegralLimit / n
		e.ix *= s
		e.iy *= s
		e.iz *= s
	}
}

// IntegrateGyro advances q by the body rates gyro (rad/s) over dt without any
// accelerometer correction.
func IntegrateGyro(q Quaternion, gyro [3]float64, dt float64) (Quaternion, error) {
	if !fault.Finite(q.W, q.X, q.Y, q.Z, gyro[0], gyro[1], gyro[2], dt) {
		return Quaternion{}, fmt.Errorf("gyro integration: %w", fault.ErrInvalidNumeric)
	}
	return integrate(q, gyro[0], gyro[1], gyro[2], dt), nil
}

// integrate applies q += ½·q⊗(0,g)·dt and renormalizes.
func integrate(q Quaternion, gx, gy, gz, dt float64) Quaternion {
	dw := 0.5 * (-q.X*gx - q.Y*gy - q.Z*gz)
	dx := 0.5 * (q.W*gx + q.Y*gz - q.Z*gy)
	dy := 0.5 * (q.W*gy - q.X*gz + q.Z*gx)
	dz := 0.5 * (q.W*gz + q.X*gy - q.Y*gx)

	return Quaternion{
		W: q.W + dw*dt,
		X: q.X + dx*dt,
		Y: q.Y + dy*dt,
		Z: q.Z + dz*dt,
	}.Normalize()
}
