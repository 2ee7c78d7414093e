// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orientation

import (
	"fmt"
	"math"

	"github.com/relabs-tech/inertial_stylus/internal/fault"
)

// epsilon is the float64 machine epsilon. A quaternion whose norm falls below
// it is treated as zero.
const epsilon = 2.220446049250313e-16

// Quaternion is a rotation in (w, x, y, z) order. Methods never mutate the
// receiver.
type Quaternion struct {
	W float64 `json:"w"`
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Identity returns the no-rotation quaternion (1, 0, 0, 0).
func Identity() Quaternion {
	return Quaternion{W: 1}
}

// New builds a quaternion, rejecting NaN and Inf components.
func New(w, x, y, z float64) (Quaternion, error) {
	if !fault.Finite(w, x, y, z) {
		return Quaternion{}, fmt.Errorf("quaternion (%g, %g, %g, %g): %w", w, x, y, z, fault.ErrInvalidNumeric)
	}
	return Quaternion{W: w, X: x, Y: y, Z: z}, nil
}

// Norm returns the Euclidean norm. Components are scaled by the largest one
// first so huge finite values do not overflow.
func (q Quaternion) Norm() float64 {
	m := q.maxAbs()
	if m == 0 || math.IsNaN(m) || math.IsInf(m, 0) {
		return m
	}
	return m * q.scale(1/m).unitNorm()
}

// Normalize scales q to unit length. A zero (or non-finite) quaternion
// normalizes to the identity rather than NaN.
func (q Quaternion) Normalize() Quaternion {
	m := q.maxAbs()
	if m == 0 || math.IsNaN(m) || math.IsInf(m, 0) {
		return Identity()
	}
	s := q.scale(1 / m)
	n := s.unitNorm()
	if m*n < epsilon {
		return Identity()
	}
	return s.scale(1 / n)
}

func (q Quaternion) maxAbs() float64 {
	return math.Max(math.Max(math.Abs(q.W), math.Abs(q.X)), math.Max(math.Abs(q.Y), math.Abs(q.Z)))
}

func (q Quaternion) scale(k float64) Quaternion {
	return Quaternion{W: q.W * k, X: q.X * k, Y: q.Y * k, Z: q.Z * k}
}

// unitNorm is the plain Euclidean norm, for components already in [-1, 1].
func (q Quaternion) unitNorm() float64 {
	return math.Sqrt(q.W*q.W + q.X*q.X + q.Y*q.Y + q.Z*q.Z)
}

// Multiply returns the Hamilton product q*r.
func (q Quaternion) Multiply(r Quaternion) Quaternion {
	return Quaternion{
		W: q.W*r.W - q.X*r.X - q.Y*r.Y - q.Z*r.Z,
		X: q.W*r.X + q.X*r.W + q.Y*r.Z - q.Z*r.Y,
		Y: q.W*r.Y - q.X*r.Z + q.Y*r.W + q.Z*r.X,
		Z: q.W*r.Z + q.X*r.Y - q.Y*r.X + q.Z*r.W,
	}
}

// Conjugate negates the vector part.
func (q Quaternion) Conjugate() Quaternion {
	return Quaternion{W: q.W, X: -q.X, Y: -q.Y, Z: -q.Z}
}

// ToEuler returns roll, pitch and yaw in radians. q is normalized first and
// the pitch argument is clamped to [-1, 1] so gimbal lock yields ±π/2
// instead of NaN.
func (q Quaternion) ToEuler() (roll, pitch, yaw float64) {
	n := q.Normalize()

	roll = math.Atan2(2*(n.W*n.X+n.Y*n.Z), 1-2*(n.X*n.X+n.Y*n.Y))

	sp := 2 * (n.W*n.Y - n.Z*n.X)
	if sp > 1 {
		sp = 1
	} else if sp < -1 {
		sp = -1
	}
	pitch = math.Asin(sp)

	yaw = math.Atan2(2*(n.W*n.Z+n.X*n.Y), 1-2*(n.Y*n.Y+n.Z*n.Z))
	return roll, pitch, yaw
}

// FromEuler builds a quaternion from roll, pitch and yaw in radians using the
// half-angle construction.
func FromEuler(roll, pitch, yaw float64) (Quaternion, error) {
	if !fault.Finite(roll, pitch, yaw) {
		return Quaternion{}, fmt.Errorf("euler (%g, %g, %g): %w", roll, pitch, yaw, fault.ErrInvalidNumeric)
	}

	cr, sr := math.Cos(roll*0.5), math.Sin(roll*0.5)
	cp, sp := math.Cos(pitch*0.5), math.Sin(pitch*0.5)
	cy, sy := math.Cos(yaw*0.5), math.Sin(yaw*0.5)

	return Quaternion{
		W: cr*cp*cy + sr*sp*sy,
		X: sr*cp*cy - cr*sp*sy,
		Y: cr*sp*cy + sr*cp*sy,
		Z: cr*cp*sy - sr*sp*cy,
	}, nil
}

func (q Quaternion) String() string {
	return fmt.Sprintf("Quaternion(w=%.4f, x=%.4f, y=%.4f, z=%.4f)", q.W, q.X, q.Y, q.Z)
}
