// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package sensors rescales raw stylus sensor counts into physical units.
package sensors

import (
	"fmt"

	"github.com/relabs-tech/inertial_stylus/internal/fault"
	"github.com/relabs-tech/inertial_stylus/internal/imu"
)

// Range maps the raw count interval of one sensor onto its physical interval.
type Range struct {
	RawMin  float64 `mapstructure:"raw_min" yaml:"raw_min"`
	RawMax  float64 `mapstructure:"raw_max" yaml:"raw_max"`
	PhysMin float64 `mapstructure:"phys_min" yaml:"phys_min"`
	PhysMax float64 `mapstructure:"phys_max" yaml:"phys_max"`
}

// DefaultAccelRange maps full int16 scale to ±16 g.
func DefaultAccelRange() Range {
	return Range{RawMin: -32768, RawMax: 32768, PhysMin: -16, PhysMax: 16}
}

// DefaultGyroRange maps full int16 scale to ±2000 °/s.
func DefaultGyroRange() Range {
	return Range{RawMin: -32768, RawMax: 32768, PhysMin: -2000, PhysMax: 2000}
}

// Validate checks that both intervals are finite and strictly increasing.
func (r Range) Validate() error {
	if !fault.Finite(r.RawMin, r.RawMax, r.PhysMin, r.PhysMax) {
		return fmt.Errorf("sensor range %+v: non-finite bound: %w", r, fault.ErrConfigOutOfRange)
	}
	if r.RawMin >= r.RawMax {
		return fmt.Errorf("sensor range: raw_min %g must be below raw_max %g: %w", r.RawMin, r.RawMax, fault.ErrConfigOutOfRange)
	}
	if r.PhysMin >= r.PhysMax {
		return fmt.Errorf("sensor range: phys_min %g must be below phys_max %g: %w", r.PhysMin, r.PhysMax, fault.ErrConfigOutOfRange)
	}
	return nil
}

// Vector is a sensor triple in physical units.
type Vector struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Array returns v as [x, y, z].
func (v Vector) Array() [3]float64 {
	return [3]float64{v.X, v.Y, v.Z}
}

// Sub returns v - o.
func (v Vector) Sub(o Vector) Vector {
	return Vector{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z}
}

// Scale returns v multiplied by k.
func (v Vector) Scale(k float64) Vector {
	return Vector{X: v.X * k, Y: v.Y * k, Z: v.Z * k}
}

// Mapper applies one validated Range.
type Mapper struct {
	r Range
}

// NewMapper validates r and returns a mapper for it.
func NewMapper(r Range) (*Mapper, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &Mapper{r: r}, nil
}

// Range returns the mapper's configuration.
func (m *Mapper) Range() Range { return m.r }

// Map clamps raw into the raw interval and rescales it.
func (m *Mapper) Map(raw float64) float64 {
	return Map(raw, m.r.RawMin, m.r.RawMax, m.r.PhysMin, m.r.PhysMax)
}

// MapTriple maps each axis of t.
func (m *Mapper) MapTriple(t imu.Triple) Vector {
	return Vector{
		X: m.Map(float64(t.X)),
		Y: m.Map(float64(t.Y)),
		Z: m.Map(float64(t.Z)),
	}
}

// Map clamps raw into [rawMin, rawMax] and linearly rescales it into
// [physMin, physMax]. Bounds are not validated here; use NewMapper for that.
func Map(raw, rawMin, rawMax, physMin, physMax float64) float64 {
	switch {
	case raw <= rawMin:
		return physMin
	case raw >= rawMax:
		return physMax
	}
	return physMin + (raw-rawMin)*(physMax-physMin)/(rawMax-rawMin)
}
