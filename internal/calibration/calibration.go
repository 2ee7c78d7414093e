// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package calibration captures the static gyro bias of a resting stylus and
// grades how still it was held.
package calibration

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/relabs-tech/inertial_stylus/internal/imu"
	"github.com/relabs-tech/inertial_stylus/internal/sensors"
	"github.com/relabs-tech/inertial_stylus/internal/transport"
)

const (
	SchemaVersion = 1

	// Stillness thresholds on the mean gyro standard deviation, °/s.
	stillStdGood = 0.2
	stillStdBad  = 1.0

	// Gravity magnitude deviation thresholds, g.
	gravityDevGood = 0.02
	gravityDevBad  = 0.15

	// Confidence floor; zero is reserved for failed captures.
	confFloor = 0.05
)

// restGravity is the reading of an ideal accelerometer lying flat, Z up.
var restGravity = sensors.Vector{Z: 1}

// PhaseStats summarizes one capture phase.
type PhaseStats struct {
	Samples     int            `yaml:"samples" json:"samples"`
	DurationSec float64        `yaml:"duration_sec" json:"duration_sec"`
	Mean        sensors.Vector `yaml:"mean" json:"mean"`
	MeanAbs     sensors.Vector `yaml:"mean_abs" json:"mean_abs"`
	StdDev      sensors.Vector `yaml:"stddev" json:"stddev"`
}

// Confidence holds the per-check scores in [0,1].
type Confidence struct {
	GyroStatic float64 `yaml:"gyro_static" json:"gyro_static"`
	Gravity    float64 `yaml:"gravity" json:"gravity"`
	Overall    float64 `yaml:"overall" json:"overall"`
}

// Result is the persisted calibration. GyroBias is in °/s and AccelBias in g,
// both subtracted after mapping.
type Result struct {
	SchemaVersion int       `yaml:"schema_version" json:"schema_version"`
	CalibratedAt  time.Time `yaml:"calibrated_at" json:"calibrated_at"`
	Device        string    `yaml:"device" json:"device"`

	GyroBias  sensors.Vector `yaml:"gyro_bias" json:"gyro_bias"`
	AccelBias sensors.Vector `yaml:"accel_bias" json:"accel_bias"`

	Confidence Confidence `yaml:"confidence" json:"confidence"`

	GyroStats  PhaseStats `yaml:"gyro_stats" json:"gyro_stats"`
	AccelStats PhaseStats `yaml:"accel_stats" json:"accel_stats"`

	Notes []string `yaml:"notes,omitempty" json:"notes,omitempty"`
}

// Capture reads n frames from src while the stylus rests flat, Z up. Frames
// that fail to decode are skipped.
func Capture(ctx context.Context, device string, src transport.Source, accel, gyro *sensors.Mapper, n int) (Result, error) {
	if n < 2 {
		return Result{}, fmt.Errorf("calibration: need at least 2 samples, got %d", n)
	}

	start := time.Now()
	accels := make([]sensors.Vector, 0, n)
	gyros := make([]sensors.Vector, 0, n)
	skipped := 0

	for len(gyros) < n {
		buf, err := src.Next(ctx)
		if err != nil {
			return Result{}, fmt.Errorf("calibration: after %d samples: %w", len(gyros), err)
		}
		f, err := imu.Decode(buf)
		if err != nil {
			skipped++
			log.WithField("device", device).Debugf("calibration: %v", err)
			continue
		}
		accels = append(accels, accel.MapTriple(f.Accel))
		gyros = append(gyros, gyro.MapTriple(f.Gyro))
	}

	res := Compute(device, accels, gyros, time.Since(start))
	if skipped > 0 {
		res.Notes = append(res.Notes, fmt.Sprintf("skipped %d undecodable frames", skipped))
	}
	return res, nil
}

// Compute derives the bias and confidence from mapped samples.
func Compute(device string, accels, gyros []sensors.Vector, dur time.Duration) Result {
	gs := ComputeStats(gyros, dur)
	as := ComputeStats(accels, dur)

	res := Result{
		SchemaVersion: SchemaVersion,
		CalibratedAt:  time.Now().UTC(),
		Device:        device,
		GyroBias:      gs.Mean,
		AccelBias:     as.Mean.Sub(restGravity),
		GyroStats:     gs,
		AccelStats:    as,
	}
	res.Confidence.GyroStatic = StillnessConfidence(gs.StdDev)
	res.Confidence.Gravity = GravityConfidence(as.Mean)
	res.Confidence.Overall = clamp01(0.7*res.Confidence.GyroStatic + 0.3*res.Confidence.Gravity)

	if res.Confidence.GyroStatic < 0.5 {
		res.Notes = append(res.Notes, "device moved during capture")
	}
	if res.Confidence.Gravity < 0.5 {
		res.Notes = append(res.Notes, "accelerometer magnitude far from 1 g, check the accel range")
	}
	return res
}

// ComputeStats returns mean, mean absolute value and population standard
// deviation per axis.
func ComputeStats(values []sensors.Vector, dur time.Duration) PhaseStats {
	n := len(values)
	if n == 0 {
		return PhaseStats{DurationSec: dur.Seconds()}
	}

	var sum, sumAbs sensors.Vector
	for _, v := range values {
		sum.X += v.X
		sum.Y += v.Y
		sum.Z += v.Z
		sumAbs.X += math.Abs(v.X)
		sumAbs.Y += math.Abs(v.Y)
		sumAbs.Z += math.Abs(v.Z)
	}
	mean := sum.Scale(1 / float64(n))

	var vx, vy, vz float64
	for _, v := range values {
		d := v.Sub(mean)
		vx += d.X * d.X
		vy += d.Y * d.Y
		vz += d.Z * d.Z
	}

	return PhaseStats{
		Samples:     n,
		DurationSec: dur.Seconds(),
		Mean:        mean,
		MeanAbs:     sumAbs.Scale(1 / float64(n)),
		StdDev: sensors.Vector{
			X: math.Sqrt(vx / float64(n)),
			Y: math.Sqrt(vy / float64(n)),
			Z: math.Sqrt(vz / float64(n)),
		},
	}
}

// StillnessConfidence maps the mean gyro standard deviation (°/s) to [0,1].
func StillnessConfidence(std sensors.Vector) float64 {
	s := (std.X + std.Y + std.Z) / 3
	switch {
	case s <= stillStdGood:
		return 1.0
	case s >= stillStdBad:
		return confFloor
	default:
		t := (s - stillStdGood) / (stillStdBad - stillStdGood)
		return clamp01(1.0 - 0.95*t)
	}
}

// GravityConfidence grades how close the resting accelerometer magnitude is
// to 1 g.
func GravityConfidence(mean sensors.Vector) float64 {
	dev := math.Abs(math.Sqrt(mean.X*mean.X+mean.Y*mean.Y+mean.Z*mean.Z) - 1)
	switch {
	case dev <= gravityDevGood:
		return 1.0
	case dev >= gravityDevBad:
		return confFloor
	default:
		t := (dev - gravityDevGood) / (gravityDevBad - gravityDevGood)
		return clamp01(1.0 - 0.95*t)
	}
}

// Save writes res as YAML.
func Save(path string, res Result) error {
	b, err := yaml.Marshal(res)
	if err != nil {
		return fmt.Errorf("calibration: encode: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("calibration: write %s: %w", path, err)
	}
	return nil
}

// ErrSchema is returned by Load for files written by an unknown version.
var ErrSchema = errors.New("unsupported calibration schema")

// Load reads a result written by Save.
func Load(path string) (Result, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Result{}, fmt.Errorf("calibration: read %s: %w", path, err)
	}
	var res Result
	if err := yaml.Unmarshal(b, &res); err != nil {
		return Result{}, fmt.Errorf("calibration: decode %s: %w", path, err)
	}
	if res.SchemaVersion != SchemaVersion {
		return Result{}, fmt.Errorf("calibration: %s has schema %d: %w", path, res.SchemaVersion, ErrSchema)
	}
	return res, nil
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
