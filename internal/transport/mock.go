// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package transport

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/relabs-tech/inertial_stylus/internal/imu"
)

// MockConfig shapes the synthetic frames. Counts per unit must match the
// sensor ranges the pipeline uses.
type MockConfig struct {
	Interval         time.Duration
	AccelCountsPerG  float64
	GyroCountsPerDPS float64
}

// DefaultMockConfig matches the default ±16 g and ±2000 °/s ranges at 100 Hz.
func DefaultMockConfig() MockConfig {
	return MockConfig{
		Interval:         10 * time.Millisecond,
		AccelCountsPerG:  2048,
		GyroCountsPerDPS: 16.384,
	}
}

// MockSource generates frames of a stylus rocking gently in roll and pitch.
type MockSource struct {
	cfg MockConfig
	t   float64 // synthetic time, seconds

	tick      *time.Ticker
	closeOnce sync.Once
	closed    chan struct{}
}

// NewMockSource returns a source paced by cfg.Interval. A zero interval
// produces frames as fast as they are consumed.
func NewMockSource(cfg MockConfig) *MockSource {
	m := &MockSource{cfg: cfg, closed: make(chan struct{})}
	if cfg.Interval > 0 {
		m.tick = time.NewTicker(cfg.Interval)
	}
	return m
}

// Next waits for the next tick and returns one encoded frame.
func (m *MockSource) Next(ctx context.Context) ([]byte, error) {
	if m.tick != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-m.closed:
			return nil, ErrSourceClosed
		case <-m.tick.C:
		}
	} else {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-m.closed:
			return nil, ErrSourceClosed
		default:
		}
	}
	return imu.Encode(m.Frame()), nil
}

// Frame advances synthetic time by one interval and returns the frame for it.
func (m *MockSource) Frame() imu.Frame {
	dt := m.cfg.Interval.Seconds()
	if dt <= 0 {
		dt = 0.01
	}
	m.t += dt
	t := m.t

	// roll = 20 sin t, pitch = 15 cos 0.7t, yaw rate 30 °/s
	roll := 20 * math.Sin(t) * math.Pi / 180
	pitch := 15 * math.Cos(0.7*t) * math.Pi / 180
	rollRate := 20 * math.Cos(t)
	pitchRate := -15 * 0.7 * math.Sin(0.7*t)
	const yawRate = 30.0

	ax := -math.Sin(pitch)
	ay := math.Sin(roll) * math.Cos(pitch)
	az := math.Cos(roll) * math.Cos(pitch)

	return imu.Frame{
		Telemetry: imu.Telemetry{
			RSSI:            -60 + int(5*math.Sin(0.1*t)),
			PowerIn:         0,
			Charge:          0,
			BatteryVoltage:  math.Round(1000*(3.7+0.5*(0.5+0.5*math.Cos(0.01*t)))) / 1000,
			ResistorVoltage: 300,
		},
		Accel: imu.Triple{
			X: counts(ax * m.cfg.AccelCountsPerG),
			Y: counts(ay * m.cfg.AccelCountsPerG),
			Z: counts(az * m.cfg.AccelCountsPerG),
		},
		Gyro: imu.Triple{
			X: counts(rollRate * m.cfg.GyroCountsPerDPS),
			Y: counts(pitchRate * m.cfg.GyroCountsPerDPS),
			Z: counts(yawRate * m.cfg.GyroCountsPerDPS),
		},
	}
}

// Close stops the ticker and unblocks Next.
func (m *MockSource) Close() error {
	m.closeOnce.Do(func() {
		if m.tick != nil {
			m.tick.Stop()
		}
		close(m.closed)
	})
	return nil
}

func counts(v float64) int16 {
	v = math.Round(v)
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}
