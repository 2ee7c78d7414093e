// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package target compares live stylus telemetry with its design targets.
package target

import (
	"fmt"
	"strings"

	"github.com/relabs-tech/inertial_stylus/internal/imu"
)

// Targets are the acceptance limits for one device model.
type Targets struct {
	Model        string `mapstructure:"model" yaml:"model" json:"model"`
	Manufacturer string `mapstructure:"manufacturer" yaml:"manufacturer" json:"manufacturer"`

	RSSIMin    int `mapstructure:"rssi_min" yaml:"rssi_min" json:"rssi_min"`          // dBm
	RSSITarget int `mapstructure:"rssi_target" yaml:"rssi_target" json:"rssi_target"` // dBm

	BatteryMin    float64 `mapstructure:"battery_min" yaml:"battery_min" json:"battery_min"` // V
	BatteryMax    float64 `mapstructure:"battery_max" yaml:"battery_max" json:"battery_max"`
	BatteryTarget float64 `mapstructure:"battery_target" yaml:"battery_target" json:"battery_target"`
}

// Default returns the Artbit Pen targets.
func Default() Targets {
	return Targets{
		Model:         "Pen",
		Manufacturer:  "Artbit",
		RSSIMin:       -90,
		RSSITarget:    -60,
		BatteryMin:    3.7,
		BatteryMax:    4.2,
		BatteryTarget: 4.0,
	}
}

// Validate checks the limits are ordered.
func (t Targets) Validate() error {
	if t.RSSIMin > t.RSSITarget {
		return fmt.Errorf("targets: rssi_min %d above rssi_target %d", t.RSSIMin, t.RSSITarget)
	}
	if t.BatteryMin >= t.BatteryMax {
		return fmt.Errorf("targets: battery_min %g must be below battery_max %g", t.BatteryMin, t.BatteryMax)
	}
	if t.BatteryTarget < t.BatteryMin || t.BatteryTarget > t.BatteryMax {
		return fmt.Errorf("targets: battery_target %g outside [%g, %g]", t.BatteryTarget, t.BatteryMin, t.BatteryMax)
	}
	return nil
}

// Level grades one measured value.
type Level string

const (
	LevelFail   Level = "fail"   // outside the acceptance limits
	LevelPass   Level = "pass"   // within limits, short of target
	LevelTarget Level = "target" // at or better than target
)

// Item is one graded measurement.
type Item struct {
	Name   string  `json:"name"`
	Value  float64 `json:"value"`
	Target float64 `json:"target"`
	Level  Level   `json:"level"`
}

// Report is the graded telemetry of one frame.
type Report struct {
	RSSI    Item `json:"rssi"`
	Battery Item `json:"battery"`
	OK      bool `json:"ok"`
}

// Check grades t against tg. OK is set when no item failed.
func Check(t imu.Telemetry, tg Targets) Report {
	r := Report{
		RSSI: Item{
			Name:   "rssi",
			Value:  float64(t.RSSI),
			Target: float64(tg.RSSITarget),
			Level:  gradeRSSI(t.RSSI, tg),
		},
		Battery: Item{
			Name:   "battery",
			Value:  t.BatteryVoltage,
			Target: tg.BatteryTarget,
			Level:  gradeBattery(t.BatteryVoltage, tg),
		},
	}
	r.OK = r.RSSI.Level != LevelFail && r.Battery.Level != LevelFail
	return r
}

func gradeRSSI(v int, tg Targets) Level {
	switch {
	case v < tg.RSSIMin:
		return LevelFail
	case v >= tg.RSSITarget:
		return LevelTarget
	default:
		return LevelPass
	}
}

func gradeBattery(v float64, tg Targets) Level {
	switch {
	case v < tg.BatteryMin || v > tg.BatteryMax:
		return LevelFail
	case v >= tg.BatteryTarget:
		return LevelTarget
	default:
		return LevelPass
	}
}

// String renders a one-line summary for the console.
func (r Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "rssi %.0f dBm [%s]  battery %.3f V [%s]", r.RSSI.Value, r.RSSI.Level, r.Battery.Value, r.Battery.Level)
	if !r.OK {
		b.WriteString("  CHECK DEVICE")
	}
	return b.String()
}
