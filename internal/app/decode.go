// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"fmt"
	"strings"

	"github.com/relabs-tech/inertial_stylus/internal/config"
	"github.com/relabs-tech/inertial_stylus/internal/imu"
	"github.com/relabs-tech/inertial_stylus/internal/sensors"
	"github.com/relabs-tech/inertial_stylus/internal/target"
	"github.com/relabs-tech/inertial_stylus/internal/transport"
)

// DescribeFrame decodes one hex notification, as written by the bridge, and
// renders its fields, mapped values and target report.
func DescribeFrame(line string, cfg *config.Config) (string, error) {
	buf, err := transport.ParseLine(line)
	if err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}
	f, err := imu.Decode(buf)
	if err != nil {
		return "", err
	}

	accel, err := sensors.NewMapper(cfg.Sensor.Accel)
	if err != nil {
		return "", err
	}
	gyro, err := sensors.NewMapper(cfg.Sensor.Gyro)
	if err != nil {
		return "", err
	}
	a := accel.MapTriple(f.Accel)
	g := gyro.MapTriple(f.Gyro)
	t := f.Telemetry

	var b strings.Builder
	fmt.Fprintf(&b, "rssi        %d dBm\n", t.RSSI)
	fmt.Fprintf(&b, "power_in    %d\n", t.PowerIn)
	fmt.Fprintf(&b, "charge      %d\n", t.Charge)
	fmt.Fprintf(&b, "battery     %.3f V\n", t.BatteryVoltage)
	fmt.Fprintf(&b, "boot_btn    %d\n", t.BootButton)
	fmt.Fprintf(&b, "pwr_btn     %d\n", t.PowerButton)
	fmt.Fprintf(&b, "r_vcc       %d\n", t.ResistorVoltage)
	fmt.Fprintf(&b, "accel raw   %6d %6d %6d\n", f.Accel.X, f.Accel.Y, f.Accel.Z)
	fmt.Fprintf(&b, "accel g     %8.4f %8.4f %8.4f\n", a.X, a.Y, a.Z)
	fmt.Fprintf(&b, "gyro raw    %6d %6d %6d\n", f.Gyro.X, f.Gyro.Y, f.Gyro.Z)
	fmt.Fprintf(&b, "gyro dps    %8.3f %8.3f %8.3f\n", g.X, g.Y, g.Z)
	fmt.Fprintf(&b, "targets     %s\n", target.Check(t, cfg.Targets))
	return b.String(), nil
}
