// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"bufio"
	"context"
	"fmt"
	"io"

	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/inertial_stylus/internal/calibration"
	"github.com/relabs-tech/inertial_stylus/internal/config"
	"github.com/relabs-tech/inertial_stylus/internal/sensors"
	"github.com/relabs-tech/inertial_stylus/internal/transport"
)

// DefaultCalibrationFile is used when neither the flag nor the config names
// an output file.
const DefaultCalibrationFile = "stylus_calibration.yaml"

// RunCalibration captures a static gyro bias from the configured source and
// writes it to outPath.
func RunCalibration(ctx context.Context, cfg *config.Config, in io.Reader, out io.Writer, outPath string) error {
	src, err := openSource(cfg)
	if err != nil {
		return err
	}
	defer src.Close()
	return calibrate(ctx, cfg, src, in, out, outPath)
}

func calibrate(ctx context.Context, cfg *config.Config, src transport.Source, in io.Reader, out io.Writer, outPath string) error {
	if outPath == "" {
		outPath = cfg.Calibration.File
	}
	if outPath == "" {
		outPath = DefaultCalibrationFile
	}

	accel, err := sensors.NewMapper(cfg.Sensor.Accel)
	if err != nil {
		return err
	}
	gyro, err := sensors.NewMapper(cfg.Sensor.Gyro)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Stylus calibration (%s)\n", cfg.Device)
	fmt.Fprintln(out, "Lay the stylus flat on a stable surface and do not touch it.")
	fmt.Fprintf(out, "Press ENTER to start capturing %d frames...", cfg.Calibration.Samples)
	if _, err := bufio.NewReader(in).ReadString('\n'); err != nil && err != io.EOF {
		return err
	}

	res, err := calibration.Capture(ctx, cfg.Device, src, accel, gyro, cfg.Calibration.Samples)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "\nGyro bias (°/s): X=%.3f Y=%.3f Z=%.3f | stillness=%.2f\n",
		res.GyroBias.X, res.GyroBias.Y, res.GyroBias.Z, res.Confidence.GyroStatic)
	fmt.Fprintf(out, "Accel bias (g):  X=%.4f Y=%.4f Z=%.4f | gravity=%.2f\n",
		res.AccelBias.X, res.AccelBias.Y, res.AccelBias.Z, res.Confidence.Gravity)
	fmt.Fprintf(out, "Overall confidence: %.2f\n", res.Confidence.Overall)
	for _, n := range res.Notes {
		fmt.Fprintf(out, "note: %s\n", n)
	}

	if err := calibration.Save(outPath, res); err != nil {
		return err
	}
	log.WithField("file", outPath).Info("calibration saved")
	fmt.Fprintf(out, "Saved to %s\n", outPath)
	return nil
}
