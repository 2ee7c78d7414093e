// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package imu

import (
	"fmt"

	"github.com/relabs-tech/inertial_stylus/internal/fault"
)

// Frame layout of one stylus notification.
const (
	offRSSI       = 0
	offPowerIn    = 1
	offCharge     = 2
	offBattery    = 3 // 2 bytes, big-endian millivolts
	offBootButton = 5
	offPowerBtn   = 6
	offResistor   = 7 // 2 bytes, big-endian
	offAccel      = 9 // 3 x int16 big-endian
	offGyro       = 15

	// HeaderSize is the telemetry part preceding the sensor payload.
	HeaderSize = 9
	// FrameSize is the minimum notification length.
	FrameSize = HeaderSize + 6*2
)

// Triple is one raw sensor reading in counts.
type Triple struct {
	X int16 `json:"x"`
	Y int16 `json:"y"`
	Z int16 `json:"z"`
}

// Telemetry is the device status carried in the frame header. PowerIn and
// Charge are passed through for the caller to interpret.
type Telemetry struct {
	RSSI            int     `json:"rssi"`
	PowerIn         byte    `json:"power_in"`
	Charge          byte    `json:"charge"`
	BatteryVoltage  float64 `json:"battery_v"`
	BootButton      byte    `json:"boot_btn"`
	PowerButton     byte    `json:"pwr_btn"`
	ResistorVoltage uint16  `json:"r_vcc"`
}

// Frame is one decoded notification.
type Frame struct {
	Telemetry Telemetry `json:"telemetry"`
	Accel     Triple    `json:"accel"`
	Gyro      Triple    `json:"gyro"`
}

// Decode parses a notification buffer. Bytes past FrameSize are ignored and
// no range checks are applied to the values.
func Decode(buf []byte) (Frame, error) {
	if len(buf) < FrameSize {
		return Frame{}, fmt.Errorf("decode: got %d bytes, need %d: %w", len(buf), FrameSize, fault.ErrFrameTooShort)
	}

	return Frame{
		Telemetry: Telemetry{
			RSSI:            DecodeRSSI(buf[offRSSI]),
			PowerIn:         buf[offPowerIn],
			Charge:          buf[offCharge],
			BatteryVoltage:  float64(uint16BE(buf[offBattery], buf[offBattery+1])) / 1000.0,
			BootButton:      buf[offBootButton],
			PowerButton:     buf[offPowerBtn],
			ResistorVoltage: uint16BE(buf[offResistor], buf[offResistor+1]),
		},
		Accel: triple(buf[offAccel:]),
		Gyro:  triple(buf[offGyro:]),
	}, nil
}

// Encode is the inverse of Decode. RSSI values outside [-128, 127] and
// battery voltages outside the 16-bit millivolt range are saturated.
func Encode(f Frame) []byte {
	buf := make([]byte, FrameSize)
	buf[offRSSI] = EncodeRSSI(f.Telemetry.RSSI)
	buf[offPowerIn] = f.Telemetry.PowerIn
	buf[offCharge] = f.Telemetry.Charge

	mv := f.Telemetry.BatteryVoltage*1000 + 0.5
	switch {
	case mv < 0:
		mv = 0
	case mv > 0xFFFF:
		mv = 0xFFFF
	}
	putUint16BE(buf[offBattery:], uint16(mv))

	buf[offBootButton] = f.Telemetry.BootButton
	buf[offPowerBtn] = f.Telemetry.PowerButton
	putUint16BE(buf[offResistor:], f.Telemetry.ResistorVoltage)

	putTriple(buf[offAccel:], f.Accel)
	putTriple(buf[offGyro:], f.Gyro)
	return buf
}

// DecodeRSSI decodes the header's signal byte: bits 0-6 carry a magnitude,
// bit 7 flags a negative value stored as -((magnitude ^ 0x7F) + 1).
func DecodeRSSI(b byte) int {
	n := int(b & 0x7F)
	if b&0x80 != 0 {
		n = -((n ^ 0x7F) + 1)
	}
	return n
}

// EncodeRSSI is the inverse of DecodeRSSI for v in [-128, 127].
func EncodeRSSI(v int) byte {
	switch {
	case v > 127:
		v = 127
	case v < -128:
		v = -128
	}
	if v >= 0 {
		return byte(v)
	}
	return 0x80 | byte((-v-1)^0x7F)
}

// Int16BE combines a big-endian byte pair into a two's-complement int16.
func Int16BE(hi, lo byte) int16 {
	v := int32(hi)<<8 | int32(lo)
	if v >= 0x8000 {
		v -= 0x10000
	}
	return int16(v)
}

func uint16BE(hi, lo byte) uint16 {
	return uint16(hi)<<8 | uint16(lo)
}

func putUint16BE(b []byte, v uint16) {
	b[0] = byte(v >> 8)
	b[1] = byte(v)
}

func triple(b []byte) Triple {
	return Triple{
		X: Int16BE(b[0], b[1]),
		Y: Int16BE(b[2], b[3]),
		Z: Int16BE(b[4], b[5]),
	}
}

func putTriple(b []byte, t Triple) {
	putUint16BE(b[0:], uint16(t.X))
	putUint16BE(b[2:], uint16(t.Y))
	putUint16BE(b[4:], uint16(t.Z))
}
