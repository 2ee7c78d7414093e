// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package fault holds the error kinds shared by the decode, conditioning and
// fusion stages. Callers match them with errors.Is; every stage wraps them
// with its own context.
package fault

import (
	"errors"
	"math"
)

var (
	// ErrFrameTooShort is returned when a notification buffer is shorter than
	// the fixed frame layout.
	ErrFrameTooShort = errors.New("frame too short")

	// ErrInvalidNumeric is returned when a NaN or Inf reaches a quaternion or
	// filter input.
	ErrInvalidNumeric = errors.New("invalid numeric value")

	// ErrConfigOutOfRange is returned at construction time for gains, noise
	// terms or ranges outside their valid domain.
	ErrConfigOutOfRange = errors.New("config out of range")
)

// Finite reports whether every value is neither NaN nor ±Inf.
func Finite(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
