// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package transport delivers raw stylus notification frames to the pipeline.
package transport

import (
	"context"
	"errors"
)

// ErrSourceClosed is returned by Next after Close.
var ErrSourceClosed = errors.New("source closed")

// Source yields one notification buffer per call, in arrival order. Next may
// block until a frame arrives; Close unblocks it.
type Source interface {
	Next(ctx context.Context) ([]byte, error)
	Close() error
}
