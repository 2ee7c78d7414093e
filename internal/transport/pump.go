// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
)

// Policy decides what happens when frames arrive faster than they are consumed.
type Policy struct {
	Name  string
	Depth int
}

// PolicyLatest keeps only the newest unconsumed frame.
func PolicyLatest() Policy { return Policy{Name: "latest", Depth: 1} }

// PolicyQueue keeps up to depth frames and drops the oldest on overflow.
func PolicyQueue(depth int) Policy { return Policy{Name: "queue", Depth: depth} }

// ParsePolicy maps a config name to a Policy.
func ParsePolicy(name string, depth int) (Policy, error) {
	switch name {
	case "", "latest":
		return PolicyLatest(), nil
	case "queue":
		if depth < 1 {
			return Policy{}, fmt.Errorf("ingest policy queue: depth %d must be at least 1", depth)
		}
		return PolicyQueue(depth), nil
	default:
		return Policy{}, fmt.Errorf("unknown ingest policy %q (want latest or queue)", name)
	}
}

// Pump decouples a blocking Source from the consumer through a bounded buffer.
// The buffer is owned by a single forwarding goroutine, so a frame is only
// dropped when Depth frames are actually waiting.
type Pump struct {
	policy  Policy
	out     chan []byte
	dropped atomic.Uint64
}

// NewPump prepares a pump for p.
func NewPump(p Policy) *Pump {
	if p.Depth < 1 {
		p.Depth = 1
	}
	return &Pump{policy: p, out: make(chan []byte)}
}

// Frames is closed once Run has returned and the buffered frames have been
// delivered, or as soon as the context passed to Run is cancelled.
func (p *Pump) Frames() <-chan []byte { return p.out }

// Dropped counts frames discarded by the overflow policy.
func (p *Pump) Dropped() uint64 { return p.dropped.Load() }

// Run reads src until ctx is cancelled or src fails. The source is closed on
// return. End of stream is not an error.
func (p *Pump) Run(ctx context.Context, src Source) error {
	in := make(chan []byte)
	go p.forward(ctx, in)
	defer close(in)

	readCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-readCtx.Done()
		src.Close()
	}()

	for {
		buf, err := src.Next(readCtx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) || errors.Is(err, ErrSourceClosed) {
				return nil
			}
			return fmt.Errorf("pump: %w", err)
		}
		select {
		case in <- buf:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// forward buffers frames from in and offers the oldest to the consumer.
func (p *Pump) forward(ctx context.Context, in <-chan []byte) {
	defer close(p.out)

	queue := make([][]byte, 0, p.policy.Depth)
	for in != nil || len(queue) > 0 {
		var send chan<- []byte
		var head []byte
		if len(queue) > 0 {
			send, head = p.out, queue[0]
		}

		select {
		case <-ctx.Done():
			return
		case buf, ok := <-in:
			if !ok {
				in = nil
				continue
			}
			if len(queue) == p.policy.Depth {
				queue = append(queue[:0], queue[1:]...)
				n := p.dropped.Add(1)
				log.WithFields(log.Fields{"policy": p.policy.Name, "dropped": n}).Debug("ingest buffer full, dropped oldest frame")
			}
			queue = append(queue, buf)
		case send <- head:
			queue = append(queue[:0], queue[1:]...)
		}
	}
}
