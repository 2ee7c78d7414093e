// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package transport

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	serial "github.com/jacobsa/go-serial/serial"
	log "github.com/sirupsen/logrus"
)

// NotifyPrefix marks notification lines written by the BLE bridge. Lines
// without it are accepted as bare hex.
const NotifyPrefix = "NTF>"

// SerialConfig selects the bridge port.
type SerialConfig struct {
	Port string `mapstructure:"port" yaml:"port"`
	Baud uint   `mapstructure:"baud" yaml:"baud"`
}

// ErrNotAFrame is returned by ParseLine for lines that carry no frame.
var ErrNotAFrame = errors.New("not a frame line")

// ParseLine extracts the frame bytes from one bridge line. Blank lines,
// comment lines starting with '#' and lines with another "XXX>" prefix yield
// ErrNotAFrame.
func ParseLine(line string) ([]byte, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return nil, ErrNotAFrame
	}
	if rest, ok := strings.CutPrefix(line, NotifyPrefix); ok {
		line = strings.TrimSpace(rest)
	} else if strings.Contains(line, ">") {
		return nil, ErrNotAFrame
	}
	line = strings.ReplaceAll(line, " ", "")

	buf, err := hex.DecodeString(line)
	if err != nil {
		return nil, fmt.Errorf("parse line %q: %w", line, err)
	}
	return buf, nil
}

// LineSource reads hex encoded frames, one per line, from a stream.
type LineSource struct {
	name   string
	rc     io.ReadCloser
	reader *bufio.Reader

	closeOnce sync.Once
	closed    chan struct{}
}

// NewLineSource wraps rc. name is used in log fields.
func NewLineSource(name string, rc io.ReadCloser) *LineSource {
	return &LineSource{
		name:   name,
		rc:     rc,
		reader: bufio.NewReader(rc),
		closed: make(chan struct{}),
	}
}

// OpenSerial opens the bridge port at 8N1.
func OpenSerial(cfg SerialConfig) (*LineSource, error) {
	opts := serial.OpenOptions{
		PortName:              cfg.Port,
		BaudRate:              cfg.Baud,
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 0,
	}

	port, err := serial.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", cfg.Port, err)
	}
	log.WithField("port", cfg.Port).Infof("bridge serial port opened at %d baud", cfg.Baud)
	return NewLineSource(cfg.Port, port), nil
}

// Next returns the next frame line, skipping lines that carry no frame.
func (s *LineSource) Next(ctx context.Context) ([]byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		line, err := s.reader.ReadString('\n')
		if err != nil {
			select {
			case <-s.closed:
				return nil, ErrSourceClosed
			default:
			}
			if errors.Is(err, io.EOF) && strings.TrimSpace(line) != "" {
				// last line without newline
				if buf, perr := ParseLine(line); perr == nil {
					return buf, nil
				}
			}
			return nil, err
		}

		buf, err := ParseLine(line)
		switch {
		case errors.Is(err, ErrNotAFrame):
			continue
		case err != nil:
			log.WithField("source", s.name).Debugf("skipping malformed line: %v", err)
			continue
		}
		return buf, nil
	}
}

// Close closes the underlying stream.
func (s *LineSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.rc.Close()
	})
	return err
}
