// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package native defines the capability set a GPIO backend must provide to
// the driver: chip enumeration and acquisition, line reservation for input,
// output or edge events, value access, and edge waiting.
//
// Every backend in this module (gpioioctl, gpiocdev, sysfs, rpio, ftdi, sim)
// implements these interfaces and registers itself with Register from an
// init() function, so the driver can select one by name at configuration
// time.
package native

import (
	"time"

	"periph.io/x/conn/v3/gpio"
)

// LineDir is the configured direction of a Line.
type LineDir uint32

const (
	LineDirNotSet LineDir = 0
	LineInput     LineDir = 1
	LineOutput    LineDir = 2
)

// Label is a printable name for an enumerated value.
type Label string

var DirectionLabels = []Label{"NotSet", "Input", "Output"}

func (d LineDir) String() string {
	if int(d) < len(DirectionLabels) {
		return string(DirectionLabels[d])
	}
	return "LineDir(?)"
}

// Backend is one way of reaching GPIO hardware.
type Backend interface {
	// String returns the backend name, as used in configuration.
	String() string
	// Chips returns the names of the chips that may be opened, in the
	// backend's preferred order.
	Chips() ([]string, error)
	// OpenChip acquires the named chip.
	OpenChip(name string) (Chip, error)
}

// Chip is an acquired GPIO controller.
//
// Request* methods reserve a single line. A line can only be reserved once
// at a time; a second reservation fails with an error wrapping ErrBusy.
type Chip interface {
	Name() string
	LineCount() int
	RequestInput(offset int, consumer string) (Line, error)
	RequestOutput(offset int, consumer string, initial gpio.Level) (Line, error)
	// RequestBothEdges reserves the line as an input reporting rising and
	// falling edges.
	RequestBothEdges(offset int, consumer string) (Line, error)
	Close() error
}

// Line is a reserved GPIO line.
//
// Wait and ReadEvent are only valid on lines obtained through
// RequestBothEdges; other lines return ErrNotEdge.
type Line interface {
	Offset() int
	Value() (gpio.Level, error)
	SetValue(l gpio.Level) error
	Direction() (LineDir, error)
	SetDirection(dir LineDir) error
	// Wait blocks until an edge event is pending or timeout expires. It
	// returns true if ReadEvent will not block.
	Wait(timeout time.Duration) (bool, error)
	// ReadEvent consumes the oldest pending edge event and returns
	// gpio.RisingEdge or gpio.FallingEdge.
	ReadEvent() (gpio.Edge, error)
	// Close releases the reservation.
	Close() error
}
