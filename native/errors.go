// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package native

import (
	"errors"
	"syscall"
)

var (
	// ErrBusy is returned when a line is already reserved.
	ErrBusy = errors.New("native: line busy")
	// ErrOutOfRange is returned for a line offset the chip doesn't have.
	ErrOutOfRange = errors.New("native: line offset out of range")
	// ErrClosed is returned by operations on a released line or closed chip.
	ErrClosed = errors.New("native: closed")
	// ErrNotEdge is returned by Wait/ReadEvent on a line without edge
	// detection.
	ErrNotEdge = errors.New("native: line not requested for edge events")
	// ErrNoChip is returned when a backend finds nothing to open.
	ErrNoChip = errors.New("native: no chip available")
)

// busyError keeps the original cause visible to errors.Is.
type busyError struct {
	cause error
}

func (e *busyError) Error() string {
	return ErrBusy.Error() + ": " + e.cause.Error()
}

func (e *busyError) Unwrap() []error {
	return []error{ErrBusy, e.cause}
}

// WrapBusy converts kernel EBUSY into an error matching ErrBusy. Other
// errors are returned unchanged.
func WrapBusy(err error) error {
	if err == nil || errors.Is(err, ErrBusy) {
		return err
	}
	if errors.Is(err, syscall.EBUSY) {
		return &busyError{cause: err}
	}
	return err
}
