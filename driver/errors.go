// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package driver

import (
	"errors"
	"fmt"

	"periph.io/x/gpiodriver/native"
)

var (
	// ErrResourceUnavailable is returned when no chip or line can be
	// obtained.
	ErrResourceUnavailable = errors.New("gpiodriver: resource unavailable")
	// ErrAlreadyInUse is returned when a pin is already reserved, by this
	// driver or by someone else.
	ErrAlreadyInUse = errors.New("gpiodriver: already in use")
	// ErrUnsupportedMode is returned for pull-up and pull-down modes.
	ErrUnsupportedMode = errors.New("gpiodriver: unsupported pin mode")
	// ErrIO is returned when a native call fails.
	ErrIO = errors.New("gpiodriver: i/o error")
	// ErrInvalidOperation is returned when an operation doesn't apply to
	// the pin's current state.
	ErrInvalidOperation = errors.New("gpiodriver: invalid operation")
	// ErrInvalidArgument is returned for an edge or mode value the
	// operation doesn't accept.
	ErrInvalidArgument = errors.New("gpiodriver: invalid argument")
	// ErrConfig is returned for an invalid Config.
	ErrConfig = errors.New("gpiodriver: invalid configuration")

	// ErrNotOpen is returned by operations needing an open pin.
	ErrNotOpen = fmt.Errorf("%w: pin not open", ErrInvalidOperation)
	// ErrNotListening is returned by RemoveCallback and PollingFault for a
	// pin without callbacks.
	ErrNotListening = fmt.Errorf("%w: pin is not listening for events", ErrInvalidOperation)
	// ErrDisposed is returned by every operation after Dispose.
	ErrDisposed = fmt.Errorf("%w: driver disposed", ErrInvalidOperation)
)

// requestError maps a failed native reservation to the error taxonomy.
func requestError(op string, pin int, err error) error {
	if errors.Is(err, native.ErrBusy) {
		return fmt.Errorf("%s(%d): %w: %w", op, pin, ErrAlreadyInUse, err)
	}
	return fmt.Errorf("%s(%d): %w: %w", op, pin, ErrResourceUnavailable, err)
}

func ioError(op string, pin int, err error) error {
	return fmt.Errorf("%s(%d): %w: %w", op, pin, ErrIO, err)
}
