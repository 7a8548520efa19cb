// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package driver

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"

	"periph.io/x/gpiodriver/native"
)

// OpenPin reserves pin as an input.
func (d *Driver) OpenPin(pin int) error {
	if err := d.lockLive(); err != nil {
		return err
	}
	defer d.mu.Unlock()
	if _, ok := d.pins[pin]; ok {
		return fmt.Errorf("OpenPin(%d): %w", pin, ErrAlreadyInUse)
	}
	if d.busyLocked(pin) {
		return fmt.Errorf("OpenPin(%d): %w: pin is listening for events", pin, ErrAlreadyInUse)
	}
	l, err := d.chip.RequestInput(pin, d.consumer)
	if err != nil {
		return requestError("OpenPin", pin, err)
	}
	d.pins[pin] = &pinEntry{handle: native.Own(l), mode: Input}
	d.log.WithField("pin", pin).Debug("pin opened")
	return nil
}

// ClosePin releases pin. Closing a pin that isn't open is a no-op.
func (d *Driver) ClosePin(pin int) error {
	if err := d.lockLive(); err != nil {
		return err
	}
	e, ok := d.pins[pin]
	delete(d.pins, pin)
	d.mu.Unlock()
	if !ok {
		return nil
	}
	if err := e.handle.Release(); err != nil {
		return ioError("ClosePin", pin, err)
	}
	d.log.WithField("pin", pin).Debug("pin closed")
	return nil
}

// IsPinModeSupported returns true for Input and Output.
func (d *Driver) IsPinModeSupported(pin int, mode PinMode) bool {
	return mode == Input || mode == Output
}

// SetPinMode changes the direction of an open pin.
func (d *Driver) SetPinMode(pin int, mode PinMode) error {
	var dir native.LineDir
	switch mode {
	case Input:
		dir = native.LineInput
	case Output:
		dir = native.LineOutput
	case InputPullDown, InputPullUp:
		return fmt.Errorf("SetPinMode(%d, %s): %w", pin, mode, ErrUnsupportedMode)
	default:
		return fmt.Errorf("SetPinMode(%d, %s): %w", pin, mode, ErrInvalidArgument)
	}
	if err := d.lockLive(); err != nil {
		return err
	}
	defer d.mu.Unlock()
	e, ok := d.pins[pin]
	if !ok {
		return fmt.Errorf("SetPinMode(%d): %w", pin, ErrNotOpen)
	}
	if err := e.handle.Line().SetDirection(dir); err != nil {
		return ioError("SetPinMode", pin, err)
	}
	e.mode = mode
	return nil
}

// GetPinMode returns the direction the chip reports for an open pin.
func (d *Driver) GetPinMode(pin int) (PinMode, error) {
	if err := d.lockLive(); err != nil {
		return Input, err
	}
	defer d.mu.Unlock()
	e, ok := d.pins[pin]
	if !ok {
		return Input, fmt.Errorf("GetPinMode(%d): %w", pin, ErrNotOpen)
	}
	dir, err := e.handle.Line().Direction()
	if err != nil {
		return Input, ioError("GetPinMode", pin, err)
	}
	if dir == native.LineOutput {
		return Output, nil
	}
	return Input, nil
}

// Read returns the current level of an open pin.
func (d *Driver) Read(pin int) (gpio.Level, error) {
	if err := d.lockLive(); err != nil {
		return gpio.Low, err
	}
	defer d.mu.Unlock()
	e, ok := d.pins[pin]
	if !ok {
		return gpio.Low, fmt.Errorf("Read(%d): %w", pin, ErrNotOpen)
	}
	l, err := e.handle.Line().Value()
	if err != nil {
		return gpio.Low, ioError("Read", pin, err)
	}
	return l, nil
}

// Write drives an open output pin. Writing to a pin that isn't open does
// nothing.
func (d *Driver) Write(pin int, l gpio.Level) error {
	if err := d.lockLive(); err != nil {
		return err
	}
	defer d.mu.Unlock()
	e, ok := d.pins[pin]
	if !ok {
		return nil
	}
	if err := e.handle.Line().SetValue(l); err != nil {
		return ioError("Write", pin, err)
	}
	return nil
}

// mode returns the last mode set on an open pin.
func (d *Driver) mode(pin int) (PinMode, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.pins[pin]
	if !ok {
		return Input, false
	}
	return e.mode, true
}
