// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package driver

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/pin"
)

// Pin exposes one line of a Driver as a gpio.PinIO.
//
// Regular I/O goes through OpenPin/SetPinMode/Read/Write, opening the pin on
// first use. WaitForEdge calls WaitForEvent, so edges happening between two
// calls are not seen.
type Pin struct {
	d      *Driver
	number int
	name   string

	mu   sync.Mutex
	edge gpio.Edge
	halt context.CancelFunc
}

// Pin returns a gpio.PinIO view of line n. The pin is not opened until
// used.
func (d *Driver) Pin(n int) *Pin {
	return &Pin{d: d, number: n, name: d.chip.Name() + "/" + strconv.Itoa(n)}
}

// RegisterPins registers every line of the chip in gpioreg as prefix
// followed by the line offset. They are unregistered by Dispose.
func (d *Driver) RegisterPins(prefix string) error {
	if prefix == "" {
		return fmt.Errorf("RegisterPins: %w: empty prefix", ErrInvalidArgument)
	}
	if err := d.lockLive(); err != nil {
		return err
	}
	d.mu.Unlock()
	for i := 0; i < d.lines; i++ {
		p := d.Pin(i)
		p.name = prefix + strconv.Itoa(i)
		if err := gpioreg.Register(p); err != nil {
			return err
		}
		if err := d.lockLive(); err != nil {
			// Disposed concurrently; its unregistration pass missed this name.
			_ = gpioreg.Unregister(p.name)
			return err
		}
		d.registered = append(d.registered, p.name)
		d.mu.Unlock()
	}
	return nil
}

// String implements conn.Resource.
func (p *Pin) String() string {
	return p.name
}

// Halt implements conn.Resource.
//
// It interrupts a pending WaitForEdge.
func (p *Pin) Halt() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.halt != nil {
		p.halt()
	}
	return nil
}

// Name implements pin.Pin.
func (p *Pin) Name() string {
	return p.name
}

// Number implements pin.Pin.
func (p *Pin) Number() int {
	return p.number
}

// Function implements pin.Pin.
func (p *Pin) Function() string {
	return string(p.Func())
}

// Func implements pin.PinFunc.
func (p *Pin) Func() pin.Func {
	mode, err := p.d.GetPinMode(p.number)
	if err != nil {
		return pin.FuncNone
	}
	l, err := p.d.Read(p.number)
	if err != nil {
		return pin.FuncNone
	}
	if mode == Output {
		if l {
			return gpio.OUT_HIGH
		}
		return gpio.OUT_LOW
	}
	if l {
		return gpio.IN_HIGH
	}
	return gpio.IN_LOW
}

// SupportedFuncs implements pin.PinFunc.
func (p *Pin) SupportedFuncs() []pin.Func {
	return []pin.Func{gpio.IN, gpio.OUT}
}

// SetFunc implements pin.PinFunc.
func (p *Pin) SetFunc(f pin.Func) error {
	switch f {
	case gpio.IN:
		return p.In(gpio.PullNoChange, gpio.NoEdge)
	case gpio.OUT_HIGH:
		return p.Out(gpio.High)
	case gpio.OUT, gpio.OUT_LOW:
		return p.Out(gpio.Low)
	default:
		return p.wrap(fmt.Errorf("%w: function %q", ErrInvalidArgument, f))
	}
}

// In implements gpio.PinIn.
//
// With an edge other than gpio.NoEdge the pin is closed, so that
// WaitForEdge can reserve it for events.
func (p *Pin) In(pull gpio.Pull, edge gpio.Edge) error {
	if pull != gpio.PullNoChange && pull != gpio.Float {
		return p.wrap(fmt.Errorf("%w: pull %s", ErrUnsupportedMode, pull))
	}
	p.mu.Lock()
	p.edge = edge
	p.mu.Unlock()
	if edge != gpio.NoEdge {
		return p.wrap(p.d.ClosePin(p.number))
	}
	if err := p.ensureOpen(); err != nil {
		return p.wrap(err)
	}
	return p.wrap(p.d.SetPinMode(p.number, Input))
}

// Read implements gpio.PinIn.
func (p *Pin) Read() gpio.Level {
	if err := p.ensureOpen(); err != nil {
		return gpio.Low
	}
	l, err := p.d.Read(p.number)
	if err != nil {
		return gpio.Low
	}
	return l
}

// WaitForEdge implements gpio.PinIn.
//
// A zero or negative timeout waits until an edge or Halt.
func (p *Pin) WaitForEdge(timeout time.Duration) bool {
	p.mu.Lock()
	edge := p.edge
	if edge == gpio.NoEdge {
		p.mu.Unlock()
		return false
	}
	var ctx context.Context
	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), timeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	p.halt = cancel
	p.mu.Unlock()
	defer cancel()
	res, err := p.d.WaitForEvent(ctx, p.number, edge)
	return err == nil && res.Outcome == EventMatched
}

// Pull implements gpio.PinIn.
func (p *Pin) Pull() gpio.Pull {
	return gpio.PullNoChange
}

// DefaultPull implements gpio.PinIn.
func (p *Pin) DefaultPull() gpio.Pull {
	return gpio.PullNoChange
}

// Out implements gpio.PinOut.
func (p *Pin) Out(l gpio.Level) error {
	if err := p.ensureOpen(); err != nil {
		return p.wrap(err)
	}
	if mode, _ := p.d.mode(p.number); mode != Output {
		if err := p.d.SetPinMode(p.number, Output); err != nil {
			return p.wrap(err)
		}
	}
	return p.wrap(p.d.Write(p.number, l))
}

// PWM implements gpio.PinOut.
func (p *Pin) PWM(gpio.Duty, physic.Frequency) error {
	return p.wrap(errors.New("pwm is not supported"))
}

func (p *Pin) ensureOpen() error {
	if _, ok := p.d.mode(p.number); ok {
		return nil
	}
	return p.d.OpenPin(p.number)
}

func (p *Pin) wrap(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("gpiodriver (%s): %w", p, err)
}

var _ gpio.PinIO = &Pin{}
var _ pin.PinFunc = &Pin{}
