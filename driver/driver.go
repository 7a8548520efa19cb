// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package driver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/driver/driverreg"
	"periph.io/x/conn/v3/gpio/gpioreg"

	"periph.io/x/gpiodriver/native"
)

// driverregInit is replaced in tests.
var driverregInit = driverreg.Init

// PinMode is the I/O direction of an open pin.
type PinMode int

const (
	Input PinMode = iota
	Output
	InputPullDown
	InputPullUp
)

func (m PinMode) String() string {
	switch m {
	case Input:
		return "Input"
	case Output:
		return "Output"
	case InputPullDown:
		return "InputPullDown"
	case InputPullUp:
		return "InputPullUp"
	default:
		return fmt.Sprintf("PinMode(%d)", int(m))
	}
}

// Driver manages the pins of one chip.
//
// All methods are safe for concurrent use.
type Driver struct {
	backend  native.Backend
	chip     native.Chip
	lines    int
	consumer string
	timeout  time.Duration
	log      *logrus.Entry
	onFault  func(pin int, err error)

	mu         sync.Mutex
	disposed   bool
	pins       map[int]*pinEntry
	subs       map[int]*subscription
	waits      map[int]context.CancelFunc
	waiting    sync.WaitGroup
	registered []string
}

type pinEntry struct {
	handle *native.Handle
	mode   PinMode
}

// New validates cfg, selects the backend it names and opens a chip.
func New(cfg Config) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	b, err := resolveBackend(cfg.Backend)
	if err != nil {
		return nil, err
	}
	return open(b, cfg)
}

// Open opens a chip of backend b. cfg.Backend is ignored.
func Open(b native.Backend, cfg Config) (*Driver, error) {
	if b == nil {
		return nil, fmt.Errorf("%w: nil backend", ErrInvalidArgument)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return open(b, cfg.withDefaults())
}

func open(b native.Backend, cfg Config) (*Driver, error) {
	log := cfg.Logger.WithField("backend", b.String())
	c, err := acquireChip(b, cfg.Chip)
	if err != nil {
		log.WithError(err).Error("failed to open a GPIO chip")
		return nil, err
	}
	d := &Driver{
		backend:  b,
		chip:     c,
		lines:    c.LineCount(),
		consumer: native.TrimConsumer(cfg.Consumer),
		timeout:  cfg.PollTimeout,
		log:      log.WithField("chip", c.Name()),
		onFault:  cfg.OnFault,
		pins:     map[int]*pinEntry{},
		subs:     map[int]*subscription{},
		waits:    map[int]context.CancelFunc{},
	}
	d.log.WithField("lines", d.lines).Debug("chip opened")
	return d, nil
}

// acquireChip opens name, or the first chip of b that can be opened when
// name is empty.
func acquireChip(b native.Backend, name string) (native.Chip, error) {
	if name != "" {
		c, err := b.OpenChip(name)
		if err != nil {
			return nil, fmt.Errorf("open chip %q: %w: %w", name, ErrResourceUnavailable, err)
		}
		return c, nil
	}
	names, err := b.Chips()
	if err != nil {
		return nil, fmt.Errorf("enumerate chips: %w: %w", ErrResourceUnavailable, err)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrResourceUnavailable, native.ErrNoChip)
	}
	var errs []error
	for _, n := range names {
		c, err := b.OpenChip(n)
		if err == nil {
			return c, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", n, err))
	}
	return nil, fmt.Errorf("no chip could be opened: %w: %w", ErrResourceUnavailable, errors.Join(errs...))
}

func (d *Driver) String() string {
	return d.backend.String() + "/" + d.chip.Name()
}

// Chip returns the name of the chip in use.
func (d *Driver) Chip() string {
	return d.chip.Name()
}

// PinCount returns the number of lines of the chip.
func (d *Driver) PinCount() int {
	return d.lines
}

// ConvertPinNumberToLogicalNumberingScheme always fails: pins are only
// addressed by their line offset on the chip.
func (d *Driver) ConvertPinNumberToLogicalNumberingScheme(pin int) (int, error) {
	return 0, fmt.Errorf("%w: chip lines have no physical numbering scheme", ErrInvalidOperation)
}

// Dispose stops every polling goroutine, releases every line and the chip.
//
// Errors are logged, not returned. Calling Dispose more than once is a no-op.
func (d *Driver) Dispose() {
	d.mu.Lock()
	if d.disposed {
		d.mu.Unlock()
		return
	}
	d.disposed = true
	subs := d.subs
	pins := d.pins
	registered := d.registered
	for _, cancel := range d.waits {
		cancel()
	}
	d.subs = nil
	d.pins = nil
	d.registered = nil
	d.mu.Unlock()

	for _, name := range registered {
		if err := gpioreg.Unregister(name); err != nil {
			d.log.WithError(err).WithField("name", name).Warn("failed to unregister pin")
		}
	}
	for pin, s := range subs {
		if err := s.stop(); err != nil {
			d.log.WithError(err).WithField("pin", pin).Warn("failed to release event line")
		}
	}
	for pin, e := range pins {
		if err := e.handle.Release(); err != nil {
			d.log.WithError(err).WithField("pin", pin).Warn("failed to release line")
		}
	}
	d.waiting.Wait()
	if err := d.chip.Close(); err != nil {
		d.log.WithError(err).Warn("failed to close chip")
	}
	d.log.Debug("disposed")
}

// Close calls Dispose. It always returns nil.
func (d *Driver) Close() error {
	d.Dispose()
	return nil
}

// lockLive locks d.mu and fails if the driver is disposed. The lock is only
// held on success.
func (d *Driver) lockLive() error {
	d.mu.Lock()
	if d.disposed {
		d.mu.Unlock()
		return ErrDisposed
	}
	return nil
}

// busyLocked reports whether pin is already used by this driver for
// events.
func (d *Driver) busyLocked(pin int) bool {
	if _, ok := d.subs[pin]; ok {
		return true
	}
	_, ok := d.waits[pin]
	return ok
}

// releaseOpenLocked drops the regular I/O reservation of pin, if any.
func (d *Driver) releaseOpenLocked(pin int) {
	e, ok := d.pins[pin]
	if !ok {
		return
	}
	delete(d.pins, pin)
	if err := e.handle.Release(); err != nil {
		d.log.WithError(err).WithField("pin", pin).Warn("failed to release line")
	}
}
