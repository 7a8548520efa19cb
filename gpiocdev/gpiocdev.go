//go:build linux

// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package gpiocdev

import (
	"errors"
	"fmt"
	"sync"
	"time"

	cdev "github.com/warthog618/go-gpiocdev"
	"periph.io/x/conn/v3/driver"
	"periph.io/x/conn/v3/driver/driverreg"
	"periph.io/x/conn/v3/gpio"

	"periph.io/x/gpiodriver/internal/eventq"
	"periph.io/x/gpiodriver/native"
)

// EventBufferSize is the number of edges a line holds before the oldest is
// dropped.
const EventBufferSize = 16

// Backend opens chips through go-gpiocdev.
type Backend struct {
	// chips is replaced in tests.
	chips func() []string
}

// String implements native.Backend and driverreg.Driver.
func (b *Backend) String() string {
	return "gpiocdev"
}

// Prerequisites implements driverreg.Driver.
func (b *Backend) Prerequisites() []string {
	return nil
}

// After implements driverreg.Driver.
func (b *Backend) After() []string {
	return nil
}

// Init implements driverreg.Driver.
func (b *Backend) Init() (bool, error) {
	if len(b.chips()) == 0 {
		return false, errors.New("gpiocdev: no GPIO chips found")
	}
	return true, nil
}

// Chips implements native.Backend.
func (b *Backend) Chips() ([]string, error) {
	names := b.chips()
	if len(names) == 0 {
		return nil, native.ErrNoChip
	}
	return names, nil
}

// OpenChip implements native.Backend.
func (b *Backend) OpenChip(name string) (native.Chip, error) {
	c, err := cdev.NewChip(name)
	if err != nil {
		return nil, fmt.Errorf("gpiocdev: %s: %w", name, err)
	}
	return &Chip{c: c, lines: map[*Line]struct{}{}}, nil
}

// Chip wraps a go-gpiocdev chip.
type Chip struct {
	c *cdev.Chip

	mu     sync.Mutex
	lines  map[*Line]struct{}
	closed bool
}

// Name implements native.Chip.
func (c *Chip) Name() string {
	return c.c.Name
}

// Label returns the chip label.
func (c *Chip) Label() string {
	return c.c.Label
}

// LineCount implements native.Chip.
func (c *Chip) LineCount() int {
	return c.c.Lines()
}

// RequestInput implements native.Chip.
func (c *Chip) RequestInput(offset int, consumer string) (native.Line, error) {
	return c.request(offset, nil, cdev.WithConsumer(consumer), cdev.AsInput)
}

// RequestOutput implements native.Chip.
func (c *Chip) RequestOutput(offset int, consumer string, initial gpio.Level) (native.Line, error) {
	return c.request(offset, nil, cdev.WithConsumer(consumer), cdev.AsOutput(levelToInt(initial)))
}

// RequestBothEdges implements native.Chip.
func (c *Chip) RequestBothEdges(offset int, consumer string) (native.Line, error) {
	q := eventq.New(EventBufferSize)
	return c.request(offset, q, cdev.WithConsumer(consumer), cdev.AsInput, cdev.WithBothEdges, cdev.WithEventHandler(eventSink(q)))
}

func (c *Chip) request(offset int, q *eventq.Queue, opts ...cdev.LineReqOption) (*Line, error) {
	if offset < 0 || offset >= c.c.Lines() {
		return nil, fmt.Errorf("gpiocdev: %s line %d: %w", c.c.Name, offset, native.ErrOutOfRange)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, native.ErrClosed
	}
	l, err := c.c.RequestLine(offset, opts...)
	if err != nil {
		return nil, native.WrapBusy(fmt.Errorf("gpiocdev: %s line %d: %w", c.c.Name, offset, err))
	}
	line := &Line{chip: c, l: l, offset: offset, events: q}
	c.lines[line] = struct{}{}
	return line, nil
}

// Close implements native.Chip.
func (c *Chip) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return native.ErrClosed
	}
	c.closed = true
	lines := make([]*Line, 0, len(c.lines))
	for l := range c.lines {
		lines = append(lines, l)
	}
	c.mu.Unlock()
	var errs []error
	for _, l := range lines {
		if err := l.Close(); err != nil && !errors.Is(err, native.ErrClosed) {
			errs = append(errs, err)
		}
	}
	errs = append(errs, c.c.Close())
	return errors.Join(errs...)
}

// Line wraps a go-gpiocdev line request.
type Line struct {
	chip   *Chip
	l      *cdev.Line
	offset int
	events *eventq.Queue

	mu     sync.Mutex
	closed bool
}

// Offset implements native.Line.
func (l *Line) Offset() int {
	return l.offset
}

// Value implements native.Line.
func (l *Line) Value() (gpio.Level, error) {
	if l.isClosed() {
		return gpio.Low, native.ErrClosed
	}
	v, err := l.l.Value()
	if err != nil {
		return gpio.Low, fmt.Errorf("gpiocdev: line %d: %w", l.offset, err)
	}
	return v != 0, nil
}

// SetValue implements native.Line.
func (l *Line) SetValue(v gpio.Level) error {
	if l.isClosed() {
		return native.ErrClosed
	}
	if err := l.l.SetValue(levelToInt(v)); err != nil {
		return fmt.Errorf("gpiocdev: line %d: %w", l.offset, err)
	}
	return nil
}

// Direction implements native.Line.
func (l *Line) Direction() (native.LineDir, error) {
	if l.isClosed() {
		return native.LineDirNotSet, native.ErrClosed
	}
	info, err := l.l.Info()
	if err != nil {
		return native.LineDirNotSet, fmt.Errorf("gpiocdev: line %d: %w", l.offset, err)
	}
	switch info.Config.Direction {
	case cdev.LineDirectionInput:
		return native.LineInput, nil
	case cdev.LineDirectionOutput:
		return native.LineOutput, nil
	default:
		return native.LineDirNotSet, nil
	}
}

// SetDirection implements native.Line. A line switched to output keeps the
// level it read as an input.
func (l *Line) SetDirection(dir native.LineDir) error {
	if l.isClosed() {
		return native.ErrClosed
	}
	if l.events != nil {
		return fmt.Errorf("gpiocdev: line %d: edge requests keep their configuration", l.offset)
	}
	var err error
	switch dir {
	case native.LineInput:
		err = l.l.Reconfigure(cdev.AsInput)
	case native.LineOutput:
		var v int
		if v, err = l.l.Value(); err == nil {
			err = l.l.Reconfigure(cdev.AsOutput(v))
		}
	default:
		return fmt.Errorf("gpiocdev: invalid direction %s", dir)
	}
	if err != nil {
		return fmt.Errorf("gpiocdev: line %d: %w", l.offset, err)
	}
	return nil
}

// Wait implements native.Line.
func (l *Line) Wait(timeout time.Duration) (bool, error) {
	if l.events == nil {
		return false, native.ErrNotEdge
	}
	if l.isClosed() {
		return false, native.ErrClosed
	}
	return l.events.Wait(timeout), nil
}

// ReadEvent implements native.Line.
func (l *Line) ReadEvent() (gpio.Edge, error) {
	if l.events == nil {
		return gpio.NoEdge, native.ErrNotEdge
	}
	if l.isClosed() {
		return gpio.NoEdge, native.ErrClosed
	}
	e, ok := l.events.Pop()
	if !ok {
		return gpio.NoEdge, fmt.Errorf("gpiocdev: line %d: no pending event", l.offset)
	}
	return e, nil
}

// Close implements native.Line.
func (l *Line) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return native.ErrClosed
	}
	l.closed = true
	l.mu.Unlock()
	err := l.l.Close()
	if l.events != nil {
		l.events.Close()
	}
	l.chip.mu.Lock()
	delete(l.chip.lines, l)
	l.chip.mu.Unlock()
	if err != nil {
		return fmt.Errorf("gpiocdev: line %d: %w", l.offset, err)
	}
	return nil
}

func (l *Line) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// eventSink returns the go-gpiocdev handler feeding q. It runs on the
// library's event reader goroutine.
func eventSink(q *eventq.Queue) func(cdev.LineEvent) {
	return func(evt cdev.LineEvent) {
		if e, ok := edgeOf(evt.Type); ok {
			q.Push(e)
		}
	}
}

func edgeOf(t cdev.LineEventType) (gpio.Edge, bool) {
	switch t {
	case cdev.LineEventRisingEdge:
		return gpio.RisingEdge, true
	case cdev.LineEventFallingEdge:
		return gpio.FallingEdge, true
	default:
		return gpio.NoEdge, false
	}
}

func levelToInt(l gpio.Level) int {
	if l {
		return 1
	}
	return 0
}

// Default is the backend registered as "gpiocdev".
var Default = &Backend{chips: cdev.Chips}

func init() {
	native.MustRegister(Default)
	driverreg.MustRegister(Default)
}

var _ native.Backend = &Backend{}
var _ native.Chip = &Chip{}
var _ native.Line = &Line{}
var _ driver.Impl = &Backend{}
