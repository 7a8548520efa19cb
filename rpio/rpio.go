//go:build linux

// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package rpio

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/stianeikeland/go-rpio/v4"
	"periph.io/x/conn/v3/driver"
	"periph.io/x/conn/v3/driver/driverreg"
	"periph.io/x/conn/v3/gpio"

	"periph.io/x/gpiodriver/native"
)

// ChipName is the only chip of the backend.
const ChipName = "bcm2835"

// NumLines is the number of GPIO lines of the BCM283x register bank.
const NumLines = 54

// pollInterval is how often the event detect register is sampled while
// waiting.
const pollInterval = 100 * time.Microsecond

// mem is the register access the backend needs.
type mem interface {
	Open() error
	Close() error
	Input(n int)
	Output(n int)
	Read(n int) gpio.Level
	Write(n int, l gpio.Level)
	Detect(n int, on bool)
	EdgeDetected(n int) bool
}

// gpiomem implements mem with go-rpio.
type gpiomem struct{}

func (gpiomem) Open() error {
	return rpio.Open()
}

func (gpiomem) Close() error {
	return rpio.Close()
}

func (gpiomem) Input(n int) {
	rpio.Pin(n).Input()
}

func (gpiomem) Output(n int) {
	rpio.Pin(n).Output()
}

func (gpiomem) Read(n int) gpio.Level {
	return rpio.Pin(n).Read() == rpio.High
}

func (gpiomem) Write(n int, l gpio.Level) {
	if l {
		rpio.Pin(n).High()
	} else {
		rpio.Pin(n).Low()
	}
}

func (gpiomem) Detect(n int, on bool) {
	if on {
		rpio.Pin(n).Detect(rpio.AnyEdge)
	} else {
		rpio.Pin(n).Detect(rpio.NoEdge)
	}
}

func (gpiomem) EdgeDetected(n int) bool {
	return rpio.Pin(n).EdgeDetected()
}

// Backend exposes the register bank as a single chip.
type Backend struct {
	mem mem

	mu   sync.Mutex
	chip *Chip
}

// String implements native.Backend and driverreg.Driver.
func (b *Backend) String() string {
	return "rpio"
}

// Prerequisites implements driverreg.Driver.
func (b *Backend) Prerequisites() []string {
	return nil
}

// After implements driverreg.Driver.
//
// Kernel interfaces are preferred since they arbitrate line ownership.
func (b *Backend) After() []string {
	return []string{"gpioioctl", "gpiocdev", "sysfs"}
}

// Init implements driverreg.Driver. It succeeds when the registers can be
// mapped.
func (b *Backend) Init() (bool, error) {
	if err := b.mem.Open(); err != nil {
		return false, fmt.Errorf("rpio: %w", err)
	}
	return true, b.mem.Close()
}

// Chips implements native.Backend.
func (b *Backend) Chips() ([]string, error) {
	return []string{ChipName}, nil
}

// OpenChip implements native.Backend. Only one chip may be open at a time.
func (b *Backend) OpenChip(name string) (native.Chip, error) {
	if name != ChipName {
		return nil, fmt.Errorf("rpio: chip %q: %w", name, native.ErrNoChip)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.chip != nil {
		return nil, fmt.Errorf("rpio: %s: %w", name, native.ErrBusy)
	}
	if err := b.mem.Open(); err != nil {
		return nil, fmt.Errorf("rpio: memory map GPIO: %w", err)
	}
	b.chip = &Chip{backend: b, mem: b.mem, owners: map[int]*Line{}}
	return b.chip, nil
}

// Chip is the mapped register bank.
type Chip struct {
	backend *Backend
	mem     mem

	mu     sync.Mutex
	owners map[int]*Line
	closed bool
}

// Name implements native.Chip.
func (c *Chip) Name() string {
	return ChipName
}

// LineCount implements native.Chip.
func (c *Chip) LineCount() int {
	return NumLines
}

// RequestInput implements native.Chip.
func (c *Chip) RequestInput(offset int, consumer string) (native.Line, error) {
	return c.request(offset, native.LineInput, false, gpio.Low)
}

// RequestOutput implements native.Chip.
func (c *Chip) RequestOutput(offset int, consumer string, initial gpio.Level) (native.Line, error) {
	return c.request(offset, native.LineOutput, false, initial)
}

// RequestBothEdges implements native.Chip.
func (c *Chip) RequestBothEdges(offset int, consumer string) (native.Line, error) {
	return c.request(offset, native.LineInput, true, gpio.Low)
}

func (c *Chip) request(offset int, dir native.LineDir, edge bool, initial gpio.Level) (*Line, error) {
	if offset < 0 || offset >= NumLines {
		return nil, fmt.Errorf("rpio: line %d: %w", offset, native.ErrOutOfRange)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, native.ErrClosed
	}
	if _, ok := c.owners[offset]; ok {
		return nil, fmt.Errorf("rpio: line %d: %w", offset, native.ErrBusy)
	}
	l := &Line{chip: c, offset: offset, dir: dir, edge: edge}
	if dir == native.LineOutput {
		c.mem.Write(offset, initial)
		c.mem.Output(offset)
	} else {
		c.mem.Input(offset)
	}
	if edge {
		c.mem.Detect(offset, true)
		// Clear a stale detection.
		c.mem.EdgeDetected(offset)
	}
	c.owners[offset] = l
	return l, nil
}

// Close implements native.Chip. Lines still requested are released and the
// registers unmapped.
func (c *Chip) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return native.ErrClosed
	}
	c.closed = true
	for _, l := range c.owners {
		l.releaseLocked()
	}
	c.mu.Unlock()
	c.backend.mu.Lock()
	c.backend.chip = nil
	c.backend.mu.Unlock()
	return c.mem.Close()
}

// Line is a line reserved in process.
type Line struct {
	chip   *Chip
	offset int
	edge   bool

	mu      sync.Mutex // serializes Wait and ReadEvent
	dir     native.LineDir
	closed  bool
	pending bool
}

// Offset implements native.Line.
func (l *Line) Offset() int {
	return l.offset
}

// Value implements native.Line.
func (l *Line) Value() (gpio.Level, error) {
	l.chip.mu.Lock()
	defer l.chip.mu.Unlock()
	if l.closed {
		return gpio.Low, native.ErrClosed
	}
	return l.chip.mem.Read(l.offset), nil
}

// SetValue implements native.Line.
func (l *Line) SetValue(v gpio.Level) error {
	l.chip.mu.Lock()
	defer l.chip.mu.Unlock()
	if l.closed {
		return native.ErrClosed
	}
	if l.dir != native.LineOutput {
		return fmt.Errorf("rpio: line %d is not an output", l.offset)
	}
	l.chip.mem.Write(l.offset, v)
	return nil
}

// Direction implements native.Line.
func (l *Line) Direction() (native.LineDir, error) {
	l.chip.mu.Lock()
	defer l.chip.mu.Unlock()
	if l.closed {
		return native.LineDirNotSet, native.ErrClosed
	}
	return l.dir, nil
}

// SetDirection implements native.Line.
func (l *Line) SetDirection(dir native.LineDir) error {
	l.chip.mu.Lock()
	defer l.chip.mu.Unlock()
	if l.closed {
		return native.ErrClosed
	}
	if l.edge {
		return fmt.Errorf("rpio: line %d: edge lines keep their configuration", l.offset)
	}
	switch dir {
	case native.LineInput:
		l.chip.mem.Input(l.offset)
	case native.LineOutput:
		l.chip.mem.Output(l.offset)
	default:
		return fmt.Errorf("rpio: invalid direction %s", dir)
	}
	l.dir = dir
	return nil
}

// Wait implements native.Line.
func (l *Line) Wait(timeout time.Duration) (bool, error) {
	if !l.edge {
		return false, native.ErrNotEdge
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	deadline := time.Now().Add(timeout)
	for {
		if l.pending {
			return true, nil
		}
		detected, err := l.detected()
		if err != nil {
			return false, err
		}
		if detected {
			l.pending = true
			return true, nil
		}
		if !time.Now().Before(deadline) {
			return false, nil
		}
		time.Sleep(pollInterval)
	}
}

func (l *Line) detected() (bool, error) {
	l.chip.mu.Lock()
	defer l.chip.mu.Unlock()
	if l.closed {
		return false, native.ErrClosed
	}
	return l.chip.mem.EdgeDetected(l.offset), nil
}

// ReadEvent implements native.Line.
func (l *Line) ReadEvent() (gpio.Edge, error) {
	if !l.edge {
		return gpio.NoEdge, native.ErrNotEdge
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.pending {
		detected, err := l.detected()
		if err != nil {
			return gpio.NoEdge, err
		}
		if !detected {
			return gpio.NoEdge, errors.New("rpio: no pending edge")
		}
	}
	l.pending = false
	v, err := l.Value()
	if err != nil {
		return gpio.NoEdge, err
	}
	if v {
		return gpio.RisingEdge, nil
	}
	return gpio.FallingEdge, nil
}

// Close implements native.Line. The line is left as an input.
func (l *Line) Close() error {
	l.chip.mu.Lock()
	defer l.chip.mu.Unlock()
	if l.closed {
		return native.ErrClosed
	}
	l.releaseLocked()
	return nil
}

// releaseLocked must be called with chip.mu held.
func (l *Line) releaseLocked() {
	l.closed = true
	if l.edge {
		l.chip.mem.Detect(l.offset, false)
	}
	l.chip.mem.Input(l.offset)
	if l.chip.owners[l.offset] == l {
		delete(l.chip.owners, l.offset)
	}
}

// Default is the backend registered as "rpio".
var Default = &Backend{mem: gpiomem{}}

func init() {
	native.MustRegister(Default)
	driverreg.MustRegister(Default)
}

var _ native.Backend = &Backend{}
var _ native.Chip = &Chip{}
var _ native.Line = &Line{}
var _ driver.Impl = &Backend{}
