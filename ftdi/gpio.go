// Copyright 2017 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ftdi

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"

	"periph.io/x/gpiodriver/internal/eventq"
	"periph.io/x/gpiodriver/native"
)

// NumLines is the width of the DBus.
const NumLines = 8

// sampleInterval is how often the pins are read while waiting for an edge.
// A read is a USB round trip.
const sampleInterval = time.Millisecond

const eventBufferSize = 16

// port is the part of handle used to drive the DBus.
type port interface {
	SetBitMode(mask byte, mode bitMode) error
	GetBitMode() (byte, error)
	Write(b []byte) (int, error)
	Close() error
}

// Chip is an FTDI device in asynchronous bit-bang mode.
type Chip struct {
	name    string
	t       DevType
	onClose func()

	mu     sync.Mutex
	p      port
	mask   byte // 1 bits are outputs
	out    byte // last value written
	owners [NumLines]*Line
	closed bool
}

func newChip(p port, name string, t DevType, onClose func()) (*Chip, error) {
	c := &Chip{name: name, t: t, onClose: onClose, p: p}
	if err := p.SetBitMode(0, bitModeAsyncBitbang); err != nil {
		return nil, err
	}
	return c, nil
}

// Name implements native.Chip.
func (c *Chip) Name() string {
	return c.name
}

// Type returns the device type.
func (c *Chip) Type() DevType {
	return c.t
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
		return nil, fmt.Errorf("ftdi: line %d: %w", offset, native.ErrOutOfRange)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, native.ErrClosed
	}
	if c.owners[offset] != nil {
		return nil, fmt.Errorf("ftdi: %s line %d: %w", c.name, offset, native.ErrBusy)
	}
	l := &Line{chip: c, offset: offset, edge: edge}
	if dir == native.LineOutput {
		if err := c.writeLocked(offset, initial); err != nil {
			return nil, err
		}
	}
	if err := c.setDirLocked(offset, dir); err != nil {
		return nil, err
	}
	l.dir = dir
	if edge {
		v, err := c.readLocked(offset)
		if err != nil {
			return nil, err
		}
		l.last = v
		l.events = eventq.New(eventBufferSize)
	}
	c.owners[offset] = l
	return l, nil
}

// Close implements native.Chip. The DBus is reset to inputs.
func (c *Chip) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return native.ErrClosed
	}
	c.closed = true
	for _, l := range c.owners {
		if l != nil {
			l.releaseLocked()
		}
	}
	err := c.p.SetBitMode(0, bitModeReset)
	if err2 := c.p.Close(); err == nil {
		err = err2
	}
	c.mu.Unlock()
	if c.onClose != nil {
		c.onClose()
	}
	return err
}

func (c *Chip) setDirLocked(offset int, dir native.LineDir) error {
	mask := c.mask
	switch dir {
	case native.LineInput:
		mask &^= 1 << uint(offset)
	case native.LineOutput:
		mask |= 1 << uint(offset)
	default:
		return fmt.Errorf("ftdi: invalid direction %s", dir)
	}
	if mask == c.mask {
		return nil
	}
	if err := c.p.SetBitMode(mask, bitModeAsyncBitbang); err != nil {
		return err
	}
	c.mask = mask
	return nil
}

func (c *Chip) writeLocked(offset int, l gpio.Level) error {
	out := c.out
	if l {
		out |= 1 << uint(offset)
	} else {
		out &^= 1 << uint(offset)
	}
	if _, err := c.p.Write([]byte{out}); err != nil {
		return err
	}
	c.out = out
	return nil
}

func (c *Chip) readLocked(offset int) (gpio.Level, error) {
	v, err := c.p.GetBitMode()
	if err != nil {
		return gpio.Low, err
	}
	return v&(1<<uint(offset)) != 0, nil
}

// Line is one DBus pin.
type Line struct {
	chip   *Chip
	offset int
	edge   bool
	events *eventq.Queue

	mu     sync.Mutex // serializes Wait
	dir    native.LineDir
	last   gpio.Level
	closed bool
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
	return l.chip.readLocked(l.offset)
}

// SetValue implements native.Line.
func (l *Line) SetValue(v gpio.Level) error {
	l.chip.mu.Lock()
	defer l.chip.mu.Unlock()
	if l.closed {
		return native.ErrClosed
	}
	if l.dir != native.LineOutput {
		return fmt.Errorf("ftdi: line %d is not an output", l.offset)
	}
	return l.chip.writeLocked(l.offset, v)
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
		return fmt.Errorf("ftdi: line %d: edge lines keep their configuration", l.offset)
	}
	if err := l.chip.setDirLocked(l.offset, dir); err != nil {
		return err
	}
	l.dir = dir
	return nil
}

// Wait implements native.Line. The pin is sampled until its level differs
// from the last one seen.
func (l *Line) Wait(timeout time.Duration) (bool, error) {
	if !l.edge {
		return false, native.ErrNotEdge
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	deadline := time.Now().Add(timeout)
	for {
		if l.events.Len() != 0 {
			return true, nil
		}
		if err := l.sample(); err != nil {
			return false, err
		}
		if l.events.Len() != 0 {
			return true, nil
		}
		if !time.Now().Before(deadline) {
			return false, nil
		}
		time.Sleep(sampleInterval)
	}
}

// sample queues an edge when the level changed since the previous sample.
func (l *Line) sample() error {
	l.chip.mu.Lock()
	defer l.chip.mu.Unlock()
	if l.closed {
		return native.ErrClosed
	}
	v, err := l.chip.readLocked(l.offset)
	if err != nil {
		return err
	}
	if v != l.last {
		l.last = v
		if v {
			l.events.Push(gpio.RisingEdge)
		} else {
			l.events.Push(gpio.FallingEdge)
		}
	}
	return nil
}

// ReadEvent implements native.Line.
func (l *Line) ReadEvent() (gpio.Edge, error) {
	if !l.edge {
		return gpio.NoEdge, native.ErrNotEdge
	}
	l.chip.mu.Lock()
	closed := l.closed
	l.chip.mu.Unlock()
	if closed {
		return gpio.NoEdge, native.ErrClosed
	}
	e, ok := l.events.Pop()
	if !ok {
		return gpio.NoEdge, errors.New("ftdi: no pending edge")
	}
	return e, nil
}

// Close implements native.Line. An output is turned back into an input.
func (l *Line) Close() error {
	l.chip.mu.Lock()
	defer l.chip.mu.Unlock()
	if l.closed {
		return native.ErrClosed
	}
	err := l.chip.setDirLocked(l.offset, native.LineInput)
	l.releaseLocked()
	return err
}

// releaseLocked must be called with chip.mu held.
func (l *Line) releaseLocked() {
	l.closed = true
	if l.events != nil {
		l.events.Close()
	}
	if l.chip.owners[l.offset] == l {
		l.chip.owners[l.offset] = nil
	}
}

var _ native.Chip = &Chip{}
var _ native.Line = &Line{}
