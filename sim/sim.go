// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package sim provides an in-memory GPIO backend.
//
// A simulated Chip keeps the physical level of every line. Output lines
// drive their own level, so a value written can be read back on the same
// line. Input levels are driven from the test side with SetLevel, which
// also queues the matching edge on a line requested for edge events.
//
// Faults can be injected per line with FailWait and FailRead to exercise
// error paths of the event polling code.
package sim

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/gpiodriver/internal/eventq"
	"periph.io/x/gpiodriver/native"
)

// EventBufferSize is the number of edges a line holds before the oldest is
// dropped. It matches the kernel default of 16 per requested line.
const EventBufferSize = 16

var (
	// ErrNotOutput is returned when writing to a line that isn't an output.
	ErrNotOutput = errors.New("sim: line is not an output")
	// ErrDriven is returned by SetLevel on a line driven by userspace.
	ErrDriven = errors.New("sim: line is driven as an output")
	// ErrNoEvent is returned by ReadEvent when nothing is pending.
	ErrNoEvent = errors.New("sim: no event pending")
)

// Backend is a set of simulated chips.
type Backend struct {
	name  string
	mu    sync.Mutex
	chips []*Chip
}

// New returns a backend named "sim" exposing chips in order.
func New(chips ...*Chip) *Backend {
	return &Backend{name: "sim", chips: chips}
}

// String implements native.Backend.
func (b *Backend) String() string {
	return b.name
}

// Chips implements native.Backend.
func (b *Backend) Chips() ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.chips))
	for _, c := range b.chips {
		out = append(out, c.name)
	}
	return out, nil
}

// OpenChip implements native.Backend.
func (b *Backend) OpenChip(name string) (native.Chip, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.chips {
		if c.name == name {
			if err := c.open(); err != nil {
				return nil, err
			}
			return c, nil
		}
	}
	return nil, fmt.Errorf("sim: chip %q: %w", name, native.ErrNoChip)
}

type lineState struct {
	level   gpio.Level
	dir     native.LineDir
	owner   *Line
	hog     string
	waitErr error
	readErr error
}

// Chip is a simulated GPIO controller.
type Chip struct {
	name string

	mu      sync.Mutex
	lines   []lineState
	wires   map[int][]int
	opened  bool
	openErr error
	opens   int
	closes  int
}

// NewChip returns a chip with n lines, all inputs reading Low.
func NewChip(name string, n int) *Chip {
	c := &Chip{name: name, lines: make([]lineState, n)}
	for i := range c.lines {
		c.lines[i].dir = native.LineInput
	}
	return c
}

// Name implements native.Chip.
func (c *Chip) Name() string {
	return c.name
}

// LineCount implements native.Chip.
func (c *Chip) LineCount() int {
	return len(c.lines)
}

// RequestInput implements native.Chip.
func (c *Chip) RequestInput(offset int, consumer string) (native.Line, error) {
	return c.request(offset, consumer, native.LineInput, false, gpio.Low)
}

// RequestOutput implements native.Chip.
func (c *Chip) RequestOutput(offset int, consumer string, initial gpio.Level) (native.Line, error) {
	return c.request(offset, consumer, native.LineOutput, false, initial)
}

// RequestBothEdges implements native.Chip.
func (c *Chip) RequestBothEdges(offset int, consumer string) (native.Line, error) {
	return c.request(offset, consumer, native.LineInput, true, gpio.Low)
}

// Close implements native.Chip. Any line still reserved is released.
func (c *Chip) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.opened {
		return native.ErrClosed
	}
	c.opened = false
	c.closes++
	for i := range c.lines {
		if l := c.lines[i].owner; l != nil {
			l.releaseLocked()
		}
	}
	return nil
}

func (c *Chip) open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.openErr != nil {
		return c.openErr
	}
	c.opened = true
	c.opens++
	return nil
}

func (c *Chip) request(offset int, consumer string, dir native.LineDir, edge bool, initial gpio.Level) (native.Line, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.opened {
		return nil, native.ErrClosed
	}
	if offset < 0 || offset >= len(c.lines) {
		return nil, fmt.Errorf("sim: line %d: %w", offset, native.ErrOutOfRange)
	}
	s := &c.lines[offset]
	if s.owner != nil {
		return nil, fmt.Errorf("sim: line %d held by %q: %w", offset, s.owner.consumer, native.ErrBusy)
	}
	if s.hog != "" {
		return nil, fmt.Errorf("sim: line %d held by %q: %w", offset, s.hog, native.ErrBusy)
	}
	l := &Line{chip: c, offset: offset, consumer: consumer}
	if edge {
		l.events = eventq.New(EventBufferSize)
	}
	s.owner = l
	s.dir = dir
	if dir == native.LineOutput {
		s.level = initial
	}
	return l, nil
}

// SetLevel drives an input line from outside. An edge is queued on the
// line's edge reservation when the level changes.
func (c *Chip) SetLevel(offset int, level gpio.Level) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if offset < 0 || offset >= len(c.lines) {
		return native.ErrOutOfRange
	}
	s := &c.lines[offset]
	if s.owner != nil && s.dir == native.LineOutput {
		return ErrDriven
	}
	c.driveLocked(offset, level)
	return nil
}

// Connect wires line from to line to: every value written on from while it
// is an output is seen on to as if set with SetLevel.
func (c *Chip) Connect(from, to int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.wires == nil {
		c.wires = map[int][]int{}
	}
	c.wires[from] = append(c.wires[from], to)
}

func (c *Chip) driveLocked(offset int, level gpio.Level) {
	s := &c.lines[offset]
	if s.level == level {
		return
	}
	s.level = level
	if s.owner != nil && s.owner.events != nil {
		if level {
			s.owner.events.Push(gpio.RisingEdge)
		} else {
			s.owner.events.Push(gpio.FallingEdge)
		}
	}
}

// Level returns the physical level of a line.
func (c *Chip) Level(offset int) gpio.Level {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lines[offset].level
}

// Consumer returns the consumer of a reserved line, or "".
func (c *Chip) Consumer(offset int) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := &c.lines[offset]
	if s.owner != nil {
		return s.owner.consumer
	}
	return s.hog
}

// Reserved reports whether a line is currently reserved by this process.
func (c *Chip) Reserved(offset int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lines[offset].owner != nil
}

// Hog marks a line as held by another consumer. An empty consumer clears it.
func (c *Chip) Hog(offset int, consumer string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines[offset].hog = consumer
}

// FailOpen makes OpenChip fail with err. nil restores normal behavior.
func (c *Chip) FailOpen(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.openErr = err
}

// FailWait makes Wait on the line fail with err. nil restores it.
func (c *Chip) FailWait(offset int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines[offset].waitErr = err
}

// FailRead makes ReadEvent on the line fail with err. nil restores it.
func (c *Chip) FailRead(offset int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines[offset].readErr = err
}

// Opens returns how many times the chip was opened and closed.
func (c *Chip) Opens() (opens, closes int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opens, c.closes
}

// Line is a reservation on a simulated line.
type Line struct {
	chip     *Chip
	offset   int
	consumer string
	events   *eventq.Queue
	closed   bool
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
	return l.chip.lines[l.offset].level, nil
}

// SetValue implements native.Line.
func (l *Line) SetValue(level gpio.Level) error {
	l.chip.mu.Lock()
	defer l.chip.mu.Unlock()
	if l.closed {
		return native.ErrClosed
	}
	s := &l.chip.lines[l.offset]
	if s.dir != native.LineOutput {
		return ErrNotOutput
	}
	s.level = level
	for _, to := range l.chip.wires[l.offset] {
		if t := &l.chip.lines[to]; t.owner == nil || t.dir != native.LineOutput {
			l.chip.driveLocked(to, level)
		}
	}
	return nil
}

// Direction implements native.Line.
func (l *Line) Direction() (native.LineDir, error) {
	l.chip.mu.Lock()
	defer l.chip.mu.Unlock()
	if l.closed {
		return native.LineDirNotSet, native.ErrClosed
	}
	return l.chip.lines[l.offset].dir, nil
}

// SetDirection implements native.Line.
func (l *Line) SetDirection(dir native.LineDir) error {
	l.chip.mu.Lock()
	defer l.chip.mu.Unlock()
	if l.closed {
		return native.ErrClosed
	}
	if l.events != nil {
		return errors.New("sim: an edge line cannot be reconfigured")
	}
	if dir != native.LineInput && dir != native.LineOutput {
		return fmt.Errorf("sim: invalid direction %s", dir)
	}
	l.chip.lines[l.offset].dir = dir
	return nil
}

// Wait implements native.Line.
func (l *Line) Wait(timeout time.Duration) (bool, error) {
	l.chip.mu.Lock()
	closed, events, err := l.closed, l.events, l.chip.lines[l.offset].waitErr
	l.chip.mu.Unlock()
	if closed {
		return false, native.ErrClosed
	}
	if events == nil {
		return false, native.ErrNotEdge
	}
	if err != nil {
		return false, err
	}
	return events.Wait(timeout), nil
}

// ReadEvent implements native.Line.
func (l *Line) ReadEvent() (gpio.Edge, error) {
	l.chip.mu.Lock()
	closed, events, err := l.closed, l.events, l.chip.lines[l.offset].readErr
	l.chip.mu.Unlock()
	if closed {
		return gpio.NoEdge, native.ErrClosed
	}
	if events == nil {
		return gpio.NoEdge, native.ErrNotEdge
	}
	if err != nil {
		return gpio.NoEdge, err
	}
	e, ok := events.Pop()
	if !ok {
		return gpio.NoEdge, ErrNoEvent
	}
	return e, nil
}

// Close implements native.Line.
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
	if l.events != nil {
		l.events.Close()
	}
	s := &l.chip.lines[l.offset]
	if s.owner == l {
		s.owner = nil
		// A released output floats back to an input holding its last level.
		s.dir = native.LineInput
	}
}

// Default is the backend registered as "sim": one chip of 32 lines.
var Default = New(NewChip("gpiosim0", 32))

func init() {
	native.MustRegister(Default)
}

var _ native.Backend = &Backend{}
var _ native.Chip = &Chip{}
var _ native.Line = &Line{}
