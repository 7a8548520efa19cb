//go:build linux

// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package rpio

import (
	"errors"
	"sync"
	"testing"
	"time"

	"periph.io/x/conn/v3/gpio"

	"periph.io/x/gpiodriver/native"
)

// fakeMem records register accesses for a handful of lines.
type fakeMem struct {
	mu       sync.Mutex
	openErr  error
	opened   int
	output   map[int]bool
	level    map[int]gpio.Level
	detect   map[int]bool
	detected map[int]bool
}

func newFakeMem() *fakeMem {
	return &fakeMem{output: map[int]bool{}, level: map[int]gpio.Level{}, detect: map[int]bool{}, detected: map[int]bool{}}
}

func (f *fakeMem) Open() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return f.openErr
	}
	f.opened++
	return nil
}

func (f *fakeMem) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened--
	return nil
}

func (f *fakeMem) Input(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.output[n] = false
}

func (f *fakeMem) Output(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.output[n] = true
}

func (f *fakeMem) Read(n int) gpio.Level {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.level[n]
}

func (f *fakeMem) Write(n int, l gpio.Level) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.level[n] = l
}

func (f *fakeMem) Detect(n int, on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detect[n] = on
}

func (f *fakeMem) EdgeDetected(n int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := f.detected[n]
	f.detected[n] = false
	return d
}

// drive sets an input level, flagging an edge when detection is enabled.
func (f *fakeMem) drive(n int, l gpio.Level) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.level[n] != l && f.detect[n] {
		f.detected[n] = true
	}
	f.level[n] = l
}

func openFake(t *testing.T) (*fakeMem, native.Chip) {
	t.Helper()
	f := newFakeMem()
	b := &Backend{mem: f}
	c, err := b.OpenChip(ChipName)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return f, c
}

func TestBackend(t *testing.T) {
	f := newFakeMem()
	b := &Backend{mem: f}
	if ok, err := b.Init(); !ok || err != nil {
		t.Errorf("Init() = %t, %v", ok, err)
	}
	if names, _ := b.Chips(); len(names) != 1 || names[0] != ChipName {
		t.Errorf("Chips() = %v", names)
	}
	if _, err := b.OpenChip("gpiochip0"); !errors.Is(err, native.ErrNoChip) {
		t.Errorf("OpenChip(gpiochip0) = %v", err)
	}
	c, err := b.OpenChip(ChipName)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.OpenChip(ChipName); !errors.Is(err, native.ErrBusy) {
		t.Errorf("second OpenChip() = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if f.opened != 0 {
		t.Errorf("registers still mapped: %d", f.opened)
	}

	f.openErr = errors.New("no /dev/gpiomem")
	if ok, err := b.Init(); ok || err == nil {
		t.Errorf("Init() = %t, %v", ok, err)
	}
}

func TestLines(t *testing.T) {
	f, c := openFake(t)
	out, err := c.RequestOutput(17, "test", gpio.High)
	if err != nil {
		t.Fatal(err)
	}
	if !f.output[17] || f.level[17] != gpio.High {
		t.Error("output not configured with its initial level")
	}
	if _, err := c.RequestInput(17, "test"); !errors.Is(err, native.ErrBusy) {
		t.Errorf("second request = %v", err)
	}
	if _, err := c.RequestInput(NumLines, "test"); !errors.Is(err, native.ErrOutOfRange) {
		t.Errorf("out of range = %v", err)
	}
	if err := out.SetValue(gpio.Low); err != nil {
		t.Fatal(err)
	}
	if v, _ := out.Value(); v != gpio.Low {
		t.Error("SetValue(Low) not applied")
	}
	if err := out.SetDirection(native.LineInput); err != nil {
		t.Fatal(err)
	}
	if d, _ := out.Direction(); d != native.LineInput || f.output[17] {
		t.Errorf("Direction() = %s", d)
	}
	if err := out.SetValue(gpio.High); err == nil {
		t.Error("SetValue() on input succeeded")
	}
	if err := out.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := c.RequestInput(17, "test"); err != nil {
		t.Errorf("request after Close() = %v", err)
	}
}

func TestEdges(t *testing.T) {
	f, c := openFake(t)
	l, err := c.RequestBothEdges(4, "test")
	if err != nil {
		t.Fatal(err)
	}
	if !f.detect[4] {
		t.Fatal("edge detection not enabled")
	}
	if ok, err := l.Wait(time.Millisecond); ok || err != nil {
		t.Errorf("Wait() = %t, %v", ok, err)
	}
	f.drive(4, gpio.High)
	if ok, err := l.Wait(time.Second); !ok || err != nil {
		t.Fatalf("Wait() = %t, %v", ok, err)
	}
	if e, err := l.ReadEvent(); e != gpio.RisingEdge || err != nil {
		t.Errorf("ReadEvent() = %s, %v", e, err)
	}
	f.drive(4, gpio.Low)
	if e, err := l.ReadEvent(); e != gpio.FallingEdge || err != nil {
		t.Errorf("ReadEvent() = %s, %v", e, err)
	}
	if _, err := l.ReadEvent(); err == nil {
		t.Error("ReadEvent() without an edge succeeded")
	}
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
	if f.detect[4] {
		t.Error("edge detection left enabled")
	}
	if _, err := l.Wait(time.Millisecond); !errors.Is(err, native.ErrClosed) {
		t.Errorf("Wait() after Close() = %v", err)
	}
}
