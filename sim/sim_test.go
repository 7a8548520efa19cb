// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package sim

import (
	"errors"
	"testing"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/gpiodriver/native"
)

func openChip(t *testing.T, n int) (*Chip, native.Chip) {
	c := NewChip("test", n)
	b := New(c)
	nc, err := b.OpenChip("test")
	if err != nil {
		t.Fatal(err)
	}
	return c, nc
}

func TestBackend(t *testing.T) {
	b := New(NewChip("a", 1), NewChip("b", 2))
	names, err := b.Chips()
	if err != nil || len(names) != 2 || names[0] != "a" {
		t.Fatalf("Chips() = %v, %v", names, err)
	}
	if _, err := b.OpenChip("c"); !errors.Is(err, native.ErrNoChip) {
		t.Errorf("OpenChip(c) = %v", err)
	}
	if Default.String() != "sim" || native.Lookup("sim") == nil {
		t.Error("default backend not registered")
	}
}

func TestRequestBusy(t *testing.T) {
	c, nc := openChip(t, 4)
	l, err := nc.RequestInput(1, "first")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := nc.RequestBothEdges(1, "second"); !errors.Is(err, native.ErrBusy) {
		t.Errorf("double request = %v, expected ErrBusy", err)
	}
	if c.Consumer(1) != "first" || !c.Reserved(1) {
		t.Errorf("Consumer(1) = %q", c.Consumer(1))
	}
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
	if !errors.Is(l.Close(), native.ErrClosed) {
		t.Error("second Close should report ErrClosed")
	}
	if _, err := nc.RequestBothEdges(1, "second"); err != nil {
		t.Errorf("request after release = %v", err)
	}
	c.Hog(2, "kernel")
	if _, err := nc.RequestInput(2, "x"); !errors.Is(err, native.ErrBusy) {
		t.Errorf("request of hogged line = %v", err)
	}
	if _, err := nc.RequestInput(9, "x"); !errors.Is(err, native.ErrOutOfRange) {
		t.Errorf("request out of range = %v", err)
	}
}

func TestLoopback(t *testing.T) {
	c, nc := openChip(t, 2)
	l, err := nc.RequestOutput(0, "out", gpio.High)
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := l.Value(); v != gpio.High {
		t.Error("initial output level not applied")
	}
	if err := l.SetValue(gpio.Low); err != nil {
		t.Fatal(err)
	}
	if c.Level(0) != gpio.Low {
		t.Error("SetValue(Low) not reflected")
	}
	if err := c.SetLevel(0, gpio.High); !errors.Is(err, ErrDriven) {
		t.Errorf("SetLevel on output = %v", err)
	}
	if err := l.SetDirection(native.LineInput); err != nil {
		t.Fatal(err)
	}
	if err := l.SetValue(gpio.High); !errors.Is(err, ErrNotOutput) {
		t.Errorf("SetValue on input = %v", err)
	}
	if d, _ := l.Direction(); d != native.LineInput {
		t.Errorf("Direction() = %s", d)
	}
}

func TestEdges(t *testing.T) {
	c, nc := openChip(t, 1)
	l, err := nc.RequestBothEdges(0, "ev")
	if err != nil {
		t.Fatal(err)
	}
	if ok, err := l.Wait(time.Millisecond); ok || err != nil {
		t.Fatalf("Wait on quiet line = %t, %v", ok, err)
	}
	_ = c.SetLevel(0, gpio.High)
	_ = c.SetLevel(0, gpio.High)
	_ = c.SetLevel(0, gpio.Low)
	want := []gpio.Edge{gpio.RisingEdge, gpio.FallingEdge}
	for _, w := range want {
		ok, err := l.Wait(time.Second)
		if !ok || err != nil {
			t.Fatalf("Wait = %t, %v", ok, err)
		}
		e, err := l.ReadEvent()
		if err != nil || e != w {
			t.Fatalf("ReadEvent = %s, %v; expected %s", e, err, w)
		}
	}
	if _, err := l.ReadEvent(); !errors.Is(err, ErrNoEvent) {
		t.Errorf("ReadEvent on empty queue = %v", err)
	}
	boom := errors.New("boom")
	c.FailWait(0, boom)
	if _, err := l.Wait(time.Millisecond); err != boom {
		t.Errorf("injected Wait failure not returned: %v", err)
	}
	c.FailWait(0, nil)
	c.FailRead(0, boom)
	if _, err := l.ReadEvent(); err != boom {
		t.Errorf("injected ReadEvent failure not returned: %v", err)
	}
}

func TestNotEdge(t *testing.T) {
	_, nc := openChip(t, 1)
	l, _ := nc.RequestInput(0, "in")
	if _, err := l.Wait(time.Millisecond); !errors.Is(err, native.ErrNotEdge) {
		t.Errorf("Wait on input line = %v", err)
	}
	if _, err := l.ReadEvent(); !errors.Is(err, native.ErrNotEdge) {
		t.Errorf("ReadEvent on input line = %v", err)
	}
}

func TestChipClose(t *testing.T) {
	c, nc := openChip(t, 2)
	l, _ := nc.RequestInput(0, "in")
	if err := nc.Close(); err != nil {
		t.Fatal(err)
	}
	if c.Reserved(0) {
		t.Error("chip Close should release lines")
	}
	if _, err := l.Value(); !errors.Is(err, native.ErrClosed) {
		t.Errorf("Value after chip close = %v", err)
	}
	if _, err := nc.RequestInput(1, "x"); !errors.Is(err, native.ErrClosed) {
		t.Errorf("request on closed chip = %v", err)
	}
	if o, cl := c.Opens(); o != 1 || cl != 1 {
		t.Errorf("Opens() = %d, %d", o, cl)
	}
	c.FailOpen(errors.New("nope"))
	if _, err := New(c).OpenChip("test"); err == nil {
		t.Error("FailOpen not honoured")
	}
}

func TestConnect(t *testing.T) {
	c, nc := openChip(t, 2)
	c.Connect(0, 1)
	out, err := nc.RequestOutput(0, "out", gpio.Low)
	if err != nil {
		t.Fatal(err)
	}
	in, err := nc.RequestBothEdges(1, "in")
	if err != nil {
		t.Fatal(err)
	}
	if err := out.SetValue(gpio.High); err != nil {
		t.Fatal(err)
	}
	if ok, err := in.Wait(time.Second); !ok || err != nil {
		t.Fatalf("Wait() = %t, %v", ok, err)
	}
	if e, err := in.ReadEvent(); e != gpio.RisingEdge || err != nil {
		t.Fatalf("ReadEvent() = %s, %v", e, err)
	}
	if v, _ := in.Value(); v != gpio.High {
		t.Error("wired input didn't follow the output")
	}
}
