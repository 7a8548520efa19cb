// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package driver

import (
	"errors"
	"testing"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/pin"
)

func TestPinIO(t *testing.T) {
	d, c := newTestDriver(t, 4)
	p := d.Pin(2)
	if p.Name() != "test/2" || p.Number() != 2 || p.String() != "test/2" {
		t.Errorf("pin identity %q %d", p.Name(), p.Number())
	}
	if f := p.Func(); f != pin.FuncNone {
		t.Errorf("Func() on closed pin = %s", f)
	}
	if err := p.Out(gpio.High); err != nil {
		t.Fatal(err)
	}
	if c.Level(2) != gpio.High {
		t.Error("Out(High) not applied")
	}
	if f := p.Func(); f != gpio.OUT_HIGH {
		t.Errorf("Func() = %s", f)
	}
	if err := p.In(gpio.PullUp, gpio.NoEdge); !errors.Is(err, ErrUnsupportedMode) {
		t.Errorf("In(PullUp) = %v", err)
	}
	if err := p.In(gpio.Float, gpio.NoEdge); err != nil {
		t.Fatal(err)
	}
	if err := c.SetLevel(2, gpio.Low); err != nil {
		t.Fatal(err)
	}
	if p.Read() != gpio.Low {
		t.Error("Read() = High")
	}
	if f := p.Function(); f != string(gpio.IN_LOW) {
		t.Errorf("Function() = %s", f)
	}
	if err := p.SetFunc(gpio.OUT_HIGH); err != nil {
		t.Fatal(err)
	}
	if c.Level(2) != gpio.High {
		t.Error("SetFunc(OUT_HIGH) not applied")
	}
	if err := p.SetFunc(pin.Func("I2C_SDA")); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("SetFunc(I2C_SDA) = %v", err)
	}
	if err := p.PWM(gpio.DutyHalf, 0); err == nil {
		t.Error("PWM() should fail")
	}
}

func TestPinWaitForEdge(t *testing.T) {
	d, c := newTestDriver(t, 2)
	p := d.Pin(1)
	if p.WaitForEdge(time.Millisecond) {
		t.Error("WaitForEdge() without edge detection")
	}
	if err := p.In(gpio.PullNoChange, gpio.RisingEdge); err != nil {
		t.Fatal(err)
	}
	if p.WaitForEdge(10 * time.Millisecond) {
		t.Error("WaitForEdge() returned true without an edge")
	}
	got := make(chan bool, 1)
	go func() {
		got <- p.WaitForEdge(0)
	}()
	waitReserved(t, c, 1)
	if err := c.SetLevel(1, gpio.High); err != nil {
		t.Fatal(err)
	}
	select {
	case ok := <-got:
		if !ok {
			t.Error("WaitForEdge() = false")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("WaitForEdge() didn't return")
	}

	go func() {
		got <- p.WaitForEdge(0)
	}()
	waitReserved(t, c, 1)
	if err := p.Halt(); err != nil {
		t.Fatal(err)
	}
	select {
	case ok := <-got:
		if ok {
			t.Error("WaitForEdge() = true after Halt()")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Halt() didn't interrupt WaitForEdge()")
	}
}

func TestRegisterPins(t *testing.T) {
	d, _ := newTestDriver(t, 3)
	if err := d.RegisterPins(""); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("RegisterPins(\"\") = %v", err)
	}
	if err := d.RegisterPins("SIMTEST"); err != nil {
		t.Fatal(err)
	}
	p := gpioreg.ByName("SIMTEST1")
	if p == nil {
		t.Fatal("SIMTEST1 not registered")
	}
	if p.Number() != 1 {
		t.Errorf("Number() = %d", p.Number())
	}
	d.Dispose()
	if gpioreg.ByName("SIMTEST1") != nil {
		t.Error("SIMTEST1 still registered after Dispose()")
	}
	if err := d.RegisterPins("SIMDEAD"); !errors.Is(err, ErrDisposed) {
		t.Errorf("RegisterPins() after Dispose() = %v", err)
	}
	if gpioreg.ByName("SIMDEAD0") != nil {
		t.Error("SIMDEAD0 registered on a disposed driver")
	}
}
