// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package driver

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"periph.io/x/conn/v3/gpio"

	"periph.io/x/gpiodriver/sim"
)

// recorder collects callback invocations as "name:edge" strings.
type recorder chan string

func (r recorder) callback(name string) *Callback {
	return NewCallback(func(e Event) {
		r <- fmt.Sprintf("%s:%s", name, e.Edge)
	})
}

func (r recorder) next(t *testing.T, n int) []string {
	t.Helper()
	var got []string
	for len(got) < n {
		select {
		case s := <-r:
			got = append(got, s)
		case <-time.After(5 * time.Second):
			t.Fatalf("got %d callbacks, want %d: %v", len(got), n, got)
		}
	}
	return got
}

func (r recorder) none(t *testing.T) {
	t.Helper()
	select {
	case s := <-r:
		t.Errorf("unexpected callback %s", s)
	case <-time.After(20 * time.Millisecond):
	}
}

// TestLoopback drives pin 4 as an output wired to pin 7, which has one
// callback per edge.
func TestLoopback(t *testing.T) {
	d, c := newTestDriver(t, 8)
	c.Connect(4, 7)
	r := make(recorder, 16)
	if err := d.OpenPin(4); err != nil {
		t.Fatal(err)
	}
	if err := d.SetPinMode(4, Output); err != nil {
		t.Fatal(err)
	}
	if err := d.AddCallback(7, gpio.RisingEdge, r.callback("up")); err != nil {
		t.Fatal(err)
	}
	if err := d.AddCallback(7, gpio.FallingEdge, r.callback("down")); err != nil {
		t.Fatal(err)
	}
	for _, l := range []gpio.Level{gpio.High, gpio.Low, gpio.High} {
		if err := d.Write(4, l); err != nil {
			t.Fatal(err)
		}
	}
	want := []string{"up:" + gpio.RisingEdge.String(), "down:" + gpio.FallingEdge.String(), "up:" + gpio.RisingEdge.String()}
	if diff := cmp.Diff(want, r.next(t, 3)); diff != "" {
		t.Errorf("callbacks mismatch (-want +got):\n%s", diff)
	}
	r.none(t)
}

// TestIndependentSubscriptions checks that edges on one subscribed pin never
// reach the callbacks of another.
func TestIndependentSubscriptions(t *testing.T) {
	d, c := newTestDriver(t, 8)
	r4 := make(recorder, 16)
	r7 := make(recorder, 16)
	if err := d.AddCallback(4, gpio.RisingEdge, r4.callback("cb")); err != nil {
		t.Fatal(err)
	}
	if err := d.AddCallback(7, gpio.FallingEdge, r7.callback("f")); err != nil {
		t.Fatal(err)
	}
	for _, l := range []gpio.Level{gpio.High, gpio.Low, gpio.High} {
		if err := c.SetLevel(4, l); err != nil {
			t.Fatal(err)
		}
	}
	rising := "cb:" + gpio.RisingEdge.String()
	if diff := cmp.Diff([]string{rising, rising}, r4.next(t, 2)); diff != "" {
		t.Errorf("pin 4 callbacks mismatch (-want +got):\n%s", diff)
	}
	r4.none(t)
	r7.none(t)
}

func TestCallbackOrder(t *testing.T) {
	d, c := newTestDriver(t, 2)
	r := make(recorder, 16)
	a, b := r.callback("a"), r.callback("b")
	for _, cb := range []*Callback{a, b, a} {
		if err := d.AddCallback(0, gpio.RisingEdge, cb); err != nil {
			t.Fatal(err)
		}
	}
	if err := c.SetLevel(0, gpio.High); err != nil {
		t.Fatal(err)
	}
	rising := gpio.RisingEdge.String()
	want := []string{"a:" + rising, "b:" + rising, "a:" + rising}
	if diff := cmp.Diff(want, r.next(t, 3)); diff != "" {
		t.Errorf("callbacks mismatch (-want +got):\n%s", diff)
	}
	// No falling callback is registered.
	if err := c.SetLevel(0, gpio.Low); err != nil {
		t.Fatal(err)
	}
	r.none(t)
}

func TestBothEdges(t *testing.T) {
	d, c := newTestDriver(t, 1)
	r := make(recorder, 16)
	cb := r.callback("x")
	if err := d.AddCallback(0, gpio.BothEdges, cb); err != nil {
		t.Fatal(err)
	}
	if err := c.SetLevel(0, gpio.High); err != nil {
		t.Fatal(err)
	}
	if err := c.SetLevel(0, gpio.Low); err != nil {
		t.Fatal(err)
	}
	want := []string{"x:" + gpio.RisingEdge.String(), "x:" + gpio.FallingEdge.String()}
	if diff := cmp.Diff(want, r.next(t, 2)); diff != "" {
		t.Errorf("callbacks mismatch (-want +got):\n%s", diff)
	}
	// A single removal drops both registrations.
	if err := d.RemoveCallback(0, cb); err != nil {
		t.Fatal(err)
	}
	if c.Reserved(0) {
		t.Error("line still reserved")
	}
}

func TestAddCallbackInvalid(t *testing.T) {
	d, c := newTestDriver(t, 2)
	if err := d.AddCallback(0, gpio.NoEdge, NewCallback(func(Event) {})); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("NoEdge: %v", err)
	}
	if err := d.AddCallback(0, gpio.RisingEdge, nil); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("nil callback: %v", err)
	}
	c.Hog(1, "kernel")
	if err := d.AddCallback(1, gpio.RisingEdge, NewCallback(func(Event) {})); !errors.Is(err, ErrAlreadyInUse) {
		t.Errorf("hogged line: %v", err)
	}
	if c.Reserved(0) {
		t.Error("failed AddCallback() reserved a line")
	}
}

func TestAddCallbackReleasesOpenPin(t *testing.T) {
	d, c := newTestDriver(t, 2)
	if err := d.OpenPin(1); err != nil {
		t.Fatal(err)
	}
	if err := d.AddCallback(1, gpio.RisingEdge, NewCallback(func(Event) {})); err != nil {
		t.Fatal(err)
	}
	if !c.Reserved(1) {
		t.Error("line not reserved for events")
	}
	if _, err := d.Read(1); !errors.Is(err, ErrNotOpen) {
		t.Errorf("Read() on listening pin = %v", err)
	}
	if err := d.OpenPin(1); !errors.Is(err, ErrAlreadyInUse) {
		t.Errorf("OpenPin() on listening pin = %v", err)
	}
}

func TestRemoveCallback(t *testing.T) {
	d, c := newTestDriver(t, 2)
	r := make(recorder, 16)
	a, b := r.callback("a"), r.callback("b")
	if err := d.RemoveCallback(0, a); !errors.Is(err, ErrNotListening) {
		t.Errorf("RemoveCallback() on idle pin = %v", err)
	}
	if err := d.AddCallback(0, gpio.RisingEdge, a); err != nil {
		t.Fatal(err)
	}
	if err := d.AddCallback(0, gpio.RisingEdge, b); err != nil {
		t.Fatal(err)
	}
	if err := d.RemoveCallback(0, a); err != nil {
		t.Fatal(err)
	}
	// Removing an unknown callback is a no-op.
	if err := d.RemoveCallback(0, r.callback("c")); err != nil {
		t.Fatal(err)
	}
	if err := c.SetLevel(0, gpio.High); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"b:" + gpio.RisingEdge.String()}, r.next(t, 1)); diff != "" {
		t.Errorf("callbacks mismatch (-want +got):\n%s", diff)
	}
	if err := d.RemoveCallback(0, b); err != nil {
		t.Fatal(err)
	}
	if c.Reserved(0) {
		t.Error("line still reserved after last RemoveCallback()")
	}
	if err := c.SetLevel(0, gpio.Low); err != nil {
		t.Fatal(err)
	}
	r.none(t)
	if err := d.RemoveCallback(0, b); !errors.Is(err, ErrNotListening) {
		t.Errorf("RemoveCallback() after teardown = %v", err)
	}
	// The pin is back to CLOSED.
	if err := d.OpenPin(0); err != nil {
		t.Errorf("OpenPin() after teardown = %v", err)
	}
}

func TestPollingFault(t *testing.T) {
	faults := make(chan error, 1)
	c := sim.NewChip("test", 2)
	d, err := Open(sim.New(c), Config{
		Logger:  quietLogger(),
		OnFault: func(pin int, err error) {
			if pin == 1 {
				faults <- err
			}
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer d.Dispose()
	if err := d.PollingFault(1); !errors.Is(err, ErrNotListening) {
		t.Errorf("PollingFault() on idle pin = %v", err)
	}
	c.FailWait(1, errors.New("device gone"))
	cb := NewCallback(func(Event) {})
	if err := d.AddCallback(1, gpio.RisingEdge, cb); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-faults:
		if !errors.Is(err, ErrIO) {
			t.Errorf("fault = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("polling goroutine didn't report the fault")
	}
	if err := d.PollingFault(1); !errors.Is(err, ErrIO) {
		t.Errorf("PollingFault() = %v", err)
	}
	// The stopped subscription can still be torn down.
	if err := d.RemoveCallback(1, cb); err != nil {
		t.Fatal(err)
	}
	if c.Reserved(1) {
		t.Error("line still reserved")
	}
}

func TestCallbackPanic(t *testing.T) {
	d, c := newTestDriver(t, 1)
	r := make(recorder, 4)
	if err := d.AddCallback(0, gpio.BothEdges, NewCallback(func(Event) { panic("boom") })); err != nil {
		t.Fatal(err)
	}
	if err := d.AddCallback(0, gpio.BothEdges, r.callback("ok")); err != nil {
		t.Fatal(err)
	}
	if err := c.SetLevel(0, gpio.High); err != nil {
		t.Fatal(err)
	}
	r.next(t, 1)
	if err := d.PollingFault(0); err != nil {
		t.Errorf("PollingFault() = %v", err)
	}
}

func TestCallbackUsesDriver(t *testing.T) {
	d, c := newTestDriver(t, 3)
	if err := d.OpenPin(2); err != nil {
		t.Fatal(err)
	}
	if err := d.SetPinMode(2, Output); err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	err := d.AddCallback(1, gpio.RisingEdge, NewCallback(func(Event) {
		done <- d.Write(2, gpio.High)
	}))
	if err != nil {
		t.Fatal(err)
	}
	if err := c.SetLevel(1, gpio.High); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("callback never ran")
	}
	if c.Level(2) != gpio.High {
		t.Error("Write() from callback not applied")
	}
}
