// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ftdi

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"periph.io/x/d2xx"
	"periph.io/x/d2xx/d2xxtest"

	"periph.io/x/gpiodriver/native"
)

func newFakeBackend(t *testing.T, devs ...DevType) *Backend {
	b := &Backend{}
	b.numDevices = func() (int, error) {
		return len(devs), nil
	}
	b.d2xxOpen = func(i int) (d2xx.Handle, d2xx.Err) {
		if i >= len(devs) {
			t.Fatalf("unexpected index %d", i)
		}
		d := &d2xxtest.Fake{
			DevType: uint32(devs[i]),
			Vid:     0x0403,
			Pid:     0x6001,
			Data:    [][]byte{{}},
		}
		return d, 0
	}
	return b
}

func TestBackend(t *testing.T) {
	b := newFakeBackend(t, DevTypeFT232R, DevTypeFT232H)
	if ok, err := b.Init(); !ok || err != nil {
		t.Fatalf("Init() = %t, %v", ok, err)
	}
	chips, err := b.Chips()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"ftdi0", "ftdi1"}, chips); diff != "" {
		t.Errorf("Chips() mismatch (-want +got):\n%s", diff)
	}
	c, err := b.OpenChip("ftdi1")
	if err != nil {
		t.Fatal(err)
	}
	if c.Name() != "ftdi1" || c.LineCount() != NumLines || c.(*Chip).Type() != DevTypeFT232H {
		t.Errorf("chip = %s, %d lines, %s", c.Name(), c.LineCount(), c.(*Chip).Type())
	}
	if _, err := b.OpenChip("ftdi1"); !errors.Is(err, native.ErrBusy) {
		t.Errorf("second OpenChip() = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	c, err = b.OpenChip("ftdi1")
	if err != nil {
		t.Fatalf("OpenChip() after Close() = %v", err)
	}
	_ = c.Close()
}

func TestBackendErrors(t *testing.T) {
	b := newFakeBackend(t)
	if ok, err := b.Init(); ok || !errors.Is(err, native.ErrNoChip) {
		t.Errorf("Init() = %t, %v", ok, err)
	}
	if _, err := b.Chips(); !errors.Is(err, native.ErrNoChip) {
		t.Errorf("Chips() = %v", err)
	}
	for _, name := range []string{"gpiochip0", "ftdi", "ftdi-1"} {
		if _, err := b.OpenChip(name); !errors.Is(err, native.ErrNoChip) {
			t.Errorf("OpenChip(%q) = %v", name, err)
		}
	}
	b = newFakeBackend(t, DevTypeFT4222H0)
	if _, err := b.OpenChip("ftdi0"); err == nil {
		t.Error("FT4222 opened in bit-bang mode")
	}
	b.numDevices = func() (int, error) {
		return 0, errors.New("no driver")
	}
	if _, err := b.Chips(); err == nil {
		t.Error("Chips() hid the enumeration failure")
	}
}

func TestDevType(t *testing.T) {
	data := []struct {
		t    DevType
		name string
	}{
		{DevTypeFT232R, "FT232R"},
		{DevTypeFT4222H1_2, "FT4222H1/2"},
		{DevTypeFTUMFTPD3A, "FTUMFTPD3A"},
		{DevType(200), "Unknown"},
	}
	for _, line := range data {
		if got := line.t.String(); got != line.name {
			t.Errorf("DevType(%d).String() = %q, want %q", line.t, got, line.name)
		}
	}
}
