// Copyright 2018 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ftdi

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"periph.io/x/conn/v3/driver"
	"periph.io/x/conn/v3/driver/driverreg"
	"periph.io/x/d2xx"

	"periph.io/x/gpiodriver/native"
)

const chipPrefix = "ftdi"

// ChipName returns the chip name of the device at index i.
func ChipName(i int) string {
	return chipPrefix + strconv.Itoa(i)
}

// Backend enumerates FTDI devices through the D2XX driver.
type Backend struct {
	mu         sync.Mutex
	open       map[int]*Chip
	d2xxOpen   func(i int) (d2xx.Handle, d2xx.Err)
	numDevices func() (int, error)
}

// String implements native.Backend and driverreg.Driver.
func (b *Backend) String() string {
	return "ftdi"
}

// Prerequisites implements driverreg.Driver.
func (b *Backend) Prerequisites() []string {
	return nil
}

// After implements driverreg.Driver.
func (b *Backend) After() []string {
	return nil
}

// Init implements driverreg.Driver. It is skipped when no device is
// connected.
func (b *Backend) Init() (bool, error) {
	n, err := b.numDevices()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, fmt.Errorf("ftdi: %w", native.ErrNoChip)
	}
	return true, nil
}

// Chips implements native.Backend.
func (b *Backend) Chips() ([]string, error) {
	n, err := b.numDevices()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("ftdi: %w", native.ErrNoChip)
	}
	out := make([]string, n)
	for i := range out {
		out[i] = ChipName(i)
	}
	return out, nil
}

// OpenChip implements native.Backend. The DBus starts with every pin as an
// input.
func (b *Backend) OpenChip(name string) (native.Chip, error) {
	s, ok := strings.CutPrefix(name, chipPrefix)
	i, err := strconv.Atoi(s)
	if !ok || err != nil || i < 0 {
		return nil, fmt.Errorf("ftdi: chip %q: %w", name, native.ErrNoChip)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, busy := b.open[i]; busy {
		return nil, fmt.Errorf("ftdi: %s: %w", name, native.ErrBusy)
	}
	h, err := openDev(b.d2xxOpen, i)
	if err != nil {
		return nil, fmt.Errorf("ftdi: %s: %w", name, err)
	}
	c, err := newChip(h, name, h.t, func() {
		b.mu.Lock()
		delete(b.open, i)
		b.mu.Unlock()
	})
	if err != nil {
		_ = h.Close()
		return nil, err
	}
	if b.open == nil {
		b.open = map[int]*Chip{}
	}
	b.open[i] = c
	return c, nil
}

// openDev opens the device at index i and prepares it for bit-bang.
func openDev(opener func(i int) (d2xx.Handle, d2xx.Err), i int) (*handle, error) {
	h, err := openHandle(opener, i)
	if err != nil {
		return nil, err
	}
	if !h.t.HasBitbang() {
		_ = h.Close()
		return nil, fmt.Errorf("ftdi: %s has no bit-bang mode", h.t)
	}
	if err := h.Init(); err != nil {
		// The device could be in an unexpected state, try resetting it first.
		if err := h.Reset(); err != nil {
			_ = h.Close()
			return nil, err
		}
		if err := h.Init(); err != nil {
			_ = h.Close()
			return nil, err
		}
	}
	return h, nil
}

func (b *Backend) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.open = nil
	b.d2xxOpen = wrapOpen(d2xx.Open)
	b.numDevices = numDevices
}

// Default is the backend registered as "ftdi" when the D2XX driver is
// available.
var Default = &Backend{}

func init() {
	Default.reset()
	if d2xx.Available {
		native.MustRegister(Default)
		driverreg.MustRegister(Default)
	}
}

var _ native.Backend = &Backend{}
var _ driver.Impl = &Backend{}
