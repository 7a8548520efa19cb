// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package driver

import (
	"context"
	"errors"
	"fmt"

	"periph.io/x/conn/v3/gpio"

	"periph.io/x/gpiodriver/native"
)

// WaitOutcome tells how WaitForEvent returned.
type WaitOutcome int

const (
	EventMatched WaitOutcome = iota
	WaitCancelled
	WaitTimedOut
)

func (o WaitOutcome) String() string {
	switch o {
	case EventMatched:
		return "EventMatched"
	case WaitCancelled:
		return "WaitCancelled"
	case WaitTimedOut:
		return "WaitTimedOut"
	default:
		return fmt.Sprintf("WaitOutcome(%d)", int(o))
	}
}

// WaitResult is returned by WaitForEvent. Edge is only set for
// EventMatched.
type WaitResult struct {
	Outcome WaitOutcome
	Edge    gpio.Edge
}

// WaitForEvent blocks until an edge matching edge happens on pin, or ctx is
// done. gpio.BothEdges matches either direction.
//
// The pin is reserved for edge events for the duration of the call and
// released before it returns. A regular I/O reservation of the pin is
// dropped. It fails with ErrInvalidOperation if the pin has callbacks.
//
// Cancellation is observed within the configured poll timeout. A ctx
// deadline yields WaitTimedOut, other cancellations WaitCancelled.
func (d *Driver) WaitForEvent(ctx context.Context, pin int, edge gpio.Edge) (WaitResult, error) {
	switch edge {
	case gpio.RisingEdge, gpio.FallingEdge, gpio.BothEdges:
	default:
		return WaitResult{}, fmt.Errorf("WaitForEvent(%d, %s): %w", pin, edge, ErrInvalidArgument)
	}
	if err := d.lockLive(); err != nil {
		return WaitResult{}, err
	}
	if _, ok := d.subs[pin]; ok {
		d.mu.Unlock()
		return WaitResult{}, fmt.Errorf("WaitForEvent(%d): %w: pin has callbacks", pin, ErrInvalidOperation)
	}
	if _, ok := d.waits[pin]; ok {
		d.mu.Unlock()
		return WaitResult{}, fmt.Errorf("WaitForEvent(%d): %w: pin is already waited on", pin, ErrAlreadyInUse)
	}
	d.releaseOpenLocked(pin)
	l, err := d.chip.RequestBothEdges(pin, d.consumer)
	if err != nil {
		d.mu.Unlock()
		return WaitResult{}, requestError("WaitForEvent", pin, err)
	}
	h := native.Own(l)
	wctx, cancel := context.WithCancel(ctx)
	d.waits[pin] = cancel
	d.waiting.Add(1)
	d.mu.Unlock()

	defer func() {
		if err := h.Release(); err != nil {
			d.log.WithError(err).WithField("pin", pin).Warn("failed to release event line")
		}
		d.mu.Lock()
		delete(d.waits, pin)
		d.mu.Unlock()
		cancel()
		d.waiting.Done()
	}()

	for {
		if wctx.Err() != nil {
			switch {
			case ctx.Err() == nil:
				return WaitResult{}, ErrDisposed
			case errors.Is(ctx.Err(), context.DeadlineExceeded):
				return WaitResult{Outcome: WaitTimedOut}, nil
			default:
				return WaitResult{Outcome: WaitCancelled}, nil
			}
		}
		ready, err := l.Wait(d.timeout)
		if err != nil {
			return WaitResult{}, ioError("WaitForEvent", pin, err)
		}
		if !ready {
			continue
		}
		got, err := l.ReadEvent()
		if err != nil {
			return WaitResult{}, ioError("WaitForEvent", pin, err)
		}
		if edge == gpio.BothEdges || got == edge {
			return WaitResult{Outcome: EventMatched, Edge: got}, nil
		}
	}
}
