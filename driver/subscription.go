// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package driver

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/gpio"

	"periph.io/x/gpiodriver/native"
)

// Event is passed to callbacks.
type Event struct {
	Pin  int
	Edge gpio.Edge
	Time time.Time
}

// Callback wraps a function so it can be registered and later removed.
//
// Callbacks are compared by pointer: registering the same *Callback twice
// for one edge makes it run twice per event.
type Callback struct {
	fn func(Event)
}

// NewCallback returns a Callback calling fn.
func NewCallback(fn func(Event)) *Callback {
	return &Callback{fn: fn}
}

// AddCallback registers cb for edge on pin. gpio.BothEdges registers it in
// both the rising and falling lists.
//
// The first callback on a pin releases its regular I/O reservation, if
// any, reserves the pin for edge events and starts its polling goroutine.
func (d *Driver) AddCallback(pin int, edge gpio.Edge, cb *Callback) error {
	if cb == nil || cb.fn == nil {
		return fmt.Errorf("AddCallback(%d): %w: nil callback", pin, ErrInvalidArgument)
	}
	switch edge {
	case gpio.RisingEdge, gpio.FallingEdge, gpio.BothEdges:
	default:
		return fmt.Errorf("AddCallback(%d, %s): %w", pin, edge, ErrInvalidArgument)
	}
	if err := d.lockLive(); err != nil {
		return err
	}
	defer d.mu.Unlock()
	s, ok := d.subs[pin]
	if !ok {
		if _, ok := d.waits[pin]; ok {
			return fmt.Errorf("AddCallback(%d): %w: pin is waiting for an event", pin, ErrAlreadyInUse)
		}
		d.releaseOpenLocked(pin)
		l, err := d.chip.RequestBothEdges(pin, d.consumer)
		if err != nil {
			return requestError("AddCallback", pin, err)
		}
		s = newSubscription(pin, native.Own(l), d.timeout, d.log.WithField("pin", pin), d.onFault)
		d.subs[pin] = s
		go s.run()
		d.log.WithField("pin", pin).Debug("listening for events")
	}
	s.add(edge, cb)
	return nil
}

// RemoveCallback unregisters every registration of cb on pin. When no
// callback remains, the polling goroutine is stopped and joined, then the
// event line is released.
func (d *Driver) RemoveCallback(pin int, cb *Callback) error {
	if err := d.lockLive(); err != nil {
		return err
	}
	s, ok := d.subs[pin]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("RemoveCallback(%d): %w", pin, ErrNotListening)
	}
	if !s.remove(cb) {
		d.mu.Unlock()
		return nil
	}
	delete(d.subs, pin)
	d.mu.Unlock()
	if err := s.stop(); err != nil {
		return ioError("RemoveCallback", pin, err)
	}
	d.log.WithField("pin", pin).Debug("stopped listening for events")
	return nil
}

// PollingFault returns the error that stopped the polling goroutine of pin,
// or nil while it is running.
func (d *Driver) PollingFault(pin int) error {
	if err := d.lockLive(); err != nil {
		return err
	}
	s, ok := d.subs[pin]
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("PollingFault(%d): %w", pin, ErrNotListening)
	}
	return s.fault()
}

// subscription is the listening state of one pin: its edge line, its two
// ordered callback lists and the goroutine polling the line.
type subscription struct {
	pin     int
	handle  *native.Handle
	timeout time.Duration
	log     *logrus.Entry
	onFault func(int, error)
	cancel  chan struct{}
	done    chan struct{}

	mu      sync.Mutex
	rising  []*Callback
	falling []*Callback
	err     error
}

func newSubscription(pin int, h *native.Handle, timeout time.Duration, log *logrus.Entry, onFault func(int, error)) *subscription {
	return &subscription{
		pin:     pin,
		handle:  h,
		timeout: timeout,
		log:     log,
		onFault: onFault,
		cancel:  make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (s *subscription) add(edge gpio.Edge, cb *Callback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if edge == gpio.RisingEdge || edge == gpio.BothEdges {
		s.rising = append(s.rising, cb)
	}
	if edge == gpio.FallingEdge || edge == gpio.BothEdges {
		s.falling = append(s.falling, cb)
	}
}

// remove drops cb from both lists. It returns true when both lists are
// empty afterward.
func (s *subscription) remove(cb *Callback) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rising = without(s.rising, cb)
	s.falling = without(s.falling, cb)
	return len(s.rising) == 0 && len(s.falling) == 0
}

func without(list []*Callback, cb *Callback) []*Callback {
	out := list[:0:0]
	for _, c := range list {
		if c != cb {
			out = append(out, c)
		}
	}
	return out
}

// listeners returns a copy of the list matching edge.
func (s *subscription) listeners(edge gpio.Edge) []*Callback {
	s.mu.Lock()
	defer s.mu.Unlock()
	var list []*Callback
	switch edge {
	case gpio.RisingEdge:
		list = s.rising
	case gpio.FallingEdge:
		list = s.falling
	}
	return append([]*Callback(nil), list...)
}

func (s *subscription) fault() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// run polls the edge line until cancel is closed or a native call fails.
// The line is only released by stop, after run returned.
func (s *subscription) run() {
	defer close(s.done)
	line := s.handle.Line()
	for {
		select {
		case <-s.cancel:
			return
		default:
		}
		ready, err := line.Wait(s.timeout)
		if err != nil {
			s.fail(fmt.Errorf("wait for edge on pin %d: %w: %w", s.pin, ErrIO, err))
			return
		}
		if !ready {
			continue
		}
		edge, err := line.ReadEvent()
		if err != nil {
			s.fail(fmt.Errorf("read edge on pin %d: %w: %w", s.pin, ErrIO, err))
			return
		}
		s.dispatch(Event{Pin: s.pin, Edge: edge, Time: time.Now()})
	}
}

func (s *subscription) dispatch(e Event) {
	for _, cb := range s.listeners(e.Edge) {
		s.call(cb, e)
	}
}

// call runs one callback, logging a panic instead of crashing the polling
// goroutine.
func (s *subscription) call(cb *Callback, e Event) {
	defer func() {
		if r := recover(); r != nil {
			s.log.WithField("edge", e.Edge).Errorf("callback panicked: %v", r)
		}
	}()
	cb.fn(e)
}

func (s *subscription) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.log.WithError(err).Error("polling stopped")
	if s.onFault != nil {
		s.onFault(s.pin, err)
	}
}

// stop signals cancellation, waits for run to return and releases the
// line, in that order.
func (s *subscription) stop() error {
	close(s.cancel)
	<-s.done
	return s.handle.Release()
}
