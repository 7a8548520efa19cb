// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package eventq implements the pending edge event FIFO used by backends
// whose native layer delivers events by callback or by sampling rather than
// through a pollable file descriptor.
package eventq

import (
	"sync"
	"time"

	"github.com/eapache/queue"
	"periph.io/x/conn/v3/gpio"
)

// Queue is a FIFO of edges with a bounded blocking wait. It is safe for
// concurrent use by one producer and one consumer.
type Queue struct {
	mu     sync.Mutex
	q      *queue.Queue
	max    int
	ready  chan struct{}
	closed bool
	// Dropped counts events discarded because the queue was full.
	dropped uint64
}

// New returns a Queue holding at most max pending events. max <= 0 means
// unbounded.
func New(max int) *Queue {
	return &Queue{q: queue.New(), max: max, ready: make(chan struct{}, 1)}
}

// Push appends an edge. When the queue is full the oldest event is dropped,
// as the kernel does with its own event buffer. Push after Close is ignored.
func (e *Queue) Push(edge gpio.Edge) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	if e.max > 0 && e.q.Length() >= e.max {
		e.q.Remove()
		e.dropped++
	}
	e.q.Add(edge)
	e.mu.Unlock()
	select {
	case e.ready <- struct{}{}:
	default:
	}
}

// Pop removes the oldest edge. ok is false if the queue is empty.
func (e *Queue) Pop() (edge gpio.Edge, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.q.Length() == 0 {
		return gpio.NoEdge, false
	}
	return e.q.Remove().(gpio.Edge), true
}

// Len returns the number of pending edges.
func (e *Queue) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.q.Length()
}

// Dropped returns the number of edges discarded on overflow.
func (e *Queue) Dropped() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dropped
}

// Wait blocks until an edge is pending or timeout expires. It returns false
// on timeout or once the queue is closed and drained.
func (e *Queue) Wait(timeout time.Duration) bool {
	if e.Len() > 0 {
		return true
	}
	if e.isClosed() {
		return false
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	for {
		select {
		case <-e.ready:
			if e.Len() > 0 {
				return true
			}
			if e.isClosed() {
				return false
			}
		case <-t.C:
			return e.Len() > 0
		}
	}
}

// Close wakes any waiter and rejects further pushes. Pending edges can
// still be popped.
func (e *Queue) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	select {
	case e.ready <- struct{}{}:
	default:
	}
}

func (e *Queue) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}
