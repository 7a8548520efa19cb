// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package driver manages GPIO pins on one chip of a native backend.
//
// A Driver owns the chip for its whole lifetime. Pins are opened for
// regular I/O with OpenPin and SetPinMode, or put in listening state with
// AddCallback, which starts one polling goroutine per pin. Each goroutine
// waits on the pin's edge line with a short timeout, so that cancellation is
// observed between waits, and calls the registered callbacks in order.
//
// A pin is in exactly one of these states:
//
//	CLOSED -> OPEN(mode)   OpenPin, SetPinMode
//	OPEN   -> LISTENING    AddCallback, WaitForEvent (the OPEN line is released)
//	LISTENING -> CLOSED    last RemoveCallback, Dispose, WaitForEvent returning
//
// Going from LISTENING straight back to OPEN is not supported: call
// RemoveCallback for every callback, then OpenPin again.
//
// Callbacks run on the pin's polling goroutine. A callback must not remove
// the last callback of its own pin, nor call Dispose, since both wait for
// that goroutine to exit.
package driver
