// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package rpio is a native backend for the Raspberry Pi built on
// github.com/stianeikeland/go-rpio, which maps the GPIO registers through
// /dev/gpiomem or /dev/mem.
//
// The register interface has no notion of line ownership nor event queue.
// Reservations are tracked in process, and edges are found by polling the
// event detect status register. The direction of an edge is inferred from
// the level read after it was detected.
//
// Only built on Linux.
package rpio
