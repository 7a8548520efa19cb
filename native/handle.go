// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package native

import "sync"

// Handle owns a reserved Line and guarantees it is released at most once.
//
// The zero Handle, and a Handle after Release, is invalid: Line returns nil
// and Valid returns false. A nil *Handle means "no reservation at all".
type Handle struct {
	mu   sync.Mutex
	line Line
}

// Own wraps l. A nil l yields an invalid Handle.
func Own(l Line) *Handle {
	return &Handle{line: l}
}

// Valid reports whether the Handle still holds its Line.
func (h *Handle) Valid() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.line != nil
}

// Line returns the owned Line, or nil if the Handle is invalid.
func (h *Handle) Line() Line {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.line
}

// Release closes the Line and invalidates the Handle. Later calls are
// no-ops returning nil.
func (h *Handle) Release() error {
	h.mu.Lock()
	l := h.line
	h.line = nil
	h.mu.Unlock()
	if l == nil {
		return nil
	}
	return l.Close()
}
