// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package native

import (
	"errors"
	"sort"
	"sync"
)

var (
	mu       sync.Mutex
	backends = map[string]Backend{}
)

// Register makes a backend available by name. It is meant to be called from
// the backend package's init().
func Register(b Backend) error {
	mu.Lock()
	defer mu.Unlock()
	n := b.String()
	if len(n) == 0 {
		return errors.New("native: backend with empty name")
	}
	if _, ok := backends[n]; ok {
		return errors.New("native: backend " + n + " registered twice")
	}
	backends[n] = b
	return nil
}

// MustRegister calls Register and panics on failure.
func MustRegister(b Backend) {
	if err := Register(b); err != nil {
		panic(err)
	}
}

// Lookup returns the backend registered under name, or nil.
func Lookup(name string) Backend {
	mu.Lock()
	defer mu.Unlock()
	return backends[name]
}

// Names returns the registered backend names, sorted.
func Names() []string {
	mu.Lock()
	defer mu.Unlock()
	out := make([]string, 0, len(backends))
	for n := range backends {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
