// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package gpiodriver

import (
	"slices"
	"testing"

	"periph.io/x/gpiodriver/native"
)

func TestRegistered(t *testing.T) {
	names := native.Names()
	for _, want := range []string{"gpioioctl", "sysfs", "sim"} {
		if !slices.Contains(names, want) {
			t.Errorf("backend %q not registered: %v", want, names)
		}
	}
}

func TestInit(t *testing.T) {
	st, err := Init()
	if st == nil {
		t.Fatalf("Init() = nil, %v", err)
	}
	// Backends without hardware are skipped, never loaded.
	for _, d := range st.Loaded {
		if d.String() == "sim" {
			t.Error("sim backend probed through driverreg")
		}
	}
}
