//go:build !linux

// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package sysfs

import (
	"errors"
	"time"
)

const isLinux = false

func pollPri(fd int, timeout time.Duration) (bool, error) {
	return false, errors.New("sysfs: edge detection is only supported on linux")
}
