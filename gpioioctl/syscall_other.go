//go:build !linux

// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package gpioioctl

import (
	"errors"
	"time"
	"unsafe"
)

const supported = false

var errUnsupported = errors.New("gpioioctl: only supported on linux")

func ioctl(fd uintptr, req uintptr, arg unsafe.Pointer) error {
	return errUnsupported
}

func pollIn(fd int, timeout time.Duration) (bool, error) {
	return false, errUnsupported
}

func readFull(fd int, b []byte) error {
	return errUnsupported
}

func closeFD(fd int) error {
	return errUnsupported
}
