//go:build linux

// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package gpioioctl

import (
	"errors"
	"io"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

const supported = true

// ioctl returns the raw unix.Errno on failure so that EBUSY can be
// recognized.
func ioctl(fd uintptr, req uintptr, arg unsafe.Pointer) error {
	_, _, ep := unix.Syscall(unix.SYS_IOCTL, fd, req, uintptr(arg))
	if ep != 0 {
		return ep
	}
	return nil
}

// pollIn waits up to timeout, rounded up to a millisecond, for fd to be
// readable.
func pollIn(fd int, timeout time.Duration) (bool, error) {
	ms := int(timeout / time.Millisecond)
	if ms < 1 {
		ms = 1
	}
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, ms)
	if errors.Is(err, unix.EINTR) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	if fds[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
		return false, unix.EIO
	}
	return fds[0].Revents&unix.POLLIN != 0, nil
}

func readFull(fd int, b []byte) error {
	n, err := unix.Read(fd, b)
	if err != nil {
		return err
	}
	if n != len(b) {
		return io.ErrUnexpectedEOF
	}
	return nil
}

func closeFD(fd int) error {
	return unix.Close(fd)
}
