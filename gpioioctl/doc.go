// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.
//
// Package gpioioctl is a native backend using the Linux GPIO character
// device v2 ioctl interface.
//
// https://docs.kernel.org/userspace-api/gpio/index.html
//
// Each line request returns its own file descriptor. Edge events are read
// from that descriptor as gpio_v2_line_event records after poll(2) reports
// it readable.
//
// The backend registers itself as "gpioioctl" both with package native and
// with periph.io/x/conn/v3/driver/driverreg. It loads only on Linux hosts
// exposing at least one /dev/gpiochip* device.
package gpioioctl
