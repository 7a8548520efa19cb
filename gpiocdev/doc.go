// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package gpiocdev is a native backend built on github.com/warthog618/go-gpiocdev.
//
// It talks to the same character device as package gpioioctl but lets the
// library run the edge event reader. Events delivered to the library's
// handler are buffered per line until the polling goroutine consumes them.
//
// Only built on Linux.
package gpiocdev
