// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package gpiodriver loads every GPIO backend of this module.
//
// Importing it registers the gpioioctl, gpiocdev, sysfs, rpio, ftdi and sim
// backends, so a driver.Config can name any of them. Use package driver to
// open a chip.
package gpiodriver

import (
	"periph.io/x/conn/v3/driver/driverreg"

	// Make sure the backends are registered.
	_ "periph.io/x/gpiodriver/ftdi"
	_ "periph.io/x/gpiodriver/gpiocdev"
	_ "periph.io/x/gpiodriver/gpioioctl"
	_ "periph.io/x/gpiodriver/rpio"
	_ "periph.io/x/gpiodriver/sim"
	_ "periph.io/x/gpiodriver/sysfs"
)

// Init calls driverreg.Init() and returns it as-is.
//
// The only difference is that by calling gpiodriver.Init(), all the backends
// implemented in this module are guaranteed to be registered and probed.
func Init() (*driverreg.State, error) {
	return driverreg.Init()
}
