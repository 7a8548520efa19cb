// Copyright 2021 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

//go:build gpiodriver_ftdi_debug

package ftdi

import (
	"github.com/sirupsen/logrus"
	"periph.io/x/d2xx"
	"periph.io/x/d2xx/d2xxtest"
)

var debugLog = logrus.WithField("component", "ftdi")

// logf is enabled when the build tag gpiodriver_ftdi_debug is specified.
func logf(format string, v ...interface{}) {
	debugLog.Debugf(format, v...)
}

func wrapOpen(open func(i int) (d2xx.Handle, d2xx.Err)) func(i int) (d2xx.Handle, d2xx.Err) {
	return func(i int) (d2xx.Handle, d2xx.Err) {
		h, e := open(i)
		if e != 0 {
			return h, e
		}
		return &d2xxtest.Log{H: h, Printf: logf}, e
	}
}
