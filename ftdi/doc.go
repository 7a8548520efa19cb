// Copyright 2017 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package ftdi exposes the DBus of FTDI USB bridges as a GPIO chip.
//
// Each enumerated device becomes a chip named "ftdi<index>" with 8 lines,
// D0 to D7, driven in asynchronous bit-bang mode through periph.io/x/d2xx.
// The bridge has no edge interrupt, so edge events are produced by sampling
// the pins while a Wait is in progress. A pulse shorter than the sampling
// interval can be missed.
//
// Use build tag gpiodriver_ftdi_debug to log every D2XX call.
//
// # Datasheets
//
// http://www.ftdichip.com/Support/Documents/AppNotes/AN_232R-01_Bit_Bang_Mode_Available_For_FT232R_and_Ft245R.pdf
package ftdi
