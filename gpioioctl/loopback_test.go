// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package gpioioctl

import (
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"periph.io/x/conn/v3/gpio"
)

// TestLoopback needs two lines connected by a jumper wire. Set
// GPIOIOCTL_LOOPBACK to chip:out:in, for example gpiochip0:5:13.
func TestLoopback(t *testing.T) {
	env := os.Getenv("GPIOIOCTL_LOOPBACK")
	if env == "" {
		t.Skip("GPIOIOCTL_LOOPBACK not set")
	}
	parts := strings.Split(env, ":")
	if len(parts) != 3 {
		t.Fatalf("GPIOIOCTL_LOOPBACK=%q, want chip:out:in", env)
	}
	outN, err1 := strconv.Atoi(parts[1])
	inN, err2 := strconv.Atoi(parts[2])
	if err1 != nil || err2 != nil {
		t.Fatalf("GPIOIOCTL_LOOPBACK=%q, want chip:out:in", env)
	}
	if _, err := Default.Chips(); err != nil {
		t.Fatal(err)
	}
	c, err := Default.OpenChip(parts[0])
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	out, err := c.RequestOutput(outN, "loopback", gpio.Low)
	if err != nil {
		t.Fatal(err)
	}
	in, err := c.RequestBothEdges(inN, "loopback")
	if err != nil {
		t.Fatal(err)
	}
	for _, l := range []gpio.Level{gpio.High, gpio.Low} {
		if err := out.SetValue(l); err != nil {
			t.Fatal(err)
		}
		if ok, err := in.Wait(time.Second); !ok || err != nil {
			t.Fatalf("Wait() = %t, %v", ok, err)
		}
		e, err := in.ReadEvent()
		if err != nil {
			t.Fatal(err)
		}
		want := gpio.FallingEdge
		if l {
			want = gpio.RisingEdge
		}
		if e != want {
			t.Errorf("ReadEvent() = %s, want %s", e, want)
		}
		if v, err := in.Value(); v != l || err != nil {
			t.Errorf("Value() = %s, %v", v, err)
		}
	}
}
