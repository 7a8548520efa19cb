// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package native

import (
	"errors"
	"fmt"
	"strings"
	"syscall"
	"testing"
	"time"

	"periph.io/x/conn/v3/gpio"
)

type countingLine struct {
	closed int
}

func (l *countingLine) Offset() int { return 3 }
func (l *countingLine) Value() (gpio.Level, error) { return gpio.Low, nil }
func (l *countingLine) SetValue(gpio.Level) error { return nil }
func (l *countingLine) Direction() (LineDir, error) { return LineInput, nil }
func (l *countingLine) SetDirection(LineDir) error { return nil }
func (l *countingLine) Wait(time.Duration) (bool, error) { return false, ErrNotEdge }
func (l *countingLine) ReadEvent() (gpio.Edge, error) { return gpio.NoEdge, ErrNotEdge }
func (l *countingLine) Close() error {
	l.closed++
	return nil
}

func TestHandleReleaseOnce(t *testing.T) {
	l := &countingLine{}
	h := Own(l)
	if !h.Valid() {
		t.Fatal("new handle should be valid")
	}
	if h.Line() != l {
		t.Error("Line() returned a different line")
	}
	for i := 0; i < 3; i++ {
		if err := h.Release(); err != nil {
			t.Errorf("Release() #%d = %v", i, err)
		}
	}
	if l.closed != 1 {
		t.Errorf("line closed %d times, expected 1", l.closed)
	}
	if h.Valid() || h.Line() != nil {
		t.Error("released handle should be invalid")
	}
}

func TestHandleZeroInvalid(t *testing.T) {
	var h Handle
	if h.Valid() {
		t.Error("zero Handle should be invalid")
	}
	if err := h.Release(); err != nil {
		t.Errorf("Release() on zero Handle = %v", err)
	}
	if Own(nil).Valid() {
		t.Error("Own(nil) should be invalid")
	}
}

func TestWrapBusy(t *testing.T) {
	err := WrapBusy(fmt.Errorf("line_request ioctl: %w", syscall.EBUSY))
	if !errors.Is(err, ErrBusy) {
		t.Errorf("expected ErrBusy, got %v", err)
	}
	if !errors.Is(err, syscall.EBUSY) {
		t.Errorf("original cause lost: %v", err)
	}
	other := errors.New("boom")
	if WrapBusy(other) != other {
		t.Error("non-busy errors should pass through")
	}
	if WrapBusy(nil) != nil {
		t.Error("WrapBusy(nil) should be nil")
	}
}

type namedBackend string

func (n namedBackend) String() string { return string(n) }
func (n namedBackend) Chips() ([]string, error) { return nil, ErrNoChip }
func (n namedBackend) OpenChip(string) (Chip, error) { return nil, ErrNoChip }

func TestRegistry(t *testing.T) {
	b := namedBackend("registry-test")
	if err := Register(b); err != nil {
		t.Fatal(err)
	}
	if err := Register(b); err == nil {
		t.Error("second Register should fail")
	}
	if err := Register(namedBackend("")); err == nil {
		t.Error("empty name should fail")
	}
	if Lookup("registry-test") == nil {
		t.Error("Lookup failed")
	}
	if Lookup("nope") != nil {
		t.Error("Lookup of unknown name should be nil")
	}
	found := false
	for _, n := range Names() {
		if n == "registry-test" {
			found = true
		}
	}
	if !found {
		t.Errorf("Names() = %v", Names())
	}
}

func TestConsumer(t *testing.T) {
	c := DefaultConsumer()
	if !strings.Contains(c, "@") {
		t.Errorf("unexpected consumer %q", c)
	}
	if len(c) >= MaxConsumerSize {
		t.Errorf("consumer %q too long", c)
	}
	long := strings.Repeat("x", 40)
	if got := TrimConsumer(long); len(got) != MaxConsumerSize-1 {
		t.Errorf("TrimConsumer len = %d", len(got))
	}
}

func TestLineDirString(t *testing.T) {
	if LineOutput.String() != "Output" || LineDir(9).String() != "LineDir(?)" {
		t.Error("unexpected LineDir labels")
	}
}
