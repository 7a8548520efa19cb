// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package gpioioctl

// Definitions for the GPIO v2 character device ioctl calls.
//
// https://docs.kernel.org/userspace-api/gpio/chardev.html

import (
	"encoding/binary"
	"fmt"
	"strings"
	"unsafe"

	"periph.io/x/conn/v3/gpio"

	"periph.io/x/gpiodriver/native"
)

// From the linux /usr/include/asm-generic/ioctl.h file.
const (
	_IOC_NONE  = 0
	_IOC_WRITE = 1
	_IOC_READ  = 2

	_IOC_NRBITS   = 8
	_IOC_TYPEBITS = 8
	_IOC_SIZEBITS = 14

	_IOC_NRSHIFT   = 0
	_IOC_TYPESHIFT = _IOC_NRSHIFT + _IOC_NRBITS
	_IOC_SIZESHIFT = _IOC_TYPESHIFT + _IOC_TYPEBITS
	_IOC_DIRSHIFT  = _IOC_SIZESHIFT + _IOC_SIZEBITS
)

func _IOC(dir, typ, nr, size uintptr) uintptr {
	return dir<<_IOC_DIRSHIFT |
		typ<<_IOC_TYPESHIFT |
		nr<<_IOC_NRSHIFT |
		size<<_IOC_SIZESHIFT
}

func _IOR(typ, nr, size uintptr) uintptr {
	return _IOC(_IOC_READ, typ, nr, size)
}

func _IOWR(typ, nr, size uintptr) uintptr {
	return _IOC(_IOC_READ|_IOC_WRITE, typ, nr, size)
}

// From the /usr/include/linux/gpio.h header file.
const (
	_GPIO_MAX_NAME_SIZE         = native.MaxConsumerSize
	_GPIO_V2_LINE_NUM_ATTRS_MAX = 10
	_GPIO_V2_LINES_MAX          = 64

	_GPIO_V2_LINE_FLAG_USED          uint64 = 1 << 0
	_GPIO_V2_LINE_FLAG_INPUT         uint64 = 1 << 2
	_GPIO_V2_LINE_FLAG_OUTPUT        uint64 = 1 << 3
	_GPIO_V2_LINE_FLAG_EDGE_RISING   uint64 = 1 << 4
	_GPIO_V2_LINE_FLAG_EDGE_FALLING  uint64 = 1 << 5
	_GPIO_V2_LINE_FLAG_BIAS_DISABLED uint64 = 1 << 10

	_GPIO_V2_LINE_EVENT_RISING_EDGE  uint32 = 1
	_GPIO_V2_LINE_EVENT_FALLING_EDGE uint32 = 2

	_GPIO_V2_LINE_ATTR_ID_OUTPUT_VALUES uint32 = 2

	// eventBufferSize is the kernel side queue of edge events per line.
	eventBufferSize = 16
)

type gpiochip_info struct {
	name  [_GPIO_MAX_NAME_SIZE]byte
	label [_GPIO_MAX_NAME_SIZE]byte
	lines uint32
}

type gpio_v2_line_attribute struct {
	id      uint32
	padding uint32
	// value is a union whose interpretation depends on id.
	value uint64
}

type gpio_v2_line_config_attribute struct {
	attr gpio_v2_line_attribute
	mask uint64
}

type gpio_v2_line_config struct {
	flags     uint64
	num_attrs uint32
	padding   [5]uint32
	attrs     [_GPIO_V2_LINE_NUM_ATTRS_MAX]gpio_v2_line_config_attribute
}

type gpio_v2_line_request struct {
	offsets           [_GPIO_V2_LINES_MAX]uint32
	consumer          [_GPIO_MAX_NAME_SIZE]byte
	config            gpio_v2_line_config
	num_lines         uint32
	event_buffer_size uint32
	padding           [5]uint32
	fd                int32
}

type gpio_v2_line_values struct {
	bits uint64
	mask uint64
}

type gpio_v2_line_info struct {
	name      [_GPIO_MAX_NAME_SIZE]byte
	consumer  [_GPIO_MAX_NAME_SIZE]byte
	offset    uint32
	num_attrs uint32
	flags     uint64
	attrs     [_GPIO_V2_LINE_NUM_ATTRS_MAX]gpio_v2_line_attribute
	padding   [4]uint32
}

type gpio_v2_line_event struct {
	Timestamp_ns uint64
	Id           uint32
	Offset       uint32
	Seqno        uint32
	LineSeqno    uint32
	Padding      [6]uint32
}

// lineEventSize is the size of one record read from a line request fd.
const lineEventSize = int(unsafe.Sizeof(gpio_v2_line_event{}))

func ioctl_gpiochip_info(fd uintptr, data *gpiochip_info) error {
	return ioctl(fd, _IOR(0xb4, 0x01, unsafe.Sizeof(gpiochip_info{})), unsafe.Pointer(data))
}

func ioctl_gpio_v2_line_info(fd uintptr, data *gpio_v2_line_info) error {
	return ioctl(fd, _IOWR(0xb4, 0x05, unsafe.Sizeof(gpio_v2_line_info{})), unsafe.Pointer(data))
}

func ioctl_gpio_v2_line_request(fd uintptr, data *gpio_v2_line_request) error {
	return ioctl(fd, _IOWR(0xb4, 0x07, unsafe.Sizeof(gpio_v2_line_request{})), unsafe.Pointer(data))
}

func ioctl_gpio_v2_line_config(fd uintptr, data *gpio_v2_line_config) error {
	return ioctl(fd, _IOWR(0xb4, 0x0d, unsafe.Sizeof(gpio_v2_line_config{})), unsafe.Pointer(data))
}

func ioctl_get_gpio_v2_line_values(fd uintptr, data *gpio_v2_line_values) error {
	return ioctl(fd, _IOWR(0xb4, 0x0e, unsafe.Sizeof(gpio_v2_line_values{})), unsafe.Pointer(data))
}

func ioctl_set_gpio_v2_line_values(fd uintptr, data *gpio_v2_line_values) error {
	return ioctl(fd, _IOWR(0xb4, 0x0f, unsafe.Sizeof(gpio_v2_line_values{})), unsafe.Pointer(data))
}

// getFlags returns the line_config flags for a single line.
func getFlags(dir native.LineDir, edge gpio.Edge) uint64 {
	var flags uint64
	switch dir {
	case native.LineInput:
		flags |= _GPIO_V2_LINE_FLAG_INPUT
	case native.LineOutput:
		flags |= _GPIO_V2_LINE_FLAG_OUTPUT
	}
	switch edge {
	case gpio.RisingEdge:
		flags |= _GPIO_V2_LINE_FLAG_EDGE_RISING
	case gpio.FallingEdge:
		flags |= _GPIO_V2_LINE_FLAG_EDGE_FALLING
	case gpio.BothEdges:
		flags |= _GPIO_V2_LINE_FLAG_EDGE_RISING | _GPIO_V2_LINE_FLAG_EDGE_FALLING
	}
	return flags
}

// newLineRequest builds the request for one line. initial is only used for
// outputs.
func newLineRequest(offset int, consumer string, dir native.LineDir, edge gpio.Edge, initial gpio.Level) *gpio_v2_line_request {
	req := &gpio_v2_line_request{num_lines: 1}
	req.offsets[0] = uint32(offset)
	copy(req.consumer[:_GPIO_MAX_NAME_SIZE-1], native.TrimConsumer(consumer))
	req.config.flags = getFlags(dir, edge)
	if dir == native.LineOutput {
		req.config.num_attrs = 1
		req.config.attrs[0].attr.id = _GPIO_V2_LINE_ATTR_ID_OUTPUT_VALUES
		req.config.attrs[0].mask = 1
		if initial {
			req.config.attrs[0].attr.value = 1
		}
	}
	if edge != gpio.NoEdge {
		req.event_buffer_size = eventBufferSize
	}
	return req
}

// decodeEvent converts one gpio_v2_line_event record.
func decodeEvent(b []byte) (gpio.Edge, error) {
	if len(b) != lineEventSize {
		return gpio.NoEdge, fmt.Errorf("gpioioctl: short event record: %d bytes", len(b))
	}
	switch id := binary.NativeEndian.Uint32(b[8:12]); id {
	case _GPIO_V2_LINE_EVENT_RISING_EDGE:
		return gpio.RisingEdge, nil
	case _GPIO_V2_LINE_EVENT_FALLING_EDGE:
		return gpio.FallingEdge, nil
	default:
		return gpio.NoEdge, fmt.Errorf("gpioioctl: unknown event id %d", id)
	}
}

// cString trims the NUL padding of a fixed size kernel string.
func cString(b []byte) string {
	return strings.TrimRight(string(b), "\x00")
}
