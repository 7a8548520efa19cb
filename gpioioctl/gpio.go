// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package gpioioctl

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"periph.io/x/conn/v3/driver"
	"periph.io/x/conn/v3/driver/driverreg"
	"periph.io/x/conn/v3/gpio"

	"periph.io/x/gpiodriver/native"
)

// Backend enumerates and opens the /dev/gpiochip* devices.
type Backend struct {
	root string

	mu    sync.Mutex
	paths map[string]string // chip name -> device path
}

// New returns a backend looking for gpiochip devices in root.
func New(root string) *Backend {
	return &Backend{root: root}
}

// String implements native.Backend and driverreg.Driver.
func (b *Backend) String() string {
	return "gpioioctl"
}

// Prerequisites implements driverreg.Driver.
func (b *Backend) Prerequisites() []string {
	return nil
}

// After implements driverreg.Driver.
func (b *Backend) After() []string {
	return nil
}

// Init implements driverreg.Driver.
//
// It succeeds when at least one chip can be opened.
func (b *Backend) Init() (bool, error) {
	if !supported {
		return false, errors.New("gpioioctl: only supported on linux")
	}
	names, err := b.Chips()
	if err != nil {
		return false, err
	}
	return len(names) > 0, nil
}

// Chips implements native.Backend.
//
// Chips labeled pinctrl-*, the Raspberry Pi kernel convention, come first;
// the rest are sorted by label. A chip reachable through several device
// nodes is listed once.
func (b *Backend) Chips() ([]string, error) {
	items, err := filepath.Glob(filepath.Join(b.root, "gpiochip*"))
	if err != nil {
		return nil, fmt.Errorf("gpioioctl: %w", err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("gpioioctl: %s: %w", b.root, native.ErrNoChip)
	}
	var found []chipInfo
	seen := map[string]bool{}
	var errs []error
	for _, item := range items {
		info, err := readChipInfo(item)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if seen[info.name] {
			continue
		}
		seen[info.name] = true
		found = append(found, info)
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("gpioioctl: %w: %w", native.ErrNoChip, errors.Join(errs...))
	}
	sortChips(found)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.paths = map[string]string{}
	out := make([]string, 0, len(found))
	for _, c := range found {
		b.paths[c.name] = c.path
		out = append(out, c.name)
	}
	return out, nil
}

// OpenChip implements native.Backend. name is a chip name as returned by
// Chips, or a device path.
func (b *Backend) OpenChip(name string) (native.Chip, error) {
	p := name
	if !strings.ContainsRune(name, '/') {
		b.mu.Lock()
		known, ok := b.paths[name]
		b.mu.Unlock()
		if !ok {
			known = filepath.Join(b.root, name)
		}
		p = known
	}
	return openChip(p)
}

type chipInfo struct {
	name  string
	label string
	path  string
	lines int
}

func readChipInfo(path string) (chipInfo, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return chipInfo{}, fmt.Errorf("gpioioctl: %w", err)
	}
	defer f.Close()
	return queryChip(f, path)
}

func queryChip(f *os.File, path string) (chipInfo, error) {
	var info gpiochip_info
	if err := ioctl_gpiochip_info(f.Fd(), &info); err != nil {
		return chipInfo{}, fmt.Errorf("gpioioctl: chipinfo %s: %w", path, err)
	}
	c := chipInfo{
		name:  cString(info.name[:]),
		label: cString(info.label[:]),
		path:  path,
		lines: int(info.lines),
	}
	if c.label == "" {
		c.label = c.name
	}
	return c, nil
}

func sortChips(chips []chipInfo) {
	sort.SliceStable(chips, func(i, j int) bool {
		pi := strings.HasPrefix(chips[i].label, "pinctrl-")
		pj := strings.HasPrefix(chips[j].label, "pinctrl-")
		if pi != pj {
			return pi
		}
		return chips[i].label < chips[j].label
	})
}

// Chip is an open /dev/gpiochip* device.
type Chip struct {
	info chipInfo
	file *os.File

	mu     sync.Mutex
	lines  map[*Line]struct{}
	closed bool
}

func openChip(path string) (*Chip, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("gpioioctl: opening %s: %w", path, err)
	}
	info, err := queryChip(f, path)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Chip{info: info, file: f, lines: map[*Line]struct{}{}}, nil
}

// Name implements native.Chip.
func (c *Chip) Name() string {
	return c.info.name
}

// Label returns the label the kernel driver gave the chip.
func (c *Chip) Label() string {
	return c.info.label
}

// Path returns the device node the chip was opened from.
func (c *Chip) Path() string {
	return c.info.path
}

// LineCount implements native.Chip.
func (c *Chip) LineCount() int {
	return c.info.lines
}

// RequestInput implements native.Chip.
func (c *Chip) RequestInput(offset int, consumer string) (native.Line, error) {
	return c.request(offset, newLineRequest(offset, consumer, native.LineInput, gpio.NoEdge, gpio.Low))
}

// RequestOutput implements native.Chip.
func (c *Chip) RequestOutput(offset int, consumer string, initial gpio.Level) (native.Line, error) {
	return c.request(offset, newLineRequest(offset, consumer, native.LineOutput, gpio.NoEdge, initial))
}

// RequestBothEdges implements native.Chip.
func (c *Chip) RequestBothEdges(offset int, consumer string) (native.Line, error) {
	return c.request(offset, newLineRequest(offset, consumer, native.LineInput, gpio.BothEdges, gpio.Low))
}

func (c *Chip) request(offset int, req *gpio_v2_line_request) (*Line, error) {
	if offset < 0 || offset >= c.info.lines {
		return nil, fmt.Errorf("gpioioctl: %s line %d: %w", c.info.name, offset, native.ErrOutOfRange)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, native.ErrClosed
	}
	if err := ioctl_gpio_v2_line_request(c.file.Fd(), req); err != nil {
		return nil, native.WrapBusy(fmt.Errorf("gpioioctl: line_request %s/%d: %w", c.info.name, offset, err))
	}
	l := &Line{chip: c, offset: offset, fd: int(req.fd), edge: req.event_buffer_size != 0}
	c.lines[l] = struct{}{}
	return l, nil
}

// Close implements native.Chip. Lines still requested are released.
func (c *Chip) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return native.ErrClosed
	}
	c.closed = true
	lines := make([]*Line, 0, len(c.lines))
	for l := range c.lines {
		lines = append(lines, l)
	}
	c.mu.Unlock()
	var errs []error
	for _, l := range lines {
		if err := l.Close(); err != nil && !errors.Is(err, native.ErrClosed) {
			errs = append(errs, err)
		}
	}
	errs = append(errs, c.file.Close())
	return errors.Join(errs...)
}

// LineInfo describes a line as the kernel reports it.
type LineInfo struct {
	Offset    int
	Name      string
	Consumer  string
	Used      bool
	Direction native.LineDir
}

// LineInfo returns the kernel's view of a line, whoever holds it.
func (c *Chip) LineInfo(offset int) (LineInfo, error) {
	if offset < 0 || offset >= c.info.lines {
		return LineInfo{}, native.ErrOutOfRange
	}
	info := gpio_v2_line_info{offset: uint32(offset)}
	if err := ioctl_gpio_v2_line_info(c.file.Fd(), &info); err != nil {
		return LineInfo{}, fmt.Errorf("gpioioctl: line_info %s/%d: %w", c.info.name, offset, err)
	}
	li := LineInfo{
		Offset:   offset,
		Name:     cString(info.name[:]),
		Consumer: cString(info.consumer[:]),
		Used:     info.flags&_GPIO_V2_LINE_FLAG_USED != 0,
	}
	switch {
	case info.flags&_GPIO_V2_LINE_FLAG_OUTPUT != 0:
		li.Direction = native.LineOutput
	case info.flags&_GPIO_V2_LINE_FLAG_INPUT != 0:
		li.Direction = native.LineInput
	}
	return li, nil
}

func (c *Chip) forget(l *Line) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.lines, l)
}

// Line is a single line request.
type Line struct {
	chip   *Chip
	offset int
	fd     int
	edge   bool

	mu     sync.Mutex
	closed bool
	buf    [lineEventSize]byte
}

// Offset implements native.Line.
func (l *Line) Offset() int {
	return l.offset
}

// Value implements native.Line.
func (l *Line) Value() (gpio.Level, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return gpio.Low, native.ErrClosed
	}
	data := gpio_v2_line_values{mask: 1}
	if err := ioctl_get_gpio_v2_line_values(uintptr(l.fd), &data); err != nil {
		return gpio.Low, fmt.Errorf("gpioioctl: get_values %d: %w", l.offset, err)
	}
	return data.bits&1 == 1, nil
}

// SetValue implements native.Line.
func (l *Line) SetValue(v gpio.Level) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return native.ErrClosed
	}
	data := gpio_v2_line_values{mask: 1}
	if v {
		data.bits = 1
	}
	if err := ioctl_set_gpio_v2_line_values(uintptr(l.fd), &data); err != nil {
		return fmt.Errorf("gpioioctl: set_values %d: %w", l.offset, err)
	}
	return nil
}

// Direction implements native.Line.
func (l *Line) Direction() (native.LineDir, error) {
	if l.isClosed() {
		return native.LineDirNotSet, native.ErrClosed
	}
	info, err := l.chip.LineInfo(l.offset)
	if err != nil {
		return native.LineDirNotSet, err
	}
	return info.Direction, nil
}

// SetDirection implements native.Line.
func (l *Line) SetDirection(dir native.LineDir) error {
	if dir != native.LineInput && dir != native.LineOutput {
		return fmt.Errorf("gpioioctl: invalid direction %s", dir)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return native.ErrClosed
	}
	if l.edge {
		return fmt.Errorf("gpioioctl: line %d: edge requests keep their configuration", l.offset)
	}
	cfg := gpio_v2_line_config{flags: getFlags(dir, gpio.NoEdge)}
	if err := ioctl_gpio_v2_line_config(uintptr(l.fd), &cfg); err != nil {
		return fmt.Errorf("gpioioctl: line_config %d: %w", l.offset, err)
	}
	return nil
}

// Wait implements native.Line.
func (l *Line) Wait(timeout time.Duration) (bool, error) {
	if !l.edge {
		return false, native.ErrNotEdge
	}
	if l.isClosed() {
		return false, native.ErrClosed
	}
	ok, err := pollIn(l.fd, timeout)
	if err != nil {
		return false, fmt.Errorf("gpioioctl: poll %d: %w", l.offset, err)
	}
	return ok, nil
}

// ReadEvent implements native.Line.
func (l *Line) ReadEvent() (gpio.Edge, error) {
	if !l.edge {
		return gpio.NoEdge, native.ErrNotEdge
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return gpio.NoEdge, native.ErrClosed
	}
	if err := readFull(l.fd, l.buf[:]); err != nil {
		return gpio.NoEdge, fmt.Errorf("gpioioctl: read event %d: %w", l.offset, err)
	}
	return decodeEvent(l.buf[:])
}

// Close implements native.Line.
func (l *Line) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return native.ErrClosed
	}
	l.closed = true
	err := closeFD(l.fd)
	l.mu.Unlock()
	l.chip.forget(l)
	return err
}

func (l *Line) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// Default is the backend registered as "gpioioctl".
var Default = New("/dev")

func init() {
	native.MustRegister(Default)
	driverreg.MustRegister(Default)
}

var _ native.Backend = &Backend{}
var _ native.Chip = &Chip{}
var _ native.Line = &Line{}
var _ driver.Impl = &Backend{}
