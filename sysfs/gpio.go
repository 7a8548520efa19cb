// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package sysfs is a native backend using the legacy /sys/class/gpio
// interface.
//
// Uses gpio sysfs as described at
// https://www.kernel.org/doc/Documentation/gpio/sysfs.txt
//
// Each gpiochip directory is a chip; line offsets are relative to the chip's
// base. Edges are detected by polling the value file for POLLPRI. The
// direction of an edge is inferred from the level read right after the
// event, so very short pulses may be reported as two edges of the same
// direction.
//
// sysfs doesn't record who exported a line. A line already exported by
// another process is used as is; lines exported by this backend are
// unexported when released.
package sysfs

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"periph.io/x/conn/v3/driver"
	"periph.io/x/conn/v3/driver/driverreg"
	"periph.io/x/conn/v3/gpio"

	"periph.io/x/gpiodriver/native"
)

// Backend enumerates the gpiochip directories of a sysfs tree.
type Backend struct {
	root      string
	modelPath string
}

// New returns a backend rooted at root, usually /sys/class/gpio. modelPath
// is the device tree model file used to select the line naming scheme.
func New(root, modelPath string) *Backend {
	return &Backend{root: root, modelPath: modelPath}
}

// String implements native.Backend and driverreg.Driver.
func (b *Backend) String() string {
	return "sysfs"
}

// Prerequisites implements driverreg.Driver.
func (b *Backend) Prerequisites() []string {
	return nil
}

// After implements driverreg.Driver.
//
// The character device interface is preferred when both are present.
func (b *Backend) After() []string {
	return []string{"gpioioctl"}
}

// Init implements driverreg.Driver.
func (b *Backend) Init() (bool, error) {
	if !isLinux {
		return false, errors.New("sysfs: only supported on linux")
	}
	if _, err := b.Chips(); err != nil {
		return false, err
	}
	return true, nil
}

// Chips implements native.Backend. Chips are ordered by base number.
func (b *Backend) Chips() ([]string, error) {
	items, err := filepath.Glob(filepath.Join(b.root, "gpiochip*"))
	if err != nil {
		return nil, fmt.Errorf("sysfs: %w", err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("sysfs: %s: %w", b.root, native.ErrNoChip)
	}
	type entry struct {
		name string
		base int
	}
	var found []entry
	for _, item := range items {
		base, err := readInt(filepath.Join(item, "base"))
		if err != nil {
			continue
		}
		found = append(found, entry{filepath.Base(item), base})
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("sysfs: %s: %w", b.root, native.ErrNoChip)
	}
	sort.Slice(found, func(i, j int) bool { return found[i].base < found[j].base })
	out := make([]string, len(found))
	for i, e := range found {
		out[i] = e.name
	}
	return out, nil
}

// OpenChip implements native.Backend.
func (b *Backend) OpenChip(name string) (native.Chip, error) {
	dir := filepath.Join(b.root, name)
	base, err := readInt(filepath.Join(dir, "base"))
	if err != nil {
		return nil, fmt.Errorf("sysfs: %s: %w", name, err)
	}
	n, err := readInt(filepath.Join(dir, "ngpio"))
	if err != nil {
		return nil, fmt.Errorf("sysfs: %s: %w", name, err)
	}
	export, err := os.OpenFile(filepath.Join(b.root, "export"), os.O_WRONLY, 0)
	if err != nil {
		return nil, accessError(err)
	}
	unexport, err := os.OpenFile(filepath.Join(b.root, "unexport"), os.O_WRONLY, 0)
	if err != nil {
		_ = export.Close()
		return nil, accessError(err)
	}
	return &Chip{
		name:     name,
		root:     b.root,
		model:    readModel(b.modelPath),
		base:     base,
		n:        n,
		export:   export,
		unexport: unexport,
		lines:    map[int]*Line{},
	}, nil
}

// Chip is a gpiochip directory with the export files opened.
type Chip struct {
	name     string
	root     string
	model    string
	base     int
	n        int
	export   io.WriteCloser
	unexport io.WriteCloser

	mu     sync.Mutex
	lines  map[int]*Line
	closed bool
}

// Name implements native.Chip.
func (c *Chip) Name() string {
	return c.name
}

// LineCount implements native.Chip.
func (c *Chip) LineCount() int {
	return c.n
}

// Base returns the global number of the chip's first line.
func (c *Chip) Base() int {
	return c.base
}

// RequestInput implements native.Chip.
func (c *Chip) RequestInput(offset int, consumer string) (native.Line, error) {
	return c.request(offset, bIn, false)
}

// RequestOutput implements native.Chip.
func (c *Chip) RequestOutput(offset int, consumer string, initial gpio.Level) (native.Line, error) {
	// "To ensure glitch free operation, values "low" and "high" may be written
	// to configure the GPIO as an output with that initial value."
	if initial {
		return c.request(offset, bHigh, false)
	}
	return c.request(offset, bLow, false)
}

// RequestBothEdges implements native.Chip.
func (c *Chip) RequestBothEdges(offset int, consumer string) (native.Line, error) {
	return c.request(offset, bIn, true)
}

func (c *Chip) request(offset int, dir []byte, edge bool) (*Line, error) {
	if offset < 0 || offset >= c.n {
		return nil, fmt.Errorf("sysfs: %s line %d: %w", c.name, offset, native.ErrOutOfRange)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, native.ErrClosed
	}
	if _, ok := c.lines[offset]; ok {
		return nil, fmt.Errorf("sysfs: %s line %d: %w", c.name, offset, native.ErrBusy)
	}
	number := c.base + offset
	l := &Line{chip: c, offset: offset, number: number, root: getSymlinkRoot(c.root, c.model, number), edge: edge}
	if err := l.export(); err != nil {
		return nil, err
	}
	if err := seekWrite(l.fDirection, dir); err != nil {
		l.release()
		return nil, l.wrap(err)
	}
	if edge {
		if err := l.enableEdges(); err != nil {
			l.release()
			return nil, err
		}
	}
	c.lines[offset] = l
	return l, nil
}

// Close implements native.Chip.
func (c *Chip) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return native.ErrClosed
	}
	c.closed = true
	lines := make([]*Line, 0, len(c.lines))
	for _, l := range c.lines {
		lines = append(lines, l)
	}
	c.mu.Unlock()
	var errs []error
	for _, l := range lines {
		if err := l.Close(); err != nil && !errors.Is(err, native.ErrClosed) {
			errs = append(errs, err)
		}
	}
	errs = append(errs, c.export.Close(), c.unexport.Close())
	return errors.Join(errs...)
}

// Line is an exported sysfs line.
type Line struct {
	chip     *Chip
	offset   int
	number   int
	root     string
	edge     bool
	exported bool // exported by this process

	mu         sync.Mutex
	closed     bool
	fValue     *os.File
	fDirection *os.File
	fEdge      *os.File
	buf        [4]byte
}

// export opens the value and direction files, exporting the line if needed.
//
// c.mu must be held.
func (l *Line) export() error {
	var err error
	// It's possible the line had been exported already.
	if l.fValue, err = os.OpenFile(l.root+"value", os.O_RDWR, 0); err != nil {
		if !os.IsNotExist(err) {
			return accessError(l.wrap(err))
		}
		if _, err = l.chip.export.Write([]byte(strconv.Itoa(l.number))); err != nil {
			if errors.Is(err, syscall.EBUSY) {
				return native.WrapBusy(l.wrap(err))
			}
			return accessError(l.wrap(err))
		}
		l.exported = true
		// The virtual file creation is synchronous when writing to /export; albeit
		// udev rule execution is asynchronous, so file mode change via udev rules
		// takes some time to propagate.
		for start := time.Now(); ; {
			if l.fValue, err = os.OpenFile(l.root+"value", os.O_RDWR, 0); err == nil || !os.IsPermission(err) || time.Since(start) > udevTimeout {
				break
			}
			time.Sleep(time.Millisecond)
		}
		if err != nil {
			l.unexportLocked()
			return l.wrap(err)
		}
	}
	if l.fDirection, err = os.OpenFile(l.root+"direction", os.O_RDWR, 0); err != nil {
		_ = l.fValue.Close()
		l.unexportLocked()
		return l.wrap(err)
	}
	return nil
}

func (l *Line) enableEdges() error {
	var err error
	if l.fEdge, err = os.OpenFile(l.root+"edge", os.O_RDWR, 0); err != nil {
		return l.wrap(err)
	}
	// Reset the edge detection mode to none first otherwise edges are not
	// always delivered, as observed on an Allwinner A20 running kernel 4.14.14.
	if err := seekWrite(l.fEdge, bNone); err != nil {
		return l.wrap(err)
	}
	if err := seekWrite(l.fEdge, bBoth); err != nil {
		return l.wrap(err)
	}
	// The value file is readable from the start; consume it so that only real
	// edges wake up poll.
	if _, err := seekRead(l.fValue, l.buf[:]); err != nil {
		return l.wrap(err)
	}
	return nil
}

// release undoes a partial request. c.mu must be held.
func (l *Line) release() {
	if l.fEdge != nil {
		_ = seekWrite(l.fEdge, bNone)
		_ = l.fEdge.Close()
	}
	_ = l.fDirection.Close()
	_ = l.fValue.Close()
	l.unexportLocked()
}

func (l *Line) unexportLocked() {
	if l.exported {
		_, _ = l.chip.unexport.Write([]byte(strconv.Itoa(l.number)))
		l.exported = false
	}
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
	return l.readLevel()
}

func (l *Line) readLevel() (gpio.Level, error) {
	if _, err := seekRead(l.fValue, l.buf[:]); err != nil {
		return gpio.Low, l.wrap(err)
	}
	switch l.buf[0] {
	case '0':
		return gpio.Low, nil
	case '1':
		return gpio.High, nil
	default:
		return gpio.Low, l.wrap(fmt.Errorf("unexpected value %q", l.buf[0]))
	}
}

// SetValue implements native.Line.
func (l *Line) SetValue(v gpio.Level) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return native.ErrClosed
	}
	l.buf[0] = '0'
	if v {
		l.buf[0] = '1'
	}
	if err := seekWrite(l.fValue, l.buf[:1]); err != nil {
		return l.wrap(err)
	}
	return nil
}

// Direction implements native.Line.
func (l *Line) Direction() (native.LineDir, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return native.LineDirNotSet, native.ErrClosed
	}
	n, err := seekRead(l.fDirection, l.buf[:])
	if err != nil {
		return native.LineDirNotSet, l.wrap(err)
	}
	switch s := string(l.buf[:n]); {
	case strings.HasPrefix(s, "in"):
		return native.LineInput, nil
	case strings.HasPrefix(s, "out"):
		return native.LineOutput, nil
	default:
		return native.LineDirNotSet, nil
	}
}

// SetDirection implements native.Line.
func (l *Line) SetDirection(dir native.LineDir) error {
	var b []byte
	switch dir {
	case native.LineInput:
		b = bIn
	case native.LineOutput:
		b = bOut
	default:
		return l.wrap(fmt.Errorf("invalid direction %s", dir))
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return native.ErrClosed
	}
	if l.edge {
		return l.wrap(errors.New("edge lines keep their configuration"))
	}
	if err := seekWrite(l.fDirection, b); err != nil {
		return l.wrap(err)
	}
	return nil
}

// Wait implements native.Line.
func (l *Line) Wait(timeout time.Duration) (bool, error) {
	if !l.edge {
		return false, native.ErrNotEdge
	}
	l.mu.Lock()
	closed, f := l.closed, l.fValue
	l.mu.Unlock()
	if closed {
		return false, native.ErrClosed
	}
	ok, err := pollPri(int(f.Fd()), timeout)
	if err != nil {
		return false, l.wrap(err)
	}
	return ok, nil
}

// ReadEvent implements native.Line.
//
// Reading the value acknowledges the event; the level read gives the edge.
func (l *Line) ReadEvent() (gpio.Edge, error) {
	if !l.edge {
		return gpio.NoEdge, native.ErrNotEdge
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return gpio.NoEdge, native.ErrClosed
	}
	v, err := l.readLevel()
	if err != nil {
		return gpio.NoEdge, err
	}
	if v {
		return gpio.RisingEdge, nil
	}
	return gpio.FallingEdge, nil
}

// Close implements native.Line.
func (l *Line) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return native.ErrClosed
	}
	l.closed = true
	var errs []error
	if l.fEdge != nil {
		errs = append(errs, seekWrite(l.fEdge, bNone), l.fEdge.Close())
	}
	errs = append(errs, l.fDirection.Close(), l.fValue.Close())
	l.mu.Unlock()
	l.chip.mu.Lock()
	l.unexportLocked()
	delete(l.chip.lines, l.offset)
	l.chip.mu.Unlock()
	if err := errors.Join(errs...); err != nil {
		return l.wrap(err)
	}
	return nil
}

func (l *Line) wrap(err error) error {
	return fmt.Errorf("sysfs-gpio (GPIO%d): %w", l.number, err)
}

//

// udevTimeout bounds the wait for udev to make a freshly exported line
// accessible.
const udevTimeout = 5 * time.Second

var (
	bIn   = []byte("in")
	bOut  = []byte("out")
	bLow  = []byte("low")
	bHigh = []byte("high")
	bNone = []byte("none")
	bBoth = []byte("both")
)

func accessError(err error) error {
	if os.IsPermission(err) {
		return fmt.Errorf("need more access, try as root or setup udev rules: %w", err)
	}
	return err
}

func seekRead(f *os.File, b []byte) (int, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}
	return f.Read(b)
}

func seekWrite(f *os.File, b []byte) error {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	_, err := f.Write(b)
	return err
}

// readInt reads a pseudo-file (sysfs) that is known to contain an integer and
// returns the parsed number.
func readInt(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	var b [24]byte
	n, err := f.Read(b[:])
	if err != nil {
		return 0, err
	}
	raw := b[:n]
	if len(raw) == 0 || raw[len(raw)-1] != '\n' {
		return 0, errors.New("invalid value")
	}
	return strconv.Atoi(string(raw[:len(raw)-1]))
}

// readModel returns the device tree model, or "" when unavailable.
func readModel(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimRight(string(b), "\x00\n")
}

const jetsonOrinAgxOffset = 316

// The NVidia Jetson Orin AGX uses nonstandard names within /sys/class/gpio. This is a mapping
// from pin numbers starting at the offset above to their names on that machine. It should be
// considered immutable.
var jetsonOrinAgxPinNames = [196]string{
	"AA.00", "AA.01", "AA.02", "AA.03", "AA.04", "AA.05", "AA.06", "AA.07", "BB.00", "BB.01",
	"BB.02", "BB.03", "CC.00", "CC.01", "CC.02", "CC.03", "CC.04", "CC.05", "CC.06", "CC.07",
	"DD.00", "DD.01", "DD.02", "EE.00", "EE.01", "EE.02", "EE.03", "EE.04", "EE.05", "EE.06",
	"EE.07", "GG.00", "A.00", "A.01", "A.02", "A.03", "A.04", "A.05", "A.06", "A.07",
	"B.00", "C.00", "C.01", "C.02", "C.03", "C.04", "C.05", "C.06", "C.07", "D.00",
	"D.01", "D.02", "D.03", "E.00", "E.01", "E.02", "E.03", "E.04", "E.05", "E.06",
	"E.07", "F.00", "F.01", "F.02", "F.03", "F.04", "F.05", "G.00", "G.01", "G.02",
	"G.03", "G.04", "G.05", "G.06", "G.07", "H.00", "H.01", "H.02", "H.03", "H.04",
	"H.05", "H.06", "H.07", "I.00", "I.01", "I.02", "I.03", "I.04", "I.05", "I.06",
	"J.00", "J.01", "J.02", "J.03", "J.04", "J.05", "K.00", "K.01", "K.02", "K.03",
	"K.04", "K.05", "K.06", "K.07", "L.00", "L.01", "L.02", "L.03", "M.00", "M.01",
	"M.02", "M.03", "M.04", "M.05", "M.06", "M.07", "N.00", "N.01", "N.02", "N.03",
	"N.04", "N.05", "N.06", "N.07", "P.00", "P.01", "P.02", "P.03", "P.04", "P.05",
	"P.06", "P.07", "Q.00", "Q.01", "Q.02", "Q.03", "Q.04", "Q.05", "Q.06", "Q.07",
	"R.00", "R.01", "R.02", "R.03", "R.04", "R.05", "X.00", "X.01", "X.02", "X.03",
	"X.04", "X.05", "X.06", "X.07", "Y.00", "Y.01", "Y.02", "Y.03", "Y.04", "Y.05",
	"Y.06", "Y.07", "Z.00", "Z.01", "Z.02", "Z.03", "Z.04", "Z.05", "Z.06", "Z.07",
	"AC.00", "AC.01", "AC.02", "AC.03", "AC.04", "AC.05", "AC.06", "AC.07", "AD.00", "AD.01",
	"AD.02", "AD.03", "AE.00", "AE.01", "AF.00", "AF.01", "AF.02", "AF.03", "AG.00", "AG.01",
	"AG.02", "AG.03", "AG.04", "AG.05", "AG.06", "AG.07",
}

func getSymlinkRoot(root, boardModel string, pinNumber int) string {
	if boardModel == "Jetson AGX Orin" {
		if i := pinNumber - jetsonOrinAgxOffset; i >= 0 && i < len(jetsonOrinAgxPinNames) {
			return fmt.Sprintf("%s/P%s/", root, jetsonOrinAgxPinNames[i])
		}
	}
	// Nearly all boards use this naming scheme:
	return fmt.Sprintf("%s/gpio%d/", root, pinNumber)
}

// Default is the backend registered as "sysfs".
var Default = New("/sys/class/gpio", "/proc/device-tree/model")

func init() {
	native.MustRegister(Default)
	if isLinux {
		driverreg.MustRegister(Default)
	}
}

var _ native.Backend = &Backend{}
var _ native.Chip = &Chip{}
var _ native.Line = &Line{}
var _ driver.Impl = &Backend{}
