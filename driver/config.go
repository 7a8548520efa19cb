// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package driver

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"periph.io/x/gpiodriver/native"
)

// Backend names accepted in Config.Backend.
const (
	BackendAuto      = "auto"
	BackendGPIOIoctl = "gpioioctl"
	BackendGPIOCdev  = "gpiocdev"
	BackendSysfs     = "sysfs"
	BackendRPIO      = "rpio"
	BackendFTDI      = "ftdi"
	BackendSim       = "sim"
)

// DefaultPollTimeout is how long a polling goroutine waits for an edge
// before checking for cancellation.
const DefaultPollTimeout = time.Millisecond

// autoOrder is the preference order used when Backend is "auto". The
// simulated backend is never selected automatically.
var autoOrder = []string{BackendGPIOIoctl, BackendGPIOCdev, BackendSysfs, BackendRPIO, BackendFTDI}

// Config configures a Driver.
//
// The zero value is valid: it selects the first chip of the first available
// backend, with the default consumer label and poll timeout.
type Config struct {
	// Backend is one of the Backend* names.
	Backend string `yaml:"backend" validate:"omitempty,oneof=auto gpioioctl gpiocdev sysfs rpio ftdi sim"`
	// Chip is the chip name to open. Empty means the first one that can be
	// opened.
	Chip string `yaml:"chip"`
	// Consumer is the label attached to every line request.
	Consumer string `yaml:"consumer" validate:"max=31"`
	// PollTimeout bounds each wait of the polling goroutines, and thus how
	// long RemoveCallback and Dispose block.
	PollTimeout time.Duration `yaml:"poll_timeout" validate:"omitempty,min=100us,max=1s"`
	// LogLevel is used when Logger is nil.
	LogLevel string `yaml:"log_level" validate:"omitempty,oneof=panic fatal error warn warning info debug trace"`

	// Logger receives the driver's log lines. A new logger writing to
	// stderr is created when nil.
	Logger *logrus.Entry `yaml:"-" validate:"-"`
	// OnFault is called from the polling goroutine when it stops on a
	// native error.
	OnFault func(pin int, err error) `yaml:"-" validate:"-"`
}

// ParseConfig decodes and validates a YAML document.
func ParseConfig(b []byte) (Config, error) {
	var c Config
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// LoadConfig reads and parses the YAML file at path.
func LoadConfig(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	return ParseConfig(b)
}

// Validate checks the field values.
func (c *Config) Validate() error {
	return wrapValidatorErrors(validate.Struct(c))
}

// withDefaults returns a copy with empty fields filled in.
func (c Config) withDefaults() Config {
	if c.Backend == "" {
		c.Backend = BackendAuto
	}
	if c.Consumer == "" {
		c.Consumer = native.DefaultConsumer()
	}
	if c.PollTimeout == 0 {
		c.PollTimeout = DefaultPollTimeout
	}
	if c.Logger == nil {
		l := logrus.New()
		if c.LogLevel != "" {
			if lvl, err := logrus.ParseLevel(c.LogLevel); err == nil {
				l.SetLevel(lvl)
			}
		}
		c.Logger = logrus.NewEntry(l)
	}
	c.Logger = c.Logger.WithField("component", "gpiodriver")
	return c
}

// resolveBackend returns the backend named by name, running the periph
// driver registry to find a loaded one for "auto".
func resolveBackend(name string) (native.Backend, error) {
	if name != BackendAuto {
		b := native.Lookup(name)
		if b == nil {
			return nil, fmt.Errorf("%w: backend %q is not registered; registered: %s", ErrConfig, name, strings.Join(native.Names(), ", "))
		}
		return b, nil
	}
	st, err := driverregInit()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrResourceUnavailable, err)
	}
	loaded := map[string]bool{}
	for _, d := range st.Loaded {
		loaded[d.String()] = true
	}
	for _, n := range autoOrder {
		if !loaded[n] {
			continue
		}
		if b := native.Lookup(n); b != nil {
			return b, nil
		}
	}
	return nil, fmt.Errorf("%w: no GPIO backend loaded", ErrResourceUnavailable)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func wrapValidatorErrors(err error) error {
	if err == nil {
		return nil
	}
	var valErrors validator.ValidationErrors
	if !errors.As(err, &valErrors) {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}
	msg := make([]string, 0, len(valErrors))
	for _, e := range valErrors {
		msg = append(msg, fmt.Sprintf("field %q failed on the %q tag (value %v)", e.Field(), e.Tag(), e.Value()))
	}
	return fmt.Errorf("%w:\n%s", ErrConfig, strings.Join(msg, "\n"))
}
