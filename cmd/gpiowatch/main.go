// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// gpiowatch logs the edges seen on GPIO lines.
//
// Usage:
//
//	gpiowatch [-config file.yaml] [-backend name] [-chip name] [-edge both] pin...
//
// With -once, it waits for a single matching edge per pin, one pin after the
// other, and exits with status 2 if -timeout expires first.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	prefixed "github.com/BertoldVdb/logrus-prefixed-formatter"
	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/gpio"

	_ "periph.io/x/gpiodriver"
	"periph.io/x/gpiodriver/driver"
)

var errTimeout = errors.New("timed out")

func newLogger(level logrus.Level) *logrus.Entry {
	logrus.ErrorKey = "$error"
	logger := logrus.New()
	logger.SetLevel(level)
	customFormatter := new(prefixed.TextFormatter)
	customFormatter.TimestampFormat = "2006-01-02 15:04:05.000"
	customFormatter.FullTimestamp = true
	customFormatter.PrefixPadding = 20
	customFormatter.SpacePadding = 50
	logger.SetFormatter(customFormatter)
	return logrus.NewEntry(logger)
}

// logLevel returns the -loglevel value when it was given, else the
// configuration's log_level, else flagLevel.
func logLevel(flagLevel int, flagSet bool, cfgLevel string) (logrus.Level, error) {
	if flagSet || cfgLevel == "" {
		return logrus.Level(flagLevel), nil
	}
	return logrus.ParseLevel(cfgLevel)
}

func parseEdge(s string) (gpio.Edge, error) {
	switch s {
	case "rising":
		return gpio.RisingEdge, nil
	case "falling":
		return gpio.FallingEdge, nil
	case "both":
		return gpio.BothEdges, nil
	default:
		return gpio.NoEdge, fmt.Errorf("unknown edge %q, want rising, falling or both", s)
	}
}

func parsePins(args []string) ([]int, error) {
	if len(args) == 0 {
		return nil, errors.New("specify at least one pin")
	}
	out := make([]int, 0, len(args))
	for _, a := range args {
		n, err := strconv.Atoi(a)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid pin %q", a)
		}
		out = append(out, n)
	}
	return out, nil
}

// watch logs every edge on pins until ctx is done or a polling goroutine
// fails.
func watch(ctx context.Context, d *driver.Driver, log *logrus.Entry, pins []int, edge gpio.Edge, faults <-chan error) error {
	cb := driver.NewCallback(func(e driver.Event) {
		log.WithFields(logrus.Fields{"prefix": "pin " + strconv.Itoa(e.Pin), "edge": e.Edge.String()}).Info("edge")
	})
	for _, p := range pins {
		if err := d.AddCallback(p, edge, cb); err != nil {
			return err
		}
	}
	log.Infof("watching %d pin(s) on %s", len(pins), d)
	select {
	case <-ctx.Done():
	case err := <-faults:
		return err
	}
	for _, p := range pins {
		if err := d.RemoveCallback(p, cb); err != nil {
			return err
		}
	}
	return nil
}

// once waits for one edge per pin.
func once(ctx context.Context, d *driver.Driver, log *logrus.Entry, pins []int, edge gpio.Edge, timeout time.Duration) error {
	for _, p := range pins {
		wctx, cancel := context.WithTimeout(ctx, timeout)
		res, err := d.WaitForEvent(wctx, p, edge)
		cancel()
		if err != nil {
			return err
		}
		switch res.Outcome {
		case driver.EventMatched:
			log.WithField("prefix", "pin "+strconv.Itoa(p)).Infof("%s", res.Edge)
		case driver.WaitTimedOut:
			return fmt.Errorf("pin %d: %w", p, errTimeout)
		default:
			return nil
		}
	}
	return nil
}

func mainImpl() error {
	configPath := flag.String("config", "", "YAML configuration file")
	backend := flag.String("backend", "", "backend name, overrides the configuration")
	chip := flag.String("chip", "", "chip name, overrides the configuration")
	edgeName := flag.String("edge", "both", "edge to report: rising, falling or both")
	onceFlag := flag.Bool("once", false, "wait for a single edge per pin and exit")
	timeout := flag.Duration("timeout", 10*time.Second, "with -once, how long to wait for each pin")
	loglevel := flag.Int("loglevel", int(logrus.InfoLevel), "The loglevel to use. Valid values are from 0 to 6. Higher values output more information")
	flag.Parse()

	edge, err := parseEdge(*edgeName)
	if err != nil {
		return err
	}
	pins, err := parsePins(flag.Args())
	if err != nil {
		return err
	}
	var cfg driver.Config
	if *configPath != "" {
		if cfg, err = driver.LoadConfig(*configPath); err != nil {
			return err
		}
	}
	if *backend != "" {
		cfg.Backend = *backend
	}
	if *chip != "" {
		cfg.Chip = *chip
	}
	loglevelSet := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "loglevel" {
			loglevelSet = true
		}
	})
	level, err := logLevel(*loglevel, loglevelSet, cfg.LogLevel)
	if err != nil {
		return err
	}
	log := newLogger(level)
	cfg.Logger = log
	faults := make(chan error, 1)
	cfg.OnFault = func(pin int, err error) {
		select {
		case faults <- fmt.Errorf("pin %d: %w", pin, err):
		default:
		}
	}

	d, err := driver.New(cfg)
	if err != nil {
		return err
	}
	defer d.Dispose()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if *onceFlag {
		return once(ctx, d, log, pins, edge, *timeout)
	}
	return watch(ctx, d, log, pins, edge, faults)
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "gpiowatch: %s.\n", err)
		if errors.Is(err, errTimeout) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
