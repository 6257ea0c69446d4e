// Copyright (C) 2014 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package config implements reading of the stnotify configuration file.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"sigs.k8s.io/yaml"

	"github.com/syncthing/dirnotify/lib/backend"
	"github.com/syncthing/dirnotify/lib/events"
	"github.com/syncthing/dirnotify/lib/fswatcher"
)

type Configuration struct {
	AbsolutePaths bool                 `json:"absolutePaths"`
	Correlation   fswatcher.Policy     `json:"correlation"`
	MoveTimeout   Duration             `json:"moveTimeout"`
	SweepInterval Duration             `json:"sweepInterval"`
	Backend       backend.Type         `json:"backend,omitempty"`
	Watches       []WatchConfiguration `json:"watches"`
}

type WatchConfiguration struct {
	Path string `json:"path"`
	// Events lists the event types of interest. Empty means all of them.
	Events []events.EventType `json:"events,omitempty"`
}

// EventMask returns the configured event types as a mask.
func (w WatchConfiguration) EventMask() events.EventType {
	if len(w.Events) == 0 {
		return events.AllEvents
	}
	var mask events.EventType
	for _, t := range w.Events {
		mask |= t
	}
	return mask
}

// Default returns the configuration used for settings missing from the
// file.
func Default() Configuration {
	return Configuration{
		AbsolutePaths: true,
		Correlation:   fswatcher.Correlated,
		MoveTimeout:   Duration(fswatcher.DefaultMoveTimeout),
		SweepInterval: Duration(fswatcher.DefaultSweepInterval),
	}
}

// Load reads and validates the configuration file at path.
func Load(path string) (Configuration, error) {
	fd, err := os.Open(path)
	if err != nil {
		return Configuration{}, err
	}
	defer fd.Close()

	cfg, err := ReadYAML(fd)
	if err != nil {
		return Configuration{}, fmt.Errorf("%s: %w", path, err)
	}
	l.Debugf("loaded %s: %d watches", path, len(cfg.Watches))
	return cfg, nil
}

// ReadYAML parses and validates a configuration. Unknown keys are an
// error.
func ReadYAML(r io.Reader) (Configuration, error) {
	bs, err := io.ReadAll(r)
	if err != nil {
		return Configuration{}, err
	}
	cfg := Default()
	if err := yaml.UnmarshalStrict(bs, &cfg); err != nil {
		return Configuration{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Configuration{}, err
	}
	return cfg, nil
}

func (cfg Configuration) Marshal() ([]byte, error) {
	return yaml.Marshal(cfg)
}

var (
	errEmptyPath   = errors.New("watch without path")
	errNotPositive = errors.New("must be positive")
)

func (cfg Configuration) Validate() error {
	if _, err := backend.FactoryFor(cfg.Backend); err != nil {
		return err
	}
	if cfg.MoveTimeout <= 0 {
		return fmt.Errorf("moveTimeout: %w", errNotPositive)
	}
	if cfg.SweepInterval <= 0 {
		return fmt.Errorf("sweepInterval: %w", errNotPositive)
	}
	seen := make(map[string]struct{}, len(cfg.Watches))
	for i, w := range cfg.Watches {
		if w.Path == "" {
			return fmt.Errorf("watches[%d]: %w", i, errEmptyPath)
		}
		if _, ok := seen[w.Path]; ok {
			return fmt.Errorf("watches[%d]: duplicate path %s", i, w.Path)
		}
		seen[w.Path] = struct{}{}
	}
	return nil
}

// Options returns the Notifier options described by the configuration.
func (cfg Configuration) Options() (fswatcher.Options, error) {
	factory, err := backend.FactoryFor(cfg.Backend)
	if err != nil {
		return fswatcher.Options{}, err
	}
	opts := fswatcher.DefaultOptions()
	opts.Correlation = cfg.Correlation
	opts.AbsolutePaths = cfg.AbsolutePaths
	opts.MoveTimeout = time.Duration(cfg.MoveTimeout)
	opts.SweepInterval = time.Duration(cfg.SweepInterval)
	opts.NewBackend = factory
	return opts, nil
}

// Duration is a time.Duration written as a string such as "500ms".
type Duration time.Duration

func (d Duration) String() string {
	return time.Duration(d).String()
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(bs []byte) error {
	v, err := time.ParseDuration(string(bs))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}
