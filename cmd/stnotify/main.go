// Copyright (C) 2026 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Command stnotify watches directories and prints one JSON object per
// filesystem event on standard output.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/thejerf/suture/v4"

	"github.com/syncthing/dirnotify/lib/backend"
	"github.com/syncthing/dirnotify/lib/config"
	"github.com/syncthing/dirnotify/lib/fswatcher"
	"github.com/syncthing/dirnotify/lib/svcutil"
)

type cli struct {
	Config        string   `help:"Configuration file" type:"existingfile" env:"STNOTIFY_CONFIG"`
	RelativePaths bool     `help:"Report file names relative to the watched directory"`
	Correlation   string   `help:"Move correlation policy (correlated or independent)" env:"STNOTIFY_CORRELATION"`
	Backend       string   `help:"Notification backend (inotify or fsnotify)" env:"STNOTIFY_BACKEND"`
	MetricsListen string   `help:"Address to serve Prometheus metrics on" env:"STNOTIFY_METRICS_LISTEN"`
	DumpConfig    bool     `help:"Print the effective configuration and exit"`
	Dirs          []string `arg:"" optional:"" help:"Directories to watch for all event types"`
}

func main() {
	var params cli
	kong.Parse(&params, kong.Description("Watch directories and print filesystem events as JSON lines."))
	os.Exit(params.run().AsInt())
}

func (c *cli) run() svcutil.ExitStatus {
	cfg, err := c.configuration()
	if err != nil {
		l.Warnln("Configuration:", err)
		return svcutil.ExitUsage
	}
	if c.DumpConfig {
		bs, err := cfg.Marshal()
		if err != nil {
			l.Warnln("Marshalling configuration:", err)
			return svcutil.ExitError
		}
		os.Stdout.Write(bs)
		return svcutil.ExitSuccess
	}
	if len(cfg.Watches) == 0 {
		l.Warnln("Nothing to watch; give directories as arguments or in the configuration file")
		return svcutil.ExitUsage
	}
	opts, err := cfg.Options()
	if err != nil {
		l.Warnln("Configuration:", err)
		return svcutil.ExitUsage
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	main := suture.New("main", svcutil.SpecWithDebugLogger(l))

	notifier := fswatcher.New(opts)
	svcutil.OnSupervisorDone(main, func() {
		if err := notifier.Close(); err != nil {
			l.Debugln("closing notifier:", err)
		}
	})

	ws := newWatchService(notifier, cfg.Watches, os.Stdout)
	var watchErr error
	main.Add(svcutil.AsService(func(ctx context.Context) error {
		watchErr = ws.Serve(ctx)
		cancel()
		return svcutil.NoRestartErr(watchErr)
	}, "watch service"))

	if c.MetricsListen != "" {
		main.Add(svcutil.AsService(func(ctx context.Context) error {
			return serveMetrics(ctx, c.MetricsListen)
		}, "metrics"))
	}

	if err := main.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		l.Warnln("Supervisor:", err)
		return svcutil.ExitError
	}
	if watchErr != nil {
		return svcutil.ExitError
	}
	return svcutil.ExitSuccess
}

// configuration returns the file configuration, or the default one, with
// the command line applied on top.
func (c *cli) configuration() (config.Configuration, error) {
	cfg := config.Default()
	if c.Config != "" {
		var err error
		if cfg, err = config.Load(c.Config); err != nil {
			return config.Configuration{}, err
		}
	}

	if c.RelativePaths {
		cfg.AbsolutePaths = false
	}
	if c.Correlation != "" {
		policy, err := fswatcher.ParsePolicy(c.Correlation)
		if err != nil {
			return config.Configuration{}, err
		}
		cfg.Correlation = policy
	}
	if c.Backend != "" {
		cfg.Backend = backend.Type(c.Backend)
	}
	for _, dir := range c.Dirs {
		cfg.Watches = append(cfg.Watches, config.WatchConfiguration{Path: dir})
	}

	if err := cfg.Validate(); err != nil {
		return config.Configuration{}, err
	}
	return cfg, nil
}

func serveMetrics(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return svcutil.NoRestartErr(fmt.Errorf("metrics: %w", err))
	}
	l.Infoln("Serving metrics on", lis.Addr())

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Handler: mux}

	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return ctx.Err()
}
