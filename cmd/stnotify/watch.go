// Copyright (C) 2026 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/syncthing/dirnotify/lib/config"
	"github.com/syncthing/dirnotify/lib/events"
	"github.com/syncthing/dirnotify/lib/fswatcher"
)

var errNoWatches = errors.New("none of the configured directories could be watched")

// watchService registers the configured watches and prints every event
// as a line of JSON until its context is cancelled.
type watchService struct {
	notifier *fswatcher.Notifier
	watches  []config.WatchConfiguration
	enc      *json.Encoder
}

func newWatchService(n *fswatcher.Notifier, watches []config.WatchConfiguration, out io.Writer) *watchService {
	return &watchService{
		notifier: n,
		watches:  watches,
		enc:      json.NewEncoder(out),
	}
}

// Serve runs once. Closing the Notifier is left to the owner.
func (s *watchService) Serve(ctx context.Context) error {
	if err := s.notifier.Init(); err != nil {
		return err
	}

	var mask events.EventType
	for _, w := range s.watches {
		mask |= w.EventMask()
	}
	id, err := s.notifier.Subscribe(mask, s.print)
	if err != nil {
		return err
	}
	defer s.notifier.UnsubscribeAll(id)

	added := 0
	for _, w := range s.watches {
		err := s.notifier.AddWatch(w.Path, w.EventMask())
		switch {
		case errors.Is(err, fswatcher.ErrInvalidTarget):
			l.Warnf("Not watching %s: not a directory", w.Path)
			if err := s.notifier.RemoveWatch(w.Path); err != nil {
				l.Debugln("removing invalid watch:", err)
			}
		case err != nil:
			l.Warnln("Not watching:", err)
		default:
			added++
		}
	}
	if added == 0 {
		return errNoWatches
	}
	l.Infof("Watching %d directories", added)

	<-ctx.Done()
	return nil
}

// print runs on the notifier's delivery goroutine, so the encoder needs
// no locking.
func (s *watchService) print(ev events.Event) {
	if err := s.enc.Encode(ev); err != nil {
		l.Debugln("writing event:", err)
	}
}

func (s *watchService) String() string {
	return "watchService"
}
