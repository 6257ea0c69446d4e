// Copyright (C) 2026 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package fswatcher

import (
	"errors"
	"time"

	"github.com/syncthing/dirnotify/lib/backend"
	"github.com/syncthing/dirnotify/lib/events"
	"github.com/syncthing/dirnotify/lib/sync"
)

// fakeBackend is a scripted Backend. Records are injected with send and
// registrations are bookkept the way the kernel does, one ID per path or
// alias group.
type fakeBackend struct {
	mut       sync.Mutex
	cookies   bool
	next      backend.WatchID
	ids       map[string]backend.WatchID
	masks     map[backend.WatchID]backend.Mask
	aliases   map[string]string
	addErr    map[string]error
	removeErr error
	records   chan backend.Record
	errors    chan error
	closed    bool
}

func newFakeBackend(cookies bool) *fakeBackend {
	return &fakeBackend{
		mut:     sync.NewMutex(),
		cookies: cookies,
		ids:     make(map[string]backend.WatchID),
		masks:   make(map[backend.WatchID]backend.Mask),
		aliases: make(map[string]string),
		addErr:  make(map[string]error),
		records: make(chan backend.Record, 64),
		errors:  make(chan error, 1),
	}
}

func (f *fakeBackend) factory() backend.Factory {
	return func() (backend.Backend, error) { return f, nil }
}

func (f *fakeBackend) AddWatch(path string, mask backend.Mask) (backend.WatchID, error) {
	f.mut.Lock()
	defer f.mut.Unlock()
	if f.closed {
		return -1, backend.ErrClosed
	}
	if err := f.addErr[path]; err != nil {
		return -1, err
	}
	if target, ok := f.aliases[path]; ok {
		path = target
	}
	id, ok := f.ids[path]
	if !ok {
		f.next++
		id = f.next
		f.ids[path] = id
	}
	f.masks[id] = mask
	return id, nil
}

func (f *fakeBackend) RemoveWatch(id backend.WatchID) error {
	f.mut.Lock()
	defer f.mut.Unlock()
	if f.removeErr != nil {
		return f.removeErr
	}
	for path, cur := range f.ids {
		if cur == id {
			delete(f.ids, path)
			delete(f.masks, id)
			return nil
		}
	}
	return errors.New("no such watch")
}

func (f *fakeBackend) mask(path string) backend.Mask {
	f.mut.Lock()
	defer f.mut.Unlock()
	return f.masks[f.ids[path]]
}

func (f *fakeBackend) Records() <-chan backend.Record { return f.records }
func (f *fakeBackend) Errors() <-chan error           { return f.errors }
func (f *fakeBackend) Cookies() bool                  { return f.cookies }

func (f *fakeBackend) Close() error {
	f.mut.Lock()
	defer f.mut.Unlock()
	if !f.closed {
		f.closed = true
		close(f.records)
	}
	return nil
}

func (f *fakeBackend) send(recs ...backend.Record) {
	for _, rec := range recs {
		f.records <- rec
	}
}

// fakeClock is advanced by hand.
type fakeClock struct {
	mut sync.Mutex
	t   time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{mut: sync.NewMutex(), t: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mut.Lock()
	defer c.mut.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mut.Lock()
	c.t = c.t.Add(d)
	c.mut.Unlock()
}

// withoutTimes returns a copy of evs with the timestamps cleared, for
// comparisons that don't care about them.
func withoutTimes(evs []events.Event) []events.Event {
	if evs == nil {
		return nil
	}
	res := make([]events.Event, len(evs))
	for i, ev := range evs {
		ev.Time = time.Time{}
		res[i] = ev
	}
	return res
}
