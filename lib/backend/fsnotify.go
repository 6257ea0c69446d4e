// Copyright (C) 2026 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package backend

import (
	"errors"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/syncthing/dirnotify/lib/sync"
)

// fsnotifyBackend adapts github.com/fsnotify/fsnotify. It works on every
// platform fsnotify supports, but fsnotify does not expose move cookies
// and reports the arrival side of a move as a create. Watch IDs are
// allocated locally.
type fsnotifyBackend struct {
	w       *fsnotify.Watcher
	records chan Record
	errors  chan error
	done    chan struct{}
	closed  sync.Mutex
	isDone  bool

	mut     sync.Mutex
	nextID  WatchID
	byPath  map[string]WatchID
	watches map[WatchID]fsnotifyWatch
}

type fsnotifyWatch struct {
	path string
	mask Mask
}

func NewFsnotify() (Backend, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	b := &fsnotifyBackend{
		w:       w,
		records: make(chan Record, recordBuffer),
		errors:  make(chan error, 1),
		done:    make(chan struct{}),
		closed:  sync.NewMutex(),
		mut:     sync.NewMutex(),
		nextID:  1,
		byPath:  make(map[string]WatchID),
		watches: make(map[WatchID]fsnotifyWatch),
	}
	go b.loop()
	return b, nil
}

func (b *fsnotifyBackend) AddWatch(path string, mask Mask) (WatchID, error) {
	path = filepath.Clean(path)

	b.mut.Lock()
	defer b.mut.Unlock()

	if id, ok := b.byPath[path]; ok {
		// Same semantics as inotify: re-adding replaces the mask.
		b.watches[id] = fsnotifyWatch{path: path, mask: mask}
		return id, nil
	}
	if err := b.w.Add(path); err != nil {
		return -1, err
	}
	id := b.nextID
	b.nextID++
	b.byPath[path] = id
	b.watches[id] = fsnotifyWatch{path: path, mask: mask}
	l.Debugf("fsnotify: watching %s as %d (mask %#x)", path, id, uint32(mask))
	return id, nil
}

func (b *fsnotifyBackend) RemoveWatch(id WatchID) error {
	b.mut.Lock()
	w, ok := b.watches[id]
	if !ok {
		b.mut.Unlock()
		return errors.New("fsnotify: no such watch")
	}
	if err := b.w.Remove(w.path); err != nil {
		b.mut.Unlock()
		return err
	}
	delete(b.watches, id)
	delete(b.byPath, w.path)
	b.mut.Unlock()
	return nil
}

func (b *fsnotifyBackend) Records() <-chan Record {
	return b.records
}

func (b *fsnotifyBackend) Errors() <-chan error {
	return b.errors
}

func (*fsnotifyBackend) Cookies() bool {
	return false
}

func (b *fsnotifyBackend) Close() error {
	b.closed.Lock()
	defer b.closed.Unlock()
	if b.isDone {
		return nil
	}
	b.isDone = true
	close(b.done)
	return b.w.Close()
}

func (b *fsnotifyBackend) loop() {
	defer close(b.records)
	defer close(b.errors)

	for {
		select {
		case ev, ok := <-b.w.Events:
			if !ok {
				return
			}
			for _, rec := range b.translate(ev) {
				if !b.send(rec) {
					return
				}
			}
		case err, ok := <-b.w.Errors:
			if !ok {
				return
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				if !b.send(Record{Kind: RecordOverflow, Watch: -1}) {
					return
				}
				continue
			}
			select {
			case b.errors <- err:
			case <-b.done:
				return
			}
		case <-b.done:
			return
		}
	}
}

func (b *fsnotifyBackend) send(rec Record) bool {
	select {
	case b.records <- rec:
		return true
	case <-b.done:
		return false
	}
}

// translate maps one fsnotify event to records for the watches it
// concerns, applying the watch mask that fsnotify itself does not know
// about.
func (b *fsnotifyBackend) translate(ev fsnotify.Event) []Record {
	b.mut.Lock()
	defer b.mut.Unlock()

	var res []Record

	// The watched directory itself went away.
	if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
		if id, ok := b.byPath[ev.Name]; ok {
			if ev.Has(fsnotify.Rename) {
				// fsnotify keeps following the inode under its old name.
				_ = b.w.Remove(ev.Name)
			}
			delete(b.byPath, ev.Name)
			delete(b.watches, id)
			res = append(res, Record{Kind: RecordIgnored, Watch: id})
		}
	}

	dir, name := filepath.Split(ev.Name)
	id, ok := b.byPath[filepath.Clean(dir)]
	if !ok {
		return res
	}
	mask := b.watches[id].mask

	add := func(kind RecordKind, need Mask) {
		if mask&need != 0 {
			res = append(res, Record{Kind: kind, Watch: id, Name: name})
		}
	}
	switch {
	case ev.Has(fsnotify.Create):
		add(RecordCreate, MaskCreate)
	case ev.Has(fsnotify.Remove):
		add(RecordDelete, MaskDelete)
	case ev.Has(fsnotify.Write):
		add(RecordModify, MaskModify)
	case ev.Has(fsnotify.Rename):
		add(RecordMoveOut, MaskMovedFrom)
	}
	return res
}
