// Copyright (C) 2026 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package fswatcher

import (
	"fmt"
	"sort"

	"github.com/syncthing/dirnotify/lib/backend"
	"github.com/syncthing/dirnotify/lib/sync"
)

// watchRegistry maps watched directories to backend watch IDs and back.
// It is the only caller of the backend's AddWatch and RemoveWatch, which
// run under the write lock so that the two maps and the kernel side never
// disagree.
type watchRegistry struct {
	backend backend.Backend
	mut     sync.RWMutex
	byPath  map[string]backend.WatchID
	byID    map[backend.WatchID]string
	masks   map[backend.WatchID]backend.Mask
}

func newWatchRegistry(b backend.Backend) *watchRegistry {
	return &watchRegistry{
		backend: b,
		mut:     sync.NewRWMutex(),
		byPath:  make(map[string]backend.WatchID),
		byID:    make(map[backend.WatchID]string),
		masks:   make(map[backend.WatchID]backend.Mask),
	}
}

// add registers path with the backend. Adding an already watched path
// replaces its interest mask and keeps its ID.
func (r *watchRegistry) add(path string, mask backend.Mask) (backend.WatchID, error) {
	r.mut.Lock()
	defer r.mut.Unlock()

	id, err := r.backend.AddWatch(path, mask)
	if err != nil {
		return -1, classifyAddError(path, err)
	}

	if other, ok := r.byID[id]; ok && other != path {
		// Another spelling of a directory we already watch, e.g. through
		// a symlink. The kernel hands out one watch per inode, and has
		// just replaced its mask, so put the old one back.
		if _, err := r.backend.AddWatch(other, r.masks[id]); err != nil {
			l.Debugf("registry: restoring mask of %s: %v", other, err)
		}
		return -1, &WatchError{
			Op:    "add watch",
			Path:  path,
			Err:   ErrWatchRegistrationFailed,
			Cause: fmt.Errorf("same directory is already watched as %s", other),
		}
	}

	if _, ok := r.byPath[path]; !ok {
		metricWatches.Inc()
	}
	r.byPath[path] = id
	r.byID[id] = path
	r.masks[id] = mask
	l.Debugf("registry: %s is watch %d", path, id)
	return id, nil
}

// remove unregisters path. On failure the registry is left unchanged.
func (r *watchRegistry) remove(path string) error {
	r.mut.Lock()
	defer r.mut.Unlock()

	id, ok := r.byPath[path]
	if !ok {
		return &WatchError{Op: "remove watch", Path: path, Err: ErrUnknownWatch}
	}
	if err := r.backend.RemoveWatch(id); err != nil {
		return &WatchError{Op: "remove watch", Path: path, Err: ErrWatchRemovalFailed, Cause: err}
	}
	delete(r.byPath, path)
	delete(r.byID, id)
	delete(r.masks, id)
	metricWatches.Dec()
	l.Debugf("registry: removed %s (watch %d)", path, id)
	return nil
}

// resolve returns the directory of a watch ID.
func (r *watchRegistry) resolve(id backend.WatchID) (string, bool) {
	r.mut.RLock()
	path, ok := r.byID[id]
	r.mut.RUnlock()
	return path, ok
}

// forget drops a watch that the backend has already discarded, without
// calling back into the backend. It returns the path the watch had.
func (r *watchRegistry) forget(id backend.WatchID) (string, bool) {
	r.mut.Lock()
	defer r.mut.Unlock()

	path, ok := r.byID[id]
	if !ok {
		return "", false
	}
	delete(r.byID, id)
	delete(r.byPath, path)
	delete(r.masks, id)
	metricWatches.Dec()
	return path, true
}

// paths returns the watched directories in sorted order.
func (r *watchRegistry) paths() []string {
	r.mut.RLock()
	res := make([]string, 0, len(r.byPath))
	for path := range r.byPath {
		res = append(res, path)
	}
	r.mut.RUnlock()
	sort.Strings(res)
	return res
}
