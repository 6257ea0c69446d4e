// Copyright (C) 2026 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package fswatcher

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"syscall"
)

var (
	ErrNoSuchDirectory         = errors.New("no such directory")
	ErrAccessDenied            = errors.New("access denied")
	ErrInvalidTarget           = errors.New("not a directory")
	ErrWatchRegistrationFailed = errors.New("failed to add watch")
	ErrUnknownWatch            = errors.New("unknown watch")
	ErrWatchRemovalFailed      = errors.New("failed to remove watch")
	ErrNotifierUnavailable     = errors.New("notifier unavailable")

	errClosed       = errors.New("notifier closed")
	errNoEventTypes = errors.New("no event types given")
)

// A WatchError is returned by the public Notifier operations. It matches
// the sentinel in Err under errors.Is and also unwraps to the underlying
// cause, if any.
type WatchError struct {
	Op    string
	Path  string
	Err   error
	Cause error
}

func (e *WatchError) Error() string {
	msg := e.Op
	if e.Path != "" {
		msg += " " + e.Path
	}
	msg += ": " + e.Err.Error()
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *WatchError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

// classifyAddError maps a backend registration failure to one of the
// registration sentinels.
func classifyAddError(path string, err error) error {
	werr := &WatchError{Op: "add watch", Path: path, Cause: err}
	switch {
	case errors.Is(err, fs.ErrNotExist):
		werr.Err = ErrNoSuchDirectory
	case errors.Is(err, fs.ErrPermission):
		werr.Err = ErrAccessDenied
	case errors.Is(err, syscall.ENOTDIR):
		// Also returned when a parent component is a file, in which case
		// the path itself does not exist.
		if _, serr := os.Stat(path); serr != nil {
			werr.Err = ErrNoSuchDirectory
		} else {
			werr.Err = ErrInvalidTarget
		}
	case reachedMaxUserWatches(err):
		werr.Err = ErrWatchRegistrationFailed
		werr.Cause = fmt.Errorf("%w (the inotify limits are too low, increase fs.inotify.max_user_watches or fs.inotify.max_user_instances)", err)
	default:
		werr.Err = ErrWatchRegistrationFailed
	}
	return werr
}
