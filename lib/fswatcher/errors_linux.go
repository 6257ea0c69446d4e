// Copyright (C) 2016 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at http://mozilla.org/MPL/2.0/.

//go:build linux
// +build linux

package fswatcher

import (
	"errors"

	"golang.org/x/sys/unix"
)

// reachedMaxUserWatches returns true for the errors inotify gives when the
// per user watch or instance limit is exhausted.
func reachedMaxUserWatches(err error) bool {
	return errors.Is(err, unix.EMFILE) || errors.Is(err, unix.ENOSPC)
}
