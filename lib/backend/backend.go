// Copyright (C) 2026 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package backend is the boundary to the operating system's directory
// notification primitive. A Backend accepts watch registrations with an
// interest mask and emits raw, unresolved records naming the watch they
// belong to.
package backend

import (
	"errors"
	"fmt"

	"github.com/syncthing/dirnotify/lib/events"
)

// A WatchID is the opaque identifier the primitive issues for a watch.
type WatchID int32

// Mask is an interest bitmask. The values are those of inotify(7) so that
// the inotify backend can pass them through unchanged.
type Mask uint32

const (
	MaskModify    Mask = 0x002
	MaskMovedFrom Mask = 0x040
	MaskMovedTo   Mask = 0x080
	MaskCreate    Mask = 0x100
	MaskDelete    Mask = 0x200

	MaskMove = MaskMovedFrom | MaskMovedTo
	MaskAll  = MaskModify | MaskMove | MaskCreate | MaskDelete
)

// MaskFor returns the interest mask needed to observe the event types in
// t. A rename needs both halves of the move.
func MaskFor(t events.EventType) Mask {
	var m Mask
	if t&events.Created != 0 {
		m |= MaskCreate
	}
	if t&events.Deleted != 0 {
		m |= MaskDelete
	}
	if t&events.Modified != 0 {
		m |= MaskModify
	}
	if t&events.MovedFrom != 0 {
		m |= MaskMovedFrom
	}
	if t&events.MovedTo != 0 {
		m |= MaskMovedTo
	}
	if t&events.Renamed != 0 {
		m |= MaskMove
	}
	return m
}

type RecordKind int

const (
	RecordCreate RecordKind = iota + 1
	RecordDelete
	RecordModify
	RecordMoveOut
	RecordMoveIn
	// RecordRename is emitted by primitives that pair moves themselves.
	// OldName and Name are both relative to Watch.
	RecordRename
	// RecordIgnored means the primitive dropped the watch, either on
	// request or because the directory went away.
	RecordIgnored
	// RecordOverflow means records were lost. Watch is meaningless.
	RecordOverflow
)

func (k RecordKind) String() string {
	switch k {
	case RecordCreate:
		return "create"
	case RecordDelete:
		return "delete"
	case RecordModify:
		return "modify"
	case RecordMoveOut:
		return "move-out"
	case RecordMoveIn:
		return "move-in"
	case RecordRename:
		return "rename"
	case RecordIgnored:
		return "ignored"
	case RecordOverflow:
		return "overflow"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// A Record is one raw notification as emitted by the primitive.
type Record struct {
	Kind    RecordKind
	Watch   WatchID
	Name    string
	OldName string
	// Cookie pairs the two halves of a move. Zero when the primitive
	// does not provide one.
	Cookie uint32
	IsDir  bool
}

func (r Record) String() string {
	if r.Kind == RecordRename {
		return fmt.Sprintf("%v wd=%d %q -> %q", r.Kind, r.Watch, r.OldName, r.Name)
	}
	return fmt.Sprintf("%v wd=%d %q cookie=%d", r.Kind, r.Watch, r.Name, r.Cookie)
}

var (
	ErrClosed      = errors.New("backend closed")
	ErrUnsupported = errors.New("not supported on this platform")
)

// A Backend is owned by a single writer; AddWatch and RemoveWatch are not
// required to be safe for concurrent use. Records and Errors are closed
// once the backend has shut down.
type Backend interface {
	// AddWatch starts watching the directory at path. Errors wrap the
	// underlying errno so that errors.Is works with fs.ErrNotExist,
	// fs.ErrPermission and friends.
	AddWatch(path string, mask Mask) (WatchID, error)
	RemoveWatch(id WatchID) error
	Records() <-chan Record
	Errors() <-chan error
	// Cookies reports whether move records carry pairing cookies.
	Cookies() bool
	Close() error
}

// Factory creates a Backend.
type Factory func() (Backend, error)

// Type names a backend implementation.
type Type string

const (
	TypeInotify  Type = "inotify"
	TypeFsnotify Type = "fsnotify"
)

// New returns a new backend of the given type. The empty type selects the
// platform default, inotify where available and fsnotify elsewhere.
func New(t Type) (Backend, error) {
	factory, err := FactoryFor(t)
	if err != nil {
		return nil, err
	}
	return factory()
}

func FactoryFor(t Type) (Factory, error) {
	switch t {
	case "":
		return defaultFactory, nil
	case TypeInotify:
		return NewInotify, nil
	case TypeFsnotify:
		return NewFsnotify, nil
	default:
		return nil, fmt.Errorf("unknown backend type %q", t)
	}
}

// recordBuffer is the depth of the record channel between the reading
// goroutine and the consumer. The actual number is magic.
const recordBuffer = 500
