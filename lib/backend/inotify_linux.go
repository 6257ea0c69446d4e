// Copyright (C) 2026 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

//go:build linux
// +build linux

package backend

import (
	"errors"
	"os"
	"strings"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

var defaultFactory Factory = NewInotify

// readBufferSize holds a decent number of maximum size records.
const readBufferSize = 64 * (unix.SizeofInotifyEvent + unix.NAME_MAX + 1)

type inotifyBackend struct {
	fd      int
	file    *os.File
	records chan Record
	errors  chan error
	done    chan struct{}
	closed  sync.Once
}

// NewInotify opens an inotify instance and starts reading from it.
func NewInotify() (Backend, error) {
	fd, err := unix.InotifyInit1(unix.IN_CLOEXEC | unix.IN_NONBLOCK)
	if err != nil {
		return nil, os.NewSyscallError("inotify_init1", err)
	}

	b := &inotifyBackend{
		fd: fd,
		// A non blocking descriptor is registered with the runtime
		// poller, which lets Close interrupt a pending Read.
		file:    os.NewFile(uintptr(fd), "inotify"),
		records: make(chan Record, recordBuffer),
		errors:  make(chan error, 1),
		done:    make(chan struct{}),
	}
	go b.readLoop()
	l.Debugln("inotify: opened descriptor", fd)
	return b, nil
}

func (b *inotifyBackend) AddWatch(path string, mask Mask) (WatchID, error) {
	if b.isClosed() {
		return -1, ErrClosed
	}
	wd, err := unix.InotifyAddWatch(b.fd, path, uint32(mask))
	if err != nil {
		return -1, &os.PathError{Op: "inotify_add_watch", Path: path, Err: err}
	}
	l.Debugf("inotify: watching %s as %d (mask %#x)", path, wd, uint32(mask))
	return WatchID(wd), nil
}

func (b *inotifyBackend) RemoveWatch(id WatchID) error {
	if b.isClosed() {
		return ErrClosed
	}
	if _, err := unix.InotifyRmWatch(b.fd, uint32(id)); err != nil {
		return os.NewSyscallError("inotify_rm_watch", err)
	}
	l.Debugln("inotify: removed watch", id)
	return nil
}

func (b *inotifyBackend) Records() <-chan Record {
	return b.records
}

func (b *inotifyBackend) Errors() <-chan error {
	return b.errors
}

func (*inotifyBackend) Cookies() bool {
	return true
}

func (b *inotifyBackend) Close() error {
	var err error
	b.closed.Do(func() {
		close(b.done)
		err = b.file.Close()
	})
	return err
}

func (b *inotifyBackend) isClosed() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

func (b *inotifyBackend) readLoop() {
	defer close(b.records)
	defer close(b.errors)

	buf := make([]byte, readBufferSize)
	for {
		n, err := b.file.Read(buf)
		if err != nil {
			if errors.Is(err, os.ErrClosed) || b.isClosed() {
				return
			}
			b.sendError(err)
			return
		}
		if n < unix.SizeofInotifyEvent {
			// A zero read means the descriptor is gone.
			if n == 0 {
				return
			}
			b.sendError(errors.New("inotify: short read"))
			continue
		}
		for _, rec := range parseRecords(buf[:n]) {
			select {
			case b.records <- rec:
			case <-b.done:
				return
			}
		}
	}
}

func (b *inotifyBackend) sendError(err error) {
	select {
	case b.errors <- err:
	case <-b.done:
	}
}

// parseRecords decodes the packed inotify_event structures in buf.
// Events without a kind we care about are skipped.
func parseRecords(buf []byte) []Record {
	var res []Record
	for offset := 0; offset+unix.SizeofInotifyEvent <= len(buf); {
		raw := (*unix.InotifyEvent)(unsafe.Pointer(&buf[offset]))
		nameStart := offset + unix.SizeofInotifyEvent
		nameEnd := nameStart + int(raw.Len)
		if nameEnd > len(buf) {
			break
		}
		name := strings.TrimRight(string(buf[nameStart:nameEnd]), "\x00")
		offset = nameEnd

		if rec, ok := toRecord(raw.Mask, raw.Wd, raw.Cookie, name); ok {
			res = append(res, rec)
		}
	}
	return res
}

func toRecord(mask uint32, wd int32, cookie uint32, name string) (Record, bool) {
	rec := Record{
		Watch:  WatchID(wd),
		Name:   name,
		Cookie: cookie,
		IsDir:  mask&unix.IN_ISDIR != 0,
	}
	switch {
	case mask&unix.IN_Q_OVERFLOW != 0:
		rec.Kind = RecordOverflow
	case mask&unix.IN_IGNORED != 0:
		rec.Kind = RecordIgnored
	case mask&unix.IN_CREATE != 0:
		rec.Kind = RecordCreate
	case mask&unix.IN_DELETE != 0:
		rec.Kind = RecordDelete
	case mask&unix.IN_MODIFY != 0:
		rec.Kind = RecordModify
	case mask&unix.IN_MOVED_FROM != 0:
		rec.Kind = RecordMoveOut
	case mask&unix.IN_MOVED_TO != 0:
		rec.Kind = RecordMoveIn
	default:
		// IN_DELETE_SELF, IN_MOVE_SELF and IN_UNMOUNT are followed by
		// IN_IGNORED when the watch goes away, which is what we act on.
		return Record{}, false
	}
	return rec, true
}
