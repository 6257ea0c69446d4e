// Copyright (C) 2026 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package fswatcher implements the watch engine: it registers directories
// with a notification backend, translates the backend's raw records into
// path resolved events, pairs the two halves of moves into renames and
// fans the events out to subscribers.
package fswatcher

import (
	"context"
	"fmt"
	"strings"
	stdsync "sync"
	"sync/atomic"
	"time"

	"github.com/syncthing/dirnotify/lib/backend"
	"github.com/syncthing/dirnotify/lib/events"
	"github.com/syncthing/dirnotify/lib/sync"
)

// Policy selects how the two halves of a move are reported.
type Policy int

const (
	// Correlated pairs a move-out and move-in sharing a cookie into a
	// single Renamed event. An unpaired move-out is reported as MovedFrom
	// once the move timeout passes and an unpaired move-in as MovedTo.
	Correlated Policy = iota
	// Independent reports every move-out as MovedFrom and every move-in as
	// MovedTo, as they arrive.
	Independent
)

func (p Policy) String() string {
	switch p {
	case Correlated:
		return "correlated"
	case Independent:
		return "independent"
	default:
		return fmt.Sprintf("unknown(%d)", int(p))
	}
}

func (p Policy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Policy) UnmarshalText(bs []byte) error {
	parsed, err := ParsePolicy(string(bs))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(s) {
	case "correlated", "":
		return Correlated, nil
	case "independent":
		return Independent, nil
	default:
		return 0, fmt.Errorf("unknown correlation policy %q", s)
	}
}

const (
	DefaultMoveTimeout   = 500 * time.Millisecond
	DefaultSweepInterval = 250 * time.Millisecond
)

type Options struct {
	Correlation Policy
	// AbsolutePaths is the initial path mode, see SetAbsolutePaths.
	AbsolutePaths bool
	// MoveTimeout is how long a move-out waits for its move-in before it
	// is reported on its own.
	MoveTimeout   time.Duration
	SweepInterval time.Duration
	// NewBackend creates the notification backend. The platform default
	// is used when nil.
	NewBackend backend.Factory

	clock func() time.Time
}

func DefaultOptions() Options {
	return Options{
		Correlation:   Correlated,
		AbsolutePaths: true,
		MoveTimeout:   DefaultMoveTimeout,
		SweepInterval: DefaultSweepInterval,
	}
}

// A Notifier owns one backend and the tables built on top of it. It is
// initialised lazily by the first call that needs the backend, or
// explicitly by Init. If initialisation fails every later call fails with
// ErrNotifierUnavailable; there is no retry.
type Notifier struct {
	opts     Options
	absolute atomic.Bool
	subs     *events.Registry

	initOnce  stdsync.Once
	initErr   error
	initCause error
	closed    atomic.Bool

	backend  backend.Backend
	registry *watchRegistry
	trans    *translator
	cancel   context.CancelFunc
	serving  sync.WaitGroup
}

func New(opts Options) *Notifier {
	if opts.MoveTimeout <= 0 {
		opts.MoveTimeout = DefaultMoveTimeout
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.NewBackend == nil {
		opts.NewBackend = func() (backend.Backend, error) { return backend.New("") }
	}
	if opts.clock == nil {
		opts.clock = time.Now
	}
	n := &Notifier{
		opts: opts,
		subs: events.NewRegistry(),
	}
	n.absolute.Store(opts.AbsolutePaths)
	return n
}

// Init opens the backend and starts the delivery goroutine. Calling it
// more than once returns the result of the first call.
func (n *Notifier) Init() error {
	n.initOnce.Do(func() {
		b, err := n.opts.NewBackend()
		if err != nil {
			l.Warnln("Filesystem notifications unavailable:", err)
			n.initCause = err
			n.initErr = &WatchError{Op: "init", Err: ErrNotifierUnavailable, Cause: err}
			return
		}
		n.backend = b
		n.registry = newWatchRegistry(b)
		moves := newMoveTable(n.opts.MoveTimeout, n.opts.clock)
		n.trans = newTranslator(n.registry, moves, n.opts.Correlation, b.Cookies(), &n.absolute, n.opts.clock)
		if n.opts.Correlation == Correlated && !b.Cookies() {
			l.Infoln("Notification backend does not pair moves; moves are reported as separate moveFrom and moveTo events")
		}

		ctx, cancel := context.WithCancel(context.Background())
		n.cancel = cancel
		n.serving = sync.NewWaitGroup()
		n.serving.Add(1)
		go n.serve(ctx)
		l.Debugf("notifier started, correlation %v", n.opts.Correlation)
	})
	return n.initErr
}

// ready initialises the notifier if necessary and returns the error a
// public operation should fail with, if any.
func (n *Notifier) ready(op, path string) error {
	if n.Init() != nil {
		return &WatchError{Op: op, Path: path, Err: ErrNotifierUnavailable, Cause: n.initCause}
	}
	if n.closed.Load() {
		return &WatchError{Op: op, Path: path, Err: ErrNotifierUnavailable, Cause: errClosed}
	}
	return nil
}

// AddWatch starts watching the directory at path for the given event
// types. The directory itself is watched, not its subdirectories.
// Watching an already watched directory replaces its event types.
//
// If the path turns out not to be a directory after the watch was
// created, AddWatch returns ErrInvalidTarget and the watch stays
// registered; the caller should remove it.
func (n *Notifier) AddWatch(path string, types events.EventType) error {
	if err := n.ready("add watch", path); err != nil {
		return err
	}
	if types&events.AllEvents == 0 {
		return &WatchError{Op: "add watch", Path: path, Err: ErrWatchRegistrationFailed, Cause: errNoEventTypes}
	}
	canon, err := canonicalPath(path)
	if err != nil {
		return &WatchError{Op: "add watch", Path: path, Err: ErrWatchRegistrationFailed, Cause: err}
	}
	if _, err := n.registry.add(canon, backend.MaskFor(types)); err != nil {
		return err
	}
	if !isDir(canon) {
		return &WatchError{Op: "add watch", Path: canon, Err: ErrInvalidTarget}
	}
	l.Verbosef("Watching %s for %v", canon, types.Types())
	return nil
}

// RemoveWatch stops watching the directory at path, which may be given in
// any of the spellings accepted by AddWatch. On failure the watch is left
// as it was.
func (n *Notifier) RemoveWatch(path string) error {
	if err := n.ready("remove watch", path); err != nil {
		return err
	}
	canon, err := canonicalPath(path)
	if err != nil {
		return &WatchError{Op: "remove watch", Path: path, Err: ErrUnknownWatch, Cause: err}
	}
	if err := n.registry.remove(canon); err != nil {
		return err
	}
	l.Verboseln("Stopped watching", canon)
	return nil
}

// Watches returns the watched directories in sorted order.
func (n *Notifier) Watches() []string {
	if n.ready("list watches", "") != nil {
		return nil
	}
	return n.registry.paths()
}

// Subscribe registers fn for every event type in types. Handlers run on
// the delivery goroutine, one event at a time, and only see events
// delivered after Subscribe returns.
func (n *Notifier) Subscribe(types events.EventType, fn events.Handler) (events.ID, error) {
	if err := n.ready("subscribe", ""); err != nil {
		return events.ID{}, err
	}
	if types&events.AllEvents == 0 {
		return events.ID{}, fmt.Errorf("subscribe: %w", errNoEventTypes)
	}
	return n.subs.Subscribe(types, fn), nil
}

// Extend adds handlers for more event types to an existing subscription,
// so that a later UnsubscribeAll removes them together.
func (n *Notifier) Extend(id events.ID, types events.EventType, fn events.Handler) error {
	if err := n.ready("subscribe", ""); err != nil {
		return err
	}
	if types&events.AllEvents == 0 {
		return fmt.Errorf("subscribe: %w", errNoEventTypes)
	}
	n.subs.Extend(id, types, fn)
	return nil
}

// UnsubscribeAll removes every handler registered under id. Unknown IDs
// are not an error.
func (n *Notifier) UnsubscribeAll(id events.ID) error {
	if err := n.ready("unsubscribe", ""); err != nil {
		return err
	}
	n.subs.UnsubscribeAll(id)
	return nil
}

// SetAbsolutePaths selects whether event paths are the watched directory
// joined with the file name (true) or the file name alone (false). The
// change applies to records translated after the call.
func (n *Notifier) SetAbsolutePaths(abs bool) {
	n.absolute.Store(abs)
}

func (n *Notifier) AbsolutePaths() bool {
	return n.absolute.Load()
}

// Close stops delivery and closes the backend. Pending move-outs are
// discarded. Any later call fails with ErrNotifierUnavailable. A Notifier
// that was never initialised is marked closed without opening a backend.
//
// Close waits for the delivery goroutine and so must not be called from a
// Handler.
func (n *Notifier) Close() error {
	if n.closed.Swap(true) {
		return nil
	}
	n.initOnce.Do(func() {
		n.initCause = errClosed
		n.initErr = &WatchError{Op: "init", Err: ErrNotifierUnavailable, Cause: errClosed}
	})
	if n.initErr != nil {
		return nil
	}
	n.cancel()
	n.serving.Wait()
	return n.backend.Close()
}

func (n *Notifier) serve(ctx context.Context) {
	defer n.serving.Done()

	var sweep <-chan time.Time
	if n.opts.Correlation == Correlated && n.backend.Cookies() {
		t := time.NewTicker(n.opts.SweepInterval)
		defer t.Stop()
		sweep = t.C
	}

	records := n.backend.Records()
	errs := n.backend.Errors()
	for {
		select {
		case rec, ok := <-records:
			if !ok {
				l.Infoln("Notification backend stopped; no further events will be delivered")
				n.deliver(n.trans.flush())
				return
			}
			n.deliver(n.trans.translate(rec))

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			l.Warnln("Filesystem notification error:", err)

		case <-sweep:
			n.deliver(n.trans.expire())

		case <-ctx.Done():
			return
		}
	}
}

func (n *Notifier) deliver(evs []events.Event) {
	for _, ev := range evs {
		res := n.subs.Dispatch(ev)
		label := ev.Type.String()
		metricEvents.WithLabelValues(label).Inc()
		metricDeliveries.WithLabelValues(label).Add(float64(res.Delivered))
		if res.Panicked > 0 {
			metricHandlerPanics.WithLabelValues(label).Add(float64(res.Panicked))
		}
		l.Debugf("event: %v (%d handlers)", ev, res.Delivered)
	}
}
