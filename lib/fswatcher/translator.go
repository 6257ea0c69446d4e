// Copyright (C) 2026 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package fswatcher

import (
	"path/filepath"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/syncthing/dirnotify/lib/backend"
	"github.com/syncthing/dirnotify/lib/events"
)

// Anomalies on the delivery goroutine are logged at most this often, with
// a small burst, so that a storm of bad records can't flood the log.
const (
	warnInterval = 10 * time.Second
	warnBurst    = 3
)

// translator turns raw backend records into resolved events. It is only
// used from the delivery goroutine, but the tables it consults are shared
// with callers of the Notifier.
type translator struct {
	reg      *watchRegistry
	moves    *moveTable
	policy   Policy
	cookies  bool
	absolute *atomic.Bool
	now      func() time.Time
	warn     *rate.Limiter
}

func newTranslator(reg *watchRegistry, moves *moveTable, policy Policy, cookies bool, absolute *atomic.Bool, now func() time.Time) *translator {
	return &translator{
		reg:      reg,
		moves:    moves,
		policy:   policy,
		cookies:  cookies,
		absolute: absolute,
		now:      now,
		warn:     rate.NewLimiter(rate.Every(warnInterval), warnBurst),
	}
}

// correlate reports whether the move records of rec should be paired
// through the move table.
func (t *translator) correlate(rec backend.Record) bool {
	return t.policy == Correlated && t.cookies && rec.Cookie != 0
}

func (t *translator) resolvePath(dir, name string) string {
	if t.absolute.Load() {
		return filepath.Join(dir, name)
	}
	return name
}

// translate returns the events produced by rec, in delivery order. Most
// records produce exactly one event; a correlated move-out produces none
// until its move-in arrives or it expires.
func (t *translator) translate(rec backend.Record) []events.Event {
	metricRecords.WithLabelValues(rec.Kind.String()).Inc()
	l.Debugln("record:", rec)

	switch rec.Kind {
	case backend.RecordOverflow:
		metricRecordsDropped.WithLabelValues("overflow").Inc()
		t.warnf("Backend event queue overflowed; some filesystem events were lost")
		return nil

	case backend.RecordIgnored:
		if path, ok := t.reg.forget(rec.Watch); ok {
			l.Infof("Watch on %s was removed by the system (directory deleted or unmounted)", path)
		}
		return nil
	}

	dir, ok := t.reg.resolve(rec.Watch)
	if !ok {
		// Removal raced with records already queued for the watch.
		metricRecordsDropped.WithLabelValues("unknown_watch").Inc()
		t.warnf("Dropping %v for unknown watch %d", rec.Kind, rec.Watch)
		return nil
	}
	now := t.now()

	switch rec.Kind {
	case backend.RecordCreate:
		return []events.Event{t.event(events.Created, dir, rec.Name, now)}

	case backend.RecordDelete:
		return []events.Event{t.event(events.Deleted, dir, rec.Name, now)}

	case backend.RecordModify:
		return []events.Event{t.event(events.Modified, dir, rec.Name, now)}

	case backend.RecordMoveOut:
		if !t.correlate(rec) {
			return []events.Event{t.event(events.MovedFrom, dir, rec.Name, now)}
		}
		prev, displaced := t.moves.recordMoveOut(rec.Cookie, t.resolvePath(dir, rec.Name))
		if displaced {
			metricExpiredMoves.Inc()
			l.Debugf("cookie %d reused, %s will not be paired", rec.Cookie, prev.path)
			return []events.Event{{Type: events.MovedFrom, Path: prev.path, Time: prev.at}}
		}
		return nil

	case backend.RecordMoveIn:
		path := t.resolvePath(dir, rec.Name)
		if t.correlate(rec) {
			if old, ok := t.moves.resolveMoveIn(rec.Cookie); ok {
				return []events.Event{{Type: events.Renamed, Path: path, OldPath: old, Time: now}}
			}
		}
		return []events.Event{{Type: events.MovedTo, Path: path, Time: now}}

	case backend.RecordRename:
		oldPath := t.resolvePath(dir, rec.OldName)
		newPath := t.resolvePath(dir, rec.Name)
		if t.policy == Independent {
			return []events.Event{
				{Type: events.MovedFrom, Path: oldPath, Time: now},
				{Type: events.MovedTo, Path: newPath, Time: now},
			}
		}
		return []events.Event{{Type: events.Renamed, Path: newPath, OldPath: oldPath, Time: now}}

	default:
		l.Debugln("ignoring record of unhandled kind", rec.Kind)
		return nil
	}
}

// expire returns a MovedFrom for every move-out that has waited longer
// than the move timeout, oldest first.
func (t *translator) expire() []events.Event {
	expired := t.moves.expire()
	if len(expired) == 0 {
		return nil
	}
	evs := make([]events.Event, len(expired))
	for i, pm := range expired {
		l.Debugf("move-out of %s (cookie %d) expired unpaired", pm.path, pm.cookie)
		evs[i] = events.Event{Type: events.MovedFrom, Path: pm.path, Time: pm.at}
	}
	metricExpiredMoves.Add(float64(len(expired)))
	return evs
}

// flush returns a MovedFrom for every pending move-out, regardless of age.
func (t *translator) flush() []events.Event {
	var evs []events.Event
	for _, pm := range t.moves.drain() {
		evs = append(evs, events.Event{Type: events.MovedFrom, Path: pm.path, Time: pm.at})
	}
	return evs
}

func (t *translator) event(typ events.EventType, dir, name string, now time.Time) events.Event {
	return events.Event{Type: typ, Path: t.resolvePath(dir, name), Time: now}
}

func (t *translator) warnf(format string, args ...interface{}) {
	if t.warn.Allow() {
		l.Warnf(format, args...)
		return
	}
	l.Debugf(format, args...)
}
