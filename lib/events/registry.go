// Copyright (C) 2014 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at http://mozilla.org/MPL/2.0/.

package events

import (
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
)

// An ID identifies the subscriptions of one caller. A single ID may hold a
// handler for any number of event types and UnsubscribeAll removes all of
// them at once.
type ID = uuid.UUID

// A Handler is invoked synchronously on the delivery goroutine. A slow
// handler delays delivery of every later event.
type Handler func(Event)

// owner is shared by all subscriptions of one ID. Clearing active
// withdraws the ID from every event type in a single step.
type owner struct {
	active atomic.Bool
}

type subscription struct {
	owner *owner
	fn    Handler
}

// Registry maps event types to handlers. All methods are safe for
// concurrent use, including from inside a handler.
type Registry struct {
	owners *xsync.MapOf[ID, *owner]
	subs   [numTypes]*xsync.MapOf[ID, *subscription]
}

func NewRegistry() *Registry {
	r := &Registry{
		owners: xsync.NewMapOf[ID, *owner](),
	}
	for i := range r.subs {
		r.subs[i] = xsync.NewMapOf[ID, *subscription]()
	}
	return r
}

// Subscribe registers fn for every event type in mask and returns a new
// ID for it.
func (r *Registry) Subscribe(mask EventType, fn Handler) ID {
	id := uuid.New()
	r.Extend(id, mask, fn)
	return id
}

// Extend registers fn under an existing (or caller chosen) ID for every
// event type in mask, replacing any handler the ID had for those types.
func (r *Registry) Extend(id ID, mask EventType, fn Handler) {
	o, _ := r.owners.LoadOrCompute(id, func() *owner {
		o := new(owner)
		o.active.Store(true)
		return o
	})
	for _, t := range mask.Types() {
		r.subs[t.index()].Store(id, &subscription{owner: o, fn: fn})
	}
	if !o.active.Load() {
		// UnsubscribeAll ran between the owner lookup and the stores and
		// may have missed some of them.
		r.removeOwned(id, o)
		return
	}
	dl.Debugln("subscribe", id, mask.Types())
}

// UnsubscribeAll removes every handler registered under id. Unknown IDs
// are ignored. Once UnsubscribeAll returns no handler of id is invoked
// again, except one that was already running.
func (r *Registry) UnsubscribeAll(id ID) {
	o, ok := r.owners.LoadAndDelete(id)
	if !ok {
		return
	}
	o.active.Store(false)
	r.removeOwned(id, o)
	dl.Debugln("unsubscribe", id)
}

// removeOwned deletes the subscriptions of id that belong to o. A
// concurrent Extend may have installed a subscription for a fresh owner
// under the same ID; that one is kept.
func (r *Registry) removeOwned(id ID, o *owner) {
	for _, m := range r.subs {
		m.Compute(id, func(cur *subscription, loaded bool) (*subscription, bool) {
			return cur, !loaded || cur.owner == o
		})
	}
}

// Len returns the number of handlers registered for the single event
// type t.
func (r *Registry) Len(t EventType) int {
	idx := t.index()
	if idx < 0 {
		return 0
	}
	return r.subs[idx].Size()
}

// DispatchResult counts the handler invocations of one Dispatch call.
type DispatchResult struct {
	Delivered int
	Panicked  int
}

// Dispatch invokes every handler currently registered for the event's
// type, in unspecified order. A panicking handler is logged and does not
// prevent delivery to the others.
func (r *Registry) Dispatch(ev Event) DispatchResult {
	var res DispatchResult
	idx := ev.Type.index()
	if idx < 0 {
		dl.Debugln("dispatch of invalid event type", int(ev.Type))
		return res
	}
	r.subs[idx].Range(func(id ID, sub *subscription) bool {
		if !sub.owner.active.Load() {
			return true
		}
		if invoke(id, sub.fn, ev) {
			res.Delivered++
		} else {
			res.Panicked++
		}
		return true
	})
	return res
}

func invoke(id ID, fn Handler, ev Event) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			dl.Warnf("Event handler %v panicked on %v: %v", id, ev, r)
			ok = false
		}
	}()
	fn(ev)
	return true
}
