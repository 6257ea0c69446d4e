// Copyright (C) 2014 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at http://mozilla.org/MPL/2.0/.

package events_test

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/syncthing/dirnotify/lib/events"
)

func TestNewRegistry(t *testing.T) {
	r := events.NewRegistry()
	if r == nil {
		t.Fatal("Unexpected nil Registry")
	}
	if res := r.Dispatch(events.Event{Type: events.Created, Path: "foo"}); res.Delivered != 0 {
		t.Error("Unexpected delivery without subscribers")
	}
}

func TestDispatchOnlyMatchingType(t *testing.T) {
	r := events.NewRegistry()

	var created, deleted []events.Event
	r.Subscribe(events.Created, func(ev events.Event) { created = append(created, ev) })
	r.Subscribe(events.Deleted, func(ev events.Event) { deleted = append(deleted, ev) })

	r.Dispatch(events.Event{Type: events.Created, Path: "a"})
	r.Dispatch(events.Event{Type: events.Created, Path: "b"})
	r.Dispatch(events.Event{Type: events.Modified, Path: "c"})

	if len(created) != 2 || created[0].Path != "a" || created[1].Path != "b" {
		t.Errorf("Unexpected created events %v", created)
	}
	if len(deleted) != 0 {
		t.Errorf("Unexpected deleted events %v", deleted)
	}
}

func TestDispatchAllSubscribers(t *testing.T) {
	r := events.NewRegistry()

	var n atomic.Int32
	for i := 0; i < 5; i++ {
		r.Subscribe(events.Modified, func(events.Event) { n.Add(1) })
	}

	res := r.Dispatch(events.Event{Type: events.Modified, Path: "x"})
	if res.Delivered != 5 || n.Load() != 5 {
		t.Errorf("Expected 5 deliveries, got %d (%d)", res.Delivered, n.Load())
	}
}

func TestUnsubscribeAllTypes(t *testing.T) {
	r := events.NewRegistry()

	var got []events.EventType
	id := r.Subscribe(events.Created|events.Deleted, func(ev events.Event) { got = append(got, ev.Type) })
	r.Extend(id, events.Renamed, func(ev events.Event) { got = append(got, ev.Type) })

	other := 0
	r.Subscribe(events.Created, func(events.Event) { other++ })

	r.Dispatch(events.Event{Type: events.Created})
	r.Dispatch(events.Event{Type: events.Renamed})
	if len(got) != 2 {
		t.Fatalf("Expected two deliveries before unsubscribe, got %v", got)
	}

	r.UnsubscribeAll(id)
	r.Dispatch(events.Event{Type: events.Created})
	r.Dispatch(events.Event{Type: events.Deleted})
	r.Dispatch(events.Event{Type: events.Renamed})

	if len(got) != 2 {
		t.Errorf("Handler called after unsubscribe: %v", got)
	}
	if other != 2 {
		t.Errorf("Other subscriber should be unaffected, got %d calls", other)
	}
	for _, ty := range []events.EventType{events.Created, events.Deleted, events.Renamed} {
		want := 0
		if ty == events.Created {
			want = 1
		}
		if n := r.Len(ty); n != want {
			t.Errorf("Len(%v) = %d, want %d", ty, n, want)
		}
	}

	// Unknown and repeated IDs are tolerated
	r.UnsubscribeAll(id)
	r.UnsubscribeAll(events.ID{})
}

func TestUnsubscribeFromHandler(t *testing.T) {
	r := events.NewRegistry()

	calls := 0
	var id events.ID
	id = r.Subscribe(events.Deleted, func(events.Event) {
		calls++
		r.UnsubscribeAll(id)
	})

	r.Dispatch(events.Event{Type: events.Deleted})
	r.Dispatch(events.Event{Type: events.Deleted})
	if calls != 1 {
		t.Errorf("Expected exactly one call, got %d", calls)
	}
}

func TestUnsubscribeDuringDispatchSkips(t *testing.T) {
	r := events.NewRegistry()

	// Whichever handler runs first removes the other one; exactly one
	// of them may run.
	var a, b events.ID
	calls := 0
	a = r.Subscribe(events.Created, func(events.Event) {
		calls++
		r.UnsubscribeAll(b)
	})
	b = r.Subscribe(events.Created, func(events.Event) {
		calls++
		r.UnsubscribeAll(a)
	})

	r.Dispatch(events.Event{Type: events.Created})
	if calls != 1 {
		t.Errorf("Expected one call, got %d", calls)
	}
}

func TestPanicIsolation(t *testing.T) {
	r := events.NewRegistry()

	r.Subscribe(events.Created, func(events.Event) { panic("handler failure") })
	ok := 0
	r.Subscribe(events.Created, func(events.Event) { ok++ })
	r.Subscribe(events.Created, func(events.Event) { ok++ })

	res := r.Dispatch(events.Event{Type: events.Created, Path: "p"})
	if ok != 2 {
		t.Errorf("Expected both healthy handlers to run, got %d", ok)
	}
	if res.Delivered != 2 || res.Panicked != 1 {
		t.Errorf("Unexpected result %+v", res)
	}
}

func TestConcurrentSubscribe(t *testing.T) {
	r := events.NewRegistry()

	var wg sync.WaitGroup
	ids := make(chan events.ID, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids <- r.Subscribe(events.MovedTo, func(events.Event) {})
		}()
	}
	wg.Wait()
	close(ids)

	if n := r.Len(events.MovedTo); n != 100 {
		t.Fatalf("Expected 100 subscriptions, got %d", n)
	}

	for id := range ids {
		wg.Add(1)
		go func(id events.ID) {
			defer wg.Done()
			r.UnsubscribeAll(id)
		}(id)
	}
	wg.Wait()
	if n := r.Len(events.MovedTo); n != 0 {
		t.Errorf("Expected no subscriptions, got %d", n)
	}
}

func TestParseEventType(t *testing.T) {
	cases := []struct {
		in  string
		out events.EventType
		ok  bool
	}{
		{"create", events.Created, true},
		{"Delete", events.Deleted, true},
		{"modify", events.Modified, true},
		{"moveFrom", events.MovedFrom, true},
		{"moveto", events.MovedTo, true},
		{"rename", events.Renamed, true},
		{"chmod", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		out, err := events.ParseEventType(tc.in)
		if tc.ok != (err == nil) {
			t.Errorf("%q: unexpected error state %v", tc.in, err)
		}
		if out != tc.out {
			t.Errorf("%q: got %v, want %v", tc.in, out, tc.out)
		}
	}
}

func TestTypes(t *testing.T) {
	got := (events.Created | events.Renamed).Types()
	if len(got) != 2 || got[0] != events.Created || got[1] != events.Renamed {
		t.Errorf("Unexpected types %v", got)
	}
	if n := len(events.EventType(events.AllEvents).Types()); n != 6 {
		t.Errorf("AllEvents should contain six types, got %d", n)
	}
}

func TestEventJSON(t *testing.T) {
	bs, err := json.Marshal(events.Event{Type: events.Renamed, OldPath: "a", Path: "b"})
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(bs, &m); err != nil {
		t.Fatal(err)
	}
	if m["type"] != "rename" || m["oldPath"] != "a" || m["path"] != "b" {
		t.Errorf("Unexpected JSON %s", bs)
	}

	bs, _ = json.Marshal(events.Event{Type: events.Created, Path: "b"})
	m = nil
	if err := json.Unmarshal(bs, &m); err != nil {
		t.Fatal(err)
	}
	if _, ok := m["oldPath"]; ok {
		t.Errorf("oldPath should be omitted, got %s", bs)
	}
}

func TestExtendRacingUnsubscribe(t *testing.T) {
	// Whichever call wins, no subscription may be left counted but
	// unreachable.
	for i := 0; i < 200; i++ {
		r := events.NewRegistry()
		fn := func(events.Event) {}
		id := r.Subscribe(events.Created, fn)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.Extend(id, events.Deleted|events.Modified, fn)
		}()
		go func() {
			defer wg.Done()
			r.UnsubscribeAll(id)
		}()
		wg.Wait()

		for _, typ := range []events.EventType{events.Created, events.Deleted, events.Modified} {
			res := r.Dispatch(events.Event{Type: typ, Path: "x"})
			if n := r.Len(typ); n != res.Delivered {
				t.Fatalf("Round %d, %v: %d registered but %d delivered", i, typ, n, res.Delivered)
			}
		}
	}
}
