// Copyright (C) 2026 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package fswatcher

import (
	"sort"
	"time"

	"github.com/syncthing/dirnotify/lib/sync"
)

// A pendingMove is the first half of a move, waiting for the move-in
// carrying the same cookie. The path is resolved when the move-out is
// seen so that later watch changes cannot alter it.
type pendingMove struct {
	cookie uint32
	path   string
	at     time.Time
}

// moveTable pairs move-out and move-in records by cookie. Entries that
// stay unpaired for longer than timeout are handed back by expire.
type moveTable struct {
	timeout time.Duration
	now     func() time.Time
	mut     sync.Mutex
	pending map[uint32]pendingMove
}

func newMoveTable(timeout time.Duration, now func() time.Time) *moveTable {
	return &moveTable{
		timeout: timeout,
		now:     now,
		mut:     sync.NewMutex(),
		pending: make(map[uint32]pendingMove),
	}
}

// recordMoveOut stores the move-out for cookie. If an unpaired entry with
// the same cookie exists it is displaced and returned, since its partner
// can no longer arrive through this cookie.
func (m *moveTable) recordMoveOut(cookie uint32, path string) (pendingMove, bool) {
	m.mut.Lock()
	defer m.mut.Unlock()

	prev, displaced := m.pending[cookie]
	m.pending[cookie] = pendingMove{cookie: cookie, path: path, at: m.now()}
	if !displaced {
		metricPendingMoves.Inc()
	}
	return prev, displaced
}

// resolveMoveIn removes and returns the path recorded for cookie, if any.
func (m *moveTable) resolveMoveIn(cookie uint32) (string, bool) {
	m.mut.Lock()
	defer m.mut.Unlock()

	pm, ok := m.pending[cookie]
	if !ok {
		return "", false
	}
	delete(m.pending, cookie)
	metricPendingMoves.Dec()
	return pm.path, true
}

// expire removes and returns the entries older than the timeout, oldest
// first.
func (m *moveTable) expire() []pendingMove {
	m.mut.Lock()
	defer m.mut.Unlock()

	if len(m.pending) == 0 {
		return nil
	}
	now := m.now()
	var res []pendingMove
	for cookie, pm := range m.pending {
		if now.Sub(pm.at) > m.timeout {
			res = append(res, pm)
			delete(m.pending, cookie)
		}
	}
	metricPendingMoves.Sub(float64(len(res)))
	sort.Slice(res, func(a, b int) bool {
		if res[a].at.Equal(res[b].at) {
			return res[a].cookie < res[b].cookie
		}
		return res[a].at.Before(res[b].at)
	})
	return res
}

// drain removes and returns every entry, oldest first.
func (m *moveTable) drain() []pendingMove {
	m.mut.Lock()
	res := make([]pendingMove, 0, len(m.pending))
	for _, pm := range m.pending {
		res = append(res, pm)
	}
	m.pending = make(map[uint32]pendingMove)
	m.mut.Unlock()

	metricPendingMoves.Sub(float64(len(res)))
	sort.Slice(res, func(a, b int) bool { return res[a].at.Before(res[b].at) })
	return res
}

func (m *moveTable) len() int {
	m.mut.Lock()
	defer m.mut.Unlock()
	return len(m.pending)
}
