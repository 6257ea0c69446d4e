// Copyright (C) 2026 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package fswatcher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dirnotify",
		Subsystem: "fswatcher",
		Name:      "records_total",
		Help:      "Total number of raw backend records received, per record kind",
	}, []string{"kind"})
	metricRecordsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dirnotify",
		Subsystem: "fswatcher",
		Name:      "records_dropped_total",
		Help:      "Total number of raw backend records that produced no event, per reason (unknown_watch/overflow)",
	}, []string{"reason"})

	metricEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dirnotify",
		Subsystem: "fswatcher",
		Name:      "events_total",
		Help:      "Total number of events dispatched, per event type",
	}, []string{"type"})
	metricDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dirnotify",
		Subsystem: "fswatcher",
		Name:      "deliveries_total",
		Help:      "Total number of handler invocations, per event type",
	}, []string{"type"})
	metricHandlerPanics = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dirnotify",
		Subsystem: "fswatcher",
		Name:      "handler_panics_total",
		Help:      "Total number of handler invocations that panicked, per event type",
	}, []string{"type"})

	metricWatches = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "dirnotify",
		Subsystem: "fswatcher",
		Name:      "watches",
		Help:      "Current number of watched directories",
	})
	metricPendingMoves = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "dirnotify",
		Subsystem: "fswatcher",
		Name:      "pending_moves",
		Help:      "Current number of move-outs waiting for their move-in",
	})
	metricExpiredMoves = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dirnotify",
		Subsystem: "fswatcher",
		Name:      "expired_moves_total",
		Help:      "Total number of move-outs delivered unpaired after the move timeout or a cookie reuse",
	})
)
