// Copyright (C) 2014 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at http://mozilla.org/MPL/2.0/.

// Package events provides the filesystem event types and subscription
// fan-out functionality.
package events

import (
	"fmt"
	"math/bits"
	"strings"
	"time"
)

type EventType int

const (
	Created EventType = 1 << iota
	Deleted
	Modified
	MovedFrom
	MovedTo
	Renamed

	AllEvents = (1 << iota) - 1
)

const numTypes = 6

func (t EventType) String() string {
	switch t {
	case Created:
		return "create"
	case Deleted:
		return "delete"
	case Modified:
		return "modify"
	case MovedFrom:
		return "moveFrom"
	case MovedTo:
		return "moveTo"
	case Renamed:
		return "rename"
	default:
		return "unknown"
	}
}

func (t EventType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *EventType) UnmarshalText(bs []byte) error {
	parsed, err := ParseEventType(string(bs))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseEventType parses the name of a single event type, as returned by
// String. The match is case insensitive.
func ParseEventType(s string) (EventType, error) {
	for t := Created; t <= Renamed; t <<= 1 {
		if strings.EqualFold(s, t.String()) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown event type %q", s)
}

// Types returns the single event types contained in the mask, in
// ascending order.
func (t EventType) Types() []EventType {
	var res []EventType
	for ty := Created; ty <= Renamed; ty <<= 1 {
		if t&ty != 0 {
			res = append(res, ty)
		}
	}
	return res
}

// index returns the slot of a single event type, or -1 for masks and
// unknown values.
func (t EventType) index() int {
	if t <= 0 || t&AllEvents != t || bits.OnesCount(uint(t)) != 1 {
		return -1
	}
	return bits.TrailingZeros(uint(t))
}

// An Event is a resolved filesystem notification. Events are immutable
// after construction and may be shared freely between handlers.
type Event struct {
	Type EventType `json:"type"`
	// Path is the affected path. For Renamed it is the new path.
	Path string `json:"path"`
	// OldPath is only set for Renamed.
	OldPath string    `json:"oldPath,omitempty"`
	Time    time.Time `json:"time"`
}

func (e Event) String() string {
	if e.Type == Renamed {
		return fmt.Sprintf("%v %q -> %q", e.Type, e.OldPath, e.Path)
	}
	return fmt.Sprintf("%v %q", e.Type, e.Path)
}
