// Copyright 2015 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package looper

import (
	"time"

	"v.io/x/looper/queue"
)

// Clock is the monotonic time source consumed by a MessageQueue. It is
// re-exported from package queue so that callers constructing a Looper
// never need to import queue directly just to supply a clock.
type Clock = queue.Clock

// monotonicClock anchors a single time.Time at construction and reports all
// subsequent readings as an offset from it via time.Since, which rides on
// Go's runtime monotonic clock reading rather than wall-clock time. Wall
// clock adjustments (NTP steps, user changing the system clock) therefore
// never perturb deadlines already computed against a monotonicClock.
type monotonicClock struct {
	anchor time.Time
}

// NewMonotonicClock returns a Clock anchored to the moment it's called.
func NewMonotonicClock() Clock {
	return &monotonicClock{anchor: time.Now()}
}

func (c *monotonicClock) NowNanos() int64 {
	return time.Since(c.anchor).Nanoseconds()
}

func (c *monotonicClock) Deadline(execTimestamp int64) time.Time {
	return c.anchor.Add(time.Duration(execTimestamp))
}

// DefaultClock is the Clock used by Prepare when no Clock is supplied via
// PrepareWithClock. It is anchored once at package init.
var DefaultClock = NewMonotonicClock()
