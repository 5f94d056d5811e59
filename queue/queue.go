// Copyright 2015 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package queue implements a time-ordered, thread-safe pending-work list:
// messages are kept sorted by deadline, dequeued in deadline order (FIFO
// among equal deadlines), and may be cancelled by a concurrent goroutine
// while still pending.
package queue

import (
	"context"
	"time"

	"v.io/x/looper/message"
	"v.io/x/looper/nsync"
	"v.io/x/looper/vlog"
)

// Clock supplies a non-decreasing nanosecond timestamp. MessageQueue never
// reads wall-clock time directly so that deadlines are immune to clock
// adjustments.
type Clock interface {
	// NowNanos returns the current time as nanoseconds on the Clock's own
	// monotonic timeline.
	NowNanos() int64

	// Deadline converts a NowNanos-scale timestamp into an absolute
	// time.Time suitable for nsync.CV.WaitWithDeadline, which waits
	// relative to time.Now(). Implementations must keep this conversion
	// anchored to the same timeline NowNanos reports on.
	Deadline(execTimestamp int64) time.Time
}

// QueuedMessageInfo is a race-free, point-in-time snapshot of one pending
// Message, returned by Snapshot for diagnostic enumeration.
type QueuedMessageInfo struct {
	Handler       message.Handler
	What          int32
	ExecTimestamp int64
}

// MessageQueue is a time-ordered linked list of pending Messages. The zero
// value is not usable; construct with New.
type MessageQueue struct {
	clock Clock

	mu       nsync.Mu
	wake     nsync.CV
	head     *message.Message
	quitting bool
}

// New returns a MessageQueue that reads the current time from clock.
func New(clock Clock) *MessageQueue {
	return &MessageQueue{clock: clock}
}

// EnqueueMessage inserts msg into the queue to become due at execTimestamp
// (nanoseconds on the queue's Clock). It fails, leaving both the queue and
// msg unchanged, if msg.Handler is nil, execTimestamp is zero, msg is
// already pending in some queue, or the queue is quitting.
func (q *MessageQueue) EnqueueMessage(msg *message.Message, execTimestamp int64) bool {
	if msg == nil || msg.Handler == nil || execTimestamp == 0 {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.quitting {
		vlog.VI(2).Infof("queue: enqueue rejected, quitting")
		return false
	}
	if !msg.TryMarkPending(execTimestamp) {
		return false
	}

	if q.head == nil || execTimestamp < q.head.ExecTimestamp() {
		msg.SetNext(q.head)
		q.head = msg
	} else {
		cur := q.head
		for cur.Next() != nil && cur.Next().ExecTimestamp() <= execTimestamp {
			cur = cur.Next()
		}
		msg.SetNext(cur.Next())
		cur.SetNext(msg)
	}
	q.wake.Signal()
	return true
}

// DequeueMessage blocks until a Message becomes due, the queue quits, or
// ctx is done, then returns it (also stored in *out). It returns nil once
// the queue has quit and no more Messages will ever be returned.
//
// Passing context.Background() reproduces the original design's
// unconditionally-blocking dequeue exactly; a caller that wants to be able
// to unstick a blocked dequeue (e.g. for goroutine-lifecycle hygiene in
// tests) should pass a cancellable context instead.
func (q *MessageQueue) DequeueMessage(ctx context.Context, out *message.Message) *message.Message {
	var cancel <-chan struct{}
	if ctx != nil {
		cancel = ctx.Done()
	}
	q.mu.Lock()
	for {
		if q.quitting {
			q.mu.Unlock()
			return nil
		}
		now := q.clock.NowNanos()
		if q.head != nil && q.head.ExecTimestamp() <= now {
			due := q.head
			q.head = due.Next()
			*out = message.Message{Handler: due.Handler, What: due.What, Arg1: due.Arg1, Arg2: due.Arg2, Obj: due.Obj}
			due.Recycle()
			q.mu.Unlock()
			return out
		}

		deadline := nsync.NoDeadline
		if q.head != nil {
			deadline = q.clock.Deadline(q.head.ExecTimestamp())
		}
		switch q.wake.WaitWithDeadline(&q.mu, deadline, cancel) {
		case nsync.Cancelled:
			q.mu.Unlock()
			return nil
		default:
			// OK or Expired: loop and re-check the due condition.
		}
	}
}

// RemoveMessages removes every pending Message targeting handler. It
// reports whether at least one Message was removed.
func (q *MessageQueue) RemoveMessages(handler message.Handler) bool {
	return q.removeMatching(func(m *message.Message) bool {
		return m.Handler == handler
	})
}

// RemoveMessagesWhat removes every pending Message targeting handler with
// opcode what. It reports whether at least one Message was removed.
func (q *MessageQueue) RemoveMessagesWhat(handler message.Handler, what int32) bool {
	return q.removeMatching(func(m *message.Message) bool {
		return m.Handler == handler && m.What == what
	})
}

// RemoveMessage removes at most one pending Message: the one identified by
// pointer identity with target, provided its Handler matches handler. It
// reports whether a Message was removed.
func (q *MessageQueue) RemoveMessage(handler message.Handler, target *message.Message) bool {
	if target == nil {
		return false
	}
	removed := false
	q.removeMatching(func(m *message.Message) bool {
		if removed {
			return false
		}
		if m == target && m.Handler == handler {
			removed = true
			return true
		}
		return false
	})
	return removed
}

// removeMatching splices out every pending Message for which match returns
// true, recycling each. It does not wake any dequeuer: removal can only
// make the earliest deadline later or leave it unchanged.
func (q *MessageQueue) removeMatching(match func(*message.Message) bool) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	removedAny := false
	for q.head != nil && match(q.head) {
		next := q.head.Next()
		q.head.Recycle()
		q.head = next
		removedAny = true
	}
	if q.head == nil {
		return removedAny
	}
	for cur := q.head; cur.Next() != nil; {
		if match(cur.Next()) {
			dead := cur.Next()
			cur.SetNext(dead.Next())
			dead.Recycle()
			removedAny = true
		} else {
			cur = cur.Next()
		}
	}
	if removedAny {
		vlog.VI(2).Infof("queue: removed pending messages")
	}
	return removedAny
}

// Quit transitions the queue to a draining, non-accepting state. It is
// idempotent and wakes any goroutine blocked in DequeueMessage so it can
// observe the new state promptly, rather than waiting out a stale timed
// deadline or blocking forever.
func (q *MessageQueue) Quit() {
	q.mu.Lock()
	already := q.quitting
	q.quitting = true
	q.mu.Unlock()
	if !already {
		vlog.VI(1).Infof("queue: quitting")
	}
	q.wake.Signal()
}

// Len reports the current number of pending Messages.
func (q *MessageQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for cur := q.head; cur != nil; cur = cur.Next() {
		n++
	}
	return n
}

// Snapshot returns a race-free, point-in-time copy of the pending Messages'
// (handler, what, deadline) tuples, in queue order.
func (q *MessageQueue) Snapshot() []QueuedMessageInfo {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []QueuedMessageInfo
	for cur := q.head; cur != nil; cur = cur.Next() {
		out = append(out, QueuedMessageInfo{
			Handler:       cur.Handler,
			What:          cur.What,
			ExecTimestamp: cur.ExecTimestamp(),
		})
	}
	return out
}
