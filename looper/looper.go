// Copyright 2015 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package looper binds one MessageQueue to the goroutine that runs its
// dispatch loop, and maintains a process-wide registry of live Loopers for
// diagnostic enumeration.
package looper

import (
	"context"
	"errors"
	"fmt"

	"v.io/x/looper/message"
	"v.io/x/looper/queue"
	"v.io/x/looper/uniqueid"
	"v.io/x/looper/vlog"
)

var (
	// ErrLooperAlreadyPrepared is returned by Prepare when the calling
	// goroutine has already installed a Looper.
	ErrLooperAlreadyPrepared = errors.New("looper: Prepare called twice on the same goroutine")

	// ErrTooManyLoopers is returned by Prepare when the process-wide
	// registry is already at MaxLoopers capacity.
	ErrTooManyLoopers = errors.New("looper: registry is at MaxLoopers capacity")
)

// Looper is a per-goroutine binding of a MessageQueue to a dispatch loop.
type Looper struct {
	mq      *queue.MessageQueue
	scratch message.Message
	id      uniqueid.ID
	clock   Clock
}

// Prepare installs a new Looper bound to the calling goroutine, using the
// package's DefaultClock. It fails if the calling goroutine already owns a
// Looper, or the process-wide registry is full.
func Prepare() (*Looper, error) {
	return PrepareWithClock(DefaultClock)
}

// PrepareWithClock is like Prepare, but lets the caller supply the Clock
// the new Looper's MessageQueue will use; primarily useful for tests that
// need to control time.
func PrepareWithClock(clock Clock) (*Looper, error) {
	id, err := uniqueid.Random()
	if err != nil {
		return nil, fmt.Errorf("looper: generating id: %w", err)
	}
	l := &Looper{
		mq:    queue.New(clock),
		id:    id,
		clock: clock,
	}
	if err := theRegistry().register(l); err != nil {
		return nil, err
	}
	vlog.VI(1).Infof("looper: prepared %x", l.id)
	return l, nil
}

// MyLooper returns the calling goroutine's Looper, if Prepare has been
// called on it and Loop/Close has not yet run to completion.
func MyLooper() (*Looper, bool) {
	return theRegistry().lookup()
}

// ID returns the Looper's diagnostic correlation id, assigned at Prepare
// time.
func (l *Looper) ID() uniqueid.ID {
	return l.id
}

// MyMessageQueue returns the MessageQueue owned by this Looper, for use by
// other goroutines holding a reference to it.
func (l *Looper) MyMessageQueue() *queue.MessageQueue {
	return l.mq
}

// Loop repeatedly dequeues the next due Message and dispatches it to its
// Handler, on the calling goroutine, until the MessageQueue quits. It
// deregisters the Looper from the process-wide registry before returning,
// which is this design's analogue of a pthread TLS destructor firing on
// thread exit.
//
// A Handler whose Dispatch panics does not bring down the loop: the panic
// is recovered and logged, and dispatch continues with the next Message.
func (l *Looper) Loop() {
	defer theRegistry().deregister()
	for {
		msg := l.mq.DequeueMessage(context.Background(), &l.scratch)
		if msg == nil {
			vlog.VI(1).Infof("looper: %x loop exiting, queue quit", l.id)
			return
		}
		dispatch(msg)
	}
}

func dispatch(msg *message.Message) {
	defer func() {
		if r := recover(); r != nil {
			vlog.Errorf("looper: handler panicked: %v", r)
		}
	}()
	msg.Handler.Dispatch(msg)
}

// Quit transitions the Looper's MessageQueue to a draining state, waking
// Loop if it is currently blocked in DequeueMessage.
func (l *Looper) Quit() {
	l.mq.Quit()
}

// Close deregisters the Looper without running Loop. A goroutine that
// calls Prepare but never calls Loop must call Close to free the
// registry slot; Loop already does this itself on return.
func (l *Looper) Close() {
	theRegistry().deregister()
}

// Snapshot returns the diagnostic ids of every currently-registered
// Looper, in registration order.
func Snapshot() []uniqueid.ID {
	return theRegistry().snapshot()
}
