// Copyright 2015 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command looperdemo exercises a Looper end-to-end: it starts a dispatch
// loop on its own goroutine, enqueues messages at several deadlines to
// demonstrate ordering and FIFO tie-break, cancels a batch by handler and
// opcode, and drives a CircularBuffer through a short producer/consumer
// demo, printing a trace of everything it does.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"

	"v.io/x/looper/buildinfo"
	"v.io/x/looper/cmd/pflagvar"
	"v.io/x/looper/looper"
	"v.io/x/looper/message"
	"v.io/x/looper/metrics"
	"v.io/x/looper/ring"
	"v.io/x/looper/timing"
	"v.io/x/looper/vlog"
)

// Config holds the demo's tunables, registered as flags via pflagvar's
// struct-tag driven binding.
type Config struct {
	MaxLoopers   int  `cmdline:"max-loopers,65536,process-wide cap on concurrent Loopers"`
	RingCapacity int  `cmdline:"ring-capacity,64,byte capacity of the demo CircularBuffer"`
	Verbosity    int  `cmdline:"v,0,vlog V-level for demo trace output"`
	Version      bool `cmdline:"version,false,print build information and exit"`
}

func main() {
	var cfg Config
	fs := pflag.NewFlagSet("looperdemo", pflag.ExitOnError)
	if err := pflagvar.RegisterFlagsInStruct(fs, "cmdline", &cfg, nil, nil); err != nil {
		fmt.Fprintf(os.Stderr, "looperdemo: %v\n", err)
		os.Exit(1)
	}
	fs.Parse(os.Args[1:])

	if cfg.Version {
		fmt.Println(buildinfo.Info().String())
		return
	}

	vlog.Configure(vlog.Level(cfg.Verbosity), vlog.AlsoLogToStderr(true))
	looper.MaxLoopers = cfg.MaxLoopers

	reg := prometheus.NewRegistry()

	trace := timing.NewFullTimer("looperdemo")
	defer func() {
		trace.Finish()
		fmt.Print(trace)
	}()

	runOrderingDemo(trace, reg)
	runRemovalDemo(trace)
	runRingDemo(trace, reg, cfg.RingCapacity)
}

type traceHandler struct {
	name string
	col  *metrics.Collectors
	done chan int32
}

func (h *traceHandler) Dispatch(msg *message.Message) {
	vlog.Infof("looperdemo: dispatched %s what=%d", h.name, msg.What)
	if h.col != nil {
		h.col.ObserveDispatch(time.Microsecond)
	}
	h.done <- msg.What
}

// runOrderingDemo starts a Looper, enqueues messages out of deadline
// order, and waits for all three to dispatch, logging each one so the trace
// shows earliest-deadline-first order with FIFO tie-break among the two
// equal deadlines. The order itself is not checked.
func runOrderingDemo(trace *timing.FullTimer, reg *prometheus.Registry) {
	trace.Push("ordering")
	defer trace.Pop()

	col := metrics.NewCollectors("ordering-demo")
	col.MustRegisterAll(reg)

	done := make(chan int32, 3)
	h := &traceHandler{name: "ordering", col: col, done: done}

	readyCh := make(chan *looper.Looper, 1)
	finished := make(chan struct{})
	go func() {
		l, err := looper.Prepare()
		if err != nil {
			vlog.Errorf("looperdemo: Prepare failed: %v", err)
			close(readyCh)
			return
		}
		readyCh <- l
		l.Loop()
		close(finished)
	}()

	l, ok := <-readyCh
	if !ok {
		return
	}
	q := l.MyMessageQueue()
	now := looper.DefaultClock.NowNanos()
	q.EnqueueMessage(&message.Message{Handler: h, What: 3}, now+int64(30*time.Millisecond))
	q.EnqueueMessage(&message.Message{Handler: h, What: 1}, now+int64(10*time.Millisecond))
	q.EnqueueMessage(&message.Message{Handler: h, What: 2}, now+int64(10*time.Millisecond))

	for i := 0; i < 2; i++ {
		<-done
	}
	vlog.Infof("looperdemo: queue depth before drain: %d", q.Len())
	col.QueueDepth.Set(float64(q.Len()))
	<-done

	l.Quit()
	<-finished
}

// runRemovalDemo starts a Looper, enqueues two messages, cancels one by
// handler+opcode before it becomes due, and lets the other dispatch.
func runRemovalDemo(trace *timing.FullTimer) {
	trace.Push("removal")
	defer trace.Pop()

	readyCh := make(chan *looper.Looper, 1)
	finished := make(chan struct{})
	go func() {
		l, err := looper.Prepare()
		if err != nil {
			vlog.Errorf("looperdemo: Prepare failed: %v", err)
			close(readyCh)
			return
		}
		readyCh <- l
		l.Loop()
		close(finished)
	}()

	l, ok := <-readyCh
	if !ok {
		return
	}
	q := l.MyMessageQueue()
	h := &traceHandler{name: "removal", done: make(chan int32, 1)}
	now := looper.DefaultClock.NowNanos()
	cancelled := &message.Message{Handler: h, What: 7}
	q.EnqueueMessage(cancelled, now+int64(50*time.Millisecond))
	q.EnqueueMessage(&message.Message{Handler: h, What: 8}, now+int64(60*time.Millisecond))

	if q.RemoveMessagesWhat(h, 7) {
		vlog.Infof("looperdemo: cancelled what=7 before it could dispatch")
	}
	<-h.done

	l.Quit()
	<-finished
}

// runRingDemo drives a CircularBuffer through a short producer/consumer
// sequence and reports its peak occupancy.
func runRingDemo(trace *timing.FullTimer, reg *prometheus.Registry, capacity int) {
	trace.Push("ring")
	defer trace.Pop()

	col := metrics.NewCollectors("ring-demo")
	col.MustRegisterAll(reg)

	r := ring.New(capacity)
	records := [][]byte{[]byte("first"), []byte("second"), []byte("third")}
	for _, rec := range records {
		if !r.Push(rec) {
			vlog.Errorf("looperdemo: ring push of %q failed", rec)
			continue
		}
	}
	col.RingPeakBytes.Set(float64(r.PeakSize()))

	out := make([]byte, capacity)
	for !r.Empty() {
		n, ok := r.Pop(out)
		if !ok {
			break
		}
		vlog.Infof("looperdemo: ring popped %q", out[:n])
	}
}
