// Copyright 2015 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ring implements a fixed-capacity byte ring storing
// length-prefixed records, for single-producer/single-consumer use. It has
// no internal locking: callers must arrange their own synchronization if
// producer and consumer run concurrently.
package ring

import "v.io/x/looper/vlog"

// lengthPrefixSize is the size, in bytes, of the little-endian record
// length written before each record's payload.
const lengthPrefixSize = 2

// CircularBuffer is a bounded byte ring of records, each stored as a
// two-byte little-endian length followed by that many payload bytes. One
// slot is always kept unused so that a full ring can be distinguished from
// an empty one by comparing indices alone.
type CircularBuffer struct {
	buf      []byte
	readIdx  int
	writeIdx int
	peakSize int
}

// New returns a CircularBuffer with the given capacity in bytes.
func New(capacity int) *CircularBuffer {
	return &CircularBuffer{buf: make([]byte, capacity)}
}

// Empty reports whether the buffer holds no records.
func (r *CircularBuffer) Empty() bool {
	return r.readIdx == r.writeIdx
}

// Full reports whether the buffer has no room for another byte: one slot
// is always reserved to keep Full and Empty distinguishable.
func (r *CircularBuffer) Full() bool {
	return (r.writeIdx+1)%len(r.buf) == r.readIdx
}

// Reset discards all buffered records.
func (r *CircularBuffer) Reset() {
	r.readIdx = 0
	r.writeIdx = 0
}

// PeakSize returns the largest occupied byte count (readIdx..writeIdx span)
// observed across the buffer's lifetime, in bytes.
func (r *CircularBuffer) PeakSize() int {
	return r.peakSize
}

// occupied returns the number of bytes currently buffered.
func (r *CircularBuffer) occupied() int {
	capacity := len(r.buf)
	if r.writeIdx >= r.readIdx {
		return r.writeIdx - r.readIdx
	}
	return r.writeIdx - r.readIdx + capacity
}

// Push appends one record. It fails, leaving the buffer unchanged, if the
// record (plus its length prefix) cannot fit the capacity at all, or if
// there isn't currently enough free space.
func (r *CircularBuffer) Push(data []byte) bool {
	capacity := len(r.buf)
	recordSize := len(data) + lengthPrefixSize
	if recordSize >= capacity {
		return false
	}
	free := capacity - 1 - r.occupied()
	if free < recordSize {
		vlog.VI(2).Infof("ring: push failed, need %d bytes, have %d free", recordSize, free)
		return false
	}

	var lenPrefix [lengthPrefixSize]byte
	lenPrefix[0] = byte(len(data))
	lenPrefix[1] = byte(len(data) >> 8)
	r.writeAt(r.writeIdx, lenPrefix[:])
	r.writeAt((r.writeIdx+lengthPrefixSize)%capacity, data)
	r.writeIdx = (r.writeIdx + recordSize) % capacity

	if occ := r.occupied(); occ > r.peakSize {
		r.peakSize = occ
	}
	return true
}

// Pop reads the oldest record into out. It fails, leaving the buffer
// unchanged, if the buffer is empty or out is too small to hold the
// record; it reports the number of bytes written to out.
func (r *CircularBuffer) Pop(out []byte) (int, bool) {
	if r.Empty() {
		return 0, false
	}
	capacity := len(r.buf)
	var lenPrefix [lengthPrefixSize]byte
	r.readAt(r.readIdx, lenPrefix[:])
	size := int(lenPrefix[0]) | int(lenPrefix[1])<<8
	if len(out) < size {
		vlog.VI(2).Infof("ring: pop failed, record is %d bytes, out is %d", size, len(out))
		return 0, false
	}
	r.readAt((r.readIdx+lengthPrefixSize)%capacity, out[:size])
	r.readIdx = (r.readIdx + size + lengthPrefixSize) % capacity
	return size, true
}

func (r *CircularBuffer) writeAt(at int, data []byte) {
	capacity := len(r.buf)
	if at+len(data) <= capacity {
		copy(r.buf[at:], data)
		return
	}
	firstPart := capacity - at
	copy(r.buf[at:], data[:firstPart])
	copy(r.buf, data[firstPart:])
}

func (r *CircularBuffer) readAt(at int, data []byte) {
	capacity := len(r.buf)
	if at+len(data) <= capacity {
		copy(data, r.buf[at:at+len(data)])
		return
	}
	firstPart := capacity - at
	copy(data, r.buf[at:])
	copy(data[firstPart:], r.buf[:len(data)-firstPart])
}
