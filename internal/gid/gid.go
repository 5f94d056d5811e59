// Copyright 2015 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package gid provides a goroutine-affine identity, standing in for the
// pthread thread-local-storage key that the original design relies on. Go
// has no public goroutine-id API, so Current parses the id out of the
// runtime-supplied stack trace header, which is the idiom the ecosystem
// settles on absent a exported equivalent of pthread_self().
package gid

import (
	"bytes"
	"runtime"
	"strconv"
)

// Current returns an identifier for the calling goroutine. The value is
// stable for the lifetime of the goroutine and is suitable for use as a map
// key, but carries no meaning beyond equality/inequality: goroutine ids are
// reused by the runtime once a goroutine exits.
func Current() uint64 {
	buf := make([]byte, 64)
	for {
		n := runtime.Stack(buf, false)
		if n < len(buf) {
			buf = buf[:n]
			break
		}
		buf = make([]byte, 2*len(buf))
	}
	return parseGoroutineID(buf)
}

// parseGoroutineID extracts the numeric id from a stack trace header of the
// form "goroutine 123 [running]:".
func parseGoroutineID(stack []byte) uint64 {
	const prefix = "goroutine "
	stack = bytes.TrimPrefix(stack, []byte(prefix))
	end := bytes.IndexByte(stack, ' ')
	if end < 0 {
		return 0
	}
	id, err := strconv.ParseUint(string(stack[:end]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
