// Copyright 2018 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build travis
// +build travis

package nsync_test

// expectedTimeoutsDelta is not read by any test; TestCVTimeoutStress
// checks against a fixed margin of 1000 timeouts.
const expectedTimeoutsDelta = 300
