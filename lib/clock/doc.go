// Copyright 2026 Nine Minds LLC
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source. Production code
// uses Real(); tests use Fake() and drive deadlines deterministically
// with Advance and WaitForTimers. All session lifecycle timers
// (consent deadline, inactivity grace, negotiation timeout, duration
// cap) run against a Clock so their firing order can be tested without
// wall-clock sleeps.
package clock
