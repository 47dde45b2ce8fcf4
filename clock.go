// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// Copyright 2024 WJQSERVER. All rights reserved.
// All rights reserved by WJQSERVER, related rights can be exercised by the infinite-iroha organization.
package davlock

import "time"

// Clock abstracts the wall clock so tests can run on frozen time. Now must
// return a UTC instant.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock reads the real wall clock in UTC.
var SystemClock Clock = systemClock{}

// Rounding is the policy applied to issue/refresh instants and to timeouts
// so that textual Timeout serialization and expiry comparisons are stable.
type Rounding interface {
	Instant(time.Time) time.Time
	Timeout(time.Duration) time.Duration
}

type secondRounding struct{}

func (secondRounding) Instant(t time.Time) time.Time { return t.Truncate(time.Second) }

func (secondRounding) Timeout(d time.Duration) time.Duration {
	if r := d.Truncate(time.Second); r > 0 {
		return r
	}
	// Sub-second requests still yield a positive lifetime.
	return time.Second
}

// RoundSeconds truncates instants and timeouts to whole seconds. It is the
// default policy.
var RoundSeconds Rounding = secondRounding{}

// NoRounding leaves instants and timeouts untouched.
var NoRounding Rounding = identityRounding{}

type identityRounding struct{}

func (identityRounding) Instant(t time.Time) time.Time { return t }

func (identityRounding) Timeout(d time.Duration) time.Duration { return d }
