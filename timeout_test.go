// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// Copyright 2024 WJQSERVER. All rights reserved.
// All rights reserved by WJQSERVER, related rights can be exercised by the infinite-iroha organization.
package davlock

import (
	"errors"
	"testing"
	"time"
)

func TestParseTimeout(t *testing.T) {
	const infinite = 10 * time.Minute

	testCases := []struct {
		in       string
		expected time.Duration
		wantErr  bool
	}{
		{in: "", expected: infinite},
		{in: "Infinite", expected: infinite},
		{in: "infinite", expected: infinite},
		{in: "Second-60", expected: 60 * time.Second},
		{in: "Second-1", expected: time.Second},
		{in: "Second-3600, Infinite", expected: 3600 * time.Second},
		{in: " Second-5 ", expected: 5 * time.Second},
		{in: "Second-0", wantErr: true},
		{in: "Second-", wantErr: true},
		{in: "Second-abc", wantErr: true},
		{in: "Minute-5", wantErr: true},
		{in: "Second-99999999999999", wantErr: true},
	}

	for _, tc := range testCases {
		got, err := ParseTimeout(tc.in, infinite)
		if tc.wantErr {
			if !errors.Is(err, ErrProtocol) {
				t.Errorf("ParseTimeout(%q) error = %v; want ErrProtocol", tc.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseTimeout(%q) error: %v", tc.in, err)
			continue
		}
		if got != tc.expected {
			t.Errorf("ParseTimeout(%q) = %v; want %v", tc.in, got, tc.expected)
		}
	}
}

func TestFormatTimeout(t *testing.T) {
	if got := FormatTimeout(90 * time.Second); got != "Second-90" {
		t.Errorf("FormatTimeout(90s) = %q; want Second-90", got)
	}
}
