// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// Copyright 2024 WJQSERVER. All rights reserved.
// All rights reserved by WJQSERVER, related rights can be exercised by the infinite-iroha organization.
package davlock

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseTimeout parses a Timeout request header per RFC 4918 section 10.7.
// Only the first of a comma-separated list of preferences is considered.
// "Infinite" and an empty header map to the caller-supplied cap, since the
// lock core requires a finite positive lifetime. Malformed values yield
// ErrProtocol.
func ParseTimeout(s string, infinite time.Duration) (time.Duration, error) {
	if s == "" {
		return infinite, nil
	}
	if i := strings.IndexByte(s, ','); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "Infinite") {
		return infinite, nil
	}
	const pre = "Second-"
	if len(s) <= len(pre) || !strings.EqualFold(s[:len(pre)], pre) {
		return 0, fmt.Errorf("%w: invalid timeout %q", ErrProtocol, s)
	}
	n, err := strconv.ParseInt(s[len(pre):], 10, 64)
	if err != nil || n <= 0 || n > 1<<32-1 {
		return 0, fmt.Errorf("%w: invalid timeout %q", ErrProtocol, s)
	}
	return time.Duration(n) * time.Second, nil
}

// FormatTimeout renders a lock lifetime in Timeout header form.
func FormatTimeout(d time.Duration) string {
	return "Second-" + strconv.FormatInt(int64(d/time.Second), 10)
}
