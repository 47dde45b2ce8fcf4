// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// Copyright 2024 WJQSERVER. All rights reserved.
// All rights reserved by WJQSERVER, related rights can be exercised by the infinite-iroha organization.

// Package davlock implements the locking core of a WebDAV server: advisory
// write locks over a hierarchical resource tree per RFC 4918 sections 6-10.
//
// The package covers the lock lifecycle (acquire, implicit acquire, refresh,
// release, enumeration), conflict detection between exclusive and shared
// locks across parent/child scopes, evaluation of conditional If headers,
// expiration with a background cleanup actor, and an abstract transaction
// interface that any storage backend can implement. HTTP dispatch, WebDAV
// XML body serialization and the property store are external collaborators
// and deliberately absent.
package davlock

import "errors"

var (
	// ErrNoSuchLock is returned when an operation names a state token that
	// no active lock carries.
	ErrNoSuchLock = errors.New("davlock: no such lock")
	// ErrProtocol is returned for malformed wire input: an unparsable If
	// header, Timeout value, or an unknown share/access keyword.
	ErrProtocol = errors.New("davlock: protocol error")
	// ErrBackend wraps failures propagated from a storage backend. The
	// operation left no partial state; the caller may retry.
	ErrBackend = errors.New("davlock: backend failure")
	// ErrManagerClosed is returned by operations on a closed Manager.
	ErrManagerClosed = errors.New("davlock: manager closed")
)

// PreconditionLockTokenMatchesRequestURI is the RFC 4918 precondition code
// carried by a refresh failure response.
const PreconditionLockTokenMatchesRequestURI = "lock-token-matches-request-uri"
