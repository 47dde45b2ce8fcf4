// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// Copyright 2024 WJQSERVER. All rights reserved.
// All rights reserved by WJQSERVER, related rights can be exercised by the infinite-iroha organization.
package davlock

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ShareMode is the RFC 4918 lock scope: exclusive or shared.
type ShareMode uint8

const (
	// ShareExclusive locks tolerate no other lock in scope.
	ShareExclusive ShareMode = iota
	// ShareShared locks coexist with other shared locks in scope.
	ShareShared
)

// ParseShareMode parses the wire keyword for a lock scope. Keywords are
// matched case-insensitively; anything else is ErrProtocol.
func ParseShareMode(s string) (ShareMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "exclusive":
		return ShareExclusive, nil
	case "shared":
		return ShareShared, nil
	default:
		return 0, fmt.Errorf("%w: unknown share mode %q", ErrProtocol, s)
	}
}

func (m ShareMode) String() string {
	if m == ShareShared {
		return "shared"
	}
	return "exclusive"
}

// AccessType is the lock type. RFC 4918 defines only write locks.
type AccessType uint8

// AccessWrite is the only defined access type.
const AccessWrite AccessType = iota

// ParseAccessType parses the wire keyword for a lock type.
func ParseAccessType(s string) (AccessType, error) {
	if strings.EqualFold(strings.TrimSpace(s), "write") {
		return AccessWrite, nil
	}
	return 0, fmt.Errorf("%w: unknown access type %q", ErrProtocol, s)
}

func (a AccessType) String() string { return "write" }

// LockRequest describes the lock a caller wants to acquire.
type LockRequest struct {
	// Path is the resource path; a trailing slash marks a collection.
	Path string
	// Href is the client-visible href, preserved verbatim for responses.
	// Empty defaults to Path.
	Href string
	// Recursive requests a depth-infinity lock covering the whole subtree.
	Recursive bool
	// Owner is the opaque XML fragment identifying the principal.
	Owner string
	// Access is the lock type.
	Access AccessType
	// Share is the lock scope.
	Share ShareMode
	// Timeout is the requested lifetime, before rounding.
	Timeout time.Duration
}

// ActiveLock is an immutable snapshot of a currently held lock. Refreshing
// produces a new value with the same Token; records are never mutated in
// place.
type ActiveLock struct {
	// Path is the canonicalized resource path. Collection paths end in "/".
	Path string
	// Href is the client-visible href, echoed verbatim in responses.
	Href string
	// Recursive is true for depth-infinity locks.
	Recursive bool
	// Owner is the opaque XML fragment supplied at acquire time.
	Owner string
	// Access is the lock type.
	Access AccessType
	// Share is the lock scope.
	Share ShareMode
	// Timeout is the rounded lifetime counted from LastRefreshedAt.
	Timeout time.Duration
	// IssuedAt is the rounded UTC acquire instant.
	IssuedAt time.Time
	// LastRefreshedAt equals IssuedAt until the first refresh.
	LastRefreshedAt time.Time
	// Token is the globally unique state token, stable across refreshes.
	Token string
}

// ExpiresAt is the deadline after which the lock is eligible for cleanup.
func (l ActiveLock) ExpiresAt() time.Time {
	return l.LastRefreshedAt.Add(l.Timeout)
}

// Refreshed returns the copy produced by a successful refresh: identity
// fields unchanged, lifetime restarted at now.
func (l ActiveLock) Refreshed(now time.Time, timeout time.Duration) ActiveLock {
	l.LastRefreshedAt = now
	l.Timeout = timeout
	return l
}

func (l ActiveLock) validate() error {
	switch {
	case l.Path == "" || l.Path[0] != '/':
		return fmt.Errorf("davlock: lock path %q is not absolute", l.Path)
	case l.Token == "":
		return fmt.Errorf("davlock: lock on %q has no state token", l.Path)
	case l.Timeout <= 0:
		return fmt.Errorf("davlock: lock on %q has non-positive timeout %v", l.Path, l.Timeout)
	case l.LastRefreshedAt.Before(l.IssuedAt):
		return fmt.Errorf("davlock: lock on %q refreshed before issue", l.Path)
	}
	return nil
}

// newActiveLock builds the record for a fresh acquire, applying rounding
// and minting a state token. The request timeout must be positive.
func newActiveLock(req LockRequest, now time.Time, round Rounding) (ActiveLock, error) {
	issued := round.Instant(now)
	l := ActiveLock{
		Path:            NormalizePath(req.Path),
		Href:            req.Href,
		Recursive:       req.Recursive,
		Owner:           req.Owner,
		Access:          req.Access,
		Share:           req.Share,
		Timeout:         round.Timeout(req.Timeout),
		IssuedAt:        issued,
		LastRefreshedAt: issued,
		Token:           NewStateToken(),
	}
	if l.Href == "" {
		l.Href = l.Path
	}
	if err := l.validate(); err != nil {
		return ActiveLock{}, err
	}
	return l, nil
}

// NewStateToken mints a globally unique opaque lock token in the
// opaquelocktoken URI scheme.
func NewStateToken() string {
	return "opaquelocktoken:" + uuid.NewString()
}
