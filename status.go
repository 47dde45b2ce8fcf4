// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// Copyright 2024 WJQSERVER. All rights reserved.
// All rights reserved by WJQSERVER, related rights can be exercised by the infinite-iroha organization.
package davlock

// LockStatus groups the active locks found around a query path by their
// comparator relation to it.
type LockStatus struct {
	// ReferenceLocks sit exactly on the query path.
	ReferenceLocks []ActiveLock
	// ParentLocks are recursive locks on ancestors covering the path.
	ParentLocks []ActiveLock
	// ChildLocks sit below the path, inside a recursive query scope.
	ChildLocks []ActiveLock
}

// Empty reports whether no lock was found in any position.
func (s LockStatus) Empty() bool {
	return len(s.ReferenceLocks) == 0 && len(s.ParentLocks) == 0 && len(s.ChildLocks) == 0
}

// All flattens the status in parent, reference, child order.
func (s LockStatus) All() []ActiveLock {
	out := make([]ActiveLock, 0, len(s.ParentLocks)+len(s.ReferenceLocks)+len(s.ChildLocks))
	out = append(out, s.ParentLocks...)
	out = append(out, s.ReferenceLocks...)
	out = append(out, s.ChildLocks...)
	return out
}

// PathInfo is the transient per-path bundle consulted while evaluating an
// If list: the locks covering the path, a token index over them, and the
// entity tag once it has been fetched.
type PathInfo struct {
	Path  string
	Locks []ActiveLock
	// ByToken indexes Locks by state token.
	ByToken map[string]ActiveLock
	// EntityTag is set once fetched; EntityTagKnown distinguishes a missing
	// resource from a not-yet-fetched one.
	EntityTag      string
	EntityTagKnown bool
}

func newPathInfo(path string, locks []ActiveLock) *PathInfo {
	info := &PathInfo{
		Path:    path,
		Locks:   locks,
		ByToken: make(map[string]ActiveLock, len(locks)),
	}
	for _, l := range locks {
		info.ByToken[l.Token] = l
	}
	return info
}

// HasToken reports whether one of the covering locks carries the token.
func (p *PathInfo) HasToken(token string) bool {
	_, ok := p.ByToken[token]
	return ok
}

// Find buckets every lock whose scope touches parentURL. Locks exactly on
// the URL land in the reference bucket; locks underneath it land in the
// child bucket when withChildren is set (the query scope is recursive);
// recursive locks above it land in the parent bucket when findParents is
// set. Everything else is ignored.
func Find(locks []ActiveLock, pr *PathResolver, parentURL string, withChildren, findParents bool) LockStatus {
	var status LockStatus
	for _, l := range locks {
		lockURL := pr.BuildURL(l.Path, false)
		switch Compare(parentURL, withChildren, lockURL, l.Recursive) {
		case Reference:
			status.ReferenceLocks = append(status.ReferenceLocks, l)
		case LeftIsParent:
			status.ChildLocks = append(status.ChildLocks, l)
		case RightIsParent:
			if findParents {
				status.ParentLocks = append(status.ParentLocks, l)
			}
		}
	}
	return status
}
