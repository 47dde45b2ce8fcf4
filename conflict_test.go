// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// Copyright 2024 WJQSERVER. All rights reserved.
// All rights reserved by WJQSERVER, related rights can be exercised by the infinite-iroha organization.
package davlock

import "testing"

func TestConflictingLocks(t *testing.T) {
	shared := ActiveLock{Path: "/a/", Share: ShareShared, Token: "urn:s"}
	exclusive := ActiveLock{Path: "/a/b", Share: ShareExclusive, Token: "urn:e"}

	status := LockStatus{
		ReferenceLocks: []ActiveLock{shared},
		ParentLocks:    []ActiveLock{exclusive},
		ChildLocks:     []ActiveLock{shared, exclusive},
	}

	// An exclusive request conflicts with everything around it.
	got := ConflictingLocks(status, ShareExclusive)
	if len(got.ReferenceLocks) != 1 || len(got.ParentLocks) != 1 || len(got.ChildLocks) != 2 {
		t.Errorf("exclusive request: got %d/%d/%d conflicts; want 1/1/2",
			len(got.ReferenceLocks), len(got.ParentLocks), len(got.ChildLocks))
	}

	// A shared request tolerates shared locks in any position.
	got = ConflictingLocks(status, ShareShared)
	if len(got.ReferenceLocks) != 0 {
		t.Errorf("shared request: reference conflicts = %d; want 0", len(got.ReferenceLocks))
	}
	if len(got.ParentLocks) != 1 || got.ParentLocks[0].Token != "urn:e" {
		t.Errorf("shared request: parent conflicts = %+v; want the exclusive lock", got.ParentLocks)
	}
	if len(got.ChildLocks) != 1 || got.ChildLocks[0].Token != "urn:e" {
		t.Errorf("shared request: child conflicts = %+v; want the exclusive lock", got.ChildLocks)
	}

	if !ConflictingLocks(LockStatus{}, ShareExclusive).Empty() {
		t.Error("empty status should stay empty")
	}
}
