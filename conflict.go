// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// Copyright 2024 WJQSERVER. All rights reserved.
// All rights reserved by WJQSERVER, related rights can be exercised by the infinite-iroha organization.
package davlock

// ConflictingLocks filters a LockStatus down to the locks incompatible with
// a request of the given share mode. An exclusive request conflicts with
// every surrounding lock; a shared request conflicts only with exclusive
// ones, shared-with-shared being compatible in any position.
func ConflictingLocks(status LockStatus, share ShareMode) LockStatus {
	if share == ShareExclusive {
		return status
	}
	return LockStatus{
		ReferenceLocks: exclusiveOnly(status.ReferenceLocks),
		ParentLocks:    exclusiveOnly(status.ParentLocks),
		ChildLocks:     exclusiveOnly(status.ChildLocks),
	}
}

func exclusiveOnly(locks []ActiveLock) []ActiveLock {
	var out []ActiveLock
	for _, l := range locks {
		if l.Share == ShareExclusive {
			out = append(out, l)
		}
	}
	return out
}
