// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// Copyright 2024 WJQSERVER. All rights reserved.
// All rights reserved by WJQSERVER, related rights can be exercised by the infinite-iroha organization.
package davlock

import (
	"testing"
)

func findTokens(locks []ActiveLock) []string {
	out := make([]string, 0, len(locks))
	for _, l := range locks {
		out = append(out, l.Token)
	}
	return out
}

func TestFind(t *testing.T) {
	pr := NewPathResolver(nil)
	locks := []ActiveLock{
		{Path: "/a/", Recursive: true, Token: "urn:root"},
		{Path: "/a/b", Token: "urn:file"},
		{Path: "/a/c/", Recursive: true, Token: "urn:subtree"},
		{Path: "/b", Token: "urn:other"},
	}

	status := Find(locks, pr, pr.BuildURL("/a/", false), true, true)
	if got := findTokens(status.ReferenceLocks); len(got) != 1 || got[0] != "urn:root" {
		t.Errorf("reference = %v; want [urn:root]", got)
	}
	if got := findTokens(status.ChildLocks); len(got) != 2 {
		t.Errorf("children = %v; want urn:file and urn:subtree", got)
	}
	if len(status.ParentLocks) != 0 {
		t.Errorf("parents = %v; want none", findTokens(status.ParentLocks))
	}

	// A depth-0 query below the recursive root sees it as a parent.
	status = Find(locks, pr, pr.BuildURL("/a/b", false), false, true)
	if got := findTokens(status.ParentLocks); len(got) != 1 || got[0] != "urn:root" {
		t.Errorf("parents = %v; want [urn:root]", got)
	}
	if got := findTokens(status.ReferenceLocks); len(got) != 1 || got[0] != "urn:file" {
		t.Errorf("reference = %v; want [urn:file]", got)
	}
	if len(status.ChildLocks) != 0 {
		t.Errorf("children = %v; want none for a depth-0 query", findTokens(status.ChildLocks))
	}

	// findParents off suppresses the parent bucket.
	status = Find(locks, pr, pr.BuildURL("/a/b", false), false, false)
	if len(status.ParentLocks) != 0 {
		t.Errorf("parents = %v; want none with findParents=false", findTokens(status.ParentLocks))
	}
}

func TestLockStatusAllOrder(t *testing.T) {
	status := LockStatus{
		ReferenceLocks: []ActiveLock{{Token: "urn:ref"}},
		ParentLocks:    []ActiveLock{{Token: "urn:parent"}},
		ChildLocks:     []ActiveLock{{Token: "urn:child"}},
	}
	got := findTokens(status.All())
	want := []string{"urn:parent", "urn:ref", "urn:child"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("All() order = %v; want %v", got, want)
		}
	}
}

func TestPathInfoHasToken(t *testing.T) {
	info := newPathInfo("/a", []ActiveLock{{Path: "/a", Token: "urn:x"}})
	if !info.HasToken("urn:x") {
		t.Error("HasToken(urn:x) = false; want true")
	}
	if info.HasToken("urn:y") {
		t.Error("HasToken(urn:y) = true; want false")
	}
}
