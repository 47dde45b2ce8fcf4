// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// Copyright 2024 WJQSERVER. All rights reserved.
// All rights reserved by WJQSERVER, related rights can be exercised by the infinite-iroha organization.
package filestore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/infinite-iroha/davlock"
)

func testLock(path, token string) davlock.ActiveLock {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	return davlock.ActiveLock{
		Path:            path,
		Href:            path,
		Recursive:       true,
		Owner:           "<D:href>o</D:href>",
		Share:           davlock.ShareExclusive,
		Timeout:         time.Minute,
		IssuedAt:        now,
		LastRefreshedAt: now,
		Token:           token,
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "locks", "snapshot.json")

	b := New(path)
	tx, err := b.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	want := testLock("/a/", "opaquelocktoken:a")
	if ok, err := tx.Add(ctx, want); err != nil || !ok {
		t.Fatalf("add = %v, %v", ok, err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	// A second backend instance over the same file sees the committed set.
	reopened := New(path)
	tx2, err := reopened.Begin(ctx)
	if err != nil {
		t.Fatalf("reopen begin: %v", err)
	}
	defer tx2.Rollback()
	got, err := tx2.Get(ctx, want.Token)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("lock lost across reopen")
	}
	if diff := cmp.Diff(want, *got); diff != "" {
		t.Errorf("lock mismatch after reload (-want +got):\n%s", diff)
	}
}

func TestRollbackLeavesFileUntouched(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "snapshot.json")
	b := New(path)

	tx, _ := b.Begin(ctx)
	tx.Add(ctx, testLock("/a/", "opaquelocktoken:a"))
	tx.Rollback()

	check, _ := b.Begin(ctx)
	defer check.Rollback()
	locks, err := check.ActiveLocks(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(locks) != 0 {
		t.Errorf("rolled back insert persisted: %v", locks)
	}
}

func TestConcurrentCommitConflict(t *testing.T) {
	ctx := context.Background()
	b := New(filepath.Join(t.TempDir(), "snapshot.json"))

	tx1, _ := b.Begin(ctx)
	tx2, _ := b.Begin(ctx)
	tx1.Add(ctx, testLock("/a/", "opaquelocktoken:a"))
	tx2.Add(ctx, testLock("/b/", "opaquelocktoken:b"))

	if err := tx1.Commit(ctx); err != nil {
		t.Fatalf("first commit: %v", err)
	}
	if err := tx2.Commit(ctx); err == nil {
		t.Fatal("second overlapping commit succeeded; want conflict")
	}
}

func TestRemoveAndUpdate(t *testing.T) {
	ctx := context.Background()
	b := New(filepath.Join(t.TempDir(), "snapshot.json"))

	tx, _ := b.Begin(ctx)
	tx.Add(ctx, testLock("/a/", "opaquelocktoken:a"))
	tx.Add(ctx, testLock("/b/", "opaquelocktoken:b"))
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("seed: %v", err)
	}

	tx2, _ := b.Begin(ctx)
	if removed, err := tx2.Remove(ctx, "opaquelocktoken:a"); err != nil || !removed {
		t.Fatalf("remove = %v, %v", removed, err)
	}
	refreshed := testLock("/b/", "opaquelocktoken:b")
	refreshed.Timeout = 5 * time.Minute
	if replaced, err := tx2.Update(ctx, refreshed); err != nil || !replaced {
		t.Fatalf("update = %v, %v", replaced, err)
	}
	if err := tx2.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	check, _ := b.Begin(ctx)
	defer check.Rollback()
	locks, _ := check.ActiveLocks(ctx)
	if len(locks) != 1 || locks[0].Timeout != 5*time.Minute {
		t.Errorf("locks after mutation = %+v; want one with 5m timeout", locks)
	}
}
