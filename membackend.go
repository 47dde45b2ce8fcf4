// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// Copyright 2024 WJQSERVER. All rights reserved.
// All rights reserved by WJQSERVER, related rights can be exercised by the infinite-iroha organization.
package davlock

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// MemBackend is an in-memory lock store. Transactions take a snapshot of
// the set at Begin and publish their mutations at Commit under optimistic
// concurrency: a transaction whose base was overtaken by another commit
// fails, and the caller retries. That gives the atomicity the manager
// relies on without holding a mutex across suspension points.
type MemBackend struct {
	mu      sync.Mutex
	locks   map[string]ActiveLock
	version uint64
}

// NewMemBackend creates an empty in-memory backend.
func NewMemBackend() *MemBackend {
	return &MemBackend{locks: make(map[string]ActiveLock)}
}

// Begin implements Backend.
func (b *MemBackend) Begin(ctx context.Context) (Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	snapshot := make(map[string]ActiveLock, len(b.locks))
	for token, l := range b.locks {
		snapshot[token] = l
	}
	return &memTx{backend: b, base: b.version, locks: snapshot}, nil
}

var errTxDone = errors.New("davlock: transaction finished")

// errConcurrentCommit reports an optimistic concurrency loss.
var errConcurrentCommit = errors.New("davlock: concurrent transaction committed first")

type memTx struct {
	backend *MemBackend
	base    uint64
	locks   map[string]ActiveLock
	mutated bool
	done    bool
}

func (tx *memTx) ActiveLocks(ctx context.Context) ([]ActiveLock, error) {
	if err := tx.check(ctx); err != nil {
		return nil, err
	}
	out := make([]ActiveLock, 0, len(tx.locks))
	for _, l := range tx.locks {
		out = append(out, l)
	}
	// Deterministic order keeps conflict reports stable.
	sort.Slice(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].Token < out[j].Token
	})
	return out, nil
}

func (tx *memTx) Add(ctx context.Context, lock ActiveLock) (bool, error) {
	if err := tx.check(ctx); err != nil {
		return false, err
	}
	if _, exists := tx.locks[lock.Token]; exists {
		return false, nil
	}
	tx.locks[lock.Token] = lock
	tx.mutated = true
	return true, nil
}

func (tx *memTx) Update(ctx context.Context, lock ActiveLock) (bool, error) {
	if err := tx.check(ctx); err != nil {
		return false, err
	}
	_, existed := tx.locks[lock.Token]
	tx.locks[lock.Token] = lock
	tx.mutated = true
	return existed, nil
}

func (tx *memTx) Remove(ctx context.Context, token string) (bool, error) {
	if err := tx.check(ctx); err != nil {
		return false, err
	}
	if _, exists := tx.locks[token]; !exists {
		return false, nil
	}
	delete(tx.locks, token)
	tx.mutated = true
	return true, nil
}

func (tx *memTx) Get(ctx context.Context, token string) (*ActiveLock, error) {
	if err := tx.check(ctx); err != nil {
		return nil, err
	}
	if l, ok := tx.locks[token]; ok {
		return &l, nil
	}
	return nil, nil
}

func (tx *memTx) Commit(ctx context.Context) error {
	if err := tx.check(ctx); err != nil {
		return err
	}
	tx.done = true
	if !tx.mutated {
		return nil
	}
	b := tx.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.version != tx.base {
		return errConcurrentCommit
	}
	b.locks = tx.locks
	b.version++
	return nil
}

func (tx *memTx) Rollback() error {
	tx.done = true
	return nil
}

func (tx *memTx) check(ctx context.Context) error {
	if tx.done {
		return errTxDone
	}
	return ctx.Err()
}
