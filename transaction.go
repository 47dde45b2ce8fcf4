// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// Copyright 2024 WJQSERVER. All rights reserved.
// All rights reserved by WJQSERVER, related rights can be exercised by the infinite-iroha organization.
package davlock

import "context"

// Backend supplies transactions over the active-lock set. The manager never
// touches lock storage except through a Transaction.
type Backend interface {
	Begin(ctx context.Context) (Transaction, error)
}

// Transaction is one atomic read-mutate-commit unit. Implementations must
// provide read-your-writes inside a transaction and linearizable visibility
// between committed transactions: once Commit returns, every later Begin
// observes the effect. Two overlapping transactions that both mutate may
// not both commit; the loser's Commit fails with an error, which the
// Manager reports wrapped in ErrBackend.
//
// A Transaction that is dropped, or rolled back, discards every staged
// mutation. Rollback after Commit is a no-op.
type Transaction interface {
	// ActiveLocks returns every lock in the set, staged mutations applied.
	ActiveLocks(ctx context.Context) ([]ActiveLock, error)
	// Add inserts a lock. It returns false when the state token is already
	// present, leaving the set unchanged.
	Add(ctx context.Context, lock ActiveLock) (bool, error)
	// Update replaces the lock carrying the same state token, returning
	// true, or inserts it anew, returning false.
	Update(ctx context.Context, lock ActiveLock) (bool, error)
	// Remove deletes the lock with the token, reporting whether it existed.
	Remove(ctx context.Context, token string) (bool, error)
	// Get returns the lock with the token, or nil.
	Get(ctx context.Context, token string) (*ActiveLock, error)
	// Commit atomically publishes the staged mutations.
	Commit(ctx context.Context) error
	// Rollback discards the staged mutations and releases the transaction.
	Rollback() error
}

// rollback discards tx, ignoring the error: the discard path has nothing
// left to fail.
func rollback(tx Transaction) {
	_ = tx.Rollback()
}
