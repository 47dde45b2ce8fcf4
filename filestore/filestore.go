// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// Copyright 2024 WJQSERVER. All rights reserved.
// All rights reserved by WJQSERVER, related rights can be exercised by the infinite-iroha organization.

// Package filestore persists the active-lock set as a JSON snapshot on
// disk. A transaction loads the snapshot at Begin and republishes the
// whole set at Commit through a write-temp-rename, so readers never see a
// torn file and a crashed process leaves the previous snapshot intact.
package filestore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-json-experiment/json"

	"github.com/infinite-iroha/davlock"
)

// Backend implements davlock.Backend over a single snapshot file.
type Backend struct {
	path string

	mu      sync.Mutex
	version uint64
}

// New creates a Backend persisting to path. The parent directory is
// created on demand at first commit.
func New(path string) *Backend {
	return &Backend{path: path}
}

// record is the serialized form of one lock.
type record struct {
	Path            string        `json:"path"`
	Href            string        `json:"href"`
	Recursive       bool          `json:"recursive"`
	Owner           string        `json:"owner,omitempty"`
	Access          string        `json:"access"`
	Share           string        `json:"share"`
	Timeout         time.Duration `json:"timeout"`
	IssuedAt        time.Time     `json:"issuedAt"`
	LastRefreshedAt time.Time     `json:"lastRefreshedAt"`
	Token           string        `json:"token"`
}

type snapshot struct {
	Locks []record `json:"locks"`
}

// Begin implements davlock.Backend with the same optimistic concurrency as
// the in-memory backend: the snapshot version observed at Begin must still
// be current at Commit.
func (b *Backend) Begin(ctx context.Context) (davlock.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	locks, err := b.load()
	if err != nil {
		return nil, err
	}
	return &tx{backend: b, base: b.version, locks: locks}, nil
}

func (b *Backend) load() (map[string]davlock.ActiveLock, error) {
	locks := make(map[string]davlock.ActiveLock)
	f, err := os.Open(b.path)
	if os.IsNotExist(err) {
		return locks, nil
	}
	if err != nil {
		return nil, fmt.Errorf("filestore: open: %w", err)
	}
	defer f.Close()
	var snap snapshot
	if err := json.UnmarshalRead(f, &snap); err != nil {
		return nil, fmt.Errorf("filestore: decode %s: %w", b.path, err)
	}
	for _, r := range snap.Locks {
		l, err := decodeRecord(r)
		if err != nil {
			return nil, err
		}
		locks[l.Token] = l
	}
	return locks, nil
}

// store writes the snapshot next to its final name, then renames it over.
func (b *Backend) store(locks map[string]davlock.ActiveLock) error {
	if err := os.MkdirAll(filepath.Dir(b.path), 0755); err != nil {
		return fmt.Errorf("filestore: mkdir: %w", err)
	}
	snap := snapshot{Locks: make([]record, 0, len(locks))}
	for _, l := range locks {
		snap.Locks = append(snap.Locks, encodeRecord(l))
	}
	tmp := b.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("filestore: create temp: %w", err)
	}
	if err := json.MarshalWrite(f, snap); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("filestore: encode: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("filestore: close temp: %w", err)
	}
	if err := os.Rename(tmp, b.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("filestore: rename: %w", err)
	}
	return nil
}

type tx struct {
	backend *Backend
	base    uint64
	locks   map[string]davlock.ActiveLock
	mutated bool
	done    bool
}

func (t *tx) check(ctx context.Context) error {
	if t.done {
		return fmt.Errorf("filestore: transaction finished")
	}
	return ctx.Err()
}

func (t *tx) ActiveLocks(ctx context.Context) ([]davlock.ActiveLock, error) {
	if err := t.check(ctx); err != nil {
		return nil, err
	}
	out := make([]davlock.ActiveLock, 0, len(t.locks))
	for _, l := range t.locks {
		out = append(out, l)
	}
	return out, nil
}

func (t *tx) Add(ctx context.Context, lock davlock.ActiveLock) (bool, error) {
	if err := t.check(ctx); err != nil {
		return false, err
	}
	if _, exists := t.locks[lock.Token]; exists {
		return false, nil
	}
	t.locks[lock.Token] = lock
	t.mutated = true
	return true, nil
}

func (t *tx) Update(ctx context.Context, lock davlock.ActiveLock) (bool, error) {
	if err := t.check(ctx); err != nil {
		return false, err
	}
	_, existed := t.locks[lock.Token]
	t.locks[lock.Token] = lock
	t.mutated = true
	return existed, nil
}

func (t *tx) Remove(ctx context.Context, token string) (bool, error) {
	if err := t.check(ctx); err != nil {
		return false, err
	}
	if _, exists := t.locks[token]; !exists {
		return false, nil
	}
	delete(t.locks, token)
	t.mutated = true
	return true, nil
}

func (t *tx) Get(ctx context.Context, token string) (*davlock.ActiveLock, error) {
	if err := t.check(ctx); err != nil {
		return nil, err
	}
	if l, ok := t.locks[token]; ok {
		return &l, nil
	}
	return nil, nil
}

func (t *tx) Commit(ctx context.Context) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	t.done = true
	if !t.mutated {
		return nil
	}
	b := t.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.version != t.base {
		return fmt.Errorf("filestore: concurrent transaction committed first")
	}
	if err := b.store(t.locks); err != nil {
		return err
	}
	b.version++
	return nil
}

func (t *tx) Rollback() error {
	t.done = true
	return nil
}

func encodeRecord(l davlock.ActiveLock) record {
	return record{
		Path:            l.Path,
		Href:            l.Href,
		Recursive:       l.Recursive,
		Owner:           l.Owner,
		Access:          l.Access.String(),
		Share:           l.Share.String(),
		Timeout:         l.Timeout,
		IssuedAt:        l.IssuedAt,
		LastRefreshedAt: l.LastRefreshedAt,
		Token:           l.Token,
	}
}

func decodeRecord(r record) (davlock.ActiveLock, error) {
	share, err := davlock.ParseShareMode(r.Share)
	if err != nil {
		return davlock.ActiveLock{}, fmt.Errorf("filestore: lock %s: %w", r.Token, err)
	}
	access, err := davlock.ParseAccessType(r.Access)
	if err != nil {
		return davlock.ActiveLock{}, fmt.Errorf("filestore: lock %s: %w", r.Token, err)
	}
	return davlock.ActiveLock{
		Path:            r.Path,
		Href:            r.Href,
		Recursive:       r.Recursive,
		Owner:           r.Owner,
		Access:          access,
		Share:           share,
		Timeout:         r.Timeout,
		IssuedAt:        r.IssuedAt.UTC(),
		LastRefreshedAt: r.LastRefreshedAt.UTC(),
		Token:           r.Token,
	}, nil
}
