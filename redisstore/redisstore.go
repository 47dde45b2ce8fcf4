// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// Copyright 2024 WJQSERVER. All rights reserved.
// All rights reserved by WJQSERVER, related rights can be exercised by the infinite-iroha organization.

// Package redisstore stores the active-lock set in Redis. Each lock is a
// hash keyed by its state token, with a set indexing all tokens and a
// version counter guarded by WATCH so that overlapping transactions cannot
// both commit.
package redisstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/garyburd/redigo/redis"

	"github.com/infinite-iroha/davlock"
)

const (
	tokenPrefix = "t:"

	tokenSetKey = "tokens"
	versionKey  = "v"

	pathField      = "p"
	hrefField      = "h"
	recursiveField = "r"
	ownerField     = "o"
	accessField    = "a"
	shareField     = "s"
	timeoutField   = "d"
	issuedField    = "i"
	refreshedField = "f"

	trueValue  = "t"
	falseValue = "f"
)

// Backend implements davlock.Backend over a redigo connection pool. All
// keys carry the configured prefix so several lock sets can share one
// database.
type Backend struct {
	pool   *redis.Pool
	prefix string
}

// New creates a Backend on pool. prefix may be empty.
func New(pool *redis.Pool, prefix string) *Backend {
	return &Backend{pool: pool, prefix: prefix}
}

func (b *Backend) tokenKey(token string) string { return b.prefix + tokenPrefix + token }

// Begin implements davlock.Backend. The transaction holds one pooled
// connection with the version key under WATCH until Commit or Rollback.
func (b *Backend) Begin(ctx context.Context) (davlock.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	conn := b.pool.Get()
	if err := conn.Err(); err != nil {
		return nil, fmt.Errorf("redisstore: get connection: %w", err)
	}
	if _, err := conn.Do("WATCH", b.prefix+versionKey); err != nil {
		conn.Close()
		return nil, fmt.Errorf("redisstore: watch: %w", err)
	}
	return &tx{backend: b, conn: conn, overlay: make(map[string]*davlock.ActiveLock)}, nil
}

type tx struct {
	backend *Backend
	conn    redis.Conn
	// overlay buffers staged mutations for read-your-writes; a nil entry
	// is a staged removal.
	overlay map[string]*davlock.ActiveLock
	done    bool
}

func (t *tx) check(ctx context.Context) error {
	if t.done {
		return fmt.Errorf("redisstore: transaction finished")
	}
	return ctx.Err()
}

func (t *tx) getStored(token string) (*davlock.ActiveLock, error) {
	vals, err := redis.StringMap(t.conn.Do("HGETALL", t.backend.tokenKey(token)))
	if err != nil {
		return nil, fmt.Errorf("redisstore: hgetall: %w", err)
	}
	if len(vals) == 0 {
		return nil, nil
	}
	return decodeLock(token, vals)
}

func (t *tx) get(token string) (*davlock.ActiveLock, error) {
	if staged, ok := t.overlay[token]; ok {
		return staged, nil
	}
	return t.getStored(token)
}

func (t *tx) ActiveLocks(ctx context.Context) ([]davlock.ActiveLock, error) {
	if err := t.check(ctx); err != nil {
		return nil, err
	}
	tokens, err := redis.Strings(t.conn.Do("SMEMBERS", t.backend.prefix+tokenSetKey))
	if err != nil {
		return nil, fmt.Errorf("redisstore: smembers: %w", err)
	}
	seen := make(map[string]bool, len(tokens))
	var out []davlock.ActiveLock
	for _, token := range tokens {
		seen[token] = true
		l, err := t.get(token)
		if err != nil {
			return nil, err
		}
		if l != nil {
			out = append(out, *l)
		}
	}
	// Staged inserts are not in the stored token set yet.
	for token, staged := range t.overlay {
		if staged != nil && !seen[token] {
			out = append(out, *staged)
		}
	}
	return out, nil
}

func (t *tx) Add(ctx context.Context, lock davlock.ActiveLock) (bool, error) {
	if err := t.check(ctx); err != nil {
		return false, err
	}
	existing, err := t.get(lock.Token)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, nil
	}
	held := lock
	t.overlay[lock.Token] = &held
	return true, nil
}

func (t *tx) Update(ctx context.Context, lock davlock.ActiveLock) (bool, error) {
	if err := t.check(ctx); err != nil {
		return false, err
	}
	existing, err := t.get(lock.Token)
	if err != nil {
		return false, err
	}
	held := lock
	t.overlay[lock.Token] = &held
	return existing != nil, nil
}

func (t *tx) Remove(ctx context.Context, token string) (bool, error) {
	if err := t.check(ctx); err != nil {
		return false, err
	}
	existing, err := t.get(token)
	if err != nil {
		return false, err
	}
	if existing == nil {
		return false, nil
	}
	t.overlay[token] = nil
	return true, nil
}

func (t *tx) Get(ctx context.Context, token string) (*davlock.ActiveLock, error) {
	if err := t.check(ctx); err != nil {
		return nil, err
	}
	return t.get(token)
}

func (t *tx) Commit(ctx context.Context) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	t.done = true
	defer t.conn.Close()

	if len(t.overlay) == 0 {
		_, err := t.conn.Do("UNWATCH")
		return err
	}

	if err := t.conn.Send("MULTI"); err != nil {
		return fmt.Errorf("redisstore: multi: %w", err)
	}
	for token, staged := range t.overlay {
		key := t.backend.tokenKey(token)
		if staged == nil {
			t.conn.Send("DEL", key)
			t.conn.Send("SREM", t.backend.prefix+tokenSetKey, token)
			continue
		}
		t.conn.Send("DEL", key)
		t.conn.Send("HMSET", encodeLock(key, *staged)...)
		t.conn.Send("SADD", t.backend.prefix+tokenSetKey, token)
	}
	t.conn.Send("INCR", t.backend.prefix+versionKey)
	reply, err := t.conn.Do("EXEC")
	if err != nil {
		return fmt.Errorf("redisstore: exec: %w", err)
	}
	if reply == nil {
		// WATCH saw a concurrent commit; the transaction was discarded.
		return fmt.Errorf("redisstore: concurrent transaction committed first")
	}
	return nil
}

func (t *tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.conn.Do("UNWATCH")
	return t.conn.Close()
}

func encodeLock(key string, l davlock.ActiveLock) []interface{} {
	recursive := falseValue
	if l.Recursive {
		recursive = trueValue
	}
	return []interface{}{
		key,
		pathField, l.Path,
		hrefField, l.Href,
		recursiveField, recursive,
		ownerField, l.Owner,
		accessField, l.Access.String(),
		shareField, l.Share.String(),
		timeoutField, int64(l.Timeout),
		issuedField, l.IssuedAt.UnixNano(),
		refreshedField, l.LastRefreshedAt.UnixNano(),
	}
}

func decodeLock(token string, vals map[string]string) (*davlock.ActiveLock, error) {
	share, err := davlock.ParseShareMode(vals[shareField])
	if err != nil {
		return nil, fmt.Errorf("redisstore: lock %s: %w", token, err)
	}
	access, err := davlock.ParseAccessType(vals[accessField])
	if err != nil {
		return nil, fmt.Errorf("redisstore: lock %s: %w", token, err)
	}
	timeout, err := strconv.ParseInt(vals[timeoutField], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("redisstore: lock %s: bad timeout: %w", token, err)
	}
	issued, err := strconv.ParseInt(vals[issuedField], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("redisstore: lock %s: bad issue time: %w", token, err)
	}
	refreshed, err := strconv.ParseInt(vals[refreshedField], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("redisstore: lock %s: bad refresh time: %w", token, err)
	}
	return &davlock.ActiveLock{
		Path:            vals[pathField],
		Href:            vals[hrefField],
		Recursive:       vals[recursiveField] == trueValue,
		Owner:           vals[ownerField],
		Access:          access,
		Share:           share,
		Timeout:         time.Duration(timeout),
		IssuedAt:        time.Unix(0, issued).UTC(),
		LastRefreshedAt: time.Unix(0, refreshed).UTC(),
		Token:           token,
	}, nil
}
