// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// Copyright 2024 WJQSERVER. All rights reserved.
// All rights reserved by WJQSERVER, related rights can be exercised by the infinite-iroha organization.
package davlock

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/fenthope/reco"
)

// ManagerConfig configures a Manager. Backend is required; everything else
// has a default.
type ManagerConfig struct {
	// Backend stores the active-lock set.
	Backend Backend
	// Clock abstracts time; nil means SystemClock.
	Clock Clock
	// Rounding is applied to instants and timeouts; nil means RoundSeconds.
	Rounding Rounding
	// Resolver canonicalizes lock paths; nil means the default resolver
	// with no rewrite hook.
	Resolver *PathResolver
	// Logger may be nil to disable logging.
	Logger *reco.Logger
	// EventBuffer is the per-subscriber channel depth; values below 1 are
	// raised to 16.
	EventBuffer int
}

// Manager orchestrates the lock lifecycle over a Backend: acquire, implicit
// acquire, refresh, release, enumeration, and expiration. All mutation goes
// through one Backend transaction per operation; lifecycle events publish
// only after the transaction committed.
type Manager struct {
	backend Backend
	clock   Clock
	round   Rounding
	pr      *PathResolver
	logger  *reco.Logger

	bus         *eventBus
	cleaner     *cleaner
	eventBuffer int
	closed      atomic.Bool
}

// NewManager starts a manager, arming the cleanup queue from whatever lock
// set the backend already holds so that expirations survive restarts.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Backend == nil {
		return nil, errors.New("davlock: ManagerConfig.Backend is required")
	}
	m := &Manager{
		backend:     cfg.Backend,
		clock:       cfg.Clock,
		round:       cfg.Rounding,
		pr:          cfg.Resolver,
		logger:      cfg.Logger,
		bus:         newEventBus(),
		eventBuffer: cfg.EventBuffer,
	}
	if m.clock == nil {
		m.clock = SystemClock
	}
	if m.round == nil {
		m.round = RoundSeconds
	}
	if m.pr == nil {
		m.pr = defaultResolver
	}
	if m.eventBuffer < 1 {
		m.eventBuffer = 16
	}
	m.cleaner = newCleaner(m, m.clock)

	locks, err := m.Locks(context.Background())
	if err != nil {
		m.cleaner.Close()
		return nil, fmt.Errorf("davlock: reconcile on start: %w", err)
	}
	for _, l := range locks {
		m.cleaner.Add(l)
	}
	return m, nil
}

// Close stops the cleanup actor and closes all event channels. Pending
// operations fail with ErrManagerClosed afterwards.
func (m *Manager) Close() error {
	if m.closed.Swap(true) {
		return nil
	}
	m.cleaner.Close()
	m.bus.close()
	return nil
}

// Subscribe registers for lifecycle events. The channel receives LockAdded
// and LockReleased in commit order; delivery is best-effort and an event is
// dropped for a subscriber whose buffer is full. The channel closes when
// the subscriber is unsubscribed or the manager closes.
func (m *Manager) Subscribe() <-chan Event {
	return m.bus.subscribe(m.eventBuffer)
}

// Unsubscribe removes a subscription made with Subscribe.
func (m *Manager) Unsubscribe(ch <-chan Event) {
	m.bus.unsubscribe(ch)
}

// LockResult is the outcome of an acquire: exactly one of Lock and
// Conflicts is set.
type LockResult struct {
	// Lock is the freshly created lock on success.
	Lock *ActiveLock
	// Conflicts carries the offending locks on failure.
	Conflicts *LockStatus
}

// Acquired reports whether the lock was granted.
func (r LockResult) Acquired() bool { return r.Lock != nil }

// Lock acquires a lock, or reports the locks standing in the way. The
// conflict check and the insert happen inside one backend transaction.
func (m *Manager) Lock(ctx context.Context, req LockRequest) (LockResult, error) {
	if m.closed.Load() {
		return LockResult{}, ErrManagerClosed
	}
	tx, err := m.backend.Begin(ctx)
	if err != nil {
		return LockResult{}, backendErr("begin", err)
	}
	res, err := m.lockInTx(ctx, tx, req)
	if err != nil || !res.Acquired() {
		rollback(tx)
		return res, err
	}
	if err := tx.Commit(ctx); err != nil {
		return LockResult{}, backendErr("commit", err)
	}
	m.committed(Event{Type: LockAdded, Lock: *res.Lock})
	return res, nil
}

// lockInTx runs the conflict check and staging inside tx. The caller owns
// commit and rollback.
func (m *Manager) lockInTx(ctx context.Context, tx Transaction, req LockRequest) (LockResult, error) {
	locks, err := tx.ActiveLocks(ctx)
	if err != nil {
		return LockResult{}, backendErr("read locks", err)
	}
	reqURL := m.pr.BuildURL(req.Path, false)
	status := Find(locks, m.pr, reqURL, req.Recursive, true)
	if conflicts := ConflictingLocks(status, req.Share); !conflicts.Empty() {
		return LockResult{Conflicts: &conflicts}, nil
	}
	lock, err := newActiveLock(req, m.clock.Now(), m.round)
	if err != nil {
		return LockResult{}, err
	}
	ok, err := tx.Add(ctx, lock)
	if err != nil {
		return LockResult{}, backendErr("add", err)
	}
	if !ok {
		return LockResult{}, fmt.Errorf("%w: state token %q already present", ErrBackend, lock.Token)
	}
	return LockResult{Lock: &lock}, nil
}

// ImplicitLockKind discriminates the outcome of LockImplicit.
type ImplicitLockKind uint8

const (
	// ImplicitNone means the client's conditions failed without touching
	// any active lock; no lock exists or was created for the request.
	ImplicitNone ImplicitLockKind = iota
	// ImplicitAcquired means a fresh lock was created on behalf of the
	// request; the caller must release it when the request completes.
	ImplicitAcquired
	// ImplicitViaExisting means the client's own tokens already cover the
	// requirement; no lock was created.
	ImplicitViaExisting
	// ImplicitConflict means other parties' locks block the requirement.
	ImplicitConflict
)

// ImplicitLock is the outcome of an implicit acquire.
type ImplicitLock struct {
	Kind ImplicitLockKind
	// Lock is set for ImplicitAcquired.
	Lock *ActiveLock
	// Existing holds, for ImplicitViaExisting, exactly the locks that
	// satisfied the winning list's non-negated token conditions.
	Existing []ActiveLock
	// Conflicts is set for ImplicitConflict.
	Conflicts *LockStatus
}

// LockImplicit decides whether the tokens presented in the If headers
// already satisfy the lock requirement, or whether a fresh lock must be
// created on behalf of the request. fs is consulted lazily, only for lists
// whose conditions mention entity tags; it may be nil, in which case those
// conditions evaluate against an unknown tag.
func (m *Manager) LockImplicit(ctx context.Context, fs FileSystem, headers []IfHeader, req LockRequest) (ImplicitLock, error) {
	if m.closed.Load() {
		return ImplicitLock{}, ErrManagerClosed
	}
	var lists []IfList
	for _, h := range headers {
		lists = append(lists, h.Lists...)
	}

	tx, err := m.backend.Begin(ctx)
	if err != nil {
		return ImplicitLock{}, backendErr("begin", err)
	}
	locks, err := tx.ActiveLocks(ctx)
	if err != nil {
		rollback(tx)
		return ImplicitLock{}, backendErr("read locks", err)
	}

	reqURL := m.pr.BuildURL(req.Path, false)
	affecting := Find(locks, m.pr, reqURL, req.Recursive, true).All()

	var (
		related       int
		viaExisting   []ActiveLock
		plainSuccess  bool
		conflictLocks []ActiveLock
		seenConflict  = map[string]bool{}
	)
	for _, list := range lists {
		listURL := reqURL
		if list.Tagged() {
			listURL = m.pr.BuildURL(list.Path, false)
			// A tag relates to the required scope when the two could share
			// locks in either direction; the tag's own depth is unknown, so
			// it is probed as recursive.
			if Compare(reqURL, req.Recursive, listURL, true) == NoMatch && !EqualResource(reqURL, listURL) {
				continue
			}
		}
		related++

		info := newPathInfo(m.pr.PathOf(listURL), coveringLocks(m.pr, affecting, listURL))
		if list.RequiresEntityTag() {
			if err := m.fetchEntityTag(ctx, fs, info); err != nil {
				rollback(tx)
				return ImplicitLock{}, err
			}
		}
		if list.Match(info.EntityTag, info.HasToken) {
			if viaExisting == nil && list.RequiresStateToken() {
				for _, token := range list.StateTokens() {
					if l, ok := info.ByToken[token]; ok {
						viaExisting = append(viaExisting, l)
					}
				}
			}
			plainSuccess = true
			continue
		}
		for _, l := range info.Locks {
			if !seenConflict[l.Token] {
				seenConflict[l.Token] = true
				conflictLocks = append(conflictLocks, l)
			}
		}
	}

	switch {
	case len(viaExisting) > 0:
		rollback(tx)
		return ImplicitLock{Kind: ImplicitViaExisting, Existing: viaExisting}, nil
	case plainSuccess || related == 0:
		res, err := m.lockInTx(ctx, tx, req)
		if err != nil {
			rollback(tx)
			return ImplicitLock{}, err
		}
		if !res.Acquired() {
			rollback(tx)
			return ImplicitLock{Kind: ImplicitConflict, Conflicts: res.Conflicts}, nil
		}
		if err := tx.Commit(ctx); err != nil {
			return ImplicitLock{}, backendErr("commit", err)
		}
		m.committed(Event{Type: LockAdded, Lock: *res.Lock})
		return ImplicitLock{Kind: ImplicitAcquired, Lock: res.Lock}, nil
	case len(conflictLocks) > 0:
		rollback(tx)
		// The client named these locks; they report as reference conflicts
		// regardless of their position around the request path.
		return ImplicitLock{Kind: ImplicitConflict, Conflicts: &LockStatus{ReferenceLocks: conflictLocks}}, nil
	default:
		rollback(tx)
		return ImplicitLock{Kind: ImplicitNone}, nil
	}
}

// RefreshResult is the outcome of a refresh. Refreshed is non-empty on
// success; otherwise FailedHrefs names the lists that found no matching
// lock and PreconditionCode carries the RFC 4918 error code for the
// response body.
type RefreshResult struct {
	Refreshed        []ActiveLock
	FailedHrefs      []string
	PreconditionCode string
}

// Refresh restarts the lifetime of the locks named by the If header's
// token-bearing lists. Tagged lists match only locks covering the tagged
// path; untagged lists match by token across the whole set. A missing
// resource is tolerated during entity-tag evaluation.
func (m *Manager) Refresh(ctx context.Context, fs FileSystem, header IfHeader, timeout time.Duration) (RefreshResult, error) {
	if m.closed.Load() {
		return RefreshResult{}, ErrManagerClosed
	}
	tx, err := m.backend.Begin(ctx)
	if err != nil {
		return RefreshResult{}, backendErr("begin", err)
	}
	locks, err := tx.ActiveLocks(ctx)
	if err != nil {
		rollback(tx)
		return RefreshResult{}, backendErr("read locks", err)
	}

	now := m.round.Instant(m.clock.Now())
	rounded := m.round.Timeout(timeout)

	var failed []string
	staged := map[string]ActiveLock{}
	originals := map[string]ActiveLock{}
	for _, list := range header.Lists {
		if !list.RequiresStateToken() {
			continue
		}
		covering := locks
		if list.Tagged() {
			covering = coveringLocks(m.pr, locks, m.pr.BuildURL(list.Path, false))
		}
		info := newPathInfo(list.Path, covering)
		if len(info.Locks) == 0 {
			failed = append(failed, listHref(list))
			continue
		}
		if list.Tagged() && list.RequiresEntityTag() {
			if err := m.fetchEntityTag(ctx, fs, info); err != nil {
				rollback(tx)
				return RefreshResult{}, err
			}
		}
		if !list.Match(info.EntityTag, info.HasToken) {
			failed = append(failed, listHref(list))
			continue
		}
		var match *ActiveLock
		unique := true
		for _, token := range list.StateTokens() {
			if l, ok := info.ByToken[token]; ok {
				if match != nil && match.Token != l.Token {
					unique = false
					break
				}
				held := l
				match = &held
			}
		}
		if match == nil || !unique {
			failed = append(failed, listHref(list))
			continue
		}
		originals[match.Token] = *match
		staged[match.Token] = match.Refreshed(now, rounded)
	}

	if len(staged) == 0 {
		rollback(tx)
		return RefreshResult{
			FailedHrefs:      failed,
			PreconditionCode: PreconditionLockTokenMatchesRequestURI,
		}, nil
	}

	// The staged locks leave the cleanup queue while the update is in
	// flight; a failed commit re-arms them under their old deadlines.
	rearmOriginals := func() {
		for _, l := range originals {
			m.cleaner.Add(l)
		}
	}
	result := RefreshResult{Refreshed: make([]ActiveLock, 0, len(staged))}
	for _, l := range staged {
		m.cleaner.Remove(l)
		if _, err := tx.Update(ctx, l); err != nil {
			rollback(tx)
			rearmOriginals()
			return RefreshResult{}, backendErr("update", err)
		}
		result.Refreshed = append(result.Refreshed, l)
	}
	if err := tx.Commit(ctx); err != nil {
		rearmOriginals()
		return RefreshResult{}, backendErr("commit", err)
	}
	for _, l := range result.Refreshed {
		m.cleaner.Add(l)
	}
	m.debugf("refreshed %d lock(s), timeout %v", len(result.Refreshed), rounded)
	return result, nil
}

// ReleaseStatus discriminates the outcome of Release.
type ReleaseStatus uint8

const (
	// Released means the lock was removed.
	Released ReleaseStatus = iota
	// NoLock means no active lock carries the state token.
	NoLock
	// InvalidLockRange means the named path does not reference the lock's
	// own scope: a deep lock is released by naming its root, never a
	// descendant.
	InvalidLockRange
)

func (s ReleaseStatus) String() string {
	switch s {
	case NoLock:
		return "no-lock"
	case InvalidLockRange:
		return "invalid-lock-range"
	default:
		return "released"
	}
}

// ReleaseResult is the outcome of Release; Lock is set when Released.
type ReleaseResult struct {
	Status ReleaseStatus
	Lock   *ActiveLock
}

// Release removes the lock carrying token, provided path references the
// lock's scope exactly; a trailing collection slash on either side is
// ignored.
func (m *Manager) Release(ctx context.Context, path, token string) (ReleaseResult, error) {
	if m.closed.Load() {
		return ReleaseResult{}, ErrManagerClosed
	}
	tx, err := m.backend.Begin(ctx)
	if err != nil {
		return ReleaseResult{}, backendErr("begin", err)
	}
	lock, err := tx.Get(ctx, token)
	if err != nil {
		rollback(tx)
		return ReleaseResult{}, backendErr("get", err)
	}
	if lock == nil {
		rollback(tx)
		return ReleaseResult{Status: NoLock}, nil
	}
	lockURL := m.pr.BuildURL(lock.Path, false)
	reqURL := m.pr.BuildURL(path, false)
	if Compare(lockURL, lock.Recursive, reqURL, false) != Reference && !EqualResource(lockURL, reqURL) {
		rollback(tx)
		return ReleaseResult{Status: InvalidLockRange}, nil
	}
	if _, err := tx.Remove(ctx, token); err != nil {
		rollback(tx)
		return ReleaseResult{}, backendErr("remove", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return ReleaseResult{}, backendErr("commit", err)
	}
	m.cleaner.Remove(*lock)
	m.committed(Event{Type: LockReleased, Lock: *lock})
	return ReleaseResult{Status: Released, Lock: lock}, nil
}

// ReleaseAll removes every lock at or under path, the purge a handler runs
// after deleting a resource subtree. It returns the released locks.
func (m *Manager) ReleaseAll(ctx context.Context, path string) ([]ActiveLock, error) {
	if m.closed.Load() {
		return nil, ErrManagerClosed
	}
	tx, err := m.backend.Begin(ctx)
	if err != nil {
		return nil, backendErr("begin", err)
	}
	locks, err := tx.ActiveLocks(ctx)
	if err != nil {
		rollback(tx)
		return nil, backendErr("read locks", err)
	}
	status := Find(locks, m.pr, m.pr.BuildURL(path, false), true, false)
	victims := append(status.ReferenceLocks, status.ChildLocks...)
	if len(victims) == 0 {
		rollback(tx)
		return nil, nil
	}
	for _, l := range victims {
		if _, err := tx.Remove(ctx, l.Token); err != nil {
			rollback(tx)
			return nil, backendErr("remove", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, backendErr("commit", err)
	}
	for _, l := range victims {
		m.cleaner.Remove(l)
		m.committed(Event{Type: LockReleased, Lock: l})
	}
	return victims, nil
}

// Locks returns every committed active lock.
func (m *Manager) Locks(ctx context.Context) ([]ActiveLock, error) {
	if m.closed.Load() {
		return nil, ErrManagerClosed
	}
	tx, err := m.backend.Begin(ctx)
	if err != nil {
		return nil, backendErr("begin", err)
	}
	defer rollback(tx)
	locks, err := tx.ActiveLocks(ctx)
	if err != nil {
		return nil, backendErr("read locks", err)
	}
	return locks, nil
}

// AffectedLocks returns the locks whose scope touches path, flattened in
// parent, reference, child order.
func (m *Manager) AffectedLocks(ctx context.Context, path string, findChildren, findParents bool) ([]ActiveLock, error) {
	if m.closed.Load() {
		return nil, ErrManagerClosed
	}
	locks, err := m.Locks(ctx)
	if err != nil {
		return nil, err
	}
	return Find(locks, m.pr, m.pr.BuildURL(path, false), findChildren, findParents).All(), nil
}

// LockByToken returns the active lock carrying token, or ErrNoSuchLock.
func (m *Manager) LockByToken(ctx context.Context, token string) (ActiveLock, error) {
	if m.closed.Load() {
		return ActiveLock{}, ErrManagerClosed
	}
	tx, err := m.backend.Begin(ctx)
	if err != nil {
		return ActiveLock{}, backendErr("begin", err)
	}
	defer rollback(tx)
	lock, err := tx.Get(ctx, token)
	if err != nil {
		return ActiveLock{}, backendErr("get", err)
	}
	if lock == nil {
		return ActiveLock{}, ErrNoSuchLock
	}
	return *lock, nil
}

// DiscoverLock returns the nearest lock covering path: the lock on the
// longest path that equals path or recursively contains it. Lock discovery
// for PROPFIND responses wants the one effective lock, not the whole
// neighborhood. ErrNoSuchLock when nothing covers the path.
func (m *Manager) DiscoverLock(ctx context.Context, path string) (ActiveLock, error) {
	if m.closed.Load() {
		return ActiveLock{}, ErrManagerClosed
	}
	locks, err := m.Locks(ctx)
	if err != nil {
		return ActiveLock{}, err
	}
	target := m.pr.BuildURL(path, false)
	var best *ActiveLock
	for _, l := range coveringLocks(m.pr, locks, target) {
		if best == nil || len(l.Path) > len(best.Path) {
			held := l
			best = &held
		}
	}
	if best == nil {
		return ActiveLock{}, ErrNoSuchLock
	}
	return *best, nil
}

// releaseExpired is the cleanup actor's re-entry point. The transaction
// arbitrates against concurrent refreshes: a lock that gained lifetime
// since it was queued is returned for the actor to re-arm instead of being
// released.
func (m *Manager) releaseExpired(lock ActiveLock) (rearm *ActiveLock) {
	if m.closed.Load() {
		return nil
	}
	ctx := context.Background()
	tx, err := m.backend.Begin(ctx)
	if err != nil {
		m.warnf("expire %s: begin: %v", lock.Token, err)
		return nil
	}
	current, err := tx.Get(ctx, lock.Token)
	if err != nil {
		rollback(tx)
		m.warnf("expire %s: get: %v", lock.Token, err)
		return nil
	}
	if current == nil {
		rollback(tx)
		return nil
	}
	if current.ExpiresAt().After(m.clock.Now()) {
		rollback(tx)
		return current
	}
	if _, err := tx.Remove(ctx, lock.Token); err != nil {
		rollback(tx)
		m.warnf("expire %s: remove: %v", lock.Token, err)
		return nil
	}
	if err := tx.Commit(ctx); err != nil {
		m.warnf("expire %s: commit: %v", lock.Token, err)
		return nil
	}
	m.infof("lock on %s expired, token %s", current.Path, current.Token)
	m.bus.publish(Event{Type: LockReleased, Lock: *current})
	return nil
}

// committed runs the post-commit side effects of a mutation. Failures here
// never undo the commit.
func (m *Manager) committed(e Event) {
	if e.Type == LockAdded {
		m.cleaner.Add(e.Lock)
		m.infof("lock added on %s, token %s, expires %s", e.Lock.Path, e.Lock.Token, e.Lock.ExpiresAt().Format(time.RFC3339))
	} else {
		m.infof("lock released on %s, token %s", e.Lock.Path, e.Lock.Token)
	}
	m.bus.publish(e)
}

// fetchEntityTag fills info.EntityTag from fs once. A missing resource is
// tolerated: the tag stays empty and conditions on it evaluate as such.
func (m *Manager) fetchEntityTag(ctx context.Context, fs FileSystem, info *PathInfo) error {
	if info.EntityTagKnown {
		return nil
	}
	info.EntityTagKnown = true
	if fs == nil {
		return nil
	}
	res, err := fs.Select(ctx, info.Path)
	if err != nil {
		return fmt.Errorf("davlock: select %s: %w", info.Path, err)
	}
	if res == nil {
		m.warnf("entity tag for %s: resource missing, skipping fetch", info.Path)
		return nil
	}
	etag, ok, err := res.EntityTag(ctx)
	if err != nil {
		return fmt.Errorf("davlock: entity tag %s: %w", info.Path, err)
	}
	if ok {
		info.EntityTag = etag
	}
	return nil
}

// coveringLocks returns the locks whose scope contains target: locks on
// the target itself, and recursive locks above it.
func coveringLocks(pr *PathResolver, locks []ActiveLock, target string) []ActiveLock {
	var out []ActiveLock
	for _, l := range locks {
		lockURL := pr.BuildURL(l.Path, false)
		switch Compare(lockURL, l.Recursive, target, false) {
		case Reference, LeftIsParent:
			out = append(out, l)
		default:
			if EqualResource(lockURL, target) {
				out = append(out, l)
			}
		}
	}
	return out
}

// listHref names a list in a refresh failure response: the resource tag
// when present, the asserted token otherwise.
func listHref(list IfList) string {
	if list.Tagged() {
		return list.ResourceTag
	}
	if tokens := list.StateTokens(); len(tokens) > 0 {
		return tokens[0]
	}
	return ""
}

func backendErr(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrBackend, op, err)
}

func (m *Manager) debugf(format string, args ...any) {
	if m.logger != nil {
		m.logger.Debugf(format, args...)
	}
}

func (m *Manager) infof(format string, args ...any) {
	if m.logger != nil {
		m.logger.Infof(format, args...)
	}
}

func (m *Manager) warnf(format string, args ...any) {
	if m.logger != nil {
		m.logger.Warnf(format, args...)
	}
}
