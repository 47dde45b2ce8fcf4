// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// Copyright 2024 WJQSERVER. All rights reserved.
// All rights reserved by WJQSERVER, related rights can be exercised by the infinite-iroha organization.
package davlock

import (
	"container/heap"
	"time"
)

// cleaner is the expiration actor. It owns a deadline-ordered queue of
// active locks and a single goroutine that sleeps until the earliest
// deadline, then re-enters the owning manager to release whatever expired.
// The queue is mutated only by that goroutine; Add and Remove enqueue
// messages, making both idempotent and safe from any caller.
type cleaner struct {
	mgr   *Manager
	clock Clock

	ops  chan cleanerOp
	stop chan struct{}
	done chan struct{}
}

type cleanerOp struct {
	remove bool
	lock   ActiveLock
}

func newCleaner(mgr *Manager, clock Clock) *cleaner {
	c := &cleaner{
		mgr:   mgr,
		clock: clock,
		ops:   make(chan cleanerOp, 32),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go c.run()
	return c
}

// Add registers a lock under its current deadline, replacing any earlier
// registration of the same token.
func (c *cleaner) Add(lock ActiveLock) {
	select {
	case c.ops <- cleanerOp{lock: lock}:
	case <-c.stop:
	}
}

// Remove drops a lock from the queue. Unknown tokens are ignored.
func (c *cleaner) Remove(lock ActiveLock) {
	select {
	case c.ops <- cleanerOp{remove: true, lock: lock}:
	case <-c.stop:
	}
}

// Close stops the actor and waits for its goroutine to exit.
func (c *cleaner) Close() {
	close(c.stop)
	<-c.done
}

func (c *cleaner) run() {
	defer close(c.done)

	var q expiryQueue
	byToken := make(map[string]*expiryEntry)

	apply := func(op cleanerOp) {
		e, known := byToken[op.lock.Token]
		if op.remove {
			if known {
				heap.Remove(&q, e.index)
				delete(byToken, op.lock.Token)
			}
			return
		}
		if known {
			e.lock = op.lock
			e.expiresAt = op.lock.ExpiresAt()
			heap.Fix(&q, e.index)
			return
		}
		e = &expiryEntry{lock: op.lock, expiresAt: op.lock.ExpiresAt()}
		heap.Push(&q, e)
		byToken[op.lock.Token] = e
	}

	for {
		var wake <-chan time.Time
		var timer *time.Timer
		if len(q) > 0 {
			d := q[0].expiresAt.Sub(c.clock.Now())
			if d < 0 {
				d = 0
			}
			timer = time.NewTimer(d)
			wake = timer.C
		}

		select {
		case op := <-c.ops:
			apply(op)
		case <-wake:
			// Re-check against the shared clock: the sleep and the lock
			// deadlines may disagree by a rounding step.
			now := c.clock.Now()
			for len(q) > 0 && !q[0].expiresAt.After(now) {
				e := heap.Pop(&q).(*expiryEntry)
				delete(byToken, e.lock.Token)
				if rearm := c.mgr.releaseExpired(e.lock); rearm != nil {
					apply(cleanerOp{lock: *rearm})
				}
			}
		case <-c.stop:
			if timer != nil {
				timer.Stop()
			}
			return
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

type expiryEntry struct {
	lock      ActiveLock
	expiresAt time.Time
	index     int
}

type expiryQueue []*expiryEntry

func (q expiryQueue) Len() int { return len(q) }

func (q expiryQueue) Less(i, j int) bool { return q[i].expiresAt.Before(q[j].expiresAt) }

func (q expiryQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *expiryQueue) Push(x any) {
	e := x.(*expiryEntry)
	e.index = len(*q)
	*q = append(*q, e)
}

func (q *expiryQueue) Pop() any {
	old := *q
	i := len(old) - 1
	e := old[i]
	old[i] = nil
	e.index = -1
	*q = old[:i]
	return e
}
