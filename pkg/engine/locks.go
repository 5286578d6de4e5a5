package engine

import (
	"context"
	"sync"
	"time"

	"github.com/openfroyo/webplane/pkg/errdefs"
	"github.com/openfroyo/webplane/pkg/model"
)

// lockExtendTimeout bounds how long a step waits to extend its operation's
// locks. Two operations extending into each other's subtrees would
// otherwise wait forever; the one that gives up fails its model stage and
// releases.
const lockExtendTimeout = 5 * time.Second

// subtreeLocks serialises operations whose target addresses overlap, i.e.
// one is a prefix of the other. Disjoint subtrees proceed in parallel.
type subtreeLocks struct {
	mu      sync.Mutex
	held    map[uint64][]model.Address
	next    uint64
	changed chan struct{}
}

func newSubtreeLocks() *subtreeLocks {
	return &subtreeLocks{
		held:    make(map[uint64][]model.Address),
		changed: make(chan struct{}),
	}
}

// lockHold is the set of subtrees one operation holds.
type lockHold struct {
	l    *subtreeLocks
	id   uint64
	once sync.Once
}

// acquire blocks until none of addrs overlaps a held address.
func (l *subtreeLocks) acquire(ctx context.Context, addrs []model.Address) (*lockHold, error) {
	addrs = append([]model.Address(nil), addrs...)
	for {
		l.mu.Lock()
		if !l.conflictsLocked(addrs, nil) {
			id := l.next
			l.next++
			l.held[id] = addrs
			l.mu.Unlock()
			return &lockHold{l: l, id: id}, nil
		}
		ch := l.changed
		l.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return nil, lockTimeout(ctx.Err())
		}
	}
}

// release drops every subtree of the hold. It may be called more than once.
func (h *lockHold) release() {
	h.once.Do(func() { h.l.release(h.id) })
}

// extend adds addr to the hold unless a held subtree already contains it,
// waiting for other operations holding an overlapping subtree.
func (h *lockHold) extend(ctx context.Context, addr model.Address) error {
	l := h.l
	var timer <-chan time.Time
	for {
		l.mu.Lock()
		held := l.held[h.id]
		for _, a := range held {
			if addr.HasPrefix(a) {
				l.mu.Unlock()
				return nil
			}
		}
		if !l.conflictsLocked([]model.Address{addr}, &h.id) {
			l.held[h.id] = append(held, addr)
			l.mu.Unlock()
			return nil
		}
		ch := l.changed
		l.mu.Unlock()

		if timer == nil {
			timer = time.After(lockExtendTimeout)
		}
		select {
		case <-ch:
		case <-timer:
			return lockTimeout(nil).WithAddress(addr.String())
		case <-ctx.Done():
			return lockTimeout(ctx.Err()).WithAddress(addr.String())
		}
	}
}

// conflictsLocked reports whether addrs overlap a held address, ignoring
// the hold skip.
func (l *subtreeLocks) conflictsLocked(addrs []model.Address, skip *uint64) bool {
	for id, held := range l.held {
		if skip != nil && id == *skip {
			continue
		}
		for _, h := range held {
			for _, a := range addrs {
				if a.Overlaps(h) {
					return true
				}
			}
		}
	}
	return false
}

func (l *subtreeLocks) release(id uint64) {
	l.mu.Lock()
	delete(l.held, id)
	close(l.changed)
	l.changed = make(chan struct{})
	l.mu.Unlock()
}

func lockTimeout(cause error) *errdefs.Error {
	return errdefs.Wrap(errdefs.ClassInternal, errdefs.CodeTimeout, "timed out waiting for resource lock", cause)
}
