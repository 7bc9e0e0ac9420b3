package engine

import (
	"context"
	"sync"
	"time"
)

// lockTable hands out one mutual-exclusion slot per book id.  All
// capacity changes and queue mutations for a book happen inside its
// slot; operations on different books never contend.  Acquisition is
// bounded: a caller that cannot enter within the configured wait gets
// ErrTransientConflict instead of blocking indefinitely.
type lockTable struct {
	mu    sync.Mutex
	slots map[uint64]*bookLock
}

// bookLock is a one-slot semaphore with a reference count.  The count
// tracks holders plus waiters so the entry can be dropped from the
// table once nobody needs it.
type bookLock struct {
	sem  chan struct{}
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{slots: make(map[uint64]*bookLock)}
}

// acquire enters the critical section for a book, waiting at most
// maxWait.  On success it returns a release function that must be
// called exactly once.  On timeout or context cancellation it returns
// ErrTransientConflict.
func (t *lockTable) acquire(ctx context.Context, bookID uint64, maxWait time.Duration) (func(), error) {
	t.mu.Lock()
	l, ok := t.slots[bookID]
	if !ok {
		l = &bookLock{sem: make(chan struct{}, 1)}
		t.slots[bookID] = l
	}
	l.refs++
	t.mu.Unlock()

	timer := time.NewTimer(maxWait)
	defer timer.Stop()

	select {
	case l.sem <- struct{}{}:
		return func() {
			<-l.sem
			t.put(bookID, l)
		}, nil
	case <-timer.C:
		t.put(bookID, l)
		return nil, ErrTransientConflict
	case <-ctx.Done():
		t.put(bookID, l)
		return nil, ErrTransientConflict
	}
}

// put drops one reference and removes the table entry when it was the
// last one.
func (t *lockTable) put(bookID uint64, l *bookLock) {
	t.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(t.slots, bookID)
	}
	t.mu.Unlock()
}
