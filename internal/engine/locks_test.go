package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockTableExcludesSameBook(t *testing.T) {
	lt := newLockTable()

	release, err := lt.acquire(context.Background(), 1, 50*time.Millisecond)
	require.NoError(t, err)

	_, err = lt.acquire(context.Background(), 1, 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrTransientConflict)

	release()

	release2, err := lt.acquire(context.Background(), 1, 50*time.Millisecond)
	require.NoError(t, err)
	release2()
}

func TestLockTableIndependentBooks(t *testing.T) {
	lt := newLockTable()

	release1, err := lt.acquire(context.Background(), 1, 50*time.Millisecond)
	require.NoError(t, err)
	defer release1()

	// A different book must not contend with book 1's holder.
	release2, err := lt.acquire(context.Background(), 2, 50*time.Millisecond)
	require.NoError(t, err)
	release2()
}

func TestLockTableCancelledContext(t *testing.T) {
	lt := newLockTable()

	release, err := lt.acquire(context.Background(), 1, time.Second)
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = lt.acquire(ctx, 1, time.Minute)
	assert.ErrorIs(t, err, ErrTransientConflict)
}

func TestLockTableDropsIdleEntries(t *testing.T) {
	lt := newLockTable()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(book uint64) {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				release, err := lt.acquire(context.Background(), book%3, time.Second)
				if err != nil {
					continue
				}
				release()
			}
		}(uint64(i))
	}
	wg.Wait()

	lt.mu.Lock()
	defer lt.mu.Unlock()
	assert.Empty(t, lt.slots, "released locks should not linger in the table")
}
