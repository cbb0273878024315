package services

import (
	"sync"

	"github.com/google/uuid"
)

// assetLocks hands out one mutex per asset id. Entries are reference
// counted and dropped when the last holder unlocks, so the table only
// grows with the number of assets being mutated right now.
type assetLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*assetLock
}

type assetLock struct {
	mu   sync.Mutex
	refs int
}

func newAssetLocks() *assetLocks {
	return &assetLocks{locks: make(map[uuid.UUID]*assetLock)}
}

// Lock blocks until the caller holds the lock for id and returns the
// function releasing it.
func (l *assetLocks) Lock(id uuid.UUID) func() {
	l.mu.Lock()
	lock, ok := l.locks[id]
	if !ok {
		lock = &assetLock{}
		l.locks[id] = lock
	}
	lock.refs++
	l.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()

		l.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}

// size returns the number of ids currently locked or waited on.
func (l *assetLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
