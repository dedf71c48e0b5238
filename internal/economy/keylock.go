package economy

import (
	"slices"
	"sync"
)

// keyLocks hands out one mutex per (ledger, user) pair. Entries are reference
// counted and dropped when the last holder releases them.
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	sync.Mutex
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[string]*refLock)}
}

func lockKey(ledger, user string) string {
	return ledger + "\x00" + user
}

// lock acquires every key in sorted order so concurrent multi-key callers
// cannot deadlock, and returns the matching release.
func (k *keyLocks) lock(keys ...string) func() {
	sorted := slices.Clone(keys)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	held := make([]*refLock, 0, len(sorted))
	for _, key := range sorted {
		l := k.acquire(key)
		l.Lock()
		held = append(held, l)
	}

	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
			k.release(sorted[i])
		}
	}
}

func (k *keyLocks) acquire(key string) *refLock {
	k.mu.Lock()
	defer k.mu.Unlock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	return l
}

func (k *keyLocks) release(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l := k.locks[key]
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
}

func (k *keyLocks) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
