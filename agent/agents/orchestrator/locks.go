package orchestrator

import "sync"

// callerLocks hands out one mutex per caller id and forgets it once no
// event holds or waits on it.
type callerLocks struct {
	mu    sync.Mutex
	locks map[string]*callerLock
}

type callerLock struct {
	mu   sync.Mutex
	refs int
}

func newCallerLocks() *callerLocks {
	return &callerLocks{locks: make(map[string]*callerLock)}
}

func (l *callerLocks) Lock(key string) (unlock func()) {
	l.mu.Lock()
	entry, ok := l.locks[key]
	if !ok {
		entry = &callerLock{}
		l.locks[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()

		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}

func (l *callerLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
