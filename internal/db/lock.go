package db

import "sync"

// chatLocks serializes message appends per real chat id so that the
// latest+1 id derivation cannot race between connections. Entries are
// refcounted and removed as soon as the last holder unlocks.
type chatLocks struct {
	mu sync.Mutex
	m  map[int32]*chatLock
}

type chatLock struct {
	mu   sync.Mutex
	refs int
}

// lock blocks until the per-chat mutex is held and returns the unlock.
func (l *chatLocks) lock(chatID int32) func() {
	l.mu.Lock()
	if l.m == nil {
		l.m = make(map[int32]*chatLock)
	}
	e, ok := l.m[chatID]
	if !ok {
		e = &chatLock{}
		l.m[chatID] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.m, chatID)
		}
		l.mu.Unlock()
	}
}
