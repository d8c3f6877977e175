package filestore

import "sync"

// lockTable hands out one mutex per article id. Entries are dropped once no
// goroutine holds or waits on them.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*idLock
}

type idLock struct {
	mu   sync.Mutex
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*idLock)}
}

func (t *lockTable) lock(id string) (unlock func()) {
	t.mu.Lock()
	l, ok := t.locks[id]
	if !ok {
		l = &idLock{}
		t.locks[id] = l
	}
	l.refs++
	t.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		t.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(t.locks, id)
		}
		t.mu.Unlock()
	}
}

func (t *lockTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}
