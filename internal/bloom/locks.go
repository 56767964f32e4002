package bloom

import "sync"

// flowerLocks hands out one mutex per flower id. Entries are dropped when
// no caller holds or waits on them.
type flowerLocks struct {
	mu    sync.Mutex
	locks map[string]*flowerLock
}

type flowerLock struct {
	sync.Mutex
	refs int
}

func newFlowerLocks() *flowerLocks {
	return &flowerLocks{locks: make(map[string]*flowerLock)}
}

// Lock blocks until id is free and returns its unlock function.
func (l *flowerLocks) Lock(id string) func() {
	l.mu.Lock()
	fl, ok := l.locks[id]
	if !ok {
		fl = &flowerLock{}
		l.locks[id] = fl
	}
	fl.refs++
	l.mu.Unlock()

	fl.Lock()
	return func() {
		fl.Unlock()
		l.mu.Lock()
		fl.refs--
		if fl.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}

// Len returns the number of live lock entries.
func (l *flowerLocks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
