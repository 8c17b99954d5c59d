package coordinator

import "sync"

type instanceLock struct {
	mu   sync.Mutex
	refs int
}

// instanceLocks serializes work on a single instance while allowing different instances to proceed in
// parallel.
type instanceLocks struct {
	mu    sync.Mutex
	locks map[string]*instanceLock
}

func newInstanceLocks() *instanceLocks {
	return &instanceLocks{
		locks: make(map[string]*instanceLock),
	}
}

func (il *instanceLocks) lock(instanceID string) func() {
	il.mu.Lock()
	l, ok := il.locks[instanceID]
	if !ok {
		l = &instanceLock{}
		il.locks[instanceID] = l
	}
	l.refs++
	il.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()

		il.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(il.locks, instanceID)
		}
		il.mu.Unlock()
	}
}
