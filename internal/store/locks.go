package store

import "sync"

// LockManager is an arena of per-conversation-id mutexes. Load-modify-save
// sequences against the same conversation are not atomic at the storage
// layer, so every mutating pass for a given id must run under its lock.
// Locks are created on first use and never discarded; the id space is
// bounded by live conversations.
type LockManager struct {
	locks sync.Map // id -> *sync.Mutex
}

// NewLockManager creates an empty lock arena.
func NewLockManager() *LockManager {
	return &LockManager{}
}

// get returns the mutex for the id, creating it if needed.
func (m *LockManager) get(id string) *sync.Mutex {
	if mu, ok := m.locks.Load(id); ok {
		return mu.(*sync.Mutex)
	}
	mu, _ := m.locks.LoadOrStore(id, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// With runs fn while holding the lock for id.
func (m *LockManager) With(id string, fn func() error) error {
	mu := m.get(id)
	mu.Lock()
	defer mu.Unlock()
	return fn()
}
