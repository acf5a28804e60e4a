package infrastructure

import (
	"sync"
)

// conversationLock serialises work for one key.
type conversationLock struct {
	mu   sync.Mutex
	refs int
}

// SessionManager hands out per-key locks so that messages from the same
// customer to the same agent are processed one at a time. Locks are
// released from the map once no caller holds or waits on them.
type SessionManager struct {
	locks map[string]*conversationLock
	mu    sync.Mutex
}

func NewSessionManager() *SessionManager {
	return &SessionManager{locks: make(map[string]*conversationLock)}
}

// SessionKey is the lock key for an agent and customer phone.
func SessionKey(agentID, phone string) string {
	return agentID + ":" + phone
}

// Lock blocks until the key is free and returns its unlock function.
func (sm *SessionManager) Lock(key string) func() {
	sm.mu.Lock()
	l, ok := sm.locks[key]
	if !ok {
		l = &conversationLock{}
		sm.locks[key] = l
	}
	l.refs++
	sm.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		sm.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(sm.locks, key)
		}
		sm.mu.Unlock()
	}
}

// Active returns how many keys are held or awaited.
func (sm *SessionManager) Active() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.locks)
}
