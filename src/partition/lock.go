package partition

import (
	"sync"

	"recon-server/src/models"
)

// keyLocks hands out non-blocking per-record write locks.
type keyLocks struct {
	mu   sync.Mutex
	held map[models.RecordKey]struct{}
}

func newKeyLocks() *keyLocks {
	return &keyLocks{held: make(map[models.RecordKey]struct{})}
}

func (l *keyLocks) tryLock(key models.RecordKey) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[key]; busy {
		return false
	}
	l.held[key] = struct{}{}
	return true
}

func (l *keyLocks) unlock(key models.RecordKey) {
	l.mu.Lock()
	delete(l.held, key)
	l.mu.Unlock()
}

// tryLockAll takes every key or none of them.
func (l *keyLocks) tryLockAll(keys []models.RecordKey) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, key := range keys {
		if _, busy := l.held[key]; busy {
			return false
		}
	}
	for _, key := range keys {
		l.held[key] = struct{}{}
	}
	return true
}

func (l *keyLocks) unlockAll(keys []models.RecordKey) {
	l.mu.Lock()
	for _, key := range keys {
		delete(l.held, key)
	}
	l.mu.Unlock()
}
