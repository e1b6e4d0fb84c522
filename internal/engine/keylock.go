package engine

import "sync"

// keyLocks hands out one lease per Key. A mutation holds its lease from
// authorization until its terminal outcome. Contenders are parked in arrival
// order and get the lease when the holder releases it, so nobody waits on a
// mutex while another mutation for the same member is in flight.
type keyLocks struct {
	mu     sync.Mutex
	held   map[Key]*mutation
	parked map[Key][]*mutation
}

func newKeyLocks() *keyLocks {
	return &keyLocks{
		held:   make(map[Key]*mutation),
		parked: make(map[Key][]*mutation),
	}
}

// acquire gives m the lease on its key, or parks it behind the current holder.
// It reports whether m now holds the lease. Re-acquiring a lease m already
// holds succeeds.
func (l *keyLocks) acquire(m *mutation) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	holder, busy := l.held[m.key]
	if !busy || holder == m {
		l.held[m.key] = m
		return true
	}

	l.parked[m.key] = append(l.parked[m.key], m)
	return false
}

// release gives up m's lease. If a contender is parked on the key, the lease
// passes to it and it is returned so the caller can resume it.
func (l *keyLocks) release(m *mutation) *mutation {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held[m.key] != m {
		return nil
	}

	queue := l.parked[m.key]
	if len(queue) == 0 {
		delete(l.held, m.key)
		delete(l.parked, m.key)
		return nil
	}

	next := queue[0]
	if len(queue) == 1 {
		delete(l.parked, m.key)
	} else {
		l.parked[m.key] = queue[1:]
	}
	l.held[m.key] = next
	return next
}

// drain removes and returns every parked contender.
func (l *keyLocks) drain() []*mutation {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []*mutation
	for key, queue := range l.parked {
		out = append(out, queue...)
		delete(l.parked, key)
	}
	return out
}

// holder returns the mutation currently holding key.
func (l *keyLocks) holder(key Key) *mutation {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held[key]
}
