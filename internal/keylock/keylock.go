// Package keylock serializes work per key. Entries live only while someone
// holds or waits on them.
package keylock

import "sync"

type entry struct {
	mu   sync.Mutex
	refs int
}

type Locks struct {
	mu   sync.Mutex
	keys map[string]*entry
}

func New() *Locks {
	return &Locks{keys: make(map[string]*entry)}
}

// Lock blocks until key is free and returns the matching unlock.
func (l *Locks) Lock(key string) func() {
	l.mu.Lock()
	e, ok := l.keys[key]
	if !ok {
		e = &entry{}
		l.keys[key] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.keys, key)
		}
		l.mu.Unlock()
	}
}

// Len reports how many keys are held or awaited.
func (l *Locks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys)
}
