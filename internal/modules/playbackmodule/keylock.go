package playbackmodule

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
)

// PathLocker serializes work per output path. Locks are created on first
// use, reference-counted, and discarded once nobody holds or waits on them.
// Keys hash into a fixed number of slots, so memory stays bounded at the
// cost of occasional incidental contention between unrelated paths.
type PathLocker struct {
	mu       sync.Mutex
	slots    map[uint32]*pathLock
	poolSize uint32
}

type pathLock struct {
	ch   chan struct{} // capacity 1, holds the lock token
	refs int
}

// NewPathLocker creates a locker with the given slot bound (minimum 1)
func NewPathLocker(poolSize int) *PathLocker {
	if poolSize < 1 {
		poolSize = 1
	}
	return &PathLocker{
		slots:    make(map[uint32]*pathLock),
		poolSize: uint32(poolSize),
	}
}

// Acquire blocks until the lock for key is held or ctx is done. The
// returned release function must be called exactly once. Keys are
// case-insensitive to match the registry's path index.
func (l *PathLocker) Acquire(ctx context.Context, key string) (func(), error) {
	slot := l.slotFor(key)

	l.mu.Lock()
	e := l.slots[slot]
	if e == nil {
		e = &pathLock{ch: make(chan struct{}, 1)}
		l.slots[slot] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
		var once sync.Once
		release := func() {
			once.Do(func() {
				<-e.ch
				l.unref(slot, e)
			})
		}
		return release, nil
	case <-ctx.Done():
		l.unref(slot, e)
		return nil, ctx.Err()
	}
}

// TryAcquire takes the lock without blocking; ok=false means it is held
func (l *PathLocker) TryAcquire(key string) (func(), bool) {
	slot := l.slotFor(key)

	l.mu.Lock()
	e := l.slots[slot]
	if e == nil {
		e = &pathLock{ch: make(chan struct{}, 1)}
		l.slots[slot] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-e.ch
				l.unref(slot, e)
			})
		}, true
	default:
		l.unref(slot, e)
		return nil, false
	}
}

func (l *PathLocker) unref(slot uint32, e *pathLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs <= 0 {
		delete(l.slots, slot)
	}
}

func (l *PathLocker) slotFor(key string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(strings.ToLower(key)))
	return h.Sum32() % l.poolSize
}

// ActiveLocks returns the number of live lock slots (tests, introspection)
func (l *PathLocker) ActiveLocks() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
