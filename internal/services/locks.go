package services

import (
	"context"
	"sync"
)

// AppLocks serializes work on one app name across deploys, removals and
// the expiry reaper
type AppLocks struct {
	mu    sync.Mutex
	slots map[string]*appSlot
}

type appSlot struct {
	ch   chan struct{}
	refs int
}

// NewAppLocks creates an empty lock set
func NewAppLocks() *AppLocks {
	return &AppLocks{slots: make(map[string]*appSlot)}
}

// Lock waits until name is free or ctx is done. The returned func releases
// the lock.
func (l *AppLocks) Lock(ctx context.Context, name string) (func(), error) {
	s := l.acquire(name)
	select {
	case s.ch <- struct{}{}:
		return l.unlocker(name, s), nil
	case <-ctx.Done():
		l.release(name, s)
		return nil, ctx.Err()
	}
}

// TryLock takes the lock for name only when nobody holds it
func (l *AppLocks) TryLock(name string) (func(), bool) {
	s := l.acquire(name)
	select {
	case s.ch <- struct{}{}:
		return l.unlocker(name, s), true
	default:
		l.release(name, s)
		return nil, false
	}
}

func (l *AppLocks) acquire(name string) *appSlot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.slots[name]
	if s == nil {
		s = &appSlot{ch: make(chan struct{}, 1)}
		l.slots[name] = s
	}
	s.refs++
	return s
}

func (l *AppLocks) release(name string, s *appSlot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, name)
	}
}

func (l *AppLocks) unlocker(name string, s *appSlot) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			l.release(name, s)
		})
	}
}
