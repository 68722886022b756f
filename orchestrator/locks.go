package orchestrator

import (
	"context"
	"sync"
)

// threadLocks serializes turns by thread id.
// An entry lives while someone holds or waits for it.
type threadLocks struct {
	mu    sync.Mutex
	locks map[string]*threadLock
}

type threadLock struct {
	ch   chan struct{}
	refs int
}

func (l *threadLocks) acquire(ctx context.Context, threadID string) (func(), error) {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*threadLock)
	}
	tl, ok := l.locks[threadID]
	if !ok {
		tl = &threadLock{ch: make(chan struct{}, 1)}
		l.locks[threadID] = tl
	}
	tl.refs++
	l.mu.Unlock()

	select {
	case tl.ch <- struct{}{}:
		return func() {
			<-tl.ch
			l.release(threadID, tl)
		}, nil
	case <-ctx.Done():
		l.release(threadID, tl)
		return nil, ctx.Err()
	}
}

func (l *threadLocks) release(threadID string, tl *threadLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	tl.refs--
	if tl.refs == 0 {
		delete(l.locks, threadID)
	}
}

func (l *threadLocks) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
