package common

import (
	"errors"
	"sync"
)

// ErrReentrant is returned when an entry point is invoked while a prior
// invocation holds the latch.
var ErrReentrant = errors.New("reentrant call")

// Latch is a non-blocking mutual-exclusion flag wrapped around engine entry
// points. Unlike a mutex it fails fast instead of queueing, so a capability
// calling back into the engine mid-algorithm is rejected rather than
// deadlocked.
type Latch struct {
	mu   sync.Mutex
	held bool
}

// Acquire takes the latch, failing with ErrReentrant when already held. The
// caller must pair every successful Acquire with a deferred Release so the
// latch is freed on all exit paths.
func (l *Latch) Acquire() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return ErrReentrant
	}
	l.held = true
	return nil
}

// Release frees the latch. Releasing an idle latch is a no-op.
func (l *Latch) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held = false
}

// Held reports whether the latch is currently taken.
func (l *Latch) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}
