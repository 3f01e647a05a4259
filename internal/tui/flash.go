package tui

import (
	"sync"
	"time"
)

// flash holds a transient status-bar notice with its expiry.
type flash struct {
	mu      sync.RWMutex
	text    string
	expires time.Time
}

func (f *flash) set(text string, d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.text = text
	f.expires = time.Now().Add(d)
}

func (f *flash) get() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if time.Now().After(f.expires) {
		return ""
	}
	return f.text
}
