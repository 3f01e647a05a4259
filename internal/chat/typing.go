package chat

import (
	"sort"
	"sync"
	"time"
)

// typingTracker maintains the set of peers currently typing in the active
// conversation. Every entry carries its own expiry timer mirroring the
// sender's intended timeout, so a lost stop signal cannot leave the
// indicator stuck.
type typingTracker struct {
	mu       sync.Mutex
	timeout  time.Duration
	peers    map[string]*time.Timer
	onChange func()
}

func newTypingTracker(timeout time.Duration, onChange func()) *typingTracker {
	return &typingTracker{
		timeout:  timeout,
		peers:    make(map[string]*time.Timer),
		onChange: onChange,
	}
}

// Touch marks a peer as typing, refreshing its expiry.
func (t *typingTracker) Touch(userID string) {
	t.mu.Lock()
	if timer, ok := t.peers[userID]; ok {
		timer.Reset(t.timeout)
		t.mu.Unlock()
		return
	}
	t.peers[userID] = time.AfterFunc(t.timeout, func() { t.Remove(userID) })
	t.mu.Unlock()
	t.onChange()
}

// Remove drops a peer from the typing set, stopping its timer.
func (t *typingTracker) Remove(userID string) {
	t.mu.Lock()
	timer, ok := t.peers[userID]
	if ok {
		timer.Stop()
		delete(t.peers, userID)
	}
	t.mu.Unlock()
	if ok {
		t.onChange()
	}
}

// Reset clears the whole set, used when switching conversations.
func (t *typingTracker) Reset() {
	t.mu.Lock()
	changed := len(t.peers) > 0
	for id, timer := range t.peers {
		timer.Stop()
		delete(t.peers, id)
	}
	t.mu.Unlock()
	if changed {
		t.onChange()
	}
}

// Peers returns the typing peers in stable order.
func (t *typingTracker) Peers() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.peers))
	for id := range t.peers {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
