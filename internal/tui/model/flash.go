package model

import (
	"sync"
	"time"
)

// Flash is a transient status-bar notice (send failure, load error). It
// expires on read rather than by timer so the render loop never races a
// clearing goroutine.
type Flash struct {
	mu      sync.RWMutex
	text    string
	expires time.Time
}

// Set replaces the current notice, visible for the given duration.
func (f *Flash) Set(text string, d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.text = text
	f.expires = time.Now().Add(d)
}

// Get returns the current notice, or empty once it has expired.
func (f *Flash) Get() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if time.Now().After(f.expires) {
		return ""
	}
	return f.text
}
