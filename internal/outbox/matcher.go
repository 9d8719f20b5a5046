package outbox

import (
	"strings"
	"sync"
	"time"

	"github.com/Voloshynivskyi/UniMessenger-sub000/internal/store"
)

// Fingerprint identifies a provisional message for confirmation matching:
// the chat key plus the normalized message text. Providers do not echo
// client identifiers on every platform, so text+chat is the stable part.
type Fingerprint string

// NewFingerprint normalizes text (trim, collapse inner whitespace) and
// joins it with the chat key.
func NewFingerprint(key store.ChatKey, text string) Fingerprint {
	return Fingerprint(string(key) + "|" + strings.Join(strings.Fields(text), " "))
}

type entry struct {
	localID   string
	createdAt time.Time
}

// Matcher tracks locally-created messages awaiting server confirmation.
// Each fingerprint holds a FIFO queue so multiple in-flight sends with
// identical text are matched in order. No entry is ever matched twice.
type Matcher struct {
	mu      sync.Mutex
	window  time.Duration
	entries map[Fingerprint][]entry
}

// NewMatcher creates a matcher with the given dedup time window. The
// window tolerates clock and latency skew between the client timestamp
// and the one the provider echoes, while still keeping genuinely distinct
// messages with identical text apart.
func NewMatcher(window time.Duration) *Matcher {
	if window <= 0 {
		window = 10 * time.Second
	}
	return &Matcher{
		window:  window,
		entries: make(map[Fingerprint][]entry),
	}
}

// Register records a provisional send awaiting confirmation.
func (m *Matcher) Register(fp Fingerprint, localID string, createdAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[fp] = append(m.entries[fp], entry{localID: localID, createdAt: createdAt})
}

// TryMatch reconciles a confirmed message against the outbox. Only
// outgoing messages with non-empty text are candidates. The FIFO queue
// for the fingerprint is scanned from the front for the first entry whose
// timestamp is within the dedup window of the confirmation; a match
// removes and returns its local ID. No match means the confirmation is an
// independently-arrived message.
func (m *Matcher) TryMatch(confirmed *store.Message) (string, bool) {
	if confirmed.Direction != store.Outgoing || confirmed.Text == "" {
		return "", false
	}
	fp := NewFingerprint(confirmed.Key(), confirmed.Text)
	ts := time.UnixMilli(confirmed.Date)

	m.mu.Lock()
	defer m.mu.Unlock()
	queue := m.entries[fp]
	for i, e := range queue {
		d := ts.Sub(e.createdAt)
		if d < 0 {
			d = -d
		}
		if d <= m.window {
			m.entries[fp] = append(queue[:i], queue[i+1:]...)
			if len(m.entries[fp]) == 0 {
				delete(m.entries, fp)
			}
			return e.localID, true
		}
	}
	return "", false
}

// Drop removes a single entry by fingerprint and local ID. Used when the
// originating send fails and the provisional message is rolled back.
func (m *Matcher) Drop(fp Fingerprint, localID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	queue := m.entries[fp]
	for i, e := range queue {
		if e.localID == localID {
			m.entries[fp] = append(queue[:i], queue[i+1:]...)
			if len(m.entries[fp]) == 0 {
				delete(m.entries, fp)
			}
			return
		}
	}
}

// DiscardChat drops every in-flight entry for a chat. Entries for a
// closed chat are discarded rather than matched.
func (m *Matcher) DiscardChat(key store.ChatKey) {
	prefix := string(key) + "|"
	m.mu.Lock()
	defer m.mu.Unlock()
	for fp := range m.entries {
		if strings.HasPrefix(string(fp), prefix) {
			delete(m.entries, fp)
		}
	}
}

// Pending returns the number of unconfirmed entries across all chats.
func (m *Matcher) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, q := range m.entries {
		n += len(q)
	}
	return n
}
