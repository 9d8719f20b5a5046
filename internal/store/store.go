package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Voloshynivskyi/UniMessenger-sub000/internal/bus"
	"go.uber.org/zap"
)

// HistorySource fetches one backward page of message history for a chat.
// before is an opaque provider cursor; empty means "latest page".
type HistorySource interface {
	FetchPage(ctx context.Context, key ChatKey, before string, limit int) (Page, error)
}

// Store holds the ordered, de-duplicated message list and pagination
// cursor for every chat. It owns this state exclusively; other components
// observe changes through bus events.
type Store struct {
	mu        sync.Mutex
	chats     map[ChatKey]*chatState
	source    HistorySource
	bus       *bus.Bus
	logger    *zap.Logger
	pageSize  int
	retention int
}

type chatState struct {
	msgs        []Message
	cursor      Cursor
	fetching    bool
	initialDone bool
	lastErr     error
	cancel      context.CancelFunc
}

// NewStore creates a message store. pageSize is the history page size
// requested from the source; retention bounds how many messages Clear
// keeps per chat.
func NewStore(source HistorySource, b *bus.Bus, logger *zap.Logger, pageSize, retention int) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pageSize <= 0 {
		pageSize = 50
	}
	if retention <= 0 {
		retention = 50
	}
	return &Store{
		chats:     make(map[ChatKey]*chatState),
		source:    source,
		bus:       b,
		logger:    logger,
		pageSize:  pageSize,
		retention: retention,
	}
}

func (s *Store) state(key ChatKey) *chatState {
	st, ok := s.chats[key]
	if !ok {
		st = &chatState{}
		s.chats[key] = st
	}
	return st
}

// FetchInitial loads the latest history page for a chat and merges it with
// any messages that already arrived via push. At most one initial fetch is
// in flight per chat; concurrent calls are no-ops.
func (s *Store) FetchInitial(ctx context.Context, key ChatKey) error {
	s.mu.Lock()
	st := s.state(key)
	if st.fetching || st.initialDone {
		s.mu.Unlock()
		return nil
	}
	st.fetching = true
	fctx, cancel := context.WithCancel(ctx)
	st.cancel = cancel
	s.mu.Unlock()

	page, err := s.source.FetchPage(fctx, key, "", s.pageSize)

	s.mu.Lock()
	defer s.mu.Unlock()
	st.fetching = false
	st.cancel = nil
	cancel()

	if err != nil {
		st.lastErr = err
		return fmt.Errorf("initial fetch %s: %w", key, err)
	}
	st.lastErr = nil
	st.initialDone = true

	s.mergeLocked(st, page.Messages)
	st.cursor.NextOffset = page.NextOffset
	if len(page.Messages) < s.pageSize || (!page.HasMore && page.NextOffset == "") {
		st.cursor.FullyLoaded = true
	}

	s.publishUpdated(key)
	return nil
}

// FetchOlder loads the next backward page. It is a no-op when the chat is
// fully loaded or a fetch is already in flight. With no cached messages
// and no cursor it behaves like FetchInitial. An empty page marks the chat
// fully loaded without touching the list.
func (s *Store) FetchOlder(ctx context.Context, key ChatKey) error {
	s.mu.Lock()
	st := s.state(key)
	if st.cursor.FullyLoaded || st.fetching {
		s.mu.Unlock()
		return nil
	}
	if len(st.msgs) == 0 && st.cursor.NextOffset == "" && !st.initialDone {
		s.mu.Unlock()
		return s.FetchInitial(ctx, key)
	}

	before := st.cursor.NextOffset
	if before == "" && len(st.msgs) > 0 {
		// No provider cursor recorded yet; page back from the oldest
		// message we hold.
		before = st.msgs[0].ID()
	}

	st.fetching = true
	fctx, cancel := context.WithCancel(ctx)
	st.cancel = cancel
	s.mu.Unlock()

	page, err := s.source.FetchPage(fctx, key, before, s.pageSize)

	s.mu.Lock()
	defer s.mu.Unlock()
	st.fetching = false
	st.cancel = nil
	cancel()

	if err != nil {
		st.lastErr = err
		return fmt.Errorf("older fetch %s: %w", key, err)
	}
	st.lastErr = nil

	if len(page.Messages) == 0 {
		st.cursor.FullyLoaded = true
		return nil
	}

	s.mergeLocked(st, page.Messages)
	st.cursor.NextOffset = page.NextOffset
	if !page.HasMore {
		st.cursor.FullyLoaded = true
	}

	s.publishUpdated(key)
	return nil
}

// Refresh re-fetches the latest page for a chat that already completed
// its initial load and merges it in, closing any gap left by a dropped
// connection. Pagination state is untouched.
func (s *Store) Refresh(ctx context.Context, key ChatKey) error {
	s.mu.Lock()
	st, ok := s.chats[key]
	if !ok || !st.initialDone || st.fetching {
		s.mu.Unlock()
		return nil
	}
	st.fetching = true
	fctx, cancel := context.WithCancel(ctx)
	st.cancel = cancel
	s.mu.Unlock()

	page, err := s.source.FetchPage(fctx, key, "", s.pageSize)

	s.mu.Lock()
	defer s.mu.Unlock()
	st.fetching = false
	st.cancel = nil
	cancel()

	if err != nil {
		st.lastErr = err
		return fmt.Errorf("refresh %s: %w", key, err)
	}
	st.lastErr = nil
	s.mergeLocked(st, page.Messages)

	s.publishUpdated(key)
	return nil
}

// Keys lists every chat the store currently tracks.
func (s *Store) Keys() []ChatKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]ChatKey, 0, len(s.chats))
	for k := range s.chats {
		keys = append(keys, k)
	}
	return keys
}

// AddOrUpdate merges one message into a chat's list. A message carrying a
// TempID that matches a provisional entry replaces it in place; otherwise
// the message is de-duplicated by MsgID and inserted in sorted position.
// Applying the same message twice leaves the list unchanged.
func (s *Store) AddOrUpdate(key ChatKey, msg Message) {
	s.mu.Lock()
	st := s.state(key)
	s.upsertLocked(st, msg)
	s.mu.Unlock()
	s.publishUpdated(key)
}

// Remove deletes a message by its identifier.
func (s *Store) Remove(key ChatKey, id string) {
	s.mu.Lock()
	st := s.state(key)
	for i := range st.msgs {
		if st.msgs[i].ID() == id {
			st.msgs = append(st.msgs[:i], st.msgs[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
	s.publishUpdated(key)
}

// UpdateViews sets the view counter on a held message. Unknown IDs are
// ignored; counters for messages outside the held window arrive again
// with the next history page.
func (s *Store) UpdateViews(key ChatKey, msgID string, views int) {
	s.mu.Lock()
	st, ok := s.chats[key]
	if !ok {
		s.mu.Unlock()
		return
	}
	changed := false
	for i := range st.msgs {
		if st.msgs[i].MsgID == msgID {
			if st.msgs[i].Views != views {
				st.msgs[i].Views = views
				changed = true
			}
			break
		}
	}
	s.mu.Unlock()
	if changed {
		s.publishUpdated(key)
	}
}

// Clear is invoked when a chat is closed. It truncates the list to the
// retention window to bound memory, aborts any in-flight fetch, and
// discards cursor state so a reopen restarts pagination from the server's
// latest page.
func (s *Store) Clear(key ChatKey) {
	s.mu.Lock()
	st, ok := s.chats[key]
	if !ok {
		s.mu.Unlock()
		return
	}
	if st.cancel != nil {
		st.cancel()
		st.cancel = nil
	}
	if len(st.msgs) > s.retention {
		kept := make([]Message, s.retention)
		copy(kept, st.msgs[len(st.msgs)-s.retention:])
		st.msgs = kept
	}
	st.cursor = Cursor{}
	st.fetching = false
	st.initialDone = false
	st.lastErr = nil
	s.mu.Unlock()
	s.publishUpdated(key)
}

// Messages returns a snapshot of a chat's message list, oldest first.
func (s *Store) Messages(key ChatKey) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.chats[key]
	if !ok {
		return nil
	}
	out := make([]Message, len(st.msgs))
	copy(out, st.msgs)
	return out
}

// Cursor returns the chat's pagination cursor.
func (s *Store) Cursor(key ChatKey) Cursor {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.chats[key]
	if !ok {
		return Cursor{}
	}
	return st.cursor
}

// LastErr returns the chat's fetch error state, nil when healthy.
func (s *Store) LastErr(key ChatKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.chats[key]
	if !ok {
		return nil
	}
	return st.lastErr
}

// Fetching reports whether a fetch is in flight for the chat.
func (s *Store) Fetching(key ChatKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.chats[key]
	return ok && st.fetching
}

// upsertLocked applies the AddOrUpdate semantics with s.mu held.
func (s *Store) upsertLocked(st *chatState, msg Message) {
	// Confirmed update for a message we already hold.
	if msg.MsgID != "" {
		for i := range st.msgs {
			if st.msgs[i].MsgID == msg.MsgID {
				st.msgs[i] = msg
				s.dropProvisionalLocked(st, msg.TempID)
				s.resortLocked(st)
				return
			}
		}
	}
	// Confirmation replacing a provisional entry in place.
	if msg.TempID != "" {
		for i := range st.msgs {
			if st.msgs[i].TempID == msg.TempID && st.msgs[i].MsgID == "" {
				st.msgs[i] = msg
				s.resortLocked(st)
				return
			}
		}
	}
	s.insertSortedLocked(st, msg)
}

// dropProvisionalLocked removes a leftover provisional entry once its
// confirmed counterpart already occupies a slot. Without this a replayed
// confirmation could leave both the TempID and MsgID entries in the list.
func (s *Store) dropProvisionalLocked(st *chatState, tempID string) {
	if tempID == "" {
		return
	}
	for i := range st.msgs {
		if st.msgs[i].TempID == tempID && st.msgs[i].MsgID == "" {
			st.msgs = append(st.msgs[:i], st.msgs[i+1:]...)
			return
		}
	}
}

// insertSortedLocked places msg after all entries with Date <= msg.Date,
// preserving insertion order for equal timestamps.
func (s *Store) insertSortedLocked(st *chatState, msg Message) {
	i := sort.Search(len(st.msgs), func(i int) bool {
		return st.msgs[i].Date > msg.Date
	})
	st.msgs = append(st.msgs, Message{})
	copy(st.msgs[i+1:], st.msgs[i:])
	st.msgs[i] = msg
}

func (s *Store) resortLocked(st *chatState) {
	sort.SliceStable(st.msgs, func(i, j int) bool {
		return st.msgs[i].Date < st.msgs[j].Date
	})
}

// mergeLocked folds a fetched page into the list, skipping messages whose
// ID is already present. Push and REST responses race; de-duplication by
// ID makes the merge safe regardless of arrival order.
func (s *Store) mergeLocked(st *chatState, page []Message) {
	seen := make(map[string]struct{}, len(st.msgs))
	for i := range st.msgs {
		seen[st.msgs[i].ID()] = struct{}{}
	}
	for _, m := range page {
		if _, dup := seen[m.ID()]; dup {
			continue
		}
		seen[m.ID()] = struct{}{}
		s.insertSortedLocked(st, m)
	}
}

func (s *Store) publishUpdated(key ChatKey) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(bus.Event{
		Kind:      bus.KindStoreUpdated,
		Timestamp: time.Now(),
		Payload:   key,
	})
}
