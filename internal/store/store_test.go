package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
)

// fakeSource serves scripted pages keyed by the before cursor.
type fakeSource struct {
	pages map[string]Page
	err   error
	calls []string
}

func (f *fakeSource) FetchPage(_ context.Context, _ ChatKey, before string, _ int) (Page, error) {
	f.calls = append(f.calls, before)
	if f.err != nil {
		return Page{}, f.err
	}
	return f.pages[before], nil
}

func testKey() ChatKey {
	return NewChatKey("telegram", "acc1", "chat1")
}

func msg(id string, date int64) Message {
	return Message{
		Platform: "telegram", AccountID: "acc1", ChatID: "chat1",
		MsgID: id, Text: "m" + id, Date: date, Direction: Incoming,
	}
}

func assertSorted(t *testing.T, msgs []Message) {
	t.Helper()
	if !sort.SliceIsSorted(msgs, func(i, j int) bool { return msgs[i].Date < msgs[j].Date }) {
		t.Errorf("list not sorted by date: %v", msgs)
	}
}

func assertNoDuplicates(t *testing.T, msgs []Message) {
	t.Helper()
	seen := map[string]bool{}
	for _, m := range msgs {
		if m.MsgID != "" && seen[m.MsgID] {
			t.Errorf("duplicate msg id %s", m.MsgID)
		}
		seen[m.MsgID] = true
	}
}

func TestChatKeyParts(t *testing.T) {
	k := NewChatKey("telegram", "acc1", "chat:with:colons")
	platform, acc, chat, err := k.Parts()
	if err != nil {
		t.Fatal(err)
	}
	if platform != "telegram" || acc != "acc1" || chat != "chat:with:colons" {
		t.Errorf("got %s/%s/%s", platform, acc, chat)
	}
	if _, _, _, err := ChatKey("nocolons").Parts(); err == nil {
		t.Error("expected error for malformed key")
	}
}

func TestAddOrUpdateIdempotent(t *testing.T) {
	s := NewStore(&fakeSource{}, nil, nil, 50, 50)
	key := testKey()

	m := msg("1", 1000)
	s.AddOrUpdate(key, m)
	s.AddOrUpdate(key, m)

	got := s.Messages(key)
	if len(got) != 1 {
		t.Fatalf("got %d messages, want 1", len(got))
	}
}

func TestAddOrUpdateSortInvariant(t *testing.T) {
	s := NewStore(&fakeSource{}, nil, nil, 50, 50)
	key := testKey()

	for _, d := range []int64{3000, 1000, 2000, 5000, 4000} {
		s.AddOrUpdate(key, msg(fmt.Sprint(d), d))
	}

	got := s.Messages(key)
	if len(got) != 5 {
		t.Fatalf("got %d messages, want 5", len(got))
	}
	assertSorted(t, got)
}

func TestAddOrUpdateTieInsertionOrder(t *testing.T) {
	s := NewStore(&fakeSource{}, nil, nil, 50, 50)
	key := testKey()

	s.AddOrUpdate(key, msg("a", 1000))
	s.AddOrUpdate(key, msg("b", 1000))
	s.AddOrUpdate(key, msg("c", 1000))

	got := s.Messages(key)
	if got[0].MsgID != "a" || got[1].MsgID != "b" || got[2].MsgID != "c" {
		t.Errorf("tie order broken: %s %s %s", got[0].MsgID, got[1].MsgID, got[2].MsgID)
	}
}

func TestProvisionalCollapse(t *testing.T) {
	s := NewStore(&fakeSource{}, nil, nil, 50, 50)
	key := testKey()

	provisional := Message{
		Platform: "telegram", AccountID: "acc1", ChatID: "chat1",
		TempID: "L1", Text: "hi", Date: 1000,
		Direction: Outgoing, Status: StatusPending,
	}
	s.AddOrUpdate(key, provisional)

	confirmed := provisional
	confirmed.MsgID = "42"
	confirmed.Date = 2000
	confirmed.Status = StatusSent
	s.AddOrUpdate(key, confirmed)

	got := s.Messages(key)
	if len(got) != 1 {
		t.Fatalf("got %d messages, want 1", len(got))
	}
	if got[0].MsgID != "42" || got[0].Status != StatusSent {
		t.Errorf("got id=%q status=%q, want 42/sent", got[0].MsgID, got[0].Status)
	}
	for _, m := range got {
		if m.MsgID == "" && m.TempID == "L1" {
			t.Error("provisional L1 still present after confirmation")
		}
	}
}

func TestConfirmationReplayLeavesSingleEntry(t *testing.T) {
	s := NewStore(&fakeSource{}, nil, nil, 50, 50)
	key := testKey()

	confirmed := msg("42", 2000)
	confirmed.Direction = Outgoing
	confirmed.Status = StatusSent
	confirmed.TempID = "L1"

	// Network replay: same confirmed message twice.
	s.AddOrUpdate(key, confirmed)
	s.AddOrUpdate(key, confirmed)

	got := s.Messages(key)
	if len(got) != 1 {
		t.Fatalf("got %d messages, want 1 after replay", len(got))
	}
	assertNoDuplicates(t, got)
}

func TestRemove(t *testing.T) {
	s := NewStore(&fakeSource{}, nil, nil, 50, 50)
	key := testKey()
	s.AddOrUpdate(key, msg("1", 1000))
	s.AddOrUpdate(key, msg("2", 2000))

	s.Remove(key, "1")

	got := s.Messages(key)
	if len(got) != 1 || got[0].MsgID != "2" {
		t.Errorf("got %v, want only msg 2", got)
	}
}

func TestFetchInitialMergesPushArrivals(t *testing.T) {
	src := &fakeSource{pages: map[string]Page{
		"": {Messages: []Message{msg("1", 1000), msg("2", 2000)}, HasMore: true, NextOffset: "off1"},
	}}
	s := NewStore(src, nil, nil, 2, 50)
	key := testKey()

	// Message 2 arrived via push before the REST fetch resolved.
	s.AddOrUpdate(key, msg("2", 2000))
	s.AddOrUpdate(key, msg("3", 3000))

	if err := s.FetchInitial(context.Background(), key); err != nil {
		t.Fatal(err)
	}

	got := s.Messages(key)
	if len(got) != 3 {
		t.Fatalf("got %d messages, want 3", len(got))
	}
	assertSorted(t, got)
	assertNoDuplicates(t, got)
	if c := s.Cursor(key); c.FullyLoaded {
		t.Error("full page with cursor should not mark fully loaded")
	}
}

func TestFetchInitialShortPageMarksFullyLoaded(t *testing.T) {
	src := &fakeSource{pages: map[string]Page{
		"": {Messages: []Message{msg("1", 1000)}},
	}}
	s := NewStore(src, nil, nil, 50, 50)
	key := testKey()

	if err := s.FetchInitial(context.Background(), key); err != nil {
		t.Fatal(err)
	}
	if !s.Cursor(key).FullyLoaded {
		t.Error("short page should mark chat fully loaded")
	}
}

func TestFetchInitialGuardedAgainstRerun(t *testing.T) {
	src := &fakeSource{pages: map[string]Page{"": {Messages: []Message{msg("1", 1000)}}}}
	s := NewStore(src, nil, nil, 50, 50)
	key := testKey()

	if err := s.FetchInitial(context.Background(), key); err != nil {
		t.Fatal(err)
	}
	if err := s.FetchInitial(context.Background(), key); err != nil {
		t.Fatal(err)
	}
	if len(src.calls) != 1 {
		t.Errorf("source called %d times, want 1", len(src.calls))
	}
}

func TestFetchOlderPrependsAndTerminates(t *testing.T) {
	src := &fakeSource{pages: map[string]Page{
		"":     {Messages: []Message{msg("3", 3000), msg("4", 4000)}, HasMore: true, NextOffset: "p1"},
		"p1":   {Messages: []Message{msg("1", 1000), msg("2", 2000)}, HasMore: true, NextOffset: "p2"},
		"p2":   {}, // empty page terminates pagination
		"none": {},
	}}
	s := NewStore(src, nil, nil, 2, 50)
	key := testKey()

	if err := s.FetchInitial(context.Background(), key); err != nil {
		t.Fatal(err)
	}
	if err := s.FetchOlder(context.Background(), key); err != nil {
		t.Fatal(err)
	}

	got := s.Messages(key)
	if len(got) != 4 {
		t.Fatalf("got %d messages, want 4", len(got))
	}
	assertSorted(t, got)
	if got[0].MsgID != "1" {
		t.Errorf("oldest message is %s, want 1", got[0].MsgID)
	}

	// Empty page: fully loaded, list untouched.
	if err := s.FetchOlder(context.Background(), key); err != nil {
		t.Fatal(err)
	}
	if !s.Cursor(key).FullyLoaded {
		t.Error("empty page should mark fully loaded")
	}
	if len(s.Messages(key)) != 4 {
		t.Error("empty page must not mutate the list")
	}

	// Further calls are no-ops.
	calls := len(src.calls)
	if err := s.FetchOlder(context.Background(), key); err != nil {
		t.Fatal(err)
	}
	if len(src.calls) != calls {
		t.Error("fetchOlder after fullyLoaded hit the source")
	}
}

func TestFetchOlderEmptyChatFallsBackToInitial(t *testing.T) {
	src := &fakeSource{pages: map[string]Page{
		"": {Messages: []Message{msg("1", 1000)}},
	}}
	s := NewStore(src, nil, nil, 50, 50)
	key := testKey()

	if err := s.FetchOlder(context.Background(), key); err != nil {
		t.Fatal(err)
	}
	if len(s.Messages(key)) != 1 {
		t.Error("fetchOlder on empty chat should fall back to initial fetch")
	}
	if len(src.calls) != 1 || src.calls[0] != "" {
		t.Errorf("expected one latest-page call, got %v", src.calls)
	}
}

func TestFetchOlderFallsBackToOldestHeldID(t *testing.T) {
	src := &fakeSource{pages: map[string]Page{
		"5": {Messages: []Message{msg("4", 4000)}, HasMore: true, NextOffset: "p1"},
	}}
	s := NewStore(src, nil, nil, 2, 50)
	key := testKey()

	// Messages arrived via push only; no cursor recorded but the chat is
	// not empty, so pagination starts from the oldest held message.
	s.AddOrUpdate(key, msg("5", 5000))
	s.AddOrUpdate(key, msg("6", 6000))

	if err := s.FetchOlder(context.Background(), key); err != nil {
		t.Fatal(err)
	}
	if len(src.calls) != 1 || src.calls[0] != "5" {
		t.Errorf("expected fetch before oldest id 5, got %v", src.calls)
	}
}

func TestFetchErrorSurfacesPerChatState(t *testing.T) {
	src := &fakeSource{err: errors.New("boom")}
	s := NewStore(src, nil, nil, 50, 50)
	key := testKey()

	if err := s.FetchInitial(context.Background(), key); err == nil {
		t.Fatal("expected fetch error")
	}
	if s.LastErr(key) == nil {
		t.Error("per-chat error state not set")
	}
	if len(s.Messages(key)) != 0 {
		t.Error("failed fetch committed partial state")
	}
	if s.Fetching(key) {
		t.Error("fetch-in-flight flag not cleared after failure")
	}
}

func TestClearTruncatesAndResetsCursor(t *testing.T) {
	src := &fakeSource{pages: map[string]Page{"": {}}}
	s := NewStore(src, nil, nil, 50, 3)
	key := testKey()

	for i := int64(1); i <= 10; i++ {
		s.AddOrUpdate(key, msg(fmt.Sprint(i), i*1000))
	}
	// An empty page marks the chat fully loaded; Clear must undo that.
	if err := s.FetchOlder(context.Background(), key); err != nil {
		t.Fatal(err)
	}

	s.Clear(key)

	got := s.Messages(key)
	if len(got) != 3 {
		t.Fatalf("got %d messages after clear, want retention 3", len(got))
	}
	if got[0].MsgID != "8" {
		t.Errorf("retention kept %s first, want most recent window starting at 8", got[0].MsgID)
	}
	if c := s.Cursor(key); c.FullyLoaded || c.NextOffset != "" {
		t.Error("cursor not reset by clear")
	}
}
