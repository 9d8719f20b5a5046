package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Voloshynivskyi/UniMessenger-sub000/internal/bus"
	"github.com/Voloshynivskyi/UniMessenger-sub000/internal/store"
)

func testKey() store.ChatKey {
	return store.NewChatKey("telegram", "acc1", "chat1")
}

func confirmed(text string, at time.Time) *store.Message {
	return &store.Message{
		Platform: "telegram", AccountID: "acc1", ChatID: "chat1",
		MsgID: "42", Text: text, Date: at.UnixMilli(),
		Direction: store.Outgoing, Status: store.StatusSent,
	}
}

func TestFingerprintNormalization(t *testing.T) {
	key := testKey()
	a := NewFingerprint(key, "  hello   world ")
	b := NewFingerprint(key, "hello world")
	if a != b {
		t.Errorf("fingerprints differ: %q vs %q", a, b)
	}
	c := NewFingerprint(store.NewChatKey("telegram", "acc2", "chat1"), "hello world")
	if a == c {
		t.Error("fingerprints should differ across accounts")
	}
}

func TestMatchWithinWindow(t *testing.T) {
	m := NewMatcher(10 * time.Second)
	key := testKey()
	now := time.Now()

	m.Register(NewFingerprint(key, "hello"), "L1", now)

	localID, ok := m.TryMatch(confirmed("hello", now.Add(3*time.Second)))
	if !ok || localID != "L1" {
		t.Fatalf("got (%q,%v), want (L1,true)", localID, ok)
	}
	if m.Pending() != 0 {
		t.Error("matched entry not removed")
	}
}

func TestNoMatchOutsideWindow(t *testing.T) {
	m := NewMatcher(10 * time.Second)
	key := testKey()
	now := time.Now()

	m.Register(NewFingerprint(key, "hello"), "L1", now)

	if _, ok := m.TryMatch(confirmed("hello", now.Add(60*time.Second))); ok {
		t.Error("confirmation 60s later must not match a 10s window")
	}
	if m.Pending() != 1 {
		t.Error("unmatched entry should remain")
	}
}

func TestNoEntryMatchedTwice(t *testing.T) {
	m := NewMatcher(10 * time.Second)
	key := testKey()
	now := time.Now()

	m.Register(NewFingerprint(key, "hello"), "L1", now)

	if _, ok := m.TryMatch(confirmed("hello", now)); !ok {
		t.Fatal("first match failed")
	}
	if _, ok := m.TryMatch(confirmed("hello", now)); ok {
		t.Error("entry matched twice")
	}
}

func TestFIFOForIdenticalText(t *testing.T) {
	m := NewMatcher(10 * time.Second)
	key := testKey()
	now := time.Now()
	fp := NewFingerprint(key, "hi")

	m.Register(fp, "L1", now)
	m.Register(fp, "L2", now.Add(time.Second))

	first, _ := m.TryMatch(confirmed("hi", now))
	second, _ := m.TryMatch(confirmed("hi", now.Add(time.Second)))
	if first != "L1" || second != "L2" {
		t.Errorf("FIFO order broken: got %s then %s", first, second)
	}
}

func TestIncomingAndEmptyTextNeverMatch(t *testing.T) {
	m := NewMatcher(10 * time.Second)
	key := testKey()
	now := time.Now()
	m.Register(NewFingerprint(key, "hello"), "L1", now)

	in := confirmed("hello", now)
	in.Direction = store.Incoming
	if _, ok := m.TryMatch(in); ok {
		t.Error("incoming message matched an outbox entry")
	}

	empty := confirmed("", now)
	if _, ok := m.TryMatch(empty); ok {
		t.Error("empty-text message matched an outbox entry")
	}
}

func TestDiscardChat(t *testing.T) {
	m := NewMatcher(10 * time.Second)
	now := time.Now()
	m.Register(NewFingerprint(testKey(), "a"), "L1", now)
	m.Register(NewFingerprint(store.NewChatKey("telegram", "acc1", "other"), "a"), "L2", now)

	m.DiscardChat(testKey())

	if m.Pending() != 1 {
		t.Errorf("pending = %d after discard, want 1", m.Pending())
	}
	if _, ok := m.TryMatch(confirmed("a", now)); ok {
		t.Error("discarded entry still matchable")
	}
}

// failAPI always rejects sends.
type failAPI struct{ err error }

func (f *failAPI) SendText(context.Context, store.ChatKey, string) error { return f.err }

type okAPI struct{}

func (okAPI) SendText(context.Context, store.ChatKey, string) error { return nil }

func TestSendOptimisticInsert(t *testing.T) {
	st := store.NewStore(nil, nil, nil, 50, 50)
	m := NewMatcher(10 * time.Second)
	s := NewSender(st, m, okAPI{}, nil, nil)
	key := testKey()

	if err := s.Send(context.Background(), key, "hi"); err != nil {
		t.Fatal(err)
	}

	msgs := st.Messages(key)
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 provisional", len(msgs))
	}
	if msgs[0].Status != store.StatusPending || msgs[0].TempID == "" {
		t.Errorf("provisional message malformed: %+v", msgs[0])
	}
	if m.Pending() != 1 {
		t.Error("outbox entry not registered")
	}
}

func TestSendFailureRollsBack(t *testing.T) {
	st := store.NewStore(nil, nil, nil, 50, 50)
	m := NewMatcher(10 * time.Second)
	b := bus.New()
	ch, unsub := b.Subscribe("outbox.", 10)
	defer unsub()

	s := NewSender(st, m, &failAPI{err: errors.New("provider down")}, b, nil)
	key := testKey()

	if err := s.Send(context.Background(), key, "hi"); err == nil {
		t.Fatal("expected send error")
	}

	if len(st.Messages(key)) != 0 {
		t.Error("provisional message not rolled back")
	}
	if m.Pending() != 0 {
		t.Error("outbox entry not rolled back")
	}

	select {
	case evt := <-ch:
		if evt.Kind != bus.KindSendFailed {
			t.Errorf("event kind = %q, want %q", evt.Kind, bus.KindSendFailed)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for send_failed event")
	}
}

// The end-to-end optimistic scenario: send "hi" (pending, L1), then a
// confirmation with msg id 42 and the same text 1s later collapses into
// exactly one sent message.
func TestOptimisticSendConfirmationScenario(t *testing.T) {
	st := store.NewStore(nil, nil, nil, 50, 50)
	m := NewMatcher(10 * time.Second)
	s := NewSender(st, m, okAPI{}, nil, nil)
	key := testKey()

	if err := s.Send(context.Background(), key, "hi"); err != nil {
		t.Fatal(err)
	}
	localID := st.Messages(key)[0].TempID

	conf := confirmed("hi", time.Now().Add(time.Second))
	matched, ok := m.TryMatch(conf)
	if !ok || matched != localID {
		t.Fatalf("confirmation did not match provisional: (%q,%v)", matched, ok)
	}
	conf.TempID = matched
	st.AddOrUpdate(key, *conf)

	msgs := st.Messages(key)
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if msgs[0].MsgID != "42" || msgs[0].Status != store.StatusSent {
		t.Errorf("got id=%q status=%q, want 42/sent", msgs[0].MsgID, msgs[0].Status)
	}
	for _, msg := range msgs {
		if msg.TempID == localID && msg.MsgID == "" {
			t.Error("provisional entry still present")
		}
	}
}
