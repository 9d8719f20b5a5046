package dialogs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Voloshynivskyi/UniMessenger-sub000/internal/bus"
	"github.com/Voloshynivskyi/UniMessenger-sub000/internal/push"
	"github.com/Voloshynivskyi/UniMessenger-sub000/internal/store"
	"go.uber.org/zap"
)

type stubDialogSource struct {
	dialogs []Preview
	err     error
}

func (s *stubDialogSource) FetchDialogs(context.Context) ([]Preview, error) {
	return s.dialogs, s.err
}

func newAgg(t *testing.T, src Source, ttl time.Duration) (*Aggregator, *bus.Bus) {
	t.Helper()
	b := bus.New()
	if src == nil {
		src = &stubDialogSource{}
	}
	return NewAggregator(src, b, zap.NewNop(), ttl), b
}

func incoming(key store.ChatKey, msgID, text string, date int64) *push.MessageEvent {
	platform, acct, chat, _ := key.Parts()
	return &push.MessageEvent{Msg: store.Message{
		Platform: platform, AccountID: acct, ChatID: chat,
		MsgID: msgID, Text: text, Date: date, Direction: store.Incoming,
	}}
}

func TestShadowPreviewFromPushMessage(t *testing.T) {
	a, _ := newAgg(t, nil, 0)
	key := store.NewChatKey("tg", "a", "77")

	me := incoming(key, "1", "hello", 100)
	me.ChatTitle = "Alice"
	a.applyMessage(me)

	p, ok := a.Preview(key)
	if !ok {
		t.Fatal("no preview created")
	}
	if !p.Shadow || p.Title != "Alice" || p.LastText != "hello" || p.UnreadCount != 1 {
		t.Errorf("preview = %+v, want shadow Alice/hello/unread 1", p)
	}
}

func TestRefreshConfirmsShadow(t *testing.T) {
	key := store.NewChatKey("tg", "a", "77")
	src := &stubDialogSource{dialogs: []Preview{
		{Chat: key, Title: "Alice", LastText: "hello", LastDate: 100, UnreadCount: 3},
	}}
	a, _ := newAgg(t, src, 0)

	a.applyMessage(incoming(key, "1", "hello", 100))
	if err := a.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}

	p, _ := a.Preview(key)
	if p.Shadow {
		t.Error("fetched dialog should lose shadow mark")
	}
	if p.UnreadCount != 3 {
		t.Errorf("unread = %d, want server count 3", p.UnreadCount)
	}
}

func TestRefreshError(t *testing.T) {
	src := &stubDialogSource{err: errors.New("boom")}
	a, _ := newAgg(t, src, 0)
	if err := a.Refresh(context.Background()); err == nil {
		t.Error("Refresh should surface fetch errors")
	}
}

func TestUnreadResetsOnlyOnReadReceipt(t *testing.T) {
	a, _ := newAgg(t, nil, 0)
	key := store.NewChatKey("tg", "a", "77")

	a.applyMessage(incoming(key, "1", "one", 100))
	a.applyMessage(incoming(key, "2", "two", 200))

	p, _ := a.Preview(key)
	if p.UnreadCount != 2 {
		t.Fatalf("unread = %d, want 2", p.UnreadCount)
	}

	a.applyRead(key)
	p, _ = a.Preview(key)
	if p.UnreadCount != 0 {
		t.Errorf("unread = %d, want 0 after read receipt", p.UnreadCount)
	}
}

func TestOutgoingDoesNotIncrementUnread(t *testing.T) {
	a, _ := newAgg(t, nil, 0)
	key := store.NewChatKey("tg", "a", "77")

	a.applyMessage(&push.MessageEvent{Msg: store.Message{
		Platform: "tg", AccountID: "a", ChatID: "77",
		MsgID: "1", Text: "mine", Date: 100, Direction: store.Outgoing,
	}})

	p, _ := a.Preview(key)
	if p.UnreadCount != 0 {
		t.Errorf("unread = %d, want 0 for own message", p.UnreadCount)
	}
	if p.LastText != "mine" {
		t.Errorf("last text = %q, want preview update", p.LastText)
	}
}

func TestTypingExpiresAfterTTL(t *testing.T) {
	a, _ := newAgg(t, nil, 20*time.Millisecond)
	key := store.NewChatKey("tg", "a", "77")

	a.applyTyping(&push.TypingEvent{Chat: key, User: "bob", Active: true})
	p, _ := a.Preview(key)
	if len(p.Typing) != 1 || p.Typing[0] != "bob" {
		t.Fatalf("typing = %v, want [bob]", p.Typing)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		p, _ = a.Preview(key)
		if len(p.Typing) == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("typing = %v, want expiry after TTL", p.Typing)
}

func TestTypingStopClearsImmediately(t *testing.T) {
	a, _ := newAgg(t, nil, time.Hour)
	key := store.NewChatKey("tg", "a", "77")

	a.applyTyping(&push.TypingEvent{Chat: key, User: "bob", Active: true})
	a.applyTyping(&push.TypingEvent{Chat: key, User: "bob", Active: false})

	p, _ := a.Preview(key)
	if len(p.Typing) != 0 {
		t.Errorf("typing = %v, want cleared on stop", p.Typing)
	}
}

func TestMessageFromTypistClearsTyping(t *testing.T) {
	a, _ := newAgg(t, nil, time.Hour)
	key := store.NewChatKey("tg", "a", "77")

	a.applyTyping(&push.TypingEvent{Chat: key, User: "bob", Active: true})
	me := incoming(key, "1", "done typing", 100)
	me.Sender = "bob"
	a.applyMessage(me)

	p, _ := a.Preview(key)
	if len(p.Typing) != 0 {
		t.Errorf("typing = %v, want cleared by live message", p.Typing)
	}
}

func TestPinnedSortsFirst(t *testing.T) {
	a, _ := newAgg(t, nil, 0)
	k1 := store.NewChatKey("tg", "a", "old")
	k2 := store.NewChatKey("tg", "a", "new")
	k3 := store.NewChatKey("wa", "b", "pinned")

	a.applyMessage(incoming(k1, "1", "x", 100))
	a.applyMessage(incoming(k2, "2", "y", 300))
	a.applyMessage(incoming(k3, "3", "z", 50))
	a.applyPinned(&push.PinnedEvent{Chat: k3, Pinned: true})

	ps := a.Previews()
	if len(ps) != 3 {
		t.Fatalf("previews = %d, want 3", len(ps))
	}
	if ps[0].Chat != k3 {
		t.Errorf("first = %s, want pinned chat", ps[0].Chat)
	}
	if ps[1].Chat != k2 || ps[2].Chat != k1 {
		t.Errorf("order = %s,%s, want recency order", ps[1].Chat, ps[2].Chat)
	}
}

func TestAccountStatusAppliesToAccountChats(t *testing.T) {
	a, _ := newAgg(t, nil, 0)
	mine := store.NewChatKey("tg", "a", "1")
	other := store.NewChatKey("tg", "b", "2")

	a.applyMessage(incoming(mine, "1", "x", 100))
	a.applyMessage(incoming(other, "2", "y", 100))
	a.applyStatus(&push.AccountStatusEvent{Platform: "tg", AccountID: "a", Online: true})

	p, _ := a.Preview(mine)
	if !p.Online {
		t.Error("chat of the online account should be marked online")
	}
	p, _ = a.Preview(other)
	if p.Online {
		t.Error("other account's chat must not be marked online")
	}
}

func TestEditUpdatesLastTextOnly(t *testing.T) {
	a, _ := newAgg(t, nil, 0)
	key := store.NewChatKey("tg", "a", "77")

	a.applyMessage(incoming(key, "1", "typo", 100))
	a.applyEdit(incoming(key, "1", "fixed", 100))

	p, _ := a.Preview(key)
	if p.LastText != "fixed" {
		t.Errorf("last text = %q, want edited text", p.LastText)
	}
	if p.UnreadCount != 1 {
		t.Errorf("unread = %d, edits must not bump the counter", p.UnreadCount)
	}
}

func TestBusDrivenFlow(t *testing.T) {
	a, b := newAgg(t, nil, 0)
	a.Start(context.Background())
	defer a.Stop()

	ch, unsub := b.Subscribe("dialog.", 10)
	defer unsub()

	key := store.NewChatKey("tg", "a", "77")
	b.Publish(bus.Event{Kind: bus.KindPushMessage, Payload: incoming(key, "1", "hi", 100)})

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for dialog update")
	}
	if p, ok := a.Preview(key); !ok || p.LastText != "hi" {
		t.Errorf("preview = %+v, want bus-driven update", p)
	}
}
