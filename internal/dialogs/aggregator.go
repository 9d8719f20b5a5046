package dialogs

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Voloshynivskyi/UniMessenger-sub000/internal/bus"
	"github.com/Voloshynivskyi/UniMessenger-sub000/internal/push"
	"github.com/Voloshynivskyi/UniMessenger-sub000/internal/store"
	"go.uber.org/zap"
)

const defaultTypingTTL = 6 * time.Second

// Preview is one row of the unified dialog list.
type Preview struct {
	Chat        store.ChatKey
	Title       string
	LastText    string
	LastDate    int64
	UnreadCount int
	Pinned      bool
	Online      bool
	Typing      []string
	// Shadow previews were synthesized from a push message for a chat
	// the dialog fetch has not returned yet.
	Shadow bool
}

// Source fetches the authoritative dialog list.
type Source interface {
	FetchDialogs(ctx context.Context) ([]Preview, error)
}

type dialogState struct {
	preview Preview
	typing  map[string]*time.Timer
}

// Aggregator folds push events and dialog fetches into one preview per
// chat. Unread counters only reset on an explicit read receipt; locally
// viewing a chat does not clear them until the provider confirms the
// read.
type Aggregator struct {
	mu      sync.Mutex
	dialogs map[store.ChatKey]*dialogState
	online  map[string]bool // platform:accountID

	source    Source
	bus       *bus.Bus
	logger    *zap.Logger
	typingTTL time.Duration
	cancel    context.CancelFunc
}

// NewAggregator creates a dialog aggregator.
func NewAggregator(source Source, b *bus.Bus, logger *zap.Logger, typingTTL time.Duration) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if typingTTL <= 0 {
		typingTTL = defaultTypingTTL
	}
	return &Aggregator{
		dialogs:   make(map[store.ChatKey]*dialogState),
		online:    make(map[string]bool),
		source:    source,
		bus:       b,
		logger:    logger,
		typingTTL: typingTTL,
	}
}

// Start subscribes to push events on the bus.
func (a *Aggregator) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)
	ch, unsub := a.bus.Subscribe("push.", 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				a.handleEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the aggregator and cancels all typing timers.
func (a *Aggregator) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	a.mu.Lock()
	for _, st := range a.dialogs {
		for user, tm := range st.typing {
			tm.Stop()
			delete(st.typing, user)
		}
		st.preview.Typing = nil
	}
	a.mu.Unlock()
}

// Refresh replaces preview state with the fetched dialog list. Shadow
// previews the fetch confirms lose their shadow mark; counters from the
// server win over locally accumulated ones.
func (a *Aggregator) Refresh(ctx context.Context) error {
	fetched, err := a.source.FetchDialogs(ctx)
	if err != nil {
		return err
	}

	a.mu.Lock()
	for _, p := range fetched {
		st, ok := a.dialogs[p.Chat]
		if !ok {
			st = &dialogState{typing: make(map[string]*time.Timer)}
			a.dialogs[p.Chat] = st
		}
		typing := st.preview.Typing
		st.preview = p
		st.preview.Shadow = false
		st.preview.Typing = typing
		if platform, acct, _, err := p.Chat.Parts(); err == nil {
			st.preview.Online = a.online[platform+":"+acct]
		}
	}
	a.mu.Unlock()

	a.publish()
	return nil
}

// Previews returns the dialog list sorted pinned-first, then most recent
// activity first.
func (a *Aggregator) Previews() []Preview {
	a.mu.Lock()
	out := make([]Preview, 0, len(a.dialogs))
	for _, st := range a.dialogs {
		out = append(out, st.preview)
	}
	a.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Pinned != out[j].Pinned {
			return out[i].Pinned
		}
		return out[i].LastDate > out[j].LastDate
	})
	return out
}

// Preview returns the row for one chat.
func (a *Aggregator) Preview(key store.ChatKey) (Preview, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, ok := a.dialogs[key]
	if !ok {
		return Preview{}, false
	}
	return st.preview, true
}

func (a *Aggregator) handleEvent(evt bus.Event) {
	switch evt.Kind {
	case bus.KindPushMessage, bus.KindPushConfirmed:
		me, ok := evt.Payload.(*push.MessageEvent)
		if !ok {
			return
		}
		a.applyMessage(me)
	case bus.KindPushEdited:
		me, ok := evt.Payload.(*push.MessageEvent)
		if !ok {
			return
		}
		a.applyEdit(me)
	case bus.KindPushRead:
		re, ok := evt.Payload.(*push.ReadEvent)
		if !ok {
			return
		}
		a.applyRead(re.Chat)
	case bus.KindPushTyping:
		te, ok := evt.Payload.(*push.TypingEvent)
		if !ok {
			return
		}
		a.applyTyping(te)
	case bus.KindPushPinned:
		pe, ok := evt.Payload.(*push.PinnedEvent)
		if !ok {
			return
		}
		a.applyPinned(pe)
	case bus.KindPushStatus:
		se, ok := evt.Payload.(*push.AccountStatusEvent)
		if !ok {
			return
		}
		a.applyStatus(se)
	}
}

func (a *Aggregator) stateLocked(key store.ChatKey, title string) *dialogState {
	st, ok := a.dialogs[key]
	if !ok {
		st = &dialogState{
			preview: Preview{Chat: key, Title: title, Shadow: true},
			typing:  make(map[string]*time.Timer),
		}
		if title == "" {
			if _, _, chatID, err := key.Parts(); err == nil {
				st.preview.Title = chatID
			}
		}
		a.dialogs[key] = st
	}
	return st
}

func (a *Aggregator) applyMessage(me *push.MessageEvent) {
	key := me.Msg.Key()

	a.mu.Lock()
	st := a.stateLocked(key, me.ChatTitle)
	if me.ChatTitle != "" {
		st.preview.Title = me.ChatTitle
	}
	if me.Msg.Date >= st.preview.LastDate {
		st.preview.LastText = me.Msg.Text
		st.preview.LastDate = me.Msg.Date
	}
	if me.Msg.Direction == store.Incoming {
		st.preview.UnreadCount++
	}
	// A live message from a user supersedes their typing state.
	if me.Sender != "" {
		a.stopTypingLocked(st, me.Sender)
	}
	a.mu.Unlock()

	a.publish()
}

func (a *Aggregator) applyEdit(me *push.MessageEvent) {
	key := me.Msg.Key()

	a.mu.Lock()
	st, ok := a.dialogs[key]
	changed := false
	if ok && me.Msg.Date >= st.preview.LastDate {
		st.preview.LastText = me.Msg.Text
		changed = true
	}
	a.mu.Unlock()

	if changed {
		a.publish()
	}
}

func (a *Aggregator) applyRead(key store.ChatKey) {
	a.mu.Lock()
	st, ok := a.dialogs[key]
	changed := ok && st.preview.UnreadCount != 0
	if changed {
		st.preview.UnreadCount = 0
	}
	a.mu.Unlock()

	if changed {
		a.publish()
	}
}

func (a *Aggregator) applyTyping(te *push.TypingEvent) {
	a.mu.Lock()
	st := a.stateLocked(te.Chat, "")
	if te.Active {
		if tm, ok := st.typing[te.User]; ok {
			tm.Stop()
		}
		chat, user := te.Chat, te.User
		st.typing[te.User] = time.AfterFunc(a.typingTTL, func() {
			a.expireTyping(chat, user)
		})
	} else {
		a.stopTypingLocked(st, te.User)
	}
	st.preview.Typing = typingUsers(st.typing)
	a.mu.Unlock()

	a.publish()
}

func (a *Aggregator) expireTyping(key store.ChatKey, user string) {
	a.mu.Lock()
	st, ok := a.dialogs[key]
	if ok {
		delete(st.typing, user)
		st.preview.Typing = typingUsers(st.typing)
	}
	a.mu.Unlock()
	if ok {
		a.publish()
	}
}

func (a *Aggregator) stopTypingLocked(st *dialogState, user string) {
	if tm, ok := st.typing[user]; ok {
		tm.Stop()
		delete(st.typing, user)
		st.preview.Typing = typingUsers(st.typing)
	}
}

func (a *Aggregator) applyPinned(pe *push.PinnedEvent) {
	a.mu.Lock()
	st := a.stateLocked(pe.Chat, "")
	st.preview.Pinned = pe.Pinned
	a.mu.Unlock()

	a.publish()
}

func (a *Aggregator) applyStatus(se *push.AccountStatusEvent) {
	acct := se.Platform + ":" + se.AccountID
	a.mu.Lock()
	a.online[acct] = se.Online
	for key, st := range a.dialogs {
		platform, account, _, err := key.Parts()
		if err == nil && platform == se.Platform && account == se.AccountID {
			st.preview.Online = se.Online
		}
	}
	a.mu.Unlock()

	a.publish()
}

func (a *Aggregator) publish() {
	a.bus.Publish(bus.Event{
		Kind:      bus.KindDialogUpdated,
		Timestamp: time.Now(),
	})
}

func typingUsers(timers map[string]*time.Timer) []string {
	if len(timers) == 0 {
		return nil
	}
	users := make([]string, 0, len(timers))
	for u := range timers {
		users = append(users, u)
	}
	sort.Strings(users)
	return users
}
