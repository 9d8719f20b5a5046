package push

import (
	"encoding/json"
	"fmt"

	"github.com/Voloshynivskyi/UniMessenger-sub000/internal/bus"
	"github.com/Voloshynivskyi/UniMessenger-sub000/internal/store"
)

// Inbound frame types on the push channel.
const (
	FrameNewMessage     = "new_message"
	FrameMessageEdited  = "message_edited"
	FrameMessageDeleted = "message_deleted"
	FrameReadReceipt    = "read_receipt"
	FrameTypingStart    = "typing_start"
	FrameTypingStop     = "typing_stop"
	FrameAccountStatus  = "account_status"
	FramePinState       = "pin_state"
	FrameViewCount      = "view_count"
	FrameConfirmed      = "message_confirmed"
)

// Outbound action types, mirroring a subset of the inbound set.
const (
	ActionSendMessage   = "send_message"
	ActionEditMessage   = "edit_message"
	ActionDeleteMessage = "delete_message"
	ActionTypingStart   = "typing_start"
	ActionTypingStop    = "typing_stop"
	ActionMarkRead      = "mark_read"
)

// wireMessage is the message shape the aggregator backend pushes.
type wireMessage struct {
	Platform  string     `json:"platform"`
	AccountID string     `json:"account_id"`
	ChatID    string     `json:"chat_id"`
	MsgID     string     `json:"message_id"`
	TempID    string     `json:"temp_id,omitempty"`
	Text      string     `json:"text"`
	Date      int64      `json:"date"`
	Out       bool       `json:"out"`
	Status    string     `json:"status,omitempty"`
	ChatTitle string     `json:"chat_title,omitempty"`
	Sender    string     `json:"sender,omitempty"`
	Media     *wireMedia `json:"media,omitempty"`
}

type wireMedia struct {
	Kind string `json:"kind"`
	URL  string `json:"url"`
	Name string `json:"name,omitempty"`
}

type wireRef struct {
	Platform  string `json:"platform"`
	AccountID string `json:"account_id"`
	ChatID    string `json:"chat_id"`
	MsgID     string `json:"message_id,omitempty"`
	User      string `json:"user,omitempty"`
	Pinned    bool   `json:"pinned,omitempty"`
	Online    bool   `json:"online,omitempty"`
	Views     int    `json:"views,omitempty"`
}

// MessageEvent is the payload for new, edited and confirmed messages.
type MessageEvent struct {
	Msg       store.Message
	ChatTitle string
	Sender    string
}

// DeletedEvent is the payload for message deletions.
type DeletedEvent struct {
	Chat  store.ChatKey
	MsgID string
}

// ReadEvent is the payload for read receipts.
type ReadEvent struct {
	Chat store.ChatKey
}

// TypingEvent is the payload for typing start/stop.
type TypingEvent struct {
	Chat   store.ChatKey
	User   string
	Active bool
}

// PinnedEvent is the payload for pin-state changes.
type PinnedEvent struct {
	Chat   store.ChatKey
	Pinned bool
}

// AccountStatusEvent is the payload for account/bot status changes.
type AccountStatusEvent struct {
	Platform  string
	AccountID string
	Online    bool
}

// ViewsEvent is the payload for view-count updates.
type ViewsEvent struct {
	Chat  store.ChatKey
	MsgID string
	Views int
}

func (w *wireMessage) toMessage() store.Message {
	dir := store.Incoming
	if w.Out {
		dir = store.Outgoing
	}
	status := store.DeliveryStatus(w.Status)
	if status == "" {
		if w.Out {
			status = store.StatusSent
		} else {
			status = store.StatusDelivered
		}
	}
	m := store.Message{
		Platform:  w.Platform,
		AccountID: w.AccountID,
		ChatID:    w.ChatID,
		MsgID:     w.MsgID,
		TempID:    w.TempID,
		Text:      w.Text,
		Date:      w.Date,
		Direction: dir,
		Status:    status,
	}
	if w.Media != nil {
		m.Media = &store.Media{Kind: w.Media.Kind, URL: w.Media.URL, Name: w.Media.Name}
	}
	return m
}

func (w *wireRef) key() store.ChatKey {
	return store.NewChatKey(w.Platform, w.AccountID, w.ChatID)
}

// ParseFrame decodes a structured push frame into a typed bus event.
// Raw passthrough frames and unknown types return ok=false; malformed
// payloads return an error so the caller can log and drop them.
func ParseFrame(f Frame) (bus.Event, bool, error) {
	if f.Type == "" {
		return bus.Event{}, false, nil
	}

	switch f.Type {
	case FrameNewMessage, FrameMessageEdited, FrameConfirmed:
		var w wireMessage
		if err := json.Unmarshal(f.Data, &w); err != nil {
			return bus.Event{}, false, fmt.Errorf("decode %s: %w", f.Type, err)
		}
		kind := bus.KindPushMessage
		switch f.Type {
		case FrameMessageEdited:
			kind = bus.KindPushEdited
		case FrameConfirmed:
			kind = bus.KindPushConfirmed
		}
		return bus.Event{Kind: kind, Payload: &MessageEvent{
			Msg:       w.toMessage(),
			ChatTitle: w.ChatTitle,
			Sender:    w.Sender,
		}}, true, nil

	case FrameMessageDeleted:
		var w wireRef
		if err := json.Unmarshal(f.Data, &w); err != nil {
			return bus.Event{}, false, fmt.Errorf("decode %s: %w", f.Type, err)
		}
		return bus.Event{Kind: bus.KindPushDeleted, Payload: &DeletedEvent{
			Chat: w.key(), MsgID: w.MsgID,
		}}, true, nil

	case FrameReadReceipt:
		var w wireRef
		if err := json.Unmarshal(f.Data, &w); err != nil {
			return bus.Event{}, false, fmt.Errorf("decode %s: %w", f.Type, err)
		}
		return bus.Event{Kind: bus.KindPushRead, Payload: &ReadEvent{Chat: w.key()}}, true, nil

	case FrameTypingStart, FrameTypingStop:
		var w wireRef
		if err := json.Unmarshal(f.Data, &w); err != nil {
			return bus.Event{}, false, fmt.Errorf("decode %s: %w", f.Type, err)
		}
		return bus.Event{Kind: bus.KindPushTyping, Payload: &TypingEvent{
			Chat: w.key(), User: w.User, Active: f.Type == FrameTypingStart,
		}}, true, nil

	case FramePinState:
		var w wireRef
		if err := json.Unmarshal(f.Data, &w); err != nil {
			return bus.Event{}, false, fmt.Errorf("decode %s: %w", f.Type, err)
		}
		return bus.Event{Kind: bus.KindPushPinned, Payload: &PinnedEvent{
			Chat: w.key(), Pinned: w.Pinned,
		}}, true, nil

	case FrameAccountStatus:
		var w wireRef
		if err := json.Unmarshal(f.Data, &w); err != nil {
			return bus.Event{}, false, fmt.Errorf("decode %s: %w", f.Type, err)
		}
		return bus.Event{Kind: bus.KindPushStatus, Payload: &AccountStatusEvent{
			Platform: w.Platform, AccountID: w.AccountID, Online: w.Online,
		}}, true, nil

	case FrameViewCount:
		var w wireRef
		if err := json.Unmarshal(f.Data, &w); err != nil {
			return bus.Event{}, false, fmt.Errorf("decode %s: %w", f.Type, err)
		}
		return bus.Event{Kind: bus.KindPushViews, Payload: &ViewsEvent{
			Chat: w.key(), MsgID: w.MsgID, Views: w.Views,
		}}, true, nil
	}

	return bus.Event{}, false, nil
}
