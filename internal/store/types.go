package store

import (
	"fmt"
	"strings"
)

// ChatKey is the composite identifier "platform:accountId:chatId" used as
// the primary index everywhere. It is never reused across platforms or
// accounts.
type ChatKey string

// NewChatKey builds a ChatKey from its parts.
func NewChatKey(platform, accountID, chatID string) ChatKey {
	return ChatKey(platform + ":" + accountID + ":" + chatID)
}

// Parts splits a ChatKey back into platform, accountId and chatId.
// Chat IDs may themselves contain colons, so only the first two
// separators are significant.
func (k ChatKey) Parts() (platform, accountID, chatID string, err error) {
	s := string(k)
	i := strings.Index(s, ":")
	if i < 0 {
		return "", "", "", fmt.Errorf("malformed chat key %q", s)
	}
	j := strings.Index(s[i+1:], ":")
	if j < 0 {
		return "", "", "", fmt.Errorf("malformed chat key %q", s)
	}
	return s[:i], s[i+1 : i+1+j], s[i+1+j+1:], nil
}

// Direction marks whether a message was received or locally sent.
type Direction string

const (
	Incoming Direction = "incoming"
	Outgoing Direction = "outgoing"
)

// DeliveryStatus tracks the lifecycle of an outgoing message.
type DeliveryStatus string

const (
	StatusPending   DeliveryStatus = "pending"
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusFailed    DeliveryStatus = "failed"
)

// Media references an attachment on a message. Upload and transcoding
// happen elsewhere; the engine only carries the reference.
type Media struct {
	Kind string
	URL  string
	Name string
}

// Message is the normalized cross-platform message record.
//
// MsgID is provider-assigned and stable once confirmed. TempID is set
// locally for not-yet-confirmed sends; a TempID entry and its confirmed
// counterpart are the same logical message and collapse into one slot.
type Message struct {
	Platform  string
	AccountID string
	ChatID    string
	MsgID     string
	TempID    string
	Text      string
	Date      int64 // unix milliseconds
	Direction Direction
	Status    DeliveryStatus
	Views     int
	Media     *Media
}

// Key returns the ChatKey this message belongs to.
func (m *Message) Key() ChatKey {
	return NewChatKey(m.Platform, m.AccountID, m.ChatID)
}

// ID returns the identifier used for de-duplication: the provider MsgID
// when confirmed, the local TempID otherwise.
func (m *Message) ID() string {
	if m.MsgID != "" {
		return m.MsgID
	}
	return m.TempID
}

// Cursor is the per-chat backward-pagination state. It moves monotonically
// toward FullyLoaded and resets only on an explicit chat clear.
type Cursor struct {
	NextOffset  string
	FullyLoaded bool
}

// Page is one page of history returned by a provider fetch.
type Page struct {
	Messages   []Message
	NextOffset string
	HasMore    bool
}
