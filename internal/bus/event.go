package bus

import "time"

// Event kinds published on the bus. Subscribers filter by namespace
// prefix, so "push." matches every decoded push-channel event.
const (
	// Decoded push-channel events.
	KindPushMessage   = "push.message"
	KindPushEdited    = "push.edited"
	KindPushDeleted   = "push.deleted"
	KindPushRead      = "push.read"
	KindPushTyping    = "push.typing"
	KindPushStatus    = "push.status"
	KindPushPinned    = "push.pinned"
	KindPushConfirmed = "push.confirmed"
	KindPushViews     = "push.views"

	// Connection lifecycle.
	KindConnOpened       = "conn.opened"
	KindConnClosed       = "conn.closed"
	KindConnReconnecting = "conn.reconnecting"

	// Store mutations, consumed by the UI layer.
	KindStoreUpdated = "store.updated"

	// Outbox lifecycle.
	KindSendFailed = "outbox.send_failed"

	// Dialog preview changes.
	KindDialogUpdated = "dialog.updated"

	// Session status machine transitions.
	KindStatusChanged = "session.status_changed"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
