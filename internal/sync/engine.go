package sync

import (
	"context"

	"github.com/Voloshynivskyi/UniMessenger-sub000/internal/bus"
	"github.com/Voloshynivskyi/UniMessenger-sub000/internal/outbox"
	"github.com/Voloshynivskyi/UniMessenger-sub000/internal/push"
	"github.com/Voloshynivskyi/UniMessenger-sub000/internal/store"
	"go.uber.org/zap"
)

// Engine reconciles push-channel events into the message store. It
// subscribes to "push." events on the bus; confirmations of outgoing
// messages are routed through the outbox matcher so the provisional
// entry collapses instead of duplicating.
type Engine struct {
	store   *store.Store
	matcher *outbox.Matcher
	bus     *bus.Bus
	logger  *zap.Logger
	cancel  context.CancelFunc
}

// NewEngine creates a new sync engine.
func NewEngine(st *store.Store, m *outbox.Matcher, b *bus.Bus, logger *zap.Logger) *Engine {
	return &Engine{
		store:   st,
		matcher: m,
		bus:     b,
		logger:  logger,
	}
}

// Start subscribes to inbound push events on the bus.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	ch, unsub := e.bus.Subscribe("push.", 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				e.handleEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

func (e *Engine) handleEvent(evt bus.Event) {
	switch evt.Kind {
	case bus.KindPushMessage, bus.KindPushConfirmed:
		me, ok := evt.Payload.(*push.MessageEvent)
		if !ok {
			return
		}
		e.ingest(me.Msg)
	case bus.KindPushEdited:
		me, ok := evt.Payload.(*push.MessageEvent)
		if !ok {
			return
		}
		// Edits revise an existing message; they never settle a pending
		// send, so the matcher stays out of this path.
		e.store.AddOrUpdate(me.Msg.Key(), me.Msg)
	case bus.KindPushDeleted:
		de, ok := evt.Payload.(*push.DeletedEvent)
		if !ok {
			return
		}
		e.store.Remove(de.Chat, de.MsgID)
	case bus.KindPushViews:
		ve, ok := evt.Payload.(*push.ViewsEvent)
		if !ok {
			return
		}
		e.store.UpdateViews(ve.Chat, ve.MsgID, ve.Views)
	}
}

// ingest applies one confirmed message. An outgoing message that matches
// a pending optimistic send inherits its local ID, so the store replaces
// the provisional entry in place.
func (e *Engine) ingest(msg store.Message) {
	if msg.TempID == "" {
		if localID, ok := e.matcher.TryMatch(&msg); ok {
			msg.TempID = localID
			e.logger.Debug("matched optimistic send",
				zap.String("chat", string(msg.Key())),
				zap.String("local_id", localID),
				zap.String("msg_id", msg.MsgID),
			)
		}
	} else {
		// The server echoed our temp ID back; the pending entry is
		// settled either way.
		e.matcher.Drop(outbox.NewFingerprint(msg.Key(), msg.Text), msg.TempID)
	}
	e.store.AddOrUpdate(msg.Key(), msg)
}
