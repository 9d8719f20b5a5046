package push

import (
	"time"

	"github.com/Voloshynivskyi/UniMessenger-sub000/internal/bus"
	"github.com/Voloshynivskyi/UniMessenger-sub000/internal/status"
	"go.uber.org/zap"
)

// Handler processes push-channel frames, drives the state machine, and
// publishes parsed domain events on the bus. It does NOT touch the
// message store directly — the sync engine subscribes to the bus
// independently.
type Handler struct {
	bus     *bus.Bus
	machine *status.Machine
	logger  *zap.Logger
}

// NewHandler creates a new push event handler.
func NewHandler(b *bus.Bus, machine *status.Machine, logger *zap.Logger) *Handler {
	return &Handler{
		bus:     b,
		machine: machine,
		logger:  logger,
	}
}

// Frames returns a frame listener bound to the given session.
func (h *Handler) Frames(sessionKey string) Listener {
	return func(f Frame) {
		h.handleFrame(sessionKey, f)
	}
}

func (h *Handler) handleFrame(sessionKey string, f Frame) {
	if f.Raw != "" {
		h.logger.Debug("unstructured push frame",
			zap.String("session", sessionKey),
			zap.String("raw", f.Raw))
		return
	}

	evt, ok, err := ParseFrame(f)
	if err != nil {
		h.logger.Warn("dropping malformed push frame",
			zap.String("session", sessionKey),
			zap.String("type", f.Type),
			zap.Error(err))
		return
	}
	if !ok {
		h.logger.Debug("ignoring unknown push frame",
			zap.String("session", sessionKey),
			zap.String("type", f.Type))
		return
	}

	evt.Timestamp = time.Now()
	h.bus.Publish(evt)
}

// OnState maps connection state changes onto the status machine and the
// bus. Wire it as the registry's Config.OnState callback.
func (h *Handler) OnState(sessionKey string, state State, willRetry bool) {
	switch state {
	case StateConnecting:
		cur := h.machine.Current()
		if cur == status.Open || cur == status.Degraded {
			_ = h.machine.Transition(status.Reconnecting)
			h.bus.Publish(bus.Event{
				Kind:      bus.KindConnReconnecting,
				Timestamp: time.Now(),
				Payload:   sessionKey,
			})
			return
		}
		_ = h.machine.Transition(status.Connecting)
	case StateOpen:
		h.logger.Info("push channel open", zap.String("session", sessionKey))
		_ = h.machine.Transition(status.Open)
		h.bus.Publish(bus.Event{
			Kind:      bus.KindConnOpened,
			Timestamp: time.Now(),
			Payload:   sessionKey,
		})
	case StateClosed:
		h.logger.Warn("push channel closed",
			zap.String("session", sessionKey),
			zap.Bool("will_retry", willRetry))
		if willRetry {
			_ = h.machine.Transition(status.Reconnecting)
		} else {
			_ = h.machine.Transition(status.Closed)
		}
		h.bus.Publish(bus.Event{
			Kind:      bus.KindConnClosed,
			Timestamp: time.Now(),
			Payload:   sessionKey,
		})
	}
}
