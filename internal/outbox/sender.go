package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/Voloshynivskyi/UniMessenger-sub000/internal/bus"
	"github.com/Voloshynivskyi/UniMessenger-sub000/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SendAPI is the provider-facing send call. Depending on the platform the
// aggregator backend routes it over REST or the push channel; either way
// the final confirmation arrives as a push event.
type SendAPI interface {
	SendText(ctx context.Context, key store.ChatKey, text string) error
}

// Sender creates provisional messages, registers them with the matcher
// and performs the actual send. A failed send rolls back both the outbox
// entry and the provisional message; this is the only deletion path other
// than a successful match.
type Sender struct {
	store   *store.Store
	matcher *Matcher
	api     SendAPI
	bus     *bus.Bus
	logger  *zap.Logger
}

// NewSender creates a sender.
func NewSender(st *store.Store, m *Matcher, api SendAPI, b *bus.Bus, logger *zap.Logger) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{store: st, matcher: m, api: api, bus: b, logger: logger}
}

// Send shows the message optimistically, registers it for confirmation
// matching and invokes the send API. The returned error is surfaced to
// the UI so the user can retry; transient connection problems elsewhere
// never reach here.
func (s *Sender) Send(ctx context.Context, key store.ChatKey, text string) error {
	platform, accountID, chatID, err := key.Parts()
	if err != nil {
		return err
	}

	localID := uuid.New().String()
	now := time.Now()
	provisional := store.Message{
		Platform:  platform,
		AccountID: accountID,
		ChatID:    chatID,
		TempID:    localID,
		Text:      text,
		Date:      now.UnixMilli(),
		Direction: store.Outgoing,
		Status:    store.StatusPending,
	}

	fp := NewFingerprint(key, text)
	s.store.AddOrUpdate(key, provisional)
	s.matcher.Register(fp, localID, now)

	if err := s.api.SendText(ctx, key, text); err != nil {
		// Roll back the provisional entry and its outbox registration.
		s.matcher.Drop(fp, localID)
		s.store.Remove(key, localID)
		s.logger.Error("send failed",
			zap.String("chat", string(key)),
			zap.String("local_id", localID),
			zap.Error(err),
		)
		if s.bus != nil {
			s.bus.Publish(bus.Event{
				Kind:      bus.KindSendFailed,
				Timestamp: time.Now(),
				Payload:   SendFailure{Chat: key, LocalID: localID, Err: err},
			})
		}
		return fmt.Errorf("send to %s: %w", key, err)
	}

	s.logger.Info("message sent",
		zap.String("chat", string(key)),
		zap.String("local_id", localID),
	)
	return nil
}

// SendFailure is the bus payload for a rolled-back send.
type SendFailure struct {
	Chat    store.ChatKey
	LocalID string
	Err     error
}
