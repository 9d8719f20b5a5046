package sync

import (
	"context"

	"github.com/Voloshynivskyi/UniMessenger-sub000/internal/bus"
	"github.com/Voloshynivskyi/UniMessenger-sub000/internal/store"
	"go.uber.org/zap"
)

// Reconciler closes gaps after a reconnect. Push frames dropped while the
// channel was down are unrecoverable, so when a connection reopens it
// re-fetches the latest page for every tracked chat and lets the store's
// merge discard what it already holds.
type Reconciler struct {
	store  *store.Store
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
}

// NewReconciler creates a new reconciler.
func NewReconciler(st *store.Store, b *bus.Bus, logger *zap.Logger) *Reconciler {
	return &Reconciler{store: st, bus: b, logger: logger}
}

// Start subscribes to connection lifecycle events.
func (r *Reconciler) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	ch, unsub := r.bus.Subscribe("conn.", 16)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				if evt.Kind == bus.KindConnOpened {
					r.refreshAll(ctx)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the reconciler.
func (r *Reconciler) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
}

func (r *Reconciler) refreshAll(ctx context.Context) {
	keys := r.store.Keys()
	for _, key := range keys {
		if err := r.store.Refresh(ctx, key); err != nil {
			r.logger.Warn("reconcile refresh failed",
				zap.String("chat", string(key)),
				zap.Error(err),
			)
		}
	}
	if len(keys) > 0 {
		r.logger.Info("reconciled chats after reconnect", zap.Int("chats", len(keys)))
	}
}
