package app

import (
	"context"

	"github.com/Voloshynivskyi/UniMessenger-sub000/internal/bus"
	"github.com/Voloshynivskyi/UniMessenger-sub000/internal/config"
	"github.com/Voloshynivskyi/UniMessenger-sub000/internal/dialogs"
	"github.com/Voloshynivskyi/UniMessenger-sub000/internal/lock"
	"github.com/Voloshynivskyi/UniMessenger-sub000/internal/logging"
	"github.com/Voloshynivskyi/UniMessenger-sub000/internal/outbox"
	"github.com/Voloshynivskyi/UniMessenger-sub000/internal/push"
	"github.com/Voloshynivskyi/UniMessenger-sub000/internal/rest"
	"github.com/Voloshynivskyi/UniMessenger-sub000/internal/scroll"
	"github.com/Voloshynivskyi/UniMessenger-sub000/internal/session"
	"github.com/Voloshynivskyi/UniMessenger-sub000/internal/status"
	"github.com/Voloshynivskyi/UniMessenger-sub000/internal/store"
	intsync "github.com/Voloshynivskyi/UniMessenger-sub000/internal/sync"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	ConfigPath  string // optional override for testing; empty = use default
}

// Module returns the fx module for the client engine, composing all
// providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("app",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideRESTClient,
			provideStore,
			provideMatcher,
			provideSender,
			providePushHandler,
			provideRegistry,
			provideSyncEngine,
			provideReconciler,
			provideAggregator,
			provideScrollController,
			NewEngine,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	path := p.ConfigPath
	if path == "" {
		path = session.ConfigPath()
	}
	return config.LoadOrDefault(path)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.NewFileOnly(session.LogPath(p.SessionName), p.SessionName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideRESTClient(cfg *config.Config, logger *zap.Logger) *rest.Client {
	return rest.NewClient(cfg.API.BaseURL, cfg.APITimeout(), logger)
}

func provideStore(client *rest.Client, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *store.Store {
	return store.NewStore(client, b, logger, cfg.Engine.PageSize, cfg.Engine.Retention)
}

func provideMatcher(cfg *config.Config) *outbox.Matcher {
	return outbox.NewMatcher(cfg.DedupWindow())
}

func provideSender(st *store.Store, m *outbox.Matcher, client *rest.Client, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(st, m, client, b, logger)
}

func providePushHandler(b *bus.Bus, machine *status.Machine, logger *zap.Logger) *push.Handler {
	return push.NewHandler(b, machine, logger)
}

func provideRegistry(cfg *config.Config, handler *push.Handler, logger *zap.Logger) *push.Registry {
	transport := push.NewWebSocketTransport(cfg.API.PushURL)
	return push.NewRegistry(transport, push.Config{
		BackoffBase: cfg.BackoffBase(),
		BackoffMax:  cfg.BackoffMax(),
		OnState:     handler.OnState,
	}, logger)
}

func provideSyncEngine(st *store.Store, m *outbox.Matcher, b *bus.Bus, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(st, m, b, logger)
}

func provideReconciler(st *store.Store, b *bus.Bus, logger *zap.Logger) *intsync.Reconciler {
	return intsync.NewReconciler(st, b, logger)
}

func provideAggregator(client *rest.Client, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *dialogs.Aggregator {
	return dialogs.NewAggregator(client, b, logger, cfg.TypingTTL())
}

func provideScrollController(st *store.Store, cfg *config.Config, logger *zap.Logger) *scroll.Controller {
	return scroll.NewController(st, logger, cfg.Scroll.TopThreshold, cfg.Scroll.BottomSlack)
}

func registerLifecycle(
	lc fx.Lifecycle,
	p Params,
	eng *Engine,
	lk *lock.Lock,
	registry *push.Registry,
	handler *push.Handler,
	matcher *outbox.Matcher,
	engine *intsync.Engine,
	reconciler *intsync.Reconciler,
	agg *dialogs.Aggregator,
	machine *status.Machine,
	b *bus.Bus,
	logger *zap.Logger,
) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			ctx := context.Background()

			// Bus consumers first, so nothing published during connect
			// is lost.
			engine.Start(ctx)
			reconciler.Start(ctx)
			agg.Start(ctx)

			_ = machine.Transition(status.Connecting)
			registry.Subscribe(p.SessionName, handler.Frames(p.SessionName))

			// Initial dialog list; push events patch it afterwards.
			go func() {
				if err := agg.Refresh(ctx); err != nil {
					logger.Warn("initial dialog fetch failed", zap.Error(err))
				}
			}()

			logger.Info("engine started", zap.String("session", p.SessionName))
			return nil
		},
		OnStop: func(context.Context) error {
			registry.CloseAll()
			agg.Stop()
			reconciler.Stop()
			engine.Stop()
			// The push channel is gone, so no confirmation can arrive
			// for what is still in flight.
			for _, key := range eng.Store.Keys() {
				matcher.DiscardChat(key)
			}
			b.Close()
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("engine stopped")
			return nil
		},
	})
}
