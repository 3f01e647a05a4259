// Package app composes the client: config, cache, REST client, realtime
// channel, chat controller and terminal UI, all wired through fx with a
// single lifecycle.
package app

import (
	"context"
	"errors"
	"os"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"unimarket/internal/api"
	"unimarket/internal/bus"
	"unimarket/internal/channel"
	"unimarket/internal/chat"
	"unimarket/internal/config"
	"unimarket/internal/lock"
	"unimarket/internal/logging"
	"unimarket/internal/outbox"
	"unimarket/internal/session"
	"unimarket/internal/status"
	"unimarket/internal/store"
	intsync "unimarket/internal/sync"
	"unimarket/internal/tui"
)

// ErrNotLoggedIn is returned when no access token is stored for the profile.
var ErrNotLoggedIn = errors.New("not logged in, run with --login first")

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	Profile string
}

// Identity is the authenticated user plus their access token.
type Identity struct {
	User  *api.User
	Token string
}

// Module returns the fx module composing the whole client.
func Module(p Params) fx.Option {
	return fx.Module("app",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideAPIClient,
			provideIdentity,
			provideChannel,
			provideRelay,
			provideListStore,
			provideController,
			provideSyncEngine,
			provideSender,
			provideTUI,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig() (*config.Config, error) {
	cfg, err := config.Load(session.ConfigPath())
	if os.IsNotExist(err) {
		return config.Default(), nil
	}
	return cfg, err
}

func provideLogger(p Params) (*zap.Logger, error) {
	if err := session.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	return logging.New(session.LogPath(p.Profile), p.Profile)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(session.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.CacheDBPath(p.Profile)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("cache initialized", zap.String("path", dbPath))
	return db, nil
}

func provideAPIClient(cfg *config.Config, logger *zap.Logger) *api.Client {
	return api.New(cfg.APIBaseURL, logger)
}

func provideIdentity(p Params, client *api.Client, logger *zap.Logger) (*Identity, error) {
	token := session.ReadToken(p.Profile)
	if token == "" {
		return nil, ErrNotLoggedIn
	}
	client.SetToken(token)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	user, err := client.Me(ctx)
	if err != nil {
		return nil, err
	}
	logger.Info("authenticated", zap.String("user_id", user.ID), zap.String("name", user.Name))
	return &Identity{User: user, Token: token}, nil
}

func provideChannel(cfg *config.Config, machine *status.Machine, b *bus.Bus, logger *zap.Logger) *channel.Client {
	return channel.New(cfg.SocketURL, machine, b, logger)
}

func provideRelay(b *bus.Bus, logger *zap.Logger) *channel.Relay {
	return channel.NewRelay(b, logger)
}

func provideListStore() *chat.ListStore {
	return chat.NewListStore()
}

func provideController(id *Identity, client *api.Client, ch *channel.Client, db *store.DB, list *chat.ListStore, b *bus.Bus, logger *zap.Logger) *chat.Controller {
	return chat.NewController(id.User.ID, client, ch, db, list, b, logger)
}

func provideSyncEngine(id *Identity, db *store.DB, b *bus.Bus, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(id.User.ID, db, b, logger)
}

func provideSender(db *store.DB, client *api.Client, ch *channel.Client, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(db, client, ch, b, logger)
}

func provideTUI(p Params, ctrl *chat.Controller, list *chat.ListStore, machine *status.Machine, b *bus.Bus) *tui.App {
	return tui.NewApp(ctrl, list, machine, b, p.Profile)
}

func registerLifecycle(lc fx.Lifecycle, sh fx.Shutdowner, p Params, id *Identity, client *api.Client, ch *channel.Client, relay *channel.Relay, engine *intsync.Engine, sender *outbox.Sender, ctrl *chat.Controller, list *chat.ListStore, ui *tui.App, db *store.DB, lk *lock.Lock, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			relay.Attach(ch)
			engine.Start(context.Background())
			sender.Start(context.Background())
			ctrl.Start(context.Background())

			// Show cached conversations immediately; the UI replaces
			// them with fresh data on its first load.
			if cached, err := db.ListConversations(50, 0); err == nil && len(cached) > 0 {
				list.Warm(cached)
			}

			ch.Connect(id.User.ID, id.Token)

			// Re-seed the cache so a later offline start has data.
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				convs, err := client.ListConversations(ctx)
				if err != nil {
					logger.Warn("cache hydration skipped", zap.Error(err))
					return
				}
				engine.Hydrate(convs)
			}()

			go func() {
				if err := ui.Run(); err != nil {
					logger.Error("terminal ui error", zap.Error(err))
				}
				_ = sh.Shutdown()
			}()

			logger.Info("client started", zap.String("profile", p.Profile))
			return nil
		},
		OnStop: func(_ context.Context) error {
			ui.Stop()
			ctrl.Stop()
			sender.Stop()
			engine.Stop()
			ch.Disconnect()
			_ = db.Close()
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("client stopped")
			return nil
		},
	})
}
