// Package daemon composes the sync engine with fx: configuration, logging,
// the message cache, the request executor, the live channel and the session
// coordinator, with lifecycle hooks tying them together.
package daemon

import (
	"context"
	"path/filepath"

	"github.com/tbduarte/chatsync/internal/auth"
	"github.com/tbduarte/chatsync/internal/bus"
	"github.com/tbduarte/chatsync/internal/config"
	"github.com/tbduarte/chatsync/internal/history"
	"github.com/tbduarte/chatsync/internal/logging"
	"github.com/tbduarte/chatsync/internal/rest"
	"github.com/tbduarte/chatsync/internal/send"
	"github.com/tbduarte/chatsync/internal/session"
	"github.com/tbduarte/chatsync/internal/store"
	"github.com/tbduarte/chatsync/internal/ws"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved invocation parameters passed to the fx module.
type Params struct {
	ConfigPath     string
	ConversationID int64
	Token          string
	UserID         int64
}

// Module returns the fx module for the engine daemon.
func Module(p Params) fx.Option {
	return fx.Module("chatsyncd",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideCreds,
			provideStore,
			provideRestClient,
			provideDemux,
			provideConnManager,
			provideHistory,
			providePipeline,
			provideCoordinator,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	return config.Load(p.ConfigPath)
}

func provideLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(filepath.Join(cfg.DataDir, "chatsyncd.log"))
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideCreds(p Params) auth.Provider {
	return auth.NewStatic(p.Token, p.UserID)
}

func provideStore(cfg *config.Config, logger *zap.Logger) (*store.DB, error) {
	dbPath := filepath.Join(cfg.DataDir, "cache.db")
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

func provideRestClient(cfg *config.Config, creds auth.Provider) *rest.Client {
	return rest.NewClient(cfg.APIBaseURL, creds)
}

func provideDemux(logger *zap.Logger) *ws.Demux {
	return ws.NewDemux(logger)
}

func provideConnManager(cfg *config.Config, creds auth.Provider, demux *ws.Demux, b *bus.Bus, logger *zap.Logger) *ws.Manager {
	return ws.NewManager(cfg.WSBaseURL, creds, demux, b, logger, ws.Options{
		BackoffBase: cfg.BackoffBase(),
		BackoffCap:  cfg.BackoffCap(),
		Heartbeat:   cfg.Heartbeat(),
	})
}

func provideHistory(db *store.DB, client *rest.Client, b *bus.Bus, logger *zap.Logger) *history.Coordinator {
	return history.NewCoordinator(db, client, b, logger)
}

func providePipeline(db *store.DB, client *rest.Client, creds auth.Provider, b *bus.Bus, logger *zap.Logger) *send.Pipeline {
	return send.NewPipeline(db, client, creds, b, logger)
}

func provideCoordinator(h *history.Coordinator, p *send.Pipeline, conn *ws.Manager, demux *ws.Demux,
	creds auth.Provider, b *bus.Bus, logger *zap.Logger, cfg *config.Config) *session.Coordinator {
	return session.NewCoordinator(h, p, conn, demux, creds, b, logger,
		session.Options{PageSize: cfg.PageSize})
}

func registerLifecycle(lc fx.Lifecycle, p Params, coord *session.Coordinator, db *store.DB, b *bus.Bus, logger *zap.Logger) {
	var stopWatcher func()

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			ch, unsub := b.Subscribe("", 64)
			stopWatcher = unsub
			go func() {
				for evt := range ch {
					logger.Info("event", zap.String("kind", evt.Kind))
				}
			}()

			logger.Info("entering conversation", zap.Int64("conversation_id", p.ConversationID))
			coord.Enter(p.ConversationID)
			return nil
		},
		OnStop: func(_ context.Context) error {
			coord.Leave()
			if stopWatcher != nil {
				stopWatcher()
			}
			if err := db.Close(); err != nil {
				logger.Warn("error closing cache", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
