package daemon

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/tranqv/homewire/internal/api"
	"github.com/tranqv/homewire/internal/bus"
	"github.com/tranqv/homewire/internal/chat"
	"github.com/tranqv/homewire/internal/config"
	"github.com/tranqv/homewire/internal/ledger"
	"github.com/tranqv/homewire/internal/lock"
	"github.com/tranqv/homewire/internal/logging"
	"github.com/tranqv/homewire/internal/notify"
	"github.com/tranqv/homewire/internal/session"
	"github.com/tranqv/homewire/internal/socket"
	"github.com/tranqv/homewire/internal/status"
	"github.com/tranqv/homewire/internal/store"
	intsync "github.com/tranqv/homewire/internal/sync"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideToken,
			provideAPIClient,
			provideSocket,
			provideTracker,
			provideLedger,
			provideReconciler,
			provideNotifyStore,
			provideController,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig() (*config.Config, error) {
	cfg, err := config.Load(session.ConfigPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return (&config.Config{}).Defaults(), nil
		}
		return nil, err
	}
	return cfg.Defaults(), nil
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
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

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.LedgerDBPath(p.SessionName)
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
	logger.Info("ledger store initialized", zap.String("path", dbPath))
	return db, nil
}

// Token is the session's bearer token, a distinct type so fx can inject it.
type Token string

func provideToken(p Params) (Token, error) {
	token, err := session.LoadToken(p.SessionName)
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", errors.New("session is not logged in; run: homewirectl login <token>")
	}
	return Token(token), nil
}

func provideAPIClient(cfg *config.Config, token Token, logger *zap.Logger) *api.Client {
	return api.New(cfg.APIBase, string(token), logger)
}

func provideSocket(cfg *config.Config, token Token, b *bus.Bus, machine *status.Machine, logger *zap.Logger) *socket.Socket {
	return socket.New(cfg.WSBase, string(token), b, machine, logger)
}

func provideTracker() *ledger.Tracker {
	return ledger.NewTracker()
}

func provideLedger(db *store.DB, tracker *ledger.Tracker, s *socket.Socket, b *bus.Bus, logger *zap.Logger) (*ledger.Ledger, error) {
	return ledger.New(db, tracker, s, b, logger)
}

func provideReconciler(client *api.Client, l *ledger.Ledger, cfg *config.Config, b *bus.Bus, logger *zap.Logger) *intsync.Reconciler {
	return intsync.NewReconciler(client, l, b, cfg.UnreadSyncInterval(), logger)
}

func provideNotifyStore(client *api.Client, cfg *config.Config, b *bus.Bus, logger *zap.Logger) *notify.Store {
	return notify.NewStore(client, b, cfg.NotifyPollInterval(), cfg.PageSize, logger)
}

func provideController(client *api.Client, s *socket.Socket, l *ledger.Ledger, tracker *ledger.Tracker, b *bus.Bus, logger *zap.Logger) *chat.Controller {
	return chat.NewController(client, s, l, tracker, b, logger)
}

func registerLifecycle(lc fx.Lifecycle, client *api.Client, s *socket.Socket, tracker *ledger.Tracker, l *ledger.Ledger, rec *intsync.Reconciler, ns *notify.Store, ctrl *chat.Controller, db *store.DB, lk *lock.Lock, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			// The ledger's own-message gate needs the user id before any
			// frame arrives, so resolve the identity ahead of the dial.
			me, err := client.Me(startCtx)
			if err != nil {
				return err
			}
			tracker.SetCurrentUser(me.ID)
			logger.Info("identity resolved", zap.Int64("user", me.ID), zap.String("username", me.Username))

			// Long-lived loops outlive the fx start context.
			runCtx := context.Background()

			l.Start(runCtx)
			rec.Start(runCtx)
			ns.Start(runCtx)
			ctrl.Start(runCtx)

			// Dial in the background; the socket reconnects on its own
			// until Disconnect, so startup never blocks on the network.
			go s.Connect()

			loadCtx, cancel := context.WithTimeout(runCtx, 10*time.Second)
			go func() {
				defer cancel()
				if err := ctrl.LoadConversations(loadCtx); err != nil {
					logger.Warn("initial conversation load failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(_ context.Context) error {
			s.Disconnect()
			ctrl.Stop()
			ns.Stop()
			rec.Stop()
			l.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("error closing ledger store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
