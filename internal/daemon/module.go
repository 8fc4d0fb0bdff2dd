// Package daemon composes the chat server out of its parts with fx:
// config, logger, store, session registry, conversation cache, signup
// service and the TCP listener, with start/stop lifecycle hooks.
package daemon

import (
	"context"
	"crypto/rand"
	"errors"
	"net"
	"os"
	"path/filepath"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/halcyonchat/halcyon/internal/config"
	"github.com/halcyonchat/halcyon/internal/convo"
	"github.com/halcyonchat/halcyon/internal/lock"
	"github.com/halcyonchat/halcyon/internal/logging"
	"github.com/halcyonchat/halcyon/internal/register"
	"github.com/halcyonchat/halcyon/internal/server"
	"github.com/halcyonchat/halcyon/internal/session"
	"github.com/halcyonchat/halcyon/internal/store"
	"github.com/halcyonchat/halcyon/internal/transfer"
	"github.com/halcyonchat/halcyon/internal/wire"
)

// Params holds the resolved daemon configuration passed to the fx module.
type Params struct {
	DataDir    string
	ConfigPath string // optional override; empty = <data-dir>/config.toml
	ListenAddr string // optional override for testing; empty = use config
}

// Module returns the fx module for the daemon, composing all providers
// and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideLock,
			provideStore,
			provideCodec,
			provideRegistry,
			provideConvoCache,
			provideUploads,
			provideSignup,
			provideHandler,
			provideServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	path := p.ConfigPath
	if path == "" {
		path = filepath.Join(p.DataDir, "config.toml")
	}
	cfg, err := config.Load(path, p.DataDir)
	if err != nil {
		return nil, err
	}
	if p.ListenAddr != "" {
		cfg.Server.ListenAddr = p.ListenAddr
	}
	return cfg, nil
}

func provideLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(cfg.Server.LogFile, "halcyond")
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := os.MkdirAll(p.DataDir, 0700); err != nil {
		return nil, err
	}
	logger.Info("acquiring data dir lock", zap.String("dir", p.DataDir))
	l, err := lock.Acquire(p.DataDir)
	if err != nil {
		return nil, err
	}
	logger.Info("data dir lock acquired")
	return l, nil
}

func provideStore(cfg *config.Config, logger *zap.Logger) (*store.DB, error) {
	db, err := store.Open(cfg.Server.DatabasePath)
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
	logger.Info("store initialized", zap.String("path", cfg.Server.DatabasePath))
	return db, nil
}

func provideCodec(cfg *config.Config, logger *zap.Logger) (*wire.Codec, error) {
	key, err := ensureKey(cfg.Server.KeyFile)
	if err != nil {
		return nil, err
	}
	cipher, err := wire.NewCipher(key)
	if err != nil {
		return nil, err
	}
	logger.Info("wire key loaded", zap.String("key_file", cfg.Server.KeyFile))
	return wire.NewCodec(cipher), nil
}

// ensureKey loads the shared key, generating a fresh one on first run.
func ensureKey(keyFile string) ([]byte, error) {
	key, err := wire.LoadKey(keyFile)
	if err == nil {
		return key, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	key = make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(keyFile), 0700); err != nil {
		return nil, err
	}
	if err := os.WriteFile(keyFile, key, 0600); err != nil {
		return nil, err
	}
	return key, nil
}

func provideRegistry() *session.Registry {
	return session.NewRegistry()
}

func provideConvoCache(db *store.DB, logger *zap.Logger) (*convo.Cache, error) {
	c := convo.NewCache(db)
	if err := c.Load(); err != nil {
		return nil, err
	}
	logger.Info("conversation cache warmed", zap.Int("pairs", c.Len()))
	return c, nil
}

func provideUploads(cfg *config.Config) (*transfer.Uploads, error) {
	if err := os.MkdirAll(cfg.Server.MediaDir, 0700); err != nil {
		return nil, err
	}
	return transfer.NewUploads(cfg.Server.MediaDir), nil
}

func provideSignup(db *store.DB, cfg *config.Config, logger *zap.Logger) (*register.Service, error) {
	if err := os.MkdirAll(cfg.Server.AvatarDir, 0700); err != nil {
		return nil, err
	}
	return register.NewService(db, logger, cfg.Server.AvatarDir, cfg.Server.CaptchaTTL()), nil
}

func provideHandler(logger *zap.Logger, db *store.DB, sessions *session.Registry,
	convos *convo.Cache, uploads *transfer.Uploads, signup *register.Service,
	cfg *config.Config) *server.Handler {
	return server.NewHandler(logger, db, sessions, convos, uploads, signup, server.Dirs{
		Media:   cfg.Server.MediaDir,
		Avatars: cfg.Server.AvatarDir,
	})
}

func provideServer(logger *zap.Logger, codec *wire.Codec, handler *server.Handler) *server.Server {
	return server.New(logger, codec, handler)
}

func registerLifecycle(lc fx.Lifecycle, srv *server.Server, cfg *config.Config,
	db *store.DB, lk *lock.Lock, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			ln, err := net.Listen("tcp", cfg.Server.ListenAddr)
			if err != nil {
				return err
			}
			logger.Info("listening", zap.String("addr", ln.Addr().String()))
			go func() {
				if err := srv.Serve(ln); err != nil {
					logger.Error("serve error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Shutdown(ctx); err != nil {
				logger.Warn("shutdown incomplete", zap.Error(err))
			}
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
