// ABOUTME: Root Cobra command and global flags
// ABOUTME: Loads config, opens the store and remote, then builds and loads the sync engine

package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/harper/feedsync/internal/charm"
	"github.com/harper/feedsync/internal/config"
	"github.com/harper/feedsync/internal/engine"
	"github.com/harper/feedsync/internal/fetch"
	"github.com/harper/feedsync/internal/logging"
	"github.com/harper/feedsync/internal/remote"
	"github.com/harper/feedsync/internal/remote/redisrt"
	"github.com/harper/feedsync/internal/storage"
)

// Command annotations controlling PersistentPreRunE.
const (
	annSetup   = "setup"   // "false": no config, store or engine
	annConnect = "connect" // "false": engine stays offline unless the command connects
)

var (
	cfgFile  string
	dataDir  string
	offline  bool
	logLevel string

	cfg       *config.Config
	logger    *log.Logger
	closeLog  func() error
	store     *storage.SQLiteStore
	remoteSvc remote.Service
	transport *fetch.Transport
	eng       *engine.Engine
	nodeID    string
)

var rootCmd = &cobra.Command{
	Use:   "feedsync",
	Short: "Feed subscriptions synchronized across devices",
	Long: `
feedsync keeps RSS/Atom subscriptions, their entries and read marks
in a local database and synchronizes them with a shared remote table
(Charm KV or Redis) so every device sees the same feeds.

Edits made offline are kept and pushed on the next connect.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Annotations[annSetup] == "false" {
			return nil
		}
		if err := setup(cmd.Context()); err != nil {
			return err
		}
		if cmd.Annotations[annConnect] != "false" && remoteSvc != nil {
			if err := eng.Connect(cmd.Context()); err != nil {
				logger.Warn("working offline", "err", err)
			}
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return teardown()
	},
}

func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.config/feedsync/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory (default: ~/.local/share/feedsync)")
	rootCmd.PersistentFlags().BoolVar(&offline, "offline", false, "do not contact the remote table")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
}

func setup(ctx context.Context) error {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	logger, closeLog, err = logging.New(logging.Options{
		Level:      cfg.Log.Level,
		File:       config.ExpandPath(cfg.Log.File),
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}

	store, err = cfg.OpenStorage()
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}

	nodeID, err = engine.NodeID(store, cfg.NodeID)
	if err != nil {
		return err
	}

	transport = fetch.NewTransport(cfg.HTTP.Timeout)
	if cfg.HTTP.UserAgent != "" {
		transport.UserAgent = cfg.HTTP.UserAgent
	}

	if !offline {
		remoteSvc, err = openRemote(ctx, cfg, nodeID)
		if err != nil {
			logger.Warn("remote unavailable, working offline", "backend", cfg.Remote.Backend, "err", err)
			remoteSvc = nil
		}
	}

	opts := engine.Options{
		Store:    store,
		Fetcher:  transport,
		Observer: logObserver{logger: logger},
		Logger:   logger,
	}
	if remoteSvc != nil {
		opts.Remote = remoteSvc
	}
	eng, err = engine.New(opts)
	if err != nil {
		return err
	}
	if _, err := eng.Load(ctx); err != nil {
		return fmt.Errorf("failed to load subscriptions: %w", err)
	}
	return nil
}

// openRemote builds the configured remote table service. It returns nil
// for the "none" backend.
func openRemote(ctx context.Context, cfg *config.Config, node string) (remote.Service, error) {
	switch cfg.Remote.Backend {
	case config.BackendCharm:
		return charm.NewClient(charm.Options{
			Host:          cfg.Remote.CharmHost,
			NodeID:        node,
			WatchInterval: cfg.Remote.CharmWatch,
			AutoSync:      cfg.Remote.CharmAutoSync,
			Logger:        logger,
		})
	case config.BackendRedis:
		return redisrt.New(ctx, redisrt.Options{
			Addr:     cfg.Remote.RedisAddr,
			Password: cfg.Remote.RedisPassword,
			DB:       cfg.Remote.RedisDB,
			Prefix:   cfg.Remote.RedisPrefix,
			NodeID:   node,
			Logger:   logger,
		})
	case config.BackendNone:
		return nil, errors.New("remote sync disabled")
	default:
		return nil, fmt.Errorf("unknown remote backend: %q", cfg.Remote.Backend)
	}
}

func teardown() error {
	if eng != nil {
		eng.Close()
		eng = nil
	}
	var errs []error
	if remoteSvc != nil {
		errs = append(errs, remoteSvc.Close())
		remoteSvc = nil
	}
	if store != nil {
		if err := store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		}
		store = nil
	}
	if closeLog != nil {
		errs = append(errs, closeLog())
		closeLog = nil
	}
	return errors.Join(errs...)
}

// requireRemote connects the engine or explains why it cannot.
func requireRemote(ctx context.Context) error {
	if remoteSvc == nil {
		return fmt.Errorf("remote sync is not available (backend %q, offline=%v)", cfg.Remote.Backend, offline)
	}
	if err := eng.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	return nil
}
