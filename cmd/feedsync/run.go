// ABOUTME: Long-running sync daemon: keeps the remote connection up and polls feeds
// ABOUTME: Polling is suspended while connecting; the config file is hot-reloaded

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/harper/feedsync/internal/config"
	"github.com/harper/feedsync/internal/engine"
	"github.com/harper/feedsync/internal/poll"
	"github.com/harper/feedsync/internal/remote"
	"github.com/harper/feedsync/internal/status"
)

var (
	connectRetryMin   = 5 * time.Second
	connectRetryMax   = 5 * time.Minute
	linkCheckInterval = 30 * time.Second
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Keep feeds synchronized until interrupted",
	Long: `Connect to the remote table, reconcile, and poll every feed in turn.

Feeds are fetched one at a time; after a full pass the poller idles for
poll.idle_delay. While the remote is unreachable, at startup or after
the link drops, the connection is retried with backoff and local edits
keep accumulating; each reconnect pushes them and reconciles again.

Changes to poll.idle_delay in the config file apply without a restart.

With --listen (or http.listen) a JSON status API is served:
  GET  /healthz, /api/stats, /api/feeds
  POST /api/fetch[?url=], /api/entries/{hash}/read, /api/entries/{hash}/unread`,
	Annotations: map[string]string{annConnect: "false"},
	RunE: func(cmd *cobra.Command, args []string) error {
		listen, _ := cmd.Flags().GetString("listen")
		if listen == "" {
			listen = cfg.HTTP.Listen
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		sched := poll.New(poll.Options{
			Source: eng.Registry(),
			Fetch: func(ctx context.Context, url string) error {
				_, err := eng.FetchFeed(ctx, url, false)
				return err
			},
			Progress: func(p int) {
				if p == poll.NoProgress || p == 100 {
					logger.Debug("poll progress", "percent", p)
				}
			},
			IdleDelay: cfg.Poll.IdleDelay,
			Logger:    logger,
		})

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return sched.Run(ctx)
		})
		if !offline && cfg.Remote.Backend != config.BackendNone {
			open := func(ctx context.Context) (remote.Service, error) {
				return openRemote(ctx, cfg, nodeID)
			}
			g.Go(func() error {
				return connectLoop(ctx, eng, sched, open)
			})
		} else {
			sched.Suspend(false, 0)
		}
		if path := cfg.Path(); path != "" {
			g.Go(func() error {
				err := config.Watch(ctx, path, func(c *config.Config) {
					logger.Info("config reloaded", "idle_delay", c.Poll.IdleDelay)
					sched.SetIdleDelay(c.Poll.IdleDelay)
				}, func(err error) {
					logger.Warn("config reload failed", "err", err)
				})
				if err != nil {
					logger.Warn("config hot reload disabled", "err", err)
				}
				return nil
			})
		}

		if listen != "" {
			srv := status.New(eng, logger)
			g.Go(func() error {
				return srv.ListenAndServe(ctx, listen)
			})
		}

		logger.Info("running", "node", nodeID, "feeds", eng.Registry().Len(), "backend", cfg.Remote.Backend)
		err := g.Wait()
		eng.Wait()
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

// connectLoop keeps the engine connected for the whole session. Each
// round opens the remote if it is still missing, connects, then watches
// the link until it drops. Polling is suspended during each attempt and
// kicked once the first one settles.
func connectLoop(ctx context.Context, e *engine.Engine, sched *poll.Scheduler, open func(context.Context) (remote.Service, error)) error {
	delay := connectRetryMin
	kick := time.Duration(0)
	for {
		sched.Suspend(true, -1)
		err := connectOnce(ctx, e, open)
		sched.Suspend(false, kick)
		kick = -1

		if err == nil {
			logger.Info("connected", "node", nodeID)
			delay = connectRetryMin
			if err := watchLink(ctx, e); err != nil {
				return err
			}
			logger.Warn("remote link lost, reconnecting", "in", delay)
		} else {
			logger.Warn("connect failed, retrying", "err", err, "in", delay)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = min(delay*2, connectRetryMax)
	}
}

func connectOnce(ctx context.Context, e *engine.Engine, open func(context.Context) (remote.Service, error)) error {
	if !e.HasRemote() {
		svc, err := open(ctx)
		if err != nil {
			return fmt.Errorf("open remote: %w", err)
		}
		if err := e.AttachRemote(svc); err != nil {
			svc.Close()
			return err
		}
		remoteSvc = svc
	}
	return e.Connect(ctx)
}

// watchLink returns nil once the connection drops and ctx.Err() when ctx
// ends first. The remote is pinged every linkCheckInterval.
func watchLink(ctx context.Context, e *engine.Engine) error {
	ticker := time.NewTicker(linkCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.Lost():
			return nil
		case <-ticker.C:
			if err := e.CheckLink(ctx); err != nil {
				logger.Warn("remote health check failed", "err", err)
			}
		}
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().String("listen", "", "serve the status API on this address, e.g. 127.0.0.1:7070")
}
