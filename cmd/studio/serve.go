package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	httpadapter "github.com/Borui-Eduation/student-records-sub000/internal/adapter/http"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var shutdownTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			log := newLogger(cfg, false)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx, opts, cfg, log)
			if err != nil {
				log.Error(ctx, "Failed to build command pipeline", err, nil)
				return err
			}
			defer a.close()

			throttle := httpadapter.NewNoopThrottle()
			if cfg.Auth.ThrottleEnabled {
				throttle = httpadapter.NewRedisThrottle(a.redis, httpadapter.ThrottleConfig{
					Requests:  cfg.Auth.ThrottleRequests,
					Window:    cfg.Auth.ThrottleWindow,
					BlockTime: cfg.Auth.ThrottleBlockTime,
				}, log)
			}

			var verifier *httpadapter.TokenVerifier
			if cfg.Auth.JWTSecret != "" {
				verifier = httpadapter.NewTokenVerifier(cfg.Auth.JWTSecret)
			} else {
				log.Warn(ctx, "No JWT secret configured; requests are attributed from X-Actor-ID", nil)
			}

			server := httpadapter.NewServer(httpadapter.ServerConfig{
				Host:           cfg.Server.Host,
				Port:           cfg.Server.Port,
				ReadTimeout:    cfg.Server.ReadTimeout,
				WriteTimeout:   cfg.Server.WriteTimeout,
				IdleTimeout:    cfg.Server.IdleTimeout,
				AllowAnonymous: cfg.Auth.AllowAnonymous || verifier == nil,
			}, httpadapter.ServerDeps{
				Commands: a.commands,
				Verifier: verifier,
				Throttle: throttle,
				Logger:   log,
			})

			// the limiter outlives the listener so draining requests can still reach the model
			limiterCtx, stopLimiter := context.WithCancel(context.Background())
			defer stopLimiter()

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return a.limiter.Run(limiterCtx) })
			g.Go(server.Start)
			g.Go(func() error {
				<-gctx.Done()
				defer stopLimiter()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			})

			if err := g.Wait(); err != nil {
				log.Error(context.Background(), "Server stopped with error", err, nil)
				return err
			}
			log.Info(context.Background(), "Server stopped", nil)
			return nil
		},
	}
	cmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 30*time.Second, "time allowed for in-flight requests on shutdown")
	return cmd
}
