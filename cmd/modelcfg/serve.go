package main

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/modelcfg/internal/api"
	"github.com/samcharles93/modelcfg/internal/envcfg"
	"github.com/samcharles93/modelcfg/internal/logger"
)

func serveCmd() *cli.Command {
	var (
		addr        string
		readTimeout time.Duration
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve published descriptors over a read-only REST API",
		Flags: append(engineFlags(),
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8080",
				Destination: &addr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read header timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			ctx, err := setup(ctx, cmd)
			if err != nil {
				return err
			}
			log := logger.FromContext(ctx)
			applyString(cmd, "addr", userConfig.ServerAddress, &addr)

			metrics := api.NewMetrics()
			pc, err := providerConfig()
			if err != nil {
				return err
			}
			pc.OnPublish = metrics.Observe
			provider := api.NewCachedDescriptorProvider(pc)

			// Publish the default engine up front so a broken config fails the
			// command instead of the first request.
			if pc.DefaultEnginePath != "" {
				if _, err := provider.Snapshot(ctx, ""); err != nil {
					return err
				}
			}

			server := api.NewServer(provider, envcfg.Load(log), metrics)
			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)

			log.Info("starting server", "address", addr)
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					srv.Handler = metrics.Instrument(withLogger(srv.Handler, log))
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}

// withLogger makes log available to handlers through the request context.
func withLogger(next http.Handler, log logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(logger.WithContext(r.Context(), log)))
	})
}
