package cmd

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/greenfield-iot/agrialert/internal/alerting"
	api "github.com/greenfield-iot/agrialert/internal/api/v2"
	"github.com/greenfield-iot/agrialert/internal/conf"
	"github.com/greenfield-iot/agrialert/internal/datastore"
	"github.com/greenfield-iot/agrialert/internal/errors"
	"github.com/greenfield-iot/agrialert/internal/logger"
	"github.com/greenfield-iot/agrialert/internal/mqtt"
	"github.com/greenfield-iot/agrialert/internal/notification"
	"github.com/greenfield-iot/agrialert/internal/observability/metrics"
)

const (
	shutdownTimeout    = 15 * time.Second
	sentryFlushTimeout = 2 * time.Second
	redisPingTimeout   = 5 * time.Second
)

func serveCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the alert engine, sensor feed and HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, log, err := opts.load(os.Stdout)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, settings, log)
		},
	}
}

// serve runs until ctx is cancelled or a component fails. Ingest stops
// first, then the bus drains and in-flight dispatches finish.
func serve(ctx context.Context, settings *conf.Settings, log logger.Logger) error {
	if err := errors.InitSentry(settings.Sentry.DSN, settings.Sentry.Environment, Version); err != nil {
		return err
	}
	defer errors.FlushSentry(sentryFlushTimeout)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	db, err := datastore.Open(&settings.Database, log)
	if err != nil {
		return err
	}
	defer func() { _ = datastore.Close(db) }()

	rdb, err := openRedis(ctx, settings)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer func() { _ = rdb.Close() }()
	}

	notification.Initialize(&settings.Notification, log)
	svc, err := alerting.Initialize(settings, alerting.Deps{
		DB:      db,
		Redis:   rdb,
		Sender:  notification.GetDispatcher(),
		Metrics: m,
	}, log)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	if settings.MQTT.Enabled {
		client := mqtt.NewClient(&settings.MQTT, svc.Bus, log, m)
		if err := client.Connect(gctx); err != nil {
			svc.Stop()
			return err
		}
		g.Go(func() error {
			<-gctx.Done()
			client.Disconnect()
			return nil
		})
	}

	if settings.WebServer.Enabled {
		e := newServer(gctx, svc, settings, log, m, reg)
		g.Go(func() error {
			log.Info("http server listening", logger.String("addr", settings.WebServer.Listen))
			if err := e.Start(settings.WebServer.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return errors.New(err).
					Component("serve").
					Category(errors.CategoryNetwork).
					Context("listen", settings.WebServer.Listen).
					Build()
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return e.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		return nil
	})

	err = g.Wait()
	svc.Stop()
	log.Info("stopped")
	return err
}

func newServer(ctx context.Context, svc *alerting.Service, settings *conf.Settings, log logger.Logger, m *metrics.Metrics, reg *prometheus.Registry) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	api.New(ctx, e, svc, &settings.WebServer, log, m)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))
	return e
}

// openRedis connects to redis when it backs the debounce gate, and returns
// nil otherwise.
func openRedis(ctx context.Context, settings *conf.Settings) (redis.UniversalClient, error) {
	if settings.Alerting.Debounce.Store != conf.DebounceStoreRedis {
		return nil, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     settings.Redis.Addr,
		Password: settings.Redis.Password,
		DB:       settings.Redis.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.New(err).
			Component("serve").
			Category(errors.CategoryNetwork).
			Context("addr", settings.Redis.Addr).
			Build()
	}
	return rdb, nil
}
