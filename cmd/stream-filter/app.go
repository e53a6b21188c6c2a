package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"streamfilter/internal/api"
	"streamfilter/internal/broker"
	"streamfilter/internal/config"
	"streamfilter/internal/constants"
	"streamfilter/internal/filtering"
	"streamfilter/internal/logger"
	"streamfilter/pkg/bootstrap"
	"streamfilter/pkg/codec"
	"streamfilter/pkg/health"
	"streamfilter/pkg/logging"
	"streamfilter/pkg/metrics"
	"streamfilter/pkg/retry"
	"streamfilter/pkg/tracing"
)

// route is one running subscription: where messages come from, where the
// filtered result goes.
type route struct {
	sub    *filtering.Subscription
	source broker.Source
	sink   broker.Sink
}

type App struct {
	*bootstrap.Base
	registry       *filtering.Registry
	redis          *redis.Client
	routes         []route
	health         *health.CheckerRegistry
	tracerProvider *tracing.TracerProvider
	server         *http.Server
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName(constants.ServiceName)
	}
	return &App{
		Base:   bootstrap.NewBase(cfg, log),
		health: health.NewCheckerRegistry(),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	tp, err := tracing.Init(a.Config.Tracing, a.Config.Filtering)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.RegisterAll()

	if err := a.initRegistry(ctx); err != nil {
		return fmt.Errorf("failed to initialize filters: %w", err)
	}

	rdb, err := a.InitRedis(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize redis: %w", err)
	}
	a.redis = rdb

	if err := a.initRoutes(ctx); err != nil {
		return fmt.Errorf("failed to initialize subscriptions: %w", err)
	}

	a.initHealth()
	a.initHTTPServer(ctx)
	return nil
}

// initRegistry compiles every configured filter before any connection is
// opened, so a bad filter stops startup early.
func (a *App) initRegistry(ctx context.Context) error {
	engine, err := filtering.NewEngine(a.Config.Filtering.Engine)
	if err != nil {
		return err
	}
	encoding, err := codec.EncodingByName(a.Config.Filtering.PayloadEncoding)
	if err != nil {
		return err
	}

	a.registry = filtering.NewRegistry(engine, codec.New(encoding), a.Logger)
	for _, sc := range a.Config.Subscriptions {
		if _, err := a.registry.SubscribeConfig(ctx, sc); err != nil {
			return fmt.Errorf("subscription %s: %w", sc.Name, err)
		}
	}

	a.Logger.InfowCtx(ctx, "Filters compiled",
		"engine", engine.Name(),
		"payload_encoding", encoding.Name(),
		"subscriptions", len(a.Config.Subscriptions),
	)
	return nil
}

func (a *App) initRoutes(ctx context.Context) error {
	factory := broker.NewFactory(a.Config, a.redis, a.Logger)
	retryPolicy := retry.FromConfig(a.Config.Broker.Kafka.Retry)

	for _, sub := range a.registry.List() {
		source, err := factory.NewSource(sub.Source)
		if err != nil {
			return fmt.Errorf("subscription %s: %w", sub.Name, err)
		}
		a.Track("source "+sub.Name, source)

		sink, err := factory.NewSink(sub.Name, sub.Sink)
		if err != nil {
			return fmt.Errorf("subscription %s: %w", sub.Name, err)
		}
		// Kafka sources redeliver failed messages themselves.
		if source.Kind() != constants.SourceTypeKafka {
			sink = broker.NewRetryingSink(sink, retryPolicy, a.Logger)
		}
		a.Track("sink "+sub.Name, sink)

		a.routes = append(a.routes, route{sub: sub, source: source, sink: sink})
		a.Logger.InfowCtx(ctx, "Subscription wired",
			"subscription", sub.Name,
			"source", source.Kind(),
			"source_target", source.Target(),
			"sink", sink.Kind(),
			"sink_target", sink.Target(),
		)
	}
	return nil
}

func (a *App) initHealth() {
	usesKafka := false
	for _, r := range a.routes {
		if r.source.Kind() == constants.SourceTypeKafka || r.sink.Kind() == constants.SinkTypeKafka {
			usesKafka = true
		}
	}
	if usesKafka {
		a.health.Register(health.NewKafkaChecker(a.Config.Broker.Kafka.Brokers))
	}
	if a.redis != nil {
		a.health.Register(health.NewRedisChecker(a.redis))
	}
}

func (a *App) initHTTPServer(ctx context.Context) {
	router := api.NewRouter(ctx, api.RouterDeps{
		Config:   a.Config,
		Registry: a.registry,
		Health:   a.health,
		Logger:   a.Logger,
	})

	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      router,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
	}
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfowCtx(ctx, "HTTP server starting", "port", a.Config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	for _, r := range a.routes {
		r := r
		g.Go(func() error {
			routeCtx := logging.WithSubscription(gCtx, r.sub.Name)
			err := r.source.Consume(routeCtx, a.handler(r))
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("subscription %s: %w", r.sub.Name, err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gCtx.Done()
		return a.Shutdown(context.Background())
	})

	return g.Wait()
}

// handler filters one raw message and publishes the result. A publish error
// is returned so sources with redelivery can retry the whole message.
func (a *App) handler(r route) broker.HandlerFunc {
	return func(ctx context.Context, msg broker.Message) error {
		var publishErr error
		outcome := r.sub.Handle(ctx, string(msg.Value), func(out string) {
			publishErr = r.sink.Publish(ctx, broker.Message{Key: msg.Key, Value: []byte(out)})
		})
		if publishErr != nil {
			a.Logger.ErrorwCtx(ctx, "Failed to publish filtered message",
				"error", publishErr,
				"outcome", string(outcome),
				"sink", r.sink.Kind(),
				"sink_target", r.sink.Target(),
			)
			return publishErr
		}
		return nil
	}
}

func (a *App) Shutdown(ctx context.Context) error {
	shutdownCtx := logging.WithServiceName(ctx, constants.ServiceName)
	a.Logger.InfowCtx(shutdownCtx, "Shutting down stream filter")

	additionalShutdown := func(ctx context.Context) []error {
		var errs []error

		if a.server != nil {
			serverCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
			defer cancel()
			if err := a.server.Shutdown(serverCtx); err != nil {
				errs = append(errs, fmt.Errorf("HTTP server shutdown error: %w", err))
			}
		}

		if a.tracerProvider != nil {
			if err := a.tracerProvider.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
			}
		}

		return errs
	}

	return a.Base.Shutdown(shutdownCtx, additionalShutdown)
}
