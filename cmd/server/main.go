package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/agrovision/advisory-chat/internal/api"
	"github.com/agrovision/advisory-chat/internal/application"
	"github.com/agrovision/advisory-chat/internal/cache"
	"github.com/agrovision/advisory-chat/internal/config"
	"github.com/agrovision/advisory-chat/internal/directory"
	"github.com/agrovision/advisory-chat/internal/dispatcher"
	"github.com/agrovision/advisory-chat/internal/handlers"
	"github.com/agrovision/advisory-chat/internal/index"
	"github.com/agrovision/advisory-chat/internal/kafka"
	"github.com/agrovision/advisory-chat/internal/notifier"
	"github.com/agrovision/advisory-chat/internal/observability"
	"github.com/agrovision/advisory-chat/internal/outbox"
	"github.com/agrovision/advisory-chat/internal/repository"
	"github.com/agrovision/advisory-chat/internal/repository/memory"
	"github.com/agrovision/advisory-chat/internal/repository/mongo"
	"github.com/agrovision/advisory-chat/internal/repository/postgres"
	"github.com/agrovision/advisory-chat/internal/router"
	"github.com/agrovision/advisory-chat/internal/tx"
	"github.com/agrovision/advisory-chat/internal/websocket"
)

const outboxMaxRetries = 10

func main() {
	cfg := config.Load()

	observability.InitLogger(cfg.ServiceName, cfg.LogLevel)
	log := observability.Log
	defer log.Sync()

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	if cfg.TracingEnabled {
		tp, err := observability.InitTracer(cfg.ServiceName, cfg.JaegerURL)
		if err != nil {
			log.Fatal("failed to initialize tracer", zap.Error(err))
		}
		defer tp.Shutdown(context.Background())
	}

	ctx, cancel := setupSignalHandler(log)
	defer cancel()

	store, db, closeStore := initStore(ctx, cfg, log)
	defer closeStore()
	guarded := repository.NewGuarded(store, uint32(cfg.StoreBreakerFailures), cfg.StoreBreakerTimeout)

	var redisCache *cache.Cache
	if cfg.RedisAddr != "" {
		redisCache = cache.New(cfg.RedisAddr)
		if err := redisCache.Ping(ctx); err != nil {
			log.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer redisCache.Close()
	}

	var idxOpts []index.Option
	if redisCache != nil {
		idxOpts = append(idxOpts, index.WithCache(&cache.Summaries{C: redisCache, TTL: cfg.SummaryCacheTTL}))
	}
	idx := index.New(guarded, idxOpts...)

	hub := notifier.NewHub(notifier.WithBufferSize(cfg.SubscriberBuffer))
	disp := dispatcher.New(hub, idx)

	opts := []application.Option{
		application.WithDirectory(initDirectory(db, redisCache, cfg)),
		application.WithPageSize(cfg.HistoryPageSize),
	}

	g, gctx := errgroup.WithContext(ctx)

	switch cfg.FanoutMode {
	case config.FanoutRedis:
		rtr := router.New(redisCache.Client, cfg.InstanceID)
		opts = append(opts, application.WithPublisher(rtr))
		g.Go(func() error { return rtr.Run(gctx, disp.Handle) })

	case config.FanoutKafka:
		opts = append(opts, application.WithPublisher(application.OutboxRelay{}))

		producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
		worker := &outbox.Worker{
			DB:         db,
			Producer:   producer,
			BatchSize:  cfg.OutboxBatchSize,
			PollDelay:  cfg.OutboxPollDelay,
			MaxRetries: outboxMaxRetries,
		}
		g.Go(func() error { return worker.Run(gctx) })

		consumer, err := kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.ServiceName+"-"+cfg.InstanceID, disp)
		if err != nil {
			log.Fatal("failed to create kafka consumer", zap.Error(err))
		}
		defer consumer.Close()
		g.Go(func() error { return consumer.Run(gctx) })
	}

	svc := application.New(guarded, idx, hub, log, opts...)
	reg := websocket.NewRegistry()

	handler := api.NewRouter(cfg,
		handlers.NewMessageHandler(svc),
		handlers.NewConversationHandler(svc),
		websocket.NewHandler(reg, svc, cfg.CORSAllowedOrigins),
		guarded,
	)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		log.Info("starting http server",
			zap.String("addr", cfg.HTTPAddr),
			zap.String("store_backend", cfg.StoreBackend),
			zap.String("fanout_mode", cfg.FanoutMode),
			zap.String("instance_id", cfg.InstanceID),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		performGracefulShutdown(srv, reg, hub, log)
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server stopped with error", zap.Error(err))
	}
	log.Info("shutdown complete, exiting")
}

func setupSignalHandler(log *zap.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("received signal, initiating shutdown", zap.String("signal", sig.String()))
		cancel()
	}()
	return ctx, cancel
}

// initStore opens the configured backend. db is only set for postgres.
func initStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (repository.Store, *sql.DB, func()) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			log.Fatal("failed to open postgres", zap.Error(err))
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.PingContext(ctx); err != nil {
			log.Fatal("failed to connect to postgres", zap.Error(err))
		}
		if err := postgres.Migrate(ctx, db); err != nil {
			log.Fatal("failed to migrate schema", zap.Error(err))
		}

		store := &postgres.Store{
			DB:     db,
			Tx:     &tx.Manager{DB: db},
			Outbox: cfg.FanoutMode == config.FanoutKafka,
		}
		return store, db, func() { db.Close() }

	case config.BackendMongo:
		store, err := mongo.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			log.Fatal("failed to connect to mongo", zap.Error(err))
		}
		return store, nil, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			store.Close(ctx)
		}

	default:
		log.Warn("using the in-memory store; messages are lost on restart")
		return memory.New(), nil, func() {}
	}
}

func initDirectory(db *sql.DB, c *cache.Cache, cfg *config.Config) *directory.Directory {
	if db == nil {
		return directory.New(directory.Static{})
	}

	var src directory.Source = &directory.Postgres{DB: db}
	if c != nil {
		src = &directory.Cached{
			Source: src,
			Cache:  &cache.Profiles{C: c, TTL: cfg.DirectoryCacheTTL},
		}
	}
	return directory.New(src)
}

func performGracefulShutdown(srv *http.Server, reg *websocket.Registry, hub *notifier.Hub, log *zap.Logger) {
	log.Info("shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	reg.CloseAll()
	hub.Close()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("error during http server shutdown", zap.Error(err))
	}
}
