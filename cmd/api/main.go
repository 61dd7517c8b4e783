package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/activityboard/internal/api"
	"example.com/activityboard/internal/auth"
	"example.com/activityboard/internal/config"
	"example.com/activityboard/internal/domain"
	"example.com/activityboard/internal/events"
	"example.com/activityboard/internal/observability"
	"example.com/activityboard/internal/outbox"
	"example.com/activityboard/internal/persistence/memory"
	"example.com/activityboard/internal/persistence/postgres"
	"example.com/activityboard/internal/render"
	httptransport "example.com/activityboard/internal/transport/http"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger(cfg.LogLevel)
	log := logger.WithField("service", "activityboard-api")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	thresholds, err := config.LoadThresholds(cfg.AthleteConfig)
	if err != nil {
		log.WithError(err).Fatal("failed to load athlete thresholds")
	}

	var (
		repo domain.ActivityRepository
		pool *pgxpool.Pool
	)
	if cfg.PostgresURL == "" {
		log.Warn("POSTGRES_URL not set, using in-memory store")
		repo = memory.NewRepository()
	} else {
		pool, err = pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			log.WithError(err).Fatal("failed to connect to postgres")
		}
		defer pool.Close()

		if cfg.AutoMigrate {
			applied, err := postgres.Migrate(ctx, pool)
			if err != nil {
				log.WithError(err).Fatal("failed to migrate database")
			}
			log.WithField("applied", applied).Info("database migrated")
		}
	}

	var publisher domain.Publisher = events.NoopPublisher{}
	var dispatcher *outbox.Dispatcher
	var repoOpts []postgres.Option
	if len(cfg.KafkaBrokers) > 0 {
		producer := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.EventsTopic)
		defer producer.Close()

		if pool == nil {
			publisher = producer
		} else {
			// Recorded events are staged in the activity's own transaction.
			repoOpts = append(repoOpts, postgres.WithCreateHook(outbox.NewPublisher(cfg.EventsTopic).Stage))
			dispatcher = outbox.NewDispatcher(pool, producer, cfg.OutboxPollInterval, cfg.OutboxBatchSize,
				outbox.WithLogger(logger.WithField("component", "outbox")))
			go dispatcher.Start(ctx)
		}
	}
	if pool != nil {
		repo = postgres.NewRepository(pool, repoOpts...)
	}

	service := domain.NewService(repo, thresholds,
		domain.WithPublisher(publisher),
		domain.WithLogger(logger.WithField("component", "domain")),
	)

	renderer := render.NewRenderer(
		render.WithTableID(cfg.TableID),
		render.WithLogger(logger.WithField("component", "render")),
		render.WithObserver(func(rows int, err error) {
			observability.RecordRender(rows, render.Reason(err))
		}),
	)

	handler := api.NewHandler(service,
		api.WithRenderer(renderer),
		api.WithModulePath(cfg.ModulePath),
		api.WithWindowDays(cfg.WindowDays),
		api.WithLogger(logger.WithField("component", "api")),
	)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	authMiddleware := auth.NewMiddleware(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer})

	server := httptransport.NewServer(httptransport.ServerConfig{
		Address:      cfg.HTTPAddress,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}, httptransport.RequestLogger(logger.WithField("component", "http"),
		httptransport.CORS("http://localhost:5173", authMiddleware.Wrap(mux))))

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.WithField("address", cfg.HTTPAddress).Info("activityboard api listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server error")
		}
	}()

	<-shutdownCh
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("graceful shutdown failed")
	}
	if dispatcher != nil {
		dispatcher.Wait()
	}
}
