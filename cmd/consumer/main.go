package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"

	"example.com/activityboard/internal/config"
	"example.com/activityboard/internal/consumer"
	"example.com/activityboard/internal/domain"
	"example.com/activityboard/internal/events"
	"example.com/activityboard/internal/outbox"
	"example.com/activityboard/internal/persistence/postgres"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger(cfg.LogLevel)
	log := logger.WithField("service", "activityboard-consumer")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.PostgresURL == "" {
		log.Fatal("POSTGRES_URL is required for the consumer")
	}
	if len(cfg.KafkaBrokers) == 0 {
		log.Fatal("KAFKA_BROKERS is required for the consumer")
	}

	thresholds, err := config.LoadThresholds(cfg.AthleteConfig)
	if err != nil {
		log.WithError(err).Fatal("failed to load athlete thresholds")
	}

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to postgres")
	}
	defer pool.Close()

	producer := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.EventsTopic)
	defer producer.Close()

	dispatcher := outbox.NewDispatcher(pool, producer, cfg.OutboxPollInterval, cfg.OutboxBatchSize,
		outbox.WithLogger(logger.WithField("component", "outbox")))
	go dispatcher.Start(ctx)

	repo := postgres.NewRepository(pool, postgres.WithCreateHook(outbox.NewPublisher(cfg.EventsTopic).Stage))
	service := domain.NewService(repo, thresholds,
		domain.WithLogger(logger.WithField("component", "domain")),
	)
	handler := consumer.NewIngestHandler(service, logger.WithField("component", "ingest"))

	metricsSrv := &http.Server{Addr: cfg.MetricsAddress, Handler: promhttp.Handler()}

	go func() {
		log.WithField("address", cfg.MetricsAddress).Info("consumer metrics listening")
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("metrics server error")
		}
	}()

	var wg sync.WaitGroup
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	for _, topic := range cfg.ConsumerTopics {
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:         cfg.KafkaBrokers,
			GroupID:         cfg.ConsumerGroupID,
			Topic:           topic,
			MinBytes:        1e3,
			MaxBytes:        10e6,
			CommitInterval:  time.Second,
			RetentionTime:   24 * time.Hour,
			ReadLagInterval: -1,
		})

		topicLog := log.WithField("topic", topic)
		proc := consumer.NewProcessor(reader, handler, consumer.WithLogger(topicLog))

		wg.Add(1)
		go func(r *kafka.Reader) {
			defer wg.Done()
			defer r.Close()

			topicLog.WithField("group", cfg.ConsumerGroupID).Info("consumer started")
			if err := proc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				topicLog.WithError(err).Error("consumer stopped with error")
			}
		}(reader)
	}

	<-stop
	log.Info("consumer shutdown requested")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("metrics server shutdown error")
	}

	wg.Wait()
	dispatcher.Wait()
}
