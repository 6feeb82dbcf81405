package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"

	"example.com/carevisits/internal/config"
	"example.com/carevisits/internal/consumer"
	"example.com/carevisits/internal/integrations"
	persistence "example.com/carevisits/internal/persistence/postgres"
	"example.com/carevisits/libs/events"
)

func main() {
	cfg := config.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := log.New(os.Stdout, "visit-sync-consumer ", log.LstdFlags|log.LUTC)

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()

	var summarizer integrations.Summarizer = integrations.NoopSummarizer{}
	if cfg.SummarizerURL != "" {
		summarizer = integrations.NewHTTPSummarizer(cfg.SummarizerURL, cfg.SummarizerToken, cfg.CollaboratorTimeout)
	}
	var notifier integrations.Notifier = integrations.NoopNotifier{}
	if cfg.NotifyWebhookURL != "" {
		notifier = integrations.NewWebhookNotifier(cfg.NotifyWebhookURL, cfg.CollaboratorTimeout)
	}

	router := consumer.NewRouter(consumer.NewPersistenceHandler(pool)).
		Route(consumer.NewSummaryHandler(summarizer, persistence.NewRepository(pool), logger), events.TypeVisitCompleted).
		Route(consumer.NewNotificationHandler(notifier), consumer.NotificationEventTypes...)

	metricsSrv := &http.Server{Addr: cfg.MetricsAddress, Handler: promhttp.Handler()}
	go func() {
		log.Printf("consumer metrics listening on %s", cfg.MetricsAddress)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
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
		proc := consumer.NewProcessor(reader, router, consumer.WithLogger(logger))

		g.Go(func() error {
			defer reader.Close()
			log.Printf("consumer started (topic=%s, group=%s)", topic, cfg.ConsumerGroupID)
			if err := proc.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("consumer stopped with error (topic=%s): %v", topic, err)
				return err
			}
			return nil
		})
	}

	<-gctx.Done()
	log.Println("consumer shutdown requested")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("metrics server shutdown error: %v", err)
	}

	if err := g.Wait(); err != nil {
		log.Printf("consumer exited: %v", err)
	}
}
