package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"

	"github.com/DollDevil/IBV3/internal/api"
	"github.com/DollDevil/IBV3/internal/auth"
	"github.com/DollDevil/IBV3/internal/config"
	"github.com/DollDevil/IBV3/internal/consumer"
	"github.com/DollDevil/IBV3/internal/domain"
	"github.com/DollDevil/IBV3/internal/outbox"
	persistence "github.com/DollDevil/IBV3/internal/persistence/postgres"
	"github.com/DollDevil/IBV3/internal/pool"
	"github.com/DollDevil/IBV3/internal/tracker"
	httptransport "github.com/DollDevil/IBV3/internal/transport/http"
)

func main() {
	cfg := config.Load()

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		log.Fatalf("invalid timezone %q: %v", cfg.Timezone, err)
	}

	profile := domain.StandardProfile()
	if cfg.DamageProfile == "capped" {
		profile = domain.CappedProfile()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer db.Close()

	repo := persistence.NewRepository(db)
	eventCache := tracker.NewActiveEventCache(repo, cfg.EventCacheTTL)
	service := domain.NewService(repo, domain.WithEventCache(eventCache))
	trk := tracker.New(eventCache, tracker.Options{
		MessageCooldown: cfg.MessageCooldown,
		VoiceDecayAfter: cfg.VoiceDecayAfter,
		SpamChannelID:   cfg.SpamChannelID,
		Location:        loc,
	})

	flusher := tracker.NewFlusher(trk, repo, repo, cfg.FlushInterval)
	if err := flusher.Restore(ctx); err != nil {
		log.Fatalf("failed to restore counters from checkpoints: %v", err)
	}
	go flusher.Start(ctx)

	scaler := pool.NewScaler(repo, loc)
	ticker := pool.NewTicker(repo, scaler, profile, cfg.TickInterval, loc)
	go ticker.Start(ctx)

	producer := outbox.NewKafkaProducer(cfg.KafkaBrokers)
	defer producer.Close()

	registry := outbox.NewSchemaRegistryClient(cfg.SchemaRegistryURL)
	dispatcher := outbox.NewDispatcher(db, producer, registry, cfg.OutboxPollInterval, cfg.OutboxBatchSize)
	go dispatcher.Start(ctx)

	intake := consumer.NewIntakeHandler(trk, eventCache)

	var wg sync.WaitGroup
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

		proc := consumer.NewProcessor(reader, intake)

		wg.Add(1)
		go func(topic string, r *kafka.Reader) {
			defer wg.Done()
			defer r.Close()

			log.Printf("intake consumer started (topic=%s, group=%s)", topic, cfg.ConsumerGroupID)
			if err := proc.Run(ctx); err != nil && err != context.Canceled {
				log.Printf("intake consumer stopped with error (topic=%s): %v", topic, err)
			}
		}(topic, reader)
	}

	handler := api.NewHandler(service)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	logged := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Printf("%s %s", r.Method, r.URL.Path)
			next.ServeHTTP(w, r)
		})
	}

	authMiddleware := auth.NewMiddleware(
		auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer},
		func(r *http.Request) bool { return r.URL.Path == "/healthz" },
	)

	server := httptransport.NewServer(
		httptransport.ServerConfig{Address: cfg.HTTPAddress},
		authMiddleware.Wrap(logged(mux)),
	)

	metricsSrv := &http.Server{Addr: cfg.MetricsAddress, Handler: promhttp.Handler()}

	go func() {
		log.Printf("metrics listening on %s", cfg.MetricsAddress)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()

	go func() {
		log.Printf("event service listening on %s", cfg.HTTPAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("shutdown requested")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("metrics server shutdown error: %v", err)
	}

	wg.Wait()
	flusher.Wait()
	ticker.Wait()
	dispatcher.Wait()
}
