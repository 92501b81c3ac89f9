package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/seilylook/Image-Filter-Resize-Service/internal/api/handlers/image"
	"github.com/seilylook/Image-Filter-Resize-Service/internal/api/router"
	"github.com/seilylook/Image-Filter-Resize-Service/internal/api/server"
	"github.com/seilylook/Image-Filter-Resize-Service/internal/config"
	"github.com/seilylook/Image-Filter-Resize-Service/internal/infra/kafka/consumer"
	"github.com/seilylook/Image-Filter-Resize-Service/internal/infra/kafka/producer"
	imagemsg "github.com/seilylook/Image-Filter-Resize-Service/internal/kafka/handlers/image"
	"github.com/seilylook/Image-Filter-Resize-Service/internal/metrics"
	"github.com/seilylook/Image-Filter-Resize-Service/internal/processor"
	"github.com/seilylook/Image-Filter-Resize-Service/internal/repository/delivery"
	imagerepo "github.com/seilylook/Image-Filter-Resize-Service/internal/repository/image"
	"github.com/seilylook/Image-Filter-Resize-Service/internal/repository/migrations"
	imagesvc "github.com/seilylook/Image-Filter-Resize-Service/internal/service/image"
	"github.com/seilylook/Image-Filter-Resize-Service/internal/storage/file"
	"github.com/seilylook/Image-Filter-Resize-Service/internal/taskqueue"
)

func main() {
	configPath := pflag.String("config", "./config/config.yml", "path to the configuration file")
	pflag.String("role", config.RoleAll, "process role: api, worker or all")
	pflag.Parse()

	// Context & signals: used for graceful shutdown on system interrupts.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize logger and load application configuration.
	zlog.Init()
	if err := godotenv.Load(); err != nil {
		zlog.Logger.Info().Msg("no .env file, using process environment")
	}
	cfg := config.MustLoad(*configPath, pflag.CommandLine)

	// Connect to PostgreSQL (master and slaves).
	opts := &dbpg.Options{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}

	// Collect slave DSNs for replica connections.
	slaveDSNs := make([]string, 0, len(cfg.Database.Slaves))
	for _, s := range cfg.Database.Slaves {
		slaveDSNs = append(slaveDSNs, s.DSN())
	}

	db, err := dbpg.New(cfg.Database.Master.DSN(), slaveDSNs, opts)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	if err := migrations.Up(db.Master); err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to apply migrations")
	}

	// Retry strategy for Kafka and other external calls.
	strategy := retry.Strategy{
		Attempts: cfg.Retry.Attempts,
		Delay:    cfg.Retry.Delay,
		Backoff:  cfg.Retry.Backoff,
	}

	// Initialize file storage (MinIO).
	storage, err := file.NewStorage(ctx, cfg.Storage)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to connect to storage")
	}

	// Metrics registry shared by every component of this process.
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(reg)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to register metrics")
	}

	repo := imagerepo.NewRepository(db)

	var (
		wg        sync.WaitGroup
		srv       *http.Server
		tasks     *taskqueue.Queue
		producers []*producer.Producer
	)

	if cfg.RunsAPI() {
		requests := producer.New(cfg.Kafka.Brokers, cfg.Kafka.Topic, strategy)
		producers = append(producers, requests)

		tasks = taskqueue.New(cfg.Background, m)
		tasks.Start()

		service := imagesvc.NewService(storage, repo, requests, tasks, cfg.Storage, cfg.Upload, cfg.Background, m)
		imgHandler := image.NewHandler(service, cfg.Upload.MaxBytes)

		// Start HTTP server in a separate goroutine.
		srv = server.New(cfg.Server, router.Setup(imgHandler))
		go func() {
			zlog.Logger.Info().Str("addr", cfg.Server.HTTPPort).Msg("starting http server")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				zlog.Logger.Fatal().Err(err).Msg("failed to start server")
			}
		}()
	}

	if cfg.RunsWorker() {
		deadLetters := producer.New(cfg.Kafka.Brokers, cfg.Kafka.DeadLetterTopic, strategy)
		producers = append(producers, deadLetters)

		handler := newProcessingHandler(cfg, storage, repo, strategy, m, &producers)
		tracker := delivery.NewTracker(db)

		// Start Kafka consumer in a separate goroutine.
		c := consumer.New(cfg.Kafka, cfg.Worker, strategy, handler, tracker, deadLetters, m)
		wg.Add(1)
		go c.Consume(ctx, &wg)
	}

	var metricsSrv *http.Server
	if cfg.Metrics.Addr != "" {
		metricsSrv = metrics.NewServer(cfg.Metrics.Addr, reg)
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				zlog.Logger.Error().Err(err).Msg("metrics server stopped")
			}
		}()
	}

	// Block until context is canceled (SIGINT/SIGTERM).
	<-ctx.Done()
	zlog.Logger.Info().Msg("context done")

	// Wait for Kafka consumer goroutine to finish.
	wg.Wait()

	// Graceful shutdown with timeout for HTTP servers.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, s := range []*http.Server{srv, metricsSrv} {
		if s == nil {
			continue
		}
		if err := s.Shutdown(shutdownCtx); err != nil {
			zlog.Logger.Error().Err(err).Str("addr", s.Addr).Msg("failed to shutdown server")
		}
	}
	if errors.Is(shutdownCtx.Err(), context.DeadlineExceeded) {
		zlog.Logger.Info().Msg("timeout exceeded, forcing shutdown")
	}

	// Drain pending metadata writes before the database goes away.
	if tasks != nil {
		if err := tasks.Stop(cfg.Background.TaskTimeout + time.Second); err != nil {
			zlog.Logger.Error().Err(err).Msg("background tasks did not finish")
		}
	}

	// Close Kafka producers.
	for _, p := range producers {
		if err := p.Close(); err != nil {
			zlog.Logger.Error().Err(err).Str("topic", p.Topic()).Msg("failed to close kafka producer client")
		}
	}

	// Close master and slave databases.
	if err := db.Master.Close(); err != nil {
		zlog.Logger.Printf("failed to close master DB: %v", err)
	}
	for i, s := range db.Slaves {
		if err := s.Close(); err != nil {
			zlog.Logger.Printf("failed to close slave DB %d: %v", i, err)
		}
	}
}

// newProcessingHandler wires the worker state machine. The results producer
// is created only when a result topic is configured.
func newProcessingHandler(
	cfg *config.Config,
	storage *file.Storage,
	repo *imagerepo.Repository,
	strategy retry.Strategy,
	m *metrics.Metrics,
	producers *[]*producer.Producer,
) *imagemsg.ProcessingHandler {
	proc := processor.New(cfg.Processor)

	if cfg.Kafka.ResultTopic == "" {
		return imagemsg.NewProcessingHandler(storage, repo, proc, nil, cfg.Storage.ProcessedBucket, m)
	}

	results := producer.New(cfg.Kafka.Brokers, cfg.Kafka.ResultTopic, strategy)
	*producers = append(*producers, results)

	return imagemsg.NewProcessingHandler(storage, repo, proc, results, cfg.Storage.ProcessedBucket, m)
}
