package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/IdrisKulubi/Student-Mail/internal/api"
	"github.com/IdrisKulubi/Student-Mail/internal/auth"
	"github.com/IdrisKulubi/Student-Mail/internal/config"
	"github.com/IdrisKulubi/Student-Mail/internal/eventstore/sqlite"
	"github.com/IdrisKulubi/Student-Mail/internal/logger"
	"github.com/IdrisKulubi/Student-Mail/internal/metrics"
	natsjs "github.com/IdrisKulubi/Student-Mail/internal/nats"
	"github.com/IdrisKulubi/Student-Mail/internal/providers/gmail"
	"github.com/IdrisKulubi/Student-Mail/internal/sync"
)

func main() {
	cfg := config.Load()
	log := logger.Must(cfg.IsDevelopment())
	defer log.Sync()

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := sqlite.Open(filepath.Join(cfg.DataDir, "mail.db"))
	if err != nil {
		log.Fatal("open store", zap.Error(err))
	}
	defer store.Close()

	ring, err := auth.OpenKeyring(cfg.KeyringDir, cfg.KeyringPassword)
	if err != nil {
		log.Fatal("open keyring", zap.Error(err))
	}
	credentials := auth.NewCredentialCache(ring, log.Named("credentials"))

	verifier, err := auth.NewJWTVerifier(cfg.JWKSURL, log.Named("jwt"))
	if err != nil {
		log.Fatal("init JWT verifier", zap.Error(err))
	}
	defer verifier.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	syncMetrics := metrics.NewSyncMetrics(registry)
	metrics.NewOutboxBacklog(registry, store)

	factory := gmail.NewFactory(log.Named("gmail"), gmail.Options{
		BatchSize:  cfg.SyncBatchSize,
		BatchDelay: cfg.SyncBatchDelay,
	})
	manager := sync.NewManager(store, credentials, factory, log.Named("sync"),
		sync.WithMaxResults(cfg.SyncMaxResults),
		sync.WithRunRecorder(store),
		sync.WithObserver(syncMetrics),
	)

	dispatchDone := make(chan struct{})
	if cfg.NatsURL != "" {
		publisher, err := natsjs.NewPublisher(cfg.NatsURL, log.Named("nats"))
		if err != nil {
			log.Fatal("connect NATS", zap.Error(err))
		}
		defer publisher.Close()

		if err := publisher.EnsureStream(ctx); err != nil {
			log.Fatal("ensure stream", zap.Error(err))
		}

		dispatcher := &sync.Dispatcher{Outbox: store, Publisher: publisher, Log: log.Named("outbox")}
		go func() {
			defer close(dispatchDone)
			dispatcher.Run(ctx)
		}()
	} else {
		log.Info("NATS_URL not set, outbox dispatch disabled")
		close(dispatchDone)
	}

	identity := auth.NewIdentityClient(cfg.AuthServerURL, cfg.TokenTimeout)
	handler := api.NewHandler(store, manager, credentials, identity, log.Named("api"))
	router := api.NewRouter(handler, verifier, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), log.Named("http"))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", zap.Error(err))
	}
	manager.Wait()
	<-dispatchDone
}
