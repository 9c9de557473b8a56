// File: cmd/app/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ostrid-adapter/internal/config"
	"ostrid-adapter/internal/domain/model"
	"ostrid-adapter/internal/domain/ports/adapter"
	dirAdapter "ostrid-adapter/internal/infra/adapters/directory"
	ledgerAdapter "ostrid-adapter/internal/infra/adapters/ledger"
	verifyAdapter "ostrid-adapter/internal/infra/adapters/verify"
	"ostrid-adapter/internal/infra/a2a"
	"ostrid-adapter/internal/infra/bus"
	pg "ostrid-adapter/internal/infra/db/postgres"
	"ostrid-adapter/internal/infra/logging"
	"ostrid-adapter/internal/infra/metrics"
	red "ostrid-adapter/internal/infra/redis"
	"ostrid-adapter/internal/infra/sched"
	"ostrid-adapter/internal/infra/security"
	"ostrid-adapter/internal/infra/worker"
	"ostrid-adapter/internal/usecase"
)

const version = "0.3.0"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (noop ledger, console logs)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Info().Msg("dev mode enabled")
	}
	metrics.MustRegister()

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, &cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()
	tm := pg.NewTxManager(pool)

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis")
	}
	defer redisClient.Close()
	replays := red.NewReplayStore(redisClient, cfg.Redis.ReplayTTL)
	rateLimiter := red.NewRateLimiter(redisClient)
	locker := red.NewLocker(redisClient)

	// ---- Repositories ----
	jobRepo := pg.NewTaskJobRepo(pool)
	negotiationRepo := pg.NewNegotiationRepo(pool)
	escrowRepo := pg.NewEscrowRepo(pool)
	eventRepo := pg.NewEventRepo(pool)

	// ---- Collaborator adapters ----
	var ledgerClient adapter.LedgerClient
	if cfg.Runtime.Dev && cfg.Ledger.BaseURL == "" {
		ledgerClient = ledgerAdapter.NewNoopLedger()
		logger.Warn().Msg("ledger: noop (dev)")
	} else {
		ledgerClient = ledgerAdapter.NewRESTLedger(&cfg.Ledger)
		logger.Info().Str("base_url", cfg.Ledger.BaseURL).Str("chain", cfg.Ledger.Chain).Msg("ledger: rest")
	}

	var directory adapter.SpecialistDirectory = dirAdapter.NewHTTPDirectory(&cfg.Directory)
	directory = dirAdapter.NewCacheDecorator(directory, redisClient, cfg.Directory.RefreshEvery, logger)

	oracle := verifyAdapter.NewOracleVerifier(cfg.Validation.OracleURL, cfg.Directory.Timeout)
	zk := verifyAdapter.NewZKVerifier(cfg.Validation.VerifierURL, cfg.Directory.Timeout)

	// ---- Event bus ----
	eventBus := bus.New(logger)
	if cfg.AMQP.URL != "" {
		amqpPub, err := bus.NewAMQPPublisher(cfg.AMQP, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("amqp")
		}
		defer amqpPub.Close()
		eventBus.AddSink(amqpPub)
	}

	// ---- Workers ----
	workerPool := worker.NewPool(cfg.Server.Workers, logger)
	workerPool.Start(ctx)
	defer workerPool.Stop()
	dispatcher := worker.NewKeyedExecutor(workerPool)

	// ---- Use cases ----
	engine := usecase.NewNegotiationEngine(negotiationRepo, logger)
	escrow := usecase.NewEscrowCoordinator(escrowRepo, ledgerClient, cfg.Ledger.MaxRetry, cfg.Ledger.RetryBase, logger)
	attesting := usecase.NewAttestationService(model.ValidationMethod(cfg.Validation.DefaultMethod), oracle, zk, logger)
	lifecycle := usecase.NewLifecycleManager(
		jobRepo, eventRepo, tm,
		engine, escrow, attesting, directory,
		eventBus, dispatcher,
		usecase.LifecycleTimings{
			DiscoveryTimeout: cfg.Negotiation.DiscoveryTimeout,
			AuctionTick:      cfg.Negotiation.AuctionTick,
			AuctionDeadline:  cfg.Negotiation.AuctionDeadline,
			DisputeWindow:    cfg.Validation.DisputeWindow,
			BidFeeMicros:     cfg.Fees.BidMicros,
		},
		logger,
	)

	// ---- Protocol surface ----
	tokens := security.NewTokenManager(&cfg.Security)
	card := a2a.NewAgentCard(cfg, version)
	router := a2a.NewRouter(lifecycle, replays, rateLimiter, card, cfg.Fees, cfg.Negotiation.BidRateLimit, *logger)
	server := a2a.NewServer(router, lifecycle, tokens, card, eventBus, *logger)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: server.Handler(),
	}
	go func() {
		logger.Info().Str("addr", httpServer.Addr).Msg("http listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http server")
		}
	}()

	// ---- Background workers ----
	disputes := sched.NewDisputeWorker(lifecycle, jobRepo, locker, cfg.Validation.SweepEvery, cfg.Validation.DisputeWindow, *logger)
	go disputes.Start(ctx)
	gauge := sched.NewStateGaugeWorker(jobRepo, 30*time.Second, *logger)
	go gauge.Start(ctx)

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	logger.Info().Msg("shutdown requested")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)
	cancel()
}
