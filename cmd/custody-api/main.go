package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/AnamikaSharma1509/supplychain-authentication-using-blockchain-system/chain"
	"github.com/AnamikaSharma1509/supplychain-authentication-using-blockchain-system/config"
	"github.com/AnamikaSharma1509/supplychain-authentication-using-blockchain-system/ledger"
	"github.com/AnamikaSharma1509/supplychain-authentication-using-blockchain-system/repository"
	"github.com/AnamikaSharma1509/supplychain-authentication-using-blockchain-system/server"
	"github.com/AnamikaSharma1509/supplychain-authentication-using-blockchain-system/srvreg"

	cmtcfg "github.com/cometbft/cometbft/config"
	cmtflags "github.com/cometbft/cometbft/libs/cli/flags"
	cmtlog "github.com/cometbft/cometbft/libs/log"
)

func main() {
	configFile := flag.String("config", "", "Config file path (optional, defaults to custody.toml on the search path)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Loading configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	logger := cmtlog.NewTMLogger(cmtlog.NewSyncWriter(os.Stdout))
	logger, err = cmtflags.ParseLogLevel(cfg.Log.Level, logger, cmtcfg.DefaultLogLevel)
	if err != nil {
		log.Fatalf("Failed to parse log level: %v", err)
	}
	mainLogger := logger.With("module", "main")
	mainLogger.Info("Configuration loaded",
		"env", cfg.App.Env,
		"db_driver", cfg.Database.Driver,
		"chain_mode", cfg.Chain.Mode,
		"lock_backend", cfg.Lock.Backend,
	)

	// Relational ledger
	repo := repository.NewRepository(logger.With("module", "repository"))
	if err := repo.ConnectDB(repository.Options{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.GetDSN(),
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnectAttempts: cfg.Database.ConnectAttempts,
		RetryDelay:      cfg.Database.RetryDelay,
		Seed:            cfg.Database.Seed,
	}); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer repo.Close()

	// Chain ledger
	var adapter chain.Adapter
	switch cfg.Chain.Mode {
	case chain.ModeCometBFT:
		comet, err := chain.DialCometAdapter(cfg.Chain.RPCEndpoint, cfg.Chain.CallTimeout, logger.With("module", "chain"))
		if err != nil {
			log.Fatalf("Failed to create chain client: %v", err)
		}
		adapter = comet
	default:
		adapter = chain.NewMockAdapter(logger.With("module", "chain"))
	}
	if err := adapter.Ping(context.Background()); err != nil {
		mainLogger.Error("Chain health check failed; writes will fail until the node is reachable", "err", err)
	} else {
		mainLogger.Info("Chain connection verified", "mode", adapter.Mode())
	}

	// Per-product lock
	var locker ledger.Locker
	switch cfg.Lock.Backend {
	case "redis":
		redisLocker, err := ledger.NewRedisLocker(ledger.RedisLockerConfig{
			Addr:     cfg.Lock.RedisAddr,
			Password: cfg.Lock.RedisPassword,
			DB:       cfg.Lock.RedisDB,
			TTL:      cfg.Lock.TTL,
		}, logger.With("module", "lock"))
		if err != nil {
			log.Fatalf("Failed to connect to redis: %v", err)
		}
		defer redisLocker.Close()
		locker = redisLocker
	default:
		locker = ledger.NewKeyedMutex()
	}

	ledgerLogger := logger.With("module", "ledger")
	coordinator := ledger.NewCoordinator(repo, adapter, locker, ledger.Config{
		CallTimeout:      cfg.Chain.CallTimeout,
		CustodianAddress: cfg.Chain.CustodianAddress,
	}, ledgerLogger)
	reconciler := ledger.NewReconciler(repo, adapter, locker, cfg.Reconcile.BatchSize, ledgerLogger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if cfg.Reconcile.Enabled {
		go reconciler.Run(ctx, cfg.Reconcile.Interval)
	}

	serviceRegistry := srvreg.NewServiceRegistry(coordinator, reconciler, logger.With("module", "srvreg"))
	serviceRegistry.RegisterDefaultServices()

	webServer := server.NewWebServer(cfg.App.HTTPPort, serviceRegistry, adapter.Mode(), logger.With("module", "server"))
	if err := webServer.Start(); err != nil {
		log.Fatalf("Failed to start web server: %v", err)
	}
	mainLogger.Info("Custody API ready", "url", "http://localhost:"+cfg.App.HTTPPort)

	// Wait for interrupt signal to gracefully shut down
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	mainLogger.Info("Shutdown signal received")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer shutdownCancel()
	if err := webServer.Shutdown(shutdownCtx); err != nil {
		mainLogger.Error("Error shutting down web server", "err", err)
	}
	mainLogger.Info("Custody API stopped")
}
