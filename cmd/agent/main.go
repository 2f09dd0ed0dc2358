package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/cmorley/perp-agent/internal/ai"
	"github.com/cmorley/perp-agent/internal/config"
	"github.com/cmorley/perp-agent/internal/executor"
	"github.com/cmorley/perp-agent/internal/indicators"
	"github.com/cmorley/perp-agent/internal/journal"
	"github.com/cmorley/perp-agent/internal/logger"
	"github.com/cmorley/perp-agent/internal/risk"
	"github.com/cmorley/perp-agent/internal/scheduler"
	"github.com/cmorley/perp-agent/internal/storage"
	"github.com/cmorley/perp-agent/internal/telegram"
	"github.com/cmorley/perp-agent/internal/trade"
	"github.com/cmorley/perp-agent/internal/venue"
	"github.com/cmorley/perp-agent/internal/web"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	dbPath := flag.String("db", "data/perp-agent.db", "path to SQLite database")
	flag.Parse()

	// .env is optional; real deployments use environment variables directly
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level)

	mode := "LIVE"
	if cfg.Binance.Testnet {
		mode = "TESTNET"
	}
	log.Info("starting perp-agent", "mode", mode, "assets", cfg.Trading.Assets)

	db, err := storage.NewDatabase(*dbPath)
	if err != nil {
		log.Error("database init failed", "error", err)
		os.Exit(1)
	}
	repo := storage.NewRepository(db)

	j, err := journal.New(cfg.Trading.JournalPath, log)
	if err != nil {
		log.Error("journal init failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bv, err := venue.NewBinanceVenue(ctx, cfg, cfg.Trading.Assets, log)
	if err != nil {
		log.Error("venue init failed", "error", err)
		os.Exit(1)
	}

	taapi := indicators.NewClient(cfg, log)
	aiClient := ai.NewClient(cfg, taapi, log)
	notifier := telegram.NewNotifier(cfg, log)
	rm := risk.NewManager(risk.LimitsFromConfig(cfg), log)

	store := trade.NewStore()
	reconciler := trade.NewReconciler(store, j, log)
	exitEval := trade.NewExitEvaluator(taapi, bv, log)
	exec := executor.NewExecutor(bv, rm, store, j, repo, notifier, log)
	sched := scheduler.NewScheduler(bv, taapi, aiClient, exec, store, reconciler,
		exitEval, rm, j, repo, notifier, cfg, log)
	webServer := web.NewServer(j, repo, store, cfg, log)

	go sched.Run(ctx)

	go func() {
		if err := webServer.Start(); err != nil {
			log.Error("web server error", "error", err)
		}
	}()

	notifier.NotifyStatus(fmt.Sprintf("🤖 perp-agent started (%s)", mode))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutdown signal received", "signal", sig.String())

	cancel() // stop scheduler

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := webServer.Shutdown(shutdownCtx); err != nil {
		log.Error("web server shutdown error", "error", err)
	}

	notifier.NotifyStatus("🛑 perp-agent stopped")
	log.Info("perp-agent stopped")
}
