package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"breakout-bot-go/internal/alpaca"
	"breakout-bot-go/internal/config"
	"breakout-bot-go/internal/database"
	"breakout-bot-go/internal/logger"
	"breakout-bot-go/internal/marketdata"
	"breakout-bot-go/internal/orders"
	"breakout-bot-go/internal/risk"
	"breakout-bot-go/internal/session"
	"breakout-bot-go/internal/strategy"
	"go.uber.org/zap"
)

func main() {
	// Load application configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		// We can't use the logger here because it's not initialized yet.
		panic(fmt.Sprintf("could not load config: %v", err))
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log.Info("Configuration loaded")

	// Market timezone for session timing and day rollover
	loc, err := time.LoadLocation(cfg.Risk.Timezone)
	if err != nil {
		log.Fatal("Invalid market timezone", zap.String("timezone", cfg.Risk.Timezone), zap.Error(err))
	}

	// Initialize the state database
	db, err := database.NewDatabase(cfg.Database.DSN)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database connection successful and schema migrated.")

	// Initialize the Alpaca REST client and probe connectivity
	client := alpaca.NewClient(&cfg.Alpaca, log)
	if _, err := client.GetAccountEquity(); err != nil {
		log.Fatal("Failed to connect to Alpaca API", zap.Error(err))
	}
	log.Info("Successfully connected to Alpaca API.")

	// Wire the core components
	ledger := risk.NewLedger(risk.Params{
		MaxDailyLossPercent: cfg.Risk.MaxDailyLossPercent,
		MaxTradesPerDay:     cfg.Risk.MaxTradesPerDay,
		DefaultRiskPercent:  cfg.Risk.DefaultRiskPercent,
		PointValue:          cfg.Risk.PointValue,
	}, risk.NewGormStore(db), loc, log)

	breakout, err := strategy.NewBreakout(strategy.Config{
		BreakoutOffsetPoints:  cfg.Trading.BreakoutOffsetPoints,
		StopLossPoints:        cfg.Trading.StopLossPoints,
		RiskRewardRatio:       cfg.Trading.RiskRewardRatio,
		MinRangeSize:          cfg.Trading.MinRangeSize,
		MaxRangeSize:          cfg.Trading.MaxRangeSize,
		UseDynamicStops:       cfg.Trading.UseDynamicStops,
		DynamicStopMultiplier: cfg.Trading.DynamicStopMultiplier,
	}, log)
	if err != nil {
		log.Fatal("Invalid strategy configuration", zap.Error(err))
	}

	fetcher := marketdata.NewFetcher(client, loc, log)
	manager := orders.NewManager(client, ledger, log)
	driver := session.NewDriver(cfg.Trading.Symbol, client, fetcher, breakout, ledger, manager, loc, log)

	// Setup context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigchan := make(chan os.Signal, 1)
		signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
		<-sigchan
		log.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	// Run the trading session
	if err := driver.Run(ctx); err != nil {
		log.Error("Trading session completed with errors", zap.Error(err))
	}

	// Never leave unmanaged bracket orders resting after the bot stops watching them.
	manager.Cleanup()

	log.Info("Bot has been shut down.")
}
