package app

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	logger "github.com/sirupsen/logrus"

	"utrader/src/assets"
	"utrader/src/connectors"
	"utrader/src/database"
	"utrader/src/executor"
	"utrader/src/fanout"
	"utrader/src/health"
	"utrader/src/model"
	"utrader/src/repository"
	"utrader/src/scanner"
	"utrader/src/server"
)

func SetupLogger() {
	levelStr := strings.ToLower(os.Getenv("LOG_LEVEL"))

	level, err := logger.ParseLevel(levelStr)
	if err != nil {
		level = logger.DebugLevel
	}

	logger.SetLevel(level)
	logger.SetFormatter(&logger.TextFormatter{
		FullTimestamp: true,
	})
}

// Run wires the whole service together and blocks until ctx is cancelled:
// database, scanner registry, executor loop, telegram fan-out, health
// monitor and the HTTP surface.
func Run(ctx context.Context) error {
	if err := godotenv.Load(); err != nil {
		logger.WithError(err).Debug("no .env file loaded")
	}
	SetupLogger()

	if err := database.InitMainDB(); err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}

	signalRepo := repository.NewSignalRepository()
	orderRepo := repository.NewOrderRepository()
	keyRepo := repository.NewApiKeyRepository()
	eventRepo := repository.NewTradingEventRepository()
	alertRepo := repository.NewAlertRepository()
	telegramRepo := repository.NewTelegramRepository()
	configRepo := repository.NewSymbolConfigRepository()

	if err := configRepo.EnsureDefaults(ctx, defaultConfigs()); err != nil {
		return err
	}

	venue := connectors.NewClient()
	if err := venue.SyncTime(ctx); err != nil {
		logger.WithError(err).Warn("venue time sync failed, continuing with local clock")
	}

	nudge := make(chan struct{}, 1)
	registry := scanner.NewRegistry(scanner.Deps{
		Candles: venue,
		Signals: signalRepo,
		Alerts:  alertRepo,
		Events:  eventRepo,
		Configs: configRepo,
		Nudge:   nudge,
	}, configRepo)
	if err := registry.StartAll(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		registry.StopAll(stopCtx)
	}()

	ticks := venue.StreamMiniTickers(ctx, tradedSymbols())
	go func() {
		if err := executor.StartLoop(ctx, executor.Deps{
			Venue:   venue,
			Signals: signalRepo,
			Keys:    keyRepo,
			Orders:  orderRepo,
			Events:  eventRepo,
			Alerts:  alertRepo,
		}, nudge, ticks); err != nil {
			logger.WithError(err).Error("executor loop exited")
		}
	}()

	fan := fanout.New(fanout.Deps{
		Events:   eventRepo,
		Telegram: telegramRepo,
		Alerts:   alertRepo,
	})
	go func() {
		if err := fan.Run(ctx); err != nil {
			logger.WithError(err).Error("fan-out loop exited")
		}
	}()
	fanout.StartListeners(ctx, telegramRepo, fan.InvalidateSubscribers)

	monitor := health.NewMonitor(health.Deps{
		Venue:   venue,
		Store:   health.NewDatabaseProbe(),
		Workers: registry,
		Events:  eventRepo,
	})
	go func() {
		if err := monitor.Run(ctx); err != nil {
			logger.WithError(err).Error("health monitor exited")
		}
	}()

	return server.Start(ctx, server.Deps{
		Scanners: registry,
		Alerts:   alertRepo,
		Orders:   orderRepo,
		Events:   eventRepo,
		Telegram: telegramRepo,
	})
}

// defaultConfigs seeds one SymbolConfig per asset timeframe. Existing rows
// are left alone, so operator edits survive restarts.
func defaultConfigs() []model.SymbolConfig {
	var out []model.SymbolConfig
	for _, info := range assets.All() {
		for _, def := range info.Defaults {
			out = append(out, model.SymbolConfig{
				Symbol:            info.Symbol,
				Timeframe:         def.Timeframe,
				ScanIntervalSec:   def.ScanIntervalSec,
				CooldownSec:       def.CooldownSec,
				ProfitTarget:      def.ProfitTarget,
				StopLoss:          def.StopLoss,
				MaxHoldMinutes:    def.MaxHoldMinutes,
				MinDepthPct:       0.03,
				RuptureFactorBase: 1.03,
				Enabled:           true,
			})
		}
	}
	return out
}

func tradedSymbols() []string {
	infos := assets.All()
	out := make([]string, 0, len(infos))
	for _, info := range infos {
		out = append(out, info.Symbol)
	}
	return out
}
