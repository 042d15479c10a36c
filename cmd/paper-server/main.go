package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"papertrade/internal/api"
	"papertrade/internal/audit"
	"papertrade/internal/broker"
	"papertrade/internal/config"
	"papertrade/internal/engine"
	"papertrade/internal/marketdata"
	"papertrade/internal/store"
	"papertrade/internal/util"
)

func main() {
	_ = godotenv.Load()

	cfgPath := "config/papertrade.yaml"
	if p := os.Getenv("PAPERTRADE_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("paper-server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	st, err := store.Open(cfg.Storage.SQLitePath)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	cal := util.NewTradingCalendar()
	cal.SetLogger(logger)
	if err := cal.AddHolidays(cfg.Trading.Calendar.ExtraHolidays...); err != nil {
		return fmt.Errorf("calendar.extra_holidays: %w", err)
	}

	var deps api.Deps
	if cfg.Alpaca.Enabled() {
		quotes := marketdata.NewAlpacaQuotes(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.DataURL, cfg.Alpaca.RateLimitPerMin, logger)
		deps.Quotes, deps.Volume = quotes, quotes

		if cfg.Trading.Calendar.SyncFromAlpaca {
			now := time.Now().In(cal.Location())
			client := marketdata.NewCalendarClient(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL)
			res, err := marketdata.SyncCalendar(ctx, client, cal, now.AddDate(0, 0, -30), now.AddDate(0, 0, cfg.Trading.Calendar.SyncLookaheadDays))
			if err != nil {
				logger.Warn("calendar sync failed, using built-in holidays", "error", err)
			} else {
				logger.Info("calendar synced", "holidays_added", res.Holidays, "early_closes_added", res.EarlyCloses)
			}
		}
	} else {
		logger.Info("alpaca credentials not set, orders must carry a quote")
	}

	t := cfg.Trading
	model := broker.NewSlippageModel(broker.SlippageConfig{
		Pessimistic:          t.Slippage.Pessimistic,
		Bps:                  t.Slippage.Bps,
		MinTick:              t.Slippage.MinTick,
		ContractMultiplier:   t.ContractMultiplier,
		LargeOrderQty:        t.Slippage.LargeOrderQty,
		LargeOrderMultiplier: t.Slippage.LargeOrderMultiplier,
		ImpactFactor:         t.Slippage.ImpactFactor,
	})
	pdt := engine.NewPDTLimiter(cal, engine.PDTConfig{
		MaxDayTrades: t.PDT.MaxDayTrades,
		WindowDays:   t.PDT.WindowDays,
	}, nil)
	risk := engine.NewRiskManager(engine.RiskConfig{
		ContractMultiplier: t.ContractMultiplier,
		MaxRiskPerTrade:    t.MaxRiskPerTrade,
		MaxPositions:       t.MaxPositions,
		MaxSingleSymbolPct: t.MaxSingleSymbolPct,
	}, pdt)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	feed := audit.NewFeed(logger)

	eng := engine.NewEngine(st, broker.NewSimulatorBroker(model), risk,
		engine.WithLogger(logger),
		engine.WithFeed(feed),
		engine.WithMetrics(engine.NewMetrics(reg, "papertrade")),
		engine.WithStartingEquity(t.StartingEquity),
	)

	deps.Engine = eng
	deps.Model = model
	deps.Feed = feed
	deps.Gatherer = reg
	deps.Logger = logger

	srv := api.NewServer(cfg, deps)
	logger.Info("paper-server starting",
		"http", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		"grpc_port", cfg.Server.GRPCPort,
		"store", cfg.Storage.SQLitePath,
		"pessimistic", t.Slippage.Pessimistic,
	)
	return srv.ListenAndServe(ctx)
}
